// Package xclient posts to the X API v2 with OAuth 1.0a user context.
package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dghubble/oauth1"
)

const DefaultBaseURL = "https://api.twitter.com"

type Credentials struct {
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string
}

func (c Credentials) Complete() bool {
	return c.APIKey != "" && c.APISecret != "" && c.AccessToken != "" && c.AccessSecret != ""
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("x api error: status %d: %s", e.Status, e.Body)
}

// Retryable reports whether a failed call can be repeated safely: the
// server answered 5xx, or the request never left this host (DNS or dial
// failure). Timeouts and broken responses are final because X may already
// have accepted the post.
func Retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

type Option func(*Client)

// WithBaseURL points the client at another API origin.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New returns a client that signs every request with creds.
func New(creds Credentials, opts ...Option) *Client {
	config := oauth1.NewConfig(creds.APIKey, creds.APISecret)
	token := oauth1.NewToken(creds.AccessToken, creds.AccessSecret)

	httpClient := config.Client(oauth1.NoContext, token)
	httpClient.Timeout = 30 * time.Second

	c := &Client{baseURL: DefaultBaseURL, http: httpClient, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createTweetRequest struct {
	Text         string `json:"text"`
	QuoteTweetID string `json:"quote_tweet_id,omitempty"`
	CommunityID  string `json:"community_id,omitempty"`
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type tweet struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// CreateTweet posts text, quoting quoteID when it is set, and returns the
// new tweet id.
func (c *Client) CreateTweet(ctx context.Context, text, quoteID string) (string, error) {
	return c.createTweet(ctx, createTweetRequest{Text: text, QuoteTweetID: quoteID})
}

// CreateCommunityTweet posts text into a community.
func (c *Client) CreateCommunityTweet(ctx context.Context, text, communityID string) (string, error) {
	return c.createTweet(ctx, createTweetRequest{Text: text, CommunityID: communityID})
}

func (c *Client) createTweet(ctx context.Context, payload createTweetRequest) (string, error) {
	var out dataEnvelope[tweet]
	if err := c.do(ctx, http.MethodPost, "/2/tweets", payload, &out); err != nil {
		return "", err
	}
	if out.Data.ID == "" {
		return "", errors.New("x api: response without tweet id")
	}
	return out.Data.ID, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out dataEnvelope[User]
	if err := c.do(ctx, http.MethodGet, "/2/users/me", nil, &out); err != nil {
		return User{}, err
	}
	return out.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("error make JSON: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("error HTTP request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("failed to close response body", "err", err)
		}
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("error read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error decode response: %w", err)
	}
	return nil
}
