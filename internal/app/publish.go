package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/deusflow/linkpost/internal/config"
	"github.com/deusflow/linkpost/internal/retry"
	"github.com/deusflow/linkpost/internal/xclient"
)

var errNoPublisher = errors.New("no publisher configured")

// publish posts into the community first when one is configured and then
// quotes that post on the timeline. A failed community post falls back to
// a plain tweet.
func publish(ctx context.Context, cfg *config.Config, p Publisher, text string, log *slog.Logger) (tweetID, communityPostID string, err error) {
	if p == nil {
		return "", "", errNoPublisher
	}

	rc := retry.RetryConfig{
		MaxAttempts: cfg.RetryAttempts,
		Delay:       cfg.RetryDelay,
		Backoff:     true,
		Retryable:   xclient.Retryable,
	}

	if cfg.CommunityID != "" {
		err := retry.WithRetry(ctx, rc, func() error {
			id, err := p.CreateCommunityTweet(ctx, text, cfg.CommunityID)
			communityPostID = id
			return err
		})
		if err != nil {
			log.Warn("community post failed; fallback to normal tweet", "err", err)
			communityPostID = ""
		} else {
			log.Info("community posted", "id", communityPostID)
		}
	}

	err = retry.WithRetry(ctx, rc, func() error {
		id, err := p.CreateTweet(ctx, text, communityPostID)
		tweetID = id
		return err
	})
	if err != nil {
		return "", communityPostID, err
	}

	if communityPostID != "" {
		log.Info("tweeted", "id", tweetID, "mode", "quote_community")
	} else {
		log.Info("tweeted", "id", tweetID, "mode", "normal")
	}
	return tweetID, communityPostID, nil
}
