package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/linkpost/internal/config"
	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/selector"
	"github.com/deusflow/linkpost/internal/sheets"
	"github.com/deusflow/linkpost/internal/storage"
	"github.com/deusflow/linkpost/internal/xclient"
)

type stubSelector struct {
	result selector.Result
	reqs   []selector.Request
}

func (s *stubSelector) Select(_ context.Context, req selector.Request) selector.Result {
	s.reqs = append(s.reqs, req)
	return s.result
}

type stubPublisher struct {
	communityErr error
	tweetErr     error
	tweets       []string // quote ids
	community    []string
	texts        []string
}

func (p *stubPublisher) CreateTweet(_ context.Context, text, quoteID string) (string, error) {
	p.texts = append(p.texts, text)
	p.tweets = append(p.tweets, quoteID)
	if p.tweetErr != nil {
		return "", p.tweetErr
	}
	return "tweet-1", nil
}

func (p *stubPublisher) CreateCommunityTweet(_ context.Context, _, communityID string) (string, error) {
	p.community = append(p.community, communityID)
	if p.communityErr != nil {
		return "", p.communityErr
	}
	return "comm-1", nil
}

func (p *stubPublisher) Me(context.Context) (xclient.User, error) {
	return xclient.User{ID: "1", Username: "linkbot"}, nil
}

type stubSheets struct {
	entries []sheets.Entry
	marked  []int
}

func (s *stubSheets) Candidates(_ context.Context, want int) ([]sheets.Entry, error) {
	if len(s.entries) > want {
		return s.entries[:want], nil
	}
	return s.entries, nil
}

func (s *stubSheets) MarkPosted(_ context.Context, rows []int) int {
	s.marked = append(s.marked, rows...)
	return len(rows)
}

type stubTimeline struct {
	users []string
	links []string
}

func (s *stubTimeline) RecentLinks(_ context.Context, username string) ([]string, error) {
	s.users = append(s.users, username)
	return s.links, nil
}

var fixedNow = time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AffiliateURL = ""
	cfg.RetryAttempts = 1
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func result(urls ...string) selector.Result {
	var r selector.Result
	for _, u := range urls {
		k, _ := links.Classify(u)
		r.Links = append(r.Links, links.Link{URL: u, Kind: k})
	}
	return r
}

func newDeps(t *testing.T, sel Selector, pub Publisher) Deps {
	t.Helper()
	return Deps{
		State:     storage.NewStateFile(filepath.Join(t.TempDir(), "state.json")),
		Selector:  sel,
		Publisher: pub,
		Now:       func() time.Time { return fixedNow },
	}
}

func TestRun_PostsAndUpdatesState(t *testing.T) {
	sel := &stubSelector{result: result(
		"https://gofile.io/d/a", "https://gofile.io/d/b",
		"https://video.twimg.com/ext_tw_video/1/vid/x.mp4?tag=12",
	)}
	pub := &stubPublisher{}
	deps := newDeps(t, sel, pub)
	cfg := testConfig()

	out, err := Run(context.Background(), cfg, deps)
	require.NoError(t, err)

	assert.True(t, out.Posted())
	assert.Equal(t, "tweet-1", out.TweetID)
	assert.Len(t, out.URLs, 3)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, []string{""}, pub.tweets, "no community configured: plain tweet")
	assert.True(t, strings.HasPrefix(pub.texts[0], "1"))

	require.Len(t, sel.reqs, 1)
	assert.Equal(t, 5, sel.reqs[0].Want)
	assert.Equal(t, 3, sel.reqs[0].MinPost)

	st, err := deps.State.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, st.PostsToday)
	assert.Equal(t, 4, st.LineSeq)
	assert.Len(t, st.PostedURLs, 3)
	assert.Equal(t, "2025-03-01", *st.LastPostDate, "day computed in Tokyo time")
}

func TestRun_SkipsWhenInsufficient(t *testing.T) {
	pub := &stubPublisher{}
	deps := newDeps(t, &stubSelector{}, pub)

	out, err := Run(context.Background(), testConfig(), deps)
	require.NoError(t, err)
	assert.Equal(t, SkipInsufficient, out.SkipReason)
	assert.False(t, out.Posted())
	assert.Empty(t, pub.texts)
}

func TestRun_SkipsAtDailyLimit(t *testing.T) {
	sel := &stubSelector{}
	deps := newDeps(t, sel, &stubPublisher{})
	st := storage.DefaultState()
	today := "2025-03-01"
	st.LastPostDate = &today
	st.PostsToday = 16
	require.NoError(t, deps.State.Save(st))

	out, err := Run(context.Background(), testConfig(), deps)
	require.NoError(t, err)
	assert.Equal(t, SkipDailyLimit, out.SkipReason)
	assert.Empty(t, sel.reqs)
}

func TestRun_SheetFirstThenListing(t *testing.T) {
	sel := &stubSelector{result: result("https://gofile.io/d/c", "https://gofile.io/d/d")}
	sh := &stubSheets{entries: []sheets.Entry{
		{URL: "https://gofile.io/d/s1", Row: 2},
		{URL: "https://gofile.io/d/s2", Row: 4},
		{URL: "https://gofile.io/d/s3", Row: 7},
	}}
	deps := newDeps(t, sel, &stubPublisher{})
	deps.Sheets = sh

	out, err := Run(context.Background(), testConfig(), deps)
	require.NoError(t, err)

	require.Len(t, sel.reqs, 1)
	assert.Equal(t, 2, sel.reqs[0].Want)
	assert.Equal(t, 0, sel.reqs[0].MinPost)
	assert.True(t, sel.reqs[0].AlreadySeen.Has("https://gofile.io/d/s1"), "sheet links are not scraped again")

	assert.Equal(t, []string{
		"https://gofile.io/d/s1", "https://gofile.io/d/s2", "https://gofile.io/d/s3",
		"https://gofile.io/d/c", "https://gofile.io/d/d",
	}, out.URLs)
	assert.Equal(t, []int{2, 4, 7}, sh.marked)
}

func TestRun_SheetAloneSkipsListing(t *testing.T) {
	sel := &stubSelector{}
	sh := &stubSheets{}
	for i := 0; i < 6; i++ {
		sh.entries = append(sh.entries, sheets.Entry{URL: "https://gofile.io/d/s" + string(rune('a'+i)), Row: i + 2})
	}
	deps := newDeps(t, sel, &stubPublisher{})
	deps.Sheets = sh

	out, err := Run(context.Background(), testConfig(), deps)
	require.NoError(t, err)
	assert.Empty(t, sel.reqs)
	assert.Len(t, out.URLs, 5)
	assert.Len(t, sh.marked, 5)
}

func TestRun_CommunityThenQuote(t *testing.T) {
	sel := &stubSelector{result: result("https://gofile.io/d/a", "https://gofile.io/d/b", "https://gofile.io/d/c")}
	pub := &stubPublisher{}
	cfg := testConfig()
	cfg.CommunityID = "999"

	out, err := Run(context.Background(), cfg, newDeps(t, sel, pub))
	require.NoError(t, err)
	assert.Equal(t, []string{"999"}, pub.community)
	assert.Equal(t, []string{"comm-1"}, pub.tweets)
	assert.Equal(t, "comm-1", out.CommunityID)
}

func TestRun_CommunityFailureFallsBack(t *testing.T) {
	sel := &stubSelector{result: result("https://gofile.io/d/a", "https://gofile.io/d/b", "https://gofile.io/d/c")}
	pub := &stubPublisher{communityErr: &xclient.APIError{Status: 403}}
	cfg := testConfig()
	cfg.CommunityID = "999"

	out, err := Run(context.Background(), cfg, newDeps(t, sel, pub))
	require.NoError(t, err)
	assert.Equal(t, []string{""}, pub.tweets)
	assert.Empty(t, out.CommunityID)
	assert.True(t, out.Posted())
}

func TestRun_PublishFailureLeavesStateUntouched(t *testing.T) {
	sel := &stubSelector{result: result("https://gofile.io/d/a", "https://gofile.io/d/b", "https://gofile.io/d/c")}
	pub := &stubPublisher{tweetErr: &xclient.APIError{Status: http.StatusServiceUnavailable}}
	deps := newDeps(t, sel, pub)
	cfg := testConfig()
	cfg.RetryAttempts = 2

	_, err := Run(context.Background(), cfg, deps)
	require.Error(t, err)
	assert.Len(t, pub.texts, 2, "server errors are retried")

	st, err := deps.State.Load()
	require.NoError(t, err)
	assert.Zero(t, st.PostsToday)
	assert.Empty(t, st.PostedURLs)
}

func TestRun_TimedOutTweetIsNotResent(t *testing.T) {
	sel := &stubSelector{result: result("https://gofile.io/d/a", "https://gofile.io/d/b", "https://gofile.io/d/c")}
	pub := &stubPublisher{tweetErr: fmt.Errorf("error HTTP request: %w", context.DeadlineExceeded)}
	cfg := testConfig()
	cfg.RetryAttempts = 2

	_, err := Run(context.Background(), cfg, newDeps(t, sel, pub))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, pub.texts, 1, "a timed out post may already be live")
}

func TestRun_TimedOutCommunityPostIsNotResent(t *testing.T) {
	sel := &stubSelector{result: result("https://gofile.io/d/a", "https://gofile.io/d/b", "https://gofile.io/d/c")}
	pub := &stubPublisher{communityErr: fmt.Errorf("error read response: %w", errors.New("unexpected EOF"))}
	cfg := testConfig()
	cfg.RetryAttempts = 3
	cfg.CommunityID = "999"

	out, err := Run(context.Background(), cfg, newDeps(t, sel, pub))
	require.NoError(t, err)
	assert.Len(t, pub.community, 1)
	assert.Equal(t, []string{""}, pub.tweets, "falls back to a plain tweet")
	assert.True(t, out.Posted())
}

func TestRun_TimelineLinksJoinSeenSet(t *testing.T) {
	sel := &stubSelector{}
	tl := &stubTimeline{links: []string{"https://gofile.io/d/tl"}}
	deps := newDeps(t, sel, &stubPublisher{})
	deps.Timeline = tl
	cfg := testConfig()
	cfg.UseTimeline = true

	_, err := Run(context.Background(), cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"linkbot"}, tl.users)
	require.Len(t, sel.reqs, 1)
	assert.True(t, sel.reqs[0].AlreadySeen.Has("https://gofile.io/d/tl"))
}

func TestCollect_UsesStateSeenSet(t *testing.T) {
	sel := &stubSelector{result: result("https://gofile.io/d/z")}
	deps := newDeps(t, sel, nil)
	st := storage.DefaultState()
	st.PostedURLs = []string{"https://gofile.io/d/old"}
	require.NoError(t, deps.State.Save(st))

	res, err := Collect(context.Background(), testConfig(), deps)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://gofile.io/d/z"}, res.URLs())
	assert.True(t, sel.reqs[0].AlreadySeen.Has("https://gofile.io/d/old"))
}

func TestRun_HistoryFeedsSeenSetAndRecordsPost(t *testing.T) {
	ctx := context.Background()
	hist, err := storage.NewSQLiteHistory(ctx, filepath.Join(t.TempDir(), "history.db"), 0, nil)
	require.NoError(t, err)
	defer hist.Close()
	require.NoError(t, hist.Record(ctx, []string{"https://gofile.io/d/earlier"}, "old-run"))

	sel := &stubSelector{result: result(
		"https://gofile.io/d/a", "https://gofile.io/d/b", "https://gofile.io/d/c",
	)}
	deps := newDeps(t, sel, &stubPublisher{})
	deps.History = hist

	out, err := Run(ctx, testConfig(), deps)
	require.NoError(t, err)
	require.True(t, out.Posted())
	assert.True(t, sel.reqs[0].AlreadySeen.Has("https://gofile.io/d/earlier"))

	seen, err := hist.Seen(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"https://gofile.io/d/earlier",
		"https://gofile.io/d/a", "https://gofile.io/d/b", "https://gofile.io/d/c",
	}, seen)

	recent, err := hist.Recent(ctx, 10)
	require.NoError(t, err)
	runIDs := map[string]bool{}
	for _, r := range recent {
		runIDs[r.RunID] = true
	}
	assert.True(t, runIDs[out.RunID])
}
