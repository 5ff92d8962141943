package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateFile_MissingFileYieldsDefaults(t *testing.T) {
	sf := NewStateFile(filepath.Join(t.TempDir(), "state.json"))

	st, err := sf.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)
	assert.Equal(t, 1, st.LineSeq)
}

func TestStateFile_CorruptFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	st, err := NewStateFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)
}

func TestStateFile_FillsMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"posted_urls": ["https://gofile.io/d/a"], "posts_today": 4}`), 0644))

	st, err := NewStateFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://gofile.io/d/a"}, st.PostedURLs)
	assert.Equal(t, 4, st.PostsToday)
	assert.Equal(t, 1, st.LineSeq)
	assert.Nil(t, st.LastPostDate)
	assert.NotNil(t, st.RecentURLs)
}

func TestStateFile_SaveLoadKeepsShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sf := NewStateFile(path)

	st := DefaultState()
	st.RecordPosted([]string{"https://gofile.io/d/a", "https://gofile.io/d/b"}, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, sf.Save(st))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"posted_urls"`, `"last_post_date"`, `"posts_today"`, `"recent_urls_24h"`, `"line_seq"`, `"ts"`} {
		assert.Contains(t, string(data), key)
	}

	loaded, err := sf.Load()
	require.NoError(t, err)
	assert.Equal(t, st, loaded)
}

func TestState_PurgeRecent(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := DefaultState()
	st.RecentURLs = []RecentEntry{
		{URL: "https://gofile.io/d/old", TS: now.Add(-13 * time.Hour).Format(time.RFC3339Nano)},
		{URL: "https://gofile.io/d/new", TS: now.Add(-time.Hour).Format(time.RFC3339Nano)},
		{URL: "https://gofile.io/d/naive", TS: "2025-03-01T11:30:00.000001"},
		{URL: "https://gofile.io/d/bad", TS: "yesterday"},
	}

	dropped := st.PurgeRecent(now, 12*time.Hour)

	assert.Equal(t, 2, dropped)
	require.Len(t, st.RecentURLs, 2)
	assert.Equal(t, "https://gofile.io/d/new", st.RecentURLs[0].URL)
	assert.Equal(t, "https://gofile.io/d/naive", st.RecentURLs[1].URL)
}

func TestState_ResetIfNewDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	st := DefaultState()
	st.PostsToday = 7
	day := "2025-03-01"
	st.LastPostDate = &day

	assert.False(t, st.ResetIfNewDay(time.Date(2025, 3, 1, 23, 59, 0, 0, tokyo)))
	assert.Equal(t, 7, st.PostsToday)

	// 15:30 UTC on the 1st is already the 2nd in Tokyo.
	assert.True(t, st.ResetIfNewDay(time.Date(2025, 3, 1, 15, 30, 0, 0, time.UTC).In(tokyo)))
	assert.Zero(t, st.PostsToday)
	assert.Equal(t, "2025-03-02", *st.LastPostDate)
}

func TestState_SeenSetAndRecordPosted(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	st := DefaultState()
	st.PostedURLs = []string{"http://gofile.io/d/a/"}
	st.RecentURLs = []RecentEntry{{URL: "https://gofile.io/d/r", TS: now.Format(time.RFC3339Nano)}}
	st.LineSeq = 10

	seen := st.SeenSet()
	assert.True(t, seen.Has("https://gofile.io/d/a"))
	assert.True(t, seen.Has("https://gofile.io/d/r"))

	st.RecordPosted([]string{"http://gofile.io/d/a/", "https://gofile.io/d/b"}, now)

	assert.Equal(t, []string{"http://gofile.io/d/a/", "https://gofile.io/d/b"}, st.PostedURLs)
	assert.Len(t, st.RecentURLs, 3)
	assert.Equal(t, 1, st.PostsToday)
	assert.Equal(t, 12, st.LineSeq)

	stats := st.Stats()
	assert.Equal(t, 2, stats["posted_total"])
	assert.Equal(t, 12, stats["next_line_seq"])
}
