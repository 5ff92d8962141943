package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/deusflow/linkpost/internal/links"
	"github.com/deusflow/linkpost/internal/selector"
)

// RecentEntry is a link posted within the recent window.
type RecentEntry struct {
	URL string `json:"url"`
	TS  string `json:"ts"`
}

// State is the persisted bot state. The JSON shape is shared with older
// deployments, including the historical recent_urls_24h key.
type State struct {
	PostedURLs   []string      `json:"posted_urls"`
	LastPostDate *string       `json:"last_post_date"`
	PostsToday   int           `json:"posts_today"`
	RecentURLs   []RecentEntry `json:"recent_urls_24h"`
	LineSeq      int           `json:"line_seq"`
}

// DefaultState is the state of a fresh deployment.
func DefaultState() *State {
	return &State{
		PostedURLs: []string{},
		RecentURLs: []RecentEntry{},
		LineSeq:    1,
	}
}

// StateFile persists State as indented JSON.
type StateFile struct {
	path string
	mu   sync.Mutex
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

func (sf *StateFile) Path() string { return sf.path }

// Load reads the state. A missing or unreadable file yields the default
// state; missing keys are filled with defaults.
func (sf *StateFile) Load() (*State, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	data, err := os.ReadFile(sf.path)
	if os.IsNotExist(err) {
		return DefaultState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	// Decode into a map first so absent keys can be told apart from zero values.
	var raw map[string]json.RawMessage
	if len(data) == 0 || json.Unmarshal(data, &raw) != nil {
		return DefaultState(), nil
	}

	st := DefaultState()
	decode := func(key string, dst any) {
		if v, ok := raw[key]; ok {
			_ = json.Unmarshal(v, dst)
		}
	}
	decode("posted_urls", &st.PostedURLs)
	decode("last_post_date", &st.LastPostDate)
	decode("posts_today", &st.PostsToday)
	decode("recent_urls_24h", &st.RecentURLs)
	decode("line_seq", &st.LineSeq)

	if st.PostedURLs == nil {
		st.PostedURLs = []string{}
	}
	if st.RecentURLs == nil {
		st.RecentURLs = []RecentEntry{}
	}
	return st, nil
}

// Save writes the state, replacing the file atomically.
func (sf *StateFile) Save(st *State) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := sf.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, sf.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// PurgeRecent drops recent entries older than window, and entries whose
// timestamp cannot be parsed.
func (s *State) PurgeRecent(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	kept := s.RecentURLs[:0]
	for _, e := range s.RecentURLs {
		ts, err := parseTS(e.TS)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	dropped := len(s.RecentURLs) - len(kept)
	s.RecentURLs = kept
	return dropped
}

// ResetIfNewDay zeroes the daily counter when the local calendar date
// differs from the last post date.
func (s *State) ResetIfNewDay(nowLocal time.Time) bool {
	today := nowLocal.Format(time.DateOnly)
	if s.LastPostDate != nil && *s.LastPostDate == today {
		return false
	}
	s.LastPostDate = &today
	s.PostsToday = 0
	return true
}

// SeenSet returns every posted and recent link, normalized.
func (s *State) SeenSet() selector.SeenSet {
	seen := make(selector.SeenSet, len(s.PostedURLs)+len(s.RecentURLs))
	for _, u := range s.PostedURLs {
		seen.Add(u)
	}
	for _, e := range s.RecentURLs {
		seen.Add(e.URL)
	}
	return seen
}

// RecordPosted appends a completed post: unique urls to the posted list,
// each url to the recent list, one to the daily counter and len(urls) to
// the line sequence.
func (s *State) RecordPosted(urls []string, now time.Time) {
	posted := make(map[string]struct{}, len(s.PostedURLs))
	for _, u := range s.PostedURLs {
		posted[u] = struct{}{}
	}

	ts := now.UTC().Format(time.RFC3339Nano)
	for _, u := range urls {
		if _, ok := posted[u]; !ok {
			s.PostedURLs = append(s.PostedURLs, u)
			posted[u] = struct{}{}
		}
		s.RecentURLs = append(s.RecentURLs, RecentEntry{URL: u, TS: ts})
	}
	s.PostsToday++
	s.LineSeq += len(urls)
}

// Stats summarizes the state for the state command and the health endpoint.
func (s *State) Stats() map[string]int {
	primary := 0
	for _, u := range s.PostedURLs {
		if k, ok := links.Classify(u); ok && k == links.Primary {
			primary++
		}
	}
	return map[string]int{
		"posted_total":  len(s.PostedURLs),
		"posted_gofile": primary,
		"recent":        len(s.RecentURLs),
		"posts_today":   s.PostsToday,
		"next_line_seq": s.LineSeq,
	}
}

func parseTS(v string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", v)
}
