package storage

import "context"

// History is an additional store of posted links, unioned into the seen
// set alongside the state file.
type History interface {
	Seen(ctx context.Context) ([]string, error)
	Record(ctx context.Context, urls []string, runID string) error
	// Recent returns the latest links, newest first.
	Recent(ctx context.Context, limit int) ([]PostedLink, error)
	// Cleanup drops links older than the retention window.
	Cleanup(ctx context.Context) (int64, error)
	Close() error
}
