package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deusflow/linkpost/internal/links"
)

// SQLiteHistory keeps posted links in a local SQLite file. It needs no
// server, so single-host deployments get history beyond the state file's
// recent window.
type SQLiteHistory struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSQLiteHistory opens (creating if needed) the database at path. A zero
// retention keeps links forever.
func NewSQLiteHistory(ctx context.Context, path string, retention time.Duration, logger *slog.Logger) (*SQLiteHistory, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = slog.Default()
	}
	h := &SQLiteHistory{db: db, retention: retention, logger: logger, now: time.Now}

	if err := h.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return h, nil
}

func (h *SQLiteHistory) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS posted_links (
		url TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		run_id TEXT,
		posted_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posted_links_posted_at ON posted_links(posted_at);
	`
	_, err := h.db.ExecContext(ctx, schema)
	return err
}

// Seen returns every link inside the retention window.
func (h *SQLiteHistory) Seen(ctx context.Context) ([]string, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT url FROM posted_links WHERE posted_at > ?`, h.cutoff())
	if err != nil {
		return nil, fmt.Errorf("failed to query posted links: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan posted link: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Record stores urls in one transaction.
func (h *SQLiteHistory) Record(ctx context.Context, urls []string, runID string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posted_links (url, kind, run_id, posted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			posted_at = excluded.posted_at,
			run_id = excluded.run_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	ts := h.now().Unix()
	for _, u := range urls {
		n := links.Normalize(u)
		if n == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, n, kindLabel(n), runID, ts); err != nil {
			return fmt.Errorf("failed to record %s: %w", n, err)
		}
	}
	return tx.Commit()
}

// Cleanup deletes links older than the retention window.
func (h *SQLiteHistory) Cleanup(ctx context.Context) (int64, error) {
	if h.retention <= 0 {
		return 0, nil
	}
	res, err := h.db.ExecContext(ctx, `DELETE FROM posted_links WHERE posted_at <= ?`, h.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		h.logger.Info("cleaned up posted links", "rows", n)
	}
	return n, nil
}

// Recent returns the latest posted links, newest first.
func (h *SQLiteHistory) Recent(ctx context.Context, limit int) ([]PostedLink, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT url, kind, COALESCE(run_id, ''), posted_at
		FROM posted_links
		ORDER BY posted_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PostedLink
	for rows.Next() {
		var (
			item PostedLink
			ts   int64
		)
		if err := rows.Scan(&item.URL, &item.Kind, &item.RunID, &ts); err != nil {
			h.logger.Warn("error scanning posted link", "err", err)
			continue
		}
		item.PostedAt = time.Unix(ts, 0).UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

func (h *SQLiteHistory) Close() error {
	return h.db.Close()
}

// cutoff is the oldest unix second still inside the retention window.
func (h *SQLiteHistory) cutoff() int64 {
	if h.retention <= 0 {
		return 0
	}
	return h.now().Add(-h.retention).Unix()
}

var _ History = (*SQLiteHistory)(nil)
