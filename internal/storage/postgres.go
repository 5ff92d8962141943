package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/deusflow/linkpost/internal/links"
)

// PostedLink is one row of the posted_links table.
type PostedLink struct {
	URL      string
	Kind     string
	RunID    string
	PostedAt time.Time
}

// PostgresHistory keeps posted links in PostgreSQL so several deployments
// can share one history.
type PostgresHistory struct {
	db        *sql.DB
	retention time.Duration
	logger    *slog.Logger
}

// NewPostgresHistory connects, pings and creates the schema. A zero
// retention keeps links forever.
func NewPostgresHistory(ctx context.Context, connectionString string, retention time.Duration, logger *slog.Logger) (*PostgresHistory, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	h := &PostgresHistory{db: db, retention: retention, logger: logger}

	if err := h.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("postgres history connected")
	return h, nil
}

func (h *PostgresHistory) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS posted_links (
		id SERIAL PRIMARY KEY,
		url TEXT UNIQUE NOT NULL,
		kind VARCHAR(16) NOT NULL,
		run_id VARCHAR(64),
		posted_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_posted_links_posted_at ON posted_links(posted_at);
	`

	if _, err := h.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Seen returns every link inside the retention window.
func (h *PostgresHistory) Seen(ctx context.Context) ([]string, error) {
	query := `SELECT url FROM posted_links`
	var args []any
	if h.retention > 0 {
		query += ` WHERE posted_at > $1`
		args = append(args, time.Now().Add(-h.retention))
	}

	rows, err := h.db.QueryContext(ctx, query, args...)
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

// Record stores urls in one transaction. Re-posting a link refreshes its
// timestamp.
func (h *PostgresHistory) Record(ctx context.Context, urls []string, runID string) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO posted_links (url, kind, run_id, posted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (url) DO UPDATE SET posted_at = NOW(), run_id = EXCLUDED.run_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range urls {
		n := links.Normalize(u)
		if n == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, n, kindLabel(n), runID); err != nil {
			return fmt.Errorf("failed to record %s: %w", n, err)
		}
	}
	return tx.Commit()
}

// Cleanup deletes links older than the retention window.
func (h *PostgresHistory) Cleanup(ctx context.Context) (int64, error) {
	if h.retention <= 0 {
		return 0, nil
	}
	res, err := h.db.ExecContext(ctx, `DELETE FROM posted_links WHERE posted_at < $1`, time.Now().Add(-h.retention))
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
func (h *PostgresHistory) Recent(ctx context.Context, limit int) ([]PostedLink, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := h.db.QueryContext(ctx, `
		SELECT url, kind, COALESCE(run_id, ''), posted_at
		FROM posted_links
		ORDER BY posted_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PostedLink
	for rows.Next() {
		var item PostedLink
		if err := rows.Scan(&item.URL, &item.Kind, &item.RunID, &item.PostedAt); err != nil {
			h.logger.Warn("error scanning posted link", "err", err)
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (h *PostgresHistory) Close() error {
	if h.db != nil {
		return h.db.Close()
	}
	return nil
}

var _ History = (*PostgresHistory)(nil)

func kindLabel(u string) string {
	if k, ok := links.Classify(u); ok {
		return k.String()
	}
	return "other"
}
