// Package sheets reads candidate links from a Google spreadsheet and marks
// the rows it used.
//
// Layout: row 1 is a header, column B holds the URL and column E is empty
// until the link has been posted.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/deusflow/linkpost/internal/links"
)

// PostedMark is written into column E of used rows.
const PostedMark = "ポスト済み"

const (
	urlColumn    = 1 // B
	statusColumn = 4 // E
)

var ErrNotConfigured = errors.New("sheets: credentials or sheet URL not set")

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Entry is a candidate link and its 1-based row number.
type Entry struct {
	URL string
	Row int
}

type Config struct {
	CredentialsJSON string
	SheetURL        string
	// SheetName selects the worksheet; empty means the first one.
	SheetName string
}

func (c Config) Enabled() bool {
	return c.CredentialsJSON != "" && c.SheetURL != ""
}

// Source is bound to one worksheet. Construct it once per run and pass it
// to whoever needs it.
type Source struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

// New builds a Source. Extra client options are appended after the
// service account credentials, so tests can replace endpoint and client.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Source, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}
	id, err := SpreadsheetID(cfg.SheetURL)
	if err != nil {
		return nil, err
	}

	clientOpts := append([]option.ClientOption{
		option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)),
		option.WithScopes(sheets.SpreadsheetsScope),
	}, opts...)
	svc, err := sheets.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		svc:           svc,
		spreadsheetID: id,
		sheetName:     strings.TrimSpace(cfg.SheetName),
		logger:        logger,
	}, nil
}

// SpreadsheetID extracts the document id from a spreadsheet URL.
func SpreadsheetID(sheetURL string) (string, error) {
	m := spreadsheetIDPattern.FindStringSubmatch(sheetURL)
	if m == nil {
		return "", fmt.Errorf("sheets: no spreadsheet id in %q", sheetURL)
	}
	return m[1], nil
}

// Candidates returns up to want unposted rows, top to bottom.
func (s *Source) Candidates(ctx context.Context, want int) ([]Entry, error) {
	if want <= 0 {
		return nil, nil
	}
	title, err := s.worksheet(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, a1(title, "A:E")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read values: %w", err)
	}

	var entries []Entry
	for i, row := range resp.Values {
		if i == 0 {
			continue
		}
		u := cell(row, urlColumn)
		if u == "" || cell(row, statusColumn) != "" {
			continue
		}
		entries = append(entries, Entry{URL: links.Normalize(u), Row: i + 1})
		if len(entries) >= want {
			break
		}
	}

	s.logger.Info("sheet candidate urls", "count", len(entries), "worksheet", title)
	return entries, nil
}

// MarkPosted writes PostedMark into column E of each row. A failed row is
// logged and skipped; the number of rows marked is returned.
func (s *Source) MarkPosted(ctx context.Context, rows []int) int {
	if len(rows) == 0 {
		return 0
	}
	title, err := s.worksheet(ctx)
	if err != nil {
		s.logger.Warn("sheet mark skipped", "err", err)
		return 0
	}

	marked := 0
	for _, r := range rows {
		vr := &sheets.ValueRange{Values: [][]interface{}{{PostedMark}}}
		_, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, a1(title, fmt.Sprintf("E%d", r)), vr).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			s.logger.Warn("sheet update failed", "row", r, "err", err)
			continue
		}
		marked++
	}
	return marked
}

// worksheet resolves the configured name, or the first sheet's title.
func (s *Source) worksheet(ctx context.Context) (string, error) {
	if s.sheetName != "" {
		return s.sheetName, nil
	}
	doc, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sheets: read spreadsheet: %w", err)
	}
	if len(doc.Sheets) == 0 || doc.Sheets[0].Properties == nil {
		return "", errors.New("sheets: spreadsheet has no worksheets")
	}
	s.sheetName = doc.Sheets[0].Properties.Title
	return s.sheetName, nil
}

func a1(sheet, rng string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + rng
}

func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	v, ok := row[i].(string)
	if !ok {
		return strings.TrimSpace(fmt.Sprint(row[i]))
	}
	return strings.TrimSpace(v)
}
