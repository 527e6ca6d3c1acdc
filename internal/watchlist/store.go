// Package watchlist persists curated patent lists keyed by CPC class
// code.
package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/patent-insight/internal/patentdoc"
)

const maxTitleChars = 100

// Entry is one watched patent within a class.
type Entry struct {
	ClassCode string    `db:"class_code" json:"class_code"`
	PatentID  string    `db:"patent_id" json:"patent_id"`
	Title     string    `db:"title" json:"title"`
	Notes     string    `db:"notes" json:"notes"`
	AddedAt   time.Time `json:"added_at"`
}

var (
	ErrDuplicate = errors.New("patent already in watchlist")
	ErrNotFound  = errors.New("patent not in watchlist")
)

const schema = `
CREATE TABLE IF NOT EXISTS watchlist (
	class_code TEXT NOT NULL,
	patent_id  TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	notes      TEXT NOT NULL DEFAULT '',
	added_at   TEXT NOT NULL,
	PRIMARY KEY (class_code, patent_id)
);
`

// Store is a SQLite-backed watchlist. When a TitleSource is configured,
// entries added without a title get one from the registry on a
// best-effort basis.
type Store struct {
	db     *sqlx.DB
	titles patentdoc.Source
}

func NewStore(dbPath string, titles patentdoc.Source) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, titles: titles}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Add inserts a patent into the class watchlist. The identifier is
// normalized first; duplicates within a class are rejected.
func (s *Store) Add(ctx context.Context, classCode, patentID, title, notes string) (Entry, error) {
	id, err := patentdoc.NormalizeIdentifier(patentID)
	if err != nil {
		return Entry{}, err
	}
	classCode = strings.ToUpper(strings.TrimSpace(classCode))
	if classCode == "" {
		return Entry{}, errors.New("class code is required")
	}

	title = strings.TrimSpace(title)
	if title == "" {
		title = s.lookupTitle(ctx, id)
	}
	if len(title) > maxTitleChars {
		title = title[:maxTitleChars]
	}

	e := Entry{ClassCode: classCode, PatentID: id, Title: title, Notes: notes, AddedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO watchlist (class_code, patent_id, title, notes, added_at) VALUES (?, ?, ?, ?, ?)`,
		e.ClassCode, e.PatentID, e.Title, e.Notes, e.AddedAt.Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "constraint failed") {
			return Entry{}, ErrDuplicate
		}
		return Entry{}, fmt.Errorf("insert watchlist entry: %w", err)
	}
	return e, nil
}

func (s *Store) lookupTitle(ctx context.Context, id string) string {
	if s.titles == nil {
		return "Patent filing"
	}
	doc, err := s.titles.Fetch(ctx, id)
	if err != nil {
		return "Patent filing"
	}
	for _, sec := range doc.Sections {
		if sec.Kind == patentdoc.SectionTitle {
			return sec.Text
		}
	}
	return "Patent filing"
}

// Remove deletes a patent from a class watchlist.
func (s *Store) Remove(ctx context.Context, classCode, patentID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist WHERE class_code = ? AND patent_id = ?`,
		strings.ToUpper(strings.TrimSpace(classCode)), patentID)
	if err != nil {
		return fmt.Errorf("delete watchlist entry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Move reassigns a patent to another class, keeping title and notes.
func (s *Store) Move(ctx context.Context, fromClass, toClass, patentID string) error {
	fromClass = strings.ToUpper(strings.TrimSpace(fromClass))
	toClass = strings.ToUpper(strings.TrimSpace(toClass))
	if toClass == "" {
		return errors.New("destination class code is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist SET class_code = ? WHERE class_code = ? AND patent_id = ?`,
		toClass, fromClass, patentID)
	if err != nil {
		if strings.Contains(err.Error(), "constraint failed") {
			return ErrDuplicate
		}
		return fmt.Errorf("move watchlist entry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNotes replaces the notes on an entry.
func (s *Store) UpdateNotes(ctx context.Context, classCode, patentID, notes string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist SET notes = ? WHERE class_code = ? AND patent_id = ?`,
		notes, strings.ToUpper(strings.TrimSpace(classCode)), patentID)
	if err != nil {
		return fmt.Errorf("update watchlist entry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns the entries for one class, oldest first.
func (s *Store) List(ctx context.Context, classCode string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT class_code, patent_id, title, notes, added_at FROM watchlist WHERE class_code = ? ORDER BY added_at, patent_id`,
		strings.ToUpper(strings.TrimSpace(classCode)))
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	return scanEntries(rows)
}

// Classes returns the distinct class codes with at least one entry.
func (s *Store) Classes(ctx context.Context) ([]string, error) {
	var out []string
	if err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT class_code FROM watchlist ORDER BY class_code`); err != nil {
		return nil, fmt.Errorf("query classes: %w", err)
	}
	return out, nil
}

// ImportCSV bulk-adds patents from "id,notes" lines. Invalid identifiers
// and duplicates count as failures rather than aborting the import.
func (s *Store) ImportCSV(ctx context.Context, classCode, csvContent string) (added, failed int) {
	for _, line := range strings.Split(strings.TrimSpace(csvContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		id := strings.TrimSpace(parts[0])
		notes := ""
		if len(parts) > 1 {
			notes = strings.TrimSpace(parts[1])
		}
		if _, err := s.Add(ctx, classCode, id, "", notes); err != nil {
			failed++
			continue
		}
		added++
	}
	return added, failed
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var addedAt string
		if err := rows.Scan(&e.ClassCode, &e.PatentID, &e.Title, &e.Notes, &addedAt); err != nil {
			return nil, err
		}
		e.AddedAt, _ = time.Parse(time.RFC3339Nano, addedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
