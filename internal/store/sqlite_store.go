// Package store provides SQLite-backed persistence for Voton.
// Uses ncruces/go-sqlite3/driver which provides a database/sql interface.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// SchemaVersion is the on-disk schema version recorded in PRAGMA user_version.
const SchemaVersion = 1

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

// SQLiteStore is the SQLite-backed page table.
// Thread-safe for concurrent WASM callbacks.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// schema defines the pages table and its two non-unique secondary indexes.
// WITHOUT ROWID keeps full scans in key order.
const schema = `
CREATE TABLE IF NOT EXISTS pages (
    id TEXT NOT NULL PRIMARY KEY,
    title TEXT NOT NULL,
    parent_document TEXT,
    content TEXT,
    cover_image TEXT,
    icon TEXT
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_pages_parent_document ON pages(parent_document);
CREATE INDEX IF NOT EXISTS idx_pages_title ON pages(title);
`

const pageColumns = `id, title, parent_document, content, cover_image, icon`

// NewSQLiteStore creates a new in-memory SQLite store.
func NewSQLiteStore(ctx context.Context) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDSN(ctx, MemoryDSN)
}

// NewSQLiteStoreWithDSN creates a store with a specific data source name.
// Use ":memory:" for in-memory or a file path / file: URI for persistent storage.
func NewSQLiteStoreWithDSN(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if ctx == nil {
		return nil, errors.New("open store: context is nil")
	}
	if dsn == "" {
		return nil, fmt.Errorf("open store: %w: dsn is empty", ErrStorageUnavailable)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w: %w", ErrStorageUnavailable, err)
	}

	// One connection: an in-memory database lives and dies with its connection,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store: %w: %w", ErrStorageUnavailable, err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store: %w: %w", ErrStorageUnavailable, err)
	}

	return &SQLiteStore{db: db}, nil
}

// migrate creates the schema on first use. There is no path beyond version 1.
func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case version == SchemaVersion:
		return nil
	case version > SchemaVersion:
		return fmt.Errorf("schema version %d is newer than supported version %d", version, SchemaVersion)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}

	return tx.Commit()
}

// Version returns the schema version recorded in the database.
func (s *SQLiteStore) Version(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version)
	return version, classify("schema version", err)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// Reads
// =============================================================================

// Get retrieves a page by ID. Returns nil, nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM pages WHERE id = ?`, id)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get page", err)
	}
	return page, nil
}

// All returns every page in key order.
func (s *SQLiteStore) All(ctx context.Context) ([]*Page, error) {
	return s.query(ctx, "list pages", `SELECT `+pageColumns+` FROM pages ORDER BY id`)
}

// ByParent returns the pages whose parent_document equals parentID.
func (s *SQLiteStore) ByParent(ctx context.Context, parentID string) ([]*Page, error) {
	return s.query(ctx, "list children",
		`SELECT `+pageColumns+` FROM pages WHERE parent_document = ? ORDER BY id`, parentID)
}

// ByTitle returns the pages with exactly this title.
func (s *SQLiteStore) ByTitle(ctx context.Context, title string) ([]*Page, error) {
	return s.query(ctx, "list by title",
		`SELECT `+pageColumns+` FROM pages WHERE title = ? ORDER BY id`, title)
}

// Count returns the total number of pages.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages").Scan(&count)
	return count, classify("count pages", err)
}

func (s *SQLiteStore) query(ctx context.Context, op, query string, args ...any) ([]*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	pages := []*Page{}
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		pages = append(pages, page)
	}

	return pages, classify(op, rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(row scanner) (*Page, error) {
	var page Page
	var parent, content, cover, icon sql.NullString

	if err := row.Scan(&page.ID, &page.Title, &parent, &content, &cover, &icon); err != nil {
		return nil, err
	}

	page.ParentDocument = fromNull(parent)
	page.Content = fromNull(content)
	page.CoverImage = fromNull(cover)
	page.Icon = fromNull(icon)
	return &page, nil
}

// =============================================================================
// Writes
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPage(ctx context.Context, db execer, page *Page) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, page.ID, page.Title, toNull(page.ParentDocument), toNull(page.Content),
		toNull(page.CoverImage), toNull(page.Icon))
	return err
}

// Insert adds a page, failing with ErrDuplicateID if the id is taken.
func (s *SQLiteStore) Insert(ctx context.Context, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return classify("insert page "+page.ID, insertPage(ctx, s.db, page))
}

// Put inserts or replaces a page.
func (s *SQLiteStore) Put(ctx context.Context, page *Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (`+pageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			parent_document = excluded.parent_document,
			content = excluded.content,
			cover_image = excluded.cover_image,
			icon = excluded.icon
	`, page.ID, page.Title, toNull(page.ParentDocument), toNull(page.Content),
		toNull(page.CoverImage), toNull(page.Icon))

	return classify("put page "+page.ID, err)
}

// Delete removes a page by ID and reports whether it existed.
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM pages WHERE id = ?", id)
	if err != nil {
		return false, classify("delete page "+id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("delete page "+id, err)
	}
	return n > 0, nil
}

// Clear removes every page in one transaction.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.inTx(ctx, "clear pages", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM pages")
		return err
	})
}

// InsertAll adds every page in one transaction. Nothing is written if any
// insert fails.
func (s *SQLiteStore) InsertAll(ctx context.Context, pages []*Page) error {
	return s.inTx(ctx, "insert pages", func(tx *sql.Tx) error {
		for _, p := range pages {
			if err := insertPage(ctx, tx, p); err != nil {
				return fmt.Errorf("page %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

// Replace empties the table and inserts pages in the same transaction.
// On failure the previous contents are kept.
func (s *SQLiteStore) Replace(ctx context.Context, pages []*Page) error {
	return s.inTx(ctx, "replace pages", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM pages"); err != nil {
			return err
		}
		for _, p := range pages {
			if err := insertPage(ctx, tx, p); err != nil {
				return fmt.Errorf("page %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return classify(op, err)
	}

	return classify(op, tx.Commit())
}

// =============================================================================
// Helpers
// =============================================================================

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

// Compile-time interface check
var _ PageStore = (*SQLiteStore)(nil)
