// Package store provides SQLite-backed persistence for Voton pages.
// This is the browser-resident data layer that replaces IndexedDB.
package store

import "context"

// Page is the sole persisted entity: one note in the workspace tree.
//
// Optional attributes are pointers so that "absent" and "explicitly empty"
// survive a round trip through the table and through export files.
type Page struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	ParentDocument *string `json:"parentDocument,omitempty"`
	Content        *string `json:"content,omitempty"`
	CoverImage     *string `json:"coverImage,omitempty"`
	Icon           *string `json:"icon,omitempty"`
}

// IsRoot reports whether the page has no parent reference.
// A parent reference to a missing page does not make a page a root.
func (p *Page) IsRoot() bool {
	return p.ParentDocument == nil
}

// Parent returns the parent id, or "" for a root page.
func (p *Page) Parent() string {
	if p.ParentDocument == nil {
		return ""
	}
	return *p.ParentDocument
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	if p == nil {
		return nil
	}
	c := &Page{ID: p.ID, Title: p.Title}
	c.ParentDocument = cloneString(p.ParentDocument)
	c.Content = cloneString(p.Content)
	c.CoverImage = cloneString(p.CoverImage)
	c.Icon = cloneString(p.Icon)
	return c
}

// String returns a pointer to s, for populating optional page fields.
func String(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// PageStore defines the primitive operations of the storage engine.
// SQLiteStore is the production implementation.
//
// Every method runs in its own implicit transaction, except InsertAll and
// Replace which write many records atomically.
type PageStore interface {
	// Point lookup. Returns nil, nil when the key is absent.
	Get(ctx context.Context, id string) (*Page, error)
	// Full table scan in key order.
	All(ctx context.Context) ([]*Page, error)
	// Index lookups.
	ByParent(ctx context.Context, parentID string) ([]*Page, error)
	ByTitle(ctx context.Context, title string) ([]*Page, error)
	Count(ctx context.Context) (int, error)

	// Insert fails with ErrDuplicateID when the key already exists.
	Insert(ctx context.Context, page *Page) error
	// Put inserts or overwrites.
	Put(ctx context.Context, page *Page) error
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id string) (bool, error)

	Clear(ctx context.Context) error
	InsertAll(ctx context.Context, pages []*Page) error
	// Replace clears the table and inserts pages in one transaction.
	Replace(ctx context.Context, pages []*Page) error

	Close() error
}
