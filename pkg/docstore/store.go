// Package docstore keeps the pages the user has open in memory.
// Pages are loaded on open, then refreshed from the repository whenever the
// bus reports a change. Pages that disappear are dropped.
package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/pkg/events"
	"github.com/kittclouds/voton/pkg/pages"
)

// Document is an open page held in memory.
type Document struct {
	Page    *store.Page
	Version int64 // bumped on every refresh that changed the page
}

// Store holds open documents.
// Thread-safe for concurrent access from bus handlers and callers.
type Store struct {
	repo   *pages.Repository
	log    zerolog.Logger
	onGone func(id string)

	mu   sync.RWMutex
	docs map[string]*Document
	sub  *events.Subscription
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithOnGone registers a callback run for each open page that no longer
// exists after a refresh.
func WithOnGone(fn func(id string)) Option {
	return func(s *Store) { s.onGone = fn }
}

// New creates an empty document store over repo.
func New(repo *pages.Repository, opts ...Option) *Store {
	s := &Store{
		repo: repo,
		log:  zerolog.Nop(),
		docs: make(map[string]*Document),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch subscribes the store to the repository bus.
func (s *Store) Watch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		s.sub = s.repo.Bus().Subscribe(s.onEvent)
	}
}

// Stop unsubscribes from the bus. Open documents are kept.
func (s *Store) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	sub.Unsubscribe()
}

func (s *Store) onEvent(kind events.Kind) {
	if err := s.Refresh(context.Background()); err != nil {
		s.log.Warn().Err(err).Str("kind", kind.String()).Msg("open document refresh failed")
	}
}

// Open loads a page and keeps it open. Returns nil when the page does not
// exist.
func (s *Store) Open(ctx context.Context, id string) (*Document, error) {
	page, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	return s.Upsert(page), nil
}

// Hydrate bulk-loads pages into the store.
func (s *Store) Hydrate(docs []*store.Page) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range docs {
		s.upsertLocked(p)
	}
	return len(docs)
}

// Upsert adds or replaces a single open page.
func (s *Store) Upsert(page *store.Page) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(page)
}

func (s *Store) upsertLocked(page *store.Page) *Document {
	doc, ok := s.docs[page.ID]
	if !ok {
		doc = &Document{Page: page.Clone(), Version: 1}
		s.docs[page.ID] = doc
		return doc
	}
	if !samePage(doc.Page, page) {
		doc.Page = page.Clone()
		doc.Version++
	}
	return doc
}

// Remove closes a document.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, id)
}

// Get retrieves an open document by ID.
// Returns nil if not open.
func (s *Store) Get(id string) *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.docs[id]
}

// Count returns the number of open documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.docs)
}

// AllIDs returns the ids of all open documents in order.
func (s *Store) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear closes every document.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs = make(map[string]*Document)
}

// Refresh re-fetches every open page. Pages that no longer exist are closed
// and reported to the OnGone callback. The first read error stops the
// refresh and leaves the remaining documents as they were.
func (s *Store) Refresh(ctx context.Context) error {
	var gone []string
	for _, id := range s.AllIDs() {
		page, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if page == nil {
			s.Remove(id)
			gone = append(gone, id)
			continue
		}

		s.mu.Lock()
		if _, open := s.docs[id]; open {
			s.upsertLocked(page)
		}
		s.mu.Unlock()
	}

	for _, id := range gone {
		s.log.Debug().Str("id", id).Msg("open document is gone")
		if s.onGone != nil {
			s.onGone(id)
		}
	}
	return nil
}

func samePage(a, b *store.Page) bool {
	return a.ID == b.ID && a.Title == b.Title &&
		eq(a.ParentDocument, b.ParentDocument) && eq(a.Content, b.Content) &&
		eq(a.CoverImage, b.CoverImage) && eq(a.Icon, b.Icon)
}

func eq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
