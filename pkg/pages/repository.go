// Package pages is the page repository: the only component that turns domain
// operations into storage calls. It applies default values, walks subtrees for
// cascade deletes, and announces every successful write on the events bus.
package pages

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/pkg/events"
	"github.com/kittclouds/voton/pkg/metrics"
)

// ErrCycleDetected reports a parent reference that would make a page its own
// ancestor. Only returned when strict parents are enabled; cascade deletes
// skip cycles instead.
var ErrCycleDetected = errors.New("cycle detected")

// ErrDanglingParent reports a parent reference to a page that does not exist.
// Only returned when strict parents are enabled.
var ErrDanglingParent = errors.New("parent page does not exist")

// IDPrefix starts every generated page id.
const IDPrefix = "page_"

// Repository implements page CRUD and tree operations over a store.PageStore.
type Repository struct {
	store  store.PageStore
	bus    *events.Bus
	log    zerolog.Logger
	newID  func() string
	strict bool
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Repository) { r.log = log }
}

// WithIDGenerator replaces GenerateID. Intended for tests.
func WithIDGenerator(fn func() string) Option {
	return func(r *Repository) { r.newID = fn }
}

// WithStrictParents makes add and update reject dangling or cyclic parent
// references. Off by default: dangling references are tolerated.
func WithStrictParents(strict bool) Option {
	return func(r *Repository) { r.strict = strict }
}

// New creates a repository. A nil bus gets a private one.
func New(s store.PageStore, bus *events.Bus, opts ...Option) *Repository {
	r := &Repository{
		store: s,
		bus:   bus,
		log:   zerolog.Nop(),
		newID: GenerateID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = events.NewBus(r.log)
	}
	return r
}

// Bus returns the bus the repository publishes on.
func (r *Repository) Bus() *events.Bus { return r.bus }

// Store returns the underlying page store.
func (r *Repository) Store() store.PageStore { return r.store }

// GenerateID returns a fresh page id. The UUIDv7 body is a millisecond
// timestamp followed by random bits.
func GenerateID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return IDPrefix + uuid.NewString()
	}
	return IDPrefix + id.String()
}

// =============================================================================
// Reads
// =============================================================================

// Get returns the page, or nil when no such page exists.
func (r *Repository) Get(ctx context.Context, id string) (*store.Page, error) {
	page, err := r.store.Get(ctx, id)
	metrics.Observe("get", err)
	if err != nil {
		return nil, fmt.Errorf("get page %s: %w", id, err)
	}
	return page, nil
}

// GetAll returns every page. Callers must not rely on the order.
func (r *Repository) GetAll(ctx context.Context) ([]*store.Page, error) {
	all, err := r.store.All(ctx)
	metrics.Observe("get_all", err)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return all, nil
}

// GetRoots returns the pages without a parent reference. Pages whose parent
// is missing from the table are not roots.
func (r *Repository) GetRoots(ctx context.Context) ([]*store.Page, error) {
	all, err := r.store.All(ctx)
	metrics.Observe("get_roots", err)
	if err != nil {
		return nil, fmt.Errorf("list root pages: %w", err)
	}

	roots := make([]*store.Page, 0, len(all))
	for _, p := range all {
		if p.IsRoot() {
			roots = append(roots, p)
		}
	}
	return roots, nil
}

// GetChildren returns the direct children of parentID. Unknown parents have
// no children.
func (r *Repository) GetChildren(ctx context.Context, parentID string) ([]*store.Page, error) {
	children, err := r.store.ByParent(ctx, parentID)
	metrics.Observe("get_children", err)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", parentID, err)
	}
	return children, nil
}

// =============================================================================
// Writes
// =============================================================================

// Add stores a new page under a generated id and returns it.
func (r *Repository) Add(ctx context.Context, np NewPage) (*store.Page, error) {
	page := &store.Page{
		ID:             r.newID(),
		Title:          np.Title,
		ParentDocument: copyString(np.ParentDocument),
		Content:        copyString(np.Content),
		CoverImage:     copyString(np.CoverImage),
		Icon:           copyString(np.Icon),
	}
	if page.Title == "" {
		page.Title = DefaultTitle
	}

	err := r.checkParent(ctx, page.ID, page.ParentDocument)
	if err == nil {
		err = r.store.Insert(ctx, page)
	}
	metrics.Observe("add", err)
	if err != nil {
		return nil, fmt.Errorf("add page: %w", err)
	}

	r.bus.Publish(events.Changed)
	return page.Clone(), nil
}

// Update merges patch over the stored page. It returns nil, nil when the page
// does not exist; nothing is written in that case.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (*store.Page, error) {
	existing, err := r.store.Get(ctx, id)
	if err != nil {
		metrics.Observe("update", err)
		return nil, fmt.Errorf("update page %s: %w", id, err)
	}
	if existing == nil {
		metrics.Observe("update", nil)
		return nil, nil
	}

	updated := existing.Clone()
	patch.Apply(updated)

	if patch.ParentDocument.IsSet() {
		err = r.checkParent(ctx, id, updated.ParentDocument)
	}
	if err == nil {
		err = r.store.Put(ctx, updated)
	}
	metrics.Observe("update", err)
	if err != nil {
		return nil, fmt.Errorf("update page %s: %w", id, err)
	}

	r.bus.Publish(events.Changed)
	return updated.Clone(), nil
}

// Delete removes exactly one page. It reports false when there was nothing
// to delete.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := r.store.Delete(ctx, id)
	metrics.Observe("delete", err)
	if err != nil {
		return false, fmt.Errorf("delete page %s: %w", id, err)
	}
	if ok {
		r.bus.Publish(events.Deleted)
	}
	return ok, nil
}

// DeleteWithChildren removes a page and every descendant, deepest first, and
// returns the result of deleting id itself.
//
// Each single delete is atomic but the cascade is not: if one delete fails,
// the walk stops, pages already removed stay removed, and the error is
// returned. Pages reached twice through a parent cycle are skipped.
func (r *Repository) DeleteWithChildren(ctx context.Context, id string) (bool, error) {
	visited := make(map[string]struct{})
	ok, err := r.deleteTree(ctx, id, visited)
	metrics.Observe("delete_with_children", err)
	return ok, err
}

func (r *Repository) deleteTree(ctx context.Context, id string, visited map[string]struct{}) (bool, error) {
	if _, seen := visited[id]; seen {
		metrics.CascadeCycles.Inc()
		r.log.Warn().Str("id", id).Msg("cascade delete reached a page twice; skipping cycle")
		return false, nil
	}
	visited[id] = struct{}{}

	children, err := r.store.ByParent(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete subtree %s: list children: %w", id, err)
	}

	for _, child := range children {
		if _, err := r.deleteTree(ctx, child.ID, visited); err != nil {
			return false, err
		}
	}

	return r.Delete(ctx, id)
}

// checkParent enforces strict parent references. id is the page being
// written; parent is its new parent reference.
func (r *Repository) checkParent(ctx context.Context, id string, parent *string) error {
	if !r.strict || parent == nil {
		return nil
	}

	seen := map[string]struct{}{}
	cur := *parent
	for {
		if cur == id {
			return fmt.Errorf("%w: %s would become its own ancestor", ErrCycleDetected, id)
		}
		if _, ok := seen[cur]; ok {
			// Pre-existing cycle above us that does not include id.
			return nil
		}
		seen[cur] = struct{}{}

		page, err := r.store.Get(ctx, cur)
		if err != nil {
			return err
		}
		if page == nil {
			if cur == *parent {
				return fmt.Errorf("%w: %s", ErrDanglingParent, cur)
			}
			return nil
		}
		if page.ParentDocument == nil {
			return nil
		}
		cur = *page.ParentDocument
	}
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
