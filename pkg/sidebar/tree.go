// Package sidebar maintains the page tree shown in the workspace sidebar.
// Root pages are always loaded; children are loaded only for expanded
// pages. The visible tree is refetched on every bus event.
package sidebar

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/pkg/events"
	"github.com/kittclouds/voton/pkg/pages"
)

// Node is one visible page.
type Node struct {
	Page     *store.Page
	Expanded bool
	Children []*Node // nil unless Expanded
}

// Tree is the sidebar model.
type Tree struct {
	repo *pages.Repository
	log  zerolog.Logger

	mu       sync.RWMutex
	expanded map[string]bool
	roots    []*Node
	sub      *events.Subscription
}

// New creates an empty tree. Call Attach to load it.
func New(repo *pages.Repository, log zerolog.Logger) *Tree {
	return &Tree{
		repo:     repo,
		log:      log,
		expanded: make(map[string]bool),
	}
}

// Attach loads the roots and subscribes to both event kinds.
func (t *Tree) Attach(ctx context.Context) error {
	if err := t.Refresh(ctx); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub == nil {
		t.sub = t.repo.Bus().Subscribe(t.onEvent)
	}
	return nil
}

// Close stops listening for events.
func (t *Tree) Close() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.mu.Unlock()
	sub.Unsubscribe()
}

func (t *Tree) onEvent(kind events.Kind) {
	if err := t.Refresh(context.Background()); err != nil {
		t.log.Warn().Err(err).Str("kind", kind.String()).Msg("sidebar refresh failed")
	}
}

// Expand marks id as expanded and reloads the tree.
func (t *Tree) Expand(ctx context.Context, id string) error {
	t.mu.Lock()
	t.expanded[id] = true
	t.mu.Unlock()
	return t.Refresh(ctx)
}

// Collapse marks id as collapsed and reloads the tree.
func (t *Tree) Collapse(ctx context.Context, id string) error {
	t.mu.Lock()
	delete(t.expanded, id)
	t.mu.Unlock()
	return t.Refresh(ctx)
}

// ExpandAll marks every stored page as expanded and reloads the tree.
func (t *Tree) ExpandAll(ctx context.Context) error {
	all, err := t.repo.GetAll(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	for _, p := range all {
		t.expanded[p.ID] = true
	}
	t.mu.Unlock()
	return t.Refresh(ctx)
}

// Refresh refetches the roots and the children of every expanded page.
// A page reached twice through a parent cycle is shown once.
func (t *Tree) Refresh(ctx context.Context) error {
	t.mu.RLock()
	expanded := make(map[string]bool, len(t.expanded))
	for id := range t.expanded {
		expanded[id] = true
	}
	t.mu.RUnlock()

	roots, err := t.repo.GetRoots(ctx)
	if err != nil {
		return err
	}

	visited := make(map[string]bool)
	nodes := make([]*Node, 0, len(roots))
	for _, p := range roots {
		n, err := t.load(ctx, p, expanded, visited)
		if err != nil {
			return err
		}
		nodes = append(nodes, n)
	}

	t.mu.Lock()
	t.roots = nodes
	t.mu.Unlock()
	return nil
}

func (t *Tree) load(ctx context.Context, p *store.Page, expanded, visited map[string]bool) (*Node, error) {
	visited[p.ID] = true
	n := &Node{Page: p, Expanded: expanded[p.ID]}
	if !n.Expanded {
		return n, nil
	}

	children, err := t.repo.GetChildren(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	n.Children = make([]*Node, 0, len(children))
	for _, c := range children {
		if visited[c.ID] {
			continue
		}
		cn, err := t.load(ctx, c, expanded, visited)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, cn)
	}
	return n, nil
}

// Roots returns the current visible tree. The nodes must not be modified.
func (t *Tree) Roots() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roots
}

// Walk visits the visible tree depth first.
func (t *Tree) Walk(fn func(depth int, n *Node)) {
	var walk func(depth int, nodes []*Node)
	walk = func(depth int, nodes []*Node) {
		for _, n := range nodes {
			fn(depth, n)
			walk(depth+1, n.Children)
		}
	}
	walk(0, t.Roots())
}
