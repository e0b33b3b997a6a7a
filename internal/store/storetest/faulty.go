// Package storetest provides a fault-injecting PageStore for failure-path tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kittclouds/voton/internal/store"
)

// Faulty wraps a PageStore and fails selected operations.
// Failures are keyed by operation name and, for single-record operations,
// by page id ("" matches every id).
type Faulty struct {
	store.PageStore

	mu    sync.Mutex
	fails map[string]map[string]error
	calls map[string]int
}

// Wrap returns a Faulty around inner with no failures armed.
func Wrap(inner store.PageStore) *Faulty {
	return &Faulty{
		PageStore: inner,
		fails:     make(map[string]map[string]error),
		calls:     make(map[string]int),
	}
}

// FailOn arms op (e.g. "delete", "put", "insert", "replace") for id.
// The returned error wraps store.ErrIO.
func (f *Faulty) FailOn(op, id string) {
	f.FailWith(op, id, fmt.Errorf("injected %s failure: %w", op, store.ErrIO))
}

// FailWith arms op for id with a specific error.
func (f *Faulty) FailWith(op, id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fails[op] == nil {
		f.fails[op] = make(map[string]error)
	}
	f.fails[op][id] = err
}

// Calls returns how many times op was invoked.
func (f *Faulty) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Faulty) check(op, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[op]++
	byID := f.fails[op]
	if byID == nil {
		return nil
	}
	if err, ok := byID[id]; ok {
		return err
	}
	return byID[""]
}

func (f *Faulty) Get(ctx context.Context, id string) (*store.Page, error) {
	if err := f.check("get", id); err != nil {
		return nil, err
	}
	return f.PageStore.Get(ctx, id)
}

func (f *Faulty) All(ctx context.Context) ([]*store.Page, error) {
	if err := f.check("all", ""); err != nil {
		return nil, err
	}
	return f.PageStore.All(ctx)
}

func (f *Faulty) ByParent(ctx context.Context, parentID string) ([]*store.Page, error) {
	if err := f.check("children", parentID); err != nil {
		return nil, err
	}
	return f.PageStore.ByParent(ctx, parentID)
}

func (f *Faulty) Insert(ctx context.Context, page *store.Page) error {
	if err := f.check("insert", page.ID); err != nil {
		return err
	}
	return f.PageStore.Insert(ctx, page)
}

func (f *Faulty) Put(ctx context.Context, page *store.Page) error {
	if err := f.check("put", page.ID); err != nil {
		return err
	}
	return f.PageStore.Put(ctx, page)
}

func (f *Faulty) Delete(ctx context.Context, id string) (bool, error) {
	if err := f.check("delete", id); err != nil {
		return false, err
	}
	return f.PageStore.Delete(ctx, id)
}

func (f *Faulty) Clear(ctx context.Context) error {
	if err := f.check("clear", ""); err != nil {
		return err
	}
	return f.PageStore.Clear(ctx)
}

func (f *Faulty) Replace(ctx context.Context, pages []*store.Page) error {
	if err := f.check("replace", ""); err != nil {
		return err
	}
	return f.PageStore.Replace(ctx, pages)
}
