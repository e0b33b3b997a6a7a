package pages

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/voton/internal/store"
	"github.com/kittclouds/voton/internal/store/storetest"
	"github.com/kittclouds/voton/pkg/events"
)

type recorder struct {
	mu    sync.Mutex
	kinds []events.Kind
}

func (r *recorder) handle(k events.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, k)
}

func (r *recorder) count(k events.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.kinds {
		if got == k {
			n++
		}
	}
	return n
}

func newTestRepo(t *testing.T, opts ...Option) (*Repository, store.PageStore, *recorder) {
	t.Helper()

	s, err := store.NewSQLiteStore(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return newRepoOn(t, s, opts...)
}

func newRepoOn(t *testing.T, s store.PageStore, opts ...Option) (*Repository, store.PageStore, *recorder) {
	t.Helper()

	bus := events.NewBus(zerolog.Nop())
	rec := &recorder{}
	sub := bus.Subscribe(rec.handle)
	t.Cleanup(sub.Unsubscribe)

	return New(s, bus, opts...), s, rec
}

func seed(t *testing.T, s store.PageStore, pages ...*store.Page) {
	t.Helper()
	require.NoError(t, s.InsertAll(context.Background(), pages))
}

func child(id, parent string) *store.Page {
	return &store.Page{ID: id, Title: strings.ToUpper(id), ParentDocument: store.String(parent)}
}

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		require.True(t, strings.HasPrefix(id, IDPrefix), id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	repo, _, rec := newTestRepo(t)

	page, err := repo.Add(ctx, NewPage{Title: "Untitled"})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(page.ID, IDPrefix))
	require.True(t, page.IsRoot())
	require.Equal(t, 1, rec.count(events.Changed))

	got, err := repo.Get(ctx, page.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(page, got); diff != "" {
		t.Fatalf("stored page mismatch (-want +got):\n%s", diff)
	}
}

func TestAddDefaultsEmptyTitle(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	page, err := repo.Add(context.Background(), NewPage{})
	require.NoError(t, err)
	require.Equal(t, DefaultTitle, page.Title)
}

func TestAddKeepsOptionalFields(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepo(t)

	page, err := repo.Add(ctx, NewPage{
		Title:      "Trip",
		Content:    store.String(`[{"type":"heading","content":"Day 1"}]`),
		CoverImage: store.String("data:image/png;base64,AAAA"),
		Icon:       store.String("✈️"),
	})
	require.NoError(t, err)

	got, err := repo.Get(ctx, page.ID)
	require.NoError(t, err)
	require.Equal(t, `[{"type":"heading","content":"Day 1"}]`, *got.Content)
	require.Equal(t, "data:image/png;base64,AAAA", *got.CoverImage)
	require.Equal(t, "✈️", *got.Icon)
}

func TestAddUniqueIDsConcurrently(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepo(t)

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := repo.Add(ctx, NewPage{Title: fmt.Sprintf("p%d", i)})
			if err == nil {
				ids[i] = p.ID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		require.NotEmpty(t, id)
		require.False(t, seen[id])
		seen[id] = true
	}

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, n)
}

func TestAddDuplicateIDFails(t *testing.T) {
	ctx := context.Background()
	repo, _, rec := newTestRepo(t, WithIDGenerator(func() string { return "page_fixed" }))

	_, err := repo.Add(ctx, NewPage{Title: "one"})
	require.NoError(t, err)

	_, err = repo.Add(ctx, NewPage{Title: "two"})
	require.ErrorIs(t, err, store.ErrDuplicateID)
	require.Equal(t, 1, rec.count(events.Changed))
}

func TestGetMissingIsNotAnError(t *testing.T) {
	repo, _, _ := newTestRepo(t)

	got, err := repo.Get(context.Background(), "nope")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdateOverlaysPatch(t *testing.T) {
	ctx := context.Background()
	repo, s, rec := newTestRepo(t)

	seed(t, s, &store.Page{
		ID:         "p1",
		Title:      "Before",
		Content:    store.String("body"),
		CoverImage: store.String("cover.png"),
		Icon:       store.String("🌱"),
	})

	before, err := repo.Get(ctx, "p1")
	require.NoError(t, err)

	updated, err := repo.Update(ctx, "p1", Patch{Title: Set("After"), Icon: Clear()})
	require.NoError(t, err)
	require.NotNil(t, updated)

	got, err := repo.Get(ctx, "p1")
	require.NoError(t, err)

	want := before.Clone()
	want.Title = "After"
	want.Icon = nil
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("updated page mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(updated, got); diff != "" {
		t.Fatalf("returned page differs from stored (-returned +stored):\n%s", diff)
	}
	require.Equal(t, 1, rec.count(events.Changed))
}

func TestUpdateRandomPatches(t *testing.T) {
	ctx := context.Background()
	repo, s, _ := newTestRepo(t)
	seed(t, s, &store.Page{ID: "p", Title: "Start"})

	rng := rand.New(rand.NewSource(7))
	pick := func(name string) Field {
		switch rng.Intn(3) {
		case 0:
			return Field{}
		case 1:
			return Clear()
		default:
			return Set(fmt.Sprintf("%s-%d", name, rng.Intn(100)))
		}
	}

	for i := 0; i < 100; i++ {
		patch := Patch{
			ParentDocument: pick("parent"),
			Content:        pick("content"),
			CoverImage:     pick("cover"),
			Icon:           pick("icon"),
		}
		if rng.Intn(2) == 0 {
			patch.Title = Set(fmt.Sprintf("title-%d", i))
		}

		prev, err := repo.Get(ctx, "p")
		require.NoError(t, err)

		_, err = repo.Update(ctx, "p", patch)
		require.NoError(t, err)

		got, err := repo.Get(ctx, "p")
		require.NoError(t, err)

		want := prev.Clone()
		patch.Apply(want)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("iteration %d (-want +got):\n%s", i, diff)
		}
	}
}

func TestUpdateEmptyTitleFallsBack(t *testing.T) {
	ctx := context.Background()
	repo, s, _ := newTestRepo(t)
	seed(t, s, &store.Page{ID: "p", Title: "Named"})

	got, err := repo.Update(ctx, "p", Patch{Title: Set("")})
	require.NoError(t, err)
	require.Equal(t, DefaultTitle, got.Title)
}

func TestUpdateMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	repo, _, rec := newTestRepo(t)

	got, err := repo.Update(ctx, "missing-id", Patch{Title: Set("x")})
	require.NoError(t, err)
	require.Nil(t, got)

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
	require.Empty(t, rec.kinds)
}

func TestUpdateAfterDeleteReportsAbsent(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepo(t)

	page, err := repo.Add(ctx, NewPage{Title: "Doomed"})
	require.NoError(t, err)

	ok, err := repo.Delete(ctx, page.ID)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := repo.Update(ctx, page.ID, Patch{Title: Set("Rename")})
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = repo.Get(ctx, page.ID)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestGetRootsExcludesDanglingParents(t *testing.T) {
	ctx := context.Background()
	repo, s, _ := newTestRepo(t)

	seed(t, s,
		&store.Page{ID: "r1", Title: "Root 1"},
		&store.Page{ID: "r2", Title: "Root 2"},
		child("c1", "r1"),
		child("orphan", "gone"),
		&store.Page{ID: "empty-parent", Title: "Empty", ParentDocument: store.String("")},
	)

	roots, err := repo.GetRoots(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(roots))
	for _, r := range roots {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"r1", "r2"}, ids)
}

func TestGetChildren(t *testing.T) {
	ctx := context.Background()
	repo, s, _ := newTestRepo(t)

	seed(t, s, &store.Page{ID: "a", Title: "A"}, child("b", "a"), child("c", "a"), child("d", "b"))

	children, err := repo.GetChildren(ctx, "a")
	require.NoError(t, err)
	require.Len(t, children, 2)

	none, err := repo.GetChildren(ctx, "d")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	missing, err := repo.GetChildren(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo, s, rec := newTestRepo(t)
	seed(t, s, &store.Page{ID: "a", Title: "A"})

	ok, err := repo.Delete(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, rec.count(events.Deleted))

	ok, err = repo.Delete(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, rec.count(events.Deleted))
}

func TestDeleteWithChildrenScenario(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepo(t)

	a, err := repo.Add(ctx, NewPage{Title: "Untitled"})
	require.NoError(t, err)
	b, err := repo.Add(ctx, NewPage{Title: "Untitled", ParentDocument: store.String(a.ID)})
	require.NoError(t, err)
	c, err := repo.Add(ctx, NewPage{Title: "Untitled", ParentDocument: store.String(b.ID)})
	require.NoError(t, err)

	ok, err := repo.DeleteWithChildren(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, ok)

	for _, id := range []string{a.ID, b.ID, c.ID} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.Nil(t, got, "page %s still present", id)
	}
}

func TestDeleteWithChildrenRandomTrees(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 10; round++ {
		repo, s, _ := newTestRepo(t)

		n := 1 + rng.Intn(40)
		tree := []*store.Page{{ID: "n000", Title: "root"}}
		for i := 1; i < n; i++ {
			parent := tree[rng.Intn(len(tree))].ID
			tree = append(tree, child(fmt.Sprintf("n%03d", i), parent))
		}
		bystander := &store.Page{ID: "zz-other", Title: "Other"}
		seed(t, s, append(tree, bystander)...)

		ok, err := repo.DeleteWithChildren(ctx, "n000")
		require.NoError(t, err)
		require.True(t, ok)

		for _, p := range tree {
			got, err := repo.Get(ctx, p.ID)
			require.NoError(t, err)
			require.Nil(t, got, "round %d: %s survived", round, p.ID)
		}

		left, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, left, 1)
		require.Equal(t, bystander.ID, left[0].ID)
	}
}

func TestDeleteWithChildrenMissingRoot(t *testing.T) {
	repo, _, rec := newTestRepo(t)

	ok, err := repo.DeleteWithChildren(context.Background(), "ghost")
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, rec.kinds)
}

func TestDeleteWithChildrenSelfCycle(t *testing.T) {
	ctx := context.Background()
	base, err := store.NewSQLiteStore(ctx)
	require.NoError(t, err)
	defer base.Close()

	faulty := storetest.Wrap(base)
	repo, s, _ := newRepoOn(t, faulty)
	seed(t, s, child("self", "self"), child("kid", "self"))

	ok, err := repo.DeleteWithChildren(ctx, "self")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, faulty.Calls("delete"))

	count, err := base.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDeleteWithChildrenMutualCycle(t *testing.T) {
	ctx := context.Background()
	base, err := store.NewSQLiteStore(ctx)
	require.NoError(t, err)
	defer base.Close()

	faulty := storetest.Wrap(base)
	repo, s, _ := newRepoOn(t, faulty)
	seed(t, s, child("a", "c"), child("b", "a"), child("c", "b"), child("leaf", "b"))

	ok, err := repo.DeleteWithChildren(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 4, faulty.Calls("delete"), "every reachable page deleted exactly once")

	count, err := base.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDeleteWithChildrenPartialFailure(t *testing.T) {
	ctx := context.Background()
	base, err := store.NewSQLiteStore(ctx)
	require.NoError(t, err)
	defer base.Close()

	faulty := storetest.Wrap(base)
	faulty.FailOn("delete", "c")
	repo, s, rec := newRepoOn(t, faulty)

	// a -> {b -> {d}, c}; children are visited in id order.
	seed(t, s, &store.Page{ID: "a", Title: "A"}, child("b", "a"), child("c", "a"), child("d", "b"))

	ok, err := repo.DeleteWithChildren(ctx, "a")
	require.ErrorIs(t, err, store.ErrIO)
	require.False(t, ok)

	present := func(id string) bool {
		p, err := base.Get(ctx, id)
		require.NoError(t, err)
		return p != nil
	}
	assert.False(t, present("b"), "sibling subtree deleted before the failure stays deleted")
	assert.False(t, present("d"))
	assert.True(t, present("c"), "failing page remains")
	assert.True(t, present("a"), "root is not deleted after a failed descendant")
	assert.Equal(t, 2, rec.count(events.Deleted))
}

func TestStorageErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	base, err := store.NewSQLiteStore(ctx)
	require.NoError(t, err)
	defer base.Close()

	faulty := storetest.Wrap(base)
	repo, s, rec := newRepoOn(t, faulty)
	seed(t, s, &store.Page{ID: "p", Title: "P"})

	faulty.FailOn("get", "")
	_, err = repo.Get(ctx, "p")
	require.ErrorIs(t, err, store.ErrIO)
	_, err = repo.Update(ctx, "p", Patch{Title: Set("x")})
	require.ErrorIs(t, err, store.ErrIO)

	faulty.FailWith("put", "", fmt.Errorf("busy: %w", store.ErrWriteConflict))
	faulty.FailWith("get", "", nil)
	_, err = repo.Update(ctx, "p", Patch{Title: Set("x")})
	require.ErrorIs(t, err, store.ErrWriteConflict)

	faulty.FailOn("all", "")
	_, err = repo.GetRoots(ctx)
	require.ErrorIs(t, err, store.ErrIO)

	require.Empty(t, rec.kinds)
}

func TestStrictParents(t *testing.T) {
	ctx := context.Background()
	repo, s, _ := newTestRepo(t, WithStrictParents(true))
	seed(t, s, &store.Page{ID: "a", Title: "A"}, child("b", "a"), child("c", "b"))

	_, err := repo.Add(ctx, NewPage{Title: "Orphan", ParentDocument: store.String("ghost")})
	require.ErrorIs(t, err, ErrDanglingParent)

	p, err := repo.Add(ctx, NewPage{Title: "Child", ParentDocument: store.String("c")})
	require.NoError(t, err)
	require.Equal(t, "c", p.Parent())

	_, err = repo.Update(ctx, "a", Patch{ParentDocument: Set("c")})
	require.ErrorIs(t, err, ErrCycleDetected)

	_, err = repo.Update(ctx, "a", Patch{ParentDocument: Set("a")})
	require.ErrorIs(t, err, ErrCycleDetected)

	got, err := repo.Update(ctx, "c", Patch{ParentDocument: Clear()})
	require.NoError(t, err)
	require.True(t, got.IsRoot())
}

func TestLenientParentsAllowDangling(t *testing.T) {
	ctx := context.Background()
	repo, _, _ := newTestRepo(t)

	p, err := repo.Add(ctx, NewPage{Title: "Orphan", ParentDocument: store.String("ghost")})
	require.NoError(t, err)

	got, err := repo.Update(ctx, p.ID, Patch{ParentDocument: Set(p.ID)})
	require.NoError(t, err)
	require.Equal(t, p.ID, got.Parent())
}
