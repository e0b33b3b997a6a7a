// Package search backs the workspace search palette. The index keeps a
// snapshot of page titles that is re-fetched whenever the bus reports a
// change, and answers multi-term title queries with an Aho-Corasick scan.
package search

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/coregx/ahocorasick"
	"github.com/orsinium-labs/stopwords"
	"github.com/rs/zerolog"

	"github.com/kittclouds/voton/pkg/events"
	"github.com/kittclouds/voton/pkg/pages"
)

// Hit is one search result.
type Hit struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	Icon  *string `json:"icon,omitempty"`
	// Position is the byte offset of the earliest matched term in the
	// lowercased title; 0 when the query had no terms.
	Position int `json:"position"`
}

type entry struct {
	id    string
	title string
	lower string
	icon  *string
}

// Index is a title index fed by the repository.
type Index struct {
	repo *pages.Repository
	log  zerolog.Logger
	stop *stopwords.Stopwords

	mu      sync.RWMutex
	entries []entry
	sub     *events.Subscription
}

// NewIndex creates an empty index. Call Attach to load it and keep it fresh.
func NewIndex(repo *pages.Repository, log zerolog.Logger) *Index {
	return &Index{
		repo: repo,
		log:  log,
		stop: stopwords.MustGet("en"),
	}
}

// Attach performs the initial fetch and subscribes to both event kinds.
func (ix *Index) Attach(ctx context.Context) error {
	if err := ix.Refresh(ctx); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.sub == nil {
		ix.sub = ix.repo.Bus().Subscribe(ix.onEvent)
	}
	return nil
}

func (ix *Index) onEvent(kind events.Kind) {
	if err := ix.Refresh(context.Background()); err != nil {
		ix.log.Warn().Err(err).Str("kind", kind.String()).Msg("search index refresh failed")
	}
}

// Close stops listening for events.
func (ix *Index) Close() {
	ix.mu.Lock()
	sub := ix.sub
	ix.sub = nil
	ix.mu.Unlock()
	sub.Unsubscribe()
}

// Refresh reloads every page title from the repository.
func (ix *Index) Refresh(ctx context.Context) error {
	all, err := ix.repo.GetAll(ctx)
	if err != nil {
		return err
	}

	entries := make([]entry, 0, len(all))
	for _, p := range all {
		entries = append(entries, entry{
			id:    p.ID,
			title: p.Title,
			lower: strings.ToLower(p.Title),
			icon:  p.Icon,
		})
	}

	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
	return nil
}

// Len returns the number of indexed pages.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Search returns pages whose titles contain every query term,
// case-insensitively. Stopwords are dropped unless the query consists only
// of stopwords. An empty query returns every page ordered by title.
func (ix *Index) Search(query string) []Hit {
	ix.mu.RLock()
	entries := ix.entries
	ix.mu.RUnlock()

	terms := ix.Terms(query)
	if len(terms) == 0 {
		hits := make([]Hit, 0, len(entries))
		for _, e := range entries {
			hits = append(hits, Hit{ID: e.id, Title: e.title, Icon: e.icon})
		}
		sortHits(hits)
		return hits
	}

	automaton, err := ahocorasick.NewBuilder().
		AddStrings(terms).
		SetMatchKind(ahocorasick.LeftmostLongest).
		SetPrefilter(true).
		Build()
	if err != nil {
		ix.log.Warn().Err(err).Str("query", query).Msg("build search automaton failed")
		return nil
	}

	hits := []Hit{}
	for _, e := range entries {
		matches := automaton.FindAllOverlapping([]byte(e.lower))
		if len(matches) == 0 {
			continue
		}

		found := make(map[int]bool, len(terms))
		first := len(e.lower)
		for _, m := range matches {
			found[m.PatternID] = true
			if m.Start < first {
				first = m.Start
			}
		}
		if len(found) < len(terms) {
			continue
		}
		hits = append(hits, Hit{ID: e.id, Title: e.title, Icon: e.icon, Position: first})
	}

	sortHits(hits)
	return hits
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Position != hits[j].Position {
			return hits[i].Position < hits[j].Position
		}
		if hits[i].Title != hits[j].Title {
			return hits[i].Title < hits[j].Title
		}
		return hits[i].ID < hits[j].ID
	})
}

// Terms splits a query into lowercase search terms. Duplicates and terms
// contained in a longer term are dropped.
func (ix *Index) Terms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return nil
	}

	kept := make([]string, 0, len(words))
	for _, w := range words {
		if !ix.stop.Contains(w) {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}

	sort.Slice(kept, func(i, j int) bool { return len(kept[i]) > len(kept[j]) })
	terms := make([]string, 0, len(kept))
	for _, w := range kept {
		covered := false
		for _, t := range terms {
			if strings.Contains(t, w) {
				covered = true
				break
			}
		}
		if !covered {
			terms = append(terms, w)
		}
	}
	return terms
}
