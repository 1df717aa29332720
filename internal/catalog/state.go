package catalog

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/ebook-catalog/internal/types"
)

// State is one immutable snapshot of the catalog view: the full entry set,
// the current query, and where the set came from.
type State struct {
	BuildID uuid.UUID            `json:"build_id"`
	BuiltAt time.Time            `json:"built_at"`
	Elapsed time.Duration        `json:"elapsed_ns"`
	Entries []types.DisplayEntry `json:"entries"`
	Query   string               `json:"query"`
}

// NewState creates a snapshot with an empty query.
func NewState(buildID uuid.UUID, entries []types.DisplayEntry, elapsed time.Duration) *State {
	if entries == nil {
		entries = []types.DisplayEntry{}
	}
	return &State{
		BuildID: buildID,
		BuiltAt: time.Now().UTC(),
		Elapsed: elapsed,
		Entries: entries,
	}
}

// WithQuery returns a copy of s with a new query. The entry set is shared, not
// filtered, so every query is evaluated against the full catalog.
func (s *State) WithQuery(query string) *State {
	next := *s
	next.Query = query
	return &next
}

// Visible returns the entries matching the current query.
func (s *State) Visible() []types.DisplayEntry {
	return Filter(s.Entries, s.Query)
}

// Empty reports whether the catalog has no entries at all.
func (s *State) Empty() bool {
	return len(s.Entries) == 0
}

// Store holds the current snapshot. Readers never see a partial build.
type Store struct {
	current atomic.Pointer[State]
}

// NewStore creates a store holding an empty catalog.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(NewState(uuid.Nil, nil, 0))
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() *State {
	return s.current.Load()
}

// Replace swaps in a new state wholesale.
func (s *Store) Replace(state *State) {
	if state == nil {
		state = NewState(uuid.Nil, nil, 0)
	}
	s.current.Store(state)
}

// Filter returns the entries whose title or author contains query,
// case-insensitively. Only the exact empty query returns every entry; the
// query is not trimmed. The input slice is never modified and order is preserved.
func Filter(entries []types.DisplayEntry, query string) []types.DisplayEntry {
	if query == "" {
		out := make([]types.DisplayEntry, len(entries))
		copy(out, entries)
		return out
	}

	needle := strings.ToLower(query)
	out := make([]types.DisplayEntry, 0, len(entries))
	for _, e := range entries {
		if Matches(e, needle) {
			out = append(out, e)
		}
	}
	return out
}

// Matches reports whether a lower-cased needle occurs in the entry's title or author.
func Matches(e types.DisplayEntry, needle string) bool {
	return strings.Contains(strings.ToLower(e.Title), needle) ||
		strings.Contains(strings.ToLower(e.Author), needle)
}

type progressTracker struct {
	total    int
	resolved atomic.Int64
}

func newProgressTracker(total int) *progressTracker {
	return &progressTracker{total: total}
}

func (p *progressTracker) done() int {
	return int(p.resolved.Add(1))
}
