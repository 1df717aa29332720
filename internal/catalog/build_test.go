package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jonathan/ebook-catalog/internal/manifest"
	"github.com/jonathan/ebook-catalog/internal/metadata"
	"github.com/jonathan/ebook-catalog/internal/types"
)

type stubLoader struct {
	entries []types.ManifestEntry
	err     error
}

func (l stubLoader) Load(context.Context) ([]types.ManifestEntry, error) {
	return l.entries, l.err
}

type resolverFunc func(ctx context.Context, entry types.ManifestEntry) types.ResolvedMetadata

func (f resolverFunc) Resolve(ctx context.Context, entry types.ManifestEntry) types.ResolvedMetadata {
	return f(ctx, entry)
}

func sampleEntries(n int) []types.ManifestEntry {
	entries := make([]types.ManifestEntry, n)
	for i := range entries {
		entries[i] = types.ManifestEntry{
			File:  "book-" + string(rune('a'+i)) + ".pdf",
			Title: "Book " + string(rune('A'+i)),
		}
	}
	return entries
}

func TestBuild_PreservesManifestOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	entries := sampleEntries(8)
	// Later entries resolve first so completion order is the reverse of manifest order.
	resolver := resolverFunc(func(_ context.Context, e types.ManifestEntry) types.ResolvedMetadata {
		idx := int(e.File[5] - 'a')
		time.Sleep(time.Duration(len(entries)-idx) * 5 * time.Millisecond)
		return types.ResolvedMetadata{SizeBytes: int64(idx), SizeDisplay: metadata.FormatSize(int64(idx)), PageCount: "1"}
	})

	b := NewBuilder(stubLoader{entries: entries}, resolver, zaptest.NewLogger(t))
	got, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, got, len(entries))

	for i, e := range got {
		assert.Equal(t, entries[i].File, e.File)
		assert.Equal(t, entries[i].Title, e.Title)
		assert.Equal(t, int64(i), e.SizeBytes)
	}
}

func TestBuild_RunsEntriesConcurrently(t *testing.T) {
	entries := sampleEntries(5)

	var (
		mu      sync.Mutex
		running int
		peak    int
	)
	resolver := resolverFunc(func(context.Context, types.ManifestEntry) types.ResolvedMetadata {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		running--
		mu.Unlock()
		return types.DefaultMetadata()
	})

	b := NewBuilder(stubLoader{entries: entries}, resolver, nil)
	_, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(entries), peak, "all entries should resolve at once")
}

func TestBuild_EmptyManifestYieldsEmptyCatalog(t *testing.T) {
	tests := []struct {
		name   string
		loader stubLoader
	}{
		{"absent", stubLoader{err: &manifest.EmptyError{Source: "ebooks.json", Reason: "not found"}}},
		{"malformed", stubLoader{err: &manifest.EmptyError{Source: "ebooks.json", Reason: "malformed"}}},
		{"no entries", stubLoader{entries: []types.ManifestEntry{}}},
		{"nil entries", stubLoader{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			resolver := resolverFunc(func(context.Context, types.ManifestEntry) types.ResolvedMetadata {
				called = true
				return types.DefaultMetadata()
			})

			got, err := NewBuilder(tt.loader, resolver, zaptest.NewLogger(t)).Build(context.Background())
			assert.ErrorIs(t, err, ErrEmptyCatalog)
			assert.NotNil(t, got)
			assert.Empty(t, got)
			assert.False(t, called)
		})
	}
}

func TestBuild_EmptyErrorStillMatchesManifestSentinel(t *testing.T) {
	loader := stubLoader{err: &manifest.EmptyError{Source: "x", Reason: "no entries"}}
	_, err := NewBuilder(loader, nil, nil).Build(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCatalog)
	assert.ErrorIs(t, err, manifest.ErrEmpty)
}

func TestBuild_PanicFailsClosed(t *testing.T) {
	defer goleak.VerifyNone(t)

	resolver := resolverFunc(func(_ context.Context, e types.ManifestEntry) types.ResolvedMetadata {
		if e.File == "book-b.pdf" {
			panic("resolver exploded")
		}
		return types.DefaultMetadata()
	})

	got, err := NewBuilder(stubLoader{entries: sampleEntries(3)}, resolver, zaptest.NewLogger(t)).Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyCatalog)
	assert.Contains(t, err.Error(), "book-b.pdf")
	assert.Empty(t, got)
}

func TestBuild_CancelledContextFailsClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	resolver := resolverFunc(func(context.Context, types.ManifestEntry) types.ResolvedMetadata {
		cancel()
		return types.DefaultMetadata()
	})

	got, err := NewBuilder(stubLoader{entries: sampleEntries(2)}, resolver, nil).Build(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)
}

func TestBuild_ReportsProgress(t *testing.T) {
	entries := sampleEntries(4)
	resolver := resolverFunc(func(context.Context, types.ManifestEntry) types.ResolvedMetadata {
		return types.DefaultMetadata()
	})

	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	b := NewBuilder(stubLoader{entries: entries}, resolver, nil)
	b.OnProgress = func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	}

	_, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, events, len(entries))

	seenIndex := map[int]bool{}
	seenResolved := map[int]bool{}
	for _, ev := range events {
		assert.Equal(t, len(entries), ev.Total)
		assert.Equal(t, entries[ev.Index].File, ev.Entry.File)
		assert.Equal(t, events[0].BuildID, ev.BuildID)
		seenIndex[ev.Index] = true
		seenResolved[ev.Resolved] = true
	}
	assert.Len(t, seenIndex, len(entries))
	for i := 1; i <= len(entries); i++ {
		assert.True(t, seenResolved[i], "resolved count %d missing", i)
	}
}

func TestRefresh_ReplacesStore(t *testing.T) {
	store := NewStore()
	initial := store.Snapshot()
	require.True(t, initial.Empty())

	resolver := resolverFunc(func(context.Context, types.ManifestEntry) types.ResolvedMetadata {
		return types.DefaultMetadata()
	})
	b := NewBuilder(stubLoader{entries: sampleEntries(2)}, resolver, nil)

	state, err := b.Refresh(context.Background(), store)
	require.NoError(t, err)
	assert.Same(t, state, store.Snapshot())
	assert.Len(t, store.Snapshot().Entries, 2)
	assert.NotEqual(t, uuid.Nil, state.BuildID)

	b.Loader = stubLoader{err: manifest.ErrEmpty}
	_, err = b.Refresh(context.Background(), store)
	assert.ErrorIs(t, err, ErrEmptyCatalog)
	assert.True(t, store.Snapshot().Empty())
	assert.Len(t, state.Entries, 2, "earlier snapshots are never mutated")
}

// End to end over HTTP: manifest, HEAD probes and a failing page counter.
func TestBuild_WithHTTPManifest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/ebooks.json":
			_, _ = w.Write([]byte(`[
				{"file": "books/a.pdf", "title": "Alpha", "author": "Bob"},
				{"file": "books/b.pdf", "title": "Beta"}
			]`))
		case r.Method == http.MethodHead && r.URL.Path == "/books/a.pdf":
			w.Header().Set("Content-Length", "1536")
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	logger := zaptest.NewLogger(t)
	source := server.URL + "/ebooks.json"
	resolver := metadata.NewResolver(source, nil, logger)
	resolver.Pages = metadata.PageCounterFunc(func(_ context.Context, location string) (int, error) {
		if strings.HasSuffix(location, "/books/a.pdf") {
			return 12, nil
		}
		return 0, errors.New("unreadable")
	})

	b := NewBuilder(manifest.NewLoader(source, nil, logger), resolver, logger)
	got, err := b.Build(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Alpha", got[0].Title)
	assert.Equal(t, "1.5 KB", got[0].SizeDisplay)
	assert.Equal(t, "12", got[0].PageCount)

	assert.Equal(t, "Beta", got[1].Title)
	assert.Equal(t, "N/A", got[1].SizeDisplay)
	assert.Equal(t, "—", got[1].PageCount)
}
