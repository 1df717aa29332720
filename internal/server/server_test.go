package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/manifest"
	"github.com/jonathan/ebook-catalog/internal/server/ratelimit"
	"github.com/jonathan/ebook-catalog/internal/types"
)

type stubLoader struct {
	entries []types.ManifestEntry
	err     error
}

func (l *stubLoader) Load(context.Context) ([]types.ManifestEntry, error) {
	return l.entries, l.err
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, e types.ManifestEntry) types.ResolvedMetadata {
	if e.File == "a.pdf" {
		return types.ResolvedMetadata{SizeBytes: 1536, SizeDisplay: "1.5 KB", PageCount: "12"}
	}
	return types.DefaultMetadata()
}

func sampleManifest() []types.ManifestEntry {
	return []types.ManifestEntry{
		{File: "a.pdf", Title: "Alpha", Author: "Bob"},
		{File: "b.pdf", Title: "Beta"},
	}
}

func newTestServer(t *testing.T, cfg Config, loader *stubLoader) *Server {
	t.Helper()
	if cfg.RateLimit == nil {
		cfg.RateLimit = &ratelimit.Config{Enabled: false}
	}
	logger := zaptest.NewLogger(t)
	builder := catalog.NewBuilder(loader, stubResolver{}, logger)
	s, err := New(cfg, builder, catalog.NewStore(), logger)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func do(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})

	w := do(s, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, float64(0), resp["entries"])
}

func TestIndex_EmptyBeforeFirstBuild(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})

	w := do(s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))

	doc, err := goquery.NewDocumentFromReader(w.Body)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.Find(".ebook-card").Length())
	assert.Equal(t, 1, doc.Find("#empty-state").Length())
}

func TestIndex_RendersAndFilters(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(do(s, http.MethodGet, "/").Body)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Find(".ebook-card").Length())

	doc, err = goquery.NewDocumentFromReader(do(s, http.MethodGet, "/?q=bo").Body)
	require.NoError(t, err)
	cards := doc.Find(".ebook-card")
	require.Equal(t, 1, cards.Length())
	assert.Equal(t, "Alpha", cards.Find(".title").Text())

	// The stored snapshot is never narrowed by a request.
	assert.Len(t, s.Store().Snapshot().Entries, 2)
	assert.Empty(t, s.Store().Snapshot().Query)
}

func TestIndex_QueryTooLong(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})

	w := do(s, http.MethodGet, "/?q="+strings.Repeat("x", maxQueryLength+1))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "query too long")
}

func TestEntriesEndpoint(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	w := do(s, http.MethodGet, "/api/entries?q=A")
	require.Equal(t, http.StatusOK, w.Code)

	var resp EntriesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "A", resp.Query)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "Alpha", resp.Entries[0].Title)
	assert.Equal(t, "1.5 KB", resp.Entries[0].SizeDisplay)
	assert.Equal(t, "—", resp.Entries[1].PageCount)
}

func TestRefreshEndpoint(t *testing.T) {
	loader := &stubLoader{entries: sampleManifest()}
	s := newTestServer(t, Config{}, loader)

	w := do(s, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusOK, w.Code)

	var resp RefreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, statusCompleted, resp.Status)
	assert.Equal(t, 2, resp.Entries)
	assert.Equal(t, s.Store().Snapshot().BuildID.String(), resp.BuildID)

	loader.entries, loader.err = nil, &manifest.EmptyError{Source: "ebooks.json", Reason: "not found"}
	w = do(s, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, statusEmpty, resp.Status)
	assert.True(t, s.Store().Snapshot().Empty())
}

func TestRefreshEndpoint_Conflict(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})

	s.refreshMu.Lock()
	w := do(s, http.MethodPost, "/refresh")
	s.refreshMu.Unlock()

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRefreshStream(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})

	w := do(s, http.MethodGet, "/refresh/stream")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: "+EventProgress+"\n"))
	assert.Equal(t, 1, strings.Count(body, "event: "+EventComplete+"\n"))
	assert.Less(t, strings.LastIndex(body, "event: "+EventProgress), strings.Index(body, "event: "+EventComplete))
	assert.Len(t, s.Store().Snapshot().Entries, 2)
}

func TestRefreshStream_Conflict(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})

	s.refreshMu.Lock()
	w := do(s, http.MethodGet, "/refresh/stream")
	s.refreshMu.Unlock()

	assert.Contains(t, w.Body.String(), "event: "+EventError)
	assert.Contains(t, w.Body.String(), "already in progress")
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF-1.4"), 0o644))

	s := newTestServer(t, Config{StaticDir: dir}, &stubLoader{entries: sampleManifest()})
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	w := do(s, http.MethodGet, "/a.pdf")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4", w.Body.String())

	noStatic := newTestServer(t, Config{}, &stubLoader{entries: sampleManifest()})
	_, err = noStatic.Refresh(context.Background())
	require.NoError(t, err)
	w = do(noStatic, http.MethodGet, "/a.pdf")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStaticFiles_OnlyCatalogDocuments(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		".env":              "SECRET=hunter2\n",
		"ebooks.json":       `[{"file":"a.pdf","title":"Alpha"}]`,
		"catalog.yaml":      "port: 8080\n",
		"a.pdf":             "%PDF-1.4",
		"books/nested.pdf":  "%PDF-1.5",
		"books/.hidden.pdf": "%PDF-1.6",
	}
	for name, body := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(body), 0o644))
	}

	loader := &stubLoader{entries: []types.ManifestEntry{
		{File: "a.pdf", Title: "Alpha"},
		{File: "./books/nested.pdf", Title: "Nested"},
		{File: "books/.hidden.pdf", Title: "Hidden"},
		{File: "https://cdn.example.com/remote.pdf", Title: "Remote"},
	}}
	s := newTestServer(t, Config{StaticDir: dir}, loader)

	// Nothing is served before the catalog lists it.
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/a.pdf").Code)

	_, err := s.Refresh(context.Background())
	require.NoError(t, err)

	tests := []struct {
		target string
		want   int
	}{
		{target: "/a.pdf", want: http.StatusOK},
		{target: "/books/nested.pdf", want: http.StatusOK},
		{target: "/.env", want: http.StatusNotFound},
		{target: "/ebooks.json", want: http.StatusNotFound},
		{target: "/catalog.yaml", want: http.StatusNotFound},
		{target: "/books/", want: http.StatusNotFound},
		{target: "/books/.hidden.pdf", want: http.StatusNotFound},
		{target: "/%2eenv", want: http.StatusNotFound},
		{target: "/remote.pdf", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := do(s, http.MethodGet, tt.target)
			assert.Equal(t, tt.want, w.Code)
			assert.NotContains(t, w.Body.String(), "hunter2")
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, Config{}, &stubLoader{})

	w := do(s, http.MethodOptions, "/refresh")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RateLimit: &ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
	}}, &stubLoader{})

	w := do(s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = do(s, http.MethodGet, "/")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp["error"])

	// Health stays reachable.
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/health").Code)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, Config{Port: 0}, &stubLoader{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNew_RequiresBuilder(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil)
	assert.Error(t, err)
}
