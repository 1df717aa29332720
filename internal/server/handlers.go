package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/ebook-catalog/internal/catalog"
	"github.com/jonathan/ebook-catalog/internal/fetch"
	"github.com/jonathan/ebook-catalog/internal/types"
)

// EntriesResponse represents the response for /api/entries
type EntriesResponse struct {
	BuildID string               `json:"build_id"`
	BuiltAt string               `json:"built_at"`
	Query   string               `json:"query"`
	Total   int                  `json:"total"`
	Count   int                  `json:"count"`
	Entries []types.DisplayEntry `json:"entries"`
}

// RefreshResponse represents the response for /refresh
type RefreshResponse struct {
	BuildID   string `json:"build_id"`
	Status    string `json:"status"`
	Entries   int    `json:"entries"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Refresh statuses.
const (
	statusCompleted = "completed"
	statusEmpty     = "empty"
)

// queryParam reads and bounds the q parameter.
func queryParam(r *http.Request) (string, error) {
	q := r.URL.Query().Get("q")
	if len(q) > maxQueryLength {
		return "", &ErrValidation{Field: "q", Message: "query too long"}
	}
	return q, nil
}

// handleIndex renders the card page for the current snapshot
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	q, err := queryParam(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, s.store.Snapshot().WithQuery(q)); err != nil {
		s.logger.Error("render failed", zap.Error(err))
		s.errorResponse(w, http.StatusInternalServerError, "failed to render catalog")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// handleEntries returns the filtered entries as JSON
func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	q, err := queryParam(r)
	if err != nil {
		s.errorFrom(w, err)
		return
	}

	state := s.store.Snapshot().WithQuery(q)
	visible := state.Visible()
	s.jsonResponse(w, http.StatusOK, EntriesResponse{
		BuildID: state.BuildID.String(),
		BuiltAt: state.BuiltAt.Format(time.RFC3339),
		Query:   q,
		Total:   len(state.Entries),
		Count:   len(visible),
		Entries: visible,
	})
}

// handleStatic serves document files next to a local manifest.
// Only files the current catalog lists are reachable.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if s.static == nil || !s.servable(r.URL.Path) {
		s.errorFrom(w, &ErrNotFound{Path: r.URL.Path})
		return
	}
	s.static.ServeHTTP(w, r)
}

// servable reports whether urlPath names a local document of the current snapshot.
func (s *Server) servable(urlPath string) bool {
	name := documentPath(urlPath)
	if name == "" {
		return false
	}
	for _, segment := range strings.Split(name, "/") {
		if strings.HasPrefix(segment, ".") {
			return false
		}
	}

	for _, e := range s.store.Snapshot().Entries {
		if e.Location != "" || fetch.IsRemote(e.File) {
			continue
		}
		if documentPath(e.File) == name {
			return true
		}
	}
	return false
}

// documentPath normalizes a file reference or request path to a slash path
// relative to the static root.
func documentPath(ref string) string {
	if unescaped, err := url.PathUnescape(ref); err == nil {
		ref = unescaped
	}
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(ref)), "/")
}

// handleRefresh rebuilds the catalog and reports the new snapshot
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	// A client hanging up must not leave the catalog half-built.
	ctx := context.WithoutCancel(r.Context())

	state, err := s.tryRefresh(ctx, nil)
	if err != nil && !errors.Is(err, catalog.ErrEmptyCatalog) {
		s.errorFrom(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, refreshResponse(state))
}

// handleRefreshStream rebuilds the catalog and streams progress via SSE
func (s *Server) handleRefreshStream(w http.ResponseWriter, r *http.Request) {
	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	reqCtx := r.Context()
	events := make(chan catalog.ProgressEvent)
	type result struct {
		state *catalog.State
		err   error
	}
	done := make(chan result, 1)

	go func() {
		state, err := s.tryRefresh(context.WithoutCancel(reqCtx), func(ev catalog.ProgressEvent) {
			select {
			case events <- ev:
			case <-reqCtx.Done():
			}
		})
		done <- result{state: state, err: err}
	}()

	for {
		select {
		case ev := <-events:
			if err := sse.WriteEvent(EventProgress, ev); err != nil {
				s.logger.Debug("error writing SSE event", zap.Error(err))
			}
		case res := <-done:
			var inProgress *ErrRefreshInProgress
			if errors.As(res.err, &inProgress) {
				sse.WriteError(res.err.Error())
				return
			}
			if res.err != nil {
				s.logger.Info("streamed refresh ended empty", zap.Error(res.err))
			}
			sse.WriteComplete(refreshResponse(res.state))
			return
		case <-reqCtx.Done():
			return
		}
	}
}

func refreshResponse(state *catalog.State) RefreshResponse {
	status := statusCompleted
	if state.Empty() {
		status = statusEmpty
	}
	return RefreshResponse{
		BuildID:   state.BuildID.String(),
		Status:    status,
		Entries:   len(state.Entries),
		ElapsedMS: state.Elapsed.Milliseconds(),
	}
}

// errorFrom writes err with the status HTTPStatus assigns it.
func (s *Server) errorFrom(w http.ResponseWriter, err error) {
	s.errorResponse(w, HTTPStatus(err), err.Error())
}
