// Package manifest loads the list of catalog entries from a JSON manifest.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/jonathan/ebook-catalog/internal/fetch"
	"github.com/jonathan/ebook-catalog/internal/logging"
	"github.com/jonathan/ebook-catalog/internal/schemas"
	"github.com/jonathan/ebook-catalog/internal/types"
)

// DefaultSource is the manifest location used when none is configured.
const DefaultSource = "ebooks.json"

// ErrEmpty is returned when there is nothing to show: the manifest is missing,
// unreadable, malformed, or lists no entries.
var ErrEmpty = errors.New("manifest is empty or unavailable")

// EmptyError carries the reason a manifest degraded to ErrEmpty.
type EmptyError struct {
	Source string
	Reason string
	Cause  error
}

func (e *EmptyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("manifest %s: %s: %v", e.Source, e.Reason, e.Cause)
	}
	return fmt.Sprintf("manifest %s: %s", e.Source, e.Reason)
}

func (e *EmptyError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrEmpty) hold for every EmptyError.
func (e *EmptyError) Is(target error) bool {
	return target == ErrEmpty
}

// Loader reads a manifest from a URL or a local path.
type Loader struct {
	Source  string
	Options *fetch.Options
	Logger  *zap.Logger
}

// NewLoader creates a loader for source. An empty source means DefaultSource.
func NewLoader(source string, opts *fetch.Options, logger *zap.Logger) *Loader {
	if source == "" {
		source = DefaultSource
	}
	logger = logging.OrNop(logger)
	return &Loader{Source: source, Options: opts, Logger: logger}
}

// Load fetches and parses the manifest once.
// Every failure path returns an error satisfying errors.Is(err, ErrEmpty).
func (l *Loader) Load(ctx context.Context) ([]types.ManifestEntry, error) {
	logger := l.logger().With(zap.String("manifest", l.Source))

	body, err := l.read(ctx)
	if err != nil {
		logger.Debug("manifest not readable", zap.Error(err))
		return nil, &EmptyError{Source: l.Source, Reason: "not found", Cause: err}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		logger.Debug("manifest is not a JSON array", zap.Error(err))
		return nil, &EmptyError{Source: l.Source, Reason: "malformed", Cause: err}
	}

	entries := decodeEntries(items, logger)
	entries = dedupe(entries, logger)
	if len(entries) == 0 {
		logger.Info("manifest lists no entries")
		return nil, &EmptyError{Source: l.Source, Reason: "no entries"}
	}

	logger.Debug("manifest loaded", zap.Int("entries", len(entries)))
	return entries, nil
}

func (l *Loader) read(ctx context.Context) ([]byte, error) {
	if fetch.IsRemote(l.Source) {
		result, err := fetch.URL(ctx, l.Source, l.Options)
		if err != nil {
			return nil, err
		}
		return result.Body, nil
	}
	return os.ReadFile(fetch.LocalPath(l.Source))
}

func (l *Loader) logger() *zap.Logger {
	return logging.OrNop(l.Logger)
}

// decodeEntries keeps the items that satisfy the entry schema. A bad item is dropped
// on its own; it never empties the rest of the manifest.
func decodeEntries(items []json.RawMessage, logger *zap.Logger) []types.ManifestEntry {
	entries := make([]types.ManifestEntry, 0, len(items))
	for i, raw := range items {
		if err := schemas.ValidateManifestEntry(raw); err != nil {
			logger.Warn("skipping malformed manifest entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		var entry types.ManifestEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			logger.Warn("skipping undecodable manifest entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// dedupe keeps the first entry for each file and drops entries that fail validation.
func dedupe(entries []types.ManifestEntry, logger *zap.Logger) []types.ManifestEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]types.ManifestEntry, 0, len(entries))
	for i := range entries {
		entry := entries[i]
		if err := entry.Validate(); err != nil {
			logger.Warn("skipping invalid manifest entry", zap.Int("index", i), zap.Error(err))
			continue
		}
		if _, dup := seen[entry.File]; dup {
			logger.Warn("skipping duplicate manifest entry", zap.String("file", entry.File))
			continue
		}
		seen[entry.File] = struct{}{}
		out = append(out, entry)
	}
	return out
}
