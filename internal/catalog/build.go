// Package catalog builds the enriched catalog and filters it for display.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/ebook-catalog/internal/logging"
	"github.com/jonathan/ebook-catalog/internal/manifest"
	"github.com/jonathan/ebook-catalog/internal/types"
)

// ErrEmptyCatalog signals the view should show its empty state.
var ErrEmptyCatalog = errors.New("catalog is empty")

// ManifestLoader loads the manifest entries.
type ManifestLoader interface {
	Load(ctx context.Context) ([]types.ManifestEntry, error)
}

// MetadataResolver resolves metadata for one entry. It is expected not to fail.
type MetadataResolver interface {
	Resolve(ctx context.Context, entry types.ManifestEntry) types.ResolvedMetadata
}

// ProgressEvent reports one resolved entry during a build.
type ProgressEvent struct {
	BuildID  string             `json:"build_id"`
	Index    int                `json:"index"`
	Total    int                `json:"total"`
	Resolved int                `json:"resolved"`
	Entry    types.DisplayEntry `json:"entry"`
}

// ProgressCallback is called as entries resolve, from the resolving goroutine.
type ProgressCallback func(event ProgressEvent)

// Builder turns a manifest into display entries.
type Builder struct {
	Loader     ManifestLoader
	Resolver   MetadataResolver
	Logger     *zap.Logger
	OnProgress ProgressCallback
}

// NewBuilder creates a builder.
func NewBuilder(loader ManifestLoader, resolver MetadataResolver, logger *zap.Logger) *Builder {
	logger = logging.OrNop(logger)
	return &Builder{Loader: loader, Resolver: resolver, Logger: logger}
}

// Build loads the manifest and resolves every entry concurrently.
// Output order equals manifest order. An absent or empty manifest, or any
// failure escaping a resolver, yields an empty slice and ErrEmptyCatalog.
func (b *Builder) Build(ctx context.Context) ([]types.DisplayEntry, error) {
	entries, _, err := b.build(ctx, uuid.New())
	return entries, err
}

// Refresh builds the catalog and replaces the store's snapshot with the result.
// On failure the store is replaced with an empty catalog.
func (b *Builder) Refresh(ctx context.Context, store *Store) (*State, error) {
	buildID := uuid.New()
	entries, elapsed, err := b.build(ctx, buildID)
	state := NewState(buildID, entries, elapsed)
	store.Replace(state)
	return state, err
}

func (b *Builder) build(ctx context.Context, buildID uuid.UUID) ([]types.DisplayEntry, time.Duration, error) {
	start := time.Now()
	logger := b.logger().With(zap.String("build_id", buildID.String()))

	entries, err := b.Loader.Load(ctx)
	if err != nil {
		if errors.Is(err, manifest.ErrEmpty) {
			logger.Info("no catalog entries to show", zap.Error(err))
		} else {
			logger.Error("manifest load failed", zap.Error(err))
		}
		return []types.DisplayEntry{}, time.Since(start), fmt.Errorf("%w: %w", ErrEmptyCatalog, err)
	}
	if len(entries) == 0 {
		return []types.DisplayEntry{}, time.Since(start), ErrEmptyCatalog
	}

	results, err := b.resolveAll(ctx, buildID, entries)
	if err != nil {
		// Fail closed: partial results are discarded.
		logger.Error("catalog enrichment failed", zap.Error(err))
		return []types.DisplayEntry{}, time.Since(start), fmt.Errorf("%w: %w", ErrEmptyCatalog, err)
	}

	elapsed := time.Since(start)
	logger.Info("catalog built", zap.Int("entries", len(results)), zap.Duration("elapsed", elapsed))
	return results, elapsed, nil
}

func (b *Builder) resolveAll(ctx context.Context, buildID uuid.UUID, entries []types.ManifestEntry) ([]types.DisplayEntry, error) {
	results := make([]types.DisplayEntry, len(entries))
	tracker := newProgressTracker(len(entries))

	// No SetLimit: every entry is resolved at once.
	g, gCtx := errgroup.WithContext(ctx)
	for i := range entries {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("resolving %s: panic: %v", entries[i].File, rec)
				}
			}()

			meta := b.Resolver.Resolve(gCtx, entries[i])
			// Each goroutine owns its own index.
			results[i] = types.NewDisplayEntry(entries[i], meta)

			if b.OnProgress != nil {
				b.OnProgress(ProgressEvent{
					BuildID:  buildID.String(),
					Index:    i,
					Total:    len(entries),
					Resolved: tracker.done(),
					Entry:    results[i],
				})
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (b *Builder) logger() *zap.Logger {
	return logging.OrNop(b.Logger)
}
