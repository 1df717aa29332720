package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/ebook-catalog/internal/fetch"
	"github.com/jonathan/ebook-catalog/internal/logging"
	"github.com/jonathan/ebook-catalog/internal/types"
)

// Default probe budgets. Each probe of an entry gets its own budget.
const (
	DefaultProbeTimeout = 5 * time.Second
	DefaultParseTimeout = 5 * time.Second
)

// ErrTimeout is reported when a probe loses the race against its timeout.
var ErrTimeout = errors.New("probe timed out")

// Resolver fills in ResolvedMetadata for a single manifest entry.
// Resolve never fails; probe errors become sentinel values.
type Resolver struct {
	Sizer        Sizer
	Pages        PageCounter
	ProbeTimeout time.Duration
	ParseTimeout time.Duration
	// Base is the manifest location relative entry files are resolved against.
	Base   string
	Logger *zap.Logger
}

// NewResolver creates a resolver with the HTTP size probe and the default page counters.
func NewResolver(base string, opts *fetch.Options, logger *zap.Logger) *Resolver {
	return &Resolver{
		Sizer:        HTTPSizer{Options: opts},
		Pages:        DefaultPageCounter(opts),
		ProbeTimeout: DefaultProbeTimeout,
		ParseTimeout: DefaultParseTimeout,
		Base:         base,
		Logger:       logger,
	}
}

// Resolve runs the size probe and the page-count probe concurrently and merges
// their results. Each probe runs exactly once; nothing is cached.
func (r *Resolver) Resolve(ctx context.Context, entry types.ManifestEntry) types.ResolvedMetadata {
	meta := types.DefaultMetadata()
	location := fetch.ResolveReference(r.Base, entry.File)
	if fetch.IsRemote(location) {
		meta.Location = location
	}
	logger := r.logger().With(zap.String("file", entry.File))

	var (
		wg       sync.WaitGroup
		size     int64
		sizeErr  error
		pages    int
		pagesErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		size, sizeErr = r.probeSize(ctx, location)
	}()
	go func() {
		defer wg.Done()
		pages, pagesErr = r.probePages(ctx, location)
	}()
	wg.Wait()

	if sizeErr != nil {
		logger.Debug("size probe failed", zap.Error(sizeErr))
	} else {
		meta.SizeBytes = size
		meta.SizeDisplay = FormatSize(size)
	}

	if pagesErr != nil {
		logger.Debug("page count unavailable", zap.Error(pagesErr))
	} else {
		meta.PageCount = strconv.Itoa(pages)
	}

	return meta
}

// probeSize bounds the size request by ProbeTimeout; expiry aborts the request.
func (r *Resolver) probeSize(ctx context.Context, location string) (size int64, err error) {
	if r.Sizer == nil {
		return 0, errors.New("no size probe configured")
	}
	defer func() {
		if rec := recover(); rec != nil {
			size, err = 0, fmt.Errorf("size probe panicked: %v", rec)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, orDefault(r.ProbeTimeout, DefaultProbeTimeout))
	defer cancel()

	size, err = r.Sizer.Size(ctx, location)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return 0, err
	}
	if size < 0 {
		return 0, ErrNoLength
	}
	return size, nil
}

// probePages races the page counter against ParseTimeout.
func (r *Resolver) probePages(ctx context.Context, location string) (int, error) {
	if r.Pages == nil {
		return 0, errors.New("no page counter configured")
	}
	return race(ctx, orDefault(r.ParseTimeout, DefaultParseTimeout), func(ctx context.Context) (int, error) {
		return r.Pages.CountPages(ctx, location)
	})
}

func (r *Resolver) logger() *zap.Logger {
	return logging.OrNop(r.Logger)
}

type outcome[T any] struct {
	value T
	err   error
}

// race runs fn and returns whichever settles first: fn or the timeout.
// fn keeps running in the background if it loses; its result is discarded.
// fn's context is cancelled once the race settles, which fn may ignore.
func race[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so a late result never blocks the abandoned goroutine.
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome[T]{err: fmt.Errorf("task panicked: %v", rec)}
			}
		}()
		v, err := fn(taskCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.value, o.err
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
