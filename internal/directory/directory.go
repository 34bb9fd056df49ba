// Package directory maintains the two views of files visible to the
// current identity — owned and shared-with-me — along with aggregate
// usage stats derived from the owned view.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/anonfs/anonfs-go/internal/vault"
)

// View selects one of the two file collections.
type View string

const (
	ViewOwned  View = "owned"
	ViewShared View = "shared"
)

// ErrUnknownView is returned for a view other than owned or shared.
var ErrUnknownView = errors.New("directory: unknown view")

// Lister is the read surface of the vault API the directory consumes.
// *vault.Client satisfies it.
type Lister interface {
	ListMyFiles(ctx context.Context) ([]vault.FileResource, error)
	ListSharedFiles(ctx context.Context) ([]vault.FileResource, error)
}

// Stats are derived from the owned view only — shared files count against
// their owner's usage, not ours.
type Stats struct {
	TotalSize int64
	Count     int
}

// ComputeStats is the pure aggregation over a listing.
func ComputeStats(files []vault.FileResource) Stats {
	var s Stats
	for i := range files {
		s.TotalSize += files[i].FileSize
		s.Count++
	}

	return s
}

// Directory fetches and holds the per-view listings. A List call for a
// view that already has a fetch in flight cancels the older fetch
// (cancel-and-replace), so a slow stale response can never overwrite a
// newer one. On fetch failure the prior listing is left untouched and the
// error is recorded for observability.
type Directory struct {
	api    Lister
	cache  *Cache // optional; nil disables caching
	logger *slog.Logger

	mu       sync.Mutex
	views    map[View][]vault.FileResource
	lastErr  map[View]error
	inflight map[View]context.CancelFunc
	gen      map[View]uint64
}

// New creates a Directory. cache may be nil.
func New(api Lister, cache *Cache, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Directory{
		api:      api,
		cache:    cache,
		logger:   logger,
		views:    make(map[View][]vault.FileResource),
		lastErr:  make(map[View]error),
		inflight: make(map[View]context.CancelFunc),
		gen:      make(map[View]uint64),
	}
}

// List fetches the given view and, on success, replaces the in-memory
// listing and the cache. Returns the fresh listing.
func (d *Directory) List(ctx context.Context, view View) ([]vault.FileResource, error) {
	if view != ViewOwned && view != ViewShared {
		return nil, fmt.Errorf("%w: %q", ErrUnknownView, view)
	}

	fetchCtx, myGen := d.beginFetch(ctx, view)
	defer d.endFetch(view, myGen)

	var (
		files []vault.FileResource
		err   error
	)

	switch view {
	case ViewOwned:
		files, err = d.api.ListMyFiles(fetchCtx)
	case ViewShared:
		files, err = d.api.ListSharedFiles(fetchCtx)
	}

	return d.completeFetch(ctx, view, myGen, files, err)
}

// beginFetch cancels any in-flight fetch for the view and registers a new
// one, returning its context and generation number.
func (d *Directory) beginFetch(ctx context.Context, view View) (context.Context, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cancel, ok := d.inflight[view]; ok {
		d.logger.Debug("canceling in-flight fetch", slog.String("view", string(view)))
		cancel()
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	d.inflight[view] = cancel
	d.gen[view]++

	return fetchCtx, d.gen[view]
}

// endFetch releases the in-flight slot if it still belongs to this fetch.
func (d *Directory) endFetch(view View, myGen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.gen[view] == myGen {
		if cancel, ok := d.inflight[view]; ok {
			cancel()
			delete(d.inflight, view)
		}
	}
}

// completeFetch applies the fetch outcome unless a newer fetch has been
// issued for the same view, in which case the result is discarded.
func (d *Directory) completeFetch(
	ctx context.Context, view View, myGen uint64, files []vault.FileResource, err error,
) ([]vault.FileResource, error) {
	d.mu.Lock()

	stale := d.gen[view] != myGen
	if stale {
		d.mu.Unlock()
		d.logger.Debug("discarding stale fetch result", slog.String("view", string(view)))

		return nil, context.Canceled
	}

	if err != nil {
		// Prior listing stays; the error is recorded, not fatal.
		d.lastErr[view] = err
		d.mu.Unlock()

		d.logger.Warn("view fetch failed",
			slog.String("view", string(view)),
			slog.String("error", err.Error()),
		)

		return nil, err
	}

	d.views[view] = files
	d.lastErr[view] = nil
	d.mu.Unlock()

	d.logger.Info("view refreshed",
		slog.String("view", string(view)),
		slog.Int("count", len(files)),
	)

	if d.cache != nil {
		if cacheErr := d.cache.ReplaceView(ctx, view, files); cacheErr != nil {
			d.logger.Warn("updating listing cache failed",
				slog.String("view", string(view)),
				slog.String("error", cacheErr.Error()),
			)
		}
	}

	return files, nil
}

// Refresh fetches both views concurrently.
func (d *Directory) Refresh(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := d.List(gctx, ViewOwned)
		return err
	})

	g.Go(func() error {
		_, err := d.List(gctx, ViewShared)
		return err
	})

	return g.Wait()
}

// Files returns the current in-memory listing for a view.
func (d *Directory) Files(view View) []vault.FileResource {
	d.mu.Lock()
	defer d.mu.Unlock()

	files := d.views[view]
	out := make([]vault.FileResource, len(files))
	copy(out, files)

	return out
}

// LastError returns the most recent fetch error for a view, or nil.
func (d *Directory) LastError(view View) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.lastErr[view]
}

// Stats aggregates over the current owned view.
func (d *Directory) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return ComputeStats(d.views[ViewOwned])
}

// Cached returns the last persisted listing for a view, for offline
// display when the vault is unreachable.
func (d *Directory) Cached(ctx context.Context, view View) ([]vault.FileResource, error) {
	if d.cache == nil {
		return nil, nil
	}

	return d.cache.ListView(ctx, view)
}
