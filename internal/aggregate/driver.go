// Package aggregate orchestrates one sync run: fetch from every configured
// source, persist the batch, deduplicate, then advance the watermarks.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jkaufmann/scholarsync/internal/dedup"
	"github.com/jkaufmann/scholarsync/internal/llm"
	"github.com/jkaufmann/scholarsync/internal/model"
	"github.com/jkaufmann/scholarsync/internal/sources"
	"github.com/jkaufmann/scholarsync/internal/storage"
	"github.com/jkaufmann/scholarsync/internal/syncstate"
)

// ErrOracleUnavailable aborts a run when the classification oracle has
// exhausted its retry budget. Callers report it without a crash so
// schedulers do not enter a restart loop.
var ErrOracleUnavailable = errors.New("classification oracle unavailable")

// Summary reports what one run accomplished.
type Summary struct {
	Fetched     int
	Saved       int
	Duplicates  int
	SourcesRun  int
	SourcesFail int
}

// Options configures a Driver.
type Options struct {
	// FullSync ignores stored watermarks and seen-URI sets.
	FullSync bool
	// StateFromStorage derives the watermark and existing URIs from the
	// storage backend instead of the sync-state store. Used with the
	// Postgres backend, where the database itself is the source of truth.
	StateFromStorage bool
}

// Driver runs the aggregation pipeline over a fixed set of sources.
type Driver struct {
	sources []sources.Source
	states  syncstate.Store // may be nil with StateFromStorage
	backend storage.Backend
	engine  *dedup.Engine // nil disables deduplication
	opts    Options
}

// New builds a Driver. engine may be nil; states may be nil only when
// opts.StateFromStorage is set.
func New(srcs []sources.Source, states syncstate.Store, backend storage.Backend, engine *dedup.Engine, opts Options) *Driver {
	return &Driver{
		sources: srcs,
		states:  states,
		backend: backend,
		engine:  engine,
		opts:    opts,
	}
}

// pendingState is a source's advanced watermark, held back until the batch
// is safely stored.
type pendingState struct {
	source        string
	lastTimestamp string
	seenURIs      map[string]struct{}
}

// Run executes one full sync. Source failures are isolated: a failing
// source is logged and skipped while the others proceed. Oracle exhaustion
// is the exception and aborts the whole run with ErrOracleUnavailable.
// Watermarks only advance after the batch is persisted.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}
	var batch []model.Post
	var pending []pendingState

	// With storage-derived state every source shares one watermark and
	// URI set, loaded once.
	var sharedSince string
	var sharedURIs map[string]struct{}
	if d.opts.StateFromStorage && !d.opts.FullSync {
		var err error
		sharedSince, err = d.backend.LastTimestamp(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading watermark from storage: %w", err)
		}
		sharedURIs, err = d.backend.ExistingURIs(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading existing URIs from storage: %w", err)
		}
		if sharedSince != "" {
			log.Printf("[INFO] Incremental sync from %s (%d existing posts)", sharedSince, len(sharedURIs))
		} else {
			log.Printf("[INFO] Full sync (no posts in storage)")
		}
	}

	for _, src := range d.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		since, existing, err := d.sourceState(src.Name(), sharedSince, sharedURIs)
		if err != nil {
			log.Printf("[ERROR] Loading state for %s: %v", src.Name(), err)
			summary.SourcesFail++
			continue
		}

		log.Printf("[INFO] Syncing source: %s", src.Name())
		posts, seen, err := src.Fetch(ctx, since, existing)
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) {
				return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
			}
			log.Printf("[ERROR] Source %s failed: %v", src.Name(), err)
			summary.SourcesFail++
			continue
		}
		summary.SourcesRun++
		summary.Fetched += len(posts)
		log.Printf("[INFO] %s: %d new posts", src.Name(), len(posts))

		batch = append(batch, posts...)
		pending = append(pending, pendingState{
			source:        src.Name(),
			lastTimestamp: newestTimestamp(posts, since),
			seenURIs:      seen,
		})
	}

	if len(batch) == 0 {
		log.Printf("[INFO] No new posts to save")
		return summary, nil
	}

	saved, err := d.backend.SavePosts(ctx, batch)
	if err != nil {
		// Watermarks stay put so the next run re-fetches the batch.
		return nil, fmt.Errorf("saving posts: %w", err)
	}
	summary.Saved = saved
	log.Printf("[INFO] Saved %d posts", saved)

	if d.engine != nil {
		marked, err := d.engine.MarkOldDuplicates(ctx, batch)
		if err != nil {
			if errors.Is(err, llm.ErrUnavailable) {
				return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
			}
			// The batch is stored; a dedup hiccup should not block the
			// watermark advance.
			log.Printf("[WARNING] Deduplication failed: %v", err)
		}
		summary.Duplicates = marked
	}

	if d.states != nil && !d.opts.StateFromStorage {
		for _, p := range pending {
			if err := d.states.UpdateSourceState(p.source, p.lastTimestamp, p.seenURIs); err != nil {
				return summary, fmt.Errorf("updating state for %s: %w", p.source, err)
			}
		}
	}

	return summary, nil
}

// sourceState resolves the watermark and existing-URI set for one source.
func (d *Driver) sourceState(source, sharedSince string, sharedURIs map[string]struct{}) (string, map[string]struct{}, error) {
	if d.opts.FullSync {
		return "", nil, nil
	}
	if d.opts.StateFromStorage {
		return sharedSince, sharedURIs, nil
	}
	st, err := d.states.SourceState(source)
	if err != nil {
		return "", nil, err
	}
	if st.LastTimestamp != "" {
		log.Printf("[INFO] %s: incremental sync from %s", source, st.LastTimestamp)
	}
	return st.LastTimestamp, st.SeenURIs, nil
}

// newestTimestamp returns the most recent created timestamp in posts,
// falling back to the previous watermark when the fetch was empty.
func newestTimestamp(posts []model.Post, previous string) string {
	newest := previous
	for _, p := range posts {
		if p.CreatedAt > newest {
			newest = p.CreatedAt
		}
	}
	return newest
}
