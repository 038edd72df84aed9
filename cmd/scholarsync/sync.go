package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/jkaufmann/scholarsync/internal/aggregate"
	"github.com/jkaufmann/scholarsync/internal/classify"
	"github.com/jkaufmann/scholarsync/internal/config"
	"github.com/jkaufmann/scholarsync/internal/dedup"
	"github.com/jkaufmann/scholarsync/internal/fetch"
	"github.com/jkaufmann/scholarsync/internal/llm"
	"github.com/jkaufmann/scholarsync/internal/sources"
	"github.com/jkaufmann/scholarsync/internal/storage"
	"github.com/jkaufmann/scholarsync/internal/syncstate"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one aggregation pass over all configured sources",
	Long:  "Fetch new postings from Bluesky and ScholarshipDB, classify them, save the batch, deduplicate, and advance the per-source watermarks.",
	RunE:  runSync,
}

var (
	syncQueries     []string
	syncOutput      string
	syncLimit       int
	syncNoLLM       bool
	syncFullSync    bool
	syncStorageKind string
)

func init() {
	syncCmd.Flags().StringArrayVarP(&syncQueries, "query", "q", nil, "Search query (repeatable). Defaults to the PhD-related query list.")
	syncCmd.Flags().StringVarP(&syncOutput, "output", "o", "phd_positions.csv", "Output CSV filename (csv storage only)")
	syncCmd.Flags().IntVarP(&syncLimit, "limit", "l", sources.DefaultSearchLimit, "Max results per query")
	syncCmd.Flags().BoolVar(&syncNoLLM, "no-llm", false, "Disable LLM classification (uses GEMINI_API_KEY env var when enabled)")
	syncCmd.Flags().BoolVar(&syncFullSync, "full-sync", false, "Ignore last sync state and fetch all posts")
	syncCmd.Flags().StringVar(&syncStorageKind, "storage", "csv", "Storage backend: csv or postgres (postgres requires DATABASE_URL)")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	summary, err := executeSync(cmd.Context(), cfg, syncRunOptions())
	if err != nil {
		if errors.Is(err, aggregate.ErrOracleUnavailable) {
			// A scheduler must not see a crash loop when the provider has
			// a bad day; report and exit clean.
			log.Printf("[ERROR] %v", err)
			return nil
		}
		return err
	}

	log.Printf("[INFO] Sync complete: %d fetched, %d saved, %d duplicates marked (%d sources ok, %d failed)",
		summary.Fetched, summary.Saved, summary.Duplicates, summary.SourcesRun, summary.SourcesFail)
	return nil
}

type runOptions struct {
	queries     []string
	output      string
	limit       int
	noLLM       bool
	fullSync    bool
	storageKind string
}

func syncRunOptions() runOptions {
	return runOptions{
		queries:     syncQueries,
		output:      syncOutput,
		limit:       syncLimit,
		noLLM:       syncNoLLM,
		fullSync:    syncFullSync,
		storageKind: syncStorageKind,
	}
}

// executeSync wires the pipeline for one run and executes it.
func executeSync(ctx context.Context, cfg *config.Config, opts runOptions) (*aggregate.Summary, error) {
	// Storage backend
	var backend storage.Backend
	var pg *storage.PostgresStorage
	switch opts.storageKind {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("postgres storage requires DATABASE_URL")
		}
		var err error
		pg, err = storage.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensuring schema: %w", err)
		}
		backend = pg
	case "csv":
		backend = storage.NewCSVStorage(opts.output)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want csv or postgres)", opts.storageKind)
	}
	log.Printf("[INFO] Using %s storage backend", opts.storageKind)

	// Classification oracle
	var oracle llm.Client
	if !opts.noLLM && cfg.GeminiAPIKey != "" {
		var err error
		oracle, err = llm.NewClient(ctx, llm.DefaultConfig().WithModel(cfg.GeminiModel), cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("creating oracle client: %w", err)
		}
		defer func() { _ = oracle.Close() }()
		log.Printf("[INFO] LLM classification enabled (Gemini)")
	} else {
		log.Printf("[INFO] LLM classification disabled")
	}

	var classifier *classify.Classifier
	if oracle != nil {
		var err error
		classifier, err = classify.New(oracle)
		if err != nil {
			return nil, err
		}
	}

	// Shared Redis connection for the page cache, when configured.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(redisOpts)
		defer func() { _ = rdb.Close() }()
	}

	// Sources
	var srcs []sources.Source
	if cfg.HasBlueskyCredentials() {
		client, err := sources.DialBluesky(ctx, cfg.BlueskyService, cfg.BlueskyHandle, cfg.BlueskyPassword)
		if err != nil {
			log.Printf("[WARNING] Bluesky login failed, skipping source: %v", err)
		} else {
			srcs = append(srcs, sources.NewBlueskySource(client, classifier, &sources.BlueskyOptions{
				Queries: opts.queries,
				Limit:   opts.limit,
			}))
		}
	} else {
		log.Printf("[WARNING] No Bluesky credentials, skipping source")
	}
	fetcher := fetch.NewCachedFetcher(rdb, &fetch.CachedFetcherConfig{
		CacheTTL:   cfg.PageCacheTTL,
		UseBrowser: cfg.UseBrowser,
		Verbose:    cfg.Verbose,
	})
	srcs = append(srcs, sources.NewScholarshipDBSource(fetcher, nil))

	// Sync state: postgres derives it from the database itself.
	var states syncstate.Store
	stateFromStorage := opts.storageKind == "postgres"
	if !stateFromStorage {
		if cfg.RedisURL != "" {
			redisStates, err := syncstate.NewRedisStore(ctx, cfg.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("opening redis state store: %w", err)
			}
			defer func() { _ = redisStates.Close() }()
			states = redisStates
		} else {
			fileStates, err := syncstate.NewFileStore(cfg.StateFile)
			if err != nil {
				return nil, fmt.Errorf("opening state file: %w", err)
			}
			states = fileStates
		}
	}

	// Deduplication needs a backend that can serve and mark canonical posts.
	var engine *dedup.Engine
	if db, ok := backend.(storage.DedupBackend); ok {
		engine = dedup.NewEngine(db, oracle)
	}

	driver := aggregate.New(srcs, states, backend, engine, aggregate.Options{
		FullSync:         opts.fullSync,
		StateFromStorage: stateFromStorage,
	})

	// Postgres keeps an audit trail of runs.
	var runID uuid.UUID
	if pg != nil {
		var err error
		runID, err = pg.CreateRun(ctx)
		if err != nil {
			log.Printf("[WARNING] Could not record sync run: %v", err)
		}
	}

	summary, err := driver.Run(ctx)

	if pg != nil && runID != uuid.Nil {
		status := "completed"
		saved, duplicates := 0, 0
		if summary != nil {
			saved, duplicates = summary.Saved, summary.Duplicates
		}
		if err != nil {
			status = "failed"
		}
		if completeErr := pg.CompleteRun(ctx, runID, status, saved, duplicates); completeErr != nil {
			log.Printf("[WARNING] Could not complete sync run record: %v", completeErr)
		}
	}

	return summary, err
}
