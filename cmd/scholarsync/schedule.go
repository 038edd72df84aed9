package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/jkaufmann/scholarsync/internal/aggregate"
	"github.com/jkaufmann/scholarsync/internal/config"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run syncs on a cron schedule",
	Long:  "Run the aggregation pass repeatedly on a cron schedule (robfig/cron syntax, e.g. \"@every 6h\" or \"0 */6 * * *\"). One pass runs immediately on startup.",
	RunE:  runSchedule,
}

var scheduleSpec string

func init() {
	scheduleCmd.Flags().StringVar(&scheduleSpec, "cron", "@every 6h", "Cron spec for the sync interval")

	// The schedule command takes the same tuning flags as sync.
	scheduleCmd.Flags().StringArrayVarP(&syncQueries, "query", "q", nil, "Search query (repeatable). Defaults to the PhD-related query list.")
	scheduleCmd.Flags().StringVarP(&syncOutput, "output", "o", "phd_positions.csv", "Output CSV filename (csv storage only)")
	scheduleCmd.Flags().IntVarP(&syncLimit, "limit", "l", 50, "Max results per query")
	scheduleCmd.Flags().BoolVar(&syncNoLLM, "no-llm", false, "Disable LLM classification")
	scheduleCmd.Flags().StringVar(&syncStorageKind, "storage", "csv", "Storage backend: csv or postgres")

	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	opts := syncRunOptions()

	runOnce := func() {
		summary, err := executeSync(ctx, cfg, opts)
		switch {
		case errors.Is(err, aggregate.ErrOracleUnavailable):
			log.Printf("[ERROR] %v; will retry on the next tick", err)
		case err != nil:
			log.Printf("[ERROR] Sync failed: %v", err)
		default:
			log.Printf("[INFO] Sync complete: %d fetched, %d saved, %d duplicates marked",
				summary.Fetched, summary.Saved, summary.Duplicates)
		}
	}

	c := cron.New(cron.WithLogger(cron.DefaultLogger))
	if _, err := c.AddFunc(scheduleSpec, runOnce); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", scheduleSpec, err)
	}

	c.Start()
	defer c.Stop()
	log.Printf("[INFO] Scheduler started, spec: %s", scheduleSpec)

	// Populate immediately rather than waiting for the first tick.
	runOnce()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
		log.Printf("[INFO] Shutting down scheduler")
	case <-ctx.Done():
	}
	return nil
}
