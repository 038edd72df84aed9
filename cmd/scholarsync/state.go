package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jkaufmann/scholarsync/internal/config"
	"github.com/jkaufmann/scholarsync/internal/syncstate"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show or clear per-source sync state",
	Long:  "Show each source's watermark timestamp and seen-URI count, or clear one source's state so its next sync starts from scratch.",
	RunE:  runState,
}

var stateClear string

func init() {
	stateCmd.Flags().StringVar(&stateClear, "clear", "", "Clear the named source's state instead of listing")

	rootCmd.AddCommand(stateCmd)
}

func openStateStore(cmd *cobra.Command, cfg *config.Config) (syncstate.Store, func(), error) {
	if cfg.RedisURL != "" {
		store, err := syncstate.NewRedisStore(cmd.Context(), cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("opening redis state store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}
	store, err := syncstate.NewFileStore(cfg.StateFile)
	if err != nil {
		return nil, nil, fmt.Errorf("opening state file: %w", err)
	}
	return store, func() {}, nil
}

func runState(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, closeStore, err := openStateStore(cmd, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if stateClear != "" {
		if err := store.ClearSource(stateClear); err != nil {
			return fmt.Errorf("clearing state for %s: %w", stateClear, err)
		}
		fmt.Fprintf(os.Stdout, "Cleared sync state for %s\n", stateClear)
		return nil
	}

	names, err := store.Sources()
	if err != nil {
		return fmt.Errorf("listing sources: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(os.Stdout, "No sync state recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tLAST TIMESTAMP\tSEEN URIS")
	for _, name := range names {
		st, err := store.SourceState(name)
		if err != nil {
			return fmt.Errorf("reading state for %s: %w", name, err)
		}
		ts := st.LastTimestamp
		if ts == "" {
			ts = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", name, ts, len(st.SeenURIs))
	}
	return w.Flush()
}
