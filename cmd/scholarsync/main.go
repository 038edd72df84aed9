// Package main provides the entry point for the scholarsync aggregation CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scholarsync",
	Short: "Academic position aggregator",
	Long:  "scholarsync collects PhD and academic job postings from Bluesky and ScholarshipDB, classifies them with an LLM, deduplicates cross-posted announcements, and stores the results in CSV or PostgreSQL.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
