package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"resona/internal/journal"
)

func newJournalCommand(ctx *commandContext) *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Journal database maintenance",
	}
	journalCmd.AddCommand(newJournalHealthCommand(ctx))
	journalCmd.AddCommand(newJournalPruneCommand(ctx))
	return journalCmd
}

func newJournalHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Report journal database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.CheckHealth(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database: %s\n", health.DBPath)
			fmt.Fprintf(out, "Lock file: %s\n", health.LockPath)
			if !health.DatabaseExists {
				fmt.Fprintln(out, "Database file does not exist yet.")
				return nil
			}
			fmt.Fprintf(out, "Size: %d bytes\n", health.SizeBytes)
			fmt.Fprintf(out, "History entries: %d\n", health.HistoryEntries)
			for status, count := range health.JobCounts {
				fmt.Fprintf(out, "Jobs %s: %d\n", status, count)
			}
			return nil
		},
	}
}

func newJournalPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete history entries older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			cutoff := time.Now().UTC().Add(-olderThan)
			removed, err := store.PruneBefore(cmd.Context(), cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d history entr%s older than %s.\n",
				removed, pluralSuffix(removed), cutoff.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age threshold for pruning")
	return cmd
}

func pluralSuffix(n int64) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
