package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"resona/internal/journal"
	"resona/internal/regen"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the regeneration audit trail, newest first",
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

			entries, err := store.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No history entries recorded.")
				return nil
			}

			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				detail := entry.Detail
				if detail == "" {
					detail = "-"
				}
				rows = append(rows, []string{
					entry.Timestamp.Local().Format(time.RFC3339),
					entry.AudioSourceID,
					entry.ProfileID,
					strings.ReplaceAll(entry.Action, "_", " "),
					strconv.Itoa(len(entry.DescriptorIDs)),
					colorizeStatus(string(entry.Outcome), entry.Outcome == regen.OutcomeSucceeded, colorize),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Time", "Source", "Profile", "Action", "Keys", "Outcome", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries to show (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit history as JSON")
	return cmd
}
