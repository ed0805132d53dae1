package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"resona/internal/diff"
)

func newDiffCommand(ctx *commandContext) *cobra.Command {
	var sessionPath string
	var jsonOutput bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Reconcile a session's intents against its feature caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.loadSession(sessionPath, false)
			if err != nil {
				return err
			}
			defer sess.close()

			results := sess.store.Diffs()
			if jsonOutput {
				return writeJSON(cmd, results)
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(out, "No intents or caches to reconcile.")
				return nil
			}

			colorize := shouldColorize(out)
			headers := []string{"Source", "Profile", "Tracks", "Missing", "Stale", "Extraneous", "Bad", "Regenerating", "Cached", "Status"}
			rows := make([][]string, 0, len(results))
			for _, result := range results {
				rows = append(rows, []string{
					result.AudioSourceID,
					result.ProfileID,
					strings.Join(result.TrackRefs, ", "),
					strconv.Itoa(len(result.Missing)),
					strconv.Itoa(len(result.Stale)),
					strconv.Itoa(len(result.Extraneous)),
					strconv.Itoa(len(result.BadRequest)),
					strconv.Itoa(len(result.Regenerating)),
					strconv.Itoa(len(result.DescriptorsCached)),
					colorizeStatus(string(result.Status), result.Status == diff.StatusClear, colorize),
				})
			}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))

			if verbose {
				for _, result := range results {
					printBuckets(cmd, result)
				}
			}
			if sess.store.MissingPopupVisible() {
				fmt.Fprintln(out, "Missing descriptors detected; regeneration is recommended.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionPath, "session", "s", "", "Session document to reconcile")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit raw diff results as JSON")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List every descriptor key per bucket")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func printBuckets(cmd *cobra.Command, result diff.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n%s (%s)\n", result.AudioSourceID, result.ProfileID)
	buckets := []struct {
		label string
		keys  []string
	}{
		{"missing", result.Missing},
		{"stale", result.Stale},
		{"extraneous", result.Extraneous},
		{"bad request", result.BadRequest},
		{"regenerating", result.Regenerating},
		{"cached", result.DescriptorsCached},
	}
	for _, bucket := range buckets {
		if len(bucket.keys) == 0 {
			continue
		}
		fmt.Fprintf(out, "  %s:\n", bucket.label)
		for _, key := range bucket.keys {
			owners := result.Owners[key]
			if len(owners) > 0 {
				fmt.Fprintf(out, "    %s (owners: %s)\n", key, strings.Join(owners, ", "))
			} else {
				fmt.Fprintf(out, "    %s\n", key)
			}
		}
	}
}
