package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newExtraneousCommand(ctx *commandContext) *cobra.Command {
	extraneousCmd := &cobra.Command{
		Use:   "extraneous",
		Short: "Inspect and remove cached features no intent requires",
	}
	extraneousCmd.AddCommand(newExtraneousListCommand(ctx))
	extraneousCmd.AddCommand(newExtraneousDeleteCommand(ctx))
	return extraneousCmd
}

func newExtraneousListCommand(ctx *commandContext) *cobra.Command {
	var sessionPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List extraneous cached descriptors",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.loadSession(sessionPath, false)
			if err != nil {
				return err
			}
			defer sess.close()

			rows := [][]string{}
			for _, result := range sess.store.Diffs() {
				for _, key := range result.Extraneous {
					rows = append(rows, []string{result.AudioSourceID, result.ProfileID, key})
				}
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No extraneous cached descriptors.")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Source", "Profile", "Descriptor"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionPath, "session", "s", "", "Session document to inspect")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newExtraneousDeleteCommand(ctx *commandContext) *cobra.Command {
	var sessionPath string
	var write bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete every extraneous feature track from the session's caches",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := ctx.loadSession(sessionPath, true)
			if err != nil {
				return err
			}
			defer sess.close()

			before := 0
			for _, result := range sess.store.Diffs() {
				before += len(result.Extraneous)
			}
			out := cmd.OutOrStdout()
			if before == 0 {
				fmt.Fprintln(out, "No extraneous cached descriptors.")
				return nil
			}

			if err := sess.store.DeleteExtraneousCaches(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(out, "Deleted %d extraneous feature track(s).\n", before)

			if write {
				if err := sess.save(); err != nil {
					return fmt.Errorf("update session file: %w", err)
				}
				fmt.Fprintf(out, "Updated %s\n", sess.path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionPath, "session", "s", "", "Session document to clean")
	cmd.Flags().BoolVar(&write, "write", true, "Write updated caches back to the session file")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
