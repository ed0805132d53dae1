package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"resona/internal/regen"
)

func newRegenCommand(ctx *commandContext) *cobra.Command {
	var sessionPath string
	var audioSourceID string
	var profileID string
	var all bool
	var write bool

	cmd := &cobra.Command{
		Use:   "regen [descriptorKey ...]",
		Short: "Schedule regeneration for missing or stale descriptors",
		Long: `Schedules regeneration jobs against the session's feature caches. With
--all, every missing and stale descriptor in the session is regenerated;
otherwise the given descriptor keys for --source/--profile are submitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !all && len(args) == 0 {
				return fmt.Errorf("pass descriptor keys or --all")
			}
			if !all && audioSourceID == "" {
				return fmt.Errorf("--source is required with explicit descriptor keys")
			}

			sess, err := ctx.loadSession(sessionPath, true)
			if err != nil {
				return err
			}
			defer sess.close()

			out := cmd.OutOrStdout()
			var jobs []*regen.Job
			if all {
				for _, result := range sess.store.Diffs() {
					keys := append(append([]string(nil), result.Missing...), result.Stale...)
					if len(keys) == 0 {
						continue
					}
					job, err := sess.store.RegenerateDescriptors(cmd.Context(), result.AudioSourceID, result.ProfileID, keys, regen.TriggerManual)
					if err != nil {
						return err
					}
					if job != nil {
						jobs = append(jobs, job)
					}
				}
			} else {
				job, err := sess.store.RegenerateDescriptors(cmd.Context(), audioSourceID, profileID, args, regen.TriggerManual)
				if err != nil {
					return err
				}
				if job != nil {
					jobs = append(jobs, job)
				}
			}

			if len(jobs) == 0 {
				fmt.Fprintln(out, "Nothing to regenerate.")
				return nil
			}

			sess.store.Scheduler().Wait()

			failures := 0
			for _, submitted := range jobs {
				final := submitted
				for _, job := range sess.store.Jobs() {
					if job.ID == submitted.ID {
						j := job
						final = &j
						break
					}
				}
				fmt.Fprintf(out, "job %s (%s, %s): %s\n", final.ID, final.AudioSourceID, final.ProfileID, final.Status)
				if final.Status == regen.JobFailed {
					failures++
					fmt.Fprintf(out, "  error: %s\n", final.ErrorMessage)
				}
			}

			if write {
				if err := sess.save(); err != nil {
					return fmt.Errorf("update session file: %w", err)
				}
				fmt.Fprintf(out, "Updated %s\n", sess.path)
			}
			if failures > 0 {
				return fmt.Errorf("%d regeneration job(s) failed", failures)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionPath, "session", "s", "", "Session document to regenerate against")
	cmd.Flags().StringVar(&audioSourceID, "source", "", "Audio source id for the descriptor keys")
	cmd.Flags().StringVar(&profileID, "profile", "", "Analysis profile id (defaults to the session default)")
	cmd.Flags().BoolVar(&all, "all", false, "Regenerate every missing and stale descriptor")
	cmd.Flags().BoolVar(&write, "write", true, "Write updated caches back to the session file")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
