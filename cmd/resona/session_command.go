package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"resona/internal/calculators"
	"resona/internal/descriptor"
	"resona/internal/intents"
	"resona/internal/snapshot"
	"resona/internal/timeline"
)

func newSessionCommand() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:         "session",
		Short:       "Session document utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	sessionCmd.AddCommand(newSessionInitCommand())
	return sessionCmd
}

func newSessionInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write an example session document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := strings.TrimSpace(args[0])
			if path == "" {
				return fmt.Errorf("session path is required")
			}
			doc := exampleSession()
			if err := snapshot.Save(path, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote example session to %s\n", path)
			return nil
		},
	}
	return cmd
}

func exampleSession() *snapshot.Document {
	return &snapshot.Document{
		Version: 1,
		Tracks: []timeline.Track{
			{ID: "track-1", AudioSourceID: "source-1"},
			{ID: "track-2", AudioSourceID: "source-1"},
		},
		Calculators: []calculators.Calculator{
			{ID: "core.spectrogram", Version: "1.0", FeatureKey: "spectrogram", Params: map[string]float64{"windowSize": 2048}},
			{ID: "core.loudness", Version: "1.2", FeatureKey: "loudness"},
		},
		Intents: []intents.Intent{
			{
				ElementID:   "element-1",
				ElementType: "waveformView",
				TrackRef:    "track-1",
				Descriptors: []descriptor.Descriptor{
					{FeatureKey: "spectrogram", CalculatorID: "core.spectrogram"},
					{FeatureKey: "loudness", CalculatorID: "core.loudness"},
				},
			},
		},
	}
}
