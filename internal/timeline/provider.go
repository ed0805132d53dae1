package timeline

import (
	"context"
	"strings"

	"resona/internal/featurecache"
)

// Track is one logical timeline track.
type Track struct {
	ID string `json:"id"`
	// AudioSourceID aliases the track to a shared audio source. Empty means
	// the track is its own source.
	AudioSourceID string `json:"audioSourceId,omitempty"`
}

// Source resolves the audio source this track reads from.
func (t Track) Source() string {
	if s := strings.TrimSpace(t.AudioSourceID); s != "" {
		return s
	}
	return strings.TrimSpace(t.ID)
}

// Provider is the timeline/track store boundary consumed by the engine.
type Provider interface {
	// Tracks returns all logical timeline tracks.
	Tracks() []Track
	// Cache returns the feature cache for an audio source, if any.
	Cache(audioSourceID string) (*featurecache.Cache, bool)
	// CacheStatus reports the analysis state for an audio source.
	CacheStatus(audioSourceID string) featurecache.Status
	// ReanalyzeCalculators recomputes the named calculators' features for one
	// audio source under the given profile. Blocks until done or ctx ends.
	ReanalyzeCalculators(ctx context.Context, audioSourceID string, calculatorIDs []string, profileID string) error
	// RestartAnalysis recomputes the full analysis for one audio source.
	RestartAnalysis(ctx context.Context, audioSourceID string) error
	// RemoveFeatureTracks deletes cached feature tracks by feature key for
	// one (audio source, profile) pair.
	RemoveFeatureTracks(audioSourceID, profileID string, featureKeys []string) error
}
