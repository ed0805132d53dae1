package featurecache

import (
	"strings"
	"time"

	"resona/internal/descriptor"
)

// Status describes the analysis state of one audio source's cache.
type Status string

const (
	StatusAbsent    Status = "absent"
	StatusAnalyzing Status = "analyzing"
	StatusReady     Status = "ready"
	StatusFailed    Status = "failed"
)

// ChannelLayout carries optional channel metadata for a feature track.
type ChannelLayout struct {
	Aliases   []string `json:"aliases,omitempty"`
	Semantics string   `json:"semantics,omitempty"`
}

// FeatureTrack is one cached feature computation.
type FeatureTrack struct {
	FeatureKey       string         `json:"featureKey"`
	CalculatorID     string         `json:"calculatorId"`
	Version          string         `json:"version"`
	FrameCount       int            `json:"frameCount"`
	Channels         int            `json:"channels"`
	HopSeconds       float64        `json:"hopSeconds"`
	StartTimeSeconds float64        `json:"startTimeSeconds"`
	ChannelLayout    *ChannelLayout `json:"channelLayout,omitempty"`
	// AnalysisProfileID records which profile produced this track; empty
	// means the cache default.
	AnalysisProfileID string `json:"analysisProfileId,omitempty"`
}

// Params holds the resolved numeric analysis parameters a cache was computed
// under, plus recorded calculator versions.
type Params struct {
	Values             map[string]float64 `json:"values,omitempty"`
	CalculatorVersions map[string]string  `json:"calculatorVersions,omitempty"`
}

// Profile is a named analysis profile definition stored alongside the cache.
type Profile struct {
	ID         string             `json:"id"`
	WindowSize int                `json:"windowSize,omitempty"`
	HopSize    int                `json:"hopSize,omitempty"`
	Overrides  map[string]float64 `json:"overrides,omitempty"`
}

// Cache is the full feature cache for one audio source.
type Cache struct {
	// FeatureTracks is keyed by feature key.
	FeatureTracks            map[string]FeatureTrack `json:"featureTracks,omitempty"`
	AnalysisParams           Params                  `json:"analysisParams"`
	AnalysisProfiles         map[string]Profile      `json:"analysisProfiles,omitempty"`
	DefaultAnalysisProfileID string                  `json:"defaultAnalysisProfileId,omitempty"`
	UpdatedAt                time.Time               `json:"updatedAt"`
}

// Normalize validates a cache read from an external source. Nil maps become
// empty maps and track fields inherit their map key when blank. It never
// panics on partial records.
func (c *Cache) Normalize() {
	if c == nil {
		return
	}
	if c.FeatureTracks == nil {
		c.FeatureTracks = make(map[string]FeatureTrack)
	}
	for key, track := range c.FeatureTracks {
		if strings.TrimSpace(track.FeatureKey) == "" {
			track.FeatureKey = key
		}
		if track.ChannelLayout != nil && len(track.ChannelLayout.Aliases) == 0 && track.ChannelLayout.Semantics == "" {
			track.ChannelLayout = nil
		}
		c.FeatureTracks[key] = track
	}
	if c.AnalysisParams.Values == nil {
		c.AnalysisParams.Values = make(map[string]float64)
	}
	if c.AnalysisParams.CalculatorVersions == nil {
		c.AnalysisParams.CalculatorVersions = make(map[string]string)
	}
	if c.AnalysisProfiles == nil {
		c.AnalysisProfiles = make(map[string]Profile)
	}
}

// Clone returns a deep copy sharing no maps or slices with the receiver.
func (c *Cache) Clone() *Cache {
	if c == nil {
		return nil
	}
	out := &Cache{
		FeatureTracks:            make(map[string]FeatureTrack, len(c.FeatureTracks)),
		AnalysisProfiles:         make(map[string]Profile, len(c.AnalysisProfiles)),
		DefaultAnalysisProfileID: c.DefaultAnalysisProfileID,
		UpdatedAt:                c.UpdatedAt,
	}
	for key, track := range c.FeatureTracks {
		if track.ChannelLayout != nil {
			layout := ChannelLayout{
				Aliases:   append([]string(nil), track.ChannelLayout.Aliases...),
				Semantics: track.ChannelLayout.Semantics,
			}
			track.ChannelLayout = &layout
		}
		out.FeatureTracks[key] = track
	}
	out.AnalysisParams = Params{
		Values:             make(map[string]float64, len(c.AnalysisParams.Values)),
		CalculatorVersions: make(map[string]string, len(c.AnalysisParams.CalculatorVersions)),
	}
	for name, value := range c.AnalysisParams.Values {
		out.AnalysisParams.Values[name] = value
	}
	for id, version := range c.AnalysisParams.CalculatorVersions {
		out.AnalysisParams.CalculatorVersions[id] = version
	}
	for id, profile := range c.AnalysisProfiles {
		if profile.Overrides != nil {
			overrides := make(map[string]float64, len(profile.Overrides))
			for name, value := range profile.Overrides {
				overrides[name] = value
			}
			profile.Overrides = overrides
		}
		out.AnalysisProfiles[id] = profile
	}
	return out
}

// ProfileID returns the track's profile identity, falling back to the cache
// default, sanitized.
func (c *Cache) ProfileID(track FeatureTrack) string {
	if strings.TrimSpace(track.AnalysisProfileID) != "" {
		return descriptor.SanitizeProfileID(track.AnalysisProfileID)
	}
	if c != nil && strings.TrimSpace(c.DefaultAnalysisProfileID) != "" {
		return descriptor.SanitizeProfileID(c.DefaultAnalysisProfileID)
	}
	return descriptor.DefaultProfileID
}

// TracksForProfile returns the feature tracks whose resolved profile matches
// profileID, keyed by feature key.
func (c *Cache) TracksForProfile(profileID string) map[string]FeatureTrack {
	out := make(map[string]FeatureTrack)
	if c == nil {
		return out
	}
	want := descriptor.SanitizeProfileID(profileID)
	for key, track := range c.FeatureTracks {
		if c.ProfileID(track) == want {
			out[key] = track
		}
	}
	return out
}
