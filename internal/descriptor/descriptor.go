package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// DefaultProfileID is the sentinel profile identity used when a descriptor or
// intent does not name an analysis profile.
const DefaultProfileID = "default"

// Descriptor identifies one requested audio feature.
type Descriptor struct {
	FeatureKey   string `json:"featureKey"`
	CalculatorID string `json:"calculatorId"`
	// BandIndex selects a single band of a multi-band feature. Nil means the
	// whole feature.
	BandIndex *int `json:"bandIndex,omitempty"`
	// AnalysisProfileID is the resolved profile for this request, empty when
	// the intent-level default applies.
	AnalysisProfileID string `json:"analysisProfileId,omitempty"`
	// RequestedAnalysisProfileID preserves the profile the author asked for,
	// which may differ from the resolved default.
	RequestedAnalysisProfileID string `json:"requestedAnalysisProfileId,omitempty"`
	// ProfileOverridesHash is set only for ad hoc, non-named profile
	// overrides and distinguishes them from the named profile they shadow.
	ProfileOverridesHash string `json:"profileOverridesHash,omitempty"`
}

// SanitizeProfileID normalizes a profile identifier. Empty, whitespace-only,
// or otherwise unusable values collapse to DefaultProfileID. It never fails.
func SanitizeProfileID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultProfileID
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return -1
		}
	}, trimmed)
	if cleaned == "" {
		return DefaultProfileID
	}
	return cleaned
}

// MatchKey canonicalizes (featureKey, calculatorId, bandIndex) into a stable
// string that ignores profile identity. Feature and calculator comparison is
// case-insensitive.
func MatchKey(d Descriptor) string {
	band := "all"
	if d.BandIndex != nil {
		band = strconv.Itoa(*d.BandIndex)
	}
	var b strings.Builder
	b.Grow(len(d.FeatureKey) + len(d.CalculatorID) + len(band) + 24)
	b.WriteString("feature:")
	b.WriteString(strings.ToLower(strings.TrimSpace(d.FeatureKey)))
	b.WriteString("|calc:")
	b.WriteString(strings.ToLower(strings.TrimSpace(d.CalculatorID)))
	b.WriteString("|band:")
	b.WriteString(band)
	return b.String()
}

// Key builds the globally unique descriptor key for diffing. The resolved
// profile always participates; the override hash participates only for ad hoc
// profiles. Descriptors that differ only in profile identity therefore yield
// distinct keys and can coexist in one cache diff.
func Key(d Descriptor, resolvedProfileID string) string {
	profile := SanitizeProfileID(resolvedProfileID)
	key := MatchKey(d) + "|profile:" + profile
	if hash := strings.TrimSpace(d.ProfileOverridesHash); hash != "" {
		key += "|hash:" + hash
	}
	return key
}

// ResolveProfileID picks the profile identity for a descriptor, falling back
// to the intent-level default, then to DefaultProfileID.
func ResolveProfileID(d Descriptor, intentProfileID string) string {
	if strings.TrimSpace(d.AnalysisProfileID) != "" {
		return SanitizeProfileID(d.AnalysisProfileID)
	}
	return SanitizeProfileID(intentProfileID)
}

// ID returns a content-addressed identifier covering every field of the
// descriptor, including requested profile and override hash. Identical
// logical requests always share an ID.
func ID(d Descriptor) string {
	parts := []string{
		MatchKey(d),
		"profile:" + SanitizeProfileID(d.AnalysisProfileID),
		"requested:" + SanitizeProfileID(d.RequestedAnalysisProfileID),
		"hash:" + strings.TrimSpace(d.ProfileOverridesHash),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}
