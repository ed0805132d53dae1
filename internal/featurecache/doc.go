// Package featurecache models the per-audio-source audio feature cache the
// diagnostics engine reads. The engine never writes feature data; it only
// classifies what the cache holds against what scene elements request.
//
// Cache records arrive from an external analysis pipeline and may be partial:
// Normalize validates shapes at the read boundary so downstream code can
// treat optional metadata as absent rather than malformed.
package featurecache
