// Package diagnostics is the engine's front door. The Store owns the intent
// registry, the diff results, the dismissal sets, and the missing-descriptor
// popup, and drives the regeneration scheduler. Every mutation recomputes the
// diffs synchronously, so readers always observe fully-applied state.
package diagnostics
