// Package snapshot reads and writes session documents: a JSON capture of the
// tracks, calculators, intents, and feature caches that make up one editing
// session. The CLI replays a snapshot through the diagnostics engine to
// produce diffs without a live host application.
package snapshot
