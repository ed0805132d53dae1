// Package diff reconciles what scene elements request against what the audio
// feature caches hold. Compute is a pure synchronous fold over its inputs: it
// never performs I/O, never mutates its arguments, and is safe to re-run on
// every intent publication or cache change.
//
// One Result is produced per (audio source, analysis profile) pair observed
// across intents or cached feature tracks. Within a result the missing,
// stale, extraneous, badRequest, and regenerating buckets are disjoint by
// construction.
package diff
