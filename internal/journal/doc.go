// Package journal persists regeneration jobs and history entries in SQLite.
//
// The diagnostics engine keeps its working state in memory; the journal is
// the durable audit trail behind it. Jobs are written when scheduled and
// updated as they progress; history entries are append-only. A flock-guarded
// lock file keeps a single writer per state directory.
package journal
