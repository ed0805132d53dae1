// Package regen schedules regeneration of audio feature cache entries.
//
// The scheduler enforces the engine's central concurrency invariant: at most
// one in-flight job per descriptor key per (audio source, profile) pair.
// Descriptor keys enter the pending set synchronously inside Regenerate, so
// any diff recompute interleaved between submission and completion observes
// the keys as regenerating, never as spuriously missing.
package regen
