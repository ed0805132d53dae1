// Package timeline defines the boundary to the timeline/track store that
// owns audio sources and their feature caches. The diagnostics engine only
// reads cache contents and asks the store to recompute or remove feature
// tracks; it never writes feature data itself.
//
// MemoryProvider is the in-process implementation used by the CLI (fed from a
// session snapshot) and by tests. Its reanalysis fabricates feature tracks
// that match the current calculator registry, which is exactly what a
// successful recomputation converges to.
package timeline
