// Command resona inspects audio feature caches against serialized session
// documents: it reports cache diffs, drives regeneration, and browses the
// job journal.
package main
