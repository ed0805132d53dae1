// Package descriptor defines the identity model for requested audio features.
//
// A descriptor names one feature computation: the feature key, the calculator
// that produces it, an optional band index, and the analysis profile the
// result was (or should be) computed under. Two canonical string forms exist:
//
//   - MatchKey ignores profile identity and is used to pair requested
//     descriptors with cached feature tracks.
//   - Key folds in the resolved profile (and ad hoc override hash) and is the
//     globally unique identity used by the diff engine, the regeneration
//     scheduler, and dismissal bookkeeping.
//
// All functions in this package are structural: they inspect only their
// arguments and never consult registries or caches.
package descriptor
