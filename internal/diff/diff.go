package diff

import (
	"sort"
	"strings"
	"time"

	"resona/internal/calculators"
	"resona/internal/descriptor"
	"resona/internal/featurecache"
	"resona/internal/intents"
	"resona/internal/timeline"
)

// Status summarizes whether a cache diff requires attention.
type Status string

const (
	StatusClear  Status = "clear"
	StatusIssues Status = "issues"
)

// PairKey builds the canonical map key for one (audio source, profile) pair.
func PairKey(audioSourceID, profileID string) string {
	return strings.TrimSpace(audioSourceID) + "__" + descriptor.SanitizeProfileID(profileID)
}

// Detail carries per-descriptor presentation data. Channel fields are nil
// until a matching feature track exists in the cache.
type Detail struct {
	Descriptor        descriptor.Descriptor       `json:"descriptor"`
	ChannelCount      *int                        `json:"channelCount,omitempty"`
	ChannelAliases    []string                    `json:"channelAliases,omitempty"`
	ChannelLayout     *featurecache.ChannelLayout `json:"channelLayout,omitempty"`
	AnalysisProfileID string                      `json:"analysisProfileId"`
}

// Result is one reconciliation outcome for an (audio source, profile) pair.
type Result struct {
	AudioSourceID string `json:"audioSourceId"`
	ProfileID     string `json:"analysisProfileId"`
	// TrackRefs lists every logical track aliasing this audio source, sorted
	// lexicographically.
	TrackRefs []string `json:"trackRefs"`

	DescriptorsRequested []string `json:"descriptorsRequested"`
	DescriptorsCached    []string `json:"descriptorsCached"`

	Missing      []string `json:"missing"`
	Stale        []string `json:"stale"`
	Extraneous   []string `json:"extraneous"`
	BadRequest   []string `json:"badRequest"`
	Regenerating []string `json:"regenerating"`

	Details map[string]Detail   `json:"descriptorDetails"`
	Owners  map[string][]string `json:"owners"`

	Status      Status              `json:"status"`
	CacheStatus featurecache.Status `json:"cacheStatus"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Key returns the pair key for this result.
func (r Result) Key() string {
	return PairKey(r.AudioSourceID, r.ProfileID)
}

// Inputs is everything Compute reads. Pending and Dismissed are keyed by
// PairKey, each holding a set of descriptor keys.
type Inputs struct {
	Intents   []intents.Intent
	Registry  *calculators.Registry
	Tracks    []timeline.Track
	Caches    map[string]*featurecache.Cache
	Statuses  map[string]featurecache.Status
	Pending   map[string]map[string]struct{}
	Dismissed map[string]map[string]struct{}
	Now       time.Time
}

// requestedEntry is one requested descriptor resolved to a pair.
type requestedEntry struct {
	desc     descriptor.Descriptor
	owners   map[string]struct{}
	matchKey string
}

type pairState struct {
	audioSourceID string
	profileID     string
	trackRefs     map[string]struct{}
	requested     map[string]*requestedEntry // by descriptor key
	hasCacheEntry bool
}

// Compute reconciles all intents against all caches and returns one Result
// per observed pair, ordered by audio source then profile.
func Compute(in Inputs) []Result {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	sourceByTrack := make(map[string]string, len(in.Tracks))
	refsBySource := make(map[string]map[string]struct{})
	for _, track := range in.Tracks {
		id := strings.TrimSpace(track.ID)
		if id == "" {
			continue
		}
		source := track.Source()
		sourceByTrack[id] = source
		if refsBySource[source] == nil {
			refsBySource[source] = make(map[string]struct{})
		}
		refsBySource[source][id] = struct{}{}
	}

	pairs := make(map[string]*pairState)
	pair := func(audioSourceID, profileID string) *pairState {
		key := PairKey(audioSourceID, profileID)
		state, ok := pairs[key]
		if !ok {
			state = &pairState{
				audioSourceID: strings.TrimSpace(audioSourceID),
				profileID:     descriptor.SanitizeProfileID(profileID),
				trackRefs:     make(map[string]struct{}),
				requested:     make(map[string]*requestedEntry),
			}
			pairs[key] = state
		}
		return state
	}

	// Step 1: union requested descriptor keys per pair.
	for _, intent := range in.Intents {
		trackRef := strings.TrimSpace(intent.TrackRef)
		source, known := sourceByTrack[trackRef]
		if !known {
			// Intent referencing a track the timeline no longer lists still
			// resolves; the ref acts as its own source.
			source = trackRef
		}
		if source == "" {
			continue
		}
		for _, desc := range intent.Descriptors {
			profile := descriptor.ResolveProfileID(desc, intent.AnalysisProfileID)
			state := pair(source, profile)
			state.trackRefs[trackRef] = struct{}{}
			key := descriptor.Key(desc, profile)
			entry, ok := state.requested[key]
			if !ok {
				entry = &requestedEntry{desc: desc, owners: make(map[string]struct{}), matchKey: coverageKey(desc.FeatureKey, desc.CalculatorID)}
				state.requested[key] = entry
			}
			entry.owners[intent.ElementID] = struct{}{}
		}
	}

	// Observe pairs that exist only in the cache.
	for source, cache := range in.Caches {
		if cache == nil {
			continue
		}
		for _, track := range cache.FeatureTracks {
			state := pair(source, cache.ProfileID(track))
			state.hasCacheEntry = true
		}
	}

	results := make([]Result, 0, len(pairs))
	for key, state := range pairs {
		if len(state.requested) == 0 && !state.hasCacheEntry {
			continue
		}
		results = append(results, computePair(in, key, state, refsBySource, now))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].AudioSourceID != results[j].AudioSourceID {
			return results[i].AudioSourceID < results[j].AudioSourceID
		}
		return results[i].ProfileID < results[j].ProfileID
	})
	return results
}

func computePair(in Inputs, pairKey string, state *pairState, refsBySource map[string]map[string]struct{}, now time.Time) Result {
	result := Result{
		AudioSourceID: state.audioSourceID,
		ProfileID:     state.profileID,
		Details:       make(map[string]Detail),
		Owners:        make(map[string][]string),
		CacheStatus:   featurecache.StatusAbsent,
		UpdatedAt:     now,
	}
	if in.Statuses != nil {
		if status, ok := in.Statuses[state.audioSourceID]; ok {
			result.CacheStatus = status
		}
	}

	cache := in.Caches[state.audioSourceID]
	var cachedTracks map[string]featurecache.FeatureTrack
	if cache != nil {
		cachedTracks = cache.TracksForProfile(state.profileID)
	}

	pending := in.Pending[pairKey]
	dismissed := in.Dismissed[pairKey]

	var (
		missing      []string
		stale        []string
		badRequest   []string
		regenerating []string
		cachedKeys   []string
	)
	classified := make(map[string]struct{})
	requestedCoverage := make(map[string]struct{})

	// Step 2: classify every requested descriptor.
	for key, entry := range state.requested {
		result.DescriptorsRequested = append(result.DescriptorsRequested, key)
		result.Owners[key] = sortedSet(entry.owners)
		requestedCoverage[entry.matchKey] = struct{}{}

		detail := Detail{Descriptor: entry.desc, AnalysisProfileID: state.profileID}

		calc, known := lookupCalculator(in.Registry, entry.desc.CalculatorID)
		if !known {
			badRequest = append(badRequest, key)
			classified[key] = struct{}{}
			result.Details[key] = detail
			continue
		}

		track, found := matchTrack(cachedTracks, entry.desc)
		if found {
			detail = detailFromTrack(entry.desc, track, state.profileID)
		}
		result.Details[key] = detail

		if _, inFlight := pending[key]; inFlight {
			// Step 3: regeneration in flight wins over missing/stale.
			regenerating = append(regenerating, key)
			classified[key] = struct{}{}
			if found && !trackStale(cache, track, calc) {
				cachedKeys = append(cachedKeys, key)
			}
			continue
		}

		switch {
		case !found:
			missing = append(missing, key)
		case trackStale(cache, track, calc):
			stale = append(stale, key)
		default:
			cachedKeys = append(cachedKeys, key)
		}
		classified[key] = struct{}{}
	}

	// Pending keys nobody requests are still surfaced, never dropped.
	for key := range pending {
		if _, seen := classified[key]; seen {
			continue
		}
		regenerating = append(regenerating, key)
		classified[key] = struct{}{}
	}

	// Step 4: cached tracks no live intent covers.
	var extraneous []string
	for _, track := range cachedTracks {
		if _, covered := requestedCoverage[coverageKey(track.FeatureKey, track.CalculatorID)]; covered {
			continue
		}
		synth := descriptor.Descriptor{FeatureKey: track.FeatureKey, CalculatorID: track.CalculatorID, AnalysisProfileID: state.profileID}
		key := descriptor.Key(synth, state.profileID)
		if _, seen := classified[key]; seen {
			continue
		}
		classified[key] = struct{}{}
		cachedKeys = append(cachedKeys, key)
		result.Details[key] = detailFromTrack(synth, track, state.profileID)
		result.Owners[key] = []string{}
		if _, isDismissed := dismissed[key]; isDismissed {
			continue
		}
		extraneous = append(extraneous, key)
	}

	// Step 5: every track aliasing this source, plus refs seen on intents.
	trackRefs := make(map[string]struct{}, len(state.trackRefs))
	for ref := range state.trackRefs {
		trackRefs[ref] = struct{}{}
	}
	for ref := range refsBySource[state.audioSourceID] {
		trackRefs[ref] = struct{}{}
	}
	result.TrackRefs = sortedSet(trackRefs)

	result.Missing = sortStrings(missing)
	result.Stale = sortStrings(stale)
	result.Extraneous = sortStrings(extraneous)
	result.BadRequest = sortStrings(badRequest)
	result.Regenerating = sortStrings(regenerating)
	result.DescriptorsCached = sortStrings(cachedKeys)
	sort.Strings(result.DescriptorsRequested)

	// Step 7: status.
	result.Status = StatusClear
	if len(result.Missing)+len(result.Stale)+len(result.Extraneous)+len(result.BadRequest) > 0 {
		result.Status = StatusIssues
	}
	return result
}

// trackStale reports whether a cached track no longer matches the current
// calculator. Version drift on the track or the cache's recorded calculator
// version marks it stale; parameter drift is checked only for parameters both
// sides record, so partially-populated caches classify conservatively.
func trackStale(cache *featurecache.Cache, track featurecache.FeatureTrack, calc calculators.Calculator) bool {
	if calc.Version != "" && track.Version != "" && track.Version != calc.Version {
		return true
	}
	if cache != nil {
		if recorded, ok := cache.AnalysisParams.CalculatorVersions[calc.ID]; ok && calc.Version != "" && recorded != calc.Version {
			return true
		}
		for name, want := range calc.Params {
			if have, ok := cache.AnalysisParams.Values[name]; ok && have != want {
				return true
			}
		}
	}
	return false
}

func matchTrack(tracks map[string]featurecache.FeatureTrack, desc descriptor.Descriptor) (featurecache.FeatureTrack, bool) {
	want := coverageKey(desc.FeatureKey, desc.CalculatorID)
	for _, track := range tracks {
		if coverageKey(track.FeatureKey, track.CalculatorID) == want {
			return track, true
		}
	}
	return featurecache.FeatureTrack{}, false
}

func detailFromTrack(desc descriptor.Descriptor, track featurecache.FeatureTrack, profileID string) Detail {
	detail := Detail{Descriptor: desc, AnalysisProfileID: profileID}
	if track.Channels > 0 {
		channels := track.Channels
		detail.ChannelCount = &channels
	}
	if track.ChannelLayout != nil {
		layout := *track.ChannelLayout
		detail.ChannelLayout = &layout
		detail.ChannelAliases = append([]string(nil), layout.Aliases...)
	}
	return detail
}

func lookupCalculator(registry *calculators.Registry, id string) (calculators.Calculator, bool) {
	if registry == nil {
		return calculators.Calculator{}, false
	}
	return registry.Lookup(id)
}

func coverageKey(featureKey, calculatorID string) string {
	return strings.ToLower(strings.TrimSpace(featureKey)) + "|" + strings.ToLower(strings.TrimSpace(calculatorID))
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for value := range set {
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}

func sortStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	sort.Strings(values)
	return values
}
