package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"resona/internal/calculators"
	"resona/internal/descriptor"
	"resona/internal/featurecache"
)

// MemoryProvider implements Provider over in-memory state.
type MemoryProvider struct {
	registry *calculators.Registry

	mu       sync.RWMutex
	tracks   []Track
	caches   map[string]*featurecache.Cache
	statuses map[string]featurecache.Status

	reanalyzeErr    error
	beforeReanalyze func()
}

// NewMemoryProvider builds an empty provider. The calculator registry is used
// to fabricate up-to-date feature tracks when reanalysis runs.
func NewMemoryProvider(registry *calculators.Registry) *MemoryProvider {
	return &MemoryProvider{
		registry: registry,
		caches:   make(map[string]*featurecache.Cache),
		statuses: make(map[string]featurecache.Status),
	}
}

// SetTracks replaces the track list.
func (p *MemoryProvider) SetTracks(tracks []Track) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append([]Track(nil), tracks...)
}

// SetCache installs (or replaces) the cache for an audio source. The provider
// keeps its own normalized copy; the caller's cache stays untouched.
func (p *MemoryProvider) SetCache(audioSourceID string, cache *featurecache.Cache) {
	audioSourceID = strings.TrimSpace(audioSourceID)
	if audioSourceID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cache == nil {
		delete(p.caches, audioSourceID)
		delete(p.statuses, audioSourceID)
		return
	}
	owned := cache.Clone()
	owned.Normalize()
	p.caches[audioSourceID] = owned
	p.statuses[audioSourceID] = featurecache.StatusReady
}

// SetCacheStatus overrides the reported status for an audio source.
func (p *MemoryProvider) SetCacheStatus(audioSourceID string, status featurecache.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[strings.TrimSpace(audioSourceID)] = status
}

// SetReanalyzeFailure makes subsequent reanalysis calls fail with err.
// Passing nil restores normal behavior.
func (p *MemoryProvider) SetReanalyzeFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reanalyzeErr = err
}

// SetBeforeReanalyze installs a hook invoked at the start of each reanalysis
// call, before any state changes. Tests use it to observe in-flight state.
func (p *MemoryProvider) SetBeforeReanalyze(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beforeReanalyze = fn
}

func (p *MemoryProvider) Tracks() []Track {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Track(nil), p.tracks...)
}

// Cache returns a deep copy of the source's cache. Reanalysis mutates the
// live cache concurrently, so callers must never see the shared maps.
func (p *MemoryProvider) Cache(audioSourceID string) (*featurecache.Cache, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cache, ok := p.caches[strings.TrimSpace(audioSourceID)]
	if !ok {
		return nil, false
	}
	return cache.Clone(), true
}

func (p *MemoryProvider) CacheStatus(audioSourceID string) featurecache.Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if status, ok := p.statuses[strings.TrimSpace(audioSourceID)]; ok {
		return status
	}
	return featurecache.StatusAbsent
}

// ReanalyzeCalculators writes fresh feature tracks for the named calculators,
// matching the registry's current version and parameters.
func (p *MemoryProvider) ReanalyzeCalculators(ctx context.Context, audioSourceID string, calculatorIDs []string, profileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	hook := p.beforeReanalyze
	failure := p.reanalyzeErr
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	if failure != nil {
		return failure
	}

	audioSourceID = strings.TrimSpace(audioSourceID)
	if audioSourceID == "" {
		return errors.New("audio source id is required")
	}
	profile := descriptor.SanitizeProfileID(profileID)

	p.mu.Lock()
	defer p.mu.Unlock()

	cache, ok := p.caches[audioSourceID]
	if !ok {
		cache = &featurecache.Cache{}
		cache.Normalize()
		p.caches[audioSourceID] = cache
	}

	for _, id := range calculatorIDs {
		calc, found := p.registry.Lookup(id)
		if !found {
			return fmt.Errorf("calculator %q is not registered", id)
		}
		key := calc.FeatureKey
		if profile != descriptor.DefaultProfileID {
			key = calc.FeatureKey + "@" + profile
		}
		cache.FeatureTracks[key] = featurecache.FeatureTrack{
			FeatureKey:        calc.FeatureKey,
			CalculatorID:      calc.ID,
			Version:           calc.Version,
			AnalysisProfileID: profile,
		}
		cache.AnalysisParams.CalculatorVersions[calc.ID] = calc.Version
		for name, value := range calc.Params {
			cache.AnalysisParams.Values[name] = value
		}
	}
	cache.UpdatedAt = time.Now().UTC()
	p.statuses[audioSourceID] = featurecache.StatusReady
	return nil
}

// RestartAnalysis recomputes every registered calculator for one source under
// the cache's default profile.
func (p *MemoryProvider) RestartAnalysis(ctx context.Context, audioSourceID string) error {
	ids := make([]string, 0)
	for _, calc := range p.registry.List() {
		ids = append(ids, calc.ID)
	}
	profile := descriptor.DefaultProfileID
	if cache, ok := p.Cache(audioSourceID); ok && cache.DefaultAnalysisProfileID != "" {
		profile = cache.DefaultAnalysisProfileID
	}
	return p.ReanalyzeCalculators(ctx, audioSourceID, ids, profile)
}

// RemoveFeatureTracks deletes cached tracks whose feature key and resolved
// profile match.
func (p *MemoryProvider) RemoveFeatureTracks(audioSourceID, profileID string, featureKeys []string) error {
	audioSourceID = strings.TrimSpace(audioSourceID)
	profile := descriptor.SanitizeProfileID(profileID)

	p.mu.Lock()
	defer p.mu.Unlock()

	cache, ok := p.caches[audioSourceID]
	if !ok {
		return nil
	}
	remove := make(map[string]struct{}, len(featureKeys))
	for _, key := range featureKeys {
		remove[strings.ToLower(strings.TrimSpace(key))] = struct{}{}
	}
	for mapKey, track := range cache.FeatureTracks {
		if cache.ProfileID(track) != profile {
			continue
		}
		if _, hit := remove[strings.ToLower(track.FeatureKey)]; hit {
			delete(cache.FeatureTracks, mapKey)
		}
	}
	cache.UpdatedAt = time.Now().UTC()
	return nil
}
