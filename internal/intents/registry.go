// Package intents tracks which audio feature descriptors each scene element
// currently requires. Elements publish their full requirement set whenever it
// changes; a publish replaces the element's prior intent wholesale, never a
// partial merge.
package intents

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"resona/internal/descriptor"
	"resona/internal/featurecache"
)

// Intent is one element's current request set.
type Intent struct {
	ElementID   string `json:"elementId"`
	ElementType string `json:"elementType,omitempty"`
	// TrackRef names the logical timeline track the element is bound to.
	TrackRef string `json:"trackRef"`
	// AnalysisProfileID is the intent-wide default profile, empty for the
	// cache default.
	AnalysisProfileID string                  `json:"analysisProfileId,omitempty"`
	Descriptors       []descriptor.Descriptor `json:"descriptors"`
	RequestedAt       time.Time               `json:"requestedAt"`
	// ProfileRegistryDelta carries profile definitions introduced by this
	// intent (ad hoc profiles the element needs the pipeline to know about).
	ProfileRegistryDelta map[string]featurecache.Profile `json:"profileRegistryDelta,omitempty"`
}

func (in Intent) clone() Intent {
	out := in
	out.Descriptors = append([]descriptor.Descriptor(nil), in.Descriptors...)
	if in.ProfileRegistryDelta != nil {
		out.ProfileRegistryDelta = make(map[string]featurecache.Profile, len(in.ProfileRegistryDelta))
		for k, v := range in.ProfileRegistryDelta {
			out.ProfileRegistryDelta[k] = v
		}
	}
	return out
}

// Registry holds the live intent per element id.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]Intent
}

// NewRegistry returns an empty intent registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Intent)}
}

// Publish records an element's current intent, replacing any prior intent for
// the same element atomically.
func (r *Registry) Publish(intent Intent) error {
	id := strings.TrimSpace(intent.ElementID)
	if id == "" {
		return errors.New("intent element id is required")
	}
	intent.ElementID = id
	if intent.RequestedAt.IsZero() {
		intent.RequestedAt = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = intent.clone()
	return nil
}

// Remove drops the intent owned by elementID. Unknown ids are ignored.
func (r *Registry) Remove(elementID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, strings.TrimSpace(elementID))
}

// RemoveTrack drops every intent bound to the given track ref. Used when a
// timeline track (and the elements on it) goes away.
func (r *Registry) RemoveTrack(trackRef string) {
	trackRef = strings.TrimSpace(trackRef)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, intent := range r.byID {
		if intent.TrackRef == trackRef {
			delete(r.byID, id)
		}
	}
}

// All returns the current intents ordered by element id.
func (r *Registry) All() []Intent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Intent, 0, len(r.byID))
	for _, intent := range r.byID {
		out = append(out, intent.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ElementID < out[j].ElementID })
	return out
}

// Get returns the intent for one element.
func (r *Registry) Get(elementID string) (Intent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	intent, ok := r.byID[strings.TrimSpace(elementID)]
	if !ok {
		return Intent{}, false
	}
	return intent.clone(), true
}

// Clear removes every intent.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]Intent)
}
