package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"resona/internal/calculators"
	"resona/internal/featurecache"
	"resona/internal/intents"
	"resona/internal/services"
	"resona/internal/timeline"
)

// currentVersion is the session document format version. Bump when the shape
// changes.
const currentVersion = 1

// Document is one serialized session.
type Document struct {
	Version        int                            `json:"version"`
	DefaultProfile string                         `json:"defaultProfile,omitempty"`
	Tracks         []timeline.Track               `json:"tracks,omitempty"`
	Calculators    []calculators.Calculator       `json:"calculators,omitempty"`
	Intents        []intents.Intent               `json:"intents,omitempty"`
	Caches         map[string]*featurecache.Cache `json:"caches,omitempty"`
	Statuses       map[string]featurecache.Status `json:"cacheStatuses,omitempty"`
}

// Load reads and validates a session document.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "snapshot", "load", "session file "+path+" does not exist", err)
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, services.Wrap(services.ErrValidation, "snapshot", "load", "session file is not valid JSON", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	doc.normalize()
	return &doc, nil
}

// Save writes the document atomically via a temp file.
func Save(path string, doc *Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.Version == 0 {
		doc.Version = currentVersion
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Validate checks the document at the read boundary so downstream code can
// trust its shape.
func (d *Document) Validate() error {
	if d.Version != currentVersion {
		return services.Wrap(services.ErrValidation, "snapshot", "validate",
			fmt.Sprintf("unsupported session version %d (expected %d)", d.Version, currentVersion), nil)
	}
	seenCalcs := make(map[string]struct{}, len(d.Calculators))
	for _, calc := range d.Calculators {
		id := strings.ToLower(strings.TrimSpace(calc.ID))
		if id == "" {
			return services.Wrap(services.ErrValidation, "snapshot", "validate", "calculator with empty id", nil)
		}
		if _, dup := seenCalcs[id]; dup {
			return services.Wrap(services.ErrValidation, "snapshot", "validate", "duplicate calculator id "+calc.ID, nil)
		}
		seenCalcs[id] = struct{}{}
	}
	for _, intent := range d.Intents {
		if strings.TrimSpace(intent.ElementID) == "" {
			return services.Wrap(services.ErrValidation, "snapshot", "validate", "intent with empty element id", nil)
		}
		if strings.TrimSpace(intent.TrackRef) == "" {
			return services.Wrap(services.ErrValidation, "snapshot", "validate", "intent "+intent.ElementID+" has no track ref", nil)
		}
	}
	for _, track := range d.Tracks {
		if strings.TrimSpace(track.ID) == "" {
			return services.Wrap(services.ErrValidation, "snapshot", "validate", "track with empty id", nil)
		}
	}
	return nil
}

func (d *Document) normalize() {
	for _, cache := range d.Caches {
		cache.Normalize()
	}
}

// Registry builds a calculator registry from the document's calculators.
func (d *Document) Registry() (*calculators.Registry, error) {
	registry := calculators.NewRegistry()
	for _, calc := range d.Calculators {
		if err := registry.Register(calc); err != nil {
			return nil, fmt.Errorf("register calculator %s: %w", calc.ID, err)
		}
	}
	return registry, nil
}

// Provider builds a memory timeline provider seeded with the document's
// tracks, caches, and statuses.
func (d *Document) Provider(registry *calculators.Registry) *timeline.MemoryProvider {
	provider := timeline.NewMemoryProvider(registry)
	provider.SetTracks(d.Tracks)
	for source, cache := range d.Caches {
		provider.SetCache(source, cache)
	}
	for source, status := range d.Statuses {
		provider.SetCacheStatus(source, status)
	}
	return provider
}
