package diagnostics

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"resona/internal/calculators"
	"resona/internal/config"
	"resona/internal/diff"
	"resona/internal/featurecache"
	"resona/internal/intents"
	"resona/internal/logging"
	"resona/internal/regen"
	"resona/internal/timeline"
)

// Store aggregates the diagnostic state for one session.
type Store struct {
	cfg         *config.Config
	logger      *slog.Logger
	calculators *calculators.Registry
	intents     *intents.Registry
	provider    timeline.Provider
	scheduler   *regen.Scheduler

	mu    sync.Mutex
	diffs []diff.Result
	// dismissed holds user-dismissed extraneous descriptor keys per pair key.
	dismissed map[string]map[string]struct{}
	// autoAttempted remembers keys already auto-scheduled once, so a failed
	// automatic job is not retried on the next recompute.
	autoAttempted map[string]map[string]struct{}
	popup         popupMachine
}

// Option configures optional Store behavior.
type Option func(*options)

type options struct {
	sink regen.Sink
}

// WithJournal attaches a durable sink for jobs and history entries.
func WithJournal(sink regen.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// New builds a Store around its collaborators. The provider doubles as the
// scheduler's recomputation collaborator.
func New(cfg *config.Config, logger *slog.Logger, registry *calculators.Registry, provider timeline.Provider, opts ...Option) (*Store, error) {
	if cfg == nil || registry == nil || provider == nil {
		return nil, errors.New("diagnostics store requires config, calculator registry, and timeline provider")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	schedulerOpts := []regen.Option{regen.WithHistoryLimit(cfg.Analysis.HistoryLimit)}
	if o.sink != nil {
		schedulerOpts = append(schedulerOpts, regen.WithSink(o.sink))
	}

	store := &Store{
		cfg:           cfg,
		logger:        logging.NewComponentLogger(logger, "diagnostics"),
		calculators:   registry,
		intents:       intents.NewRegistry(),
		provider:      provider,
		scheduler:     regen.NewScheduler(provider, logger, schedulerOpts...),
		dismissed:     make(map[string]map[string]struct{}),
		autoAttempted: make(map[string]map[string]struct{}),
	}
	store.scheduler.SetOnComplete(func(regen.Job) {
		store.Recompute()
	})
	return store, nil
}

// Scheduler exposes the regeneration scheduler, mainly for shutdown paths
// that need to wait on in-flight jobs.
func (s *Store) Scheduler() *regen.Scheduler {
	return s.scheduler
}

// PublishIntent registers or replaces an element's analysis intent and
// recomputes the diffs.
func (s *Store) PublishIntent(intent intents.Intent) error {
	if strings.TrimSpace(intent.AnalysisProfileID) == "" {
		intent.AnalysisProfileID = s.cfg.Analysis.DefaultProfile
	}
	if err := s.intents.Publish(intent); err != nil {
		return err
	}
	s.Recompute()
	return nil
}

// RemoveElement drops an element's intent and recomputes.
func (s *Store) RemoveElement(elementID string) {
	s.intents.Remove(elementID)
	s.Recompute()
}

// RemoveTrack drops every intent bound to the given track ref and recomputes.
func (s *Store) RemoveTrack(trackRef string) {
	s.intents.RemoveTrack(trackRef)
	s.Recompute()
}

// Intents returns the live intent set.
func (s *Store) Intents() []intents.Intent {
	return s.intents.All()
}

// Recompute folds current intents, caches, and pending/dismissed state into
// fresh diff results, then updates dismissals and the popup. When automatic
// regeneration is enabled, missing and stale descriptors not yet attempted
// are scheduled with the auto trigger.
func (s *Store) Recompute() {
	s.mu.Lock()
	s.recomputeLocked()
	targets := s.collectAutoTargetsLocked()
	s.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	for _, target := range targets {
		if _, err := s.scheduler.Regenerate(context.Background(), target.audioSourceID, target.profileID, target.keys, regen.TriggerAuto); err != nil {
			s.logger.Warn("automatic regeneration rejected",
				logging.String(logging.FieldAudioSource, target.audioSourceID),
				logging.String(logging.FieldProfile, target.profileID),
				logging.Error(err))
		}
	}
	// Re-fold so the new pending markers show up as regenerating.
	s.mu.Lock()
	s.recomputeLocked()
	s.mu.Unlock()
}

func (s *Store) recomputeLocked() {
	allIntents := s.intents.All()
	tracks := s.provider.Tracks()

	sources := make(map[string]struct{})
	for _, track := range tracks {
		sources[track.Source()] = struct{}{}
	}
	for _, intent := range allIntents {
		if ref := strings.TrimSpace(intent.TrackRef); ref != "" {
			sources[ref] = struct{}{}
		}
	}

	caches := make(map[string]*featurecache.Cache, len(sources))
	statuses := make(map[string]featurecache.Status, len(sources))
	for source := range sources {
		if cache, ok := s.provider.Cache(source); ok {
			caches[source] = cache
		}
		statuses[source] = s.provider.CacheStatus(source)
	}

	s.diffs = diff.Compute(diff.Inputs{
		Intents:   allIntents,
		Registry:  s.calculators,
		Tracks:    tracks,
		Caches:    caches,
		Statuses:  statuses,
		Pending:   s.scheduler.Pending(),
		Dismissed: s.dismissed,
		Now:       time.Now().UTC(),
	})

	s.clearRequestedDismissalsLocked()

	if s.cfg.Popup.Enabled {
		s.popup.observe(s.missingSignatureLocked())
	}
}

// clearRequestedDismissalsLocked drops dismissal records for keys that are
// requested again. Re-requesting an extraneous descriptor cancels its
// dismissal.
func (s *Store) clearRequestedDismissalsLocked() {
	for _, result := range s.diffs {
		set := s.dismissed[result.Key()]
		if len(set) == 0 {
			continue
		}
		for _, key := range result.DescriptorsRequested {
			delete(set, key)
		}
		if len(set) == 0 {
			delete(s.dismissed, result.Key())
		}
	}
}

func (s *Store) missingSignatureLocked() map[string]struct{} {
	signature := make(map[string]struct{})
	for _, result := range s.diffs {
		for _, key := range result.Missing {
			signature[key] = struct{}{}
		}
	}
	return signature
}

type autoTarget struct {
	audioSourceID string
	profileID     string
	keys          []string
}

func (s *Store) collectAutoTargetsLocked() []autoTarget {
	if !s.cfg.Analysis.AutoRegenerate {
		return nil
	}
	var targets []autoTarget
	for _, result := range s.diffs {
		pairKey := result.Key()
		attempted := s.autoAttempted[pairKey]
		var keys []string
		for _, key := range append(append([]string(nil), result.Missing...), result.Stale...) {
			if _, done := attempted[key]; done {
				continue
			}
			if attempted == nil {
				attempted = make(map[string]struct{})
				s.autoAttempted[pairKey] = attempted
			}
			attempted[key] = struct{}{}
			keys = append(keys, key)
		}
		if len(keys) > 0 {
			targets = append(targets, autoTarget{
				audioSourceID: result.AudioSourceID,
				profileID:     result.ProfileID,
				keys:          keys,
			})
		}
	}
	return targets
}

// RegenerateDescriptors schedules a manual (or auto) regeneration job and
// recomputes so the keys immediately classify as regenerating.
func (s *Store) RegenerateDescriptors(ctx context.Context, audioSourceID, profileID string, keys []string, trigger regen.Trigger) (*regen.Job, error) {
	job, err := s.scheduler.Regenerate(ctx, audioSourceID, profileID, keys, trigger)
	if err != nil {
		return nil, err
	}
	s.Recompute()
	return job, nil
}

// DismissExtraneous records a user dismissal of one extraneous descriptor
// key. Dismissing the same key twice is a no-op.
func (s *Store) DismissExtraneous(audioSourceID, profileID, descriptorKey string) {
	descriptorKey = strings.TrimSpace(descriptorKey)
	if descriptorKey == "" {
		return
	}
	pairKey := diff.PairKey(audioSourceID, profileID)

	s.mu.Lock()
	set := s.dismissed[pairKey]
	if set == nil {
		set = make(map[string]struct{})
		s.dismissed[pairKey] = set
	}
	set[descriptorKey] = struct{}{}
	s.recomputeLocked()
	s.mu.Unlock()
}

// DeleteExtraneousCaches removes every non-dismissed extraneous feature track
// from the underlying caches, records the deletions in history, and
// recomputes. The first removal failure aborts the sweep.
func (s *Store) DeleteExtraneousCaches(ctx context.Context) error {
	s.mu.Lock()
	results := append([]diff.Result(nil), s.diffs...)
	s.mu.Unlock()

	for _, result := range results {
		if len(result.Extraneous) == 0 {
			continue
		}
		featureKeys := make([]string, 0, len(result.Extraneous))
		for _, key := range result.Extraneous {
			if detail, ok := result.Details[key]; ok && detail.Descriptor.FeatureKey != "" {
				featureKeys = append(featureKeys, detail.Descriptor.FeatureKey)
			}
		}
		if len(featureKeys) == 0 {
			continue
		}
		entry := regen.HistoryEntry{
			AudioSourceID: result.AudioSourceID,
			ProfileID:     result.ProfileID,
			DescriptorIDs: append([]string(nil), result.Extraneous...),
			Action:        regen.ActionDeleteExtraneous,
			Outcome:       regen.OutcomeSucceeded,
		}
		if err := s.provider.RemoveFeatureTracks(result.AudioSourceID, result.ProfileID, featureKeys); err != nil {
			entry.Outcome = regen.OutcomeFailed
			entry.Detail = err.Error()
			s.scheduler.RecordHistory(entry)
			s.Recompute()
			return err
		}
		s.scheduler.RecordHistory(entry)
		s.logger.Info("extraneous feature tracks deleted",
			logging.String(logging.FieldAudioSource, result.AudioSourceID),
			logging.String(logging.FieldProfile, result.ProfileID),
			logging.Int("descriptor_count", len(result.Extraneous)))
	}

	s.Recompute()
	return nil
}

// DismissMissingPopup suppresses a visible popup until a new missing key
// appears.
func (s *Store) DismissMissingPopup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popup.dismiss()
}

// Reset drops all session state: intents, diffs, dismissals, jobs, history,
// and the popup.
func (s *Store) Reset() {
	s.intents.Clear()
	s.scheduler.Reset()

	s.mu.Lock()
	s.diffs = nil
	s.dismissed = make(map[string]map[string]struct{})
	s.autoAttempted = make(map[string]map[string]struct{})
	s.popup.reset()
	s.mu.Unlock()

	s.Recompute()
}

// Diffs returns the latest diff results ordered by audio source then profile.
// Callers must treat the results as read-only.
func (s *Store) Diffs() []diff.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]diff.Result(nil), s.diffs...)
}

// Diff returns the result for one pair, if present.
func (s *Store) Diff(audioSourceID, profileID string) (diff.Result, bool) {
	pairKey := diff.PairKey(audioSourceID, profileID)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, result := range s.diffs {
		if result.Key() == pairKey {
			return result, true
		}
	}
	return diff.Result{}, false
}

// Jobs returns all regeneration jobs in creation order.
func (s *Store) Jobs() []regen.Job {
	return s.scheduler.Jobs()
}

// History returns the session's audit entries, oldest first.
func (s *Store) History() []regen.HistoryEntry {
	return s.scheduler.History()
}

// PendingDescriptors returns the pending descriptor keys per pair key,
// sorted.
func (s *Store) PendingDescriptors() map[string][]string {
	pending := s.scheduler.Pending()
	out := make(map[string][]string, len(pending))
	for pairKey, set := range pending {
		keys := make([]string, 0, len(set))
		for key := range set {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out[pairKey] = keys
	}
	return out
}

// DismissedKeys returns the dismissed extraneous keys for one pair, sorted.
func (s *Store) DismissedKeys(audioSourceID, profileID string) []string {
	pairKey := diff.PairKey(audioSourceID, profileID)
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.dismissed[pairKey]))
	for key := range s.dismissed[pairKey] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MissingPopupVisible reports whether the missing-descriptor popup should be
// shown.
func (s *Store) MissingPopupVisible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popup.visible
}

// MissingPopupSuppressed reports whether the user dismissed the popup for the
// current missing signature.
func (s *Store) MissingPopupSuppressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popup.suppressed
}
