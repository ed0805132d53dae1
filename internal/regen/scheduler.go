package regen

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"resona/internal/descriptor"
	"resona/internal/diff"
	"resona/internal/logging"
	"resona/internal/services"
)

// Reanalyzer is the external recomputation collaborator. The timeline
// provider satisfies it.
type Reanalyzer interface {
	ReanalyzeCalculators(ctx context.Context, audioSourceID string, calculatorIDs []string, profileID string) error
}

// Sink receives durable copies of jobs and history entries. A nil sink keeps
// everything in memory only.
type Sink interface {
	RecordJob(Job) error
	UpdateJob(Job) error
	AppendHistory(HistoryEntry) error
}

// Scheduler deduplicates and drives regeneration jobs.
type Scheduler struct {
	reanalyzer Reanalyzer
	sink       Sink
	logger     *slog.Logger

	mu           sync.Mutex
	pending      map[string]map[string]struct{}
	jobs         []Job
	history      []HistoryEntry
	historyLimit int
	onComplete   func(Job)

	wg sync.WaitGroup
}

// Option configures optional scheduler behavior.
type Option func(*Scheduler)

// WithSink attaches a durable journal sink.
func WithSink(sink Sink) Option {
	return func(s *Scheduler) { s.sink = sink }
}

// WithHistoryLimit caps the in-memory history slice. Zero or negative means
// unbounded.
func WithHistoryLimit(limit int) Option {
	return func(s *Scheduler) { s.historyLimit = limit }
}

// NewScheduler constructs a scheduler around the recomputation collaborator.
func NewScheduler(reanalyzer Reanalyzer, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		reanalyzer: reanalyzer,
		logger:     logging.NewComponentLogger(logger, "regen"),
		pending:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetOnComplete installs a callback invoked after each job reaches a terminal
// state and its pending markers are cleared. The diagnostics store uses it to
// trigger a recompute.
func (s *Scheduler) SetOnComplete(fn func(Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Regenerate schedules recomputation for the given descriptor keys. Keys
// already pending for the pair are skipped; when nothing new remains, no job
// is created and a nil job is returned. Pending markers are inserted before
// any asynchronous work starts.
func (s *Scheduler) Regenerate(ctx context.Context, audioSourceID, profileID string, keys []string, trigger Trigger) (*Job, error) {
	audioSourceID = strings.TrimSpace(audioSourceID)
	profileID = descriptor.SanitizeProfileID(profileID)

	cleaned := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if len(calculatorIDsFromKeys([]string{key})) == 0 {
			return nil, services.Wrap(services.ErrValidation, "regen", "regenerate", "malformed descriptor key "+key, nil)
		}
		cleaned = append(cleaned, key)
	}
	if len(cleaned) == 0 {
		return nil, nil
	}
	if audioSourceID == "" {
		return nil, services.Wrap(services.ErrValidation, "regen", "regenerate", "audio source id is required", nil)
	}
	if trigger != TriggerAuto {
		trigger = TriggerManual
	}

	pairKey := diff.PairKey(audioSourceID, profileID)
	now := time.Now().UTC()

	s.mu.Lock()
	pendingSet := s.pending[pairKey]
	if pendingSet == nil {
		pendingSet = make(map[string]struct{})
		s.pending[pairKey] = pendingSet
	}
	netNew := make([]string, 0, len(cleaned))
	for _, key := range cleaned {
		if _, inFlight := pendingSet[key]; inFlight {
			continue
		}
		pendingSet[key] = struct{}{}
		netNew = append(netNew, key)
	}
	if len(netNew) == 0 {
		s.mu.Unlock()
		s.logger.Debug("regeneration already in flight",
			logging.String(logging.FieldAudioSource, audioSourceID),
			logging.String(logging.FieldProfile, profileID))
		return nil, nil
	}
	sort.Strings(netNew)

	job := Job{
		ID:            uuid.NewString(),
		AudioSourceID: audioSourceID,
		ProfileID:     profileID,
		DescriptorIDs: netNew,
		Trigger:       trigger,
		Status:        JobQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.jobs = append(s.jobs, job)
	s.recordJobLocked(job)

	// Queued to running happens in the same turn; the queued state exists so
	// the journal captures submission even if the process dies mid-job.
	job.Status = JobRunning
	job.UpdatedAt = time.Now().UTC()
	s.updateJobLocked(job)
	s.mu.Unlock()

	s.logger.Info("regeneration job started",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldAudioSource, audioSourceID),
		logging.String(logging.FieldProfile, profileID),
		logging.String(logging.FieldTrigger, string(trigger)),
		logging.Int("descriptor_count", len(netNew)))

	s.wg.Add(1)
	go s.run(ctx, job)

	result := job
	result.DescriptorIDs = append([]string(nil), job.DescriptorIDs...)
	return &result, nil
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	defer s.wg.Done()

	calculatorIDs := calculatorIDsFromKeys(job.DescriptorIDs)
	err := s.reanalyzer.ReanalyzeCalculators(ctx, job.AudioSourceID, calculatorIDs, job.ProfileID)

	now := time.Now().UTC()
	job.UpdatedAt = now
	entry := HistoryEntry{
		AudioSourceID: job.AudioSourceID,
		ProfileID:     job.ProfileID,
		DescriptorIDs: append([]string(nil), job.DescriptorIDs...),
		Action:        ActionForTrigger(job.Trigger),
		Timestamp:     now,
	}
	if err != nil {
		job.Status = JobFailed
		job.ErrorMessage = err.Error()
		entry.Outcome = OutcomeFailed
		entry.Detail = err.Error()
	} else {
		job.Status = JobSucceeded
		entry.Outcome = OutcomeSucceeded
	}

	s.mu.Lock()
	// A failed job clears its pending markers too, so the descriptors return
	// to normal missing/stale classification on the next diff.
	if pendingSet, ok := s.pending[diff.PairKey(job.AudioSourceID, job.ProfileID)]; ok {
		for _, key := range job.DescriptorIDs {
			delete(pendingSet, key)
		}
		if len(pendingSet) == 0 {
			delete(s.pending, diff.PairKey(job.AudioSourceID, job.ProfileID))
		}
	}
	for i := range s.jobs {
		if s.jobs[i].ID == job.ID {
			s.jobs[i] = job
			break
		}
	}
	s.appendHistoryLocked(entry)
	s.updateJobLocked(job)
	callback := s.onComplete
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("regeneration job failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldAudioSource, job.AudioSourceID),
			logging.String(logging.FieldProfile, job.ProfileID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "re-run regeneration after addressing the failure"),
			logging.String(logging.FieldImpact, "descriptors return to missing/stale classification"))
	} else {
		s.logger.Info("regeneration job succeeded",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldAudioSource, job.AudioSourceID),
			logging.String(logging.FieldProfile, job.ProfileID))
	}

	if callback != nil {
		callback(job)
	}
}

// RecordHistory appends an audit entry outside the job lifecycle, e.g. for
// extraneous cache deletion.
func (s *Scheduler) RecordHistory(entry HistoryEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendHistoryLocked(entry)
}

// Pending returns a snapshot of the pending descriptor sets keyed by pair.
func (s *Scheduler) Pending() map[string]map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[string]struct{}, len(s.pending))
	for pairKey, set := range s.pending {
		copySet := make(map[string]struct{}, len(set))
		for key := range set {
			copySet[key] = struct{}{}
		}
		out[pairKey] = copySet
	}
	return out
}

// PendingForPair returns the sorted pending descriptor keys for one pair.
func (s *Scheduler) PendingForPair(audioSourceID, profileID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.pending[diff.PairKey(audioSourceID, profileID)]
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Jobs returns copies of all jobs in creation order.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	for i, job := range s.jobs {
		job.DescriptorIDs = append([]string(nil), job.DescriptorIDs...)
		out[i] = job
	}
	return out
}

// History returns the in-memory history entries, oldest first.
func (s *Scheduler) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	for i, entry := range s.history {
		entry.DescriptorIDs = append([]string(nil), entry.DescriptorIDs...)
		out[i] = entry
	}
	return out
}

// Reset waits for in-flight jobs to finish, then drops jobs, history, and
// pending markers. Completions recorded while draining land in the old state
// and are discarded with it.
func (s *Scheduler) Reset() {
	s.wg.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = make(map[string]map[string]struct{})
	s.jobs = nil
	s.history = nil
}

// Wait blocks until all in-flight jobs complete. Intended for tests and
// shutdown paths.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) appendHistoryLocked(entry HistoryEntry) {
	s.history = append(s.history, entry)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = s.history[len(s.history)-s.historyLimit:]
	}
	if s.sink != nil {
		if err := s.sink.AppendHistory(entry); err != nil {
			s.logger.Warn("journal history append failed",
				logging.String(logging.FieldEventType, "journal_append_failed"),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check journal database health"),
				logging.String(logging.FieldImpact, "audit trail is incomplete"))
		}
	}
}

func (s *Scheduler) recordJobLocked(job Job) {
	if s.sink == nil {
		return
	}
	if err := s.sink.RecordJob(job); err != nil {
		s.logger.Warn("journal job record failed",
			logging.String(logging.FieldEventType, "journal_record_failed"),
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
}

func (s *Scheduler) updateJobLocked(job Job) {
	if s.sink == nil {
		return
	}
	if err := s.sink.UpdateJob(job); err != nil {
		s.logger.Warn("journal job update failed",
			logging.String(logging.FieldEventType, "journal_update_failed"),
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err))
	}
}

// calculatorIDsFromKeys extracts the distinct calculator ids encoded in
// descriptor keys, sorted.
func calculatorIDsFromKeys(keys []string) []string {
	seen := make(map[string]struct{})
	for _, key := range keys {
		for _, segment := range strings.Split(key, "|") {
			if id, ok := strings.CutPrefix(segment, "calc:"); ok {
				id = strings.TrimSpace(id)
				if id != "" {
					seen[id] = struct{}{}
				}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
