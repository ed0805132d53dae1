package diagnostics_test

import (
	"context"
	"errors"
	"testing"

	"resona/internal/calculators"
	"resona/internal/config"
	"resona/internal/descriptor"
	"resona/internal/diagnostics"
	"resona/internal/diff"
	"resona/internal/intents"
	"resona/internal/logging"
	"resona/internal/regen"
	"resona/internal/testsupport"
	"resona/internal/timeline"
)

const spectrogramKey = "feature:spectrogram|calc:test.spectrogram|band:all|profile:default"

type fixture struct {
	cfg      *config.Config
	registry *calculators.Registry
	provider *timeline.MemoryProvider
	store    *diagnostics.Store
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	registry := calculators.NewRegistry()
	if err := registry.Register(calculators.Calculator{
		ID: "test.spectrogram", Version: "1.0", FeatureKey: "spectrogram",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	provider := timeline.NewMemoryProvider(registry)
	provider.SetTracks([]timeline.Track{{ID: "trk-1", AudioSourceID: "src-1"}})

	cfg := testsupport.NewConfig(t, opts...)
	store, err := diagnostics.New(cfg, logging.NewNop(), registry, provider)
	if err != nil {
		t.Fatalf("diagnostics.New: %v", err)
	}
	return &fixture{cfg: cfg, registry: registry, provider: provider, store: store}
}

func (f *fixture) publish(t *testing.T, elementID, trackRef string, descriptors ...descriptor.Descriptor) {
	t.Helper()
	err := f.store.PublishIntent(intents.Intent{
		ElementID:   elementID,
		ElementType: "sceneElement",
		TrackRef:    trackRef,
		Descriptors: descriptors,
	})
	if err != nil {
		t.Fatalf("PublishIntent(%s): %v", elementID, err)
	}
}

func (f *fixture) mustDiff(t *testing.T, audioSourceID, profileID string) diff.Result {
	t.Helper()
	result, ok := f.store.Diff(audioSourceID, profileID)
	if !ok {
		t.Fatalf("no diff for (%s, %s); have %+v", audioSourceID, profileID, f.store.Diffs())
	}
	return result
}

func spectrogramDescriptor() descriptor.Descriptor {
	return descriptor.Descriptor{FeatureKey: "spectrogram", CalculatorID: "test.spectrogram"}
}

func TestEmptyCacheReportsMissing(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())

	result := f.mustDiff(t, "src-1", "default")
	if len(result.Missing) != 1 || result.Missing[0] != spectrogramKey {
		t.Fatalf("missing = %v, want [%s]", result.Missing, spectrogramKey)
	}
	if result.Status != diff.StatusIssues {
		t.Fatalf("status = %q, want issues", result.Status)
	}
	if len(result.DescriptorsCached) != 0 {
		t.Fatalf("cached = %v, want empty", result.DescriptorsCached)
	}
	if owners := result.Owners[spectrogramKey]; len(owners) != 1 || owners[0] != "el-1" {
		t.Fatalf("owners = %v, want [el-1]", owners)
	}
}

func TestMatchingCacheReportsClear(t *testing.T) {
	f := newFixture(t)
	if err := f.provider.ReanalyzeCalculators(context.Background(), "src-1", []string{"test.spectrogram"}, "default"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())

	result := f.mustDiff(t, "src-1", "default")
	if len(result.Missing) != 0 {
		t.Fatalf("missing = %v, want empty", result.Missing)
	}
	if len(result.DescriptorsCached) != 1 || result.DescriptorsCached[0] != spectrogramKey {
		t.Fatalf("cached = %v, want [%s]", result.DescriptorsCached, spectrogramKey)
	}
	if result.Status != diff.StatusClear {
		t.Fatalf("status = %q, want clear", result.Status)
	}
}

func TestUnknownCalculatorReportsBadRequest(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "el-1", "trk-1", descriptor.Descriptor{
		FeatureKey: "mystery", CalculatorID: "com.example.mystery",
	})

	result := f.mustDiff(t, "src-1", "default")
	wantKey := "feature:mystery|calc:com.example.mystery|band:all|profile:default"
	if len(result.BadRequest) != 1 || result.BadRequest[0] != wantKey {
		t.Fatalf("badRequest = %v, want [%s]", result.BadRequest, wantKey)
	}
	if len(result.Missing) != 0 {
		t.Fatalf("missing = %v, want empty", result.Missing)
	}
}

func TestStaleAfterCalculatorVersionBump(t *testing.T) {
	f := newFixture(t)
	if err := f.provider.ReanalyzeCalculators(context.Background(), "src-1", []string{"test.spectrogram"}, "default"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	f.registry.Unregister("test.spectrogram")
	if err := f.registry.Register(calculators.Calculator{
		ID: "test.spectrogram", Version: "2.0", FeatureKey: "spectrogram",
	}); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())

	result := f.mustDiff(t, "src-1", "default")
	if len(result.Stale) != 1 || result.Stale[0] != spectrogramKey {
		t.Fatalf("stale = %v, want [%s]", result.Stale, spectrogramKey)
	}
	if len(result.Missing) != 0 {
		t.Fatalf("missing = %v, want empty", result.Missing)
	}
}

func TestRegenerationLifecycle(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())

	release := make(chan struct{})
	f.provider.SetBeforeReanalyze(func() { <-release })

	job, err := f.store.RegenerateDescriptors(context.Background(), "src-1", "default", []string{spectrogramKey}, regen.TriggerManual)
	if err != nil {
		t.Fatalf("RegenerateDescriptors: %v", err)
	}
	if job == nil {
		t.Fatal("expected a job")
	}
	if job.Status != regen.JobQueued && job.Status != regen.JobRunning {
		t.Fatalf("job status = %q, want queued or running", job.Status)
	}

	pending := f.store.PendingDescriptors()
	if keys := pending[diff.PairKey("src-1", "default")]; len(keys) != 1 || keys[0] != spectrogramKey {
		t.Fatalf("pending = %v", pending)
	}
	result := f.mustDiff(t, "src-1", "default")
	if len(result.Regenerating) != 1 || result.Regenerating[0] != spectrogramKey {
		t.Fatalf("regenerating = %v, want [%s]", result.Regenerating, spectrogramKey)
	}
	if len(result.Missing) != 0 {
		t.Fatalf("missing while regenerating = %v, want empty", result.Missing)
	}

	// Duplicate submission while the job is in flight creates no second job.
	dup, err := f.store.RegenerateDescriptors(context.Background(), "src-1", "default", []string{spectrogramKey}, regen.TriggerManual)
	if err != nil {
		t.Fatalf("duplicate RegenerateDescriptors: %v", err)
	}
	if dup != nil {
		t.Fatalf("duplicate created job %s", dup.ID)
	}

	close(release)
	f.store.Scheduler().Wait()

	jobs := f.store.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if !jobs[0].Status.IsTerminal() || jobs[0].Status != regen.JobSucceeded {
		t.Fatalf("job status = %q, want succeeded", jobs[0].Status)
	}
	history := f.store.History()
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(history))
	}
	if history[0].Action != regen.ActionManualRegenerate || history[0].Outcome != regen.OutcomeSucceeded {
		t.Fatalf("history entry = %+v", history[0])
	}
	if len(history[0].DescriptorIDs) != 1 || history[0].DescriptorIDs[0] != spectrogramKey {
		t.Fatalf("history keys = %v", history[0].DescriptorIDs)
	}
	if keys := f.store.PendingDescriptors()[diff.PairKey("src-1", "default")]; len(keys) != 0 {
		t.Fatalf("pending after completion = %v, want empty", keys)
	}

	result = f.mustDiff(t, "src-1", "default")
	if len(result.DescriptorsCached) != 1 || result.DescriptorsCached[0] != spectrogramKey {
		t.Fatalf("cached after regeneration = %v", result.DescriptorsCached)
	}
	if result.Status != diff.StatusClear {
		t.Fatalf("status = %q, want clear", result.Status)
	}
}

func TestFailedRegenerationReturnsToMissing(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	f.provider.SetReanalyzeFailure(errors.New("analysis backend unavailable"))

	if _, err := f.store.RegenerateDescriptors(context.Background(), "src-1", "default", []string{spectrogramKey}, regen.TriggerManual); err != nil {
		t.Fatalf("RegenerateDescriptors: %v", err)
	}
	f.store.Scheduler().Wait()

	jobs := f.store.Jobs()
	if len(jobs) != 1 || jobs[0].Status != regen.JobFailed {
		t.Fatalf("jobs = %+v, want one failed job", jobs)
	}
	history := f.store.History()
	if len(history) != 1 || history[0].Outcome != regen.OutcomeFailed {
		t.Fatalf("history = %+v, want one failed entry", history)
	}

	result := f.mustDiff(t, "src-1", "default")
	if len(result.Missing) != 1 || result.Missing[0] != spectrogramKey {
		t.Fatalf("missing after failure = %v, want [%s]", result.Missing, spectrogramKey)
	}
	if len(result.Regenerating) != 0 {
		t.Fatalf("regenerating after failure = %v, want empty", result.Regenerating)
	}
}

func TestAliasedTracksCollapseToOneDiff(t *testing.T) {
	f := newFixture(t)
	f.provider.SetTracks([]timeline.Track{
		{ID: "trk-2", AudioSourceID: "src-1"},
		{ID: "trk-1", AudioSourceID: "src-1"},
	})
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	f.publish(t, "el-2", "trk-2", spectrogramDescriptor())

	diffs := f.store.Diffs()
	if len(diffs) != 1 {
		t.Fatalf("diffs = %d, want 1", len(diffs))
	}
	result := diffs[0]
	if result.AudioSourceID != "src-1" {
		t.Fatalf("audio source = %q", result.AudioSourceID)
	}
	if len(result.TrackRefs) != 2 || result.TrackRefs[0] != "trk-1" || result.TrackRefs[1] != "trk-2" {
		t.Fatalf("trackRefs = %v, want [trk-1 trk-2]", result.TrackRefs)
	}
	if owners := result.Owners[spectrogramKey]; len(owners) != 2 {
		t.Fatalf("owners = %v, want both elements", owners)
	}
}

func TestDismissalLifecycle(t *testing.T) {
	f := newFixture(t)
	if err := f.provider.ReanalyzeCalculators(context.Background(), "src-1", []string{"test.spectrogram"}, "default"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	f.store.Recompute()

	result := f.mustDiff(t, "src-1", "default")
	if len(result.Extraneous) != 1 {
		t.Fatalf("extraneous = %v, want one entry", result.Extraneous)
	}
	key := result.Extraneous[0]

	f.store.DismissExtraneous("src-1", "default", key)
	f.store.DismissExtraneous("src-1", "default", key) // idempotent

	result = f.mustDiff(t, "src-1", "default")
	if len(result.Extraneous) != 0 {
		t.Fatalf("extraneous after dismissal = %v, want empty", result.Extraneous)
	}
	if result.Status != diff.StatusClear {
		t.Fatalf("status = %q, want clear", result.Status)
	}
	if dismissed := f.store.DismissedKeys("src-1", "default"); len(dismissed) != 1 || dismissed[0] != key {
		t.Fatalf("dismissed = %v, want [%s]", dismissed, key)
	}

	// Re-requesting the descriptor auto-clears the dismissal.
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	result = f.mustDiff(t, "src-1", "default")
	if len(result.DescriptorsCached) != 1 {
		t.Fatalf("cached = %v, want the re-requested key", result.DescriptorsCached)
	}
	if dismissed := f.store.DismissedKeys("src-1", "default"); len(dismissed) != 0 {
		t.Fatalf("dismissed after re-request = %v, want empty", dismissed)
	}
}

func TestDeleteExtraneousCaches(t *testing.T) {
	f := newFixture(t)
	if err := f.registry.Register(calculators.Calculator{
		ID: "test.loudness", Version: "1.0", FeatureKey: "loudness",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := f.provider.ReanalyzeCalculators(context.Background(), "src-1", []string{"test.spectrogram", "test.loudness"}, "default"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())

	result := f.mustDiff(t, "src-1", "default")
	if len(result.Extraneous) != 1 {
		t.Fatalf("extraneous = %v, want the loudness track", result.Extraneous)
	}

	if err := f.store.DeleteExtraneousCaches(context.Background()); err != nil {
		t.Fatalf("DeleteExtraneousCaches: %v", err)
	}

	result = f.mustDiff(t, "src-1", "default")
	if len(result.Extraneous) != 0 {
		t.Fatalf("extraneous after delete = %v, want empty", result.Extraneous)
	}
	if len(result.DescriptorsCached) != 1 || result.DescriptorsCached[0] != spectrogramKey {
		t.Fatalf("cached after delete = %v, want only the requested key", result.DescriptorsCached)
	}
	cache, _ := f.provider.Cache("src-1")
	if _, gone := cache.FeatureTracks["loudness"]; gone {
		t.Fatal("loudness track still present in cache")
	}

	history := f.store.History()
	if len(history) != 1 || history[0].Action != regen.ActionDeleteExtraneous {
		t.Fatalf("history = %+v, want one delete_extraneous entry", history)
	}
}

func TestMissingPopupRearm(t *testing.T) {
	f := newFixture(t)
	if f.store.MissingPopupVisible() {
		t.Fatal("popup visible before any missing descriptors")
	}

	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	if !f.store.MissingPopupVisible() {
		t.Fatal("popup should be visible with a missing descriptor")
	}

	f.store.DismissMissingPopup()
	if f.store.MissingPopupVisible() || !f.store.MissingPopupSuppressed() {
		t.Fatal("popup should be suppressed after dismissal")
	}

	// Same missing signature keeps the popup suppressed.
	f.store.Recompute()
	if f.store.MissingPopupVisible() {
		t.Fatal("unchanged signature must not re-arm the popup")
	}

	// A new missing key re-arms it.
	band := 2
	f.publish(t, "el-2", "trk-1", descriptor.Descriptor{
		FeatureKey: "spectrogram", CalculatorID: "test.spectrogram", BandIndex: &band,
	})
	if !f.store.MissingPopupVisible() {
		t.Fatal("new missing key should re-arm the popup")
	}
	if f.store.MissingPopupSuppressed() {
		t.Fatal("visible popup cannot be suppressed")
	}

	// Resolving everything hides it.
	f.store.RemoveElement("el-1")
	f.store.RemoveElement("el-2")
	if f.store.MissingPopupVisible() || f.store.MissingPopupSuppressed() {
		t.Fatal("popup should return to hidden once nothing is missing")
	}
}

func TestPopupDisabledByConfig(t *testing.T) {
	f := newFixture(t, testsupport.WithPopupDisabled())
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	if f.store.MissingPopupVisible() {
		t.Fatal("popup must stay hidden when disabled")
	}
}

func TestAutoRegenerateFillsMissingDescriptors(t *testing.T) {
	f := newFixture(t, testsupport.WithAutoRegenerate(true))
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	f.store.Scheduler().Wait()

	result := f.mustDiff(t, "src-1", "default")
	if len(result.DescriptorsCached) != 1 || result.DescriptorsCached[0] != spectrogramKey {
		t.Fatalf("cached = %v, want [%s]", result.DescriptorsCached, spectrogramKey)
	}
	jobs := f.store.Jobs()
	if len(jobs) != 1 || jobs[0].Trigger != regen.TriggerAuto {
		t.Fatalf("jobs = %+v, want one auto job", jobs)
	}
	history := f.store.History()
	if len(history) != 1 || history[0].Action != regen.ActionAutoRegenerate {
		t.Fatalf("history = %+v", history)
	}
}

func TestAutoRegenerateDoesNotRetryFailures(t *testing.T) {
	f := newFixture(t, testsupport.WithAutoRegenerate(true))
	f.provider.SetReanalyzeFailure(errors.New("analysis backend unavailable"))
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	f.store.Scheduler().Wait()

	// The completion recompute sees the descriptor missing again; a second
	// automatic attempt must not be scheduled.
	f.store.Recompute()
	f.store.Scheduler().Wait()

	jobs := f.store.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want exactly 1", len(jobs))
	}
	if jobs[0].Status != regen.JobFailed {
		t.Fatalf("job status = %q, want failed", jobs[0].Status)
	}
	result := f.mustDiff(t, "src-1", "default")
	if len(result.Missing) != 1 {
		t.Fatalf("missing = %v, want the failed key", result.Missing)
	}
}

func TestResetDropsSessionState(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())
	if _, err := f.store.RegenerateDescriptors(context.Background(), "src-1", "default", []string{spectrogramKey}, regen.TriggerManual); err != nil {
		t.Fatalf("RegenerateDescriptors: %v", err)
	}
	f.store.Scheduler().Wait()
	f.store.DismissMissingPopup()

	f.store.Reset()

	if len(f.store.Intents()) != 0 {
		t.Fatal("intents survived reset")
	}
	if len(f.store.Jobs()) != 0 || len(f.store.History()) != 0 {
		t.Fatal("jobs or history survived reset")
	}
	if f.store.MissingPopupVisible() || f.store.MissingPopupSuppressed() {
		t.Fatal("popup state survived reset")
	}
}

func TestJournalReceivesJobsAndHistory(t *testing.T) {
	registry := calculators.NewRegistry()
	if err := registry.Register(calculators.Calculator{
		ID: "test.spectrogram", Version: "1.0", FeatureKey: "spectrogram",
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	provider := timeline.NewMemoryProvider(registry)
	provider.SetTracks([]timeline.Track{{ID: "trk-1", AudioSourceID: "src-1"}})

	cfg := testsupport.NewConfig(t)
	journal := testsupport.MustOpenJournal(t, cfg)
	store, err := diagnostics.New(cfg, logging.NewNop(), registry, provider, diagnostics.WithJournal(journal))
	if err != nil {
		t.Fatalf("diagnostics.New: %v", err)
	}

	if err := store.PublishIntent(intents.Intent{
		ElementID:   "el-1",
		TrackRef:    "trk-1",
		Descriptors: []descriptor.Descriptor{spectrogramDescriptor()},
	}); err != nil {
		t.Fatalf("PublishIntent: %v", err)
	}
	if _, err := store.RegenerateDescriptors(context.Background(), "src-1", "default", []string{spectrogramKey}, regen.TriggerManual); err != nil {
		t.Fatalf("RegenerateDescriptors: %v", err)
	}
	store.Scheduler().Wait()

	jobs, err := journal.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Status != regen.JobSucceeded {
		t.Fatalf("journaled jobs = %+v", jobs)
	}
	entries, err := journal.ListHistory(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != regen.ActionManualRegenerate {
		t.Fatalf("journaled history = %+v", entries)
	}
}

func TestConcurrentRecomputeDuringRegeneration(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())

	// Recompute reads cache maps while regeneration workers rewrite them;
	// the provider must hand out detached copies for this to be safe.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			f.store.Recompute()
		}
	}()

	for i := 0; i < 50; i++ {
		if _, err := f.store.RegenerateDescriptors(context.Background(), "src-1", "default", []string{spectrogramKey}, regen.TriggerManual); err != nil {
			t.Fatalf("RegenerateDescriptors: %v", err)
		}
		f.store.Scheduler().Wait()
	}
	<-done

	result := f.mustDiff(t, "src-1", "default")
	if result.Status != diff.StatusClear {
		t.Fatalf("status = %q, want clear", result.Status)
	}
}

func TestBadRequestedCacheIsNotExtraneous(t *testing.T) {
	f := newFixture(t)
	if err := f.provider.ReanalyzeCalculators(context.Background(), "src-1", []string{"test.spectrogram"}, "default"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	f.registry.Unregister("test.spectrogram")
	f.publish(t, "el-1", "trk-1", spectrogramDescriptor())

	// An element still references the descriptor, so the cached track is
	// reported as a bad request, not offered for deletion.
	result := f.mustDiff(t, "src-1", "default")
	if len(result.BadRequest) != 1 || result.BadRequest[0] != spectrogramKey {
		t.Fatalf("badRequest = %v, want [%s]", result.BadRequest, spectrogramKey)
	}
	if len(result.Extraneous) != 0 {
		t.Fatalf("extraneous = %v, want empty", result.Extraneous)
	}

	// Once the last referencing element goes away, the track is extraneous
	// even though its calculator is unregistered.
	f.store.RemoveElement("el-1")
	result = f.mustDiff(t, "src-1", "default")
	if len(result.Extraneous) != 1 {
		t.Fatalf("extraneous after removal = %v, want one key", result.Extraneous)
	}
	if len(result.BadRequest) != 0 {
		t.Fatalf("badRequest after removal = %v, want empty", result.BadRequest)
	}
}
