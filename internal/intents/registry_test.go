package intents_test

import (
	"testing"

	"resona/internal/descriptor"
	"resona/internal/intents"
)

func TestPublishRequiresElementID(t *testing.T) {
	reg := intents.NewRegistry()
	if err := reg.Publish(intents.Intent{TrackRef: "track-1"}); err == nil {
		t.Fatal("expected error for empty element id")
	}
}

func TestPublishReplacesWholesale(t *testing.T) {
	reg := intents.NewRegistry()
	first := intents.Intent{
		ElementID: "el-1",
		TrackRef:  "track-1",
		Descriptors: []descriptor.Descriptor{
			{FeatureKey: "rms", CalculatorID: "test.rms"},
			{FeatureKey: "spectrogram", CalculatorID: "test.spectrogram"},
		},
	}
	if err := reg.Publish(first); err != nil {
		t.Fatalf("publish: %v", err)
	}

	second := intents.Intent{
		ElementID:   "el-1",
		TrackRef:    "track-1",
		Descriptors: []descriptor.Descriptor{{FeatureKey: "chroma", CalculatorID: "test.chroma"}},
	}
	if err := reg.Publish(second); err != nil {
		t.Fatalf("republish: %v", err)
	}

	got, ok := reg.Get("el-1")
	if !ok {
		t.Fatal("expected intent for el-1")
	}
	if len(got.Descriptors) != 1 || got.Descriptors[0].FeatureKey != "chroma" {
		t.Fatalf("expected wholesale replacement, got %+v", got.Descriptors)
	}
	if got.RequestedAt.IsZero() {
		t.Fatal("expected RequestedAt to be stamped")
	}
}

func TestPublishStoresCopy(t *testing.T) {
	reg := intents.NewRegistry()
	descs := []descriptor.Descriptor{{FeatureKey: "rms", CalculatorID: "test.rms"}}
	if err := reg.Publish(intents.Intent{ElementID: "el-1", TrackRef: "t", Descriptors: descs}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	descs[0].FeatureKey = "mutated"
	got, _ := reg.Get("el-1")
	if got.Descriptors[0].FeatureKey != "rms" {
		t.Fatal("registry shared caller slice")
	}
}

func TestRemoveTrack(t *testing.T) {
	reg := intents.NewRegistry()
	_ = reg.Publish(intents.Intent{ElementID: "el-1", TrackRef: "track-1"})
	_ = reg.Publish(intents.Intent{ElementID: "el-2", TrackRef: "track-2"})
	reg.RemoveTrack("track-1")

	all := reg.All()
	if len(all) != 1 || all[0].ElementID != "el-2" {
		t.Fatalf("unexpected intents after RemoveTrack: %+v", all)
	}
}

func TestAllOrderedByElementID(t *testing.T) {
	reg := intents.NewRegistry()
	_ = reg.Publish(intents.Intent{ElementID: "el-b", TrackRef: "t"})
	_ = reg.Publish(intents.Intent{ElementID: "el-a", TrackRef: "t"})
	all := reg.All()
	if len(all) != 2 || all[0].ElementID != "el-a" || all[1].ElementID != "el-b" {
		t.Fatalf("unexpected order: %+v", all)
	}
}
