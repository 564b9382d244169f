package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/disinfo-zone/voidwire-sub000/internal/sources"
)

func testItems() []sources.RawItem {
	return []sources.RawItem{
		{Source: "wire", Title: "markets", Body: "body one", URL: "https://example.com/1", SourceWeight: 0.9},
		{Source: "labs", Title: "research", Body: "body two", URL: "https://example.com/2", SourceWeight: 0.6},
	}
}

func TestDistillParsesAndScopesSignals(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		ok("```json\n" + distillTwoSignals + "\n```"),
	}}
	d := NewDistiller(stub, nil, nil)

	signals, err := d.Distill(context.Background(), testItems(), "2025-03-01", "run-1", 2)
	if err != nil {
		t.Fatalf("Distill: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("got %d signals, want 2", len(signals))
	}
	first := signals[0]
	if first.ID != "2025-03-01:2:001" || first.Seq != 1 {
		t.Fatalf("identity = %s seq %d", first.ID, first.Seq)
	}
	if first.DateContext != "2025-03-01" || first.RunID != "run-1" {
		t.Fatalf("scope = %s / %s", first.DateContext, first.RunID)
	}
	if first.Domain != "economy" || first.Intensity != IntensityMajor {
		t.Fatalf("enums = %s / %s", first.Domain, first.Intensity)
	}
	if len(first.Sources) != 1 || first.Sources[0].Name != "wire" {
		t.Fatalf("source refs = %+v", first.Sources)
	}
	if first.SourceWeight != 0.9 {
		t.Fatalf("source weight = %v, want the referenced item's", first.SourceWeight)
	}
	if stub.calls[0].slot != "distill" {
		t.Fatalf("distill routed to slot %v", stub.calls[0].slot)
	}
}

func TestDistillCoercesUnknownEnums(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		ok(`[{"summary": "something odd happened somewhere", "domain": "sports", "intensity": "catastrophic", "directionality": "sideways", "item_indexes": [0]}]`),
	}}
	d := NewDistiller(stub, nil, nil)

	signals, err := d.Distill(context.Background(), testItems(), "2025-03-01", "run-1", 1)
	if err != nil {
		t.Fatalf("Distill: %v", err)
	}
	sig := signals[0]
	if sig.Domain != "culture" {
		t.Fatalf("unknown domain coerced to %q, want culture", sig.Domain)
	}
	if sig.Intensity != IntensityMinor {
		t.Fatalf("unknown intensity coerced to %q, want minor", sig.Intensity)
	}
	if sig.Directionality != "stable" {
		t.Fatalf("unknown directionality coerced to %q, want stable", sig.Directionality)
	}
}

func TestDistillDropsEmptySummariesAndBadIndexes(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		ok(`[
  {"summary": "  ", "domain": "economy", "intensity": "major", "directionality": "rising", "item_indexes": [0]},
  {"summary": "kept", "domain": "economy", "intensity": "major", "directionality": "rising", "item_indexes": [7, -1, 1]}
]`),
	}}
	d := NewDistiller(stub, nil, nil)

	signals, err := d.Distill(context.Background(), testItems(), "2025-03-01", "run-1", 1)
	if err != nil {
		t.Fatalf("Distill: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(signals))
	}
	if signals[0].Seq != 1 {
		t.Fatalf("sequence must stay contiguous after drops, got %d", signals[0].Seq)
	}
	if len(signals[0].Sources) != 1 || signals[0].Sources[0].Name != "labs" {
		t.Fatalf("out-of-range indexes not skipped: %+v", signals[0].Sources)
	}
}

func TestDistillErrorSurfaces(t *testing.T) {
	stub := &stubProvider{responses: []func(generateCall) (string, error){
		fail("model down"),
	}}
	d := NewDistiller(stub, nil, nil)

	if _, err := d.Distill(context.Background(), testItems(), "2025-03-01", "run-1", 1); err == nil {
		t.Fatalf("expected gateway error to surface")
	}
}

func TestEmbedSignalsCountMismatch(t *testing.T) {
	stub := &stubProvider{vectors: [][]float32{{1, 0}}}
	d := NewDistiller(stub, nil, nil)

	signals := []Signal{{Summary: "a"}, {Summary: "b"}}
	if err := d.EmbedSignals(context.Background(), signals); err == nil {
		t.Fatalf("expected count mismatch error")
	}
	if len(signals[0].Embedding) != 0 {
		t.Fatalf("mismatched vectors must not be attached")
	}
}

func TestEmbedSignalsAttachesInPlace(t *testing.T) {
	stub := &stubProvider{}
	d := NewDistiller(stub, nil, nil)

	signals := []Signal{{Summary: "a"}, {Summary: "b"}}
	if err := d.EmbedSignals(context.Background(), signals); err != nil {
		t.Fatalf("EmbedSignals: %v", err)
	}
	for i, sig := range signals {
		if len(sig.Embedding) == 0 {
			t.Fatalf("signal %d missing embedding", i)
		}
	}
}

func TestEmbedSignalsErrorLeavesSignalsUntouched(t *testing.T) {
	stub := &stubProvider{embedErr: errors.New("embedding service down")}
	d := NewDistiller(stub, nil, nil)

	signals := []Signal{{Summary: "a"}}
	if err := d.EmbedSignals(context.Background(), signals); err == nil {
		t.Fatalf("expected embedding error")
	}
	if len(signals[0].Embedding) != 0 {
		t.Fatalf("failed embed attached a vector")
	}
}
