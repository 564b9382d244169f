package pipeline

import (
	"testing"

	"github.com/disinfo-zone/voidwire-sub000/config"
)

func testSignals() []Signal {
	longSummary := "a summary comfortably longer than the wild card minimum"
	return []Signal{
		{ID: "s1", Domain: "politics", Intensity: IntensityMajor, Summary: longSummary, SourceWeight: 1},
		{ID: "s2", Domain: "economy", Intensity: IntensityMajor, Summary: longSummary, SourceWeight: 1},
		{ID: "s3", Domain: "technology", Intensity: IntensityModerate, Summary: longSummary, SourceWeight: 1},
		{ID: "s4", Domain: "science", Intensity: IntensityModerate, Summary: longSummary, SourceWeight: 0.8},
		{ID: "s5", Domain: "culture", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 1},
		{ID: "s6", Domain: "environment", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 0.6},
		{ID: "s7", Domain: "health", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 1},
		{ID: "s8", Domain: "esoteric", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 0.9},
		{ID: "s9", Domain: "conflict", Intensity: IntensityModerate, Summary: longSummary, SourceWeight: 1},
		{ID: "s10", Domain: "culture", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 0.7},
		{ID: "s11", Domain: "technology", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 1},
		{ID: "s12", Domain: "science", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 0.5},
	}
}

func TestSelectEmptyPool(t *testing.T) {
	sel := NewSelector(config.SelectionConfig{})
	got := sel.Select(nil, NewSeededSampler(1))
	if got != nil {
		t.Fatalf("expected nil for empty pool, got %d signals", len(got))
	}
}

func TestSelectCapAndMajors(t *testing.T) {
	cfg := config.SelectionConfig{SelectCount: 5, WildCount: 1}
	sel := NewSelector(cfg)
	signals := testSignals()

	got := sel.Select(signals, NewSeededSampler(42))
	if len(got) > cfg.SelectCount+cfg.WildCount {
		t.Fatalf("selected %d signals, cap is %d", len(got), cfg.SelectCount+cfg.WildCount)
	}

	byID := make(map[string]Signal, len(got))
	for _, sig := range got {
		byID[sig.ID] = sig
	}
	for _, want := range []string{"s1", "s2"} {
		sig, ok := byID[want]
		if !ok {
			t.Fatalf("major signal %s was not selected", want)
		}
		if sig.SelectionWeight != 1.0 {
			t.Fatalf("major %s selection weight = %v, want 1.0", want, sig.SelectionWeight)
		}
		if sig.WasWildCard {
			t.Fatalf("major %s flagged as wild card", want)
		}
	}
	for id, sig := range byID {
		if !sig.WasSelected {
			t.Fatalf("selected signal %s missing WasSelected", id)
		}
	}
}

func TestSelectDeterministicForSeed(t *testing.T) {
	sel := NewSelector(config.SelectionConfig{SelectCount: 6, WildCount: 1})

	a := sel.Select(testSignals(), NewSeededSampler(7))
	b := sel.Select(testSignals(), NewSeededSampler(7))
	if len(a) != len(b) {
		t.Fatalf("same seed gave %d vs %d signals", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Fatalf("same seed diverged at position %d: %s vs %s", i, a[i].ID, b[i].ID)
		}
		if a[i].SelectionWeight != b[i].SelectionWeight {
			t.Fatalf("same seed gave different weights for %s", a[i].ID)
		}
	}

	c := sel.Select(testSignals(), NewSeededSampler(8))
	same := len(a) == len(c)
	if same {
		for i := range a {
			if a[i].ID != c[i].ID {
				same = false
				break
			}
		}
	}
	if same {
		t.Logf("seeds 7 and 8 happened to agree; acceptable but worth noting")
	}
}

func TestSelectFewerCandidatesThanSlots(t *testing.T) {
	sel := NewSelector(config.SelectionConfig{SelectCount: 9, WildCount: 1})
	signals := testSignals()[:3]

	got := sel.Select(signals, NewSeededSampler(3))
	if len(got) > len(signals) {
		t.Fatalf("selected %d from a pool of %d", len(got), len(signals))
	}
}

func TestWildCardExclusionsAndFloor(t *testing.T) {
	longSummary := "a summary comfortably longer than the wild card minimum"
	signals := []Signal{
		{ID: "m1", Domain: "economy", Intensity: IntensityMajor, Summary: longSummary, SourceWeight: 1},
		// Excluded domains never qualify regardless of quality.
		{ID: "w1", Domain: "politics", Intensity: IntensityMajor, Summary: longSummary, SourceWeight: 1},
		{ID: "w2", Domain: "conflict", Intensity: IntensityMajor, Summary: longSummary, SourceWeight: 1},
		// Minor with a weak source fails the quality floor.
		{ID: "w3", Domain: "culture", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 0.2},
		// Summary too short.
		{ID: "w4", Domain: "science", Intensity: IntensityModerate, Summary: "too short", SourceWeight: 1},
		// The only eligible wild card.
		{ID: "w5", Domain: "esoteric", Intensity: IntensityMinor, Summary: longSummary, SourceWeight: 0.5},
	}
	sel := NewSelector(config.SelectionConfig{SelectCount: 1, WildCount: 1})

	got := sel.Select(signals, NewSeededSampler(11))
	var wild *Signal
	for i := range got {
		if got[i].WasWildCard {
			wild = &got[i]
		}
	}
	if wild == nil {
		t.Fatalf("expected a wild card, got none")
	}
	if wild.ID != "w5" {
		t.Fatalf("wild card = %s, want w5", wild.ID)
	}
	if wild.SelectionWeight != 0.0 {
		t.Fatalf("wild card weight = %v, want 0.0", wild.SelectionWeight)
	}
}

func TestWildCardMaxDistanceFromMajors(t *testing.T) {
	longSummary := "a summary comfortably longer than the wild card minimum"
	signals := []Signal{
		{ID: "m1", Domain: "economy", Intensity: IntensityMajor, Summary: longSummary, SourceWeight: 1, Embedding: []float32{1, 0, 0}},
		{ID: "near", Domain: "science", Intensity: IntensityModerate, Summary: longSummary, SourceWeight: 1, Embedding: []float32{0.9, 0.1, 0}},
		{ID: "far", Domain: "esoteric", Intensity: IntensityModerate, Summary: longSummary, SourceWeight: 1, Embedding: []float32{-1, 0, 0}},
	}
	// SelectCount 1 leaves both non-majors for the wild pool.
	sel := NewSelector(config.SelectionConfig{SelectCount: 1, WildCount: 1})

	got := sel.Select(signals, NewSeededSampler(5))
	var wild *Signal
	for i := range got {
		if got[i].WasWildCard {
			wild = &got[i]
		}
	}
	if wild == nil {
		t.Fatalf("expected a wild card")
	}
	if wild.ID != "far" {
		t.Fatalf("wild card = %s, want the most distant candidate", wild.ID)
	}
}

func TestWildCardRandomWithoutEmbeddings(t *testing.T) {
	longSummary := "a summary comfortably longer than the wild card minimum"
	signals := []Signal{
		{ID: "m1", Domain: "economy", Intensity: IntensityMajor, Summary: longSummary, SourceWeight: 1},
		{ID: "c1", Domain: "science", Intensity: IntensityModerate, Summary: longSummary, SourceWeight: 1},
		{ID: "c2", Domain: "culture", Intensity: IntensityModerate, Summary: longSummary, SourceWeight: 1},
	}
	sel := NewSelector(config.SelectionConfig{SelectCount: 1, WildCount: 1})

	a := sel.Select(signals, NewSeededSampler(21))
	b := sel.Select(signals, NewSeededSampler(21))
	var wildA, wildB string
	for _, sig := range a {
		if sig.WasWildCard {
			wildA = sig.ID
		}
	}
	for _, sig := range b {
		if sig.WasWildCard {
			wildB = sig.ID
		}
	}
	if wildA == "" || wildA != wildB {
		t.Fatalf("seeded random wild card not reproducible: %q vs %q", wildA, wildB)
	}
}
