package pipeline

import (
	"math/rand"

	"github.com/disinfo-zone/voidwire-sub000/config"
)

// Sampler is the seeded randomness source behind selection. It is an
// interface so tests can substitute a deterministic sequence and audits
// can replay a run from its recorded seed.
type Sampler interface {
	Float64() float64
	Intn(n int) int
}

// NewSeededSampler returns a Sampler backed by math/rand with the given
// seed. Selection never touches the global random source.
func NewSeededSampler(seed int64) Sampler {
	return rand.New(rand.NewSource(seed))
}

// Selector picks a bounded, diverse subset of the day's signal pool.
type Selector struct {
	cfg config.SelectionConfig
}

// NewSelector builds a Selector from normalized configuration.
func NewSelector(cfg config.SelectionConfig) *Selector {
	return &Selector{cfg: cfg.Normalize()}
}

// Select is deterministic for a fixed signal pool and sampler state:
// every major is included unconditionally, remaining slots are filled by
// weighted sampling without replacement, and one wild card is chosen by
// embedding distance. Never returns more than SelectCount + WildCount
// signals; empty in, empty out.
func (s *Selector) Select(signals []Signal, sampler Sampler) []Signal {
	if len(signals) == 0 {
		return nil
	}

	var selected []Signal
	var pool []Signal
	for _, sig := range signals {
		if sig.Intensity == IntensityMajor {
			sig.WasSelected = true
			sig.SelectionWeight = 1.0
			selected = append(selected, sig)
		} else {
			pool = append(pool, sig)
		}
	}

	slots := s.cfg.SelectCount - len(selected) - s.cfg.WildCount
	if slots < 0 {
		slots = 0
	}

	for slots > 0 && len(pool) > 0 {
		weights := make([]float64, len(pool))
		var total float64
		for i, sig := range pool {
			weights[i] = s.drawWeight(sig, selected)
			total += weights[i]
		}
		if total <= 0 {
			break
		}

		r := sampler.Float64() * total
		idx := len(pool) - 1
		for i, w := range weights {
			r -= w
			if r < 0 {
				idx = i
				break
			}
		}

		picked := pool[idx]
		picked.WasSelected = true
		picked.SelectionWeight = weights[idx]
		selected = append(selected, picked)

		// Swap-remove keeps the draw O(1) without mutating the caller's slice.
		pool[idx] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
		slots--
	}

	if wild, ok := s.pickWildCard(signals, selected, sampler); ok {
		selected = append(selected, wild)
	}
	return selected
}

// drawWeight is intensity times source weight, boosted when the
// candidate's domain has no representation among already-selected
// signals.
func (s *Selector) drawWeight(sig Signal, selected []Signal) float64 {
	var intensity float64
	switch sig.Intensity {
	case IntensityMajor:
		intensity = 3
	case IntensityModerate:
		intensity = 2
	default:
		intensity = 1
	}
	sourceWeight := sig.SourceWeight
	if sourceWeight <= 0 {
		sourceWeight = 1
	}
	w := intensity * sourceWeight
	if !domainRepresented(sig.Domain, selected) {
		w *= s.cfg.DiversityBonus
	}
	return w
}

// pickWildCard chooses one deliberately off-center signal: quality floor,
// minimum summary length, domain outside the excluded set, then maximum
// cosine distance from the centroid of the majors' embeddings. Without
// embeddings it degrades to a seeded random pick.
func (s *Selector) pickWildCard(signals, selected []Signal, sampler Sampler) (Signal, bool) {
	if s.cfg.WildCount <= 0 {
		return Signal{}, false
	}

	taken := make(map[string]bool, len(selected))
	for _, sig := range selected {
		taken[sig.ID] = true
	}
	excluded := make(map[string]bool, len(s.cfg.WildExcluded))
	for _, d := range s.cfg.WildExcluded {
		excluded[d] = true
	}

	var survivors []Signal
	for _, sig := range signals {
		if taken[sig.ID] || excluded[sig.Domain] {
			continue
		}
		qualityFloor := sig.Intensity == IntensityMajor || sig.Intensity == IntensityModerate || sig.SourceWeight >= s.cfg.WildFloorWeight
		if !qualityFloor || len(sig.Summary) < s.cfg.WildMinSummary {
			continue
		}
		survivors = append(survivors, sig)
	}
	if len(survivors) == 0 {
		return Signal{}, false
	}

	var majorVecs [][]float32
	for _, sig := range selected {
		if sig.Intensity == IntensityMajor && len(sig.Embedding) > 0 {
			majorVecs = append(majorVecs, sig.Embedding)
		}
	}
	center := centroid(majorVecs)

	best := -1
	if center != nil {
		bestDist := -1.0
		for i, sig := range survivors {
			if len(sig.Embedding) == 0 {
				continue
			}
			dist := 1 - cosineSimilarity(sig.Embedding, center)
			if dist > bestDist {
				bestDist = dist
				best = i
			}
		}
	}
	if best < 0 {
		best = sampler.Intn(len(survivors))
	}

	wild := survivors[best]
	wild.WasSelected = true
	wild.WasWildCard = true
	wild.SelectionWeight = 0.0
	return wild, true
}

func domainRepresented(domain string, selected []Signal) bool {
	for _, sig := range selected {
		if sig.Domain == domain {
			return true
		}
	}
	return false
}
