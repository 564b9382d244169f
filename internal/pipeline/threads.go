package pipeline

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/disinfo-zone/voidwire-sub000/config"
)

// ThreadTracker matches distilled signals against longitudinal threads.
// It is the only place threads are created, matched or deactivated.
type ThreadTracker struct {
	store  ThreadStore
	cfg    config.ThreadsConfig
	logger *log.Logger
}

// NewThreadTracker builds a tracker over the given thread store.
func NewThreadTracker(store ThreadStore, cfg config.ThreadsConfig, logger *log.Logger) *ThreadTracker {
	if logger == nil {
		logger = log.New(log.Writer(), "[THREADS] ", log.LstdFlags)
	}
	return &ThreadTracker{store: store, cfg: cfg.Normalize(), logger: logger}
}

// Track consumes the full distilled signal set (not merely the selected
// subset), mutates persistent thread state, sweeps stale threads and
// returns the resulting active snapshot.
func (t *ThreadTracker) Track(ctx context.Context, signals []Signal, date string) ([]ThreadRef, error) {
	active, err := t.store.ListActiveThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active threads: %w", err)
	}

	for _, sig := range signals {
		if len(sig.Embedding) == 0 {
			// No vector, no match attempt and no new thread.
			continue
		}

		bestIdx := -1
		bestScore := 0.0
		for i, th := range active {
			score := cosineSimilarity(sig.Embedding, th.Centroid)
			if th.Domain == sig.Domain {
				score += t.cfg.DomainBonus
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		// Strictly greater than the threshold; equality is not a match.
		if bestIdx >= 0 && bestScore > t.cfg.MatchThreshold {
			th := &active[bestIdx]
			if err := t.store.RecordThreadMatch(ctx, th.ID, sig.ID, date, bestScore); err != nil {
				return nil, fmt.Errorf("recording thread match: %w", err)
			}
			th.Appearances++
			th.LastSeen = date
			continue
		}

		// The centroid stays fixed at creation; later members never pull it.
		// Created at zero appearances so the origin membership row below
		// brings the count to one.
		created := Thread{
			ID:            uuid.New().String(),
			Summary:       sig.Summary,
			Domain:        sig.Domain,
			FirstSurfaced: date,
			LastSeen:      date,
			Active:        true,
			Centroid:      sig.Embedding,
		}
		if err := t.store.CreateThread(ctx, &created); err != nil {
			return nil, fmt.Errorf("creating thread: %w", err)
		}
		if err := t.store.RecordThreadMatch(ctx, created.ID, sig.ID, date, 1.0); err != nil {
			return nil, fmt.Errorf("recording thread origin: %w", err)
		}
		created.Appearances = 1
		active = append(active, created)
	}

	deactivated, err := t.store.DeactivateStaleThreads(ctx, date, t.cfg.StaleDays)
	if err != nil {
		return nil, fmt.Errorf("deactivating stale threads: %w", err)
	}
	if deactivated > 0 {
		t.logger.Printf("deactivated %d stale threads for %s", deactivated, date)
	}

	current, err := t.store.ListActiveThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot threads: %w", err)
	}
	snapshot := make([]ThreadRef, 0, len(current))
	for _, th := range current {
		snapshot = append(snapshot, ThreadRef{
			ID:          th.ID,
			Summary:     th.Summary,
			Domain:      th.Domain,
			Appearances: th.Appearances,
		})
	}
	return snapshot, nil
}
