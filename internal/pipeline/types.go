package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrLockConflict is returned when another run already holds the date
// lock. Callers should treat it as "try again later"; it is never
// retried internally.
var ErrLockConflict = errors.New("another run is in progress for this date")

// Run statuses. A run is created running and transitions exactly once to
// a terminal state.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Regeneration modes. Persisted for lineage only; every stage re-executes
// regardless of mode.
const (
	RegenProseOnly = "prose_only"
	RegenReselect  = "reselect"
	RegenFullRerun = "full_rerun"
)

// Signal intensities.
const (
	IntensityMajor    = "major"
	IntensityModerate = "moderate"
	IntensityMinor    = "minor"
)

// Directionality values a distilled signal can carry.
var Directionalities = []string{"rising", "falling", "stable", "volatile"}

// Domains is the closed enumeration of signal domains.
var Domains = []string{
	"politics", "conflict", "economy", "technology",
	"science", "culture", "environment", "health", "esoteric",
}

// Run is one execution attempt for a business date.
type Run struct {
	ID          string
	DateContext string
	RunNumber   int
	Status      string
	Seed        int64

	RegenerationMode string // empty means none
	ParentRunID      *string

	SkyOnly             bool
	SynthesisDiagnostic string

	EphemerisHash string
	SignalsHash   string
	SelectionHash string
	ThreadsHash   string
	ArtifactHash  string

	Ephemeris      json.RawMessage
	ThreadSnapshot json.RawMessage
	Artifact       json.RawMessage

	Error      *string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// SourceRef points a signal back at the content it was distilled from.
type SourceRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Signal is one distilled item, scoped to a date and run. Identity is
// synthesized from date, run number and sequence and never changes.
type Signal struct {
	ID             string      `json:"id"`
	DateContext    string      `json:"date_context"`
	RunID          string      `json:"run_id"`
	Seq            int         `json:"seq"`
	Summary        string      `json:"summary"`
	Domain         string      `json:"domain"`
	Intensity      string      `json:"intensity"`
	Directionality string      `json:"directionality"`
	Entities       []string    `json:"entities,omitempty"`
	Sources        []SourceRef `json:"sources,omitempty"`
	SourceWeight   float64     `json:"source_weight"`
	Embedding      []float32   `json:"-"`

	WasSelected     bool    `json:"was_selected"`
	WasWildCard     bool    `json:"was_wild_card"`
	SelectionWeight float64 `json:"selection_weight"`
}

// Thread is a longitudinal narrative entity spanning runs. The centroid
// is fixed at creation.
type Thread struct {
	ID            string
	Summary       string
	Domain        string
	FirstSurfaced string
	LastSeen      string
	Appearances   int
	Active        bool
	Centroid      []float32
}

// ThreadRef is the per-thread view handed to synthesis.
type ThreadRef struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Domain      string `json:"domain"`
	Appearances int    `json:"appearances"`
}

// Artifact is the daily output payload.
type Artifact struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	Sections []string `json:"sections,omitempty"`
	SkyOnly  bool     `json:"sky_only"`
	Fallback bool     `json:"fallback"`
}

// SynthesisResult carries the artifact plus audit payloads. Fallback true
// means generation was exhausted and the fixed placeholder was used.
type SynthesisResult struct {
	Artifact   Artifact        `json:"artifact"`
	Plan       json.RawMessage `json:"plan,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
	Fallback   bool            `json:"fallback"`
}

// RunStore is the persistence surface the orchestrator needs for runs and
// signals. Implemented by internal/store.
type RunStore interface {
	// CreateRun assigns run.RunNumber as max(run_number)+1 for the date
	// and inserts the row in a single transaction. Must be called while
	// holding the date lock.
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run, status string, runErr *string) error
	SaveRunArtifacts(ctx context.Context, run *Run) error
	InsertSignals(ctx context.Context, signals []Signal) error
	UpdateSignalSelection(ctx context.Context, signals []Signal) error
}

// ThreadStore is the persistence surface for longitudinal threads.
type ThreadStore interface {
	ListActiveThreads(ctx context.Context) ([]Thread, error)
	CreateThread(ctx context.Context, t *Thread) error
	// RecordThreadMatch increments appearances, advances last_seen and
	// appends the (thread, signal) audit row.
	RecordThreadMatch(ctx context.Context, threadID, signalID, date string, score float64) error
	DeactivateStaleThreads(ctx context.Context, date string, staleDays int) (int64, error)
}

// Locker provides the per-date advisory lock. Acquire fails fast with
// ErrLockConflict; it never queues.
type Locker interface {
	AcquireDateLock(ctx context.Context, date string) (release func(), err error)
}

// Publisher receives the completed artifact at the publish gate. Failures
// are logged, never fatal.
type Publisher interface {
	Publish(ctx context.Context, date string, artifact json.RawMessage) error
}
