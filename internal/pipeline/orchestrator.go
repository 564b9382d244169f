package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/ephemeris"
	"github.com/disinfo-zone/voidwire-sub000/internal/sources"
	"github.com/disinfo-zone/voidwire-sub000/internal/telemetry"
)

// Orchestrator sequences the daily pipeline: ingestion, distillation,
// selection, thread tracking, synthesis, publish gate. It owns the run
// record, the per-date lock and failure containment.
type Orchestrator struct {
	cfg       *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	runs    RunStore
	locker  Locker
	fetcher sources.Fetcher

	distiller *Distiller
	selector  *Selector
	threads   *ThreadTracker
	synth     *Synthesizer

	publisher Publisher // optional

	// Injected so tests control the business day and the sky.
	now       func() time.Time
	computeEph func(date string) ephemeris.Ephemeris
	location  *time.Location
}

// RunOptions parameterizes one pipeline execution.
type RunOptions struct {
	// Date is the business date (YYYY-MM-DD). Empty resolves to the
	// current local business day.
	Date string
	// RegenerationMode and ParentRunID are lineage metadata; every stage
	// re-executes regardless of mode.
	RegenerationMode string
	ParentRunID      *string
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(cfg *config.Config, runs RunStore, locker Locker, fetcher sources.Fetcher, distiller *Distiller, selector *Selector, threads *ThreadTracker, synth *Synthesizer, publisher Publisher, tel *telemetry.Telemetry, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	loc, err := time.LoadLocation(cfg.General.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		telemetry:  tel,
		runs:       runs,
		locker:     locker,
		fetcher:    fetcher,
		distiller:  distiller,
		selector:   selector,
		threads:    threads,
		synth:      synth,
		publisher:  publisher,
		now:        time.Now,
		computeEph: ephemeris.Compute,
		location:   loc,
	}
}

// Run executes the full pipeline for a date. It fails fast with
// ErrLockConflict when another run for the same date is in progress, and
// otherwise returns the run ID with the run's terminal status persisted.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (string, error) {
	date := opts.Date
	if date == "" {
		date = o.now().In(o.location).Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}

	release, err := o.locker.AcquireDateLock(ctx, date)
	if err != nil {
		return "", err
	}
	// Scoped acquisition: the lock is released on every exit path.
	defer release()

	run := &Run{
		ID:               uuid.New().String(),
		DateContext:      date,
		Status:           RunStatusRunning,
		RegenerationMode: opts.RegenerationMode,
		ParentRunID:      opts.ParentRunID,
	}
	run.Seed = DeriveSeed(date, run.ID)
	if err := o.runs.CreateRun(ctx, run); err != nil {
		return "", fmt.Errorf("creating run: %w", err)
	}
	o.logger.Printf("run %s started for %s (run_number=%d seed=%d)", run.ID, date, run.RunNumber, run.Seed)

	if err := o.execute(ctx, run); err != nil {
		// An uncontained defect: mark failed, record the error, re-raise.
		msg := err.Error()
		if finishErr := o.runs.FinishRun(ctx, run, RunStatusFailed, &msg); finishErr != nil {
			o.logger.Printf("marking run %s failed also failed: %v", run.ID, finishErr)
		}
		if o.telemetry != nil {
			o.telemetry.RecordRun(RunStatusFailed)
		}
		return run.ID, err
	}

	if err := o.runs.FinishRun(ctx, run, RunStatusCompleted, nil); err != nil {
		return run.ID, fmt.Errorf("completing run: %w", err)
	}
	if o.telemetry != nil {
		o.telemetry.RecordRun(RunStatusCompleted)
	}
	o.logger.Printf("run %s completed for %s (sky_only=%v)", run.ID, date, run.SkyOnly)
	return run.ID, nil
}

// execute performs stages 4-10. Designed degradation paths are contained
// here; any returned error is a defect that fails the run.
func (o *Orchestrator) execute(ctx context.Context, run *Run) error {
	date := run.DateContext

	// Sky. Pure in date, so identical data always hashes identically.
	eph := o.stageEphemeris(date)
	ephJSON, err := json.Marshal(eph)
	if err != nil {
		return fmt.Errorf("encoding ephemeris: %w", err)
	}
	run.Ephemeris = ephJSON
	if run.EphemerisHash, err = CanonicalHash(eph); err != nil {
		return fmt.Errorf("hashing ephemeris: %w", err)
	}

	// Ingestion + distillation. Failures degrade to sky-only.
	signals := o.stageDistill(ctx, run)

	if !run.SkyOnly {
		o.stageEmbed(ctx, signals)
		if err := o.runs.InsertSignals(ctx, signals); err != nil {
			return fmt.Errorf("persisting signals: %w", err)
		}
		if run.SignalsHash, err = CanonicalHash(signals); err != nil {
			return fmt.Errorf("hashing signals: %w", err)
		}
	}

	selected := o.stageSelect(ctx, signals, run)

	snapshot := o.stageThreads(ctx, signals, run)

	result := o.stageSynthesize(ctx, eph, selected, snapshot, run)

	// Persist final artifacts, then the publish gate.
	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding thread snapshot: %w", err)
	}
	run.ThreadSnapshot = snapJSON

	artifactJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding artifact: %w", err)
	}
	run.Artifact = artifactJSON
	if run.ArtifactHash, err = CanonicalHash(result); err != nil {
		return fmt.Errorf("hashing artifact: %w", err)
	}

	if err := o.runs.SaveRunArtifacts(ctx, run); err != nil {
		return fmt.Errorf("persisting run artifacts: %w", err)
	}

	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, date, artifactJSON); err != nil {
			o.logger.Printf("publish gate failed for %s (run continues): %v", date, err)
		}
	}
	return nil
}

func (o *Orchestrator) stageEphemeris(date string) ephemeris.Ephemeris {
	defer o.observe("ephemeris", time.Now())
	return o.computeEph(date)
}

func (o *Orchestrator) stageDistill(ctx context.Context, run *Run) []Signal {
	defer o.observe("distill", time.Now())

	items := o.fetcher.Fetch(ctx, o.cfg.Sources.Feeds)
	if len(items) == 0 {
		o.logger.Printf("no fetchable content for %s, entering sky-only mode", run.DateContext)
		o.degrade("ingestion")
		run.SkyOnly = true
		return nil
	}

	signals, err := o.distiller.Distill(ctx, items, run.DateContext, run.ID, run.RunNumber)
	if err != nil || len(signals) == 0 {
		if err != nil {
			o.logger.Printf("distillation failed for %s, entering sky-only mode: %v", run.DateContext, err)
		}
		o.degrade("distill")
		run.SkyOnly = true
		return nil
	}
	return signals
}

func (o *Orchestrator) stageEmbed(ctx context.Context, signals []Signal) {
	defer o.observe("embed", time.Now())
	if err := o.distiller.EmbedSignals(ctx, signals); err != nil {
		// Signals proceed without vectors; selection and thread matching
		// fall back to their no-embedding paths.
		o.logger.Printf("embedding failed, continuing without vectors: %v", err)
		o.degrade("embedding")
	}
}

func (o *Orchestrator) stageSelect(ctx context.Context, signals []Signal, run *Run) []Signal {
	defer o.observe("select", time.Now())
	if run.SkyOnly || len(signals) == 0 {
		return nil
	}
	selected := o.selector.Select(signals, NewSeededSampler(run.Seed))
	if err := o.runs.UpdateSignalSelection(ctx, selected); err != nil {
		o.logger.Printf("recording selection outcome failed: %v", err)
	}
	if hash, err := CanonicalHash(selected); err == nil {
		run.SelectionHash = hash
	}
	return selected
}

func (o *Orchestrator) stageThreads(ctx context.Context, signals []Signal, run *Run) []ThreadRef {
	defer o.observe("threads", time.Now())
	if run.SkyOnly || len(signals) == 0 {
		return nil
	}
	snapshot, err := o.threads.Track(ctx, signals, run.DateContext)
	if err != nil {
		o.logger.Printf("thread tracking failed, continuing with empty snapshot: %v", err)
		o.degrade("threads")
		return nil
	}
	if hash, hashErr := CanonicalHash(snapshot); hashErr == nil {
		run.ThreadsHash = hash
	}
	return snapshot
}

func (o *Orchestrator) stageSynthesize(ctx context.Context, eph ephemeris.Ephemeris, selected []Signal, snapshot []ThreadRef, run *Run) SynthesisResult {
	defer o.observe("synthesize", time.Now())
	result := o.synth.Synthesize(ctx, eph, selected, snapshot, run.DateContext, run.SkyOnly)
	if result.Fallback {
		run.SynthesisDiagnostic = result.Diagnostic
		o.degrade("synthesis")
	}
	return result
}

func (o *Orchestrator) observe(stage string, start time.Time) {
	if o.telemetry != nil {
		o.telemetry.ObserveStage(stage, time.Since(start))
	}
}

func (o *Orchestrator) degrade(stage string) {
	if o.telemetry != nil {
		o.telemetry.RecordDegradation(stage)
	}
}
