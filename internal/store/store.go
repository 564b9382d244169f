package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/disinfo-zone/voidwire-sub000/config"
	"github.com/disinfo-zone/voidwire-sub000/internal/pipeline"
)

// Store is the Postgres persistence layer for runs, signals and threads.
type Store struct {
	DB *sql.DB
}

var (
	_ pipeline.RunStore    = (*Store)(nil)
	_ pipeline.ThreadStore = (*Store)(nil)
	_ pipeline.Locker      = (*Store)(nil)
)

// New opens a connection pool and verifies connectivity.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// dateLockKey hashes the business date into the advisory-lock keyspace.
func dateLockKey(date string) int64 {
	sum := sha256.Sum256([]byte("voidwire:date:" + date))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// AcquireDateLock takes the exclusive, non-blocking advisory lock for a
// date. Advisory locks are session-scoped, so the lock is pinned to a
// dedicated connection that the returned release func gives back.
func (s *Store) AcquireDateLock(ctx context.Context, date string) (func(), error) {
	conn, err := s.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock connection: %w", err)
	}
	key := dateLockKey(date)

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("acquiring date lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, pipeline.ErrLockConflict
	}

	release := func() {
		// Background context: the lock must go even when the run's
		// context is already cancelled.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
	return release, nil
}

// CreateRun computes max(run_number)+1 for the date and inserts the run
// in one transaction, keeping run numbers a contiguous ascending
// sequence. Must be called while holding the date lock.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.Run) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(run_number),0)+1 FROM runs WHERE date_context=$1`,
		run.DateContext).Scan(&run.RunNumber); err != nil {
		return fmt.Errorf("computing run number: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `
INSERT INTO runs (id, date_context, run_number, status, seed, regeneration_mode, parent_run_id)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,''),$7)
RETURNING created_at`,
		run.ID, run.DateContext, run.RunNumber, run.Status, run.Seed, run.RegenerationMode, run.ParentRunID,
	).Scan(&run.CreatedAt); err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return tx.Commit()
}

// FinishRun transitions a run to its terminal status exactly once.
func (s *Store) FinishRun(ctx context.Context, run *pipeline.Run, status string, runErr *string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE runs SET status=$2, error=$3, finished_at=NOW()
WHERE id=$1 AND status=$4`,
		run.ID, status, runErr, pipeline.RunStatusRunning)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s is not running", run.ID)
	}
	run.Status = status
	run.Error = runErr
	return nil
}

// SaveRunArtifacts persists stage hashes and artifact payloads.
func (s *Store) SaveRunArtifacts(ctx context.Context, run *pipeline.Run) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE runs SET
  sky_only=$2,
  synthesis_diagnostic=NULLIF($3,''),
  ephemeris_hash=NULLIF($4,''),
  signals_hash=NULLIF($5,''),
  selection_hash=NULLIF($6,''),
  threads_hash=NULLIF($7,''),
  artifact_hash=NULLIF($8,''),
  ephemeris=$9,
  thread_snapshot=$10,
  artifact=$11
WHERE id=$1`,
		run.ID, run.SkyOnly, run.SynthesisDiagnostic,
		run.EphemerisHash, run.SignalsHash, run.SelectionHash, run.ThreadsHash, run.ArtifactHash,
		nullableJSON(run.Ephemeris), nullableJSON(run.ThreadSnapshot), nullableJSON(run.Artifact))
	return err
}

// InsertSignals appends the distilled signal rows for a run. Signals are
// never deleted; only their selection flags mutate later.
func (s *Store) InsertSignals(ctx context.Context, signals []pipeline.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO signals (id, date_context, run_id, seq, summary, domain, intensity, directionality,
                     entities, sources, source_weight, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sig := range signals {
		srcJSON, err := json.Marshal(sig.Sources)
		if err != nil {
			return fmt.Errorf("encoding sources for %s: %w", sig.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			sig.ID, sig.DateContext, sig.RunID, sig.Seq, sig.Summary, sig.Domain,
			sig.Intensity, sig.Directionality, pq.Array(sig.Entities), srcJSON,
			sig.SourceWeight, vectorArray(sig.Embedding),
		); err != nil {
			return fmt.Errorf("inserting signal %s: %w", sig.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateSignalSelection records the selection outcome flags, the one
// permitted mutation of a stored signal.
func (s *Store) UpdateSignalSelection(ctx context.Context, signals []pipeline.Signal) error {
	if len(signals) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, sig := range signals {
		if _, err := tx.ExecContext(ctx, `
UPDATE signals SET was_selected=$2, was_wild_card=$3, selection_weight=$4 WHERE id=$1`,
			sig.ID, sig.WasSelected, sig.WasWildCard, sig.SelectionWeight); err != nil {
			return fmt.Errorf("updating selection for %s: %w", sig.ID, err)
		}
	}
	return tx.Commit()
}

// ListActiveThreads returns every active thread with its centroid.
func (s *Store) ListActiveThreads(ctx context.Context) ([]pipeline.Thread, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, summary, domain, first_surfaced, last_seen, appearances, active, centroid_embedding
FROM threads WHERE active ORDER BY first_surfaced, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []pipeline.Thread
	for rows.Next() {
		var th pipeline.Thread
		var first, last time.Time
		var centroid pq.Float64Array
		if err := rows.Scan(&th.ID, &th.Summary, &th.Domain, &first, &last, &th.Appearances, &th.Active, &centroid); err != nil {
			return nil, err
		}
		th.FirstSurfaced = first.Format("2006-01-02")
		th.LastSeen = last.Format("2006-01-02")
		th.Centroid = fromFloat64Array(centroid)
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

// CreateThread inserts a new thread. The centroid is written once and
// never updated afterwards.
func (s *Store) CreateThread(ctx context.Context, th *pipeline.Thread) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO threads (id, summary, domain, first_surfaced, last_seen, appearances, active, centroid_embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		th.ID, th.Summary, th.Domain, th.FirstSurfaced, th.LastSeen, th.Appearances, th.Active, vectorArray(th.Centroid))
	return err
}

// RecordThreadMatch bumps the thread's counters and appends the
// append-only (thread, signal) audit row in one transaction.
func (s *Store) RecordThreadMatch(ctx context.Context, threadID, signalID, date string, score float64) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE threads SET appearances=appearances+1, last_seen=GREATEST(last_seen, $2::date) WHERE id=$1`,
		threadID, date); err != nil {
		return fmt.Errorf("updating thread %s: %w", threadID, err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO thread_signals (thread_id, signal_id, observed_on, similarity)
VALUES ($1,$2,$3,$4)`,
		threadID, signalID, date, score); err != nil {
		return fmt.Errorf("recording thread signal: %w", err)
	}
	return tx.Commit()
}

// DeactivateStaleThreads flips inactive every active thread whose
// last_seen is staleDays or more before date, in one bulk update. A
// thread seen exactly staleDays ago is deactivated.
func (s *Store) DeactivateStaleThreads(ctx context.Context, date string, staleDays int) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
UPDATE threads SET active=false
WHERE active AND last_seen <= $1::date - make_interval(days => $2)`,
		date, staleDays)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListRuns returns the run history for a date, newest first.
func (s *Store) ListRuns(ctx context.Context, date string) ([]pipeline.Run, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, date_context, run_number, status, seed,
       COALESCE(regeneration_mode,''), parent_run_id,
       sky_only, COALESCE(synthesis_diagnostic,''),
       COALESCE(ephemeris_hash,''), COALESCE(signals_hash,''), COALESCE(selection_hash,''),
       COALESCE(threads_hash,''), COALESCE(artifact_hash,''),
       error, created_at, finished_at
FROM runs WHERE date_context=$1 ORDER BY run_number DESC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []pipeline.Run
	for rows.Next() {
		var r pipeline.Run
		var dc time.Time
		if err := rows.Scan(&r.ID, &dc, &r.RunNumber, &r.Status, &r.Seed,
			&r.RegenerationMode, &r.ParentRunID,
			&r.SkyOnly, &r.SynthesisDiagnostic,
			&r.EphemerisHash, &r.SignalsHash, &r.SelectionHash,
			&r.ThreadsHash, &r.ArtifactHash,
			&r.Error, &r.CreatedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.DateContext = dc.Format("2006-01-02")
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestArtifact returns the artifact of the newest completed run for a
// date, or false when none exists.
func (s *Store) LatestArtifact(ctx context.Context, date string) (json.RawMessage, bool, error) {
	var artifact []byte
	err := s.DB.QueryRowContext(ctx, `
SELECT artifact FROM runs
WHERE date_context=$1 AND status=$2 AND artifact IS NOT NULL
ORDER BY run_number DESC LIMIT 1`, date, pipeline.RunStatusCompleted).Scan(&artifact)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return artifact, true, nil
}

func vectorArray(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	out := make(pq.Float64Array, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func fromFloat64Array(v pq.Float64Array) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func nullableJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
