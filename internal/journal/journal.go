// Package journal persists replication runs in a local SQLite database:
// run history, the source-to-destination folder map, and every outcome. A
// later run for the same source and destination loads what earlier runs did
// and resumes instead of starting over.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"

	"github.com/tonimelisma/gdrive-replicate/internal/replicate"
)

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

const dirPerms = 0o700

const (
	sqlInsertRun = `INSERT INTO runs (id, source_id, dest_id, dry_run, started_at, status)
		VALUES (?, ?, ?, ?, ?, 'running')`

	sqlFinishRun = `UPDATE runs SET
		finished_at = ?, status = ?, copied = ?, skipped = ?, failed = ?,
		not_attempted = ?, folders_created = ?, bytes = ?, error = ?
		WHERE id = ?`

	sqlInsertFolder = `INSERT INTO folder_map (run_id, source_id, dest_id)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, source_id) DO UPDATE SET dest_id = excluded.dest_id`

	sqlInsertOutcome = `INSERT INTO outcomes
		(run_id, seq, source_id, name, path, kind, dest_parent_id, dest_id,
		 strategy, fell_back, status, bytes, retries, reason, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Later runs override earlier ones: rows are read oldest first.
	sqlResumeFolders = `SELECT f.source_id, f.dest_id
		FROM folder_map f JOIN runs r ON r.id = f.run_id
		WHERE r.source_id = ? AND r.dest_id = ? AND r.dry_run = 0
		ORDER BY r.started_at, f.rowid`

	sqlResumeCompleted = `SELECT o.source_id, o.dest_id
		FROM outcomes o JOIN runs r ON r.id = o.run_id
		WHERE r.source_id = ? AND r.dest_id = ? AND r.dry_run = 0
		  AND o.kind != 'folder' AND o.dest_id != ''
		  AND o.status IN ('success', 'retried_success', 'skipped')
		ORDER BY r.started_at, o.seq`

	sqlListRuns = `SELECT id, source_id, dest_id, dry_run, started_at, finished_at,
		status, copied, skipped, failed, not_attempted, folders_created, bytes, error
		FROM runs ORDER BY started_at DESC LIMIT ?`

	sqlRunFailures = `SELECT source_id, path, kind, reason, error
		FROM outcomes WHERE run_id = ? AND status = 'failed' ORDER BY seq`
)

// RunInfo is one row of run history.
type RunInfo struct {
	ID             string
	SourceID       string
	DestID         string
	DryRun         bool
	StartedAt      time.Time
	FinishedAt     time.Time // zero while running or after a crash
	Status         string
	Copied         int
	Skipped        int
	Failed         int
	NotAttempted   int
	FoldersCreated int
	Bytes          int64
	Error          string
}

// Failure is one failed item of a run.
type Failure struct {
	SourceID string
	Path     string
	Kind     string
	Reason   string
	Error    string
}

// Journal is the sole writer to the journal database.
type Journal struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies
// migrations. The parent directory is created with 0700 permissions.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, fmt.Errorf("journal: creating directory for %s: %w", dbPath, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("journal opened", slog.String("db_path", dbPath))

	return &Journal{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Run records one replication run. It implements replicate.Sink.
type Run struct {
	ID string

	j *Journal
	// Writes outlive the run's context so outcomes recorded during
	// cancellation still reach the database.
	ctx context.Context

	mu       sync.Mutex
	seq      int
	finished bool
}

var _ replicate.Sink = (*Run)(nil)

// BeginRun inserts a running row and returns its handle.
func (j *Journal) BeginRun(ctx context.Context, sourceID, destID string, dryRun bool) (*Run, error) {
	id := uuid.NewString()

	_, err := j.db.ExecContext(ctx, sqlInsertRun, id, sourceID, destID, dryRun, j.nowFunc().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("journal: inserting run: %w", err)
	}

	j.logger.Debug("run started",
		slog.String("run_id", id),
		slog.String("source_id", sourceID),
		slog.String("dest_id", destID),
	)

	return &Run{ID: id, j: j, ctx: context.WithoutCancel(ctx)}, nil
}

// RecordOutcome appends o to the run.
func (r *Run) RecordOutcome(o replicate.TransferOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++

	recorded := o.RecordedAt
	if recorded.IsZero() {
		recorded = r.j.nowFunc()
	}

	_, err := r.j.db.ExecContext(r.ctx, sqlInsertOutcome,
		r.ID, r.seq, o.SourceID, o.Name, o.Path, string(o.Kind),
		nullString(o.DestParentID), nullString(o.DestID), nullString(string(o.Strategy)),
		o.FellBack, string(o.Status), o.Bytes, o.Retries,
		nullString(o.Reason), nullString(o.ErrString()), recorded.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal: recording outcome for %s: %w", o.SourceID, err)
	}

	return nil
}

// RecordFolder persists a created folder mapping.
func (r *Run) RecordFolder(sourceID, destID string) error {
	if _, err := r.j.db.ExecContext(r.ctx, sqlInsertFolder, r.ID, sourceID, destID); err != nil {
		return fmt.Errorf("journal: recording folder %s: %w", sourceID, err)
	}

	return nil
}

// Finish stores the run's totals and terminal status. runErr is the error
// the run returned, if any. Only the first call is stored.
func (r *Run) Finish(snap replicate.Snapshot, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finished {
		return nil
	}

	status := StatusCompleted

	var errText sql.NullString

	if runErr != nil {
		status = StatusFailed
		if errors.Is(runErr, context.Canceled) {
			status = StatusCanceled
		}

		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	_, err := r.j.db.ExecContext(r.ctx, sqlFinishRun,
		r.j.nowFunc().UnixNano(), status, snap.Copied, snap.Skipped, snap.Failed,
		snap.NotAttempted, snap.FoldersCreated, snap.Bytes, errText, r.ID,
	)
	if err != nil {
		return fmt.Errorf("journal: finishing run %s: %w", r.ID, err)
	}

	r.finished = true

	r.j.logger.Debug("run finished",
		slog.String("run_id", r.ID),
		slog.String("status", status),
	)

	return nil
}

// ResumeState collects the folder mappings and completed files of every
// earlier non-dry run for the same source and destination.
func (j *Journal) ResumeState(ctx context.Context, sourceID, destID string) (*replicate.ResumeState, error) {
	rs := &replicate.ResumeState{
		Folders:   make(map[string]string),
		Completed: make(map[string]string),
	}

	if err := j.loadPairs(ctx, sqlResumeFolders, sourceID, destID, rs.Folders); err != nil {
		return nil, fmt.Errorf("journal: loading folder map: %w", err)
	}

	if err := j.loadPairs(ctx, sqlResumeCompleted, sourceID, destID, rs.Completed); err != nil {
		return nil, fmt.Errorf("journal: loading completed items: %w", err)
	}

	j.logger.Info("resume state loaded",
		slog.Int("folders", len(rs.Folders)),
		slog.Int("completed", len(rs.Completed)),
	)

	return rs, nil
}

func (j *Journal) loadPairs(ctx context.Context, query, sourceID, destID string, into map[string]string) error {
	rows, err := j.db.QueryContext(ctx, query, sourceID, destID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var src, dst string
		if err := rows.Scan(&src, &dst); err != nil {
			return err
		}

		into[src] = dst
	}

	return rows.Err()
}

// Runs returns the most recent runs, newest first.
func (j *Journal) Runs(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := j.db.QueryContext(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: listing runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo

	for rows.Next() {
		var (
			info     RunInfo
			started  int64
			finished sql.NullInt64
			errText  sql.NullString
		)

		err := rows.Scan(&info.ID, &info.SourceID, &info.DestID, &info.DryRun, &started, &finished,
			&info.Status, &info.Copied, &info.Skipped, &info.Failed, &info.NotAttempted,
			&info.FoldersCreated, &info.Bytes, &errText)
		if err != nil {
			return nil, fmt.Errorf("journal: scanning run row: %w", err)
		}

		info.StartedAt = time.Unix(0, started)
		if finished.Valid {
			info.FinishedAt = time.Unix(0, finished.Int64)
		}

		info.Error = errText.String
		out = append(out, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating runs: %w", err)
	}

	return out, nil
}

// Failures returns the failed items of runID in record order.
func (j *Journal) Failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := j.db.QueryContext(ctx, sqlRunFailures, runID)
	if err != nil {
		return nil, fmt.Errorf("journal: listing failures of %s: %w", runID, err)
	}
	defer rows.Close()

	var out []Failure

	for rows.Next() {
		var (
			f       Failure
			reason  sql.NullString
			errText sql.NullString
		)

		if err := rows.Scan(&f.SourceID, &f.Path, &f.Kind, &reason, &errText); err != nil {
			return nil, fmt.Errorf("journal: scanning failure row: %w", err)
		}

		f.Reason = reason.String
		f.Error = errText.String
		out = append(out, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterating failures: %w", err)
	}

	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
