package observer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dcshock/trypipe/failure"
	"github.com/dcshock/trypipe/pipeline"
)

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSignal  = "signal" // the run ended with break or continue
)

// ErrNotFound is returned by Store.Run for an unknown run id.
var ErrNotFound = errors.New("observer: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS trypipe_run (
	run_id       TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	result       TEXT,
	error        TEXT,
	failure_type TEXT,
	trace        TEXT,
	started_at   TEXT NOT NULL,
	finished_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_trypipe_run_name ON trypipe_run(name);
CREATE INDEX IF NOT EXISTS idx_trypipe_run_started ON trypipe_run(started_at);

CREATE TABLE IF NOT EXISTS trypipe_run_stage (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL REFERENCES trypipe_run(run_id) ON DELETE CASCADE,
	stage_index INTEGER NOT NULL,
	element     INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	location    TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	duration_ms INTEGER,
	started_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trypipe_run_stage_run ON trypipe_run_stage(run_id);
`

// Store persists pipeline runs and the stages they executed to sqlite
// (trypipe_run, trypipe_run_stage) so runs can be monitored after the fact.
// It implements pipeline.Observer; a terminal failure is stored with its
// trace as JSON.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the sqlite database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; observers are called from concurrent runs
	db.SetMaxOpenConns(1)
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New returns a Store over an open database. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// BeforePipeline implements pipeline.Observer. Inserts or resets a trypipe_run row with status 'running'.
func (s *Store) BeforePipeline(ctx context.Context, runID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trypipe_run (run_id, name, status, started_at) VALUES (?, ?, 'running', ?)
		ON CONFLICT(run_id) DO UPDATE SET name = excluded.name, status = 'running',
			result = NULL, error = NULL, failure_type = NULL, trace = NULL,
			started_at = excluded.started_at, finished_at = NULL`,
		runID, name, s.timestamp())
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

// AfterPipeline implements pipeline.Observer. Updates trypipe_run with status, result, error and trace.
func (s *Store) AfterPipeline(ctx context.Context, runID string, result any, err error) error {
	status := StatusSuccess
	var errText, failType, resultJSON, traces sql.NullString
	if err != nil {
		status = StatusFailed
		if pipeline.IsSignal(err) {
			status = StatusSignal
		}
		errText = sql.NullString{String: err.Error(), Valid: true}
		var f *failure.Value
		if errors.As(err, &f) {
			failType = sql.NullString{String: f.Tag().Name, Valid: true}
			if data, mErr := json.Marshal(f); mErr == nil {
				traces = sql.NullString{String: string(data), Valid: true}
			}
		}
	}
	if data, _ := marshalOptional(result); data != nil {
		resultJSON = sql.NullString{String: string(data), Valid: true}
	}
	// record the outcome of cancelled runs too
	_, dbErr := s.db.ExecContext(context.WithoutCancel(ctx), `
		UPDATE trypipe_run SET status = ?, result = ?, error = ?, failure_type = ?, trace = ?, finished_at = ?
		WHERE run_id = ?`,
		status, resultJSON, errText, failType, traces, s.timestamp(), runID)
	if dbErr != nil {
		return fmt.Errorf("complete run %s: %w", runID, dbErr)
	}
	return nil
}

// BeforeStage implements pipeline.Observer. Inserts a trypipe_run_stage row with status 'running'.
func (s *Store) BeforeStage(ctx context.Context, runID string, stage pipeline.StageInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trypipe_run_stage (run_id, stage_index, element, kind, location, status, started_at)
		VALUES (?, ?, ?, ?, ?, 'running', ?)`,
		runID, stage.Index, stage.Element, stage.Kind, stage.Span.String(), s.timestamp())
	if err != nil {
		return fmt.Errorf("insert stage %s: %w", stage, err)
	}
	return nil
}

// AfterStage implements pipeline.Observer. Completes the most recent running row for the stage.
func (s *Store) AfterStage(ctx context.Context, runID string, stage pipeline.StageInfo, stageErr error, duration time.Duration) error {
	status := StatusSuccess
	var errText sql.NullString
	if stageErr != nil {
		status = StatusFailed
		if pipeline.IsSignal(stageErr) {
			status = StatusSignal
		}
		errText = sql.NullString{String: stageErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(context.WithoutCancel(ctx), `
		UPDATE trypipe_run_stage SET status = ?, error = ?, duration_ms = ?
		WHERE id = (
			SELECT MAX(id) FROM trypipe_run_stage
			WHERE run_id = ? AND stage_index = ? AND element = ? AND status = 'running'
		)`,
		status, errText, duration.Milliseconds(), runID, stage.Index, stage.Element)
	if err != nil {
		return fmt.Errorf("complete stage %s: %w", stage, err)
	}
	return nil
}

// RunRecord is one row of trypipe_run.
type RunRecord struct {
	RunID       string
	Name        string
	Status      string
	Result      json.RawMessage
	Error       string
	FailureType string
	Trace       json.RawMessage // JSON form of the terminal *failure.Value
	StartedAt   time.Time
	FinishedAt  time.Time // zero while running
}

// Failure decodes the stored trace. It returns nil for runs without one.
func (r *RunRecord) Failure() (*failure.Value, error) {
	if len(r.Trace) == 0 {
		return nil, nil
	}
	f := &failure.Value{}
	if err := json.Unmarshal(r.Trace, f); err != nil {
		return nil, fmt.Errorf("decode trace of run %s: %w", r.RunID, err)
	}
	return f, nil
}

// StageRecord is one row of trypipe_run_stage.
type StageRecord struct {
	Index     int
	Element   int
	Kind      string
	Location  string
	Status    string
	Error     string
	Duration  time.Duration
	StartedAt time.Time
}

// RunFilter narrows Runs. Zero fields match everything.
type RunFilter struct {
	Name   string
	Status string
	Limit  int // default 50
}

const runColumns = `run_id, name, status, result, error, failure_type, trace, started_at, finished_at`

// Runs returns recorded runs, most recent first.
func (s *Store) Runs(ctx context.Context, filter RunFilter) ([]RunRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := "SELECT " + runColumns + " FROM trypipe_run"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY started_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Run returns the run with the given id, or ErrNotFound.
func (s *Store) Run(ctx context.Context, runID string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM trypipe_run WHERE run_id = ?", runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return r, err
}

// Stages returns the stages a run executed, in execution order.
func (s *Store) Stages(ctx context.Context, runID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stage_index, element, kind, location, status, error, duration_ms, started_at
		FROM trypipe_run_stage WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query stages of %s: %w", runID, err)
	}
	defer rows.Close()
	var out []StageRecord
	for rows.Next() {
		var (
			st       StageRecord
			errText  sql.NullString
			duration sql.NullInt64
			started  string
		)
		if err := rows.Scan(&st.Index, &st.Element, &st.Kind, &st.Location, &st.Status, &errText, &duration, &started); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.Error = errText.String
		st.Duration = time.Duration(duration.Int64) * time.Millisecond
		st.StartedAt = parseTime(started)
		out = append(out, st)
	}
	return out, rows.Err()
}

// Attempts returns how many times the try body of a run executed, counting
// every element and every retry attempt.
func (s *Store) Attempts(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM trypipe_run_stage WHERE run_id = ? AND kind = 'try'`, runID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts of %s: %w", runID, err)
	}
	return n, nil
}

// Prune deletes runs that started before cutoff, with their stages.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Format(timeLayout)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM trypipe_run_stage WHERE run_id IN (SELECT run_id FROM trypipe_run WHERE started_at < ?)`, ts); err != nil {
		return 0, fmt.Errorf("prune stages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM trypipe_run WHERE started_at < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		r                                            RunRecord
		result, errText, failType, traceJS, finished sql.NullString
		started                                      string
	)
	if err := row.Scan(&r.RunID, &r.Name, &r.Status, &result, &errText, &failType, &traceJS, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if result.Valid {
		r.Result = json.RawMessage(result.String)
	}
	if traceJS.Valid {
		r.Trace = json.RawMessage(traceJS.String)
	}
	r.Error, r.FailureType = errText.String, failType.String
	r.StartedAt = parseTime(started)
	if finished.Valid {
		r.FinishedAt = parseTime(finished.String)
	}
	return &r, nil
}

// timeLayout is fixed width so timestamps order as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) timestamp() string { return s.now().UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func marshalOptional(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var _ pipeline.Observer = (*Store)(nil)
