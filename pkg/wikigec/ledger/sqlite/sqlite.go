package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/wikigec/pkg/wikigec/internalerr"
	"github.com/cognicore/wikigec/pkg/wikigec/ledger"
)

// sqliteLedger implements the Ledger interface using SQLite
type sqliteLedger struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (ledger.Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// PRAGMAs are per connection; one connection keeps them in effect.
	db.SetMaxOpenConns(1)

	// Enable WAL mode so wikigec-runs can read during a run
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteLedger{db: db}, nil
}

// Close closes the database connection
func (s *sqliteLedger) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	dump TEXT NOT NULL,
	dump_path TEXT NOT NULL,
	profile TEXT NOT NULL,
	root TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	status TEXT NOT NULL,
	result_path TEXT,
	pairs INTEGER DEFAULT 0,
	result_lines INTEGER DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS runs_dump_profile ON runs(dump, profile);

CREATE TABLE IF NOT EXISTS stages (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	stage TEXT NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	exit_code INTEGER NOT NULL,
	output TEXT,
	error TEXT,
	PRIMARY KEY(run_id, seq),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// BeginRun inserts a run in the running state
func (s *sqliteLedger) BeginRun(ctx context.Context, r ledger.Run) error {
	if r.ID == "" {
		return fmt.Errorf("%w: run id required", internalerr.ErrInvalidInput)
	}
	if r.Status == "" {
		r.Status = ledger.StatusRunning
	}

	const stmt = `
INSERT INTO runs (id, dump, dump_path, profile, root, started_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, stmt,
		r.ID,
		r.Dump,
		r.DumpPath,
		r.Profile,
		r.Root,
		formatTime(r.StartedAt),
		string(r.Status),
	)
	return err
}

// RecordStage appends a stage outcome to its run
func (s *sqliteLedger) RecordStage(ctx context.Context, rec ledger.StageRecord) error {
	const stmt = `
INSERT INTO stages (run_id, seq, stage, started_at, duration_ms, exit_code, output, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(run_id, seq) DO UPDATE SET
	stage=excluded.stage,
	started_at=excluded.started_at,
	duration_ms=excluded.duration_ms,
	exit_code=excluded.exit_code,
	output=excluded.output,
	error=excluded.error;
`
	_, err := s.db.ExecContext(ctx, stmt,
		rec.RunID,
		rec.Seq,
		rec.Stage,
		formatTime(rec.StartedAt),
		rec.Duration.Milliseconds(),
		rec.ExitCode,
		rec.Output,
		rec.Error,
	)
	return err
}

// FinishRun stores the final state of a run
func (s *sqliteLedger) FinishRun(ctx context.Context, r ledger.Run) error {
	const stmt = `
UPDATE runs SET
	finished_at=?,
	status=?,
	result_path=?,
	pairs=?,
	result_lines=?,
	error=?
WHERE id=?;
`
	res, err := s.db.ExecContext(ctx, stmt,
		formatTime(r.FinishedAt),
		string(r.Status),
		r.ResultPath,
		r.Pairs,
		r.ResultLines,
		r.Error,
		r.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", r.ID, internalerr.ErrNotFound)
	}
	return nil
}

const runColumns = `id, dump, dump_path, profile, root, started_at, finished_at, status, result_path, pairs, result_lines, error`

// GetRun returns a run and its stages in execution order
func (s *sqliteLedger) GetRun(ctx context.Context, id string) (ledger.Run, []ledger.StageRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id=?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Run{}, nil, fmt.Errorf("run %s: %w", id, internalerr.ErrNotFound)
	}
	if err != nil {
		return ledger.Run{}, nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, seq, stage, started_at, duration_ms, exit_code, output, error
FROM stages WHERE run_id=? ORDER BY seq`, id)
	if err != nil {
		return ledger.Run{}, nil, err
	}
	defer rows.Close()

	var stages []ledger.StageRecord
	for rows.Next() {
		var (
			rec        ledger.StageRecord
			startedAt  string
			durationMS int64
			output     sql.NullString
			errText    sql.NullString
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Stage, &startedAt, &durationMS, &rec.ExitCode, &output, &errText); err != nil {
			return ledger.Run{}, nil, err
		}
		rec.StartedAt = parseTime(startedAt)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.Output = output.String
		rec.Error = errText.String
		stages = append(stages, rec)
	}
	return r, stages, rows.Err()
}

// ListRuns returns runs newest first
func (s *sqliteLedger) ListRuns(ctx context.Context, f ledger.Filter) ([]ledger.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.Dump != "" {
		query += ` AND dump=?`
		args = append(args, f.Dump)
	}
	if f.Profile != "" {
		query += ` AND profile=?`
		args = append(args, f.Profile)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []ledger.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (ledger.Run, error) {
	var (
		r          ledger.Run
		startedAt  string
		finishedAt sql.NullString
		status     string
		resultPath sql.NullString
		errText    sql.NullString
	)
	err := sc.Scan(&r.ID, &r.Dump, &r.DumpPath, &r.Profile, &r.Root, &startedAt, &finishedAt, &status, &resultPath, &r.Pairs, &r.ResultLines, &errText)
	if err != nil {
		return ledger.Run{}, err
	}
	r.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		r.FinishedAt = parseTime(finishedAt.String)
	}
	r.Status = ledger.Status(status)
	r.ResultPath = resultPath.String
	r.Error = errText.String
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
