package jobs

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Repository persists runs and key/value settings.
type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	ListPendingRuns(ctx context.Context) ([]*Run, error)
	UpdateRunStage(ctx context.Context, id, status, stage string) error
	FinishRun(ctx context.Context, run *Run) error
	CountRuns(ctx context.Context, status string) (int, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// SQLiteRepository is the Repository backed by the agent database.
type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const runColumns = `id, query, status, stage, transitions, failure_kind, diagnostic, exit_code,
	stdout, stderr, raw_output, video_path, animation_source, narration_script,
	drift_ratio, duration_ms, created_at, updated_at`

func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, query, status, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Query, run.Status, nullString(run.Stage),
		run.CreatedAt.UTC().Format(time.RFC3339Nano), run.UpdatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// GetRun returns nil, nil when the run does not exist.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLiteRepository) ListPendingRuns(ctx context.Context) ([]*Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (r *SQLiteRepository) UpdateRunStage(ctx context.Context, id, status, stage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, stage = ?, updated_at = ? WHERE id = ?
	`, status, nullString(stage), now(), id)
	return err
}

// FinishRun stores the terminal outcome fields of run.
func (r *SQLiteRepository) FinishRun(ctx context.Context, run *Run) error {
	var drift sql.NullFloat64
	if run.DriftRatio != nil {
		drift = sql.NullFloat64{Float64: *run.DriftRatio, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?, stage = ?, transitions = ?, failure_kind = ?, diagnostic = ?, exit_code = ?,
			stdout = ?, stderr = ?, raw_output = ?, video_path = ?, animation_source = ?,
			narration_script = ?, drift_ratio = ?, duration_ms = ?, updated_at = ?
		WHERE id = ?
	`, run.Status, nullString(run.Stage), strings.Join(run.Transitions, ","),
		nullString(run.FailureKind), nullString(run.Diagnostic), run.ExitCode,
		nullString(run.Stdout), nullString(run.Stderr), nullString(run.RawOutput),
		nullString(run.VideoPath), nullString(run.AnimationSource), nullString(run.NarrationScript),
		drift, run.DurationMs, now(), run.ID)
	return err
}

func (r *SQLiteRepository) CountRuns(ctx context.Context, status string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE status = ?", status).Scan(&count)
	return count, err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var stage, failureKind, diagnostic, stdout, stderr, rawOutput sql.NullString
	var videoPath, source, script sql.NullString
	var transitions string
	var drift sql.NullFloat64
	var createdAt, updatedAt string

	err := s.Scan(&run.ID, &run.Query, &run.Status, &stage, &transitions, &failureKind, &diagnostic,
		&run.ExitCode, &stdout, &stderr, &rawOutput, &videoPath, &source, &script,
		&drift, &run.DurationMs, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	run.Stage = stage.String
	if transitions != "" {
		run.Transitions = strings.Split(transitions, ",")
	}
	run.FailureKind = failureKind.String
	run.Diagnostic = diagnostic.String
	run.Stdout = stdout.String
	run.Stderr = stderr.String
	run.RawOutput = rawOutput.String
	run.VideoPath = videoPath.String
	run.AnimationSource = source.String
	run.NarrationScript = script.String
	if drift.Valid {
		d := drift.Float64
		run.DriftRatio = &d
	}
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*Run, error) {
	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// parseTime accepts the RFC 3339 timestamps written by this package and
// SQLite's datetime('now') format.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse("2006-01-02 15:04:05", s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
