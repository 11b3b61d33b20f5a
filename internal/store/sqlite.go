package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/aaroh/internal/domain"
)

// SQLite stores schedules and the session archive in a single database file.
type SQLite struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

var (
	_ ScheduleStore = (*SQLite)(nil)
	_ Archive       = (*SQLite)(nil)
	_ ArchiveReader = (*SQLite)(nil)
)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLite{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		ref TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		events_json TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		schedule_ref TEXT NOT NULL,
		state TEXT NOT NULL,
		chunk_ms INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		reason TEXT NOT NULL DEFAULT '',
		summary_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_schedule ON sessions(schedule_ref);

	CREATE TABLE IF NOT EXISTS verdicts (
		session_id TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		detected TEXT NOT NULL,
		correct INTEGER NOT NULL,
		expected TEXT NOT NULL,
		event_index INTEGER NOT NULL,
		confidence REAL NOT NULL DEFAULT 0,
		failure TEXT NOT NULL DEFAULT '',
		timestamp DATETIME NOT NULL,
		PRIMARY KEY (session_id, sequence),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file location.
func (s *SQLite) Path() string {
	return s.path
}

// Ping verifies the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Later calls return ErrClosed.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return ErrClosed
	}
	return s.db.Close()
}

func (s *SQLite) check(id string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if strings.TrimSpace(id) == "" {
		return ErrInvalidID
	}
	return nil
}

// Schedule operations

// PutSchedule inserts or replaces a schedule, keeping its original creation time.
func (s *SQLite) PutSchedule(ctx context.Context, rec *ScheduleRecord) error {
	if err := s.check(rec.Ref); err != nil {
		return err
	}
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules (ref, title, source, events_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			title = excluded.title,
			source = excluded.source,
			events_json = excluded.events_json,
			updated_at = excluded.updated_at
	`, rec.Ref, rec.Title, rec.Source, string(events), rec.CreatedAt, rec.UpdatedAt)
	return err
}

// GetSchedule loads one schedule by reference.
func (s *SQLite) GetSchedule(ctx context.Context, ref string) (*ScheduleRecord, error) {
	if err := s.check(ref); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT ref, title, source, events_json, created_at, updated_at
		FROM schedules WHERE ref = ?
	`, ref)

	rec, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("schedule", ref)
	}
	return rec, err
}

// ListSchedules lists schedules by reference.
func (s *SQLite) ListSchedules(ctx context.Context, filter Filter) ([]*ScheduleRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	query := `SELECT ref, title, source, events_json, created_at, updated_at FROM schedules ORDER BY ref`
	if filter.OrderDesc {
		query += " DESC"
	}
	query, args := paginate(query, nil, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ScheduleRecord
	for rows.Next() {
		rec, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSchedule removes a schedule.
func (s *SQLite) DeleteSchedule(ctx context.Context, ref string) error {
	if err := s.check(ref); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE ref = ?`, ref)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFoundError("schedule", ref)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(sc scanner) (*ScheduleRecord, error) {
	var rec ScheduleRecord
	var events string
	if err := sc.Scan(&rec.Ref, &rec.Title, &rec.Source, &events, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(events), &rec.Events); err != nil {
		return nil, fmt.Errorf("decode events of %s: %w", rec.Ref, err)
	}
	return &rec, nil
}

// Session archive

// SaveSession inserts or updates the session row. The summary is left untouched.
func (s *SQLite) SaveSession(ctx context.Context, sess *domain.Session) error {
	if err := s.check(sess.ID); err != nil {
		return err
	}
	var ended sql.NullTime
	if !sess.EndedAt.IsZero() {
		ended = sql.NullTime{Time: sess.EndedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, schedule_ref, state, chunk_ms, started_at, ended_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			ended_at = excluded.ended_at,
			reason = excluded.reason
	`, sess.ID, sess.ScheduleRef, string(sess.State), sess.ChunkDuration.Milliseconds(),
		sess.StartedAt.UTC(), ended, sess.Reason)
	return err
}

// SaveVerdict records one verdict. The session row must exist.
func (s *SQLite) SaveVerdict(ctx context.Context, v domain.Verdict) error {
	if err := s.check(v.SessionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO verdicts
			(session_id, sequence, detected, correct, expected, event_index, confidence, failure, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.SessionID, v.Sequence, v.DetectedChord, v.Correct, v.ExpectedChord, v.EventIndex,
		v.Confidence, v.Failure, v.Timestamp.UTC())
	return err
}

// SaveSummary attaches a summary to an archived session.
func (s *SQLite) SaveSummary(ctx context.Context, sum *domain.Summary) error {
	if err := s.check(sum.SessionID); err != nil {
		return err
	}
	data, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET summary_json = ? WHERE id = ?`, string(data), sum.SessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return NewNotFoundError("session", sum.SessionID)
	}
	return nil
}

const sessionColumns = `id, schedule_ref, state, chunk_ms, started_at, ended_at, reason, summary_json`

// GetSession loads one archived session.
func (s *SQLite) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	if err := s.check(id); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError("session", id)
	}
	return rec, err
}

// ListSessions lists archived sessions by start time.
func (s *SQLite) ListSessions(ctx context.Context, filter Filter) ([]*SessionRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var where []string
	var args []any
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.ScheduleRef != "" {
		where = append(where, "schedule_ref = ?")
		args = append(args, filter.ScheduleRef)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at"
	if filter.OrderDesc {
		query += " DESC"
	}
	query, args = paginate(query, args, filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Verdicts returns a session's verdicts ordered by sequence.
func (s *SQLite) Verdicts(ctx context.Context, sessionID string) ([]domain.Verdict, error) {
	if err := s.check(sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, sequence, detected, correct, expected, event_index, confidence, failure, timestamp
		FROM verdicts WHERE session_id = ? ORDER BY sequence ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Verdict
	for rows.Next() {
		var v domain.Verdict
		if err := rows.Scan(&v.SessionID, &v.Sequence, &v.DetectedChord, &v.Correct, &v.ExpectedChord,
			&v.EventIndex, &v.Confidence, &v.Failure, &v.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanSession(sc scanner) (*SessionRecord, error) {
	var rec SessionRecord
	var state string
	var chunkMs int64
	var ended sql.NullTime
	var summary sql.NullString

	sess := &rec.Session
	if err := sc.Scan(&sess.ID, &sess.ScheduleRef, &state, &chunkMs, &sess.StartedAt, &ended, &sess.Reason, &summary); err != nil {
		return nil, err
	}
	sess.State = domain.SessionState(state)
	sess.ChunkDuration = time.Duration(chunkMs) * time.Millisecond
	if ended.Valid {
		sess.EndedAt = ended.Time
	}
	if summary.Valid && summary.String != "" {
		rec.Summary = &domain.Summary{}
		if err := json.Unmarshal([]byte(summary.String), rec.Summary); err != nil {
			return nil, fmt.Errorf("decode summary of %s: %w", sess.ID, err)
		}
	}
	return &rec, nil
}

func paginate(query string, args []any, filter Filter) (string, []any) {
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}
	return query, args
}
