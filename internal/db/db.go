// Package db stores sessions and committed vitals records in SQLite.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/vitals.report/internal/monitoring"
	"github.com/banshee-data/vitals.report/internal/vitals"
)

// DefaultHistoryLimit caps VitalsSince when no limit is given.
const DefaultHistoryLimit = 1000

type DB struct {
	*sql.DB
	path   string
	logger *zap.Logger
}

// dsn adds the per-connection pragmas to path. modernc applies _pragma
// parameters to every connection the pool opens.
func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// OpenDB opens the database without touching the schema.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path, logger: monitoring.L().Named("db")}, nil
}

// NewDB opens the database and applies all pending migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// StartSession records the start of a session. Starting a known session is a
// no-op.
func (db *DB) StartSession(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		id, toMillis(at),
	)
	if err != nil {
		return fmt.Errorf("start session %s: %w", id, err)
	}
	return nil
}

// EndSession records when a session ended.
func (db *DB) EndSession(ctx context.Context, id string, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
		toMillis(at), id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// RecordVitals stores one committed record. Records for a session that was
// never started create the session row.
func (db *DB) RecordVitals(ctx context.Context, rec vitals.VitalsRecord) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record vitals: %w", err)
	}
	defer tx.Rollback()

	var session any
	if rec.SessionID != "" {
		session = rec.SessionID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (session_id, started_at) VALUES (?, ?)
			 ON CONFLICT(session_id) DO NOTHING`,
			rec.SessionID, toMillis(rec.Timestamp),
		); err != nil {
			return fmt.Errorf("record vitals: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vitals (session_id, recorded_at, heart_rate, breath_rate, t1, t2, spo2)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		session, toMillis(rec.Timestamp), rec.HeartRate, rec.BreathRate, rec.T1, rec.T2, rec.SpO2,
	); err != nil {
		return fmt.Errorf("record vitals: %w", err)
	}
	return tx.Commit()
}

// VitalsSince returns up to limit of the most recent records taken at or
// after since, oldest first.
func (db *DB) VitalsSince(ctx context.Context, since time.Time, limit int) ([]vitals.VitalsRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT session_id, recorded_at, heart_rate, breath_rate, t1, t2, spo2 FROM (
			SELECT id, session_id, recorded_at, heart_rate, breath_rate, t1, t2, spo2
			FROM vitals
			WHERE recorded_at >= ?
			ORDER BY recorded_at DESC, id DESC
			LIMIT ?
		) ORDER BY recorded_at ASC, id ASC`,
		toMillis(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query vitals: %w", err)
	}
	defer rows.Close()

	var records []vitals.VitalsRecord
	for rows.Next() {
		var (
			rec     vitals.VitalsRecord
			session sql.NullString
			at      int64
		)
		if err := rows.Scan(&session, &at, &rec.HeartRate, &rec.BreathRate, &rec.T1, &rec.T2, &rec.SpO2); err != nil {
			return nil, fmt.Errorf("scan vitals: %w", err)
		}
		rec.SessionID = session.String
		rec.Timestamp = fromMillis(at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SessionInfo is a row of the sessions table.
type SessionInfo struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Records   int        `json:"records"`
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT s.session_id, s.started_at, s.ended_at, COUNT(v.id)
		FROM sessions s LEFT JOIN vitals v ON v.session_id = s.session_id
		GROUP BY s.session_id
		ORDER BY s.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var (
			s       SessionInfo
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&s.ID, &started, &ended, &s.Records); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = fromMillis(started)
		if ended.Valid {
			t := fromMillis(ended.Int64)
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ErrNoSession is returned when a session ID is unknown.
var ErrNoSession = errors.New("session not found")

// Session returns one session row.
func (db *DB) Session(ctx context.Context, id string) (SessionInfo, error) {
	var (
		s       SessionInfo
		started int64
		ended   sql.NullInt64
	)
	err := db.QueryRowContext(ctx, `
		SELECT s.session_id, s.started_at, s.ended_at,
			(SELECT COUNT(*) FROM vitals v WHERE v.session_id = s.session_id)
		FROM sessions s WHERE s.session_id = ?`, id,
	).Scan(&s.ID, &started, &ended, &s.Records)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNoSession
	}
	if err != nil {
		return s, fmt.Errorf("query session %s: %w", id, err)
	}
	s.StartedAt = fromMillis(started)
	if ended.Valid {
		t := fromMillis(ended.Int64)
		s.EndedAt = &t
	}
	return s, nil
}
