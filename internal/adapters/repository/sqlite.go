package repository

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/okian/strokeauth/internal/domain/enrollment"
	"github.com/okian/strokeauth/internal/domain/model"
	"github.com/okian/strokeauth/pkg/logger"
	"github.com/okian/strokeauth/pkg/metrics"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
	"foreign_keys(ON)",
}

// SQLiteStore persists baselines and attempts in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// it to the latest schema.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := applyOptions(opts)
	if path == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, logger: o.logger}
	if err := s.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info(ctx, "sqlite store ready", logger.String("path", path))
	return s, nil
}

func dsn(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func (s *SQLiteStore) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlite: migrate instance: %w", err)
	}
	// m is not closed: closing it would close s.db.
	m.Log = &migrateLogger{logger: s.logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migration up failed: %w", err)
	}
	return nil
}

// migrateLogger adapts logger.Logger to migrate.Logger.
type migrateLogger struct {
	logger logger.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool { return false }

func observe(op string, start time.Time) {
	metrics.RecordRepositoryLatency(op, float64(time.Since(start).Microseconds())/1000)
}

// Load implements enrollment.Store.
func (s *SQLiteStore) Load(ctx context.Context, key enrollment.Key) (*enrollment.Baseline, bool, error) {
	defer observe("load", time.Now())
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM baselines WHERE user_id = ? AND biometric_type = ?`,
		key.UserID, key.BiometricType,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load baseline %s: %w", key, err)
	}
	var b enrollment.Baseline
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, false, fmt.Errorf("decode baseline %s: %w", key, err)
	}
	return &b, true, nil
}

// Save implements enrollment.Store.
func (s *SQLiteStore) Save(ctx context.Context, b *enrollment.Baseline) error {
	defer observe("save", time.Now())
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode baseline %s: %w", b.Key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO baselines (user_id, biometric_type, status, samples_accepted, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, biometric_type) DO UPDATE SET
			status = excluded.status,
			samples_accepted = excluded.samples_accepted,
			data = excluded.data,
			updated_at = excluded.updated_at`,
		b.UserID, b.BiometricType, string(b.Status), b.SamplesAccepted, string(data),
		b.CreatedAt.UnixNano(), b.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save baseline %s: %w", b.Key, err)
	}
	return nil
}

// Delete implements enrollment.Store.
func (s *SQLiteStore) Delete(ctx context.Context, key enrollment.Key) error {
	defer observe("delete", time.Now())
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM baselines WHERE user_id = ? AND biometric_type = ?`,
		key.UserID, key.BiometricType,
	)
	if err != nil {
		return fmt.Errorf("delete baseline %s: %w", key, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAttempt implements Store.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, a model.Attempt) error { //nolint:gocritic // hugeParam: mirrors Recorder
	defer observe("record_attempt", time.Now())
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return fmt.Errorf("encode reasons of %s: %w", a.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attempts (id, user_id, biometric_type, session_id, mode, score, confidence,
			recommendation, ml_degraded, reasons, features, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.BiometricType, a.SessionID, a.Mode, a.Score, a.Confidence,
		a.Recommendation, a.MLDegraded, string(reasons), a.Features, a.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.ID, err)
	}
	return nil
}

// RecentAttempts implements Store.
func (s *SQLiteStore) RecentAttempts(ctx context.Context, userID string, n int) ([]model.Attempt, error) {
	if n <= 0 {
		return nil, ErrInvalidLimit
	}
	defer observe("recent_attempts", time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, biometric_type, session_id, mode, score, confidence,
			recommendation, ml_degraded, reasons, features, created_at
		FROM attempts
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("query attempts of %s: %w", userID, err)
	}
	defer rows.Close()

	out := make([]model.Attempt, 0, n)
	for rows.Next() {
		var (
			a       model.Attempt
			reasons string
			created int64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.BiometricType, &a.SessionID, &a.Mode, &a.Score,
			&a.Confidence, &a.Recommendation, &a.MLDegraded, &reasons, &a.Features, &created); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if err := json.Unmarshal([]byte(reasons), &a.Reasons); err != nil {
			return nil, fmt.Errorf("decode reasons of %s: %w", a.ID, err)
		}
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// AttemptStats implements Store.
func (s *SQLiteStore) AttemptStats(ctx context.Context) ([]model.AttemptStats, error) {
	defer observe("attempt_stats", time.Now())
	rows, err := s.db.QueryContext(ctx, `
		SELECT biometric_type,
			COUNT(*),
			SUM(CASE WHEN recommendation = 'accept' THEN 1 ELSE 0 END),
			SUM(CASE WHEN recommendation = 'reject' THEN 1 ELSE 0 END),
			SUM(CASE WHEN recommendation NOT IN ('accept', 'reject') THEN 1 ELSE 0 END),
			SUM(ml_degraded)
		FROM attempts
		GROUP BY biometric_type
		ORDER BY biometric_type`)
	if err != nil {
		return nil, fmt.Errorf("query attempt stats: %w", err)
	}
	defer rows.Close()

	out := []model.AttemptStats{}
	for rows.Next() {
		var st model.AttemptStats
		if err := rows.Scan(&st.BiometricType, &st.Total, &st.Accepted, &st.Rejected, &st.Review, &st.MLDegraded); err != nil {
			return nil, fmt.Errorf("scan attempt stats: %w", err)
		}
		if st.Total > 0 {
			st.AcceptRate = float64(st.Accepted) / float64(st.Total)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Baselines implements Store.
func (s *SQLiteStore) Baselines(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM baselines`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count baselines: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
