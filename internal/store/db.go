package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"presence/internal/clock"
)

type dialect int

const (
	postgres dialect = iota
	sqliteDialect
)

// SQL is the database-backed store. Postgres goes through pgx's
// database/sql driver, SQLite through modernc.org/sqlite. Timestamps are
// stored as unix microseconds so both engines share one schema.
type SQL struct {
	db      *sql.DB
	dialect dialect
	clock   clock.Clock
}

// SetClock replaces the clock used for timestamps the store stamps itself.
func (s *SQL) SetClock(c clock.Clock) { s.clock = c }

// OpenPostgres connects to Postgres with sane pool defaults.
func OpenPostgres(ctx context.Context, connString string) (*SQL, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &SQL{db: db, dialect: postgres, clock: clock.Real()}, nil
}

// OpenSQLite opens the database file at path, creating directories as
// needed. A single connection serializes every transaction.
func OpenSQLite(path string) (*SQL, error) {
	dsn := "file::memory:?_pragma=foreign_keys(ON)"
	idle := time.Duration(0)
	if path != ":memory:" {
		idle = 5 * time.Minute
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	// an in-memory database lives exactly as long as its one connection
	db.SetConnMaxIdleTime(idle)
	return &SQL{db: db, dialect: sqliteDialect, clock: clock.Real()}, nil
}

// Close releases the underlying database handle.
func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Healthy pings the database.
func (s *SQL) Healthy(ctx context.Context) bool {
	return s != nil && s.db != nil && s.db.PingContext(ctx) == nil
}

// InitSchema ensures all tables exist.
func (s *SQL) InitSchema(ctx context.Context) error {
	blob := "BYTEA"
	if s.dialect == sqliteDialect {
		blob = "BLOB"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS participants (
			id TEXT PRIMARY KEY,
			handle TEXT NOT NULL UNIQUE,
			credential_hash TEXT NOT NULL,
			logged_in BOOLEAN NOT NULL DEFAULT FALSE,
			login_us BIGINT,
			last_active_us BIGINT,
			current_room TEXT,
			created_us BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_room ON participants(current_room) WHERE logged_in`,
		`CREATE TABLE IF NOT EXISTS rooms (
			code TEXT PRIMARY KEY,
			admin_id TEXT NOT NULL,
			access_point TEXT NOT NULL,
			active BOOLEAN NOT NULL,
			created_us BIGINT NOT NULL,
			closed_us BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_admin ON rooms(admin_id)`,
		`CREATE TABLE IF NOT EXISTS attendance_records (
			id TEXT PRIMARY KEY,
			participant_id TEXT NOT NULL,
			room_code TEXT,
			admin_id TEXT,
			login_us BIGINT NOT NULL,
			logout_us BIGINT NOT NULL,
			active_minutes DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_participant ON attendance_records(participant_id, logout_us)`,
		`CREATE INDEX IF NOT EXISTS idx_records_room ON attendance_records(room_code)`,
		`CREATE TABLE IF NOT EXISTS templates (
			subject TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			body ` + blob + ` NOT NULL,
			updated_us BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS admins (
			id TEXT PRIMARY KEY,
			handle TEXT NOT NULL UNIQUE,
			credential_hash TEXT NOT NULL,
			created_us BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			expires_us BIGINT NOT NULL,
			revoked BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// q adapts a query written with $n placeholders to the dialect.
func (s *SQL) q(query string) string {
	if s.dialect == sqliteDialect {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

// forShare locks selected rows against concurrent updates until commit.
// SQLite needs nothing: its single connection already serializes.
func (s *SQL) forShare() string {
	if s.dialect == postgres {
		return " FOR SHARE"
	}
	return ""
}

func (s *SQL) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

func micros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: micros(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMicros(n.Int64)
	return &t
}
