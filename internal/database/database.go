package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"coachbook/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// DB is the sqlite-backed store of the booking engine.
type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

type Option func(*options)

type options struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets how long a writer waits for the database lock.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// NewDB opens the database at path and runs migrations. Every transaction is
// started with BEGIN IMMEDIATE, so writers are serialized by sqlite itself.
func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	o := options{busyTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=%d&_foreign_keys=on", path, o.busyTimeout.Milliseconds())
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if inMemory {
		// each connection would otherwise get its own empty database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("database initialized")

	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS providers (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            settlement_mode TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS accounts (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS offerings (
            id INTEGER PRIMARY KEY,
            provider_id INTEGER NOT NULL REFERENCES providers(id),
            title TEXT NOT NULL,
            hourly_price INTEGER NOT NULL CHECK (hourly_price >= 0),
            duration_minutes INTEGER NOT NULL DEFAULT 60,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bundle_definitions (
            id INTEGER PRIMARY KEY,
            offering_id INTEGER NOT NULL REFERENCES offerings(id),
            hours INTEGER NOT NULL CHECK (hours > 0),
            total_price INTEGER NOT NULL CHECK (total_price >= 0),
            planned_sessions INTEGER NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reference TEXT NOT NULL UNIQUE,
            provider_id INTEGER NOT NULL,
            client_id INTEGER NOT NULL,
            offering_id INTEGER NOT NULL REFERENCES offerings(id),
            package_id INTEGER,
            session_id INTEGER,
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            gross_price INTEGER NOT NULL,
            status TEXT NOT NULL,
            settlement_status TEXT NOT NULL,
            settlement_mode TEXT NOT NULL,
            provider_net INTEGER NOT NULL DEFAULT 0,
            gateway_fee INTEGER NOT NULL DEFAULT 0,
            platform_fee INTEGER NOT NULL DEFAULT 0,
            service_fee INTEGER NOT NULL DEFAULT 0,
            channel_ref TEXT NOT NULL DEFAULT '',
            checkout_ref TEXT NOT NULL DEFAULT '',
            hold_until INTEGER NOT NULL,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CONSTRAINT interval_order CHECK (end_at > start_at),
            CONSTRAINT fee_sum CHECK (provider_net + gateway_fee + platform_fee + service_fee = gross_price)
        )`,
		`CREATE TABLE IF NOT EXISTS packages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            client_id INTEGER NOT NULL,
            provider_id INTEGER NOT NULL,
            offering_id INTEGER NOT NULL REFERENCES offerings(id),
            bundle_id INTEGER,
            funding_reservation_id INTEGER,
            total_minutes INTEGER NOT NULL,
            remaining_minutes INTEGER NOT NULL,
            status TEXT NOT NULL,
            sessions_planned INTEGER NOT NULL DEFAULT 0,
            sessions_completed INTEGER NOT NULL DEFAULT 0,
            gross_price INTEGER NOT NULL DEFAULT 0,
            provider_net INTEGER NOT NULL DEFAULT 0,
            gateway_fee INTEGER NOT NULL DEFAULT 0,
            platform_fee INTEGER NOT NULL DEFAULT 0,
            service_fee INTEGER NOT NULL DEFAULT 0,
            settlement_mode TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL,
            CONSTRAINT remaining_minutes_bounds CHECK (remaining_minutes >= 0 AND remaining_minutes <= total_minutes)
        )`,
		`CREATE TABLE IF NOT EXISTS package_sessions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            package_id INTEGER NOT NULL REFERENCES packages(id),
            reservation_id INTEGER,
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            duration_minutes INTEGER NOT NULL,
            status TEXT NOT NULL,
            created_at INTEGER NOT NULL,
            CHECK (end_at > start_at)
        )`,

		// Storage-level exclusion guard: a new live reservation may not overlap a
		// confirmed one or a pending one whose hold has not lapsed.
		`CREATE TRIGGER IF NOT EXISTS reservations_no_overlap_insert
        BEFORE INSERT ON reservations
        WHEN NEW.status IN ('pending', 'confirmed')
        BEGIN
            SELECT RAISE(ABORT, 'slot_unavailable')
            WHERE EXISTS (
                SELECT 1 FROM reservations r
                WHERE r.provider_id = NEW.provider_id
                  AND r.start_at < NEW.end_at
                  AND r.end_at > NEW.start_at
                  AND (r.status = 'confirmed' OR (r.status = 'pending' AND r.hold_until > NEW.created_at))
            );
        END`,
		`CREATE TRIGGER IF NOT EXISTS reservations_no_overlap_confirm
        BEFORE UPDATE OF status ON reservations
        WHEN NEW.status = 'confirmed' AND OLD.status <> 'confirmed'
        BEGIN
            SELECT RAISE(ABORT, 'slot_unavailable')
            WHERE EXISTS (
                SELECT 1 FROM reservations r
                WHERE r.id <> NEW.id
                  AND r.provider_id = NEW.provider_id
                  AND r.start_at < NEW.end_at
                  AND r.end_at > NEW.start_at
                  AND r.status = 'confirmed'
            );
        END`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_provider_interval ON reservations(provider_id, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_client ON reservations(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status_end ON reservations(status, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_packages_client ON packages(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_package_sessions_package ON package_sessions(package_id)`,
		`CREATE INDEX IF NOT EXISTS idx_package_sessions_status_end ON package_sessions(status, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bundle_definitions_offering ON bundle_definitions(offering_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Tx is a single BEGIN IMMEDIATE transaction.
type Tx struct {
	tx *sql.Tx
}

// InTx runs fn inside one transaction. Any error returned by fn rolls the
// whole unit back; nothing fn wrote is visible unless it returns nil.
func (db *DB) InTx(ctx context.Context, fn func(tx domain.StoreTx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if guard := guardError(err); guard != nil {
			return guard
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func unix(t time.Time) int64 {
	return t.Unix()
}

func fromUnix(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

func idPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

type scanner interface {
	Scan(dest ...interface{}) error
}
