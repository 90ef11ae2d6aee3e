package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coachbook/internal/models"
)

// SeedCatalog upserts providers, offerings with their bundles and accounts in one transaction.
func (db *DB) SeedCatalog(ctx context.Context, providers []models.Provider, offerings []models.Offering, accounts []models.Account) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for i := range providers {
		if err := upsertProvider(ctx, tx, &providers[i], now); err != nil {
			return err
		}
	}
	for i := range offerings {
		if err := upsertOffering(ctx, tx, &offerings[i], now); err != nil {
			return err
		}
	}
	for i := range accounts {
		if err := upsertAccount(ctx, tx, &accounts[i], now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit catalog: %w", err)
	}

	db.logger.Info().
		Int("providers", len(providers)).
		Int("offerings", len(offerings)).
		Int("accounts", len(accounts)).
		Msg("catalog seeded")
	return nil
}

// UpsertAccount stores an account mirrored from the identity system.
func (db *DB) UpsertAccount(ctx context.Context, account *models.Account) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := upsertAccount(ctx, tx, account, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

func upsertProvider(ctx context.Context, tx *sql.Tx, p *models.Provider, now time.Time) error {
	query := `INSERT INTO providers (id, name, settlement_mode, created_at) VALUES (?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, settlement_mode = excluded.settlement_mode`
	if _, err := tx.ExecContext(ctx, query, p.ID, p.Name, p.SettlementMode, unix(now)); err != nil {
		return fmt.Errorf("failed to upsert provider %d: %w", p.ID, err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	return nil
}

func upsertOffering(ctx context.Context, tx *sql.Tx, o *models.Offering, now time.Time) error {
	query := `INSERT INTO offerings (id, provider_id, title, hourly_price, duration_minutes, is_active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  provider_id = excluded.provider_id,
                  title = excluded.title,
                  hourly_price = excluded.hourly_price,
                  duration_minutes = excluded.duration_minutes,
                  is_active = excluded.is_active,
                  updated_at = excluded.updated_at`
	duration := o.DurationMinutes
	if duration == 0 {
		duration = models.MinutesPerHour
	}
	_, err := tx.ExecContext(ctx, query, o.ID, o.ProviderID, o.Title, o.HourlyPrice, duration, o.IsActive, unix(now), unix(now))
	if err != nil {
		return fmt.Errorf("failed to upsert offering %d: %w", o.ID, err)
	}

	bundleQuery := `INSERT INTO bundle_definitions (id, offering_id, hours, total_price, planned_sessions, is_active)
                    VALUES (?, ?, ?, ?, ?, ?)
                    ON CONFLICT(id) DO UPDATE SET
                        offering_id = excluded.offering_id,
                        hours = excluded.hours,
                        total_price = excluded.total_price,
                        planned_sessions = excluded.planned_sessions,
                        is_active = excluded.is_active`
	for i := range o.Bundles {
		b := &o.Bundles[i]
		b.OfferingID = o.ID
		if _, err := tx.ExecContext(ctx, bundleQuery, b.ID, o.ID, b.Hours, b.TotalPrice, b.PlannedSessions, b.IsActive); err != nil {
			return fmt.Errorf("failed to upsert bundle %d: %w", b.ID, err)
		}
	}
	return nil
}

func upsertAccount(ctx context.Context, tx *sql.Tx, a *models.Account, now time.Time) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	query := `INSERT INTO accounts (id, name, created_at) VALUES (?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET name = excluded.name, created_at = excluded.created_at`
	if _, err := tx.ExecContext(ctx, query, a.ID, a.Name, unix(a.CreatedAt)); err != nil {
		return fmt.Errorf("failed to upsert account %d: %w", a.ID, err)
	}
	return nil
}

func (db *DB) GetProvider(ctx context.Context, id int64) (*models.Provider, error) {
	var p models.Provider
	var createdAt int64
	query := `SELECT id, name, settlement_mode, created_at FROM providers WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.SettlementMode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider: %w", err)
	}
	p.CreatedAt = fromUnix(createdAt)
	return &p, nil
}

// GetAccount implements the identity collaborator on top of the mirrored accounts table.
func (db *DB) GetAccount(ctx context.Context, clientID int64) (*models.Account, error) {
	var a models.Account
	var createdAt int64
	query := `SELECT id, name, created_at FROM accounts WHERE id = ?`
	err := db.QueryRowContext(ctx, query, clientID).Scan(&a.ID, &a.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	a.CreatedAt = fromUnix(createdAt)
	return &a, nil
}

// GetOffering returns the offering together with all of its bundle definitions.
func (db *DB) GetOffering(ctx context.Context, id int64) (*models.Offering, error) {
	var o models.Offering
	var createdAt, updatedAt int64
	query := `SELECT id, provider_id, title, hourly_price, duration_minutes, is_active, created_at, updated_at
              FROM offerings WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.ProviderID, &o.Title, &o.HourlyPrice, &o.DurationMinutes, &o.IsActive, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offering: %w", err)
	}
	o.CreatedAt = fromUnix(createdAt)
	o.UpdatedAt = fromUnix(updatedAt)

	rows, err := db.QueryContext(ctx, `SELECT id, offering_id, hours, total_price, planned_sessions, is_active
                                       FROM bundle_definitions WHERE offering_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get bundles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b models.BundleDefinition
		if err := rows.Scan(&b.ID, &b.OfferingID, &b.Hours, &b.TotalPrice, &b.PlannedSessions, &b.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		o.Bundles = append(o.Bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (db *DB) GetBundle(ctx context.Context, id int64) (*models.BundleDefinition, error) {
	var b models.BundleDefinition
	query := `SELECT id, offering_id, hours, total_price, planned_sessions, is_active FROM bundle_definitions WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(&b.ID, &b.OfferingID, &b.Hours, &b.TotalPrice, &b.PlannedSessions, &b.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bundle: %w", err)
	}
	return &b, nil
}
