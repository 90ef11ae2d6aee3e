package database

import (
	"context"
	"fmt"
	"time"

	"coachbook/internal/models"
)

// SweepDuePastBookings completes past-due scheduled sessions of funded packages
// and paid confirmed reservations, then closes packages whose planned sessions
// are all done.
// Every step is a conditional bulk UPDATE, so concurrent or repeated sweeps
// never transition a record twice.
func (db *DB) SweepDuePastBookings(ctx context.Context, now time.Time) (models.SweepResult, error) {
	var res models.SweepResult

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE package_sessions SET status = 'completed'
         WHERE status = 'scheduled' AND end_at < ?
           AND package_id NOT IN (SELECT id FROM packages WHERE status = 'pending_funding')`, unix(now))
	if err != nil {
		return res, fmt.Errorf("failed to complete sessions: %w", err)
	}
	res.Sessions, _ = result.RowsAffected()

	result, err = tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'completed', version = version + 1, updated_at = ?
         WHERE status = 'confirmed' AND settlement_status IN (?, ?, ?) AND end_at < ?`,
		unix(now), models.SettlementByGateway, models.SettlementExternal, models.SettlementFree, unix(now))
	if err != nil {
		return res, fmt.Errorf("failed to complete reservations: %w", err)
	}
	res.Reservations, _ = result.RowsAffected()

	if res.Sessions > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE packages SET sessions_completed = (
                 SELECT COUNT(*) FROM package_sessions s WHERE s.package_id = packages.id AND s.status = 'completed'
             ), updated_at = ?
             WHERE status <> 'voided'`, unix(now))
		if err != nil {
			return res, fmt.Errorf("failed to recount sessions: %w", err)
		}
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE packages SET status = 'completed', updated_at = ?
         WHERE status = 'active' AND sessions_planned > 0 AND sessions_completed >= sessions_planned`, unix(now))
	if err != nil {
		return res, fmt.Errorf("failed to close packages: %w", err)
	}
	res.Packages, _ = result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit sweep: %w", err)
	}

	if res.Total() > 0 {
		db.logger.Debug().
			Int64("sessions", res.Sessions).
			Int64("reservations", res.Reservations).
			Int64("packages", res.Packages).
			Msg("completion sweep applied")
	}
	return res, nil
}
