package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"coachbook/internal/models"
)

const reservationColumns = `id, reference, provider_id, client_id, offering_id, package_id, session_id,
    start_at, end_at, gross_price, status, settlement_status, settlement_mode,
    provider_net, gateway_fee, platform_fee, service_fee, channel_ref, checkout_ref,
    hold_until, created_at, updated_at, version`

func scanReservation(row scanner) (*models.Reservation, error) {
	var (
		r                                           models.Reservation
		packageID, sessionID                        sql.NullInt64
		startAt, endAt, holdUntil, createdAt, updAt int64
	)
	err := row.Scan(
		&r.ID, &r.Reference, &r.ProviderID, &r.ClientID, &r.OfferingID, &packageID, &sessionID,
		&startAt, &endAt, &r.GrossPrice, &r.Status, &r.SettlementStatus, &r.SettlementMode,
		&r.Fees.ProviderNet, &r.Fees.GatewayFee, &r.Fees.PlatformFee, &r.Fees.ServiceFee, &r.ChannelRef, &r.CheckoutRef,
		&holdUntil, &createdAt, &updAt, &r.Version,
	)
	if err != nil {
		return nil, err
	}
	r.PackageID = idPtr(packageID)
	r.SessionID = idPtr(sessionID)
	r.Start = fromUnix(startAt)
	r.End = fromUnix(endAt)
	r.HoldUntil = fromUnix(holdUntil)
	r.CreatedAt = fromUnix(createdAt)
	r.UpdatedAt = fromUnix(updAt)
	return &r, nil
}

func getReservation(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, id int64) (*models.Reservation, error) {
	r, err := scanReservation(q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

// IsFree is the slot conflict check. A slot is taken by a confirmed
// reservation, by a pending one still inside its hold, or by a scheduled
// ledger-only session of one of the provider's packages.
func (t *Tx) IsFree(ctx context.Context, providerID int64, start, end, now time.Time) (bool, error) {
	query := `SELECT
        EXISTS (
            SELECT 1 FROM reservations
            WHERE provider_id = ? AND start_at < ? AND end_at > ?
              AND (status = 'confirmed' OR (status = 'pending' AND hold_until > ?))
        ) OR EXISTS (
            SELECT 1 FROM package_sessions s JOIN packages p ON p.id = s.package_id
            WHERE p.provider_id = ? AND s.reservation_id IS NULL AND s.status = 'scheduled'
              AND s.start_at < ? AND s.end_at > ?
        )`
	var taken bool
	err := t.tx.QueryRowContext(ctx, query,
		providerID, unix(end), unix(start), unix(now),
		providerID, unix(end), unix(start),
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return !taken, nil
}

func (t *Tx) HasConfirmedOverlap(ctx context.Context, providerID int64, start, end time.Time, excludeID int64) (bool, error) {
	query := `SELECT EXISTS (
        SELECT 1 FROM reservations
        WHERE provider_id = ? AND id <> ? AND status = 'confirmed' AND start_at < ? AND end_at > ?
    )`
	var overlap bool
	if err := t.tx.QueryRowContext(ctx, query, providerID, excludeID, unix(end), unix(start)).Scan(&overlap); err != nil {
		return false, fmt.Errorf("failed to check confirmed overlap: %w", err)
	}
	return overlap, nil
}

// InsertReservation stores r and fills in its ID and version. Overlaps
// rejected by the storage guard surface as ErrSlotUnavailable.
func (t *Tx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO reservations (
                reference, provider_id, client_id, offering_id, package_id, session_id,
                start_at, end_at, gross_price, status, settlement_status, settlement_mode,
                provider_net, gateway_fee, platform_fee, service_fee, channel_ref, checkout_ref,
                hold_until, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`
	result, err := t.tx.ExecContext(ctx, query,
		r.Reference, r.ProviderID, r.ClientID, r.OfferingID, nullableID(r.PackageID), nullableID(r.SessionID),
		unix(r.Start), unix(r.End), r.GrossPrice, r.Status, r.SettlementStatus, r.SettlementMode,
		r.Fees.ProviderNet, r.Fees.GatewayFee, r.Fees.PlatformFee, r.Fees.ServiceFee, r.ChannelRef, r.CheckoutRef,
		unix(r.HoldUntil), unix(r.CreatedAt), unix(r.CreatedAt),
	)
	if err != nil {
		if guard := guardError(err); guard != nil {
			return guard
		}
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.UpdatedAt = r.CreatedAt
	r.Version = 1
	return nil
}

func (t *Tx) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, t.tx, id)
}

func (t *Tx) SetCheckoutRef(ctx context.Context, reservationID int64, ref string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE reservations SET checkout_ref = ? WHERE id = ?`, ref, reservationID)
	if err != nil {
		return fmt.Errorf("failed to set checkout ref: %w", err)
	}
	return nil
}

// LinkSession attaches a package session (and its package) to a reservation, both ways.
func (t *Tx) LinkSession(ctx context.Context, reservationID, sessionID int64) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET session_id = ?, package_id = (SELECT package_id FROM package_sessions WHERE id = ?)
         WHERE id = ?`, sessionID, sessionID, reservationID)
	if err != nil {
		return fmt.Errorf("failed to link session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrReservationNotFound
	}

	result, err = t.tx.ExecContext(ctx, `UPDATE package_sessions SET reservation_id = ? WHERE id = ?`, reservationID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to link session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// TransitionReservation moves a reservation to a new status pair, guarded by its version.
func (t *Tx) TransitionReservation(ctx context.Context, id, fromVersion int64, status models.ReservationStatus, settlement models.SettlementStatus, now time.Time) error {
	query := `UPDATE reservations SET status = ?, settlement_status = ?, version = version + 1, updated_at = ?
              WHERE id = ? AND version = ?`
	result, err := t.tx.ExecContext(ctx, query, status, settlement, unix(now), id, fromVersion)
	if err != nil {
		if guard := guardError(err); guard != nil {
			return guard
		}
		return fmt.Errorf("failed to update reservation status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	return getReservation(ctx, db.DB, id)
}

// AttachChannelRef records the chat channel provisioned for a reservation.
func (db *DB) AttachChannelRef(ctx context.Context, reservationID int64, ref string) error {
	result, err := db.ExecContext(ctx, `UPDATE reservations SET channel_ref = ? WHERE id = ?`, ref, reservationID)
	if err != nil {
		return fmt.Errorf("failed to attach channel ref: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrReservationNotFound
	}
	return nil
}

// ListReservations returns reservations matching filter ordered by start time.
// From/To select reservations whose interval intersects the window.
func (db *DB) ListReservations(ctx context.Context, filter models.ReservationFilter) ([]*models.Reservation, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.ClientID != 0 {
		conds = append(conds, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.ProviderID != 0 {
		conds = append(conds, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "end_at > ?")
		args = append(args, unix(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "start_at < ?")
		args = append(args, unix(filter.To))
	}

	query := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY start_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reservations, nil
}
