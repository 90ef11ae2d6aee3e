package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"coachbook/internal/models"
)

const packageColumns = `id, client_id, provider_id, offering_id, bundle_id, funding_reservation_id,
    total_minutes, remaining_minutes, status, sessions_planned, sessions_completed,
    gross_price, provider_net, gateway_fee, platform_fee, service_fee, settlement_mode,
    created_at, updated_at`

func scanPackage(row scanner) (*models.Package, error) {
	var (
		p                    models.Package
		bundleID, fundingID  sql.NullInt64
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&p.ID, &p.ClientID, &p.ProviderID, &p.OfferingID, &bundleID, &fundingID,
		&p.TotalMinutes, &p.RemainingMinutes, &p.Status, &p.SessionsPlanned, &p.SessionsCompleted,
		&p.GrossPrice, &p.Fees.ProviderNet, &p.Fees.GatewayFee, &p.Fees.PlatformFee, &p.Fees.ServiceFee, &p.SettlementMode,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.BundleID = idPtr(bundleID)
	p.FundingReservationID = idPtr(fundingID)
	p.CreatedAt = fromUnix(createdAt)
	p.UpdatedAt = fromUnix(updatedAt)
	return &p, nil
}

func getPackage(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}, id int64) (*models.Package, error) {
	p, err := scanPackage(q.QueryRowContext(ctx, `SELECT `+packageColumns+` FROM packages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPackageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return p, nil
}

func (db *DB) GetPackage(ctx context.Context, id int64) (*models.Package, error) {
	return getPackage(ctx, db.DB, id)
}

func (t *Tx) GetPackage(ctx context.Context, id int64) (*models.Package, error) {
	return getPackage(ctx, t.tx, id)
}

// ValidatePackage checks that clientID owns the package and that it can cover
// minutes. The package is returned even on ErrPackageExhausted so callers can
// report the remaining balance.
func (t *Tx) ValidatePackage(ctx context.Context, packageID, clientID, minutes int64) (*models.Package, error) {
	p, err := t.GetPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	if p.ClientID != clientID {
		return p, ErrPackageNotOwned
	}
	if p.Status != models.PackageActive {
		return p, ErrPackageInactive
	}
	if minutes > p.RemainingMinutes {
		return p, ErrPackageExhausted
	}
	return p, nil
}

// DebitPackage decrements the remaining balance with a compare-and-swap on the
// balance itself, closing the package when it reaches zero.
func (t *Tx) DebitPackage(ctx context.Context, packageID, minutes int64, now time.Time) error {
	if minutes <= 0 {
		return fmt.Errorf("debit must be positive, got %d minutes", minutes)
	}
	query := `UPDATE packages
              SET remaining_minutes = remaining_minutes - ?,
                  status = CASE WHEN remaining_minutes - ? = 0 THEN 'completed' ELSE status END,
                  updated_at = ?
              WHERE id = ? AND status = 'active' AND remaining_minutes >= ?`
	result, err := t.tx.ExecContext(ctx, query, minutes, minutes, unix(now), packageID, minutes)
	if err != nil {
		if guard := guardError(err); guard != nil {
			return guard
		}
		return fmt.Errorf("failed to debit package: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 1 {
		return nil
	}

	p, err := t.GetPackage(ctx, packageID)
	if err != nil {
		return err
	}
	if p.Status != models.PackageActive {
		return ErrPackageInactive
	}
	return ErrPackageExhausted
}

// CreditPackage returns minutes to the balance, capped at the package total.
// A package closed by exhaustion is reopened; one closed because all planned
// sessions were completed stays closed.
func (t *Tx) CreditPackage(ctx context.Context, packageID, minutes int64, now time.Time) error {
	if minutes <= 0 {
		return nil
	}
	query := `UPDATE packages
              SET remaining_minutes = MIN(total_minutes, remaining_minutes + ?),
                  status = CASE
                      WHEN status = 'completed' AND (sessions_planned = 0 OR sessions_completed < sessions_planned) THEN 'active'
                      ELSE status END,
                  updated_at = ?
              WHERE id = ?`
	result, err := t.tx.ExecContext(ctx, query, minutes, unix(now), packageID)
	if err != nil {
		return fmt.Errorf("failed to credit package: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrPackageNotFound
	}
	return nil
}

// OpenPackage creates a package and, when firstSessionMinutes > 0, deducts the
// first session in the same statement. A package opened as pending_funding
// keeps that status until ActivatePackage.
func (t *Tx) OpenPackage(ctx context.Context, p *models.Package, firstSessionMinutes int64) error {
	if p.TotalMinutes <= 0 {
		return fmt.Errorf("package total must be positive, got %d minutes", p.TotalMinutes)
	}
	if firstSessionMinutes < 0 || firstSessionMinutes > p.TotalMinutes {
		return ErrPackageExhausted
	}

	p.RemainingMinutes = p.TotalMinutes - firstSessionMinutes
	if p.Status != models.PackagePendingFunding {
		p.Status = models.PackageActive
		if p.RemainingMinutes == 0 {
			p.Status = models.PackageCompleted
		}
	}

	query := `INSERT INTO packages (
                client_id, provider_id, offering_id, bundle_id, funding_reservation_id,
                total_minutes, remaining_minutes, status, sessions_planned, sessions_completed,
                gross_price, provider_net, gateway_fee, platform_fee, service_fee, settlement_mode,
                created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := t.tx.ExecContext(ctx, query,
		p.ClientID, p.ProviderID, p.OfferingID, nullableID(p.BundleID), nullableID(p.FundingReservationID),
		p.TotalMinutes, p.RemainingMinutes, p.Status, p.SessionsPlanned,
		p.GrossPrice, p.Fees.ProviderNet, p.Fees.GatewayFee, p.Fees.PlatformFee, p.Fees.ServiceFee, p.SettlementMode,
		unix(p.CreatedAt), unix(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to open package: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.SessionsCompleted = 0
	p.UpdatedAt = p.CreatedAt
	return nil
}

// ActivatePackage releases a pending_funding package once its funding payment
// settled. It is a no-op for packages in any other status.
func (t *Tx) ActivatePackage(ctx context.Context, packageID int64, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE packages
         SET status = CASE WHEN remaining_minutes = 0 THEN 'completed' ELSE 'active' END, updated_at = ?
         WHERE id = ? AND status = 'pending_funding'`,
		unix(now), packageID)
	if err != nil {
		return fmt.Errorf("failed to activate package: %w", err)
	}
	return nil
}

// VoidPackage retires a package whose funding payment failed. Every session
// still scheduled against it is cancelled together with its live reservation;
// the ids of those reservations are returned.
func (t *Tx) VoidPackage(ctx context.Context, packageID int64, now time.Time) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT r.id FROM reservations r
         JOIN package_sessions s ON s.id = r.session_id
         WHERE s.package_id = ? AND s.status = 'scheduled' AND r.status IN ('pending', 'confirmed')
         ORDER BY r.id ASC`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list package reservations: %w", err)
	}
	var cancelled []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan reservation id: %w", err)
		}
		cancelled = append(cancelled, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range cancelled {
		_, err := t.tx.ExecContext(ctx,
			`UPDATE reservations SET status = 'cancelled', version = version + 1, updated_at = ? WHERE id = ?`,
			unix(now), id)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel package reservation: %w", err)
		}
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE package_sessions SET status = 'cancelled' WHERE package_id = ? AND status = 'scheduled'`,
		packageID); err != nil {
		return nil, fmt.Errorf("failed to cancel package sessions: %w", err)
	}

	result, err := t.tx.ExecContext(ctx,
		`UPDATE packages SET status = 'voided', remaining_minutes = 0, updated_at = ? WHERE id = ?`,
		unix(now), packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to void package: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, ErrPackageNotFound
	}
	return cancelled, nil
}
