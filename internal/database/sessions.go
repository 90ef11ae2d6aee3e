package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"coachbook/internal/models"
)

const sessionColumns = `id, package_id, reservation_id, start_at, end_at, duration_minutes, status, created_at`

func scanSession(row scanner) (*models.PackageSession, error) {
	var (
		s                         models.PackageSession
		reservationID             sql.NullInt64
		startAt, endAt, createdAt int64
	)
	err := row.Scan(&s.ID, &s.PackageID, &reservationID, &startAt, &endAt, &s.DurationMinutes, &s.Status, &createdAt)
	if err != nil {
		return nil, err
	}
	s.ReservationID = idPtr(reservationID)
	s.Start = fromUnix(startAt)
	s.End = fromUnix(endAt)
	s.CreatedAt = fromUnix(createdAt)
	return &s, nil
}

func (t *Tx) InsertSession(ctx context.Context, s *models.PackageSession) error {
	if s.Status == "" {
		s.Status = models.SessionScheduled
	}
	query := `INSERT INTO package_sessions (package_id, reservation_id, start_at, end_at, duration_minutes, status, created_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := t.tx.ExecContext(ctx, query,
		s.PackageID, nullableID(s.ReservationID), unix(s.Start), unix(s.End), s.DurationMinutes, s.Status, unix(s.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert package session: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	s.ID = id
	return nil
}

func (t *Tx) GetSession(ctx context.Context, id int64) (*models.PackageSession, error) {
	s, err := scanSession(t.tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM package_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package session: %w", err)
	}
	return s, nil
}

// CancelSession cancels a still scheduled session. It reports false when the
// session had already completed or been cancelled.
func (t *Tx) CancelSession(ctx context.Context, id int64) (bool, error) {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE package_sessions SET status = 'cancelled' WHERE id = ? AND status = 'scheduled'`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel package session: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// ListPackageSessions returns every session of a package in insertion order.
func (db *DB) ListPackageSessions(ctx context.Context, packageID int64) ([]*models.PackageSession, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM package_sessions WHERE package_id = ? ORDER BY id ASC`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list package sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.PackageSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}
