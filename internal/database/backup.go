package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"coachbook/internal/config"

	"github.com/rs/zerolog"
)

// SnapshotService periodically copies the live database with VACUUM INTO and
// prunes snapshots older than the retention window.
type SnapshotService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewSnapshotService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *SnapshotService {
	return &SnapshotService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

func (s *SnapshotService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("snapshot service is disabled")
		return
	}

	interval := 24 * time.Hour
	if s.config.Schedule != "" {
		if d, err := time.ParseDuration(s.config.Schedule); err == nil && d > 0 {
			interval = d
		} else {
			s.logger.Warn().Str("schedule", s.config.Schedule).Msg("invalid snapshot schedule, using 24h")
		}
	}
	s.logger.Info().Dur("interval", interval).Msg("snapshot service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Snapshot(ctx, time.Now()); err != nil {
				s.logger.Error().Err(err).Msg("scheduled snapshot failed")
			}
			s.Prune(time.Now())
		}
	}
}

// Snapshot writes a consistent copy of the database and returns its path.
func (s *SnapshotService) Snapshot(ctx context.Context, now time.Time) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	path := filepath.Join(s.config.StoragePath, fmt.Sprintf("coachbook_%s.db", now.UTC().Format("20060102_150405")))
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", path, err)
	}

	s.logger.Info().Str("path", path).Msg("snapshot written")
	return path, nil
}

// Prune removes snapshots older than the retention window.
func (s *SnapshotService) Prune(now time.Time) int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read snapshot directory")
		return 0
	}

	cutoff := now.AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "coachbook_") {
			continue
		}
		info, err := file.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, file.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", file.Name()).Msg("failed to delete snapshot")
			continue
		}
		removed++
	}
	return removed
}
