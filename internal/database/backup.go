package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"splitsync/internal/config"
	"splitsync/internal/logging"

	"github.com/rs/zerolog"
)

const snapshotPrefix = "snapshot_"

// BackupService periodically snapshots the local store so queued mutations
// survive a damaged database file.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		config: cfg,
		logger: logging.Component(logger, "backup"),
	}
}

// Start snapshots once immediately and then on every interval until ctx ends.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("backup service is disabled")
		return
	}

	interval := s.config.Interval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	s.logger.Info().Dur("interval", interval).Str("dir", s.config.Dir).Msg("backup service started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if _, err := s.PerformBackup(ctx); err != nil {
		s.logger.Error().Err(err).Msg("initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PerformBackup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup writes a consistent copy of the store and returns its path.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}

	name := snapshotPrefix + time.Now().UTC().Format("20060102T150405.000000000") + ".db"
	target := filepath.Join(s.config.Dir, name)

	quoted := strings.ReplaceAll(target, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		if s.db.Path() == memoryPath {
			return "", fmt.Errorf("vacuum into %s: %w", target, err)
		}
		s.logger.Warn().Err(err).Msg("VACUUM INTO failed, falling back to file copy")
		if err := copyFile(s.db.Path(), target); err != nil {
			return "", fmt.Errorf("copy store to %s: %w", target, err)
		}
	}

	s.logger.Info().Str("path", target).Msg("local store snapshot written")
	return target, nil
}

// Not consistent under concurrent writes; only used when VACUUM INTO is unavailable.
func copyFile(src, dst string) error {
	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destination.Close()

	_, err = io.Copy(destination, source)
	return err
}

// CleanupOldBackups keeps the newest Keep snapshots and removes the rest.
func (s *BackupService) CleanupOldBackups() {
	if s.config.Keep <= 0 {
		return
	}

	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read backup directory for cleanup")
		return
	}

	var snapshots []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), snapshotPrefix) {
			continue
		}
		snapshots = append(snapshots, entry.Name())
	}
	if len(snapshots) <= s.config.Keep {
		return
	}

	// Names embed a sortable UTC timestamp.
	sort.Strings(snapshots)
	for _, name := range snapshots[:len(snapshots)-s.config.Keep] {
		s.logger.Info().Str("file", name).Msg("deleting old snapshot")
		if err := os.Remove(filepath.Join(s.config.Dir, name)); err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("failed to delete snapshot")
		}
	}
}
