package journal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"resona/internal/regen"
)

// Health reports diagnostic information about the journal database.
type Health struct {
	DBPath         string
	LockPath       string
	DatabaseExists bool
	SizeBytes      int64
	JobCounts      map[regen.JobStatus]int
	HistoryEntries int
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[regen.JobStatus]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(1) FROM regen_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[regen.JobStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[regen.JobStatus(status)] = count
	}
	return stats, rows.Err()
}

// CheckHealth gathers database diagnostics for the doctor command.
func (s *Store) CheckHealth(ctx context.Context) (Health, error) {
	ctx = ensureContext(ctx)
	health := Health{DBPath: s.path, LockPath: s.lockPath}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat journal database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("journal database path %q is a directory", s.path)
	}
	health.DatabaseExists = true
	health.SizeBytes = info.Size()

	stats, err := s.Stats(ctx)
	if err != nil {
		return health, err
	}
	health.JobCounts = stats

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM regen_history").Scan(&health.HistoryEntries); err != nil {
		return health, fmt.Errorf("count history entries: %w", err)
	}
	return health, nil
}
