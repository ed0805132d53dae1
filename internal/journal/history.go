package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"resona/internal/regen"
)

// AppendHistory writes one audit entry. History rows are never updated.
func (s *Store) AppendHistory(entry regen.HistoryEntry) error {
	descriptorIDs, err := encodeDescriptorIDs(entry.DescriptorIDs)
	if err != nil {
		return err
	}
	return s.execWithRetry(nil, `
		INSERT INTO regen_history (audio_source_id, profile_id, descriptor_ids, action, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AudioSourceID,
		entry.ProfileID,
		descriptorIDs,
		entry.Action,
		string(entry.Outcome),
		nullableString(entry.Detail),
		formatTime(entry.Timestamp),
	)
}

// ListHistory returns audit entries, newest first. A limit of zero or less
// returns everything.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]regen.HistoryEntry, error) {
	ctx = ensureContext(ctx)
	query := "SELECT audio_source_id, profile_id, descriptor_ids, action, outcome, detail, created_at FROM regen_history ORDER BY id DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []regen.HistoryEntry
	for rows.Next() {
		var (
			entry         regen.HistoryEntry
			descriptorRaw string
			outcomeRaw    string
			detail        sql.NullString
			createdRaw    string
		)
		if err := rows.Scan(
			&entry.AudioSourceID,
			&entry.ProfileID,
			&descriptorRaw,
			&entry.Action,
			&outcomeRaw,
			&detail,
			&createdRaw,
		); err != nil {
			return nil, err
		}
		entry.Outcome = regen.HistoryOutcome(outcomeRaw)
		entry.Detail = detail.String
		if err := json.Unmarshal([]byte(descriptorRaw), &entry.DescriptorIDs); err != nil {
			return nil, fmt.Errorf("decode descriptor ids in history: %w", err)
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			entry.Timestamp = created
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PruneBefore deletes history entries older than the cutoff and returns the
// number removed. Jobs are kept; only the audit trail is trimmed.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			"DELETE FROM regen_history WHERE created_at < ?",
			cutoff.UTC().Format(time.RFC3339Nano))
		if execErr != nil {
			return execErr
		}
		removed, execErr = res.RowsAffected()
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return removed, nil
}
