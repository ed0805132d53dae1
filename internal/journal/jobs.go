package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"resona/internal/regen"
)

const jobColumns = "id, audio_source_id, profile_id, descriptor_ids, trigger_kind, status, error_message, created_at, updated_at"

// RecordJob inserts a freshly scheduled job. Recording the same id twice
// overwrites the earlier row.
func (s *Store) RecordJob(job regen.Job) error {
	descriptorIDs, err := encodeDescriptorIDs(job.DescriptorIDs)
	if err != nil {
		return err
	}
	return s.execWithRetry(nil, `
		INSERT INTO regen_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at`,
		job.ID,
		job.AudioSourceID,
		job.ProfileID,
		descriptorIDs,
		string(job.Trigger),
		string(job.Status),
		nullableString(job.ErrorMessage),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
}

// UpdateJob persists status transitions for an existing job.
func (s *Store) UpdateJob(job regen.Job) error {
	return s.execWithRetry(nil, `
		UPDATE regen_jobs
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		string(job.Status),
		nullableString(job.ErrorMessage),
		formatTime(job.UpdatedAt),
		job.ID,
	)
}

// Job returns one job by id, or nil when the id is unknown.
func (s *Store) Job(ctx context.Context, id string) (*regen.Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM regen_jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns all journaled jobs in creation order.
func (s *Store) ListJobs(ctx context.Context) ([]regen.Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM regen_jobs ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []regen.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (*regen.Job, error) {
	var (
		id            string
		audioSourceID string
		profileID     string
		descriptorRaw string
		triggerRaw    string
		statusRaw     string
		errorMessage  sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(
		&id,
		&audioSourceID,
		&profileID,
		&descriptorRaw,
		&triggerRaw,
		&statusRaw,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &regen.Job{
		ID:            id,
		AudioSourceID: audioSourceID,
		ProfileID:     profileID,
		Trigger:       regen.Trigger(triggerRaw),
		ErrorMessage:  errorMessage.String,
	}
	if status, ok := regen.ParseJobStatus(statusRaw); ok {
		job.Status = status
	} else {
		job.Status = regen.JobStatus(statusRaw)
	}
	if err := json.Unmarshal([]byte(descriptorRaw), &job.DescriptorIDs); err != nil {
		return nil, fmt.Errorf("decode descriptor ids for job %s: %w", id, err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func encodeDescriptorIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode descriptor ids: %w", err)
	}
	return string(raw), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		value = time.Now().UTC()
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
