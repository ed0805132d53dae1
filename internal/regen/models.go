package regen

import (
	"strings"
	"time"
)

// Trigger identifies what initiated a regeneration job.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// JobStatus is the lifecycle of a regeneration job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// IsTerminal reports whether a job status is final. Terminal jobs are never
// reused or restarted.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	switch JobStatus(strings.ToLower(strings.TrimSpace(value))) {
	case JobQueued:
		return JobQueued, true
	case JobRunning:
		return JobRunning, true
	case JobSucceeded:
		return JobSucceeded, true
	case JobFailed:
		return JobFailed, true
	default:
		return "", false
	}
}

// Job is one regeneration request in flight or completed.
type Job struct {
	ID            string    `json:"id"`
	AudioSourceID string    `json:"audioSourceId"`
	ProfileID     string    `json:"analysisProfileId"`
	DescriptorIDs []string  `json:"descriptorIds"`
	Trigger       Trigger   `json:"trigger"`
	Status        JobStatus `json:"status"`
	ErrorMessage  string    `json:"errorMessage,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HistoryOutcome records how a history action ended.
type HistoryOutcome string

const (
	OutcomeSucceeded HistoryOutcome = "succeeded"
	OutcomeFailed    HistoryOutcome = "failed"
)

// HistoryEntry is one append-only audit record.
type HistoryEntry struct {
	AudioSourceID string         `json:"audioSourceId"`
	ProfileID     string         `json:"analysisProfileId"`
	DescriptorIDs []string       `json:"descriptorIds"`
	Action        string         `json:"action"`
	Outcome       HistoryOutcome `json:"outcome"`
	Detail        string         `json:"detail,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Action labels recorded in history entries.
const (
	ActionManualRegenerate = "manual_regenerate"
	ActionAutoRegenerate   = "auto_regenerate"
	ActionDeleteExtraneous = "delete_extraneous"
)

// ActionForTrigger maps a job trigger to its history action label.
func ActionForTrigger(trigger Trigger) string {
	if trigger == TriggerAuto {
		return ActionAutoRegenerate
	}
	return ActionManualRegenerate
}
