// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package research

import (
	"strings"
	"time"
)

// =============================================================================
// TASK STATUS
// =============================================================================

// Status represents the current state of a research task.
type Status string

const (
	// StatusQueued indicates the job is waiting to start server-side.
	StatusQueued Status = "queued"

	// StatusRunning indicates the job is executing.
	StatusRunning Status = "running"

	// StatusCompleted indicates the job finished with a result.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the job ended in error.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// NormalizeStatus maps a server-provided status string onto the four-value
// enum. Unrecognized strings normalize to StatusFailed: a task whose state
// we cannot interpret must not be polled forever.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending":
		return StatusQueued
	case "running", "in_progress":
		return StatusRunning
	case "completed", "complete", "done":
		return StatusCompleted
	case "failed", "error":
		return StatusFailed
	default:
		return StatusFailed
	}
}

// =============================================================================
// TASK STRUCTURE
// =============================================================================

// Task is the client-side record of one research job. Tasks are owned and
// mutated exclusively by the Orchestrator; callers only ever see copies.
type Task struct {
	// SessionID is the owning session; one live task per session.
	SessionID string

	// ResearchID identifies the job server-side.
	ResearchID string

	// PendingMessageID is the transcript placeholder this task resolves.
	PendingMessageID string

	Status Status

	// CurrentNode is the pipeline stage reported by the backend.
	CurrentNode string

	// ProgressMessage is the human-readable progress line.
	ProgressMessage string

	// FinalText is the result or error text once Status is terminal.
	FinalText string

	// PollCount is the number of non-terminal polls completed so far.
	PollCount int

	// NextPollAt is when the task becomes due for its next poll.
	NextPollAt time.Time

	StartedAt     time.Time
	LastUpdatedAt time.Time
}

// ProgressLine renders the task's progress for display in a placeholder.
func (t *Task) ProgressLine() string {
	msg := t.ProgressMessage
	if msg == "" {
		switch t.Status {
		case StatusQueued:
			msg = "Research queued. This may take several minutes."
		default:
			msg = "Researching..."
		}
	}
	if t.CurrentNode != "" {
		return msg + " (" + t.CurrentNode + ")"
	}
	return msg
}

// Clone returns a copy safe to hand outside the orchestrator.
func (t *Task) Clone() *Task {
	c := *t
	return &c
}

// =============================================================================
// POLLING CONFIG
// =============================================================================

// Config holds polling configuration for the orchestrator.
type Config struct {
	// TickInterval is how often the scheduler scans for due tasks.
	TickInterval time.Duration

	// FastInterval is the poll interval for young tasks.
	FastInterval time.Duration

	// SlowInterval is the poll interval once a task has exceeded
	// SlowAfter polls. The shipped defaults make the two intervals
	// identical; the switch is kept as a tuning seam.
	SlowInterval time.Duration

	// SlowAfter is the poll count past which SlowInterval applies.
	SlowAfter int
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		FastInterval: 5 * time.Second,
		SlowInterval: 5 * time.Second,
		SlowAfter:    24,
	}
}

// Interval returns the poll interval for a task with the given poll count.
func (c Config) Interval(pollCount int) time.Duration {
	if pollCount > c.SlowAfter {
		return c.SlowInterval
	}
	return c.FastInterval
}
