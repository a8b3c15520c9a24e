// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP client for the trawl backend.
package api

import (
	"context"
	"fmt"

	"github.com/averyhale/trawl-tui/internal/model"
)

// =============================================================================
// CLIENT INTERFACE
// =============================================================================

// Client is the transport surface the core consumes. The HTTP
// implementation lives in this package; tests elsewhere substitute fakes.
type Client interface {
	// SendMessage submits a chat message. The reply is either an
	// immediate assistant message or a deferred research task.
	SendMessage(ctx context.Context, req SendRequest) (*SendResult, error)

	// ListSessions fetches the session directory.
	ListSessions(ctx context.Context) ([]model.Session, error)

	// LoadTranscript fetches one session's ordered messages plus a
	// snapshot of its ongoing research task, if any.
	LoadTranscript(ctx context.Context, sessionID string) (*Transcript, error)

	// PollResearch fetches the status of a research job. Returns
	// ErrTaskNotFound when the job no longer exists server-side.
	PollResearch(ctx context.Context, researchID string) (*ResearchStatus, error)

	// RenameSession changes a session's topic.
	RenameSession(ctx context.Context, sessionID, topic string) error

	// DeleteSession removes a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// ShareSession shares a session with a recipient, optionally
	// collaboratively.
	ShareSession(ctx context.Context, sessionID, recipient string, collaborative bool) error
}

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

// SendRequest is one outgoing chat message.
type SendRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`

	// ForceResearch asks the backend to run the message as a background
	// research job regardless of its own routing. Set when the user used
	// the composer directive.
	ForceResearch bool `json:"force_research,omitempty"`
}

// ResultKind distinguishes the two reply shapes of the send endpoint.
type ResultKind string

const (
	// ResultMessage is an immediate assistant reply.
	ResultMessage ResultKind = "message"

	// ResultTask is a deferred research job to be polled.
	ResultTask ResultKind = "task"
)

// SendResult is the reply to SendMessage.
type SendResult struct {
	Kind      ResultKind `json:"kind"`
	SessionID string     `json:"session_id"`

	// Message reply.
	Text string `json:"text,omitempty"`

	// Task reply.
	ResearchID      string `json:"research_id,omitempty"`
	Status          string `json:"status,omitempty"`
	ProgressMessage string `json:"progress_message,omitempty"`
}

// Transcript is the reply to LoadTranscript.
type Transcript struct {
	Messages   []model.Message `json:"messages"`
	ActiveTask *TaskSnapshot   `json:"active_task,omitempty"`
}

// TaskSnapshot describes an ongoing research job as embedded in a
// transcript load. The server is authoritative: absence of a snapshot
// means no job is running for the session.
type TaskSnapshot struct {
	ResearchID       string `json:"research_id"`
	Status           string `json:"status"`
	CurrentNode      string `json:"current_node,omitempty"`
	ProgressMessage  string `json:"progress_message,omitempty"`
	PendingMessageID string `json:"pending_message_id,omitempty"`
}

// ResearchStatus is the reply to PollResearch.
type ResearchStatus struct {
	Status          string `json:"status"`
	CurrentNode     string `json:"current_node,omitempty"`
	ProgressMessage string `json:"progress_message,omitempty"`
	Result          string `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
}

// =============================================================================
// API ERROR
// =============================================================================

// APIError is a non-2xx reply from the backend.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
}
