// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the trawl core.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser Sender = "user"

	SenderAssistant Sender = "assistant"

	// SenderAssistantError marks an assistant turn that ended in failure
	// (send error, failed research job). Rendered as an error row but kept
	// in transcript order.
	SenderAssistantError Sender = "assistant-error"

	// SenderSystemError marks a workspace-level failure, such as a
	// transcript that could not be loaded at all.
	SenderSystemError Sender = "system-error"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	case SenderAssistantError, SenderSystemError:
		return "Error"
	default:
		return string(s)
	}
}

// IsError reports whether the sender represents a failure row.
func (s Sender) IsError() bool {
	return s == SenderAssistantError || s == SenderSystemError
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status tracks the resolution of a message. The zero value means the
// message needed no resolution (plain user or loaded messages).
type Status string

const (
	// StatusPending marks a placeholder awaiting a synchronous reply or a
	// research outcome. Pending messages are mutated in place by id so
	// their position in the transcript never changes.
	StatusPending Status = "pending"

	StatusDone Status = "done"

	StatusError Status = "error"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single row in a conversation transcript.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Status    Status    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message with a generated id.
func NewMessage(sender Sender, text string) Message {
	return Message{
		ID:        NewMessageID(),
		Sender:    sender,
		Text:      text,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a user message.
func NewUserMessage(text string) Message {
	return NewMessage(SenderUser, text)
}

// NewPendingMessage creates an assistant placeholder awaiting resolution.
func NewPendingMessage(text string) Message {
	m := NewMessage(SenderAssistant, text)
	m.Status = StatusPending
	return m
}

// NewSystemError creates a workspace-level error row.
func NewSystemError(text string) Message {
	m := NewMessage(SenderSystemError, text)
	m.Status = StatusError
	return m
}

// IsPending reports whether the message is an unresolved placeholder.
func (m Message) IsPending() bool {
	return m.Status == StatusPending
}

// Preview returns a single-line truncated preview of the message text.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	line := m.Text
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	runes := []rune(line)
	if len(runes) <= maxLen {
		return line
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// ID GENERATION
// =============================================================================

// NewMessageID creates a unique message id.
func NewMessageID() string {
	return "msg_" + uuid.NewString()
}
