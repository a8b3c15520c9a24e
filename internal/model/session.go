// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by the trawl core.
package model

import (
	"strings"
	"time"
)

// =============================================================================
// SHARE MODE
// =============================================================================

// ShareMode describes how a shared session is exposed to its recipient.
type ShareMode string

const (
	// ShareModeView grants read-only access to the transcript.
	ShareModeView ShareMode = "view"

	// ShareModeCollaborate lets the recipient send messages as well.
	ShareModeCollaborate ShareMode = "collaborate"
)

// =============================================================================
// SESSION TYPE
// =============================================================================

// Session is a single conversation in the workspace directory.
//
// Sessions are owned by the directory synchronizer; other components
// reference them by id only, never by embedded value, so there is exactly
// one mutable copy of each session in the process.
type Session struct {
	ID        string    `json:"id"`
	Topic     string    `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
	IsShared  bool      `json:"is_shared"`
	SharedBy  string    `json:"shared_by,omitempty"`
	ShareMode ShareMode `json:"share_mode,omitempty"`
}

// DisplayTopic returns the topic, or a placeholder for untitled sessions.
func (s Session) DisplayTopic() string {
	topic := strings.TrimSpace(s.Topic)
	if topic == "" {
		return "Untitled conversation"
	}
	return topic
}
