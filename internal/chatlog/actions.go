// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatlog implements the transcript state machine.
package chatlog

import "github.com/averyhale/trawl-tui/internal/model"

// =============================================================================
// ACTION TYPES
// =============================================================================

// Action is one transcript transition. The set of implementations in this
// file is closed; Apply handles every one of them.
type Action interface {
	isAction()
}

// Reset clears the transcript for a fresh new chat.
type Reset struct{}

// LoadStart begins a transcript fetch: the log empties and shows loading,
// so stale content is never visible during the fetch.
type LoadStart struct{}

// LoadSuccess replaces the transcript with a freshly loaded one.
type LoadSuccess struct {
	Messages []model.Message
}

// LoadError replaces the transcript with a single synthetic error row.
type LoadError struct {
	Reason string
}

// SendStart appends a user message and a pending assistant placeholder
// atomically, and marks the stream as generating.
type SendStart struct {
	Stream           string
	UserMessageID    string
	UserText         string
	PendingMessageID string
}

// SendSuccess resolves the placeholder in place with the reply text.
type SendSuccess struct {
	Stream           string
	PendingMessageID string
	Text             string
}

// SendError resolves the placeholder in place as a failure.
type SendError struct {
	Stream           string
	PendingMessageID string
	ErrorText        string
}

// TaskQueued rewrites the placeholder to the queued-progress text and
// clears the stream's generating flag: from here on the research
// orchestrator, not the synchronous send path, owns "something is
// happening" for this stream.
type TaskQueued struct {
	Stream           string
	PendingMessageID string
	ProgressText     string
}

// TaskProgress updates the placeholder's progress text. Applied only while
// the placeholder is still pending; progress arriving after a terminal
// resolution is a no-op.
type TaskProgress struct {
	PendingMessageID string
	ProgressText     string
}

// TaskDone resolves a research job successfully. If the placeholder no
// longer exists (the session was reloaded meanwhile), a terminal message
// with FallbackMessageID is appended instead, unless the transcript
// already ends with an identical assistant message.
type TaskDone struct {
	Stream            string
	PendingMessageID  string
	Text              string
	FallbackMessageID string
}

// TaskFailed resolves a research job as a failure. Fallback semantics
// mirror TaskDone.
type TaskFailed struct {
	Stream            string
	PendingMessageID  string
	ErrorText         string
	FallbackMessageID string
}

// AddPendingResearch idempotently inserts a placeholder for a research job
// discovered on session load (re-attach after reload or session switch).
type AddPendingResearch struct {
	PendingMessageID string
	ProgressText     string
}

func (Reset) isAction()              {}
func (LoadStart) isAction()          {}
func (LoadSuccess) isAction()        {}
func (LoadError) isAction()          {}
func (SendStart) isAction()          {}
func (SendSuccess) isAction()        {}
func (SendError) isAction()          {}
func (TaskQueued) isAction()         {}
func (TaskProgress) isAction()       {}
func (TaskDone) isAction()           {}
func (TaskFailed) isAction()         {}
func (AddPendingResearch) isAction() {}
