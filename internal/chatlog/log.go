// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatlog implements the transcript state machine.
package chatlog

import (
	"strings"
	"time"

	"github.com/averyhale/trawl-tui/internal/model"
)

// NewChatStream is the stream key for a conversation that has not been
// assigned a session id yet. Established sessions use their session id as
// the stream key (see StreamKey).
const NewChatStream = "new-chat"

// StreamKey maps a session id to its stream key.
func StreamKey(sessionID string) string {
	if sessionID == "" {
		return NewChatStream
	}
	return sessionID
}

// =============================================================================
// STATE
// =============================================================================

// State is the complete transcript state. Treat values as immutable:
// the only way to produce a new State is Apply.
type State struct {
	// Messages is the ordered transcript.
	Messages []model.Message

	// Loading is true while a transcript fetch is in flight.
	Loading bool

	// Generating tracks the synchronous send placeholder per stream.
	// Research jobs do not keep this set; their liveness is owned by the
	// research orchestrator.
	Generating map[string]bool
}

// NewState returns an empty transcript state.
func NewState() State {
	return State{Generating: map[string]bool{}}
}

// IsGenerating reports whether a synchronous send is outstanding on the
// given stream.
func (s State) IsGenerating(stream string) bool {
	return s.Generating[stream]
}

// Find returns the index of the message with the given id, or -1.
func (s State) Find(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// TRANSITION FUNCTION
// =============================================================================

// Apply executes one action against the state and returns the resulting
// state. The input state is never modified. Actions with no effect return
// the input state as-is.
func Apply(s State, action Action) State {
	switch a := action.(type) {
	case Reset:
		return State{Generating: s.Generating}

	case LoadStart:
		next := s
		next.Messages = nil
		next.Loading = true
		return next

	case LoadSuccess:
		next := s
		next.Messages = a.Messages
		next.Loading = false
		return next

	case LoadError:
		next := s
		next.Messages = []model.Message{model.NewSystemError(a.Reason)}
		next.Loading = false
		return next

	case SendStart:
		next := s
		user := model.Message{
			ID:        a.UserMessageID,
			Sender:    model.SenderUser,
			Text:      a.UserText,
			Timestamp: time.Now(),
		}
		pending := model.Message{
			ID:        a.PendingMessageID,
			Sender:    model.SenderAssistant,
			Status:    model.StatusPending,
			Timestamp: time.Now(),
		}
		next.Messages = append(cloneMessages(s.Messages), user, pending)
		next.Generating = setGenerating(s.Generating, a.Stream, true)
		return next

	case SendSuccess:
		next := resolvePlaceholder(s, a.PendingMessageID, model.SenderAssistant, model.StatusDone, a.Text)
		next.Generating = setGenerating(next.Generating, a.Stream, false)
		return next

	case SendError:
		next := resolvePlaceholder(s, a.PendingMessageID, model.SenderAssistantError, model.StatusError, a.ErrorText)
		next.Generating = setGenerating(next.Generating, a.Stream, false)
		return next

	case TaskQueued:
		next := rewritePending(s, a.PendingMessageID, a.ProgressText)
		next.Generating = setGenerating(next.Generating, a.Stream, false)
		return next

	case TaskProgress:
		i := s.Find(a.PendingMessageID)
		if i < 0 || !s.Messages[i].IsPending() {
			// Progress after terminal resolution: nothing to do.
			return s
		}
		next := s
		next.Messages = cloneMessages(s.Messages)
		next.Messages[i].Text = a.ProgressText
		return next

	case TaskDone:
		return resolveTask(s, a.Stream, a.PendingMessageID, a.FallbackMessageID,
			model.SenderAssistant, model.StatusDone, a.Text)

	case TaskFailed:
		return resolveTask(s, a.Stream, a.PendingMessageID, a.FallbackMessageID,
			model.SenderAssistantError, model.StatusError, a.ErrorText)

	case AddPendingResearch:
		if s.Find(a.PendingMessageID) >= 0 {
			return s
		}
		next := s
		placeholder := model.Message{
			ID:        a.PendingMessageID,
			Sender:    model.SenderAssistant,
			Text:      a.ProgressText,
			Status:    model.StatusPending,
			Timestamp: time.Now(),
		}
		next.Messages = append(cloneMessages(s.Messages), placeholder)
		return next
	}

	return s
}

// =============================================================================
// TRANSITION HELPERS
// =============================================================================

// resolvePlaceholder rewrites the message with the given id to a terminal
// sender/status/text. If the id is gone the state passes through unchanged
// apart from whatever the caller does with the generating flag.
func resolvePlaceholder(s State, id string, sender model.Sender, status model.Status, text string) State {
	i := s.Find(id)
	if i < 0 {
		return s
	}
	next := s
	next.Messages = cloneMessages(s.Messages)
	next.Messages[i].Sender = sender
	next.Messages[i].Status = status
	next.Messages[i].Text = text
	return next
}

// rewritePending replaces the text of a still-pending placeholder.
func rewritePending(s State, id, text string) State {
	i := s.Find(id)
	if i < 0 || !s.Messages[i].IsPending() {
		return s
	}
	next := s
	next.Messages = cloneMessages(s.Messages)
	next.Messages[i].Text = text
	return next
}

// resolveTask folds a terminal research outcome into the transcript.
//
// The common case mutates the placeholder in place. If the placeholder was
// removed by an intervening reload, a terminal message is appended under
// fallbackID instead, unless the transcript already ends with a message
// carrying the same trimmed text, which happens when a reload raced the
// resolution and the server already included the result.
func resolveTask(s State, stream, pendingID, fallbackID string, sender model.Sender, status model.Status, text string) State {
	if i := s.Find(pendingID); i >= 0 {
		next := s
		next.Messages = cloneMessages(s.Messages)
		next.Messages[i].Sender = sender
		next.Messages[i].Status = status
		next.Messages[i].Text = text
		next.Generating = setGenerating(next.Generating, stream, false)
		return next
	}

	next := s
	if n := len(s.Messages); n > 0 {
		last := s.Messages[n-1]
		if last.Sender != model.SenderUser &&
			strings.TrimSpace(last.Text) == strings.TrimSpace(text) {
			next.Generating = setGenerating(next.Generating, stream, false)
			return next
		}
	}

	terminal := model.Message{
		ID:        fallbackID,
		Sender:    sender,
		Status:    status,
		Text:      text,
		Timestamp: time.Now(),
	}
	next.Messages = append(cloneMessages(s.Messages), terminal)
	next.Generating = setGenerating(next.Generating, stream, false)
	return next
}

// cloneMessages copies the transcript slice so the previous state value
// stays intact.
func cloneMessages(msgs []model.Message) []model.Message {
	out := make([]model.Message, len(msgs))
	copy(out, msgs)
	return out
}

// setGenerating returns a map with the stream flag updated, copying only
// when the value actually changes.
func setGenerating(m map[string]bool, stream string, v bool) map[string]bool {
	if m[stream] == v {
		return m
	}
	out := make(map[string]bool, len(m)+1)
	for k, val := range m {
		out[k] = val
	}
	if v {
		out[stream] = true
	} else {
		delete(out, stream)
	}
	return out
}
