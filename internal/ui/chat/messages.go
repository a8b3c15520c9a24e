// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
	"github.com/averyhale/trawl-tui/internal/directory"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// ActionMsg carries one transcript action into the update loop. It is the
// single entry point for every component that mutates the transcript: the
// directory synchronizer and the research orchestrator both dispatch
// through it, so all transcript transitions happen on the Bubble Tea
// goroutine.
type ActionMsg struct {
	Action chatlog.Action
}

// DirectoryMsg carries a fresh session-list snapshot from the directory
// synchronizer.
type DirectoryMsg struct {
	Snapshot directory.Snapshot
}

// SendResultMsg is the outcome of one SendMessage call. Stream and
// PendingMessageID identify the placeholder minted at send time;
// RequestedSessionID is the session id the request carried (empty for a
// new chat), which lets the handler detect server-side session creation.
type SendResultMsg struct {
	Stream             string
	PendingMessageID   string
	RequestedSessionID string
	Result             *api.SendResult
	Err                error
}

// MutationResultMsg is the outcome of a session mutation (rename, delete,
// share). Verb names the operation for the status line.
type MutationResultMsg struct {
	Verb string
	Err  error
}

// statusClearMsg clears a transient status line after its display window.
type statusClearMsg struct {
	seq uint64
}

// =============================================================================
// COMMANDS
// =============================================================================

// sendMessageCmd performs one synchronous send against the backend. The
// placeholder ids are captured here so the result can be matched to the
// transcript rows created by SendStart even after the user switches
// sessions.
func sendMessageCmd(client api.Client, req api.SendRequest, stream, pendingID string) tea.Cmd {
	return func() tea.Msg {
		res, err := client.SendMessage(context.Background(), req)
		return SendResultMsg{
			Stream:             stream,
			PendingMessageID:   pendingID,
			RequestedSessionID: req.SessionID,
			Result:             res,
			Err:                err,
		}
	}
}

// refreshSessionsCmd asks the directory for a fresh session list. The
// directory delivers the result through its own change callback, so the
// command itself produces no message.
func refreshSessionsCmd(dir *directory.Directory, silent bool) tea.Cmd {
	return func() tea.Msg {
		dir.RefreshSessions(context.Background(), silent)
		return nil
	}
}

// openTranscriptCmd loads a session transcript. Like refreshSessionsCmd,
// results arrive as dispatched transcript actions, not as a command
// message.
func openTranscriptCmd(dir *directory.Directory, sessionID string) tea.Cmd {
	return func() tea.Msg {
		dir.OpenTranscript(context.Background(), sessionID)
		return nil
	}
}

// renameSessionCmd renames a session and reports the outcome.
func renameSessionCmd(dir *directory.Directory, sessionID, topic string) tea.Cmd {
	return func() tea.Msg {
		return MutationResultMsg{Verb: "rename", Err: dir.Rename(context.Background(), sessionID, topic)}
	}
}

// deleteSessionCmd deletes a session and reports the outcome.
func deleteSessionCmd(dir *directory.Directory, sessionID string) tea.Cmd {
	return func() tea.Msg {
		return MutationResultMsg{Verb: "delete", Err: dir.Delete(context.Background(), sessionID)}
	}
}

// shareSessionCmd shares a session with a recipient and reports the
// outcome.
func shareSessionCmd(dir *directory.Directory, sessionID, recipient string, collaborative bool) tea.Cmd {
	return func() tea.Msg {
		return MutationResultMsg{Verb: "share", Err: dir.Share(context.Background(), sessionID, recipient, collaborative)}
	}
}

// clearStatusCmd schedules a status-line clear. The sequence number makes
// an old timer a no-op when a newer status has replaced the line.
func clearStatusCmd(seq uint64, after time.Duration) tea.Cmd {
	return tea.Tick(after, func(time.Time) tea.Msg {
		return statusClearMsg{seq: seq}
	})
}
