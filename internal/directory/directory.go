// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package directory synchronizes the session list and transcript loads.
//
// Every read operation carries a generation token captured at issue time.
// Issuing a new call of the same class increments the counter and cancels
// the in-flight call; a result is applied only when its token still equals
// the current counter. A slow reply for session A can therefore never
// overwrite the transcript after the user has opened session B.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
	"github.com/averyhale/trawl-tui/internal/model"
)

// Cache is the optional local persistence surface. All cache traffic is
// best-effort: failures are logged and never surfaced. Cached transcripts
// are rendered while the authoritative network load is still in flight.
type Cache interface {
	SaveSessions(sessions []model.Session) error
	SaveTranscript(sessionID string, messages []model.Message) error
	LoadTranscript(sessionID string) ([]model.Message, error)
	DeleteSession(sessionID string) error
}

// TaskReconciler is the slice of the research orchestrator the directory
// drives on transcript loads and session deletion.
type TaskReconciler interface {
	AcknowledgeTerminal(sessionID string) bool
	ApplySnapshot(sessionID string, snap *api.TaskSnapshot)
	Clear(sessionID string)
}

// Snapshot is a read-only view of the directory state.
type Snapshot struct {
	Sessions []model.Session
	Loading  bool

	// Error is the inline banner text for the last failed list fetch,
	// empty when the last fetch succeeded.
	Error string
}

// =============================================================================
// DIRECTORY
// =============================================================================

// Directory owns the session list and issues transcript loads.
type Directory struct {
	mu sync.Mutex

	// loadMu serializes transcript-load dispatches with generation
	// bumps, so a superseded response can never dispatch after its
	// successor's LoadStart. Always acquired before mu.
	loadMu sync.Mutex

	client api.Client
	cache  Cache
	tasks  TaskReconciler

	sessions []model.Session
	loading  bool
	lastErr  string

	// Per-operation-class generation counters and cancel handles.
	listGen        uint64
	listCancel     context.CancelFunc
	loadGen        uint64
	loadCancel     context.CancelFunc
	currentSession string

	// dispatch delivers transcript actions to the front end.
	dispatch func(chatlog.Action)

	// onChange fires after every committed list-state change.
	onChange func(Snapshot)
}

// New creates a directory. cache and tasks may be nil; dispatch and
// onChange may be nil and replaced later.
func New(client api.Client, cache Cache, tasks TaskReconciler, dispatch func(chatlog.Action)) *Directory {
	if dispatch == nil {
		dispatch = func(chatlog.Action) {}
	}
	return &Directory{
		client:   client,
		cache:    cache,
		tasks:    tasks,
		dispatch: dispatch,
		onChange: func(Snapshot) {},
	}
}

// SetOnChange installs the list-change notification callback.
func (d *Directory) SetOnChange(fn func(Snapshot)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		fn = func(Snapshot) {}
	}
	d.onChange = fn
}

// SetDispatch replaces the transcript action dispatcher.
func (d *Directory) SetDispatch(fn func(chatlog.Action)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fn == nil {
		fn = func(chatlog.Action) {}
	}
	d.dispatch = fn
}

// Snapshot returns the current list state.
func (d *Directory) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshotLocked()
}

func (d *Directory) snapshotLocked() Snapshot {
	out := make([]model.Session, len(d.sessions))
	copy(out, d.sessions)
	return Snapshot{Sessions: out, Loading: d.loading, Error: d.lastErr}
}

// CurrentSession returns the session id of the transcript most recently
// opened (empty for a new chat).
func (d *Directory) CurrentSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentSession
}

// AdoptSession marks a session as the current one without loading its
// transcript. Used when sending in a new chat creates a session server
// side: the transcript on screen is already correct, only the identity
// changes.
func (d *Directory) AdoptSession(sessionID string) {
	d.mu.Lock()
	d.currentSession = sessionID
	d.mu.Unlock()
}

// SeedSessions installs a session list without a network round-trip, used
// to show the cached list before the first refresh completes.
func (d *Directory) SeedSessions(sessions []model.Session) {
	d.mu.Lock()
	if d.listGen > 0 || len(d.sessions) > 0 {
		// A real fetch already ran; the seed is obsolete.
		d.mu.Unlock()
		return
	}
	d.sessions = append([]model.Session(nil), sessions...)
	snap := d.snapshotLocked()
	notify := d.onChange
	d.mu.Unlock()
	notify(snap)
}

// =============================================================================
// SESSION LIST
// =============================================================================

// RefreshSessions fetches the session list in the background. A silent
// refresh keeps the current list visible instead of showing a loading
// state. Superseded fetches are cancelled and their results discarded.
func (d *Directory) RefreshSessions(ctx context.Context, silent bool) {
	d.mu.Lock()
	d.listGen++
	gen := d.listGen
	if d.listCancel != nil {
		d.listCancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	d.listCancel = cancel
	if !silent {
		d.loading = true
	}
	snap := d.snapshotLocked()
	notify := d.onChange
	d.mu.Unlock()

	if !silent {
		notify(snap)
	}

	go func() {
		defer cancel()
		sessions, err := d.client.ListSessions(cctx)
		d.applyList(gen, sessions, err)
	}()
}

// applyList commits a list fetch outcome, unless its generation is stale.
func (d *Directory) applyList(gen uint64, sessions []model.Session, err error) {
	d.mu.Lock()
	if gen != d.listGen {
		// Superseded; a newer fetch owns the state now.
		d.mu.Unlock()
		return
	}
	if err != nil {
		d.loading = false
		if errors.Is(err, context.Canceled) {
			d.mu.Unlock()
			return
		}
		d.lastErr = fmt.Sprintf("failed to load sessions: %v", err)
		snap := d.snapshotLocked()
		notify := d.onChange
		d.mu.Unlock()
		notify(snap)
		return
	}
	d.sessions = sessions
	d.loading = false
	d.lastErr = ""
	snap := d.snapshotLocked()
	notify := d.onChange
	d.mu.Unlock()

	notify(snap)
	d.persistSessions(snap.Sessions)
}

func (d *Directory) persistSessions(sessions []model.Session) {
	if d.cache == nil {
		return
	}
	if err := d.cache.SaveSessions(sessions); err != nil {
		log.Printf("directory: session cache write failed: %v", err)
	}
}

// =============================================================================
// TRANSCRIPT LOADS
// =============================================================================

// OpenTranscript switches the view to a session and fetches its transcript
// in the background. Opening cancels any in-flight load; the loading state
// is dispatched immediately so stale content never stays visible, then any
// cached copy of the transcript is shown until the fetch lands. A terminal
// task left over from a background completion is acknowledged at open
// time.
func (d *Directory) OpenTranscript(ctx context.Context, sessionID string) {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	d.mu.Lock()
	d.loadGen++
	gen := d.loadGen
	if d.loadCancel != nil {
		d.loadCancel()
	}
	cctx, cancel := context.WithCancel(ctx)
	d.loadCancel = cancel
	d.currentSession = sessionID
	dispatch := d.dispatch
	d.mu.Unlock()

	dispatch(chatlog.LoadStart{})
	if d.tasks != nil {
		d.tasks.AcknowledgeTerminal(sessionID)
	}

	// Render the cached transcript, if any, while the fetch is on the
	// wire. The network result replaces it through the same generation
	// gate, so a stale cache never outlives the authoritative load.
	if d.cache != nil {
		if cached, err := d.cache.LoadTranscript(sessionID); err == nil && len(cached) > 0 {
			dispatch(chatlog.LoadSuccess{Messages: cached})
		}
	}

	go func() {
		defer cancel()
		tr, err := d.client.LoadTranscript(cctx, sessionID)
		d.applyTranscript(gen, sessionID, tr, err)
	}()
}

// OpenNewChat switches the view to a fresh, unsaved chat.
func (d *Directory) OpenNewChat() {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	d.mu.Lock()
	d.loadGen++
	if d.loadCancel != nil {
		d.loadCancel()
		d.loadCancel = nil
	}
	d.currentSession = ""
	dispatch := d.dispatch
	d.mu.Unlock()

	dispatch(chatlog.Reset{})
}

// applyTranscript commits a transcript fetch outcome, unless superseded.
// The generation is checked under loadMu so a newer open cannot slip its
// LoadStart in between the check and the dispatch below.
func (d *Directory) applyTranscript(gen uint64, sessionID string, tr *api.Transcript, err error) {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	d.mu.Lock()
	if gen != d.loadGen {
		d.mu.Unlock()
		return
	}
	dispatch := d.dispatch
	d.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		dispatch(chatlog.LoadError{Reason: err.Error()})
		return
	}

	dispatch(chatlog.LoadSuccess{Messages: tr.Messages})
	if d.tasks != nil {
		d.tasks.ApplySnapshot(sessionID, tr.ActiveTask)
	}
	if d.cache != nil {
		if err := d.cache.SaveTranscript(sessionID, tr.Messages); err != nil {
			log.Printf("directory: transcript cache write failed: %v", err)
		}
	}
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Rename changes a session's topic. On success the cached list is patched
// in place rather than re-fetched.
func (d *Directory) Rename(ctx context.Context, sessionID, topic string) error {
	if err := d.client.RenameSession(ctx, sessionID, topic); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	d.patch(func(s *model.Session) { s.Topic = topic }, sessionID)
	return nil
}

// Delete removes a session. The local list entry, any tracked research
// task, and the cached transcript for the session are dropped on success.
func (d *Directory) Delete(ctx context.Context, sessionID string) error {
	if err := d.client.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	d.mu.Lock()
	kept := d.sessions[:0:0]
	for _, s := range d.sessions {
		if s.ID != sessionID {
			kept = append(kept, s)
		}
	}
	d.sessions = kept
	if d.currentSession == sessionID {
		d.currentSession = ""
	}
	snap := d.snapshotLocked()
	notify := d.onChange
	d.mu.Unlock()

	if d.tasks != nil {
		d.tasks.Clear(sessionID)
	}
	if d.cache != nil {
		if err := d.cache.DeleteSession(sessionID); err != nil {
			log.Printf("directory: cache delete failed: %v", err)
		}
	}
	notify(snap)
	d.persistSessions(snap.Sessions)
	return nil
}

// Share shares a session with a recipient. Collaborative shares let the
// recipient send messages; otherwise access is read-only.
func (d *Directory) Share(ctx context.Context, sessionID, recipient string, collaborative bool) error {
	if err := d.client.ShareSession(ctx, sessionID, recipient, collaborative); err != nil {
		return fmt.Errorf("share session: %w", err)
	}
	mode := model.ShareModeView
	if collaborative {
		mode = model.ShareModeCollaborate
	}
	d.patch(func(s *model.Session) {
		s.IsShared = true
		s.ShareMode = mode
	}, sessionID)
	return nil
}

// patch applies an in-place edit to one session list entry and notifies.
func (d *Directory) patch(edit func(*model.Session), sessionID string) {
	d.mu.Lock()
	for i := range d.sessions {
		if d.sessions[i].ID == sessionID {
			edit(&d.sessions[i])
			break
		}
	}
	snap := d.snapshotLocked()
	notify := d.onChange
	d.mu.Unlock()

	notify(snap)
	d.persistSessions(snap.Sessions)
}
