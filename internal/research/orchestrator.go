// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package research

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
	"github.com/averyhale/trawl-tui/internal/model"
)

// User-visible terminal messages.
const (
	// NotFoundMessage is used when the backend no longer knows the job.
	NotFoundMessage = "The research task could not be found. It may have expired on the server."

	// EmptyResultMessage is used when a completed job carried no result.
	EmptyResultMessage = "Research completed but returned an empty result."

	// GenericFailureMessage is used when the backend reports failure
	// without an error text.
	GenericFailureMessage = "Research failed. Please try again."
)

// Poller is the slice of the transport the orchestrator needs.
type Poller interface {
	PollResearch(ctx context.Context, researchID string) (*api.ResearchStatus, error)
}

// Descriptor carries the fields of a freshly created or rediscovered task.
type Descriptor struct {
	ResearchID       string
	PendingMessageID string
	Status           string
	CurrentNode      string
	ProgressMessage  string
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator tracks active research tasks, one per session, and polls
// them until they reach a terminal state.
type Orchestrator struct {
	mu sync.Mutex

	cfg    Config
	client Poller

	// tasks maps session id to its task.
	tasks map[string]*Task

	// inflight marks research ids with a poll currently on the wire.
	inflight map[string]bool

	// dispatch delivers chatlog actions to the front end.
	dispatch func(chatlog.Action)

	// viewed returns the session id the user is currently looking at
	// (empty for a new chat).
	viewed func() string
}

// New creates an orchestrator. dispatch and viewed may be nil during setup
// and replaced via SetDispatch/SetViewed before Run.
func New(client Poller, cfg Config, dispatch func(chatlog.Action), viewed func() string) *Orchestrator {
	if dispatch == nil {
		dispatch = func(chatlog.Action) {}
	}
	if viewed == nil {
		viewed = func() string { return "" }
	}
	return &Orchestrator{
		cfg:      cfg,
		client:   client,
		tasks:    make(map[string]*Task),
		inflight: make(map[string]bool),
		dispatch: dispatch,
		viewed:   viewed,
	}
}

// SetDispatch replaces the action dispatcher.
func (o *Orchestrator) SetDispatch(fn func(chatlog.Action)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fn == nil {
		fn = func(chatlog.Action) {}
	}
	o.dispatch = fn
}

// SetViewed replaces the viewed-session hook.
func (o *Orchestrator) SetViewed(fn func() string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fn == nil {
		fn = func() string { return "" }
	}
	o.viewed = fn
}

// =============================================================================
// REGISTRATION AND QUERIES
// =============================================================================

// Register creates or overwrites the task entry for a session. The status
// string is normalized into the four-value enum; anything unrecognized is
// treated as failed so a garbled reply cannot leave a task spinning.
func (o *Orchestrator) Register(sessionID string, d Descriptor) *Task {
	now := time.Now()

	o.mu.Lock()
	task := &Task{
		SessionID:        sessionID,
		ResearchID:       d.ResearchID,
		PendingMessageID: d.PendingMessageID,
		Status:           NormalizeStatus(d.Status),
		CurrentNode:      d.CurrentNode,
		ProgressMessage:  d.ProgressMessage,
		PollCount:        0,
		NextPollAt:       now.Add(o.cfg.Interval(0)),
		StartedAt:        now,
		LastUpdatedAt:    now,
	}
	if task.PendingMessageID == "" {
		task.PendingMessageID = model.NewMessageID()
	}
	o.tasks[sessionID] = task

	var actions []chatlog.Action
	switch task.Status {
	case StatusFailed:
		actions = o.finalizeLocked(task, StatusFailed, GenericFailureMessage)
	case StatusCompleted:
		// A send reply never carries the result payload, so a task that
		// is already completed at registration has nothing to show.
		actions = o.finalizeLocked(task, StatusFailed, EmptyResultMessage)
	}
	clone := task.Clone()
	o.mu.Unlock()

	o.send(actions)
	return clone
}

// Busy reports whether a session has a live (non-terminal) task. Send
// attempts for busy sessions must be rejected upstream.
func (o *Orchestrator) Busy(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[sessionID]
	return ok && !t.Status.Terminal()
}

// Get returns a copy of the session's task, if any.
func (o *Orchestrator) Get(sessionID string) (*Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[sessionID]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// StatusBySession returns a snapshot of task statuses for rendering the
// session list.
func (o *Orchestrator) StatusBySession() map[string]Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]Status, len(o.tasks))
	for id, t := range o.tasks {
		out[id] = t.Status
	}
	return out
}

// AcknowledgeTerminal removes the session's task if it is terminal,
// freeing the mutual-exclusion slot. Safe to call for sessions without a
// task or with an already-cleared one.
func (o *Orchestrator) AcknowledgeTerminal(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[sessionID]
	if !ok || !t.Status.Terminal() {
		return false
	}
	delete(o.tasks, sessionID)
	return true
}

// Clear drops the session's task unconditionally (session deleted, or the
// server said nothing is running).
func (o *Orchestrator) Clear(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tasks, sessionID)
}

// =============================================================================
// SNAPSHOT RECONCILIATION
// =============================================================================

// ApplySnapshot reconciles the task snapshot embedded in a transcript load.
// The server is authoritative: a missing or terminal snapshot clears any
// local entry, an ongoing one registers or updates it. When the loaded
// session is the one being viewed, a pending placeholder is (re)inserted so
// the transcript shows the job in progress.
func (o *Orchestrator) ApplySnapshot(sessionID string, snap *api.TaskSnapshot) {
	o.mu.Lock()

	if snap == nil || NormalizeStatus(snap.Status).Terminal() {
		delete(o.tasks, sessionID)
		o.mu.Unlock()
		return
	}

	now := time.Now()
	existing, ok := o.tasks[sessionID]
	task := &Task{
		SessionID:        sessionID,
		ResearchID:       snap.ResearchID,
		PendingMessageID: snap.PendingMessageID,
		Status:           NormalizeStatus(snap.Status),
		CurrentNode:      snap.CurrentNode,
		ProgressMessage:  snap.ProgressMessage,
		NextPollAt:       now.Add(o.cfg.Interval(0)),
		StartedAt:        now,
		LastUpdatedAt:    now,
	}
	if ok && existing.ResearchID == snap.ResearchID {
		// Same job rediscovered: keep its schedule and history.
		task.PollCount = existing.PollCount
		task.NextPollAt = existing.NextPollAt
		task.StartedAt = existing.StartedAt
		if task.PendingMessageID == "" {
			task.PendingMessageID = existing.PendingMessageID
		}
	}
	if task.PendingMessageID == "" {
		task.PendingMessageID = model.NewMessageID()
	}
	o.tasks[sessionID] = task

	var actions []chatlog.Action
	if o.viewed() == sessionID {
		actions = append(actions, chatlog.AddPendingResearch{
			PendingMessageID: task.PendingMessageID,
			ProgressText:     task.ProgressLine(),
		})
	}
	o.mu.Unlock()

	o.send(actions)
}

// =============================================================================
// POLL SCHEDULING
// =============================================================================

// Run drives the poll scheduler until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollDue(ctx)
		}
	}
}

// pollDue issues one poll for every task whose NextPollAt has elapsed and
// that is not already being polled.
func (o *Orchestrator) pollDue(ctx context.Context) {
	now := time.Now()

	o.mu.Lock()
	var due []*Task
	for _, t := range o.tasks {
		if t.Status.Terminal() || o.inflight[t.ResearchID] || now.Before(t.NextPollAt) {
			continue
		}
		o.inflight[t.ResearchID] = true
		due = append(due, t.Clone())
	}
	o.mu.Unlock()

	for _, t := range due {
		go o.poll(ctx, t.SessionID, t.ResearchID)
	}
}

// poll performs one status request and reconciles the reply.
func (o *Orchestrator) poll(ctx context.Context, sessionID, researchID string) {
	status, err := o.client.PollResearch(ctx, researchID)
	o.handlePollResult(sessionID, researchID, status, err)
}

// handlePollResult folds one poll outcome into the task state. It always
// releases the in-flight slot and re-reads the latest committed task state
// before acting, so a handler can never act on a stale view.
func (o *Orchestrator) handlePollResult(sessionID, researchID string, status *api.ResearchStatus, err error) {
	o.mu.Lock()
	delete(o.inflight, researchID)

	task, ok := o.tasks[sessionID]
	if !ok || task.ResearchID != researchID || task.Status.Terminal() {
		// The task was cleared or replaced while this poll was on the
		// wire; its result no longer matters.
		o.mu.Unlock()
		return
	}

	var actions []chatlog.Action
	now := time.Now()

	switch {
	case err != nil && errors.Is(err, api.ErrTaskNotFound):
		actions = o.finalizeLocked(task, StatusFailed, NotFoundMessage)

	case err != nil && errors.Is(err, context.Canceled):
		// Shutdown; leave the schedule alone.

	case err != nil:
		// Transient transport trouble: keep the task alive and try
		// again on the normal schedule.
		task.PollCount++
		task.NextPollAt = now.Add(o.cfg.Interval(task.PollCount))
		log.Printf("research poll %s failed (attempt %d): %v", researchID, task.PollCount, err)

	default:
		actions = o.reconcileLocked(task, status, now)
	}
	o.mu.Unlock()

	o.send(actions)
}

// reconcileLocked applies a successful poll reply. Must be called with the
// lock held.
func (o *Orchestrator) reconcileLocked(task *Task, status *api.ResearchStatus, now time.Time) []chatlog.Action {
	switch NormalizeStatus(status.Status) {
	case StatusQueued, StatusRunning:
		task.Status = NormalizeStatus(status.Status)
		task.CurrentNode = status.CurrentNode
		if status.ProgressMessage != "" {
			task.ProgressMessage = status.ProgressMessage
		}
		task.PollCount++
		task.NextPollAt = now.Add(o.cfg.Interval(task.PollCount))
		task.LastUpdatedAt = now

		if o.viewed() == task.SessionID {
			return []chatlog.Action{chatlog.TaskProgress{
				PendingMessageID: task.PendingMessageID,
				ProgressText:     task.ProgressLine(),
			}}
		}
		return nil

	case StatusCompleted:
		if strings.TrimSpace(status.Result) == "" {
			return o.finalizeLocked(task, StatusFailed, EmptyResultMessage)
		}
		return o.finalizeLocked(task, StatusCompleted, status.Result)

	default: // StatusFailed, including unrecognized statuses
		text := status.Error
		if text == "" {
			text = GenericFailureMessage
		}
		return o.finalizeLocked(task, StatusFailed, text)
	}
}

// finalizeLocked moves a task to a terminal state and, when its session is
// the one being viewed, produces the transcript action that resolves the
// placeholder. Must be called with the lock held; the returned actions are
// dispatched by the caller after unlocking.
func (o *Orchestrator) finalizeLocked(task *Task, status Status, text string) []chatlog.Action {
	task.Status = status
	task.FinalText = text
	task.LastUpdatedAt = time.Now()

	if o.viewed() != task.SessionID {
		// The user is elsewhere; keep the resolved state for when they
		// come back, but never touch the transcript they are looking at.
		return nil
	}

	stream := chatlog.StreamKey(task.SessionID)
	if status == StatusCompleted {
		return []chatlog.Action{chatlog.TaskDone{
			Stream:            stream,
			PendingMessageID:  task.PendingMessageID,
			Text:              text,
			FallbackMessageID: model.NewMessageID(),
		}}
	}
	return []chatlog.Action{chatlog.TaskFailed{
		Stream:            stream,
		PendingMessageID:  task.PendingMessageID,
		ErrorText:         text,
		FallbackMessageID: model.NewMessageID(),
	}}
}

// send dispatches actions outside the lock.
func (o *Orchestrator) send(actions []chatlog.Action) {
	for _, a := range actions {
		o.dispatch(a)
	}
}
