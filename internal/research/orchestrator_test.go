// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package research

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
)

// fakePoller returns scripted replies keyed by research id.
type fakePoller struct {
	mu      sync.Mutex
	replies map[string]*api.ResearchStatus
	errs    map[string]error
	calls   map[string]int
}

func newFakePoller() *fakePoller {
	return &fakePoller{
		replies: make(map[string]*api.ResearchStatus),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakePoller) PollResearch(_ context.Context, researchID string) (*api.ResearchStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[researchID]++
	if err, ok := f.errs[researchID]; ok {
		return nil, err
	}
	if st, ok := f.replies[researchID]; ok {
		return st, nil
	}
	return nil, api.ErrTaskNotFound
}

// recorder collects dispatched actions.
type recorder struct {
	mu      sync.Mutex
	actions []chatlog.Action
}

func (r *recorder) dispatch(a chatlog.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
}

func (r *recorder) all() []chatlog.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chatlog.Action, len(r.actions))
	copy(out, r.actions)
	return out
}

func newTestOrchestrator(viewed string) (*Orchestrator, *fakePoller, *recorder) {
	fp := newFakePoller()
	rec := &recorder{}
	o := New(fp, DefaultConfig(), rec.dispatch, func() string { return viewed })
	return o, fp, rec
}

func TestRegisterAndBusy(t *testing.T) {
	o, _, _ := newTestOrchestrator("s1")

	task := o.Register("s1", Descriptor{
		ResearchID:       "r1",
		PendingMessageID: "msg_p1",
		Status:           "queued",
	})
	if task.Status != StatusQueued {
		t.Errorf("status = %v, want queued", task.Status)
	}
	if !o.Busy("s1") {
		t.Error("session with a live task must be busy")
	}
	if o.Busy("s2") {
		t.Error("session without a task must not be busy")
	}
}

func TestRegisterMintsPlaceholderID(t *testing.T) {
	o, _, _ := newTestOrchestrator("s1")
	task := o.Register("s1", Descriptor{ResearchID: "r1", Status: "running"})
	if task.PendingMessageID == "" {
		t.Error("a placeholder id must be minted when the descriptor lacks one")
	}
}

func TestRegisterGarbledStatusFailsClosed(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "exploded"})

	got, ok := o.Get("s1")
	if !ok || got.Status != StatusFailed {
		t.Fatalf("garbled status must normalize to failed, got %+v", got)
	}
	actions := rec.all()
	if len(actions) != 1 {
		t.Fatalf("expected one terminal action, got %d", len(actions))
	}
	fail, ok := actions[0].(chatlog.TaskFailed)
	if !ok {
		t.Fatalf("expected TaskFailed, got %T", actions[0])
	}
	if fail.ErrorText != GenericFailureMessage {
		t.Errorf("error text = %q", fail.ErrorText)
	}
}

func TestRegisterCompletedWithoutResultFails(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "completed"})

	got, ok := o.Get("s1")
	if !ok || got.Status != StatusFailed {
		t.Fatalf("completed at registration carries no result and must fail, got %+v", got)
	}
	actions := rec.all()
	if len(actions) != 1 {
		t.Fatalf("expected one terminal action, got %d", len(actions))
	}
	fail, ok := actions[0].(chatlog.TaskFailed)
	if !ok {
		t.Fatalf("expected TaskFailed, got %T", actions[0])
	}
	if fail.ErrorText != EmptyResultMessage {
		t.Errorf("error text = %q", fail.ErrorText)
	}
}

func TestPollCompletedResolvesPlaceholder(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.handlePollResult("s1", "r1", &api.ResearchStatus{
		Status: "completed",
		Result: "The findings.",
	}, nil)

	task, ok := o.Get("s1")
	if !ok {
		t.Fatal("terminal task must be kept until acknowledged")
	}
	if task.Status != StatusCompleted || task.FinalText != "The findings." {
		t.Errorf("task = %+v", task)
	}

	actions := rec.all()
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	done, ok := actions[0].(chatlog.TaskDone)
	if !ok {
		t.Fatalf("expected TaskDone, got %T", actions[0])
	}
	if done.Stream != chatlog.StreamKey("s1") {
		t.Errorf("stream = %q", done.Stream)
	}
	if done.PendingMessageID != "msg_p1" || done.Text != "The findings." {
		t.Errorf("action = %+v", done)
	}
	if done.FallbackMessageID == "" {
		t.Error("fallback id must be minted")
	}
}

func TestPollCompletedEmptyResultIsFailure(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.handlePollResult("s1", "r1", &api.ResearchStatus{
		Status: "completed",
		Result: "   \n\t ",
	}, nil)

	task, _ := o.Get("s1")
	if task.Status != StatusFailed {
		t.Fatalf("empty result must fail, got %v", task.Status)
	}
	actions := rec.all()
	fail, ok := actions[len(actions)-1].(chatlog.TaskFailed)
	if !ok {
		t.Fatalf("expected TaskFailed, got %T", actions[len(actions)-1])
	}
	if fail.ErrorText != EmptyResultMessage {
		t.Errorf("error text = %q", fail.ErrorText)
	}
}

func TestPollNotFoundFailsWithMessage(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.handlePollResult("s1", "r1", nil, api.ErrTaskNotFound)

	task, _ := o.Get("s1")
	if task.Status != StatusFailed {
		t.Fatalf("status = %v", task.Status)
	}
	actions := rec.all()
	fail := actions[len(actions)-1].(chatlog.TaskFailed)
	if !strings.Contains(fail.ErrorText, "could not be found") {
		t.Errorf("error text = %q", fail.ErrorText)
	}
}

func TestPollFailedUsesServerError(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.handlePollResult("s1", "r1", &api.ResearchStatus{
		Status: "failed",
		Error:  "pipeline crashed",
	}, nil)

	fail := rec.all()[0].(chatlog.TaskFailed)
	if fail.ErrorText != "pipeline crashed" {
		t.Errorf("error text = %q", fail.ErrorText)
	}
}

func TestPollFailedWithoutErrorUsesGenericMessage(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.handlePollResult("s1", "r1", &api.ResearchStatus{Status: "failed"}, nil)

	fail := rec.all()[0].(chatlog.TaskFailed)
	if fail.ErrorText != GenericFailureMessage {
		t.Errorf("error text = %q", fail.ErrorText)
	}
}

func TestPollTransientErrorReschedules(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})
	before, _ := o.Get("s1")

	o.handlePollResult("s1", "r1", nil, errors.New("connection reset"))

	after, ok := o.Get("s1")
	if !ok || after.Status != StatusRunning {
		t.Fatal("transient error must not terminate the task")
	}
	if after.PollCount != before.PollCount+1 {
		t.Errorf("poll count = %d, want %d", after.PollCount, before.PollCount+1)
	}
	if !after.NextPollAt.After(time.Now()) {
		t.Error("next poll must be rescheduled into the future")
	}
	if len(rec.all()) != 0 {
		t.Error("transient errors must not surface in the transcript")
	}
}

func TestPollProgressUpdatesViewedSession(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "queued"})

	o.handlePollResult("s1", "r1", &api.ResearchStatus{
		Status:          "running",
		CurrentNode:     "gather",
		ProgressMessage: "Collecting sources",
	}, nil)

	task, _ := o.Get("s1")
	if task.Status != StatusRunning || task.CurrentNode != "gather" {
		t.Errorf("task = %+v", task)
	}

	actions := rec.all()
	if len(actions) != 1 {
		t.Fatalf("expected one progress action, got %d", len(actions))
	}
	prog, ok := actions[0].(chatlog.TaskProgress)
	if !ok {
		t.Fatalf("expected TaskProgress, got %T", actions[0])
	}
	if prog.PendingMessageID != "msg_p1" {
		t.Errorf("pending id = %q", prog.PendingMessageID)
	}
	if !strings.Contains(prog.ProgressText, "Collecting sources") {
		t.Errorf("progress text = %q", prog.ProgressText)
	}
}

func TestNonViewedSessionGetsNoActions(t *testing.T) {
	o, _, rec := newTestOrchestrator("other-session")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.handlePollResult("s1", "r1", &api.ResearchStatus{Status: "running"}, nil)
	o.handlePollResult("s1", "r1", &api.ResearchStatus{Status: "completed", Result: "done"}, nil)

	if len(rec.all()) != 0 {
		t.Error("no transcript actions may be emitted for a session not being viewed")
	}
	task, ok := o.Get("s1")
	if !ok || task.Status != StatusCompleted || task.FinalText != "done" {
		t.Errorf("resolved state must be kept for later, got %+v", task)
	}
}

func TestStaleResultIgnored(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r2", PendingMessageID: "msg_p2", Status: "running"})

	// A poll for the old job r1 lands after r2 replaced it.
	o.handlePollResult("s1", "r1", &api.ResearchStatus{Status: "completed", Result: "stale"}, nil)

	task, _ := o.Get("s1")
	if task.Status != StatusRunning || task.ResearchID != "r2" {
		t.Errorf("stale result must not touch the current task, got %+v", task)
	}
	if len(rec.all()) != 0 {
		t.Error("stale results must dispatch nothing")
	}
}

func TestResultForClearedTaskIgnored(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})
	o.Clear("s1")

	o.handlePollResult("s1", "r1", &api.ResearchStatus{Status: "completed", Result: "late"}, nil)

	if _, ok := o.Get("s1"); ok {
		t.Error("cleared task must stay cleared")
	}
	if len(rec.all()) != 0 {
		t.Error("a cleared task's late result must dispatch nothing")
	}
}

func TestPollDueSkipsInflightAndNotDue(t *testing.T) {
	fp := newFakePoller()
	rec := &recorder{}
	o := New(fp, DefaultConfig(), rec.dispatch, func() string { return "" })

	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})
	o.Register("s2", Descriptor{ResearchID: "r2", PendingMessageID: "msg_p2", Status: "running"})

	o.mu.Lock()
	o.tasks["s1"].NextPollAt = time.Now().Add(-time.Second)
	o.tasks["s2"].NextPollAt = time.Now().Add(time.Hour)
	o.inflight["r1"] = true
	o.mu.Unlock()

	o.pollDue(context.Background())
	time.Sleep(50 * time.Millisecond)

	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.calls["r1"] != 0 {
		t.Error("in-flight task must not be polled again")
	}
	if fp.calls["r2"] != 0 {
		t.Error("task not yet due must not be polled")
	}
}

func TestPollDuePollsDueTask(t *testing.T) {
	fp := newFakePoller()
	fp.replies["r1"] = &api.ResearchStatus{Status: "running"}
	rec := &recorder{}
	o := New(fp, DefaultConfig(), rec.dispatch, func() string { return "" })

	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})
	o.mu.Lock()
	o.tasks["s1"].NextPollAt = time.Now().Add(-time.Second)
	o.mu.Unlock()

	o.pollDue(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fp.mu.Lock()
		n := fp.calls["r1"]
		fp.mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	fp.mu.Lock()
	n := fp.calls["r1"]
	fp.mu.Unlock()
	if n != 1 {
		t.Fatalf("poll calls = %d, want 1", n)
	}

	task, _ := o.Get("s1")
	if task.PollCount != 1 {
		t.Errorf("poll count = %d, want 1", task.PollCount)
	}
	o.mu.Lock()
	inflight := o.inflight["r1"]
	o.mu.Unlock()
	if inflight {
		t.Error("in-flight slot must be released after the poll completes")
	}
}

func TestAcknowledgeTerminal(t *testing.T) {
	o, _, _ := newTestOrchestrator("other")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	if o.AcknowledgeTerminal("s1") {
		t.Error("a live task must not be acknowledged away")
	}

	o.handlePollResult("s1", "r1", &api.ResearchStatus{Status: "completed", Result: "done"}, nil)

	if !o.AcknowledgeTerminal("s1") {
		t.Error("terminal task must be removable")
	}
	if o.AcknowledgeTerminal("s1") {
		t.Error("second acknowledge must be a no-op")
	}
	if _, ok := o.Get("s1"); ok {
		t.Error("acknowledged task must be gone")
	}
}

func TestApplySnapshotRegistersOngoingTask(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")

	o.ApplySnapshot("s1", &api.TaskSnapshot{
		ResearchID:       "r1",
		Status:           "running",
		CurrentNode:      "gather",
		ProgressMessage:  "Collecting sources",
		PendingMessageID: "msg_p1",
	})

	task, ok := o.Get("s1")
	if !ok || task.Status != StatusRunning || task.ResearchID != "r1" {
		t.Fatalf("task = %+v", task)
	}

	actions := rec.all()
	if len(actions) != 1 {
		t.Fatalf("expected one action, got %d", len(actions))
	}
	add, ok := actions[0].(chatlog.AddPendingResearch)
	if !ok {
		t.Fatalf("expected AddPendingResearch, got %T", actions[0])
	}
	if add.PendingMessageID != "msg_p1" {
		t.Errorf("pending id = %q", add.PendingMessageID)
	}
}

func TestApplySnapshotNilClearsTask(t *testing.T) {
	o, _, _ := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.ApplySnapshot("s1", nil)

	if _, ok := o.Get("s1"); ok {
		t.Error("nil snapshot must clear the local task")
	}
}

func TestApplySnapshotTerminalClearsTask(t *testing.T) {
	o, _, rec := newTestOrchestrator("s1")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.ApplySnapshot("s1", &api.TaskSnapshot{ResearchID: "r1", Status: "completed"})

	if _, ok := o.Get("s1"); ok {
		t.Error("terminal snapshot must clear the local task")
	}
	if len(rec.all()) != 0 {
		t.Error("the loaded transcript already carries the result")
	}
}

func TestApplySnapshotPreservesScheduleForSameJob(t *testing.T) {
	o, _, _ := newTestOrchestrator("other")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})

	o.mu.Lock()
	o.tasks["s1"].PollCount = 7
	sched := time.Now().Add(3 * time.Second)
	o.tasks["s1"].NextPollAt = sched
	o.mu.Unlock()

	o.ApplySnapshot("s1", &api.TaskSnapshot{ResearchID: "r1", Status: "running"})

	task, _ := o.Get("s1")
	if task.PollCount != 7 {
		t.Errorf("poll count = %d, want 7", task.PollCount)
	}
	if !task.NextPollAt.Equal(sched) {
		t.Errorf("schedule must be preserved for the same job")
	}
	if task.PendingMessageID != "msg_p1" {
		t.Errorf("pending id = %q, want preserved msg_p1", task.PendingMessageID)
	}
}

func TestStatusBySession(t *testing.T) {
	o, _, _ := newTestOrchestrator("other")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})
	o.Register("s2", Descriptor{ResearchID: "r2", PendingMessageID: "msg_p2", Status: "queued"})

	got := o.StatusBySession()
	if len(got) != 2 || got["s1"] != StatusRunning || got["s2"] != StatusQueued {
		t.Errorf("StatusBySession() = %v", got)
	}
}

func TestTerminalTaskDoesNotBlockAcknowledgedSend(t *testing.T) {
	o, _, _ := newTestOrchestrator("other")
	o.Register("s1", Descriptor{ResearchID: "r1", PendingMessageID: "msg_p1", Status: "running"})
	o.handlePollResult("s1", "r1", &api.ResearchStatus{Status: "completed", Result: "done"}, nil)

	if o.Busy("s1") {
		t.Error("a finished task must not block new sends")
	}
}
