// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package directory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/averyhale/trawl-tui/internal/api"
	"github.com/averyhale/trawl-tui/internal/chatlog"
	"github.com/averyhale/trawl-tui/internal/model"
)

// fakeClient implements api.Client with scripted replies. A per-session
// gate channel can hold a LoadTranscript call open to simulate a slow
// response.
type fakeClient struct {
	mu          sync.Mutex
	sessions    []model.Session
	listErr     error
	transcripts map[string]*api.Transcript
	loadErr     error
	gates       map[string]chan struct{}

	renamed []string
	deleted []string
	shared  []string
	mutErr  error

	loads int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		transcripts: make(map[string]*api.Transcript),
		gates:       make(map[string]chan struct{}),
	}
}

func (f *fakeClient) gate(sessionID string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[sessionID] = ch
	return ch
}

func (f *fakeClient) SendMessage(context.Context, api.SendRequest) (*api.SendResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) ListSessions(context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.Session(nil), f.sessions...), nil
}

func (f *fakeClient) loadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func (f *fakeClient) LoadTranscript(_ context.Context, sessionID string) (*api.Transcript, error) {
	f.mu.Lock()
	f.loads++
	g := f.gates[sessionID]
	f.mu.Unlock()
	if g != nil {
		<-g
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if tr, ok := f.transcripts[sessionID]; ok {
		return tr, nil
	}
	return &api.Transcript{}, nil
}

func (f *fakeClient) PollResearch(context.Context, string) (*api.ResearchStatus, error) {
	return nil, api.ErrTaskNotFound
}

func (f *fakeClient) RenameSession(_ context.Context, sessionID, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return f.mutErr
	}
	f.renamed = append(f.renamed, sessionID+":"+topic)
	return nil
}

func (f *fakeClient) DeleteSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return f.mutErr
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeClient) ShareSession(_ context.Context, sessionID, recipient string, collaborative bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mutErr != nil {
		return f.mutErr
	}
	f.shared = append(f.shared, sessionID+":"+recipient)
	return nil
}

// actionSink records dispatched chatlog actions.
type actionSink struct {
	mu      sync.Mutex
	actions []chatlog.Action
}

func (s *actionSink) dispatch(a chatlog.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, a)
}

func (s *actionSink) all() []chatlog.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chatlog.Action, len(s.actions))
	copy(out, s.actions)
	return out
}

func (s *actionSink) waitFor(t *testing.T, match func(chatlog.Action) bool) chatlog.Action {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, a := range s.all() {
			if match(a) {
				return a
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected action never dispatched; got %v", s.all())
	return nil
}

// fakeReconciler records orchestrator calls.
type fakeReconciler struct {
	mu           sync.Mutex
	acknowledged []string
	snapshots    map[string]*api.TaskSnapshot
	cleared      []string
}

func newFakeReconciler() *fakeReconciler {
	return &fakeReconciler{snapshots: make(map[string]*api.TaskSnapshot)}
}

func (r *fakeReconciler) AcknowledgeTerminal(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acknowledged = append(r.acknowledged, sessionID)
	return false
}

func (r *fakeReconciler) ApplySnapshot(sessionID string, snap *api.TaskSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[sessionID] = snap
}

func (r *fakeReconciler) Clear(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = append(r.cleared, sessionID)
}

// fakeCache implements Cache in memory.
type fakeCache struct {
	mu          sync.Mutex
	sessions    []model.Session
	transcripts map[string][]model.Message
	deleted     []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{transcripts: make(map[string][]model.Message)}
}

func (c *fakeCache) SaveSessions(sessions []model.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append([]model.Session(nil), sessions...)
	return nil
}

func (c *fakeCache) SaveTranscript(sessionID string, messages []model.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcripts[sessionID] = append([]model.Message(nil), messages...)
	return nil
}

func (c *fakeCache) LoadTranscript(sessionID string) ([]model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.transcripts[sessionID]
	if !ok {
		return nil, errors.New("not cached")
	}
	return append([]model.Message(nil), msgs...), nil
}

func (c *fakeCache) DeleteSession(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.transcripts, sessionID)
	c.deleted = append(c.deleted, sessionID)
	return nil
}

func waitForSnapshot(t *testing.T, d *Directory, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := d.Snapshot()
		if cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("directory never reached expected state: %+v", d.Snapshot())
	return Snapshot{}
}

func TestRefreshSessionsPopulatesList(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1", Topic: "Alpha"}, {ID: "s2", Topic: "Beta"}}
	d := New(fc, nil, nil, nil)

	d.RefreshSessions(context.Background(), false)

	snap := waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 2 && !s.Loading })
	if snap.Sessions[0].ID != "s1" || snap.Sessions[1].ID != "s2" {
		t.Errorf("sessions = %+v", snap.Sessions)
	}
	if snap.Error != "" {
		t.Errorf("error = %q", snap.Error)
	}
}

func TestRefreshSessionsSurfacesError(t *testing.T) {
	fc := newFakeClient()
	fc.listErr = errors.New("backend down")
	d := New(fc, nil, nil, nil)

	d.RefreshSessions(context.Background(), false)

	snap := waitForSnapshot(t, d, func(s Snapshot) bool { return s.Error != "" })
	if !strings.Contains(snap.Error, "backend down") {
		t.Errorf("error = %q", snap.Error)
	}
	if snap.Loading {
		t.Error("loading must clear on failure")
	}
}

func TestRefreshSessionsErrorClearedOnSuccess(t *testing.T) {
	fc := newFakeClient()
	fc.listErr = errors.New("backend down")
	d := New(fc, nil, nil, nil)

	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return s.Error != "" })

	fc.mu.Lock()
	fc.listErr = nil
	fc.sessions = []model.Session{{ID: "s1"}}
	fc.mu.Unlock()

	d.RefreshSessions(context.Background(), false)
	snap := waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 })
	if snap.Error != "" {
		t.Errorf("error must clear on success, got %q", snap.Error)
	}
}

func TestSilentRefreshKeepsLoadingFalse(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1"}}
	d := New(fc, nil, nil, nil)

	d.RefreshSessions(context.Background(), true)
	if d.Snapshot().Loading {
		t.Error("silent refresh must not flip the loading flag")
	}
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 })
}

func TestOpenTranscriptDispatchesLoadFlow(t *testing.T) {
	fc := newFakeClient()
	fc.transcripts["s1"] = &api.Transcript{
		Messages: []model.Message{model.NewUserMessage("hi")},
	}
	sink := &actionSink{}
	rec := newFakeReconciler()
	d := New(fc, nil, rec, sink.dispatch)

	d.OpenTranscript(context.Background(), "s1")

	if got := d.CurrentSession(); got != "s1" {
		t.Errorf("current session = %q", got)
	}

	a := sink.waitFor(t, func(a chatlog.Action) bool {
		_, ok := a.(chatlog.LoadSuccess)
		return ok
	})
	success := a.(chatlog.LoadSuccess)
	if len(success.Messages) != 1 || success.Messages[0].Text != "hi" {
		t.Errorf("loaded messages = %+v", success.Messages)
	}

	first := sink.all()[0]
	if _, ok := first.(chatlog.LoadStart); !ok {
		t.Errorf("first action = %T, want LoadStart", first)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.acknowledged) != 1 || rec.acknowledged[0] != "s1" {
		t.Errorf("acknowledged = %v", rec.acknowledged)
	}
	if _, ok := rec.snapshots["s1"]; !ok {
		t.Error("snapshot must be reconciled on load")
	}
}

func TestOpenTranscriptStaleResponseDiscarded(t *testing.T) {
	fc := newFakeClient()
	gateA := fc.gate("a")
	fc.transcripts["a"] = &api.Transcript{Messages: []model.Message{model.NewUserMessage("from a")}}
	fc.transcripts["b"] = &api.Transcript{Messages: []model.Message{model.NewUserMessage("from b")}}
	sink := &actionSink{}
	d := New(fc, nil, nil, sink.dispatch)

	d.OpenTranscript(context.Background(), "a")
	d.OpenTranscript(context.Background(), "b")

	sink.waitFor(t, func(a chatlog.Action) bool {
		s, ok := a.(chatlog.LoadSuccess)
		return ok && len(s.Messages) == 1 && s.Messages[0].Text == "from b"
	})

	// Now let the slow response for a land. It must be discarded.
	close(gateA)
	time.Sleep(50 * time.Millisecond)

	for _, a := range sink.all() {
		if s, ok := a.(chatlog.LoadSuccess); ok && len(s.Messages) > 0 && s.Messages[0].Text == "from a" {
			t.Fatal("stale transcript response must never be applied")
		}
	}
	if got := d.CurrentSession(); got != "b" {
		t.Errorf("current session = %q", got)
	}
}

func TestApplyTranscriptStaleGenerationDispatchesNothing(t *testing.T) {
	fc := newFakeClient()
	gateA := fc.gate("a")
	gateB := fc.gate("b")
	defer close(gateA)
	defer close(gateB)
	sink := &actionSink{}
	d := New(fc, nil, nil, sink.dispatch)

	d.OpenTranscript(context.Background(), "a")
	d.OpenTranscript(context.Background(), "b")

	before := len(sink.all())
	d.applyTranscript(1, "a", &api.Transcript{
		Messages: []model.Message{model.NewUserMessage("stale")},
	}, nil)

	if got := sink.all(); len(got) != before {
		t.Fatalf("superseded apply must dispatch nothing, got %v", got[before:])
	}
}

func TestOpenTranscriptSeedsFromCache(t *testing.T) {
	fc := newFakeClient()
	gate := fc.gate("s1")
	fc.transcripts["s1"] = &api.Transcript{Messages: []model.Message{model.NewUserMessage("fresh")}}
	cache := newFakeCache()
	cache.SaveTranscript("s1", []model.Message{model.NewUserMessage("cached")})
	sink := &actionSink{}
	d := New(fc, cache, nil, sink.dispatch)

	d.OpenTranscript(context.Background(), "s1")

	// The cached copy renders while the fetch is still held open.
	actions := sink.all()
	if len(actions) != 2 {
		t.Fatalf("expected LoadStart + cached LoadSuccess, got %v", actions)
	}
	if _, ok := actions[0].(chatlog.LoadStart); !ok {
		t.Errorf("first action = %T, want LoadStart", actions[0])
	}
	seeded, ok := actions[1].(chatlog.LoadSuccess)
	if !ok || len(seeded.Messages) != 1 || seeded.Messages[0].Text != "cached" {
		t.Fatalf("cached transcript not rendered, got %+v", actions[1])
	}

	close(gate)
	sink.waitFor(t, func(a chatlog.Action) bool {
		s, ok := a.(chatlog.LoadSuccess)
		return ok && len(s.Messages) == 1 && s.Messages[0].Text == "fresh"
	})
}

func TestOpenTranscriptEmptyCacheStaysLoading(t *testing.T) {
	fc := newFakeClient()
	gate := fc.gate("s1")
	defer close(gate)
	sink := &actionSink{}
	d := New(fc, newFakeCache(), nil, sink.dispatch)

	d.OpenTranscript(context.Background(), "s1")

	actions := sink.all()
	if len(actions) != 1 {
		t.Fatalf("a cache miss must only dispatch LoadStart, got %v", actions)
	}
	if _, ok := actions[0].(chatlog.LoadStart); !ok {
		t.Errorf("first action = %T, want LoadStart", actions[0])
	}
}

func TestOpenTranscriptErrorDispatched(t *testing.T) {
	fc := newFakeClient()
	fc.loadErr = errors.New("boom")
	sink := &actionSink{}
	d := New(fc, nil, nil, sink.dispatch)

	d.OpenTranscript(context.Background(), "s1")

	a := sink.waitFor(t, func(a chatlog.Action) bool {
		_, ok := a.(chatlog.LoadError)
		return ok
	})
	if le := a.(chatlog.LoadError); !strings.Contains(le.Reason, "boom") {
		t.Errorf("reason = %q", le.Reason)
	}
}

func TestOpenNewChatResetsTranscript(t *testing.T) {
	fc := newFakeClient()
	sink := &actionSink{}
	d := New(fc, nil, nil, sink.dispatch)

	d.OpenNewChat()

	if got := d.CurrentSession(); got != "" {
		t.Errorf("current session = %q, want empty", got)
	}
	actions := sink.all()
	if len(actions) != 1 {
		t.Fatalf("actions = %v", actions)
	}
	if _, ok := actions[0].(chatlog.Reset); !ok {
		t.Errorf("action = %T, want Reset", actions[0])
	}
}

func TestRenamePatchesListInPlace(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1", Topic: "Old"}}
	d := New(fc, nil, nil, nil)
	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 })

	if err := d.Rename(context.Background(), "s1", "New"); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	snap := d.Snapshot()
	if snap.Sessions[0].Topic != "New" {
		t.Errorf("topic = %q", snap.Sessions[0].Topic)
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.renamed) != 1 || fc.renamed[0] != "s1:New" {
		t.Errorf("renamed = %v", fc.renamed)
	}
}

func TestRenameFailureLeavesListUntouched(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1", Topic: "Old"}}
	d := New(fc, nil, nil, nil)
	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 })

	fc.mu.Lock()
	fc.mutErr = errors.New("forbidden")
	fc.mu.Unlock()

	if err := d.Rename(context.Background(), "s1", "New"); err == nil {
		t.Fatal("expected error")
	}
	if got := d.Snapshot().Sessions[0].Topic; got != "Old" {
		t.Errorf("topic = %q, failed mutation must not patch", got)
	}
}

func TestDeleteRemovesEntryAndClearsTask(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1"}, {ID: "s2"}}
	rec := newFakeReconciler()
	d := New(fc, nil, rec, nil)
	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 2 })

	if err := d.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	snap := d.Snapshot()
	if len(snap.Sessions) != 1 || snap.Sessions[0].ID != "s2" {
		t.Errorf("sessions = %+v", snap.Sessions)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.cleared) != 1 || rec.cleared[0] != "s1" {
		t.Errorf("cleared = %v", rec.cleared)
	}
}

func TestDeleteDropsCachedTranscript(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1"}}
	cache := newFakeCache()
	cache.SaveTranscript("s1", []model.Message{model.NewUserMessage("old")})
	d := New(fc, cache, nil, nil)
	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 })

	if err := d.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if len(cache.deleted) != 1 || cache.deleted[0] != "s1" {
		t.Errorf("cache deletions = %v", cache.deleted)
	}
	if _, ok := cache.transcripts["s1"]; ok {
		t.Error("deleted session's transcript must leave the cache")
	}
}

func TestDeleteCurrentSessionFallsBackToNewChat(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1"}}
	sink := &actionSink{}
	d := New(fc, nil, nil, sink.dispatch)
	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 })
	d.OpenTranscript(context.Background(), "s1")

	if err := d.Delete(context.Background(), "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := d.CurrentSession(); got != "" {
		t.Errorf("current session = %q, want empty after deleting it", got)
	}
}

func TestShareMarksSessionShared(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "s1"}}
	d := New(fc, nil, nil, nil)
	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 })

	if err := d.Share(context.Background(), "s1", "kim@example.com", true); err != nil {
		t.Fatalf("Share: %v", err)
	}

	got := d.Snapshot().Sessions[0]
	if !got.IsShared || got.ShareMode != model.ShareModeCollaborate {
		t.Errorf("session = %+v", got)
	}
}

func TestSeedSessionsOnlyBeforeFirstFetch(t *testing.T) {
	fc := newFakeClient()
	fc.sessions = []model.Session{{ID: "fresh"}}
	d := New(fc, nil, nil, nil)

	d.SeedSessions([]model.Session{{ID: "cached"}})
	if got := d.Snapshot().Sessions; len(got) != 1 || got[0].ID != "cached" {
		t.Fatalf("sessions = %+v", got)
	}

	d.RefreshSessions(context.Background(), false)
	waitForSnapshot(t, d, func(s Snapshot) bool { return len(s.Sessions) == 1 && s.Sessions[0].ID == "fresh" })

	// Late seed after a real fetch must be ignored.
	d.SeedSessions([]model.Session{{ID: "stale-cache"}})
	if got := d.Snapshot().Sessions; got[0].ID != "fresh" {
		t.Errorf("sessions = %+v", got)
	}
}

func TestAdoptSessionSetsCurrentWithoutLoad(t *testing.T) {
	fc := newFakeClient()
	d := New(fc, nil, nil, nil)

	d.AdoptSession("s9")

	if got := d.CurrentSession(); got != "s9" {
		t.Errorf("CurrentSession = %q", got)
	}
	if n := fc.loadCalls(); n != 0 {
		t.Errorf("adopt must not fetch a transcript, got %d loads", n)
	}
}
