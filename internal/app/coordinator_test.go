package app

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory SessionStore for coordinator tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]Message
	current  string
	seq      int
}

func newMemStore() *memStore {
	return &memStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
	}
}

func (s *memStore) CreateSession(model, provider string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	sess := &Session{ID: fmt.Sprintf("sess-%d", s.seq), Model: model, Provider: provider, CreatedAt: time.Now()}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *memStore) SaveSession(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *memStore) LoadSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.New("session not found")
	}
	copied := *sess
	return &copied, nil
}

func (s *memStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	return nil
}

func (s *memStore) ListSessions(limit int) ([]SessionSummary, error) { return nil, nil }

func (s *memStore) SetCurrentSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sessionID
	return nil
}

func (s *memStore) CurrentSession() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, nil
}

func (s *memStore) AppendMessage(msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if msg.ID == "" {
		msg.ID = fmt.Sprintf("msg-%d", s.seq)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg, nil
}

func (s *memStore) ListMessages(sessionID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[sessionID]...), nil
}

func (s *memStore) TruncateFrom(sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[sessionID]
	for i, msg := range msgs {
		if msg.ID == messageID {
			s.messages[sessionID] = msgs[:i]
			return nil
		}
	}
	return errors.New("message not found")
}

// recordingRuntime records outbound commands.
type recordingRuntime struct {
	mu       sync.Mutex
	commands []string
}

func (r *recordingRuntime) record(cmd string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

func (r *recordingRuntime) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *recordingRuntime) ApproveToolCall(id string, approved bool) error {
	r.record(fmt.Sprintf("approve:%s:%v", id, approved))
	return nil
}

func (r *recordingRuntime) RespondToAsk(id string, selections []string) error {
	r.record(fmt.Sprintf("ask:%s:%d", id, len(selections)))
	return nil
}

func (r *recordingRuntime) RespondToSSHCredentials(id string, creds *SSHCredentials) error {
	r.record(fmt.Sprintf("ssh:%s:%v", id, creds != nil))
	return nil
}

func (r *recordingRuntime) Abort(sessionID string) error {
	r.record("abort:" + sessionID)
	return nil
}

func newTestCoordinator() (*Coordinator, *memStore, *recordingRuntime) {
	store := newMemStore()
	runtime := &recordingRuntime{}
	cfg := DefaultConfig()
	return NewCoordinator(store, runtime, NewLogger(io.Discard), cfg), store, runtime
}

func sessionEvents(sessionID string) []RuntimeEvent {
	turn := 0
	return []RuntimeEvent{
		{Kind: EventAgentStart, SessionID: sessionID},
		{Kind: EventThinkingDelta, SessionID: sessionID, Delta: "thinking about " + sessionID},
		{Kind: EventTextDelta, SessionID: sessionID, Delta: "answer for "},
		{Kind: EventTextDelta, SessionID: sessionID, Delta: sessionID},
		{Kind: EventToolStart, SessionID: sessionID, ToolCallID: sessionID + "-t1", ToolName: "bash", TurnIndex: &turn, MessageID: "m1"},
	}
}

func TestCoordinatorInterleavedSessionsDoNotContaminate(t *testing.T) {
	// Events for A interleaved with events for B must leave A exactly as if
	// processed alone.
	alone, _, _ := newTestCoordinator()
	for _, ev := range sessionEvents("A") {
		alone.HandleEvent(ev)
	}

	mixed, _, _ := newTestCoordinator()
	evA := sessionEvents("A")
	evB := sessionEvents("B")
	for i := range evA {
		mixed.HandleEvent(evA[i])
		mixed.HandleEvent(evB[i])
	}

	wantStream := alone.streams.Read("A")
	gotStream := mixed.streams.Read("A")
	if gotStream.Content != wantStream.Content || gotStream.Thinking != wantStream.Thinking {
		t.Errorf("stream state diverged: %+v vs %+v", gotStream, wantStream)
	}
	wantTools := alone.tools.List("A")
	gotTools := mixed.tools.List("A")
	if len(gotTools) != len(wantTools) {
		t.Fatalf("tool count diverged: %d vs %d", len(gotTools), len(wantTools))
	}
	for i := range wantTools {
		if gotTools[i].ToolCallID != wantTools[i].ToolCallID || gotTools[i].Status != wantTools[i].Status {
			t.Errorf("tool %d diverged: %+v vs %+v", i, gotTools[i], wantTools[i])
		}
	}
	if got := mixed.streams.Read("B").Content; got != "answer for B" {
		t.Errorf("B content = %q", got)
	}
}

func TestCoordinatorBackgroundEventsDoNotTouchFacade(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.SetActiveSession("A")
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "A"})
	c.HandleEvent(RuntimeEvent{Kind: EventTextDelta, SessionID: "A", Delta: "foreground"})

	// Background session streams concurrently.
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "B"})
	c.HandleEvent(RuntimeEvent{Kind: EventTextDelta, SessionID: "B", Delta: "background"})

	snap := c.Snapshot()
	if snap.SessionID != "A" {
		t.Fatalf("facade session = %q, want A", snap.SessionID)
	}
	if snap.Stream.Content != "foreground" {
		t.Errorf("facade content = %q, background leaked", snap.Stream.Content)
	}

	c.SetActiveSession("B")
	snap = c.Snapshot()
	if snap.SessionID != "B" || snap.Stream.Content != "background" {
		t.Errorf("switch should project B immediately, got %+v", snap)
	}
}

func TestCoordinatorAgentEndClearsToolRegistry(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "A"})
	c.HandleEvent(startEvent("A", "t1", nil))
	c.HandleEvent(startEvent("A", "t2", func(ev *RuntimeEvent) {
		ev.SessionID = "A"
		ev.ApprovalRequired = true
	}))

	c.HandleEvent(RuntimeEvent{Kind: EventAgentEnd, SessionID: "A"})

	if got := c.tools.List("A"); len(got) != 0 {
		t.Errorf("agent_end must clear all calls, even pending ones; got %d", len(got))
	}
	if c.streams.Read("A").IsStreaming {
		t.Error("agent_end must stop streaming")
	}
}

func TestCoordinatorErrorEventPersistsNoticeAndClears(t *testing.T) {
	c, store, _ := newTestCoordinator()
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "A"})
	c.HandleEvent(RuntimeEvent{Kind: EventTextDelta, SessionID: "A", Delta: "partial"})
	c.HandleEvent(startEvent("A", "t1", nil))

	c.HandleEvent(RuntimeEvent{Kind: EventError, SessionID: "A", Error: "model exploded"})

	if got := c.streams.Read("A"); got.Content != "" || got.IsStreaming {
		t.Errorf("error must clear stream state, got %+v", got)
	}
	if got := c.tools.List("A"); len(got) != 0 {
		t.Errorf("error must clear tool registry, got %d calls", len(got))
	}
	msgs, _ := store.ListMessages("A")
	if len(msgs) != 1 {
		t.Fatalf("want 1 persisted notice, got %d", len(msgs))
	}
	if msgs[0].Role != RoleSystemNotify || msgs[0].Type != MessageErrorEvent || msgs[0].Content != "model exploded" {
		t.Errorf("notice = %+v", msgs[0])
	}
}

func TestCoordinatorErrorInOneSessionKeepsOthersStreaming(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "A"})
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "B"})
	c.HandleEvent(RuntimeEvent{Kind: EventTextDelta, SessionID: "B", Delta: "still here"})

	c.HandleEvent(RuntimeEvent{Kind: EventError, SessionID: "A", Error: "boom"})

	st := c.streams.Read("B")
	if !st.IsStreaming || st.Content != "still here" {
		t.Errorf("B must be unaffected by A's error, got %+v", st)
	}
}

func TestCoordinatorAbortClearsOnlyTargetSession(t *testing.T) {
	c, _, runtime := newTestCoordinator()
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "A"})
	c.HandleEvent(startEvent("A", "t1", nil))
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "B"})
	c.HandleEvent(startEvent("B", "t1", nil))

	c.AbortSession("A")

	if got := c.tools.List("A"); len(got) != 0 {
		t.Errorf("abort must clear A's calls, got %d", len(got))
	}
	if c.streams.Read("A").IsStreaming {
		t.Error("abort must clear A's streaming flag")
	}
	if got := c.tools.List("B"); len(got) != 1 {
		t.Errorf("abort of A must not touch B, got %d", len(got))
	}
	cmds := runtime.recorded()
	if len(cmds) != 1 || cmds[0] != "abort:A" {
		t.Errorf("runtime commands = %v", cmds)
	}
}

func TestCoordinatorMalformedEventDoesNotHaltLoop(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.HandleEvent(RuntimeEvent{Kind: "bogus_kind", SessionID: "A"})
	c.HandleEvent(RuntimeEvent{Kind: EventTextDelta, SessionID: ""})
	c.HandleEvent(RuntimeEvent{Kind: EventTextDelta, SessionID: "A", Delta: "still alive"})
	if got := c.streams.Read("A").Content; got != "still alive" {
		t.Errorf("loop should survive malformed events, got %q", got)
	}
}

func TestCoordinatorApprovalRoundTrip(t *testing.T) {
	// tool_start with approvalRequired → pending_approval; approve → running;
	// tool_end → done with the result.
	c, _, runtime := newTestCoordinator()
	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: "s1"})
	c.HandleEvent(RuntimeEvent{
		Kind: EventToolStart, SessionID: "s1", ToolCallID: "t1",
		ToolName: "bash", ApprovalRequired: true, MessageID: "m1",
	})

	exec, ok := c.tools.Get("s1", "t1")
	if !ok || exec.Status != ToolPendingApproval {
		t.Fatalf("status = %+v, want pending_approval", exec)
	}

	if err := c.Resolver().SubmitApproval("s1", "t1", true); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	exec, _ = c.tools.Get("s1", "t1")
	if exec.Status != ToolRunning {
		t.Errorf("optimistic status = %s, want running", exec.Status)
	}
	if cmds := runtime.recorded(); len(cmds) != 1 || cmds[0] != "approve:t1:true" {
		t.Errorf("runtime commands = %v", cmds)
	}

	c.HandleEvent(RuntimeEvent{Kind: EventToolEnd, SessionID: "s1", ToolCallID: "t1", Result: "ok", MessageID: "m2"})
	exec, _ = c.tools.Get("s1", "t1")
	if exec.Status != ToolDone || exec.Result != "ok" {
		t.Errorf("final = %+v, want done/ok", exec)
	}
}

// stallStore lets a test hold one background log read between its store
// query and its apply: the first ListMessages returns stale data only after
// release is closed.
type stallStore struct {
	*memStore
	mu      sync.Mutex
	stalled bool
	release chan struct{}
}

func (s *stallStore) ListMessages(sessionID string) ([]Message, error) {
	msgs, err := s.memStore.ListMessages(sessionID)
	s.mu.Lock()
	first := !s.stalled
	s.stalled = true
	s.mu.Unlock()
	if first {
		<-s.release
	}
	return msgs, err
}

func (s *stallStore) waitStalled(t *testing.T) {
	t.Helper()
	waitFor(t, "background read to stall", func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.stalled
	})
}

func TestCoordinatorStaleRefreshDoesNotClobberNewerList(t *testing.T) {
	base := newMemStore()
	store := &stallStore{memStore: base, release: make(chan struct{})}
	c := NewCoordinator(store, &recordingRuntime{}, NewLogger(io.Discard), DefaultConfig())
	sess, _ := base.CreateSession("m", "p")

	_, _ = base.AppendMessage(Message{
		SessionID: sess.ID, Role: RoleSystem, Type: MessageToolResult,
		Content: "tool output", Metadata: mustMeta(MessageMeta{ToolCallID: "t1"}),
	})

	// First reload reads the one-message list, then stalls before applying.
	c.HandleEvent(RuntimeEvent{Kind: EventToolEnd, SessionID: sess.ID, ToolCallID: "t1", Result: "ok"})
	store.waitStalled(t)

	// The final answer lands and a second reload applies it.
	_, _ = base.AppendMessage(Message{SessionID: sess.ID, Role: RoleAssistant, Type: MessageText, Content: "final answer"})
	c.HandleEvent(RuntimeEvent{Kind: EventAgentEnd, SessionID: sess.ID})
	waitFor(t, "second reload to apply", func() bool {
		return len(c.VisibleItems(sess.ID)) == 2
	})

	// Releasing the stale reload must not shrink the cache back.
	close(store.release)
	time.Sleep(50 * time.Millisecond)
	if got := len(c.VisibleItems(sess.ID)); got != 2 {
		t.Errorf("stale reload clobbered the cache: %d items, want 2", got)
	}
}

func TestCoordinatorAgentEndKeepsStreamUntilLogCatchesUp(t *testing.T) {
	base := newMemStore()
	store := &stallStore{memStore: base, release: make(chan struct{})}
	c := NewCoordinator(store, &recordingRuntime{}, NewLogger(io.Discard), DefaultConfig())
	sess, _ := base.CreateSession("m", "p")

	c.HandleEvent(RuntimeEvent{Kind: EventAgentStart, SessionID: sess.ID})
	c.HandleEvent(RuntimeEvent{Kind: EventTextDelta, SessionID: sess.ID, Delta: "the answer"})
	_, _ = base.AppendMessage(Message{SessionID: sess.ID, Role: RoleAssistant, Type: MessageText, Content: "the answer"})
	c.HandleEvent(RuntimeEvent{Kind: EventAgentEnd, SessionID: sess.ID})

	// While the reload is in flight the streamed text is still the only copy
	// of the answer and must stay on screen.
	store.waitStalled(t)
	st := c.streams.Read(sess.ID)
	if st.Content != "the answer" {
		t.Errorf("stream content = %q, want it kept until the log catches up", st.Content)
	}
	if st.IsStreaming {
		t.Error("agent_end must stop streaming immediately")
	}

	close(store.release)
	waitFor(t, "stream to clear after reload", func() bool {
		return c.streams.Read(sess.ID).Content == ""
	})
	if got := len(c.VisibleItems(sess.ID)); got != 1 {
		t.Errorf("persisted answer missing from cache, got %d items", got)
	}
}

func TestCoordinatorSendUserMessageSetsTitle(t *testing.T) {
	c, store, _ := newTestCoordinator()
	sess, _ := store.CreateSession("m", "p")

	if _, err := c.SendUserMessage(sess.ID, "please run the tests and report back"); err != nil {
		t.Fatalf("SendUserMessage: %v", err)
	}

	reloaded, _ := store.LoadSession(sess.ID)
	if reloaded.Title == "" {
		t.Error("first user message should seed the session title")
	}
	items := c.VisibleItems(sess.ID)
	if len(items) != 1 || items[0].Message.Role != RoleUser {
		t.Errorf("visible items = %+v", items)
	}
}
