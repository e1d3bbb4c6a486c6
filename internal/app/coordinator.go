package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// Coordinator ingests the multiplexed runtime event stream and maintains the
// per-session registries, the persisted-log cache and the active-view facade.
//
// All registry mutation happens under one mutex: each event handler runs to
// completion while holding it, so a single event is applied atomically and
// optimistic resolver updates can never interleave with ingestion mid-event.
// Store reads are the only asynchronous boundary; continuations re-check
// state under the lock before touching the facade.
type Coordinator struct {
	mu        sync.Mutex
	streams   *StreamRegistry
	tools     *ToolRegistry
	projector *Projector

	store   SessionStore
	runtime AgentRuntime
	logger  *Logger
	cfg     Config

	activeSession string
	messages      map[string][]Message
	refreshGen    map[string]uint64

	viewCh chan ViewSnapshot
}

func NewCoordinator(store SessionStore, runtime AgentRuntime, logger *Logger, cfg Config) *Coordinator {
	streams := NewStreamRegistry()
	tools := NewToolRegistry()
	return &Coordinator{
		streams:    streams,
		tools:      tools,
		projector:  NewProjector(streams, tools),
		store:      store,
		runtime:    runtime,
		logger:     logger,
		cfg:        cfg,
		messages:   make(map[string][]Message),
		refreshGen: make(map[string]uint64),
		viewCh:     make(chan ViewSnapshot, 64),
	}
}

// Updates delivers a fresh active-view snapshot whenever the foreground
// session's state changes. Slow consumers lose intermediate snapshots, never
// the latest one.
func (c *Coordinator) Updates() <-chan ViewSnapshot {
	return c.viewCh
}

// Run consumes the event channel until ctx is done or the channel closes.
// One subscription for the life of the process; a failing handler is logged
// and the loop moves on to the next event.
func (c *Coordinator) Run(ctx context.Context, events <-chan RuntimeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.HandleEvent(ev)
		}
	}
}

// HandleEvent applies one event. Exported so tests and embedded producers can
// drive the coordinator without a channel.
func (c *Coordinator) HandleEvent(ev RuntimeEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", map[string]interface{}{
				"kind":    string(ev.Kind),
				"session": ev.SessionID,
				"panic":   r,
			})
		}
	}()

	if ev.SessionID == "" {
		c.logger.Warn("dropping event without session id", map[string]interface{}{"kind": string(ev.Kind)})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Kind {
	case EventAgentStart:
		// A fresh turn: drop anything a crashed previous turn left behind.
		c.streams.Clear(ev.SessionID)
		c.streams.SetStreaming(ev.SessionID, true)
		c.tools.Clear(ev.SessionID)

	case EventTextDelta:
		c.streams.Append(ev.SessionID, StreamContent, ev.Delta)

	case EventThinkingDelta:
		c.streams.Append(ev.SessionID, StreamThinking, ev.Delta)

	case EventImageData:
		c.streams.Append(ev.SessionID, StreamImage, ev.Image)

	case EventTextEnd:
		// The text block is complete; the turn stays streaming until
		// agent_end, so there is nothing to mutate here.

	case EventToolStart:
		c.tools.Start(ev)
		if ev.MessageID == "" {
			c.refreshMessagesLocked(ev.SessionID, nil)
		}

	case EventToolApprovalRequest:
		c.tools.Gate(ev.SessionID, ev.ToolCallID, ToolPendingApproval, ev.Args)

	case EventUserInputRequest:
		c.tools.Gate(ev.SessionID, ev.ToolCallID, ToolPendingUserInput, nil)

	case EventSSHCredentialRequest:
		c.tools.Gate(ev.SessionID, ev.ToolCallID, ToolPendingSSHCredentials, nil)

	case EventToolEnd:
		c.tools.Finish(ev)
		c.refreshMessagesLocked(ev.SessionID, nil)

	case EventDockerEvent, EventSSHEvent:
		// The runtime already persisted the message; pick it up.
		c.refreshMessagesLocked(ev.SessionID, nil)

	case EventAgentEnd:
		c.streams.SetStreaming(ev.SessionID, false)
		c.tools.Clear(ev.SessionID)
		// The streamed text stays visible until the refreshed log carries
		// the persisted assistant message, so the answer never blinks out
		// between the clear and the reload.
		sid := ev.SessionID
		c.refreshMessagesLocked(sid, func() { c.streams.Clear(sid) })

	case EventError:
		c.handleErrorLocked(ev)

	default:
		c.logger.Warn("unknown event kind", map[string]interface{}{"kind": string(ev.Kind)})
	}

	if ev.SessionID == c.activeSession {
		c.publishLocked()
	}
}

// handleErrorLocked stops the session's turn and converts the error into a
// persisted notice. Other sessions are untouched.
func (c *Coordinator) handleErrorLocked(ev RuntimeEvent) {
	c.streams.Clear(ev.SessionID)
	c.streams.SetStreaming(ev.SessionID, false)
	c.tools.Clear(ev.SessionID)

	msg, err := c.store.AppendMessage(Message{
		SessionID: ev.SessionID,
		Role:      RoleSystemNotify,
		Type:      MessageErrorEvent,
		Content:   ev.Error,
	})
	if err != nil {
		c.logger.Error("persist error notice failed", map[string]interface{}{
			"session": ev.SessionID,
			"err":     err.Error(),
		})
		return
	}
	c.refreshGen[ev.SessionID]++
	c.messages[ev.SessionID] = append(c.messages[ev.SessionID], msg)
}

// refreshMessagesLocked re-reads the session's log in the background; the
// caller must hold mu. This is a suspension point: by the time the read
// returns, the active session may have changed or a newer refresh (or a
// synchronous cache write) may have landed. Each schedule bumps the session's
// generation and a continuation whose generation is stale discards its list
// instead of clobbering newer state. then, when non-nil, runs under the lock
// after a non-discarded apply.
func (c *Coordinator) refreshMessagesLocked(sessionID string, then func()) {
	c.refreshGen[sessionID]++
	gen := c.refreshGen[sessionID]
	go func() {
		msgs, err := c.store.ListMessages(sessionID)
		if err != nil {
			c.logger.Error("message refresh failed", map[string]interface{}{
				"session": sessionID,
				"err":     err.Error(),
			})
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.refreshGen[sessionID] != gen {
			return
		}
		c.messages[sessionID] = msgs
		for _, msg := range msgs {
			if msg.Type != MessageToolCall {
				continue
			}
			if meta := msg.Meta(); meta.ToolCallID != "" {
				c.tools.AttachMessageID(sessionID, meta.ToolCallID, msg.ID)
			}
		}
		if then != nil {
			then()
		}
		if sessionID == c.activeSession {
			c.publishLocked()
		}
	}()
}

func (c *Coordinator) publishLocked() {
	snap := c.projector.Project(c.activeSession)
	for {
		select {
		case c.viewCh <- snap:
			return
		default:
		}
		select {
		case <-c.viewCh:
		default:
		}
	}
}

// SetActiveSession switches the foreground session and re-projects the
// facade from that session's registry entries. The registries themselves are
// untouched; background sessions keep accumulating.
func (c *Coordinator) SetActiveSession(sessionID string) {
	c.mu.Lock()
	c.activeSession = sessionID
	c.publishLocked()
	if sessionID != "" {
		if _, cached := c.messages[sessionID]; !cached {
			c.refreshMessagesLocked(sessionID, nil)
		}
	}
	c.mu.Unlock()

	if sessionID != "" {
		_ = c.store.SetCurrentSession(sessionID)
	}
}

func (c *Coordinator) ActiveSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSession
}

// Snapshot returns the current facade without waiting for an update.
func (c *Coordinator) Snapshot() ViewSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projector.Current()
}

// VisibleItems derives the turn-grouped renderable list for a session from
// the cached log.
func (c *Coordinator) VisibleItems(sessionID string) []VisibleItem {
	c.mu.Lock()
	msgs := c.messages[sessionID]
	c.mu.Unlock()
	return GroupTurns(BuildVisibleItems(msgs), c.cfg.KeepRecentTurns)
}

// SendUserMessage persists a user-authored message and seeds the session
// title from the first one.
func (c *Coordinator) SendUserMessage(sessionID, content string) (Message, error) {
	if content == "" {
		return Message{}, errors.New("empty message")
	}
	msg, err := c.store.AppendMessage(Message{
		SessionID: sessionID,
		Role:      RoleUser,
		Type:      MessageText,
		Content:   content,
	})
	if err != nil {
		return Message{}, err
	}

	c.mu.Lock()
	first := len(c.messages[sessionID]) == 0
	// The local append is newer than any refresh already in flight.
	c.refreshGen[sessionID]++
	c.messages[sessionID] = append(c.messages[sessionID], msg)
	if sessionID == c.activeSession {
		c.publishLocked()
	}
	c.mu.Unlock()

	if first {
		if sess, err := c.store.LoadSession(sessionID); err == nil && sess.Title == "" {
			sess.Title = DeriveTitle(content)
			_ = c.store.SaveSession(sess)
		}
	}
	return msg, nil
}

// AbortSession stops the session's turn: signals the runtime, clears the
// stream state and the tool registry for that session only.
func (c *Coordinator) AbortSession(sessionID string) {
	if err := c.runtime.Abort(sessionID); err != nil {
		c.logger.Error("abort command failed", map[string]interface{}{
			"session": sessionID,
			"err":     err.Error(),
		})
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams.Clear(sessionID)
	c.streams.SetStreaming(sessionID, false)
	c.tools.Clear(sessionID)
	if sessionID == c.activeSession {
		c.publishLocked()
	}
}

// Rollback truncates the log from messageID onward and reloads the session.
func (c *Coordinator) Rollback(sessionID, messageID string) error {
	if err := c.store.TruncateFrom(sessionID, messageID); err != nil {
		return err
	}
	msgs, err := c.store.ListMessages(sessionID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshGen[sessionID]++
	c.messages[sessionID] = msgs
	if sessionID == c.activeSession {
		c.publishLocked()
	}
	return nil
}

// ToolArgsJSON renders a call's args for display.
func ToolArgsJSON(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var buf map[string]interface{}
	if err := json.Unmarshal(args, &buf); err != nil {
		return string(args)
	}
	pretty, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return string(args)
	}
	return string(pretty)
}
