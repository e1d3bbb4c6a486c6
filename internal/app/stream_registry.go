package app

// SessionStreamState is the ephemeral per-session generation state. It is a
// cache for the in-progress turn; the persisted message log stays the source
// of truth, so nothing here survives a restart.
type SessionStreamState struct {
	Content     string
	Thinking    string
	Images      []string
	IsStreaming bool
}

func (s SessionStreamState) clone() SessionStreamState {
	out := s
	if len(s.Images) > 0 {
		out.Images = append([]string(nil), s.Images...)
	}
	return out
}

type StreamField int

const (
	StreamContent StreamField = iota
	StreamThinking
	StreamImage
)

// StreamRegistry holds ephemeral stream state keyed by session id. It is
// passive storage: callers decide whether a mutation warrants re-projecting
// the active view. Not safe for concurrent use on its own; the coordinator
// serializes access.
type StreamRegistry struct {
	states map[string]*SessionStreamState
}

func NewStreamRegistry() *StreamRegistry {
	return &StreamRegistry{states: make(map[string]*SessionStreamState)}
}

func (r *StreamRegistry) entry(sessionID string) *SessionStreamState {
	st, ok := r.states[sessionID]
	if !ok {
		st = &SessionStreamState{}
		r.states[sessionID] = st
	}
	return st
}

// Append accumulates a delta into one stream field, creating the entry on
// first use.
func (r *StreamRegistry) Append(sessionID string, field StreamField, delta string) {
	st := r.entry(sessionID)
	switch field {
	case StreamContent:
		st.Content += delta
	case StreamThinking:
		st.Thinking += delta
	case StreamImage:
		st.Images = append(st.Images, delta)
	}
}

// Clear resets the accumulated fields but keeps the entry and its streaming
// flag; toggling that is an explicit SetStreaming call.
func (r *StreamRegistry) Clear(sessionID string) {
	st, ok := r.states[sessionID]
	if !ok {
		return
	}
	st.Content = ""
	st.Thinking = ""
	st.Images = nil
}

func (r *StreamRegistry) SetStreaming(sessionID string, streaming bool) {
	r.entry(sessionID).IsStreaming = streaming
}

// Read returns a copy of the session's stream state; a session with no entry
// reads as the zero state.
func (r *StreamRegistry) Read(sessionID string) SessionStreamState {
	st, ok := r.states[sessionID]
	if !ok {
		return SessionStreamState{}
	}
	return st.clone()
}

// Drop removes the entry entirely. Used when a session is deleted.
func (r *StreamRegistry) Drop(sessionID string) {
	delete(r.states, sessionID)
}
