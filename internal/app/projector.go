package app

// ViewSnapshot is the flat "current session" facade the renderer reads. It is
// an immutable copy taken from the registries, so a snapshot handed to the UI
// can never be corrupted by later events.
type ViewSnapshot struct {
	SessionID string
	Stream    SessionStreamState
	Tools     []ToolExecution

	// Gate is the single pending call surfaced to the user, if any.
	Gate    ToolExecution
	HasGate bool
}

// Projector derives the active-session view from the two registries. The
// mirrored per-session fields of a naive implementation are replaced by this
// pure recomputation: there is no duplicate state to forget to sync.
//
// The race-prevention contract: Project is only invoked for the session that
// is active at that moment, so a mutation to a background session updates the
// registries but never reaches the published facade, and switching sessions
// can never flash another session's content.
type Projector struct {
	streams *StreamRegistry
	tools   *ToolRegistry

	current ViewSnapshot
}

func NewProjector(streams *StreamRegistry, tools *ToolRegistry) *Projector {
	return &Projector{streams: streams, tools: tools}
}

// Project recomputes and publishes the facade for sessionID.
func (p *Projector) Project(sessionID string) ViewSnapshot {
	snap := ViewSnapshot{
		SessionID: sessionID,
		Stream:    p.streams.Read(sessionID),
		Tools:     p.tools.List(sessionID),
	}
	if gate, ok := p.tools.SurfacedGate(sessionID); ok {
		snap.Gate = gate
		snap.HasGate = true
	}
	p.current = snap
	return snap
}

// Current returns the last published facade.
func (p *Projector) Current() ViewSnapshot {
	return p.current
}
