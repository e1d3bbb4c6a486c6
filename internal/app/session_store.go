package app

// SessionStore is the durable message log and session catalog. It is the
// source of truth once a message is persisted; the coordinator's registries
// are caches layered on top of it.
//
// Implementations must preserve message ordering by CreatedAt and must assign
// id and timestamp in AppendMessage. Messages are never updated in place;
// TruncateFrom is the only destructive operation (rollback/regenerate).
type SessionStore interface {
	CreateSession(model, provider string) (*Session, error)
	SaveSession(sess *Session) error
	LoadSession(sessionID string) (*Session, error)
	DeleteSession(sessionID string) error
	ListSessions(limit int) ([]SessionSummary, error)

	// Current-session pointer, so the client reopens where it left off.
	SetCurrentSession(sessionID string) error
	CurrentSession() (string, error)

	AppendMessage(msg Message) (Message, error)
	ListMessages(sessionID string) ([]Message, error)
	// TruncateFrom deletes messageID and everything after it in the session.
	TruncateFrom(sessionID, messageID string) error
}
