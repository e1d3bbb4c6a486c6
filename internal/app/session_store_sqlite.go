package app

import (
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type SQLiteSessionStore struct {
	Root   string
	dbPath string

	mu   sync.Mutex
	db   *sql.DB
	once sync.Once
	err  error
}

func NewSQLiteSessionStore(root string) (*SQLiteSessionStore, error) {
	if strings.TrimSpace(root) == "" {
		root = DefaultDataRoot()
	}
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	st := &SQLiteSessionStore{
		Root:   root,
		dbPath: filepath.Join(root, "agent-desk.db"),
	}
	// Initialize eagerly so callers fail fast.
	if err := st.init(); err != nil {
		return nil, err
	}
	return st, nil
}

func DefaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agent-desk"
	}
	return filepath.Join(home, ".agent-desk")
}

func (s *SQLiteSessionStore) init() error {
	s.once.Do(func() {
		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			s.err = err
			return
		}
		// Keep sqlite responsive under contention.
		_, _ = db.Exec("PRAGMA busy_timeout = 5000;")
		_, _ = db.Exec("PRAGMA journal_mode = WAL;")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL;")

		schema := []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				title TEXT,
				model TEXT,
				provider TEXT,
				settings TEXT,
				created_at_ns INTEGER NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at_ns);`,
			`CREATE TABLE IF NOT EXISTS current_session (
				slot INTEGER PRIMARY KEY CHECK (slot = 0),
				session_id TEXT NOT NULL,
				updated_at_ns INTEGER NOT NULL
			);`,
			`CREATE TABLE IF NOT EXISTS messages (
				id TEXT NOT NULL,
				session_id TEXT NOT NULL,
				role TEXT NOT NULL,
				type TEXT NOT NULL,
				content TEXT NOT NULL,
				metadata TEXT,
				created_at_ns INTEGER NOT NULL,
				PRIMARY KEY (session_id, id)
			);`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at_ns);`,
		}
		for _, stmt := range schema {
			if _, err := db.Exec(stmt); err != nil {
				s.err = err
				_ = db.Close()
				return
			}
		}
		s.db = db
	})
	return s.err
}

func (s *SQLiteSessionStore) dbConn() (*sql.DB, error) {
	if err := s.init(); err != nil {
		return nil, err
	}
	return s.db, nil
}

func (s *SQLiteSessionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteSessionStore) CreateSession(model, provider string) (*Session, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		Model:     model,
		Provider:  provider,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = db.Exec(
		`INSERT INTO sessions(id, title, model, provider, settings, created_at_ns, updated_at_ns)
		 VALUES(?, NULL, ?, ?, NULL, ?, ?)`,
		sess.ID, nullIfEmpty(sess.Model), nullIfEmpty(sess.Provider), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	_ = s.SetCurrentSession(sess.ID)
	return sess, nil
}

func (s *SQLiteSessionStore) SaveSession(sess *Session) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return errors.New("missing session")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	sess.UpdatedAt = time.Now()
	var settings interface{}
	if len(sess.Settings) > 0 {
		settings = string(sess.Settings)
	}
	_, err = db.Exec(
		`UPDATE sessions SET title=?, model=?, provider=?, settings=?, updated_at_ns=? WHERE id=?`,
		nullIfEmpty(sess.Title), nullIfEmpty(sess.Model), nullIfEmpty(sess.Provider), settings, sess.UpdatedAt.UnixNano(), sess.ID,
	)
	return err
}

func (s *SQLiteSessionStore) LoadSession(sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	row := db.QueryRow(
		`SELECT id, title, model, provider, settings, created_at_ns, updated_at_ns FROM sessions WHERE id = ?`,
		sessionID,
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("session not found")
		}
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteSessionStore) DeleteSession(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM current_session WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteSessionStore) ListSessions(limit int) ([]SessionSummary, error) {
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT s.id, s.title, s.model, s.provider, s.settings, s.created_at_ns, s.updated_at_ns,
		        COUNT(m.id), COALESCE(MAX(m.created_at_ns), s.updated_at_ns)
		 FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		 GROUP BY s.id ORDER BY s.updated_at_ns DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sess       Session
			title      sql.NullString
			model      sql.NullString
			provider   sql.NullString
			settings   sql.NullString
			createdNs  int64
			updatedNs  int64
			count      int
			activityNs int64
		)
		if err := rows.Scan(&sess.ID, &title, &model, &provider, &settings, &createdNs, &updatedNs, &count, &activityNs); err != nil {
			return nil, err
		}
		sess.Title = title.String
		sess.Model = model.String
		sess.Provider = provider.String
		if settings.Valid && settings.String != "" {
			sess.Settings = json.RawMessage(settings.String)
		}
		sess.CreatedAt = time.Unix(0, createdNs)
		sess.UpdatedAt = time.Unix(0, updatedNs)
		out = append(out, SessionSummary{
			Session:      sess,
			MessageCount: count,
			LastActivity: time.Unix(0, activityNs),
		})
	}
	return out, rows.Err()
}

func (s *SQLiteSessionStore) SetCurrentSession(sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`INSERT INTO current_session(slot, session_id, updated_at_ns) VALUES(0, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET session_id=excluded.session_id, updated_at_ns=excluded.updated_at_ns`,
		sessionID, time.Now().UnixNano(),
	)
	return err
}

func (s *SQLiteSessionStore) CurrentSession() (string, error) {
	db, err := s.dbConn()
	if err != nil {
		return "", err
	}
	var sessionID string
	err = db.QueryRow(`SELECT session_id FROM current_session WHERE slot = 0`).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (s *SQLiteSessionStore) AppendMessage(msg Message) (Message, error) {
	if strings.TrimSpace(msg.SessionID) == "" {
		return Message{}, errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	var metadata interface{}
	if len(msg.Metadata) > 0 {
		metadata = string(msg.Metadata)
	}
	_, err = db.Exec(
		`INSERT INTO messages(id, session_id, role, type, content, metadata, created_at_ns)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Type, msg.Content, metadata, msg.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Message{}, err
	}
	_, _ = db.Exec(`UPDATE sessions SET updated_at_ns=? WHERE id=?`, msg.CreatedAt.UnixNano(), msg.SessionID)
	return msg, nil
}

func (s *SQLiteSessionStore) ListMessages(sessionID string) ([]Message, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("missing sessionID")
	}
	db, err := s.dbConn()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		`SELECT id, session_id, role, type, content, metadata, created_at_ns
		 FROM messages WHERE session_id = ? ORDER BY created_at_ns ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msg       Message
			metadata  sql.NullString
			createdNs int64
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Type, &msg.Content, &metadata, &createdNs); err != nil {
			return nil, err
		}
		if metadata.Valid && metadata.String != "" {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		msg.CreatedAt = time.Unix(0, createdNs)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteSessionStore) TruncateFrom(sessionID, messageID string) error {
	sessionID = strings.TrimSpace(sessionID)
	messageID = strings.TrimSpace(messageID)
	if sessionID == "" || messageID == "" {
		return errors.New("missing sessionID or messageID")
	}
	db, err := s.dbConn()
	if err != nil {
		return err
	}
	var cutoffNs int64
	err = db.QueryRow(
		`SELECT created_at_ns FROM messages WHERE session_id = ? AND id = ?`,
		sessionID, messageID,
	).Scan(&cutoffNs)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.New("message not found")
	}
	if err != nil {
		return err
	}
	_, err = db.Exec(
		`DELETE FROM messages WHERE session_id = ? AND (created_at_ns > ? OR (created_at_ns = ? AND id >= ?))`,
		sessionID, cutoffNs, cutoffNs, messageID,
	)
	return err
}

type sessionScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row sessionScanner) (*Session, error) {
	var (
		sess      Session
		title     sql.NullString
		model     sql.NullString
		provider  sql.NullString
		settings  sql.NullString
		createdNs int64
		updatedNs int64
	)
	if err := row.Scan(&sess.ID, &title, &model, &provider, &settings, &createdNs, &updatedNs); err != nil {
		return nil, err
	}
	sess.Title = title.String
	sess.Model = model.String
	sess.Provider = provider.String
	if settings.Valid && settings.String != "" {
		sess.Settings = json.RawMessage(settings.String)
	}
	sess.CreatedAt = time.Unix(0, createdNs)
	sess.UpdatedAt = time.Unix(0, updatedNs)
	return &sess, nil
}

func nullIfEmpty(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
