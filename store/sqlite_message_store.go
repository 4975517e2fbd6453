package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"convomem/model"
)

// SQLiteMessageStore is a pure-Go (cgo-free) sqlite MessageStore,
// mirroring the teacher's store/sqlite.go: same driver, same
// create-directory-then-open-then-migrate sequence. A mutex on the store
// serializes writes (Put, DeleteBySession) to the *sql.DB handle.
type SQLiteMessageStore struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteMessageStore opens (creating if necessary) a sqlite database
// at dbPath. An empty dbPath opens an in-memory database.
func NewSQLiteMessageStore(dbPath string) (*SQLiteMessageStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create directory for database: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteMessageStore{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteMessageStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp_ns INTEGER NOT NULL,
		parent_message_id TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
	CREATE INDEX IF NOT EXISTS idx_messages_session_ts ON messages(session_id, timestamp_ns);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteMessageStore) Close() error {
	return s.db.Close()
}

// Put persists msg, failing with KindDuplicate if its ID already exists.
func (s *SQLiteMessageStore) Put(msg *model.Message) error {
	if msg == nil || msg.ID == "" {
		return model.NewError(model.KindBadInput, "message and message id are required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT 1 FROM messages WHERE id = ?`, msg.ID).Scan(&exists); err == nil {
		return model.NewError(model.KindDuplicate, fmt.Sprintf("message %s already exists", msg.ID), nil)
	} else if err != sql.ErrNoRows {
		return model.NewError(model.KindStoreUnavailable, "failed checking message existence", err)
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, timestamp_ns, parent_message_id) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.Timestamp.UnixNano(), msg.ParentMessageID,
	)
	if err != nil {
		return model.NewError(model.KindStoreUnavailable, "failed inserting message", err)
	}
	return nil
}

// GetByID returns the message with id, or KindNotFound.
func (s *SQLiteMessageStore) GetByID(id string) (*model.Message, error) {
	row := s.db.QueryRow(`SELECT id, session_id, role, content, timestamp_ns, parent_message_id FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, model.NewError(model.KindNotFound, fmt.Sprintf("message %s not found", id), nil)
	}
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed reading message", err)
	}
	return msg, nil
}

// ListBySession returns all messages for sessionID in unspecified order.
func (s *SQLiteMessageStore) ListBySession(sessionID string) ([]*model.Message, error) {
	rows, err := s.db.Query(`SELECT id, session_id, role, content, timestamp_ns, parent_message_id FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed listing messages", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListBySessionInChronoOrder returns sessionID's messages ordered by
// timestamp ascending, ties broken by id.
func (s *SQLiteMessageStore) ListBySessionInChronoOrder(sessionID string) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, timestamp_ns, parent_message_id FROM messages WHERE session_id = ? ORDER BY timestamp_ns ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed listing messages", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListAll returns every message across every session, timestamp-ordered.
func (s *SQLiteMessageStore) ListAll() ([]*model.Message, error) {
	rows, err := s.db.Query(`SELECT id, session_id, role, content, timestamp_ns, parent_message_id FROM messages ORDER BY timestamp_ns ASC, id ASC`)
	if err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed listing all messages", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// DeleteBySession removes all messages belonging to sessionID, best effort.
func (s *SQLiteMessageStore) DeleteBySession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return model.NewError(model.KindStoreUnavailable, "failed deleting session messages", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*model.Message, error) {
	var (
		id, sessionID, role, content, parentID string
		tsNanos                                int64
	)
	if err := row.Scan(&id, &sessionID, &role, &content, &tsNanos, &parentID); err != nil {
		return nil, err
	}
	return &model.Message{
		ID:              id,
		SessionID:       sessionID,
		Role:            model.Role(role),
		Content:         content,
		Timestamp:       time.Unix(0, tsNanos),
		ParentMessageID: parentID,
	}, nil
}

func scanMessages(rows *sql.Rows) ([]*model.Message, error) {
	out := make([]*model.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, model.NewError(model.KindStoreUnavailable, "failed scanning message row", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, model.NewError(model.KindStoreUnavailable, "failed iterating message rows", err)
	}
	return out, nil
}
