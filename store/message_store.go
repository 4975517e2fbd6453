// Package store implements the durable capabilities named by the
// engine spec as external collaborators: a Message Store (put/get/
// list-by-session) and the relational backing a Vector Index uses
// (put/query-by-session/delete). Two backends are provided for each:
// an in-memory one for tests and small deployments, and a persistent
// one (sqlite for messages, postgres+pgvector for chunk embeddings)
// grounded in the teacher's own storage layer.
package store

import (
	"fmt"
	"sort"
	"sync"

	"convomem/model"
)

// MessageStore is the durable capability the Pipeline Orchestrator and
// Chain Validator depend on. Chain integrity is enforced by callers,
// not the store — operations here are independent, row-level atomic.
type MessageStore interface {
	Put(msg *model.Message) error
	GetByID(id string) (*model.Message, error)
	ListBySession(sessionID string) ([]*model.Message, error)
	ListBySessionInChronoOrder(sessionID string) ([]*model.Message, error)
	ListAll() ([]*model.Message, error)
	DeleteBySession(sessionID string) error
}

// MemoryMessageStore is an in-memory MessageStore, the default backend
// for tests and for the "memory" store setting, mirroring the
// teacher's store.MemoryStore.
type MemoryMessageStore struct {
	mu       sync.RWMutex
	messages map[string]*model.Message
}

// NewMemoryMessageStore creates an empty in-memory MessageStore.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string]*model.Message)}
}

// Put persists msg, failing with KindDuplicate if its ID already exists.
func (s *MemoryMessageStore) Put(msg *model.Message) error {
	if msg == nil || msg.ID == "" {
		return model.NewError(model.KindBadInput, "message and message id are required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[msg.ID]; exists {
		return model.NewError(model.KindDuplicate, fmt.Sprintf("message %s already exists", msg.ID), nil)
	}

	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

// GetByID returns the message with id, or KindNotFound.
func (s *MemoryMessageStore) GetByID(id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, model.NewError(model.KindNotFound, fmt.Sprintf("message %s not found", id), nil)
	}
	cp := *msg
	return &cp, nil
}

// ListBySession returns all messages for sessionID in unspecified order.
func (s *MemoryMessageStore) ListBySession(sessionID string) ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Message, 0)
	for _, msg := range s.messages {
		if msg.SessionID == sessionID {
			cp := *msg
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ListBySessionInChronoOrder returns sessionID's messages ordered by
// timestamp ascending, ties broken by id.
func (s *MemoryMessageStore) ListBySessionInChronoOrder(sessionID string) ([]*model.Message, error) {
	out, err := s.ListBySession(sessionID)
	if err != nil {
		return nil, err
	}
	sortChrono(out)
	return out, nil
}

// ListAll returns every message across every session, timestamp-ordered.
func (s *MemoryMessageStore) ListAll() ([]*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Message, 0, len(s.messages))
	for _, msg := range s.messages {
		cp := *msg
		out = append(out, &cp)
	}
	sortChrono(out)
	return out, nil
}

// DeleteBySession removes all messages belonging to sessionID, best effort.
func (s *MemoryMessageStore) DeleteBySession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, msg := range s.messages {
		if msg.SessionID == sessionID {
			delete(s.messages, id)
		}
	}
	return nil
}

func sortChrono(msgs []*model.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
