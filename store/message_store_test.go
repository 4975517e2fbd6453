package store

import (
	"testing"
	"time"

	"convomem/model"
)

func TestMemoryMessageStore_PutDuplicate(t *testing.T) {
	s := NewMemoryMessageStore()
	msg := model.NewMessage("s1", model.RoleUser, "hello", "")

	if err := s.Put(msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Put(msg); model.KindOf(err) != model.KindDuplicate {
		t.Fatalf("expected KindDuplicate, got %v", err)
	}
}

func TestMemoryMessageStore_GetByIDNotFound(t *testing.T) {
	s := NewMemoryMessageStore()
	if _, err := s.GetByID("missing"); model.KindOf(err) != model.KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", err)
	}
}

func TestMemoryMessageStore_ChronoOrder(t *testing.T) {
	s := NewMemoryMessageStore()
	base := time.Now()

	m1 := &model.Message{ID: "m1", SessionID: "s1", Timestamp: base}
	m2 := &model.Message{ID: "m2", SessionID: "s1", Timestamp: base.Add(time.Second)}
	m3 := &model.Message{ID: "m3", SessionID: "s1", Timestamp: base.Add(2 * time.Second)}

	for _, m := range []*model.Message{m3, m1, m2} {
		if err := s.Put(m); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	ordered, err := s.ListBySessionInChronoOrder("s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ordered) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(ordered))
	}
	if ordered[0].ID != "m1" || ordered[1].ID != "m2" || ordered[2].ID != "m3" {
		t.Fatalf("messages not chronologically ordered: %v", ordered)
	}
}

func TestMemoryMessageStore_DeleteBySession(t *testing.T) {
	s := NewMemoryMessageStore()
	_ = s.Put(&model.Message{ID: "m1", SessionID: "s1", Timestamp: time.Now()})
	_ = s.Put(&model.Message{ID: "m2", SessionID: "s2", Timestamp: time.Now()})

	if err := s.DeleteBySession("s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining, _ := s.ListBySession("s1")
	if len(remaining) != 0 {
		t.Fatalf("expected session s1 to be empty, got %d", len(remaining))
	}
	other, _ := s.ListBySession("s2")
	if len(other) != 1 {
		t.Fatalf("expected session s2 untouched, got %d", len(other))
	}
}
