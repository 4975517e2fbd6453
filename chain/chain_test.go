package chain

import (
	"testing"
	"time"

	"convomem/model"
	"convomem/store"
)

func TestValidateWellFormedChain(t *testing.T) {
	base := time.Now()
	m1 := &model.Message{ID: "m1", Timestamp: base}
	m2 := &model.Message{ID: "m2", Timestamp: base.Add(time.Second), ParentMessageID: "m1"}
	m3 := &model.Message{ID: "m3", Timestamp: base.Add(2 * time.Second), ParentMessageID: "m2"}

	report := Validate("s1", []*model.Message{m1, m2, m3})
	if !report.Valid {
		t.Fatalf("expected valid chain, got issues: %+v", report.Issues)
	}
}

func TestValidateDetectsMissingParent(t *testing.T) {
	m1 := &model.Message{ID: "m1", Timestamp: time.Now(), ParentMessageID: "ghost"}
	report := Validate("s1", []*model.Message{m1})
	if report.Valid {
		t.Fatalf("expected invalid chain")
	}
	if report.Issues[0].Kind != "missing_parent" {
		t.Fatalf("expected missing_parent issue, got %+v", report.Issues)
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	base := time.Now()
	m1 := &model.Message{ID: "m1", Timestamp: base, ParentMessageID: "m2"}
	m2 := &model.Message{ID: "m2", Timestamp: base.Add(time.Second), ParentMessageID: "m1"}

	report := Validate("s1", []*model.Message{m1, m2})
	if report.Valid {
		t.Fatalf("expected invalid chain due to cycle")
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Kind == "cycle" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a cycle issue, got %+v", report.Issues)
	}
}

func TestValidateDetectsMultipleRoots(t *testing.T) {
	base := time.Now()
	m1 := &model.Message{ID: "m1", Timestamp: base}
	m2 := &model.Message{ID: "m2", Timestamp: base.Add(time.Second)}

	report := Validate("s1", []*model.Message{m1, m2})
	if report.Valid {
		t.Fatalf("expected invalid chain due to multiple roots")
	}
}

func TestRepairRelinksOnlyBrokenAndOrphanMessages(t *testing.T) {
	ms := store.NewMemoryMessageStore()
	base := time.Now()

	// m1 is the earliest message but its parent reference is broken.
	// m2 is a second, spurious root (an orphan once m1 is anchored).
	// m3 already has a valid, resolvable parent (m1) and must be left
	// untouched rather than rechained onto m2.
	m1 := &model.Message{ID: "m1", SessionID: "s1", Timestamp: base, ParentMessageID: "missing"}
	m2 := &model.Message{ID: "m2", SessionID: "s1", Timestamp: base.Add(time.Second)}
	m3 := &model.Message{ID: "m3", SessionID: "s1", Timestamp: base.Add(2 * time.Second), ParentMessageID: "m1"}

	for _, m := range []*model.Message{m3, m1, m2} {
		if err := ms.Put(m); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	v := New(ms)
	report, err := v.Repair("s1")
	if err != nil {
		t.Fatalf("repair failed: %v", err)
	}
	if !report.Valid {
		t.Fatalf("expected repaired chain to validate, got issues: %+v", report.Issues)
	}

	repaired, err := ms.ListBySessionInChronoOrder("s1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(repaired) != 3 {
		t.Fatalf("expected 3 messages after repair, got %d", len(repaired))
	}

	byID := make(map[string]*model.Message, 3)
	for _, m := range repaired {
		byID[m.ID] = m
	}
	if byID["m1"].ParentMessageID != "" {
		t.Fatalf("expected m1 (the earliest message) to become root, got parent %q", byID["m1"].ParentMessageID)
	}
	if byID["m2"].ParentMessageID != "m1" {
		t.Fatalf("expected orphan m2 relinked to m1, got parent %q", byID["m2"].ParentMessageID)
	}
	if byID["m3"].ParentMessageID != "m1" {
		t.Fatalf("expected m3's already-valid parent link to m1 left untouched, got parent %q", byID["m3"].ParentMessageID)
	}
}

func TestRepairPreservesValidSiblingBranching(t *testing.T) {
	ms := store.NewMemoryMessageStore()
	base := time.Now()

	root := &model.Message{ID: "root", SessionID: "s1", Timestamp: base}
	childA := &model.Message{ID: "childA", SessionID: "s1", Timestamp: base.Add(time.Second), ParentMessageID: "root"}
	childB := &model.Message{ID: "childB", SessionID: "s1", Timestamp: base.Add(2 * time.Second), ParentMessageID: "root"}
	broken := &model.Message{ID: "broken", SessionID: "s1", Timestamp: base.Add(3 * time.Second), ParentMessageID: "ghost"}

	for _, m := range []*model.Message{root, childA, childB, broken} {
		if err := ms.Put(m); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	v := New(ms)
	if _, err := v.Repair("s1"); err != nil {
		t.Fatalf("repair failed: %v", err)
	}

	repaired, err := ms.ListBySessionInChronoOrder("s1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	byID := make(map[string]*model.Message, len(repaired))
	for _, m := range repaired {
		byID[m.ID] = m
	}

	if byID["childA"].ParentMessageID != "root" || byID["childB"].ParentMessageID != "root" {
		t.Fatalf("expected valid sibling branches under root to survive repair untouched, got %+v", repaired)
	}
	if byID["broken"].ParentMessageID != "childB" {
		t.Fatalf("expected the broken message relinked to the most recent prior message (childB), got parent %q", byID["broken"].ParentMessageID)
	}
}

func TestRepairIsIdempotent(t *testing.T) {
	ms := store.NewMemoryMessageStore()
	base := time.Now()
	_ = ms.Put(&model.Message{ID: "m1", SessionID: "s1", Timestamp: base})
	_ = ms.Put(&model.Message{ID: "m2", SessionID: "s1", Timestamp: base.Add(time.Second)})

	v := New(ms)
	if _, err := v.Repair("s1"); err != nil {
		t.Fatalf("first repair failed: %v", err)
	}
	first, _ := ms.ListBySessionInChronoOrder("s1")

	if _, err := v.Repair("s1"); err != nil {
		t.Fatalf("second repair failed: %v", err)
	}
	second, _ := ms.ListBySessionInChronoOrder("s1")

	for i := range first {
		if first[i].ID != second[i].ID || first[i].ParentMessageID != second[i].ParentMessageID {
			t.Fatalf("repair not idempotent: %+v vs %+v", first, second)
		}
	}
}
