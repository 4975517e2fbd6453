package window

import (
	"context"
	"testing"

	"convomem/model"
	"convomem/summarizer"
)

func TestAppendRespectsWindowBound(t *testing.T) {
	w := New(Config{Size: 2, MaxSummaryChars: 100}, summarizer.New(nil, 100))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		w.Append(ctx, "s1", &model.Message{ID: string(rune('a' + i)), Role: model.RoleUser, Content: "hello"})
	}

	got := w.Context("s1")
	if len(got.RecentMessages) != 2 {
		t.Fatalf("expected window bounded to 2 messages, got %d", len(got.RecentMessages))
	}
}

func TestEvictedContentFoldedIntoSummaryBeforeNextContext(t *testing.T) {
	w := New(Config{Size: 2, MaxSummaryChars: 1000}, summarizer.New(nil, 1000))
	ctx := context.Background()

	w.Append(ctx, "s1", &model.Message{ID: "m1", Role: model.RoleUser, Content: "My name is Alice."})
	w.Append(ctx, "s1", &model.Message{ID: "m2", Role: model.RoleAssistant, Content: "Nice to meet you."})
	w.Append(ctx, "s1", &model.Message{ID: "m3", Role: model.RoleUser, Content: "I live in Paris."})

	got := w.Context("s1")
	if got.Summary == "" {
		t.Fatalf("expected non-empty summary after eviction")
	}
	if len(got.RecentMessages) != 2 {
		t.Fatalf("expected 2 recent messages, got %d", len(got.RecentMessages))
	}
}

func TestClearRemovesSessionState(t *testing.T) {
	w := New(DefaultConfig(), summarizer.New(nil, 0))
	ctx := context.Background()
	w.Append(ctx, "s1", &model.Message{ID: "m1", Role: model.RoleUser, Content: "hi"})

	w.Clear("s1")
	got := w.Context("s1")
	if len(got.RecentMessages) != 0 || got.Summary != "" {
		t.Fatalf("expected cleared session to be empty, got %+v", got)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	w := New(Config{Size: 1, MaxSummaryChars: 100}, summarizer.New(nil, 100))
	ctx := context.Background()

	w.Append(ctx, "s1", &model.Message{ID: "m1", Role: model.RoleUser, Content: "session one"})
	w.Append(ctx, "s2", &model.Message{ID: "m2", Role: model.RoleUser, Content: "session two"})

	c1 := w.Context("s1")
	c2 := w.Context("s2")
	if len(c1.RecentMessages) != 1 || c1.RecentMessages[0].ID != "m1" {
		t.Fatalf("unexpected s1 state: %+v", c1)
	}
	if len(c2.RecentMessages) != 1 || c2.RecentMessages[0].ID != "m2" {
		t.Fatalf("unexpected s2 state: %+v", c2)
	}
}
