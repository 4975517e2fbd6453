package pipeline

import (
	"context"
	"strings"
	"sync"

	"convomem/model"
)

// Labels is a non-authoritative title + topic tags derived from a
// session's summary and recent messages, generated on demand and cached
// until the caller asks again.
type Labels struct {
	Title string
	Tags  []string
}

const labelsTitlePrompt = `Generate a short title (3-5 words) for this conversation.
The title should capture the main topic or purpose.
Return only the title, no quotes or extra text.`

const labelsTagsPrompt = `Generate 2-5 relevant tags for this conversation that help categorize it.
Tags should be short (1-3 words each), lowercase, hyphenated (e.g. "api-design").
Return only the tags, comma-separated, no extra text. Maximum 5 tags.`

// labelCache holds the last generated Labels per session. Regeneration
// is explicit (GenerateLabels always recomputes); the cache only serves
// repeat reads between regenerations.
type labelCache struct {
	mu     sync.Mutex
	labels map[string]*Labels
}

func newLabelCache() *labelCache {
	return &labelCache{labels: make(map[string]*Labels)}
}

func (c *labelCache) get(sessionID string) (*Labels, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.labels[sessionID]
	return l, ok
}

func (c *labelCache) put(sessionID string, l *Labels) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labels[sessionID] = l
}

// Labels returns the Labels most recently generated for sessionID, if
// any. Clearing the session's window does not clear them.
func (p *Pipeline) Labels(sessionID string) (*Labels, bool) {
	return p.labelCache.get(sessionID)
}

// GenerateLabels derives a title and topic tags for sessionID from its
// conversation window (summary plus recent messages) through the
// Completer, then caches the result. Returns KindNotFound if the
// session has no window state yet (no messages have been appended).
func (p *Pipeline) GenerateLabels(ctx context.Context, sessionID string) (*Labels, error) {
	winCtx := p.win.Context(sessionID)
	if winCtx.Summary == "" && len(winCtx.RecentMessages) == 0 {
		return nil, model.NewError(model.KindNotFound, "no conversation window state for session "+sessionID, nil)
	}

	conversationText := labelConversationText(winCtx.Summary, winCtx.RecentMessages)

	title, err := p.completer.Complete(ctx, labelsTitlePrompt, "Generate a title for this conversation:\n\n"+conversationText)
	if err != nil {
		return nil, model.NewError(model.KindLLMUnavailable, "failed generating session title", err)
	}

	tagsText, err := p.completer.Complete(ctx, labelsTagsPrompt, "Generate tags for this conversation:\n\n"+conversationText)
	if err != nil {
		return nil, model.NewError(model.KindLLMUnavailable, "failed generating session tags", err)
	}

	labels := &Labels{Title: strings.TrimSpace(title), Tags: splitTags(tagsText)}
	p.labelCache.put(sessionID, labels)
	return labels, nil
}

func labelConversationText(summary string, recent []*model.Message) string {
	var b strings.Builder
	if summary != "" {
		b.WriteString(summary)
		b.WriteString("\n")
	}
	for _, m := range recent {
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	text := b.String()
	if len(text) > 300 {
		text = text[:300] + "..."
	}
	return text
}

func splitTags(raw string) []string {
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.ToLower(strings.TrimSpace(p))
		if t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) > 5 {
		tags = tags[:5]
	}
	return tags
}
