// Package summarizer implements the Summarizer (§4.G): it folds
// evicted conversation window content into a running textual summary
// via an LLM completion, with a degraded deterministic fallback when
// the LLM is unavailable.
package summarizer

import (
	"context"
	"fmt"
	"strings"

	"convomem/llmclient"
	"convomem/log"
	"convomem/model"
)

const systemPrompt = "Produce a concise, factual running summary of the conversation preserving: " +
	"user identity and preferences; established facts; open questions; recent decisions."

// Summarizer folds previousSummary plus newly-evicted messages into a
// new summary string, bounded to maxChars. It is stateless and safe for
// concurrent use by multiple conversation windows.
type Summarizer struct {
	completer llmclient.Completer
	maxChars  int
}

// New builds a Summarizer. maxChars bounds the returned string; 0 means
// unbounded.
func New(completer llmclient.Completer, maxChars int) *Summarizer {
	return &Summarizer{completer: completer, maxChars: maxChars}
}

// Fold produces a new summary from previousSummary and messagesToFold.
// It never silently drops input: on LLM failure it falls back to a
// deterministic concatenation rather than discarding the evicted
// content.
func (s *Summarizer) Fold(ctx context.Context, previousSummary string, messagesToFold []*model.Message) string {
	if len(messagesToFold) == 0 {
		return previousSummary
	}

	if s.completer != nil {
		prompt := buildFoldPrompt(previousSummary, messagesToFold)
		result, err := s.completer.Complete(ctx, systemPrompt, prompt)
		if err == nil && strings.TrimSpace(result) != "" {
			return bound(strings.TrimSpace(result), s.maxChars)
		}
		log.Log.Warnf("summarizer: fold via LLM failed, using degraded fallback: %v", err)
	}

	return bound(degradedFold(previousSummary, messagesToFold), s.maxChars)
}

func buildFoldPrompt(previousSummary string, messages []*model.Message) string {
	var b strings.Builder
	if previousSummary != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(previousSummary)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages to fold in:\n")
	for _, m := range messages {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// degradedFold concatenates previousSummary with the first sentence of
// each folded message, used when the LLM is unavailable.
func degradedFold(previousSummary string, messages []*model.Message) string {
	var b strings.Builder
	if previousSummary != "" {
		b.WriteString(previousSummary)
	}
	for _, m := range messages {
		sentence := firstSentence(m.Content)
		if sentence == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, sentence)
	}
	return b.String()
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(text[:i+1])
		}
	}
	return text
}

// bound truncates s to at most maxChars, cutting at the last sentence
// boundary found before the limit when one exists.
func bound(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	truncated := s[:maxChars]
	if idx := lastSentenceBoundary(truncated); idx > 0 {
		return truncated[:idx]
	}
	return truncated
}

func lastSentenceBoundary(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' || s[i] == '!' || s[i] == '?' {
			return i + 1
		}
	}
	return -1
}
