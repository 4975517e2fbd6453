// Package prompt implements the Prompt Builder (§4.J): it assembles a
// single prompt string under a character budget, in either a
// structured-message or plain format, trimming lower-priority sections
// first when the budget is tight.
package prompt

import (
	"fmt"
	"strings"

	"convomem/merger"
	"convomem/model"
)

// Format selects the rendered shape of the prompt.
type Format string

const (
	FormatStructured Format = "structured"
	FormatPlain      Format = "plain"
)

const defaultSystemPreamble = "You are a helpful assistant. Use the provided context only if relevant."

// Config controls the length budget and output format.
type Config struct {
	MaxPromptLength int
	Format          Format
}

// DefaultConfig mirrors the spec's example defaults.
func DefaultConfig() Config {
	return Config{MaxPromptLength: 4000, Format: FormatStructured}
}

// Build assembles the prompt for one turn. Assembly priority, highest
// to lowest: the current user turn (must fit, or PROMPT_OVERFLOW),
// recent messages (most recent kept, oldest dropped first), summary
// (truncated to a sentence boundary), retrieved context (trailing
// groups dropped first).
func Build(summary string, recentMessages []*model.Message, groups []merger.ContextGroup, userMessage string, cfg Config) (string, error) {
	if cfg.MaxPromptLength <= 0 {
		cfg = mergeDefaults(cfg)
	}
	render := renderStructured
	if cfg.Format == FormatPlain {
		render = renderPlain
	}

	base := render(defaultSystemPreamble, "", nil, nil, userMessage)
	if len(base) > cfg.MaxPromptLength {
		return "", model.NewError(model.KindPromptOverflow, "user turn alone exceeds the prompt length budget", nil)
	}

	// Keep the maximal prefix of retrieved context groups (oldest-first
	// order is the group slice's natural order; "trailing" groups are
	// the most recently-added, so we drop from the tail).
	keptGroups := groups
	for len(keptGroups) > 0 {
		candidate := render(defaultSystemPreamble, summary, recentMessages, keptGroups, userMessage)
		if len(candidate) <= cfg.MaxPromptLength {
			break
		}
		keptGroups = keptGroups[:len(keptGroups)-1]
	}

	// Truncate (or drop) the summary to a sentence boundary if still
	// over budget.
	keptSummary := summary
	for keptSummary != "" {
		candidate := render(defaultSystemPreamble, keptSummary, recentMessages, keptGroups, userMessage)
		if len(candidate) <= cfg.MaxPromptLength {
			break
		}
		keptSummary = truncateToSentence(keptSummary, len(keptSummary)-1)
	}
	if len(render(defaultSystemPreamble, keptSummary, recentMessages, keptGroups, userMessage)) > cfg.MaxPromptLength {
		keptSummary = ""
	}

	// Drop oldest recent messages until it fits.
	keptRecent := recentMessages
	for len(keptRecent) > 0 {
		candidate := render(defaultSystemPreamble, keptSummary, keptRecent, keptGroups, userMessage)
		if len(candidate) <= cfg.MaxPromptLength {
			break
		}
		keptRecent = keptRecent[1:]
	}

	final := render(defaultSystemPreamble, keptSummary, keptRecent, keptGroups, userMessage)
	if len(final) > cfg.MaxPromptLength {
		return "", model.NewError(model.KindPromptOverflow, "prompt exceeds length budget even after trimming", nil)
	}
	return final, nil
}

func mergeDefaults(cfg Config) Config {
	d := DefaultConfig()
	if cfg.Format != "" {
		d.Format = cfg.Format
	}
	return d
}

func truncateToSentence(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == '.' || cut[i] == '!' || cut[i] == '?' {
			return cut[:i+1]
		}
	}
	return cut
}

func renderStructured(systemPreamble, summary string, recent []*model.Message, groups []merger.ContextGroup, userMessage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<system>\n%s\n</system>\n", systemPreamble)

	if summary != "" {
		fmt.Fprintf(&b, "<system>\nSummary of earlier conversation:\n%s\n</system>\n", summary)
	}

	if len(groups) > 0 {
		b.WriteString("<system>\nRetrieved context:\n")
		for i, g := range groups {
			fmt.Fprintf(&b, "[group %d, t=%s] %s\n", i, g.EarliestTimestamp.Format("2006-01-02T15:04:05"), combinedText(g))
		}
		b.WriteString("</system>\n")
	}

	b.WriteString("<recent>\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("</recent>\n")

	fmt.Fprintf(&b, "<user>%s</user>", userMessage)
	return b.String()
}

func renderPlain(systemPreamble, summary string, recent []*model.Message, groups []merger.ContextGroup, userMessage string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SYSTEM:\n%s\n\n", systemPreamble)

	if summary != "" {
		fmt.Fprintf(&b, "SUMMARY OF EARLIER CONVERSATION:\n%s\n\n", summary)
	}

	if len(groups) > 0 {
		b.WriteString("RETRIEVED CONTEXT:\n")
		for i, g := range groups {
			fmt.Fprintf(&b, "[group %d, t=%s] %s\n", i, g.EarliestTimestamp.Format("2006-01-02T15:04:05"), combinedText(g))
		}
		b.WriteString("\n")
	}

	b.WriteString("RECENT MESSAGES:\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "USER:\n%s", userMessage)
	return b.String()
}

func combinedText(g merger.ContextGroup) string {
	var b strings.Builder
	for i, c := range g.Chunks {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(c.Text)
	}
	return b.String()
}
