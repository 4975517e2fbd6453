// Package chain implements the Chain Validator (§4.E): it checks that a
// session's messages form a single well-formed parent-chain (one root,
// no cycles, strictly increasing timestamps along every edge, every
// parent reference resolvable) and can repair a broken chain by
// re-linking orphaned messages in timestamp order.
package chain

import (
	"sort"
	"time"

	"convomem/model"
	"convomem/store"
)

// Issue describes one defect found in a session's chain.
type Issue struct {
	Kind      string // "cycle", "missing_parent", "multiple_roots", "non_monotonic_timestamp"
	MessageID string
	Detail    string
}

// Report is the result of validating one session's chain.
type Report struct {
	SessionID string
	Valid     bool
	Issues    []Issue
}

// Validator checks and repairs message chains against a MessageStore.
type Validator struct {
	messages store.MessageStore
}

// New builds a Validator over messages.
func New(messages store.MessageStore) *Validator {
	return &Validator{messages: messages}
}

// Validate inspects sessionID's chain and reports every defect found.
// An empty session is trivially valid.
func Validate(sessionID string, msgs []*model.Message) *Report {
	report := &Report{SessionID: sessionID, Valid: true}
	if len(msgs) == 0 {
		return report
	}

	byID := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	roots := 0
	for _, m := range msgs {
		if !m.HasParent() {
			roots++
			continue
		}
		parent, ok := byID[m.ParentMessageID]
		if !ok {
			report.Issues = append(report.Issues, Issue{
				Kind: "missing_parent", MessageID: m.ID,
				Detail: "parent " + m.ParentMessageID + " not found in session",
			})
			continue
		}
		if !m.Timestamp.After(parent.Timestamp) {
			report.Issues = append(report.Issues, Issue{
				Kind: "non_monotonic_timestamp", MessageID: m.ID,
				Detail: "timestamp does not exceed parent's",
			})
		}
	}

	if roots == 0 {
		report.Issues = append(report.Issues, Issue{Kind: "missing_parent", Detail: "no root message found"})
	} else if roots > 1 {
		report.Issues = append(report.Issues, Issue{Kind: "multiple_roots", Detail: "session has more than one root message"})
	}

	if cyc := findCycle(msgs, byID); cyc != "" {
		report.Issues = append(report.Issues, Issue{Kind: "cycle", MessageID: cyc, Detail: "parent chain contains a cycle"})
	}

	report.Valid = len(report.Issues) == 0
	return report
}

// findCycle walks each message's parent chain looking for a repeated
// node; returns the first message ID found inside a cycle, or "".
func findCycle(msgs []*model.Message, byID map[string]*model.Message) string {
	state := make(map[string]int, len(msgs)) // 0=unvisited 1=visiting 2=done
	var walk func(id string) string
	walk = func(id string) string {
		for id != "" {
			switch state[id] {
			case 2:
				return ""
			case 1:
				return id
			}
			state[id] = 1
			m, ok := byID[id]
			if !ok {
				state[id] = 2
				return ""
			}
			if m.ParentMessageID == "" {
				state[id] = 2
				return ""
			}
			if state[m.ParentMessageID] == 1 {
				return m.ParentMessageID
			}
			id = m.ParentMessageID
		}
		return ""
	}
	for _, m := range msgs {
		if state[m.ID] == 0 {
			if cyc := walk(m.ID); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}

// Repair relinks only the broken or orphaned messages in a session,
// leaving every already-valid parent link (and any legitimate sibling
// branching) untouched. The chronologically earliest message is the
// session's anchor and always ends up as its root. A message is
// broken/orphan if its parent reference doesn't resolve, if it sits
// inside a cycle, if it's a root other than the anchor, or if walking
// up its ancestor chain never reaches the anchor. Each such message is
// relinked to the most recent prior message (by timestamp) already
// known to be part of the tree; the anchor itself, having nothing
// before it, becomes the root. Repair is idempotent: running it twice
// produces the same chain.
func (v *Validator) Repair(sessionID string) (*Report, error) {
	msgs, err := v.messages.ListBySessionInChronoOrder(sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return &Report{SessionID: sessionID, Valid: true}, nil
	}

	byID := make(map[string]*model.Message, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
	}

	sorted := make([]*model.Message, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	anchor := sorted[0]

	broken := make(map[string]bool)
	for _, m := range msgs {
		if m.HasParent() {
			if _, ok := byID[m.ParentMessageID]; !ok {
				broken[m.ID] = true
			}
		}
	}
	for _, id := range cycleMembers(msgs, byID) {
		broken[id] = true
	}

	// Nothing can legitimately precede the anchor, so any parent
	// reference on it is invalid even if it happens to resolve.
	if anchor.HasParent() {
		broken[anchor.ID] = true
	}
	// Only the anchor may be rootless; every other root is an orphan.
	for _, m := range msgs {
		if !m.HasParent() && m.ID != anchor.ID {
			broken[m.ID] = true
		}
	}

	// Anything not reachable from the anchor through still-valid links
	// is effectively disconnected even if its own parent reference
	// resolves, since that ancestor is itself broken.
	children := make(map[string][]*model.Message)
	for _, m := range msgs {
		if m.HasParent() && !broken[m.ID] {
			children[m.ParentMessageID] = append(children[m.ParentMessageID], m)
		}
	}
	reachable := make(map[string]bool, len(msgs))
	var walk func(id string)
	walk = func(id string) {
		for _, c := range children[id] {
			if reachable[c.ID] {
				continue
			}
			reachable[c.ID] = true
			walk(c.ID)
		}
	}
	reachable[anchor.ID] = true
	walk(anchor.ID)
	for _, m := range msgs {
		if !reachable[m.ID] {
			broken[m.ID] = true
		}
	}

	if len(broken) == 0 {
		return Validate(sessionID, msgs), nil
	}

	var mostRecentValid *model.Message
	for _, m := range sorted {
		if !broken[m.ID] {
			if mostRecentValid == nil || m.Timestamp.After(mostRecentValid.Timestamp) {
				mostRecentValid = m
			}
			continue
		}
		if mostRecentValid == nil {
			m.ParentMessageID = ""
		} else {
			m.ParentMessageID = mostRecentValid.ID
			if !m.Timestamp.After(mostRecentValid.Timestamp) {
				m.Timestamp = mostRecentValid.Timestamp.Add(time.Nanosecond)
			}
		}
		mostRecentValid = m
	}

	if err := v.persist(sessionID, sorted); err != nil {
		return nil, err
	}

	return Validate(sessionID, sorted), nil
}

// cycleMembers returns every message ID that sits on a parent-chain
// cycle, not just the single representative findCycle reports.
func cycleMembers(msgs []*model.Message, byID map[string]*model.Message) []string {
	state := make(map[string]int, len(msgs)) // 0=unvisited 1=visiting 2=done
	var members []string
	for _, start := range msgs {
		if state[start.ID] != 0 {
			continue
		}

		var path []string
		cur := start.ID
		for cur != "" && state[cur] == 0 {
			state[cur] = 1
			path = append(path, cur)
			m, ok := byID[cur]
			if !ok || m.ParentMessageID == "" {
				cur = ""
				break
			}
			cur = m.ParentMessageID
		}

		// cur revisiting a node still marked "visiting" means everything
		// from that node to the end of path forms a cycle.
		if cur != "" && state[cur] == 1 {
			idx := -1
			for i, p := range path {
				if p == cur {
					idx = i
					break
				}
			}
			if idx >= 0 {
				members = append(members, path[idx:]...)
			}
		}

		for _, p := range path {
			state[p] = 2
		}
	}
	return members
}

// persist replaces sessionID's stored messages with the repaired set.
func (v *Validator) persist(sessionID string, repaired []*model.Message) error {
	if err := v.messages.DeleteBySession(sessionID); err != nil {
		return err
	}
	for _, m := range repaired {
		if err := v.messages.Put(m); err != nil {
			return err
		}
	}
	return nil
}
