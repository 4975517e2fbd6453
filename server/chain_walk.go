package server

import (
	"sort"

	"convomem/model"
	"convomem/store"
)

// walkChain returns sessionID's messages in chain order: starting from
// each root (ParentMessageID == ""), following ParentMessageID links
// depth-first, siblings ordered by timestamp. This differs from
// ListBySessionInChronoOrder (a flat timestamp sort) by actually
// respecting the parent-link structure the Chain Validator checks.
// Messages not reachable from any root (a missing parent, or a cycle)
// are not included.
func walkChain(messages store.MessageStore, sessionID string) ([]*model.Message, error) {
	all, err := messages.ListBySession(sessionID)
	if err != nil {
		return nil, err
	}

	children := make(map[string][]*model.Message)
	var roots []*model.Message
	for _, m := range all {
		if m.ParentMessageID == "" {
			roots = append(roots, m)
			continue
		}
		children[m.ParentMessageID] = append(children[m.ParentMessageID], m)
	}

	byTimestamp := func(msgs []*model.Message) {
		sort.Slice(msgs, func(i, j int) bool {
			if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
				return msgs[i].ID < msgs[j].ID
			}
			return msgs[i].Timestamp.Before(msgs[j].Timestamp)
		})
	}
	byTimestamp(roots)
	for _, kids := range children {
		byTimestamp(kids)
	}

	ordered := make([]*model.Message, 0, len(all))
	visited := make(map[string]bool, len(all))
	var visit func(m *model.Message)
	visit = func(m *model.Message) {
		if visited[m.ID] {
			return
		}
		visited[m.ID] = true
		ordered = append(ordered, m)
		for _, child := range children[m.ID] {
			visit(child)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return ordered, nil
}
