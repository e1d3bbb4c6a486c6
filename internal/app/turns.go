package app

import "encoding/json"

// VisibleItem is one renderable entry of a session's message list, annotated
// with pairing and turn-grouping hints. Annotation never alters or deletes a
// message; it only shapes how the renderer treats it.
type VisibleItem struct {
	Message Message

	// CallArgs carries the original tool_call arguments on a tool_result
	// item whose paired call was collapsed out of the list.
	CallArgs json.RawMessage

	// CallTurnIndex is the collapsed call's turn index. Grouping reads the
	// turn index from the call first, falling back to the result's own
	// metadata, so runtimes that tag only the call still group correctly.
	CallTurnIndex *int

	// Turn-group annotation, set only on tool items.
	InGroup          bool
	GroupIndex       int // ordinal among all groups in the session
	GroupSize        int
	WillBeCompressed bool
}

// BuildVisibleItems derives the renderable list from the persisted log. A
// tool_call that has a paired tool_result (same toolCallId) is dropped
// entirely; the result alone renders, carrying the call's args. Messages with
// unparseable metadata degrade to plain items.
func BuildVisibleItems(messages []Message) []VisibleItem {
	resolved := make(map[string]bool)
	callArgs := make(map[string]json.RawMessage)
	callTurn := make(map[string]*int)
	for _, msg := range messages {
		meta := msg.Meta()
		if meta.ToolCallID == "" {
			continue
		}
		switch msg.Type {
		case MessageToolCall:
			callArgs[meta.ToolCallID] = meta.Args
			callTurn[meta.ToolCallID] = meta.TurnIndex
		case MessageToolResult:
			resolved[meta.ToolCallID] = true
		}
	}

	items := make([]VisibleItem, 0, len(messages))
	for _, msg := range messages {
		meta := msg.Meta()
		if msg.Type == MessageToolCall && meta.ToolCallID != "" && resolved[meta.ToolCallID] {
			continue
		}
		item := VisibleItem{Message: msg}
		if msg.Type == MessageToolResult && meta.ToolCallID != "" {
			item.CallArgs = callArgs[meta.ToolCallID]
			item.CallTurnIndex = callTurn[meta.ToolCallID]
		}
		items = append(items, item)
	}
	return items
}

// turnKey is the grouping key for one item. Items without a turn index never
// merge with a neighbor, so each gets a distinct key.
type turnKey struct {
	index int
	known bool
	seq   int // disambiguates consecutive unknown-index items
}

func itemTurnKey(item VisibleItem, seq int) turnKey {
	if item.CallTurnIndex != nil {
		return turnKey{index: *item.CallTurnIndex, known: true}
	}
	meta := item.Message.Meta()
	if meta.TurnIndex != nil {
		return turnKey{index: *meta.TurnIndex, known: true}
	}
	return turnKey{seq: seq}
}

// GroupTurns annotates consecutive tool items sharing a turn index as turn
// groups and marks every group outside the most recent keepRecent as eligible
// for compression. keepRecent <= 0 compresses all groups. Pure function: the
// input slice is annotated in place and returned, no message is removed.
func GroupTurns(items []VisibleItem, keepRecent int) []VisibleItem {
	type span struct{ start, end int } // [start, end)
	var spans []span

	seq := 0
	for i := 0; i < len(items); {
		if !items[i].Message.IsToolItem() {
			i++
			continue
		}
		seq++
		key := itemTurnKey(items[i], seq)
		j := i + 1
		for key.known && j < len(items) && items[j].Message.IsToolItem() {
			if itemTurnKey(items[j], seq) != key {
				break
			}
			j++
		}
		spans = append(spans, span{start: i, end: j})
		i = j
	}

	total := len(spans)
	for gi, sp := range spans {
		compressed := gi < total-keepRecent
		for i := sp.start; i < sp.end; i++ {
			items[i].InGroup = true
			items[i].GroupIndex = gi
			items[i].GroupSize = sp.end - sp.start
			items[i].WillBeCompressed = compressed
		}
	}
	return items
}
