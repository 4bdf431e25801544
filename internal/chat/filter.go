package chat

import "github.com/xkilldash9x/pagepilot/api/schemas"

// VisibleMessages drops hidden messages. Messages whose first text part
// carries the action-result prefix are dropped too, for histories built
// without the Hidden flag.
func VisibleMessages(msgs []schemas.Message) []schemas.Message {
	out := make([]schemas.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Hidden || firstTextIsActionResult(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func firstTextIsActionResult(m schemas.Message) bool {
	for _, p := range m.Parts {
		if p.Type == schemas.PartText {
			return schemas.IsActionResultText(p.Text)
		}
	}
	return false
}
