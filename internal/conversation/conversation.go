// Package conversation defines the message shape shared by every guard
// surface that walks conversation history.
package conversation

import "strings"

// Roles a message can carry at the guard boundary. RoleFunction is the
// legacy spelling of RoleTool some chat APIs still emit; the guard
// treats the two identically.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleFunction  = "function"
)

// PartText marks a text block in a multi-part message.
const PartText = "text"

// Part is one block of a multi-part message. Only text parts are
// scannable; every other type passes through the guard untouched.
type Part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is a single conversation entry. Plain messages carry Content;
// multi-part messages carry Parts and leave Content empty. Name and
// ToolCallID ride along for tool/function messages so re-serialized
// history stays wire-complete; the guard never scans them.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	Parts      []Part `json:"parts,omitempty"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Text returns the scannable text of the message: Content for plain
// messages, the text parts joined by newlines for multi-part ones. The
// envelope itself is never part of the scan target.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText || (p.Type == "" && p.Text != "") {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// UserContents returns the scannable text of every user-role message,
// in order.
func UserContents(messages []Message) []string {
	var out []string
	for _, m := range messages {
		if m.Role == RoleUser {
			out = append(out, m.Text())
		}
	}
	return out
}

// LastUser returns the index of the last user-role message, or -1.
func LastUser(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}
