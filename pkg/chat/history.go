package chat

// History is the mutable conversation a run operates on. The agent appends
// to it and callbacks may rewrite it wholesale (trimming, reordering,
// annotating). It is not safe for concurrent use; a run owns its history
// for the duration of the call.
type History struct {
	messages []Message
}

// NewHistory creates a history seeded with the given messages.
func NewHistory(messages ...Message) *History {
	h := &History{messages: make([]Message, 0, len(messages))}
	h.messages = append(h.messages, messages...)
	return h
}

// Messages returns the live backing slice. Mutating the returned elements
// mutates the history.
func (h *History) Messages() []Message {
	return h.messages
}

// SetMessages replaces the conversation wholesale.
func (h *History) SetMessages(messages []Message) {
	h.messages = messages
}

// Append adds messages to the end of the conversation.
func (h *History) Append(messages ...Message) {
	h.messages = append(h.messages, messages...)
}

// Len returns the number of messages.
func (h *History) Len() int {
	return len(h.messages)
}

// Last returns a pointer to the final message, or nil when empty.
func (h *History) Last() *Message {
	if len(h.messages) == 0 {
		return nil
	}
	return &h.messages[len(h.messages)-1]
}

// Snapshot returns a copy of the conversation, detached from the history.
func (h *History) Snapshot() []Message {
	cp := make([]Message, len(h.messages))
	copy(cp, h.messages)
	return cp
}

// EnsureSystem inserts a system message with the given content at index 0
// unless the conversation already starts with exactly that message. It
// returns true when an insertion happened. Empty content is a no-op, so
// repeated calls never produce duplicate system messages.
func (h *History) EnsureSystem(content string) bool {
	if content == "" {
		return false
	}
	if len(h.messages) > 0 &&
		h.messages[0].Role == RoleSystem &&
		h.messages[0].Content == content {
		return false
	}
	h.messages = append([]Message{System(content)}, h.messages...)
	return true
}
