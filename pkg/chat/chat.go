// Package chat defines the conversation data model shared by the agent
// loop, engines, and callbacks: messages, tool calls, and a mutable
// history container.
package chat

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
}

// ToolCall is a tool invocation requested by the model. Arguments is the
// serialized JSON object exactly as the model emitted it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// System builds a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User builds a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Assistant builds an assistant message.
func Assistant(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// ToolReply builds the tool message paired with a tool call. The call's id
// and name are copied so the reply can be matched back to its request.
func ToolReply(call ToolCall, output string) Message {
	return Message{
		Role:       RoleTool,
		Content:    output,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
