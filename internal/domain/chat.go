package domain

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is the provider-agnostic chat message shape used by the engine
// and LLM integrations. ToolCalls and ToolCallID are only set on assistant
// messages that request actions and on the tool results answering them.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a model request to run a registered action.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the action name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes a callable action to the model. All parameters are strings.
type Tool struct {
	Name        string
	Description string
	Params      []string
}

// CompletionRequest is a single chat completion call.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	Tools       []Tool
	Temperature *float64
}

// Reply is the outcome of one generation.
type Reply struct {
	Content string
	// Blocked is set when a rail replaced the model output with a refusal.
	Blocked bool
	// Actions lists the registered actions invoked, in call order.
	Actions []string
}
