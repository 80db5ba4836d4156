package protocol

import "encoding/json"

// Role is a canonical message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType identifies the kind of a message part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// StopReason is a canonical completion reason.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopSequence  StopReason = "stop_sequence"
)

// Request is the provider-agnostic chat request every format converts through.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
	TopP        *float64
	Stop        []string
	Stream      bool
}

// Message is one conversation turn.
type Message struct {
	Role  Role
	Parts []Part
}

// Part is a piece of message content.
type Part struct {
	Type PartType
	Text string

	// Tool calls and results share the call id; Name is the tool name.
	ToolCallID string
	Name       string

	// Arguments holds a tool call's JSON object.
	Arguments json.RawMessage

	// Result holds a tool result's text; IsError marks failed tool runs.
	Result  string
	IsError bool
}

// Tool is a callable function definition.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Response is the provider-agnostic non-streaming response.
type Response struct {
	ID         string
	Model      string
	Parts      []Part
	StopReason StopReason
	Usage      Usage
}

// Usage counts tokens for one request.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// merge folds u2 into u, keeping the larger value of each counter since
// providers report cumulative totals in streams.
func (u *Usage) merge(u2 Usage) {
	if u2.InputTokens > u.InputTokens {
		u.InputTokens = u2.InputTokens
	}
	if u2.OutputTokens > u.OutputTokens {
		u.OutputTokens = u2.OutputTokens
	}
}

func textParts(text string) []Part {
	if text == "" {
		return nil
	}
	return []Part{{Type: PartText, Text: text}}
}

// joinText concatenates the text parts of ps.
func joinText(ps []Part) string {
	var out string
	for _, p := range ps {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

func objectOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return json.RawMessage("{}")
	}
	return raw
}
