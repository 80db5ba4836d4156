package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// OpenAI Chat Completions wire types.

type openaiRequest struct {
	Model               string               `json:"model"`
	Messages            []openaiMessage      `json:"messages"`
	Tools               []openaiTool         `json:"tools,omitempty"`
	MaxTokens           int                  `json:"max_tokens,omitempty"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	TopP                *float64             `json:"top_p,omitempty"`
	Stop                json.RawMessage      `json:"stop,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openaiToolCall struct {
	Index    *int               `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []openaiChoice `json:"choices"`
	Usage   *openaiUsage   `json:"usage,omitempty"`
}

type openaiChoice struct {
	Index        int            `json:"index"`
	Message      *openaiMessage `json:"message,omitempty"`
	Delta        *openaiDelta   `json:"delta,omitempty"`
	FinishReason *string        `json:"finish_reason"`
}

type openaiDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   *string          `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func decodeOpenAIRequest(body []byte) (*Request, error) {
	var in openaiRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse openai request: %w", err)
	}

	req := &Request{
		Model:       in.Model,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stream:      in.Stream,
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = in.MaxCompletionTokens
	}

	stop, err := openaiStop(in.Stop)
	if err != nil {
		return nil, fmt.Errorf("parse openai stop: %w", err)
	}
	req.Stop = stop

	var system []string
	for i, m := range in.Messages {
		text, err := openaiContentText(m.Content)
		if err != nil {
			return nil, fmt.Errorf("parse openai message %d: %w", i, err)
		}

		switch m.Role {
		case "system", "developer":
			system = append(system, text)
		case "tool":
			req.Messages = append(req.Messages, Message{
				Role:  RoleUser,
				Parts: []Part{{Type: PartToolResult, ToolCallID: m.ToolCallID, Name: m.Name, Result: text}},
			})
		case "assistant":
			parts := textParts(text)
			for _, tc := range m.ToolCalls {
				parts = append(parts, Part{
					Type:       PartToolCall,
					ToolCallID: tc.ID,
					Name:       tc.Function.Name,
					Arguments:  objectOrEmpty(json.RawMessage(tc.Function.Arguments)),
				})
			}
			req.Messages = append(req.Messages, Message{Role: RoleAssistant, Parts: parts})
		default:
			req.Messages = append(req.Messages, Message{Role: RoleUser, Parts: textParts(text)})
		}
	}
	req.System = strings.Join(system, "\n")

	for _, t := range in.Tools {
		req.Tools = append(req.Tools, Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return req, nil
}

func openaiStop(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
	var list []string
	err := json.Unmarshal(raw, &list)
	return list, err
}

// openaiContentText reads message content that is a string, null, or a list
// of typed parts. Only text parts are kept.
func openaiContentText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

func encodeOpenAIRequest(req *Request) ([]byte, error) {
	out := openaiRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
	}
	if req.Stream {
		out.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}
	if len(req.Stop) > 0 {
		out.Stop, _ = json.Marshal(req.Stop)
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openaiMessage{Role: "system", Content: jsonString(req.System)})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			msg := openaiMessage{Role: "assistant"}
			if text := joinText(m.Parts); text != "" {
				msg.Content = jsonString(text)
			}
			for _, p := range m.Parts {
				if p.Type != PartToolCall {
					continue
				}
				msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
					ID:       p.ToolCallID,
					Type:     "function",
					Function: openaiFunctionCall{Name: p.Name, Arguments: string(objectOrEmpty(p.Arguments))},
				})
			}
			out.Messages = append(out.Messages, msg)
		default:
			// Tool results become separate tool messages and must directly
			// follow the assistant turn that requested them.
			for _, p := range m.Parts {
				if p.Type == PartToolResult {
					out.Messages = append(out.Messages, openaiMessage{
						Role:       "tool",
						ToolCallID: p.ToolCallID,
						Content:    jsonString(p.Result),
					})
				}
			}
			if text := joinText(m.Parts); text != "" || !hasPart(m.Parts, PartToolResult) {
				out.Messages = append(out.Messages, openaiMessage{Role: "user", Content: jsonString(text)})
			}
		}
	}

	for _, t := range req.Tools {
		var tool openaiTool
		tool.Type = "function"
		tool.Function.Name = t.Name
		tool.Function.Description = t.Description
		tool.Function.Parameters = objectOrEmpty(t.Parameters)
		out.Tools = append(out.Tools, tool)
	}
	return json.Marshal(out)
}

func hasPart(ps []Part, t PartType) bool {
	for _, p := range ps {
		if p.Type == t {
			return true
		}
	}
	return false
}

func jsonString(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

func openaiFinishToStop(reason string) StopReason {
	switch reason {
	case "length":
		return StopMaxTokens
	case "tool_calls", "function_call":
		return StopToolUse
	default:
		return StopEndTurn
	}
}

func stopToOpenAIFinish(reason StopReason) string {
	switch reason {
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

func decodeOpenAIResponse(body []byte) (*Response, error) {
	var in openaiResponse
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse openai response: %w", err)
	}

	resp := &Response{ID: in.ID, Model: in.Model, StopReason: StopEndTurn}
	if in.Usage != nil {
		resp.Usage = Usage{InputTokens: in.Usage.PromptTokens, OutputTokens: in.Usage.CompletionTokens}
	}
	if len(in.Choices) == 0 {
		return resp, nil
	}

	choice := in.Choices[0]
	if choice.FinishReason != nil {
		resp.StopReason = openaiFinishToStop(*choice.FinishReason)
	}
	if choice.Message != nil {
		text, err := openaiContentText(choice.Message.Content)
		if err != nil {
			return nil, fmt.Errorf("parse openai response content: %w", err)
		}
		resp.Parts = textParts(text)
		for _, tc := range choice.Message.ToolCalls {
			resp.Parts = append(resp.Parts, Part{
				Type:       PartToolCall,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Arguments:  objectOrEmpty(json.RawMessage(tc.Function.Arguments)),
			})
		}
	}
	return resp, nil
}

func encodeOpenAIResponse(resp *Response) ([]byte, error) {
	msg := &openaiMessage{Role: "assistant", Content: json.RawMessage("null")}
	if text := joinText(resp.Parts); text != "" {
		msg.Content = jsonString(text)
	}
	for _, p := range resp.Parts {
		if p.Type == PartToolCall {
			msg.ToolCalls = append(msg.ToolCalls, openaiToolCall{
				ID:       p.ToolCallID,
				Type:     "function",
				Function: openaiFunctionCall{Name: p.Name, Arguments: string(objectOrEmpty(p.Arguments))},
			})
		}
	}

	finish := stopToOpenAIFinish(resp.StopReason)
	return json.Marshal(openaiResponse{
		ID:      openaiID(resp.ID),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []openaiChoice{{Index: 0, Message: msg, FinishReason: &finish}},
		Usage: &openaiUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	})
}

func openaiID(id string) string {
	if id == "" {
		return "chatcmpl-relay"
	}
	return id
}

// OpenAI streaming.

type openaiDecoder struct {
	started bool
	tools   map[int]bool
}

func newOpenAIDecoder() *openaiDecoder {
	return &openaiDecoder{tools: make(map[int]bool)}
}

func (d *openaiDecoder) decode(f Frame) ([]Delta, bool, error) {
	data := strings.TrimSpace(f.Data)
	if data == "" {
		return nil, false, nil
	}
	if data == "[DONE]" {
		return nil, true, nil
	}

	var chunk openaiResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, false, fmt.Errorf("parse openai stream chunk: %w", err)
	}

	var out []Delta
	if !d.started {
		d.started = true
		out = append(out, Delta{Type: DeltaStart, ID: chunk.ID, Model: chunk.Model})
	}

	for _, c := range chunk.Choices {
		if c.Delta != nil {
			if c.Delta.Content != nil && *c.Delta.Content != "" {
				out = append(out, Delta{Type: DeltaText, Text: *c.Delta.Content})
			}
			for _, tc := range c.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				if !d.tools[idx] && (tc.ID != "" || tc.Function.Name != "") {
					d.tools[idx] = true
					out = append(out, Delta{Type: DeltaToolStart, Index: idx, ToolCallID: tc.ID, Name: tc.Function.Name})
				}
				if tc.Function.Arguments != "" {
					out = append(out, Delta{Type: DeltaToolArgs, Index: idx, Args: tc.Function.Arguments})
				}
			}
		}
		if c.FinishReason != nil && *c.FinishReason != "" {
			out = append(out, Delta{Type: DeltaStop, StopReason: openaiFinishToStop(*c.FinishReason)})
		}
	}

	if chunk.Usage != nil {
		out = append(out, Delta{Type: DeltaUsage, Usage: Usage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
		}})
	}
	return out, false, nil
}

type openaiEncoder struct {
	id       string
	model    string
	created  int64
	roleSent bool
	stop     StopReason
	usage    Usage
}

func newOpenAIEncoder(model string) *openaiEncoder {
	return &openaiEncoder{model: model, created: time.Now().Unix()}
}

func (e *openaiEncoder) chunk(delta openaiDelta, finish *string) Frame {
	if !e.roleSent {
		e.roleSent = true
		delta.Role = "assistant"
	}
	data, _ := json.Marshal(openaiResponse{
		ID:      openaiID(e.id),
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []openaiChoice{{Index: 0, Delta: &delta, FinishReason: finish}},
	})
	return Frame{Data: string(data)}
}

func (e *openaiEncoder) encode(d Delta) []Frame {
	switch d.Type {
	case DeltaStart:
		if d.ID != "" {
			e.id = d.ID
		}
		if e.model == "" {
			e.model = d.Model
		}
	case DeltaUsage:
		e.usage.merge(d.Usage)
	case DeltaStop:
		e.stop = d.StopReason
	case DeltaText:
		text := d.Text
		return []Frame{e.chunk(openaiDelta{Content: &text}, nil)}
	case DeltaToolStart:
		idx := d.Index
		return []Frame{e.chunk(openaiDelta{ToolCalls: []openaiToolCall{{
			Index:    &idx,
			ID:       d.ToolCallID,
			Type:     "function",
			Function: openaiFunctionCall{Name: d.Name},
		}}}, nil)}
	case DeltaToolArgs:
		idx := d.Index
		return []Frame{e.chunk(openaiDelta{ToolCalls: []openaiToolCall{{
			Index:    &idx,
			Function: openaiFunctionCall{Arguments: d.Args},
		}}}, nil)}
	}
	return nil
}

func (e *openaiEncoder) finish() []Frame {
	finish := stopToOpenAIFinish(e.stop)
	out := []Frame{e.chunk(openaiDelta{}, &finish)}

	usage, _ := json.Marshal(openaiResponse{
		ID:      openaiID(e.id),
		Object:  "chat.completion.chunk",
		Created: e.created,
		Model:   e.model,
		Choices: []openaiChoice{},
		Usage: &openaiUsage{
			PromptTokens:     e.usage.InputTokens,
			CompletionTokens: e.usage.OutputTokens,
			TotalTokens:      e.usage.InputTokens + e.usage.OutputTokens,
		},
	})
	out = append(out, Frame{Data: string(usage)})
	return append(out, Frame{Data: "[DONE]"})
}
