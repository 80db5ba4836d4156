package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Anthropic Messages API wire types.

type anthropicRequest struct {
	Model         string             `json:"model"`
	System        json.RawMessage    `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID           string           `json:"id"`
	Type         string           `json:"type"`
	Role         string           `json:"role"`
	Content      []anthropicBlock `json:"content"`
	Model        string           `json:"model"`
	StopReason   string           `json:"stop_reason"`
	StopSequence *string          `json:"stop_sequence"`
	Usage        anthropicUsage   `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// DefaultMaxTokens is used when converting into Anthropic format from a
// request that did not set a limit, since the field is required there.
const DefaultMaxTokens = 4096

func decodeAnthropicRequest(body []byte) (*Request, error) {
	var in anthropicRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse anthropic request: %w", err)
	}

	req := &Request{
		Model:       in.Model,
		MaxTokens:   in.MaxTokens,
		Temperature: in.Temperature,
		TopP:        in.TopP,
		Stop:        in.StopSequences,
		Stream:      in.Stream,
	}

	system, err := anthropicText(in.System)
	if err != nil {
		return nil, fmt.Errorf("parse anthropic system: %w", err)
	}
	req.System = system

	for i, m := range in.Messages {
		parts, err := decodeAnthropicContent(m.Content)
		if err != nil {
			return nil, fmt.Errorf("parse anthropic message %d: %w", i, err)
		}
		req.Messages = append(req.Messages, Message{Role: Role(m.Role), Parts: parts})
	}

	for _, t := range in.Tools {
		req.Tools = append(req.Tools, Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema})
	}
	return req, nil
}

// anthropicText reads a field that is either a string or a list of text blocks.
func anthropicText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	}
	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

func decodeAnthropicContent(raw json.RawMessage) ([]Part, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return textParts(s), nil
	}

	var blocks []anthropicBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return decodeAnthropicBlocks(blocks)
}

func decodeAnthropicBlocks(blocks []anthropicBlock) ([]Part, error) {
	var parts []Part
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, Part{Type: PartText, Text: b.Text})
		case "tool_use":
			parts = append(parts, Part{
				Type:       PartToolCall,
				ToolCallID: b.ID,
				Name:       b.Name,
				Arguments:  objectOrEmpty(b.Input),
			})
		case "tool_result":
			result, err := anthropicText(b.Content)
			if err != nil {
				return nil, fmt.Errorf("tool_result %s: %w", b.ToolUseID, err)
			}
			parts = append(parts, Part{
				Type:       PartToolResult,
				ToolCallID: b.ToolUseID,
				Result:     result,
				IsError:    b.IsError,
			})
		}
		// Images, documents and thinking blocks have no equivalent in every
		// format and are dropped.
	}
	return parts, nil
}

func encodeAnthropicRequest(req *Request) ([]byte, error) {
	out := anthropicRequest{
		Model:         req.Model,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.Stop,
		Stream:        req.Stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if req.System != "" {
		out.System, _ = json.Marshal(req.System)
	}

	// Anthropic requires alternating roles, so consecutive turns from the same
	// role (for example several tool results) are merged.
	var merged []Message
	for _, m := range req.Messages {
		if n := len(merged); n > 0 && merged[n-1].Role == m.Role {
			merged[n-1].Parts = append(merged[n-1].Parts, m.Parts...)
			continue
		}
		merged = append(merged, Message{Role: m.Role, Parts: append([]Part(nil), m.Parts...)})
	}

	for _, m := range merged {
		content, err := encodeAnthropicContent(m.Parts)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, anthropicMessage{Role: string(m.Role), Content: content})
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: objectOrEmpty(t.Parameters),
		})
	}
	return json.Marshal(out)
}

func encodeAnthropicContent(parts []Part) (json.RawMessage, error) {
	if len(parts) == 1 && parts[0].Type == PartText {
		return json.Marshal(parts[0].Text)
	}
	blocks := encodeAnthropicBlocks(parts)
	if blocks == nil {
		blocks = []anthropicBlock{}
	}
	return json.Marshal(blocks)
}

func encodeAnthropicBlocks(parts []Part) []anthropicBlock {
	var blocks []anthropicBlock
	for _, p := range parts {
		switch p.Type {
		case PartText:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
		case PartToolCall:
			blocks = append(blocks, anthropicBlock{
				Type:  "tool_use",
				ID:    p.ToolCallID,
				Name:  p.Name,
				Input: objectOrEmpty(p.Arguments),
			})
		case PartToolResult:
			content, _ := json.Marshal(p.Result)
			blocks = append(blocks, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: p.ToolCallID,
				Content:   content,
				IsError:   p.IsError,
			})
		}
	}
	return blocks
}

func decodeAnthropicResponse(body []byte) (*Response, error) {
	var in anthropicResponse
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	parts, err := decodeAnthropicBlocks(in.Content)
	if err != nil {
		return nil, err
	}
	return &Response{
		ID:         in.ID,
		Model:      in.Model,
		Parts:      parts,
		StopReason: StopReason(in.StopReason),
		Usage:      Usage{InputTokens: in.Usage.InputTokens, OutputTokens: in.Usage.OutputTokens},
	}, nil
}

func encodeAnthropicResponse(resp *Response) ([]byte, error) {
	blocks := encodeAnthropicBlocks(resp.Parts)
	if blocks == nil {
		blocks = []anthropicBlock{}
	}
	stop := resp.StopReason
	if stop == "" {
		stop = StopEndTurn
	}
	return json.Marshal(anthropicResponse{
		ID:         anthropicID(resp.ID),
		Type:       "message",
		Role:       "assistant",
		Content:    blocks,
		Model:      resp.Model,
		StopReason: string(stop),
		Usage:      anthropicUsage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	})
}

func anthropicID(id string) string {
	if id == "" {
		return "msg_relay"
	}
	if strings.HasPrefix(id, "msg_") {
		return id
	}
	return "msg_" + id
}

// Anthropic streaming.

type anthropicStreamEvent struct {
	Type    string             `json:"type"`
	Message *anthropicResponse `json:"message,omitempty"`

	Index        int             `json:"index"`
	ContentBlock *anthropicBlock `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta,omitempty"`

	Usage *anthropicUsage `json:"usage,omitempty"`

	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicDecoder struct {
	toolIndex map[int]int
	nextTool  int
}

func newAnthropicDecoder() *anthropicDecoder {
	return &anthropicDecoder{toolIndex: make(map[int]int)}
}

func (d *anthropicDecoder) decode(f Frame) ([]Delta, bool, error) {
	if strings.TrimSpace(f.Data) == "" {
		return nil, false, nil
	}
	var ev anthropicStreamEvent
	if err := json.Unmarshal([]byte(f.Data), &ev); err != nil {
		return nil, false, fmt.Errorf("parse anthropic stream event: %w", err)
	}
	if ev.Type == "" {
		ev.Type = f.Event
	}

	switch ev.Type {
	case "message_start":
		if ev.Message == nil {
			return nil, false, nil
		}
		return []Delta{
			{Type: DeltaStart, ID: ev.Message.ID, Model: ev.Message.Model},
			{Type: DeltaUsage, Usage: Usage{InputTokens: ev.Message.Usage.InputTokens, OutputTokens: ev.Message.Usage.OutputTokens}},
		}, false, nil

	case "content_block_start":
		if ev.ContentBlock == nil {
			return nil, false, nil
		}
		switch ev.ContentBlock.Type {
		case "tool_use":
			idx := d.nextTool
			d.nextTool++
			d.toolIndex[ev.Index] = idx
			return []Delta{{Type: DeltaToolStart, Index: idx, ToolCallID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}}, false, nil
		case "text":
			if ev.ContentBlock.Text != "" {
				return []Delta{{Type: DeltaText, Text: ev.ContentBlock.Text}}, false, nil
			}
		}
		return nil, false, nil

	case "content_block_delta":
		if ev.Delta == nil {
			return nil, false, nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []Delta{{Type: DeltaText, Text: ev.Delta.Text}}, false, nil
		case "input_json_delta":
			idx, ok := d.toolIndex[ev.Index]
			if !ok {
				return nil, false, nil
			}
			return []Delta{{Type: DeltaToolArgs, Index: idx, Args: ev.Delta.PartialJSON}}, false, nil
		}
		return nil, false, nil

	case "message_delta":
		var out []Delta
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			out = append(out, Delta{Type: DeltaStop, StopReason: StopReason(ev.Delta.StopReason)})
		}
		if ev.Usage != nil {
			out = append(out, Delta{Type: DeltaUsage, Usage: Usage{InputTokens: ev.Usage.InputTokens, OutputTokens: ev.Usage.OutputTokens}})
		}
		return out, false, nil

	case "message_stop":
		return nil, true, nil

	case "error":
		msg := "unknown stream error"
		if ev.Error != nil {
			msg = ev.Error.Type + ": " + ev.Error.Message
		}
		return nil, false, fmt.Errorf("upstream stream error: %s", msg)
	}
	return nil, false, nil
}

type anthropicEncoder struct {
	model   string
	id      string
	started bool

	// open is the currently open content block index, -1 when none.
	open      int
	openText  bool
	nextBlock int
	toolBlock map[int]int

	stop  StopReason
	usage Usage
}

func newAnthropicEncoder(model string) *anthropicEncoder {
	return &anthropicEncoder{model: model, open: -1, toolBlock: make(map[int]int)}
}

func (e *anthropicEncoder) frame(event string, v interface{}) Frame {
	data, _ := json.Marshal(v)
	return Frame{Event: event, Data: string(data)}
}

func (e *anthropicEncoder) start() []Frame {
	if e.started {
		return nil
	}
	e.started = true
	return []Frame{e.frame("message_start", map[string]interface{}{
		"type": "message_start",
		"message": map[string]interface{}{
			"id":            anthropicID(e.id),
			"type":          "message",
			"role":          "assistant",
			"model":         e.model,
			"content":       []interface{}{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int64{"input_tokens": e.usage.InputTokens, "output_tokens": 0},
		},
	})}
}

func (e *anthropicEncoder) closeBlock() []Frame {
	if e.open < 0 {
		return nil
	}
	f := e.frame("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": e.open})
	e.open = -1
	return []Frame{f}
}

func (e *anthropicEncoder) encode(d Delta) []Frame {
	switch d.Type {
	case DeltaStart:
		if d.ID != "" {
			e.id = d.ID
		}
		if e.model == "" {
			e.model = d.Model
		}
		return nil

	case DeltaUsage:
		e.usage.merge(d.Usage)
		return nil

	case DeltaStop:
		e.stop = d.StopReason
		return nil

	case DeltaText:
		out := e.start()
		if e.open < 0 || !e.openText {
			out = append(out, e.closeBlock()...)
			e.open, e.openText = e.nextBlock, true
			e.nextBlock++
			out = append(out, e.frame("content_block_start", map[string]interface{}{
				"type":          "content_block_start",
				"index":         e.open,
				"content_block": map[string]string{"type": "text", "text": ""},
			}))
		}
		return append(out, e.frame("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": e.open,
			"delta": map[string]string{"type": "text_delta", "text": d.Text},
		}))

	case DeltaToolStart:
		out := e.start()
		out = append(out, e.closeBlock()...)
		e.open, e.openText = e.nextBlock, false
		e.toolBlock[d.Index] = e.open
		e.nextBlock++
		return append(out, e.frame("content_block_start", map[string]interface{}{
			"type":  "content_block_start",
			"index": e.open,
			"content_block": map[string]interface{}{
				"type":  "tool_use",
				"id":    d.ToolCallID,
				"name":  d.Name,
				"input": map[string]interface{}{},
			},
		}))

	case DeltaToolArgs:
		block, ok := e.toolBlock[d.Index]
		if !ok || d.Args == "" {
			return nil
		}
		return []Frame{e.frame("content_block_delta", map[string]interface{}{
			"type":  "content_block_delta",
			"index": block,
			"delta": map[string]string{"type": "input_json_delta", "partial_json": d.Args},
		})}
	}
	return nil
}

func (e *anthropicEncoder) finish() []Frame {
	out := e.start()
	out = append(out, e.closeBlock()...)
	stop := e.stop
	if stop == "" {
		stop = StopEndTurn
	}
	out = append(out, e.frame("message_delta", map[string]interface{}{
		"type":  "message_delta",
		"delta": map[string]interface{}{"stop_reason": stop, "stop_sequence": nil},
		"usage": map[string]int64{"output_tokens": e.usage.OutputTokens},
	}))
	return append(out, e.frame("message_stop", map[string]string{"type": "message_stop"}))
}
