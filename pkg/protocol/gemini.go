package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Gemini generateContent wire types.

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	TotalTokenCount      int64 `json:"totalTokenCount"`
}

// decodeGeminiRequest parses a Gemini body. The model and streaming mode are
// not part of the body and must be filled in from the request path.
func decodeGeminiRequest(body []byte) (*Request, error) {
	var in geminiRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse gemini request: %w", err)
	}

	req := &Request{}
	if in.SystemInstruction != nil {
		req.System = geminiText(in.SystemInstruction.Parts)
	}
	if gc := in.GenerationConfig; gc != nil {
		req.MaxTokens = gc.MaxOutputTokens
		req.Temperature = gc.Temperature
		req.TopP = gc.TopP
		req.Stop = gc.StopSequences
	}

	// Gemini has no call ids; calls and their responses are paired by name
	// in order of appearance.
	var calls int
	pending := make(map[string][]string)

	for _, c := range in.Contents {
		role := RoleUser
		if c.Role == "model" {
			role = RoleAssistant
		}
		var parts []Part
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				id := "call_" + strconv.Itoa(calls)
				calls++
				pending[p.FunctionCall.Name] = append(pending[p.FunctionCall.Name], id)
				parts = append(parts, Part{
					Type:       PartToolCall,
					ToolCallID: id,
					Name:       p.FunctionCall.Name,
					Arguments:  objectOrEmpty(p.FunctionCall.Args),
				})
			case p.FunctionResponse != nil:
				name := p.FunctionResponse.Name
				id := name
				if ids := pending[name]; len(ids) > 0 {
					id, pending[name] = ids[0], ids[1:]
				}
				parts = append(parts, Part{
					Type:       PartToolResult,
					ToolCallID: id,
					Name:       name,
					Result:     geminiResultText(p.FunctionResponse.Response),
				})
			case p.Text != "":
				parts = append(parts, Part{Type: PartText, Text: p.Text})
			}
		}
		req.Messages = append(req.Messages, Message{Role: role, Parts: parts})
	}

	for _, t := range in.Tools {
		for _, fd := range t.FunctionDeclarations {
			req.Tools = append(req.Tools, Tool{Name: fd.Name, Description: fd.Description, Parameters: fd.Parameters})
		}
	}
	return req, nil
}

func geminiText(parts []geminiPart) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// geminiResultText unwraps {"result": "..."} responses and otherwise keeps
// the raw JSON.
func geminiResultText(raw json.RawMessage) string {
	var wrapped struct {
		Result *string `json:"result"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Result != nil {
		return *wrapped.Result
	}
	return string(raw)
}

func encodeGeminiRequest(req *Request) ([]byte, error) {
	out := geminiRequest{Contents: []geminiContent{}}
	if req.System != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.MaxTokens > 0 || req.Temperature != nil || req.TopP != nil || len(req.Stop) > 0 {
		out.GenerationConfig = &geminiGenerationConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			StopSequences:   req.Stop,
		}
	}

	// Function responses are keyed by name, so remember each call id's tool.
	names := make(map[string]string)
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			if p.Type == PartToolCall {
				names[p.ToolCallID] = p.Name
			}
		}
	}

	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		content := geminiContent{Role: role, Parts: []geminiPart{}}
		for _, p := range m.Parts {
			switch p.Type {
			case PartText:
				content.Parts = append(content.Parts, geminiPart{Text: p.Text})
			case PartToolCall:
				content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
					Name: p.Name,
					Args: objectOrEmpty(p.Arguments),
				}})
			case PartToolResult:
				name := p.Name
				if name == "" {
					name = names[p.ToolCallID]
				}
				resp, _ := json.Marshal(map[string]string{"result": p.Result})
				content.Parts = append(content.Parts, geminiPart{FunctionResponse: &geminiFunctionResponse{
					Name:     name,
					Response: resp,
				}})
			}
		}
		if len(content.Parts) > 0 {
			out.Contents = append(out.Contents, content)
		}
	}

	if len(req.Tools) > 0 {
		var decls []geminiFunctionDeclaration
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		out.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	return json.Marshal(out)
}

func geminiFinishToStop(reason string, hasCalls bool) StopReason {
	switch reason {
	case "MAX_TOKENS":
		return StopMaxTokens
	case "":
		return ""
	}
	if hasCalls {
		return StopToolUse
	}
	return StopEndTurn
}

func stopToGeminiFinish(reason StopReason) string {
	if reason == StopMaxTokens {
		return "MAX_TOKENS"
	}
	return "STOP"
}

func decodeGeminiResponse(body []byte) (*Response, error) {
	var in geminiResponse
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	resp := &Response{ID: in.ResponseID, Model: in.ModelVersion, StopReason: StopEndTurn}
	if in.UsageMetadata != nil {
		resp.Usage = Usage{InputTokens: in.UsageMetadata.PromptTokenCount, OutputTokens: in.UsageMetadata.CandidatesTokenCount}
	}
	if len(in.Candidates) == 0 {
		return resp, nil
	}

	cand := in.Candidates[0]
	for i, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			resp.Parts = append(resp.Parts, Part{
				Type:       PartToolCall,
				ToolCallID: "call_" + strconv.Itoa(i),
				Name:       p.FunctionCall.Name,
				Arguments:  objectOrEmpty(p.FunctionCall.Args),
			})
		case p.Text != "":
			resp.Parts = append(resp.Parts, Part{Type: PartText, Text: p.Text})
		}
	}
	if stop := geminiFinishToStop(cand.FinishReason, hasPart(resp.Parts, PartToolCall)); stop != "" {
		resp.StopReason = stop
	}
	return resp, nil
}

func encodeGeminiResponse(resp *Response) ([]byte, error) {
	content := geminiContent{Role: "model", Parts: []geminiPart{}}
	for _, p := range resp.Parts {
		switch p.Type {
		case PartText:
			content.Parts = append(content.Parts, geminiPart{Text: p.Text})
		case PartToolCall:
			content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFunctionCall{
				Name: p.Name,
				Args: objectOrEmpty(p.Arguments),
			}})
		}
	}
	return json.Marshal(geminiResponse{
		Candidates: []geminiCandidate{{Content: content, FinishReason: stopToGeminiFinish(resp.StopReason)}},
		UsageMetadata: &geminiUsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		ModelVersion: resp.Model,
		ResponseID:   resp.ID,
	})
}

// Gemini streaming. With alt=sse every frame is a complete
// GenerateContentResponse carrying the next slice of the candidate.

type geminiDecoder struct {
	started bool
	calls   int
}

func newGeminiDecoder() *geminiDecoder {
	return &geminiDecoder{}
}

func (d *geminiDecoder) decode(f Frame) ([]Delta, bool, error) {
	if strings.TrimSpace(f.Data) == "" {
		return nil, false, nil
	}
	var chunk geminiResponse
	if err := json.Unmarshal([]byte(f.Data), &chunk); err != nil {
		return nil, false, fmt.Errorf("parse gemini stream chunk: %w", err)
	}

	var out []Delta
	if !d.started {
		d.started = true
		out = append(out, Delta{Type: DeltaStart, ID: chunk.ResponseID, Model: chunk.ModelVersion})
	}

	if len(chunk.Candidates) > 0 {
		cand := chunk.Candidates[0]
		hasCalls := false
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				hasCalls = true
				idx := d.calls
				d.calls++
				out = append(out,
					Delta{Type: DeltaToolStart, Index: idx, ToolCallID: "call_" + strconv.Itoa(idx), Name: p.FunctionCall.Name},
					Delta{Type: DeltaToolArgs, Index: idx, Args: string(objectOrEmpty(p.FunctionCall.Args))},
				)
			case p.Text != "":
				out = append(out, Delta{Type: DeltaText, Text: p.Text})
			}
		}
		if stop := geminiFinishToStop(cand.FinishReason, hasCalls || d.calls > 0); stop != "" {
			out = append(out, Delta{Type: DeltaStop, StopReason: stop})
		}
	}

	if chunk.UsageMetadata != nil {
		out = append(out, Delta{Type: DeltaUsage, Usage: Usage{
			InputTokens:  chunk.UsageMetadata.PromptTokenCount,
			OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
		}})
	}

	// The stream has no terminator frame; it ends when the body does.
	return out, false, nil
}

type geminiEncoder struct {
	model string
	id    string
	stop  StopReason
	usage Usage

	// Gemini sends function calls whole, so argument fragments are buffered
	// until the call is complete.
	calls []*pendingCall
}

type pendingCall struct {
	index int
	name  string
	args  strings.Builder
}

func newGeminiEncoder(model string) *geminiEncoder {
	return &geminiEncoder{model: model}
}

func (e *geminiEncoder) chunk(parts []geminiPart, finish string, usage *geminiUsageMetadata) Frame {
	data, _ := json.Marshal(geminiResponse{
		Candidates: []geminiCandidate{{
			Content:      geminiContent{Role: "model", Parts: parts},
			FinishReason: finish,
		}},
		UsageMetadata: usage,
		ModelVersion:  e.model,
		ResponseID:    e.id,
	})
	return Frame{Data: string(data)}
}

func (e *geminiEncoder) flushCalls() []geminiPart {
	var parts []geminiPart
	for _, c := range e.calls {
		parts = append(parts, geminiPart{FunctionCall: &geminiFunctionCall{
			Name: c.name,
			Args: objectOrEmpty(json.RawMessage(c.args.String())),
		}})
	}
	e.calls = nil
	return parts
}

func (e *geminiEncoder) encode(d Delta) []Frame {
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
		parts := e.flushCalls()
		parts = append(parts, geminiPart{Text: d.Text})
		return []Frame{e.chunk(parts, "", nil)}
	case DeltaToolStart:
		e.calls = append(e.calls, &pendingCall{index: d.Index, name: d.Name})
	case DeltaToolArgs:
		for _, c := range e.calls {
			if c.index == d.Index {
				c.args.WriteString(d.Args)
			}
		}
	}
	return nil
}

func (e *geminiEncoder) finish() []Frame {
	parts := e.flushCalls()
	if parts == nil {
		parts = []geminiPart{}
	}
	return []Frame{e.chunk(parts, stopToGeminiFinish(e.stop), &geminiUsageMetadata{
		PromptTokenCount:     e.usage.InputTokens,
		CandidatesTokenCount: e.usage.OutputTokens,
		TotalTokenCount:      e.usage.InputTokens + e.usage.OutputTokens,
	})}
}
