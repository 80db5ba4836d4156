package protocol

import "fmt"

// DeltaType identifies a streaming increment.
type DeltaType int

const (
	DeltaStart DeltaType = iota
	DeltaText
	DeltaToolStart
	DeltaToolArgs
	DeltaStop
	DeltaUsage
)

// Delta is one format-neutral streaming increment.
type Delta struct {
	Type DeltaType

	// DeltaStart
	ID    string
	Model string

	// DeltaText
	Text string

	// DeltaToolStart and DeltaToolArgs; Index orders tool calls within the
	// response.
	Index      int
	ToolCallID string
	Name       string
	Args       string

	StopReason StopReason
	Usage      Usage
}

type streamDecoder interface {
	// decode turns one upstream frame into deltas. done is true when the frame
	// terminates the stream.
	decode(f Frame) (deltas []Delta, done bool, err error)
}

type streamEncoder interface {
	encode(d Delta) []Frame
	finish() []Frame
}

func newDecoder(f Format) (streamDecoder, error) {
	switch f {
	case FormatAnthropic:
		return newAnthropicDecoder(), nil
	case FormatOpenAI:
		return newOpenAIDecoder(), nil
	case FormatGemini:
		return newGeminiDecoder(), nil
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

func newEncoder(f Format, model string) (streamEncoder, error) {
	switch f {
	case FormatAnthropic:
		return newAnthropicEncoder(model), nil
	case FormatOpenAI:
		return newOpenAIEncoder(model), nil
	case FormatGemini:
		return newGeminiEncoder(model), nil
	}
	return nil, fmt.Errorf("unsupported format %q", f)
}

// StreamConverter rewrites an upstream SSE stream into the client's format one
// frame at a time, without buffering the response. When both formats match,
// frames pass through unchanged and are only inspected for token usage.
type StreamConverter struct {
	from, to Format
	dec      streamDecoder
	enc      streamEncoder

	usage    Usage
	done     bool
	finished bool
}

// NewStreamConverter creates a converter from upstream format from to client
// format to. model is reported to the client in converted frames; when empty
// the upstream's model name is used.
func NewStreamConverter(from, to Format, model string) (*StreamConverter, error) {
	dec, err := newDecoder(from)
	if err != nil {
		return nil, err
	}
	c := &StreamConverter{from: from, to: to, dec: dec}
	if from != to {
		if c.enc, err = newEncoder(to, model); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Passthrough reports whether frames are forwarded unchanged.
func (c *StreamConverter) Passthrough() bool {
	return c.enc == nil
}

// Convert processes one upstream frame and returns the frames to send to the
// client. A frame that cannot be parsed is returned as an error; callers may
// keep going with the next frame.
func (c *StreamConverter) Convert(f Frame) ([]Frame, error) {
	deltas, done, err := c.dec.decode(f)
	if done {
		c.done = true
	}
	for _, d := range deltas {
		if d.Type == DeltaUsage {
			c.usage.merge(d.Usage)
		}
	}

	if c.enc == nil {
		return []Frame{f}, err
	}
	if err != nil {
		return nil, err
	}

	var out []Frame
	for _, d := range deltas {
		out = append(out, c.enc.encode(d)...)
	}
	return out, nil
}

// Done reports whether the upstream sent its terminating frame.
func (c *StreamConverter) Done() bool {
	return c.done
}

// Finish returns the closing frames for the client. It is called once after
// the upstream stream ends, whether or not a terminator was seen. Pass-through
// streams need no closing frames.
func (c *StreamConverter) Finish() []Frame {
	if c.finished || c.enc == nil {
		return nil
	}
	c.finished = true
	return c.enc.finish()
}

// Usage returns the token usage seen so far.
func (c *StreamConverter) Usage() Usage {
	return c.usage
}
