package protocol

import (
	"bufio"
	"io"
	"strings"
)

// maxFrameLine bounds a single SSE line. Tool-call arguments can make data
// lines far longer than bufio's default.
const maxFrameLine = 4 << 20

// Frame is one Server-Sent Event. Frames read from an upstream keep their
// wire text in Raw, including id and retry fields and comments, so a
// pass-through stream is forwarded unchanged apart from CRLF line endings
// becoming LF. Frames built by a converter leave Raw empty.
type Frame struct {
	Event string
	Data  string
	Raw   string
}

// Bytes renders the frame in wire form, terminated by a blank line.
func (f Frame) Bytes() []byte {
	if f.Raw != "" {
		return []byte(f.Raw)
	}
	var sb strings.Builder
	if f.Event != "" {
		sb.WriteString("event: ")
		sb.WriteString(f.Event)
		sb.WriteString("\n")
	}
	for _, line := range strings.Split(f.Data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	return []byte(sb.String())
}

// SSEReader reads frames from an event stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a reader over r.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	return &SSEReader{scanner: scanner}
}

// Next returns the next frame, or io.EOF when the stream ends. A block of
// only comments (a keep-alive) comes back as a frame with no event or data.
// A final frame without a trailing blank line is still returned, and its Raw
// text is terminated.
func (r *SSEReader) Next() (Frame, error) {
	var (
		f       Frame
		data    []string
		hasData bool
		raw     strings.Builder
	)

	for r.scanner.Scan() {
		text := r.scanner.Text()
		line := strings.TrimRight(text, "\r")

		if line == "" {
			if raw.Len() == 0 {
				continue
			}
			raw.WriteString(text)
			raw.WriteString("\n")
			if hasData {
				f.Data = strings.Join(data, "\n")
			}
			f.Raw = raw.String()
			return f, nil
		}
		raw.WriteString(text)
		raw.WriteString("\n")

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			f.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimPrefix(line, "data:")
			d = strings.TrimPrefix(d, " ")
			data = append(data, d)
			hasData = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if raw.Len() > 0 {
		if hasData {
			f.Data = strings.Join(data, "\n")
		}
		raw.WriteString("\n")
		f.Raw = raw.String()
		return f, nil
	}
	return Frame{}, io.EOF
}
