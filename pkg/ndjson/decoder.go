package ndjson

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// FrameError reports that a line read off the wire was not valid JSON.
// Decoder never silently skips a malformed frame the way a best-effort
// SSE reader might; the caller must decide whether to abort the stream.
type FrameError struct {
	Raw []byte
	Err error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("ndjson: malformed frame %q: %v", truncate(e.Raw, 200), e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// Decoder reads one JSON value per newline-delimited line from an
// underlying io.Reader. It is safe to construct over any io.Reader whose
// Read may return arbitrarily small chunks, including chunks that split
// a multi-byte UTF-8 rune or stop mid-frame; Decoder buffers until a full
// line (or, at end of stream, a full trailing fragment) is available.
type Decoder struct {
	r       *bufio.Reader
	pending []byte // residual bytes held back because they end mid-rune
	done    bool
}

// NewDecoder returns a Decoder reading frames from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next frame's raw JSON value. It returns io.EOF once
// the underlying reader is exhausted and any trailing fragment has been
// flushed. A non-empty, non-whitespace line that fails to parse as JSON
// is reported as a *FrameError, never skipped.
//
// Next respects ctx cancellation between reads: a canceled context
// causes Next to return ctx.Err() promptly rather than blocking on a
// slow or stalled backend.
func (d *Decoder) Next(ctx context.Context) (json.RawMessage, error) {
	if d.done {
		return nil, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		line, err := d.r.ReadBytes('\n')
		line = append(d.pending, line...)
		d.pending = nil

		if err != nil {
			d.done = true
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			trimmed := trimFrame(line)
			if len(trimmed) == 0 {
				return nil, io.EOF
			}
			return parseFrame(trimmed)
		}

		trimmed := trimFrame(line)
		if len(trimmed) == 0 {
			// Blank line: some backends emit keep-alive newlines.
			continue
		}

		if !utf8.Valid(trimmed) {
			// The line read cleanly up to '\n', so an invalid-UTF8 tail
			// means a multi-byte rune was split across this frame and
			// the next read, which should not happen once '\n' has been
			// seen. Treat as malformed content rather than guessing.
			d.done = true
			return nil, &FrameError{Raw: trimmed, Err: errors.New("invalid UTF-8 in frame")}
		}

		frame, err := parseFrame(trimmed)
		if err != nil {
			// Fail the stream rather than silently skipping the bad
			// frame: a caller that needs best-effort recovery can start
			// a new Decoder on the remaining reader.
			d.done = true
		}
		return frame, err
	}
}

func trimFrame(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

func parseFrame(raw []byte) (json.RawMessage, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &FrameError{Raw: raw, Err: err}
	}
	return json.RawMessage(raw), nil
}
