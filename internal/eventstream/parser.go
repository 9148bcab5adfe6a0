// Package eventstream splits a long-lived realtime response body into frames.
//
// Frames are separated by a blank line and carry exactly three lines:
//
//	id:<session or event id>
//	event:<type>
//	data:<json payload>
//
// Malformed frames are logged and skipped; they never end the stream.
package eventstream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"strings"

	"pocketsync/internal/logging"
	"pocketsync/internal/metrics"
)

const (
	idPrefix    = "id:"
	eventPrefix = "event:"
	dataPrefix  = "data:"

	maxFrameSize = 4 << 20
)

// Frame is one parsed unit of the stream.
type Frame struct {
	ID   string
	Type string
	Data json.RawMessage
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error { return json.Unmarshal(f.Data, v) }

// Reader pulls frames from an underlying stream in arrival order.
// It is not restartable and not safe for concurrent use.
type Reader struct {
	br  *bufio.Reader
	buf []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next blocks until the next well-formed frame arrives. It returns io.EOF
// once the stream ends.
func (r *Reader) Next() (Frame, error) {
	for {
		raw, size, err := r.readChunk()
		if err != nil {
			return Frame{}, err
		}
		if size > maxFrameSize {
			metrics.IncFrameDropped("too_large")
			logging.Warn("frame_dropped", map[string]any{"reason": "too_large", "size": size, "limit": maxFrameSize})
			continue
		}
		chunk := strings.Trim(string(raw), "\r\n")
		if chunk == "" {
			continue
		}
		f, reason, err := parseFrame(chunk)
		if err != nil {
			metrics.IncFrameDropped(reason)
			logging.Warn("frame_dropped", map[string]any{"reason": reason, "error": err.Error(), "frame": chunk})
			continue
		}
		metrics.FramesParsed.Inc()
		return f, nil
	}
}

// readChunk reads up to the next blank line. Bytes past maxFrameSize are
// counted in size but not kept. At the end of the stream a trailing
// unterminated chunk is returned before io.EOF.
func (r *Reader) readChunk() ([]byte, int, error) {
	r.buf = r.buf[:0]
	size := 0
	lineStart := true
	for {
		part, err := r.br.ReadSlice('\n')
		complete := err == nil
		if lineStart && complete && isBlank(part) {
			if size == 0 {
				continue
			}
			return r.buf, size, nil
		}
		size += len(part)
		if size <= maxFrameSize {
			r.buf = append(r.buf, part...)
		}
		lineStart = complete
		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
		case errors.Is(err, io.EOF) && size > 0:
			return r.buf, size, nil
		default:
			return nil, 0, err
		}
	}
}

func isBlank(line []byte) bool {
	return len(line) == 1 || (len(line) == 2 && line[0] == '\r')
}

// All yields frames until the stream ends. A read error is yielded once
// and ends the sequence.
func (r *Reader) All() iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

func parseFrame(chunk string) (Frame, string, error) {
	lines := strings.Split(chunk, "\n")
	if len(lines) != 3 {
		return Frame{}, "line_count", errors.New("expected 3 lines")
	}
	id, ok1 := field(lines[0], idPrefix)
	typ, ok2 := field(lines[1], eventPrefix)
	data, ok3 := field(lines[2], dataPrefix)
	if !ok1 || !ok2 || !ok3 {
		return Frame{}, "prefix", errors.New("missing line prefix")
	}
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return Frame{}, "json", err
	}
	return Frame{ID: id, Type: typ, Data: raw}, "", nil
}

func field(line, prefix string) (string, bool) {
	v, ok := strings.CutPrefix(strings.TrimSuffix(line, "\r"), prefix)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(v, " "), true
}
