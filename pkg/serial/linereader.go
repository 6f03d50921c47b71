package serial

import (
	"bytes"
	"io"
)

// DefaultMaxLineLength bounds a frame. Longer lines are returned once,
// truncated, and the rest up to the newline is discarded.
const DefaultMaxLineLength = 4096

// LineReader splits a timeout-driven byte stream into newline-terminated
// lines. A read that times out with no data is not an error: ReadLine just
// reports that no complete line is available yet.
type LineReader struct {
	r       io.Reader
	pending []byte
	chunk   []byte
	maxLine int

	// head and skipped track an oversized line being discarded
	head    []byte
	skipped int
	// overflow is the full length of the last returned line when it was truncated
	overflow int
}

// NewLineReader creates a line reader over r. maxLine <= 0 uses
// DefaultMaxLineLength.
func NewLineReader(r io.Reader, maxLine int) *LineReader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineLength
	}
	return &LineReader{
		r:       r,
		chunk:   make([]byte, 256),
		maxLine: maxLine,
	}
}

// ReadLine returns the next line without its "\n" or "\r\n" terminator.
// ok is false when the underlying read timed out before a full line arrived.
// A line longer than the limit is returned once, cut to the limit, when its
// newline arrives; Overflow then reports its full length.
func (lr *LineReader) ReadLine() (line []byte, ok bool, err error) {
	lr.overflow = 0

	if line, ok := lr.next(); ok {
		return line, true, nil
	}

	n, err := lr.r.Read(lr.chunk)
	if n > 0 {
		lr.pending = append(lr.pending, lr.chunk[:n]...)
	}
	if err != nil {
		return nil, false, err
	}

	line, ok = lr.next()
	return line, ok, nil
}

// Overflow returns the length of the last line ReadLine returned when that
// line was truncated, or 0.
func (lr *LineReader) Overflow() int {
	return lr.overflow
}

// Buffered returns the number of bytes held back waiting for a terminator
func (lr *LineReader) Buffered() int {
	return len(lr.pending)
}

// Reset discards any partial line
func (lr *LineReader) Reset() {
	lr.pending = lr.pending[:0]
	lr.head = nil
	lr.skipped = 0
}

func (lr *LineReader) next() ([]byte, bool) {
	if i := bytes.IndexByte(lr.pending, '\n'); i >= 0 {
		line := bytes.TrimSuffix(lr.pending[:i], []byte{'\r'})
		size := lr.skipped + len(line)

		var out []byte
		switch {
		case lr.skipped > 0:
			out = lr.head
		case len(line) > lr.maxLine:
			out = append([]byte(nil), line[:lr.maxLine]...)
		default:
			out = append([]byte(nil), line...)
		}
		if size > lr.maxLine {
			lr.overflow = size
		}

		lr.head, lr.skipped = nil, 0
		lr.pending = lr.pending[:copy(lr.pending, lr.pending[i+1:])]
		return out, true
	}

	if lr.skipped > 0 || len(lr.pending) > lr.maxLine {
		if lr.skipped == 0 {
			lr.head = append([]byte(nil), lr.pending[:lr.maxLine]...)
		}
		lr.skipped += len(lr.pending)
		lr.pending = lr.pending[:0]
	}

	return nil, false
}
