package transport

import (
	"bytes"
	"io"
	"strings"
)

// DefaultMaxLine bounds how many bytes accumulate without a newline before the
// partial data is surfaced as a line of its own.
const DefaultMaxLine = 4096

// LineReader splits a Port's byte stream into newline-terminated lines. It is
// not safe for concurrent use; one goroutine owns it at a time.
type LineReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	max     int
}

func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, buf: make([]byte, 256), max: DefaultMaxLine}
}

// ReadLine returns the next complete line, decoded and trimmed. ok is false
// when the port produced no complete line before its read timeout.
func (l *LineReader) ReadLine() (line string, ok bool, err error) {
	for {
		if line, ok := l.next(); ok {
			return line, true, nil
		}
		n, err := l.r.Read(l.buf)
		if n > 0 {
			l.pending = append(l.pending, l.buf[:n]...)
			if _, ok := l.peek(); !ok && len(l.pending) >= l.max {
				line := Decode(l.pending)
				l.pending = l.pending[:0]
				return line, true, nil
			}
		}
		if err != nil {
			return "", false, err
		}
		if n == 0 {
			return "", false, nil
		}
	}
}

// Buffered reports how many bytes of an incomplete line are held.
func (l *LineReader) Buffered() int { return len(l.pending) }

// Reset drops any partially received line.
func (l *LineReader) Reset() { l.pending = l.pending[:0] }

func (l *LineReader) peek() (int, bool) {
	idx := bytes.IndexByte(l.pending, '\n')
	return idx, idx >= 0
}

func (l *LineReader) next() (string, bool) {
	idx, ok := l.peek()
	if !ok {
		return "", false
	}
	line := Decode(l.pending[:idx])
	l.pending = append(l.pending[:0], l.pending[idx+1:]...)
	return line, true
}

// Decode converts raw device bytes to text, dropping invalid UTF-8 sequences
// and surrounding whitespace including line terminators.
func Decode(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), ""))
}
