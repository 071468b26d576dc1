package protocol

import (
	"bytes"
	"errors"
	"io"
)

// maxLine bounds a partial line kept between reads
const maxLine = 64 * 1024

var ErrLineTooLong = errors.New("protocol line too long")

// LineReader splits a stream into lines using exactly one Read per call, so
// it never blocks after poll(2) reported the descriptor readable.
type LineReader struct {
	r       io.Reader
	pending []byte
	buf     []byte
}

// NewLineReader wraps r
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r, buf: make([]byte, 4096)}
}

// ReadLines performs one read and returns every complete line now available.
// At end of stream it returns io.EOF together with any unterminated tail.
func (lr *LineReader) ReadLines() ([]string, error) {
	n, err := lr.r.Read(lr.buf)
	if n > 0 {
		lr.pending = append(lr.pending, lr.buf[:n]...)
	}

	var lines []string
	for {
		i := bytes.IndexByte(lr.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(lr.pending[:i]))
		lr.pending = lr.pending[i+1:]
	}
	if len(lr.pending) == 0 {
		lr.pending = nil
	}

	if err != nil {
		if errors.Is(err, io.EOF) && len(lr.pending) > 0 {
			lines = append(lines, string(lr.pending))
			lr.pending = nil
		}
		return lines, err
	}
	if n == 0 {
		return lines, io.EOF
	}
	if len(lr.pending) > maxLine {
		return lines, ErrLineTooLong
	}
	return lines, nil
}
