package jsonl

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// ErrMalformedLine indicates a line that is not valid JSON for the target type.
var ErrMalformedLine = errors.New("malformed jsonl line")

// Reader decodes one JSON value per line. Blank lines are skipped. Lines
// have no length limit.
type Reader[T any] struct {
	r    *bufio.Reader
	line int
	done bool
}

// NewReader wraps r.
func NewReader[T any](r io.Reader) *Reader[T] {
	return &Reader[T]{r: bufio.NewReaderSize(r, 64<<10)}
}

// Next decodes the next line into v. It returns io.EOF at the end of input.
// A malformed line returns an error wrapping ErrMalformedLine; the reader
// stays usable and the next call moves past it.
func (r *Reader[T]) Next(v *T) error {
	for !r.done {
		data, err := r.r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			r.done = true
			if len(data) == 0 {
				break
			}
		} else if err != nil {
			return err
		}
		r.line++
		data = bytes.TrimSpace(data)
		if len(data) == 0 {
			continue
		}
		var zero T
		*v = zero
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("%w: line %d: %w", ErrMalformedLine, r.line, err)
		}
		return nil
	}
	return io.EOF
}

// Line returns the number of the last line read, starting at 1.
func (r *Reader[T]) Line() int {
	return r.line
}

// Writer encodes one JSON value per line.
type Writer struct {
	w     *bufio.Writer
	count int
}

// NewWriter wraps w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write appends v followed by a newline.
func (w *Writer) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of lines written.
func (w *Writer) Count() int {
	return w.count
}

// Flush writes buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}
