package json_stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrUnbalanced is returned when the source ends part way through an object
var ErrUnbalanced = errors.New("unbalanced json object at end of input")

// SyntaxError is returned when a balanced span is not valid JSON
type SyntaxError struct {
	// Index is the zero based position of the object in the stream
	Index int
	Err   error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid json object %d: %s", e.Index, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// ObjectStream extracts consecutive top-level JSON objects from a byte source, one object per call to Next.
// Only the current object is buffered, the source is never read ahead of the closing brace.
//
// Usage:
//
//	s := NewObjectStream(r)
//	for s.Next() {
//		var v Envelope
//		if err := s.Decode(&v); err != nil { ... }
//	}
//	if err := s.Err(); err != nil { ... }
//
// An ObjectStream is single pass, create a new one for each source.
type ObjectStream struct {
	r     io.ByteReader
	buf   []byte
	count int
	err   error
	done  bool
}

func NewObjectStream(r io.ByteReader) *ObjectStream {
	return &ObjectStream{r: r}
}

// Next advances to the next complete object. It returns false at the end of the source or on error.
func (s *ObjectStream) Next() bool {
	if s.done {
		return false
	}
	s.buf = s.buf[:0]

	var sc scanner
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			s.done = true
			if err != io.EOF {
				s.err = fmt.Errorf("failed to read object %d: %w", s.count, err)
			} else if len(s.buf) > 0 {
				s.err = fmt.Errorf("%w: %d bytes pending for object %d", ErrUnbalanced, len(s.buf), s.count)
			}
			s.buf = s.buf[:0]
			return false
		}

		// whitespace between objects is skipped
		if len(s.buf) == 0 && isSpace(b) {
			continue
		}
		s.buf = append(s.buf, b)
		if sc.step(b) {
			s.count++
			return true
		}
	}
}

// Raw returns the bytes of the current object. The slice is only valid until the next call to Next.
func (s *ObjectStream) Raw() []byte {
	return s.buf
}

// Decode unmarshals the current object into v
func (s *ObjectStream) Decode(v any) error {
	if len(s.buf) == 0 {
		return errors.New("no current object")
	}
	if err := json.Unmarshal(s.buf, v); err != nil {
		return &SyntaxError{Index: s.count - 1, Err: err}
	}
	return nil
}

// Err returns the error which ended the stream, nil if the source was exhausted cleanly
func (s *ObjectStream) Err() error {
	return s.err
}

// Count returns the number of objects extracted so far
func (s *ObjectStream) Count() int {
	return s.count
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}
