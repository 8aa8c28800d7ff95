package json_stream

// scanner tracks brace depth over a byte sequence, ignoring braces inside quoted strings.
// A quote toggles the in-string state unless it is escaped by an unconsumed backslash.
type scanner struct {
	depth    int
	inString bool
	escaped  bool
}

// step consumes one byte and reports whether it closed a top-level object
func (s *scanner) step(b byte) bool {
	closed := false
	switch b {
	case '"':
		if !s.escaped {
			s.inString = !s.inString
		}
	case '{':
		if !s.inString {
			s.depth++
		}
	case '}':
		if !s.inString && s.depth > 0 {
			s.depth--
			closed = s.depth == 0
		}
	}
	if b == '\\' {
		s.escaped = !s.escaped
	} else {
		s.escaped = false
	}
	return closed
}

func (s *scanner) open() bool {
	return s.depth > 0
}

// FindObjectSpan returns the byte offsets of the first balanced {...} span in str.
// end is inclusive. Quote and escape tracking starts at the opening brace, text before it is treated as prose.
func FindObjectSpan(str string) (start, end int, ok bool) {
	start = -1
	var s scanner
	for i := 0; i < len(str); i++ {
		b := str[i]
		if start < 0 {
			if b != '{' {
				continue
			}
			start = i
		}
		if s.step(b) {
			return start, i, true
		}
	}
	return -1, -1, false
}
