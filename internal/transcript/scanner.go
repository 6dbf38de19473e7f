package transcript

import "encoding/json"

// Scanner extracts complete top-level JSON objects from a text stream as it
// arrives. It tracks brace depth and string/escape state, so braces inside
// string values never end an object early. Input that never forms a valid
// object is skipped, never fatal.
type Scanner struct {
	buf      []byte
	pos      int
	start    int
	depth    int
	inString bool
	escaped  bool
	segments []Segment
}

// Feed appends delta and returns the full list of segments recognised so far.
// The returned slice replaces any previously returned one.
func (s *Scanner) Feed(delta string) []Segment {
	s.buf = append(s.buf, delta...)
	for ; s.pos < len(s.buf); s.pos++ {
		c := s.buf[s.pos]

		if s.inString {
			switch {
			case s.escaped:
				s.escaped = false
			case c == '\\':
				s.escaped = true
			case c == '"':
				s.inString = false
			}
			continue
		}

		switch c {
		case '"':
			s.inString = true
		case '{':
			if s.depth == 0 {
				s.start = s.pos
			}
			s.depth++
		case '}':
			if s.depth == 0 {
				continue
			}
			s.depth--
			if s.depth == 0 {
				s.emit(s.buf[s.start : s.pos+1])
			}
		}
	}
	return s.Segments()
}

func (s *Scanner) emit(obj []byte) {
	var seg Segment
	if err := json.Unmarshal(obj, &seg); err != nil {
		return
	}
	s.segments = append(s.segments, seg)
}

// Segments returns a copy of the segments recognised so far.
func (s *Scanner) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Buffered returns everything fed so far.
func (s *Scanner) Buffered() []byte {
	return s.buf
}
