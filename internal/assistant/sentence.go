package assistant

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitter cuts streamed reply text into sentences for speech.
//
// Full-width terminators (。！？) and newlines end a sentence immediately.
// ASCII '.', '!' and '?' end a sentence only when followed by whitespace, so
// "3.5" and "e.g." inside a word are not cut; a sentence ending exactly at the
// end of the stream is emitted by flush.
type splitter struct {
	buf strings.Builder
}

func isFullStop(r rune) bool {
	switch r {
	case '。', '！', '？', '\n':
		return true
	}
	return false
}

func isASCIIStop(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// push appends text and returns the sentences completed by it.
func (s *splitter) push(text string) []string {
	s.buf.WriteString(text)
	pending := s.buf.String()

	var (
		out   []string
		start int
	)
	for i, r := range pending {
		end := -1
		switch {
		case isFullStop(r):
			end = i + utf8.RuneLen(r)
		case isASCIIStop(r):
			next, size := utf8.DecodeRuneInString(pending[i+1:])
			if size > 0 && unicode.IsSpace(next) {
				end = i + 1
			}
		}
		if end < 0 {
			continue
		}
		if sentence := strings.TrimSpace(pending[start:end]); sentence != "" {
			out = append(out, sentence)
		}
		start = end
	}

	if start > 0 {
		rest := pending[start:]
		s.buf.Reset()
		s.buf.WriteString(rest)
	}
	return out
}

// flush returns whatever text remains, or "" if it is blank.
func (s *splitter) flush() string {
	rest := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return rest
}
