package util

import (
	"strings"
)

// RepairJSON attempts minimal fixups to coerce a model response into valid JSON.
//   - Prefers the contents of the first ``` fenced block, wherever it appears
//   - Trims whitespace
//   - Extracts the first balanced JSON object or array, ignoring brackets in strings
//
// Returns the possibly repaired string and true if modified.
func RepairJSON(s string) (string, bool) {
	original := s
	s = strings.TrimSpace(s)

	if body, ok := fencedBlock(s); ok {
		s = body
	}

	if start := strings.IndexAny(s, "{["); start >= 0 {
		if end := matchingClose(s, start); end > start {
			s = s[start : end+1]
		} else {
			s = s[start:]
		}
	}

	return s, s != original
}

// fencedBlock returns the body of the first ``` fence, dropping a "json" language tag.
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return "", false
	}
	rest := s[open+3:]
	closing := strings.Index(rest, "```")
	if closing < 0 {
		return "", false
	}
	body := strings.TrimSpace(rest[:closing])
	if strings.HasPrefix(strings.ToLower(body), "json") {
		body = strings.TrimSpace(body[4:])
	}
	return body, true
}

// matchingClose returns the index of the bracket closing s[start], or -1.
func matchingClose(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
