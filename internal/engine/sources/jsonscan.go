package sources

import "strings"

// scanState is the balanced-brace scanner state.
type scanState int

const (
	scanOutside scanState = iota
	scanInString
	scanEscaped
)

// ExtractBalancedJSON returns the object literal starting at the first '{' at
// or after from, up to its matching '}'. Braces inside string literals
// (double- or single-quoted) and escaped quotes are skipped.
// Only whitespace and '(' may precede the opening brace.
func ExtractBalancedJSON(s string, from int) (string, bool) {
	start := -1
	for i := from; i < len(s); i++ {
		c := s[i]
		if c == '{' {
			start = i
			break
		}
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' && c != '(' {
			return "", false
		}
	}
	if start < 0 {
		return "", false
	}

	state := scanOutside
	var quote byte
	depth := 0
	for i := start; i < len(s); i++ {
		c := s[i]
		switch state {
		case scanEscaped:
			state = scanInString
		case scanInString:
			switch c {
			case '\\':
				state = scanEscaped
			case quote:
				state = scanOutside
			}
		case scanOutside:
			switch c {
			case '"', '\'':
				quote = c
				state = scanInString
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// FindJSONAfter locates the first marker present in s and extracts the object
// literal that follows it.
func FindJSONAfter(s string, markers ...string) (string, bool) {
	for _, m := range markers {
		offset := 0
		for {
			idx := strings.Index(s[offset:], m)
			if idx < 0 {
				break
			}
			pos := offset + idx + len(m)
			if obj, ok := ExtractBalancedJSON(s, pos); ok {
				return obj, true
			}
			offset = pos
		}
	}
	return "", false
}
