package scanning

import "strings"

// container states while scanning a JSON document
const (
	wantKey = iota
	wantColon
	wantValue
	wantComma
)

type frame struct {
	open  byte
	state int
	// safe is the output length right after the last complete member, or
	// right after the opening bracket when there is none.
	safe int
	// members counts complete members.
	members int
}

// Salvage repairs a JSON document that was cut off or carries trailing
// separators. It only closes syntax: an unterminated string, a dangling key,
// or a partially written scalar is dropped together with its member, trailing
// commas before a closer are removed and the exact missing closers are
// appended. A container that was cut before its first complete member is
// dropped from its parent. It returns the input unchanged and false when the
// text contains something other than incomplete syntax.
func Salvage(raw string) (string, bool) {
	s := raw
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return raw, false
	}
	s = s[start:]

	out := make([]byte, 0, len(s)+8)
	var stack []*frame
	changed := start > 0

	complete := func() {
		if len(stack) == 0 {
			return
		}
		top := stack[len(stack)-1]
		top.state = wantComma
		top.safe = len(out)
		top.members++
	}

	i := 0
scan:
	for i < len(s) {
		if len(stack) == 0 && len(out) > 0 {
			// root closed; anything after it is ignored
			changed = changed || strings.TrimSpace(s[i:]) != ""
			break scan
		}
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			out = append(out, c)
			i++
			continue
		}

		var top *frame
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}

		switch c {
		case '{', '[':
			if top != nil && top.state != wantValue {
				return raw, false
			}
			out = append(out, c)
			st := wantValue
			if c == '{' {
				st = wantKey
			}
			stack = append(stack, &frame{open: c, state: st, safe: len(out)})
			i++

		case '}', ']':
			if top == nil || (c == '}') != (top.open == '{') {
				return raw, false
			}
			if top.state != wantComma {
				// trailing separator or dangling key before the closer
				if strings.TrimSpace(string(out[top.safe:])) != "" {
					changed = true
				}
				out = out[:top.safe]
			}
			out = append(out, c)
			stack = stack[:len(stack)-1]
			complete()
			i++

		case ':':
			if top == nil || top.open != '{' || top.state != wantColon {
				return raw, false
			}
			out = append(out, c)
			top.state = wantValue
			i++

		case ',':
			if top == nil || top.state != wantComma {
				return raw, false
			}
			out = append(out, c)
			if top.open == '{' {
				top.state = wantKey
			} else {
				top.state = wantValue
			}
			i++

		case '"':
			if top == nil || (top.state != wantKey && top.state != wantValue) {
				return raw, false
			}
			end, ok := scanString(s, i)
			if !ok {
				break scan
			}
			out = append(out, s[i:end]...)
			i = end
			if top.state == wantKey {
				top.state = wantColon
			} else {
				complete()
			}

		default:
			if top == nil || top.state != wantValue {
				return raw, false
			}
			end := i
			for end < len(s) && isScalarByte(s[end]) {
				end++
			}
			if end == i {
				return raw, false
			}
			tok := s[i:end]
			if end == len(s) {
				// a scalar touching the end of input may have been cut
				break scan
			}
			if !validScalar(tok) {
				return raw, false
			}
			out = append(out, tok...)
			i = end
			complete()
		}
	}

	if len(stack) == 0 {
		if !changed {
			return raw, false
		}
		return string(out), true
	}

	// Close from the innermost container outwards. A cut container with no
	// complete member is removed from its parent instead of being emitted
	// empty.
	changed = true
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = out[:top.safe]
		if top.members == 0 && len(stack) > 0 {
			parent := stack[len(stack)-1]
			out = out[:parent.safe]
			continue
		}
		if top.open == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
		if len(stack) > 0 {
			parent := stack[len(stack)-1]
			parent.safe = len(out)
			parent.members++
			parent.state = wantComma
		}
	}
	return string(out), changed
}

// scanString returns the index just past the closing quote of the string
// starting at s[i], or false when the input ends inside it.
func scanString(s string, i int) (int, bool) {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1, true
		}
	}
	return 0, false
}

func isScalarByte(c byte) bool {
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func validScalar(tok string) bool {
	switch tok {
	case "true", "false", "null":
		return true
	}
	c := tok[0]
	return c == '-' || (c >= '0' && c <= '9')
}
