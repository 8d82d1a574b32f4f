package jsonlang

import (
	"encoding/json"
	"strconv"
	"strings"
)

// span is a byte range in the document.
type span struct {
	start, end int
}

type frame struct {
	ptr       string
	start     int
	isObject  bool
	expectKey bool
	key       string
	index     int
}

func (f *frame) child() string {
	if f.isObject {
		return f.ptr + "/" + escapePointer(f.key)
	}
	return f.ptr + "/" + strconv.Itoa(f.index)
}

func (f *frame) advance() {
	if f.isObject {
		f.expectKey = true
		return
	}
	f.index++
}

// indexPointers maps JSON pointers to the byte spans of their values. For
// objects and arrays the span covers only the opening delimiter, which is
// where missing-member errors are reported.
func indexPointers(text string) map[string]span {
	out := make(map[string]span)
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var stack []*frame
	prevEnd := 0
	for {
		start := skipSeparators(text, prevEnd)
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		end := int(dec.InputOffset())
		prevEnd = end

		var top *frame
		if len(stack) > 0 {
			top = stack[len(stack)-1]
		}

		if delim, ok := tok.(json.Delim); ok && (delim == '}' || delim == ']') {
			if top == nil {
				return out
			}
			stack = stack[:len(stack)-1]
			if len(stack) > 0 {
				stack[len(stack)-1].advance()
			}
			continue
		}

		if top != nil && top.isObject && top.expectKey {
			if key, ok := tok.(string); ok {
				top.key = key
				top.expectKey = false
			}
			continue
		}

		ptr := ""
		if top != nil {
			ptr = top.child()
		}

		if delim, ok := tok.(json.Delim); ok {
			out[ptr] = span{start, start + 1}
			stack = append(stack, &frame{
				ptr:       ptr,
				start:     start,
				isObject:  delim == '{',
				expectKey: delim == '{',
			})
			continue
		}

		out[ptr] = span{start, end}
		if top != nil {
			top.advance()
		}
	}
}

func skipSeparators(text string, i int) int {
	for i < len(text) {
		switch text[i] {
		case ' ', '\t', '\r', '\n', ',', ':':
			i++
		default:
			return i
		}
	}
	return i
}

func escapePointer(s string) string {
	s = strings.ReplaceAll(s, "~", "~0")
	return strings.ReplaceAll(s, "/", "~1")
}

// stripComments blanks out line and block comments outside strings,
// keeping every byte offset and newline in place.
func stripComments(text string) string {
	b := []byte(text)
	inString := false
	for i := 0; i < len(b); i++ {
		c := b[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		if c != '/' || i+1 >= len(b) {
			continue
		}
		switch b[i+1] {
		case '/':
			for ; i < len(b) && b[i] != '\n'; i++ {
				b[i] = ' '
			}
		case '*':
			b[i], b[i+1] = ' ', ' '
			i += 2
			for ; i < len(b); i++ {
				if b[i] == '*' && i+1 < len(b) && b[i+1] == '/' {
					b[i], b[i+1] = ' ', ' '
					i++
					break
				}
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		}
	}
	return string(b)
}
