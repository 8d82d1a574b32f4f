package editor

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// textBuffer indexes line starts so positions and byte offsets convert
// without rescanning the whole text.
type textBuffer struct {
	text   string
	starts []int
}

func newTextBuffer(text string) *textBuffer {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &textBuffer{text: text, starts: starts}
}

func (b *textBuffer) lineCount() int {
	return len(b.starts)
}

// lineContent returns line n (1-based) without its terminator.
func (b *textBuffer) lineContent(n int) string {
	if n < 1 || n > len(b.starts) {
		return ""
	}
	start := b.starts[n-1]
	end := len(b.text)
	if n < len(b.starts) {
		end = b.starts[n] - 1
	}
	return strings.TrimSuffix(b.text[start:end], "\r")
}

func (b *textBuffer) lineMaxColumn(n int) int {
	return utf16Len(b.lineContent(n)) + 1
}

// validate clamps pos into the buffer.
func (b *textBuffer) validate(pos Position) Position {
	if pos.LineNumber < 1 {
		return Position{1, 1}
	}
	if pos.LineNumber > b.lineCount() {
		n := b.lineCount()
		return Position{n, b.lineMaxColumn(n)}
	}
	maxCol := b.lineMaxColumn(pos.LineNumber)
	if pos.Column < 1 {
		pos.Column = 1
	}
	if pos.Column > maxCol {
		pos.Column = maxCol
	}
	return pos
}

// offsetAt converts a position to a byte offset after clamping it.
func (b *textBuffer) offsetAt(pos Position) int {
	pos = b.validate(pos)
	line := b.lineContent(pos.LineNumber)
	units := pos.Column - 1
	off := 0
	for units > 0 && off < len(line) {
		r, size := utf8.DecodeRuneInString(line[off:])
		units -= utf16.RuneLen(r)
		if units < 0 {
			break
		}
		off += size
	}
	return b.starts[pos.LineNumber-1] + off
}

// positionAt converts a byte offset to a position.
func (b *textBuffer) positionAt(offset int) Position {
	if offset <= 0 {
		return Position{1, 1}
	}
	if offset > len(b.text) {
		offset = len(b.text)
	}
	line := 1
	lo, hi := 0, len(b.starts)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		if b.starts[mid] <= offset {
			line = mid + 1
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	prefix := b.text[b.starts[line-1]:offset]
	prefix = strings.TrimSuffix(prefix, "\r")
	return Position{line, utf16Len(prefix) + 1}
}

func (b *textBuffer) fullRange() Range {
	n := b.lineCount()
	return Range{1, 1, n, b.lineMaxColumn(n)}
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
