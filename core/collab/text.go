package collab

import (
	"strings"
	"unicode/utf8"
)

// utf16Width returns the number of UTF-16 code units encoding r: 2 for
// supplementary-plane runes (a surrogate pair), 1 otherwise.
func utf16Width(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	var n int
	for _, r := range s {
		n += utf16Width(r)
	}
	return n
}

func lineBreaks(s string) int {
	return strings.Count(s, "\n")
}

// lastLineLen returns the UTF-16 length of the text after the last line
// break in s, or of all of s when it has none.
func lastLineLen(s string) int {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return utf16Len(s[i+1:])
	}
	return utf16Len(s)
}

// lineAt returns the content of line n (without its trailing line break)
// and the byte offset of its first character. ok is false when the
// document has no line n.
func lineAt(text string, n int) (line string, start int, ok bool) {
	if n < 0 {
		return "", 0, false
	}
	for l := 0; l < n; l++ {
		i := strings.IndexByte(text[start:], '\n')
		if i < 0 {
			return "", 0, false
		}
		start += i + 1
	}
	line = text[start:]
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return line, start, true
}

// byteOffset resolves pos to a byte offset in text. The column is
// interpreted in UTF-16 code units; a column landing inside a surrogate
// pair or past the end of the line is out of range.
func byteOffset(text string, pos Position) (int, error) {
	if pos.Line < 0 || pos.Col < 0 {
		return 0, ErrMalformedOperation
	}
	line, start, ok := lineAt(text, pos.Line)
	if !ok {
		return 0, ErrPositionOutOfRange
	}
	off, units := start, 0
	for _, r := range line {
		if units == pos.Col {
			return off, nil
		}
		w := utf16Width(r)
		if units+w > pos.Col {
			return 0, ErrPositionOutOfRange // inside a surrogate pair
		}
		units += w
		off += utf8.RuneLen(r)
	}
	if units == pos.Col {
		return off, nil
	}
	return 0, ErrPositionOutOfRange
}

// spanEnd returns the byte offset ending a span of `length` UTF-16 code
// units starting at byte offset `start`. Spans never cross line breaks:
// the span is clamped at the end of the line (and at the end of the
// text), so over-long deletes degrade instead of faulting.
func spanEnd(text string, start, length int) int {
	end, units := start, 0
	for _, r := range text[start:] {
		if units >= length || r == '\n' {
			break
		}
		units += utf16Width(r)
		end += utf8.RuneLen(r)
	}
	return end
}

// clampPosition bounds pos to the document: the line is clamped to the
// last line, and the column to the line's length and down to the nearest
// code-point boundary.
func clampPosition(text string, pos Position) Position {
	if pos.Line < 0 {
		pos.Line = 0
	}
	if pos.Col < 0 {
		pos.Col = 0
	}
	lastLine := lineBreaks(text)
	if pos.Line > lastLine {
		pos.Line = lastLine
	}
	line, _, _ := lineAt(text, pos.Line)
	var units int
	for _, r := range line {
		w := utf16Width(r)
		if units+w > pos.Col {
			break
		}
		units += w
	}
	pos.Col = units
	return pos
}
