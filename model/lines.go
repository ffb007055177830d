package model

import (
	"sort"
	"unicode/utf8"
)

// Lines maps between byte offsets and protocol positions (UTF-16 columns) of one source text
type Lines struct {
	src    []byte
	starts []int
}

// NewLines indexes src
func NewLines(src []byte) *Lines {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Lines{src: src, starts: starts}
}

// Position converts a byte offset to a position
func (l *Lines) Position(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(l.src) {
		offset = len(l.src)
	}
	line := sort.Search(len(l.starts), func(i int) bool { return l.starts[i] > offset }) - 1
	column := 0
	for i := l.starts[line]; i < offset; {
		r, size := utf8.DecodeRune(l.src[i:])
		column += utf16Len(r)
		i += size
	}
	return Position{Line: uint32(line), Character: uint32(column)}
}

// Offset converts a position to a byte offset; positions past the end of a line clamp to it
func (l *Lines) Offset(pos Position) int {
	if int(pos.Line) >= len(l.starts) {
		return len(l.src)
	}
	i := l.starts[pos.Line]
	column := 0
	for i < len(l.src) && l.src[i] != '\n' && column < int(pos.Character) {
		r, size := utf8.DecodeRune(l.src[i:])
		column += utf16Len(r)
		i += size
	}
	return i
}

// Text returns the source text covered by r
func (l *Lines) Text(r Range) string {
	start, end := l.Offset(r.Start), l.Offset(r.End)
	if end < start {
		return ""
	}
	return string(l.src[start:end])
}

// Range converts a byte range to a protocol range
func (l *Lines) Range(start, end int) Range {
	return Range{Start: l.Position(start), End: l.Position(end)}
}

func utf16Len(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}
