package model

import "fmt"

// Position is a zero-based line and column (UTF-16 code units within the line)
type Position struct {
	Line      uint32 `json:"line" yaml:"line"`
	Character uint32 `json:"character" yaml:"character"`
}

// Before reports whether p precedes o
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Character)
}

// Range is a source span; End is exclusive
type Range struct {
	Start Position `json:"start" yaml:"start"`
	End   Position `json:"end" yaml:"end"`
}

// Contains reports whether p lies inside r; a position right after the last character counts as inside
func (r Range) Contains(p Position) bool {
	return !p.Before(r.Start) && !r.End.Before(p)
}

// Overlaps reports whether r and o share at least one character
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Start, r.End)
}
