package model

import "sort"

// LocalID identifies a local variable within one function
type LocalID uint32

// Decl represents a local variable declared by a function
type Decl struct {
	Local   LocalID `json:"local" yaml:"local"`
	Name    string  `json:"name" yaml:"name"`
	Span    Range   `json:"span" yaml:"span"`
	Mutable bool    `json:"mutable,omitempty" yaml:"mutable,omitempty"`
	Copy    bool    `json:"copy,omitempty" yaml:"copy,omitempty"` // value is duplicated rather than moved on use
}

// Decoration is one ownership observation attached to a local
type Decoration struct {
	Kind       Kind    `json:"type" yaml:"type"`
	Local      LocalID `json:"local" yaml:"local"`
	Range      Range   `json:"range" yaml:"range"`
	HoverText  string  `json:"hover_text,omitempty" yaml:"hoverText,omitempty"`
	Overlapped bool    `json:"overlapped,omitempty" yaml:"overlapped,omitempty"`
}

// Function is the analysis payload of one unit (function or closure body)
type Function struct {
	ID          string       `json:"id" yaml:"id"`     // unit identifier, unique within a file
	Name        string       `json:"name" yaml:"name"` // declared name, "{closure}" for closures
	Span        Range        `json:"span" yaml:"span"`
	Decls       []Decl       `json:"decls,omitempty" yaml:"decls,omitempty"`
	Decorations []Decoration `json:"decorations,omitempty" yaml:"decorations,omitempty"`
}

// Clone returns a deep copy
func (f *Function) Clone() *Function {
	if f == nil {
		return nil
	}
	ret := *f
	ret.Decls = append([]Decl(nil), f.Decls...)
	ret.Decorations = append([]Decoration(nil), f.Decorations...)
	return &ret
}

// Decl returns the declaration of local, or nil
func (f *Function) Decl(local LocalID) *Decl {
	for i := range f.Decls {
		if f.Decls[i].Local == local {
			return &f.Decls[i]
		}
	}
	return nil
}

// LocalAt resolves the local a cursor position refers to: a declaration containing pos wins,
// then the narrowest decoration containing pos.
func (f *Function) LocalAt(pos Position) (LocalID, bool) {
	for _, decl := range f.Decls {
		if decl.Span.Contains(pos) {
			return decl.Local, true
		}
	}
	var best *Decoration
	for i := range f.Decorations {
		deco := &f.Decorations[i]
		if deco.Kind.Suppressed() || !deco.Range.Contains(pos) {
			continue
		}
		if best == nil || width(deco.Range) < width(best.Range) {
			best = deco
		}
	}
	if best == nil {
		return 0, false
	}
	return best.Local, true
}

// DecorationsOf returns the decorations attached to local
func (f *Function) DecorationsOf(local LocalID) []Decoration {
	var ret []Decoration
	for _, deco := range f.Decorations {
		if deco.Local == local {
			ret = append(ret, deco)
		}
	}
	return ret
}

// SortDecorations orders decorations by position, then kind
func (f *Function) SortDecorations() {
	sort.SliceStable(f.Decorations, func(i, j int) bool {
		a, b := f.Decorations[i], f.Decorations[j]
		if a.Range.Start != b.Range.Start {
			return a.Range.Start.Before(b.Range.Start)
		}
		if a.Local != b.Local {
			return a.Local < b.Local
		}
		return a.Kind < b.Kind
	})
}

// MarkOverlaps flags decorations of one local whose ranges overlap another visible decoration of the same local
func (f *Function) MarkOverlaps() {
	for i := range f.Decorations {
		a := &f.Decorations[i]
		a.Overlapped = false
		if a.Kind.Suppressed() {
			continue
		}
		for j := range f.Decorations {
			b := f.Decorations[j]
			if i == j || b.Local != a.Local || b.Kind.Suppressed() || b.Kind == a.Kind {
				continue
			}
			if a.Range.Overlaps(b.Range) {
				a.Overlapped = true
				break
			}
		}
	}
}

func width(r Range) uint64 {
	if r.End.Line > r.Start.Line {
		return uint64(r.End.Line-r.Start.Line)<<32 + uint64(r.End.Character)
	}
	if r.End.Character < r.Start.Character {
		return 0
	}
	return uint64(r.End.Character - r.Start.Character)
}
