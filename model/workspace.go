package model

import (
	"sort"

	"github.com/wvhulle/ferrous-owl/fingerprint"
)

// Workspace maps crate name to crate
type Workspace map[string]Crate

// Crate maps a file path (relative to the crate root, slash separated) to its analyzed items
type Crate map[string]*File

// File holds analyzed items in source order
type File struct {
	Items []*Function `json:"items" yaml:"items"`
}

// Result is the outcome of analyzing one unit
type Result struct {
	Unit        string                  `json:"unit"`
	File        string                  `json:"file"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Function    *Function               `json:"function"`
}

// Item returns the item with the given unit id, or nil
func (f *File) Item(id string) *Function {
	for _, item := range f.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Upsert replaces the item with the same id, or inserts it; items stay ordered by the start of their span
func (f *File) Upsert(fn *Function) {
	defer f.order()
	for i, item := range f.Items {
		if item.ID == fn.ID {
			f.Items[i] = fn
			return
		}
	}
	f.Items = append(f.Items, fn)
}

func (f *File) order() {
	sort.SliceStable(f.Items, func(i, j int) bool {
		return f.Items[i].Span.Start.Before(f.Items[j].Span.Start)
	})
}

// Select resolves a cursor position to the innermost item that knows a local at pos
func (f *File) Select(pos Position) (*Function, LocalID, bool) {
	var (
		best  *Function
		local LocalID
	)
	for _, item := range f.Items {
		if !item.Span.Contains(pos) {
			continue
		}
		id, ok := item.LocalAt(pos)
		if !ok {
			continue
		}
		if best == nil || width(item.Span) < width(best.Span) {
			best, local = item, id
		}
	}
	return best, local, best != nil
}

// File returns the file at path, creating it when absent
func (c Crate) File(path string) *File {
	file, ok := c[path]
	if !ok {
		file = &File{}
		c[path] = file
	}
	return file
}

// Crate returns the crate with the given name, creating it when absent
func (w Workspace) Crate(name string) Crate {
	crate, ok := w[name]
	if !ok {
		crate = Crate{}
		w[name] = crate
	}
	return crate
}

// Lookup returns the file at (crate, path), or nil
func (w Workspace) Lookup(crate, path string) *File {
	if c, ok := w[crate]; ok {
		return c[path]
	}
	return nil
}

// Merge folds other into w by (crate, file, item id); later items replace earlier ones
func (w Workspace) Merge(other Workspace) {
	for crateName, crate := range other {
		target := w.Crate(crateName)
		for path, file := range crate {
			dest := target.File(path)
			for _, item := range file.Items {
				dest.Upsert(item.Clone())
			}
		}
	}
}

// Clone returns a deep copy
func (w Workspace) Clone() Workspace {
	ret := Workspace{}
	ret.Merge(w)
	return ret
}

// Len returns the number of items across all crates and files
func (w Workspace) Len() int {
	count := 0
	for _, crate := range w {
		for _, file := range crate {
			count += len(file.Items)
		}
	}
	return count
}

// Paths returns the sorted file paths of a crate
func (c Crate) Paths() []string {
	ret := make([]string, 0, len(c))
	for path := range c {
		ret = append(ret, path)
	}
	sort.Strings(ret)
	return ret
}
