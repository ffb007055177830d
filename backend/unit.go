package backend

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/wvhulle/ferrous-owl/fingerprint"
	"github.com/wvhulle/ferrous-owl/model"
)

const (
	functionNode = "function_item"
	closureNode  = "closure_expression"
	closureName  = "{closure}"
)

// Unit is one analyzable body: a function item or a closure expression
type Unit struct {
	ID     string
	File   string // path relative to the crate root
	Name   string
	Kind   string // syntax node type of the unit
	Source []byte // whole file the unit belongs to
	Start  uint32 // byte offset of the unit within Source
	End    uint32
	Span   model.Range
	IR     []byte // lowered form: the unit's syntax tree with its anchor position
}

// Text returns the unit's own source text
func (u *Unit) Text() []byte {
	return u.Source[u.Start:u.End]
}

// Fingerprint returns the content key of the unit
func (u *Unit) Fingerprint() (fingerprint.Fingerprint, error) {
	return fingerprint.Of(u.Text(), u.IR)
}

// IsClosure reports whether the unit is a closure body
func (u *Unit) IsClosure() bool {
	return u.Kind == closureNode
}

// File is a parsed source file. It is not safe for concurrent use.
type File struct {
	Path   string
	Source []byte
	lines  *model.Lines
	root   *sitter.Node
	nodes  map[string]*sitter.Node
}

// Parse parses a Rust source file
func Parse(ctx context.Context, path string, source []byte) (*File, error) {
	tree, err := parse(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", path, err)
	}
	return &File{
		Path:   path,
		Source: source,
		lines:  model.NewLines(source),
		root:   tree.RootNode(),
		nodes:  map[string]*sitter.Node{},
	}, nil
}

func parse(ctx context.Context, source []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(rust.GetLanguage())
	return parser.ParseCtx(ctx, nil, source)
}

// HasError reports whether the file contains syntax errors
func (f *File) HasError() bool {
	return f.root.HasError()
}

// FirstError returns the range of the first syntax error
func (f *File) FirstError() (model.Range, bool) {
	var found *sitter.Node
	visit(f.root, func(n *sitter.Node) bool {
		if found != nil {
			return false
		}
		if n.Type() == "ERROR" || n.IsMissing() {
			found = n
			return false
		}
		return n.HasError()
	})
	if found == nil {
		return model.Range{}, false
	}
	return f.lines.Range(int(found.StartByte()), int(found.EndByte())), true
}

// Units returns the units directly nested in parent; a nil parent yields the top-level units
func (f *File) Units(parent *Unit) []*Unit {
	node := f.root
	if parent != nil {
		var ok bool
		if node, ok = f.nodes[parent.ID]; !ok {
			return nil
		}
	}
	var ret []*Unit
	for i := 0; i < int(node.NamedChildCount()); i++ {
		visit(node.NamedChild(i), func(n *sitter.Node) bool {
			switch n.Type() {
			case functionNode, closureNode:
				ret = append(ret, f.unit(n))
				return false
			}
			return true
		})
	}
	return ret
}

func (f *File) unit(n *sitter.Node) *Unit {
	name := closureName
	if n.Type() == functionNode {
		if nameNode := n.ChildByFieldName("name"); nameNode != nil {
			name = nameNode.Content(f.Source)
		}
	}
	start := n.StartPoint()
	u := &Unit{
		ID:     fmt.Sprintf("%s:%s@%d", f.Path, name, n.StartByte()),
		File:   f.Path,
		Name:   name,
		Kind:   n.Type(),
		Source: f.Source,
		Start:  n.StartByte(),
		End:    n.EndByte(),
		Span:   f.lines.Range(int(n.StartByte()), int(n.EndByte())),
		IR:     []byte(fmt.Sprintf("%s@%d:%d", n.String(), start.Row, start.Column)),
	}
	f.nodes[u.ID] = n
	return u
}

// visit walks the subtree rooted at n in pre-order; fn returning false prunes the node's children
func visit(n *sitter.Node, fn func(n *sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		visit(n.NamedChild(i), fn)
	}
}

// locate finds the node of unit within a freshly parsed tree
func locate(root *sitter.Node, unit *Unit) *sitter.Node {
	var found *sitter.Node
	visit(root, func(n *sitter.Node) bool {
		if found != nil || n.EndByte() <= unit.Start || n.StartByte() > unit.Start {
			return false
		}
		if n.StartByte() == unit.Start && n.EndByte() == unit.End && n.Type() == unit.Kind {
			found = n
			return false
		}
		return true
	})
	return found
}
