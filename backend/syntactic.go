package backend

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/wvhulle/ferrous-owl/model"
)

// Syntactic approximates ownership decorations from the syntactic position of each use.
// It never type-checks: a local is treated as Copy only when its declaration makes that evident.
type Syntactic struct {
	mutating   map[string]bool
	consuming  map[string]bool
	formatting map[string]bool
}

// NewSyntactic creates a syntactic backend
func NewSyntactic(options ...Option) *Syntactic {
	s := &Syntactic{
		mutating:   set(defaultMutating),
		consuming:  set(defaultConsuming),
		formatting: set(defaultFormatting),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Analyze parses the unit's file and reports decorations for the locals the unit declares
func (s *Syntactic) Analyze(ctx context.Context, unit *Unit) (*model.Function, error) {
	tree, err := parse(ctx, unit.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", unit.File, err)
	}
	node := locate(tree.RootNode(), unit)
	if node == nil {
		return nil, fmt.Errorf("unit %v not found in %v", unit.ID, unit.File)
	}
	a := &analysis{
		Syntactic: s,
		src:       unit.Source,
		lines:     model.NewLines(unit.Source),
		fn:        &model.Function{ID: unit.ID, Name: unit.Name, Span: unit.Span},
	}
	a.unit(node)
	return a.finish(), nil
}

type mode int

const (
	use mode = iota
	byValue
)

type local struct {
	decl  model.Decl
	start int
	last  int
}

// scope maps names to locals; a nil entry is a binding owned by a nested unit
type scope struct {
	parent *scope
	names  map[string]*local
}

type analysis struct {
	*Syntactic
	src     []byte
	lines   *model.Lines
	fn      *model.Function
	scope   *scope
	locals  []*local
	foreign int // depth of closure bodies walked on behalf of the enclosing unit
	moving  int // depth of move closures
}

func (a *analysis) push() {
	a.scope = &scope{parent: a.scope, names: map[string]*local{}}
}

func (a *analysis) pop() {
	a.scope = a.scope.parent
}

func (a *analysis) lookup(name string) *local {
	for s := a.scope; s != nil; s = s.parent {
		if l, ok := s.names[name]; ok {
			return l
		}
	}
	return nil
}

func (a *analysis) text(n *sitter.Node) string {
	return n.Content(a.src)
}

func (a *analysis) declare(n *sitter.Node, mutable, copyable bool) *local {
	name := a.text(n)
	if a.foreign > 0 {
		a.scope.names[name] = nil
		return nil
	}
	l := &local{
		decl: model.Decl{
			Local:   model.LocalID(len(a.locals) + 1),
			Name:    name,
			Span:    a.lines.Range(int(n.StartByte()), int(n.EndByte())),
			Mutable: mutable,
			Copy:    copyable,
		},
		start: int(n.StartByte()),
		last:  int(n.EndByte()),
	}
	a.locals = append(a.locals, l)
	a.scope.names[name] = l
	return l
}

func (a *analysis) touch(l *local, end uint32) {
	if int(end) > l.last {
		l.last = int(end)
	}
}

func (a *analysis) decorate(kind model.Kind, l *local, start, end uint32, hover string) {
	a.touch(l, end)
	a.fn.Decorations = append(a.fn.Decorations, model.Decoration{
		Kind:      kind,
		Local:     l.decl.Local,
		Range:     a.lines.Range(int(start), int(end)),
		HoverText: hover,
	})
}

func (a *analysis) unit(n *sitter.Node) {
	a.push()
	defer a.pop()
	if params := n.ChildByFieldName("parameters"); params != nil {
		a.parameters(params)
	}
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	if body.Type() == "block" {
		a.block(body, byValue)
		return
	}
	a.expr(body, byValue)
}

func (a *analysis) finish() *model.Function {
	for _, l := range a.locals {
		a.fn.Decls = append(a.fn.Decls, l.decl)
		a.fn.Decorations = append(a.fn.Decorations, model.Decoration{
			Kind:      model.KindLifetime,
			Local:     l.decl.Local,
			Range:     a.lines.Range(l.start, l.last),
			HoverText: fmt.Sprintf("lifetime of `%s`", l.decl.Name),
		})
	}
	a.fn.SortDecorations()
	a.fn.MarkOverlaps()
	return a.fn
}

func (a *analysis) parameters(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		param := n.NamedChild(i)
		switch param.Type() {
		case "parameter":
			pattern := param.ChildByFieldName("pattern")
			if pattern == nil {
				continue
			}
			a.bind(pattern, hasChild(param, "mutable_specifier"), isCopyType(param.ChildByFieldName("type")))
		case "self_parameter":
			for j := 0; j < int(param.ChildCount()); j++ {
				if child := param.Child(j); child.Type() == "self" {
					text := a.text(param)
					a.declare(child, strings.Contains(text, "mut"), strings.HasPrefix(text, "&") && !strings.Contains(text, "mut"))
				}
			}
		case "attribute_item", "variadic_parameter", "line_comment", "block_comment":
		default:
			a.bind(param, false, false)
		}
	}
}

// bind declares the identifiers a pattern introduces
func (a *analysis) bind(n *sitter.Node, mutable, copyable bool) []*local {
	var ret []*local
	switch n.Type() {
	case "identifier":
		if isConstructor(a.text(n)) {
			return nil
		}
		if l := a.declare(n, mutable, copyable); l != nil {
			ret = append(ret, l)
		}
		return ret
	case "mut_pattern":
		mutable = true
	case "ref_pattern":
		copyable = true
	case "scoped_identifier", "type_identifier", "primitive_type", "generic_type", "scoped_type_identifier":
		return nil
	case "field_pattern":
		if pattern := n.ChildByFieldName("pattern"); pattern != nil {
			return a.bind(pattern, mutable, copyable)
		}
		if name := n.ChildByFieldName("name"); name != nil {
			if l := a.declare(name, mutable || hasChild(n, "mutable_specifier"), copyable || hasChild(n, "ref")); l != nil {
				ret = append(ret, l)
			}
		}
		return ret
	}
	typ := n.ChildByFieldName("type")
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if typ != nil && same(child, typ) {
			continue
		}
		ret = append(ret, a.bind(child, mutable, copyable)...)
	}
	return ret
}

func (a *analysis) block(n *sitter.Node, m mode) {
	a.push()
	defer a.pop()
	count := int(n.NamedChildCount())
	tail := -1
	for i := count - 1; i >= 0; i-- {
		child := n.NamedChild(i)
		if isComment(child) {
			continue
		}
		if !isStatement(child) {
			tail = i
		}
		break
	}
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if i == tail {
			a.expr(child, m)
			continue
		}
		a.statement(child)
	}
}

func (a *analysis) statement(n *sitter.Node) {
	switch n.Type() {
	case "let_declaration":
		a.let(n)
	case "expression_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			a.expr(n.NamedChild(i), use)
		}
	case "empty_statement", "line_comment", "block_comment":
	default:
		if isItem(n) {
			return
		}
		a.expr(n, use)
	}
}

func (a *analysis) let(n *sitter.Node) {
	value := n.ChildByFieldName("value")
	if value != nil {
		a.expr(value, byValue)
	}
	if alternative := n.ChildByFieldName("alternative"); alternative != nil {
		a.block(alternative, use)
	}
	pattern := n.ChildByFieldName("pattern")
	if pattern == nil {
		return
	}
	typ := n.ChildByFieldName("type")
	copyable := isCopyType(typ) || (typ == nil && a.isCopyValue(value))
	locals := a.bind(pattern, hasChild(n, "mutable_specifier"), copyable)
	if value == nil || len(locals) != 1 {
		return
	}
	if callee := a.callee(value); callee != "" {
		name := locals[0].decl.Name
		a.decorate(model.KindCall, locals[0], value.StartByte(), value.EndByte(), fmt.Sprintf("`%s` initialized by call to `%s`", name, callee))
	}
}

func (a *analysis) expr(n *sitter.Node, m mode) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier", "self":
		a.identifier(n, m)
	case "reference_expression":
		a.reference(n)
	case "call_expression":
		a.call(n)
	case "macro_invocation":
		a.macro(n)
	case "closure_expression":
		a.closure(n)
	case "block":
		a.block(n, m)
	case "field_expression":
		a.expr(n.ChildByFieldName("value"), use)
	case "return_expression", "try_expression", "tuple_expression", "array_expression":
		a.children(n, byValue)
	case "parenthesized_expression", "else_clause":
		a.children(n, m)
	case "struct_expression":
		a.structExpression(n)
	case "assignment_expression":
		a.expr(n.ChildByFieldName("left"), use)
		a.expr(n.ChildByFieldName("right"), byValue)
	case "if_expression":
		a.push()
		a.expr(n.ChildByFieldName("condition"), use)
		a.expr(n.ChildByFieldName("consequence"), m)
		a.pop()
		a.expr(n.ChildByFieldName("alternative"), m)
	case "let_condition":
		a.expr(n.ChildByFieldName("value"), byValue)
		if pattern := n.ChildByFieldName("pattern"); pattern != nil {
			a.bind(pattern, false, false)
		}
	case "if_let_expression":
		a.push()
		a.expr(n.ChildByFieldName("value"), byValue)
		if pattern := n.ChildByFieldName("pattern"); pattern != nil {
			a.bind(pattern, false, false)
		}
		a.expr(n.ChildByFieldName("consequence"), m)
		a.pop()
		a.expr(n.ChildByFieldName("alternative"), m)
	case "while_expression":
		a.push()
		a.expr(n.ChildByFieldName("condition"), use)
		a.expr(n.ChildByFieldName("body"), use)
		a.pop()
	case "while_let_expression":
		a.push()
		a.expr(n.ChildByFieldName("value"), byValue)
		if pattern := n.ChildByFieldName("pattern"); pattern != nil {
			a.bind(pattern, false, false)
		}
		a.expr(n.ChildByFieldName("body"), use)
		a.pop()
	case "for_expression":
		a.expr(n.ChildByFieldName("value"), byValue)
		a.push()
		if pattern := n.ChildByFieldName("pattern"); pattern != nil {
			a.bind(pattern, false, false)
		}
		a.expr(n.ChildByFieldName("body"), use)
		a.pop()
	case "match_expression":
		a.expr(n.ChildByFieldName("value"), byValue)
		if body := n.ChildByFieldName("body"); body != nil {
			for i := 0; i < int(body.NamedChildCount()); i++ {
				if arm := body.NamedChild(i); arm.Type() == "match_arm" {
					a.matchArm(arm, m)
				}
			}
		}
	case "scoped_identifier", "generic_function", "lifetime", "label", "type_arguments",
		"attribute_item", "line_comment", "block_comment":
	default:
		if isItem(n) {
			return
		}
		a.children(n, use)
	}
}

func (a *analysis) children(n *sitter.Node, m mode) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		a.expr(n.NamedChild(i), m)
	}
}

func (a *analysis) identifier(n *sitter.Node, m mode) {
	l := a.lookup(a.text(n))
	if l == nil {
		return
	}
	if (m == byValue || a.moving > 0) && !l.decl.Copy {
		a.decorate(model.KindMove, l, n.StartByte(), n.EndByte(), fmt.Sprintf("variable `%s` moved", l.decl.Name))
		return
	}
	a.touch(l, n.EndByte())
}

func (a *analysis) reference(n *sitter.Node) {
	value := n.ChildByFieldName("value")
	target := a.place(value)
	if target == nil {
		a.expr(value, use)
		return
	}
	l := a.lookup(a.text(target))
	if l == nil {
		return
	}
	if hasChild(n, "mutable_specifier") {
		a.decorate(model.KindMutBorrow, l, n.StartByte(), n.EndByte(), fmt.Sprintf("mutable borrow of `%s`", l.decl.Name))
		return
	}
	a.decorate(model.KindImmBorrow, l, n.StartByte(), n.EndByte(), fmt.Sprintf("immutable borrow of `%s`", l.decl.Name))
}

// place returns the identifier a place expression is rooted at, walking index operands on the way
func (a *analysis) place(n *sitter.Node) *sitter.Node {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "identifier", "self":
		return n
	case "field_expression":
		return a.place(n.ChildByFieldName("value"))
	case "index_expression":
		if n.NamedChildCount() > 1 {
			a.expr(n.NamedChild(1), use)
		}
		return a.place(n.NamedChild(0))
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return a.place(n.NamedChild(0))
		}
	}
	return nil
}

func (a *analysis) call(n *sitter.Node) {
	function := n.ChildByFieldName("function")
	if function != nil {
		switch function.Type() {
		case "field_expression":
			a.receiver(function)
		case "scoped_identifier", "generic_function":
		default:
			a.expr(function, use)
		}
	}
	if args := n.ChildByFieldName("arguments"); args != nil {
		a.children(args, byValue)
	}
}

func (a *analysis) receiver(function *sitter.Node) {
	value := function.ChildByFieldName("value")
	method := ""
	if field := function.ChildByFieldName("field"); field != nil {
		method = a.text(field)
	}
	target := a.place(value)
	if target == nil {
		a.expr(value, use)
		return
	}
	l := a.lookup(a.text(target))
	if l == nil {
		return
	}
	switch {
	case a.consuming[method] && same(target, value):
		a.identifier(target, byValue)
	case a.mutating[method]:
		a.decorate(model.KindMutBorrow, l, target.StartByte(), target.EndByte(), fmt.Sprintf("mutable borrow of `%s`", l.decl.Name))
	default:
		a.decorate(model.KindImmBorrow, l, target.StartByte(), target.EndByte(), fmt.Sprintf("immutable borrow of `%s`", l.decl.Name))
	}
}

var inlineArgument = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(?::[^{}]*)?\}`)

func (a *analysis) macro(n *sitter.Node) {
	name := ""
	if macro := n.ChildByFieldName("macro"); macro != nil {
		name = a.text(macro)
		if index := strings.LastIndex(name, "::"); index != -1 {
			name = name[index+2:]
		}
	}
	var tokens *sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == "token_tree" {
			tokens = child
		}
	}
	if tokens == nil {
		return
	}
	formatting, consuming := a.formatting[name], consumingMacros[name]
	visit(tokens, func(token *sitter.Node) bool {
		switch token.Type() {
		case "identifier", "self":
			if !isOperand(token) {
				return false
			}
			l := a.lookup(a.text(token))
			switch {
			case l == nil:
			case consuming:
				a.identifier(token, byValue)
			case formatting:
				a.decorate(model.KindImmBorrow, l, token.StartByte(), token.EndByte(), fmt.Sprintf("immutable borrow of `%s`", l.decl.Name))
			default:
				a.touch(l, token.EndByte())
			}
			return false
		case "string_literal", "raw_string_literal":
			if formatting {
				a.inlineArguments(token)
			}
			return false
		}
		return true
	})
}

// inlineArguments borrows locals captured by `{name}` placeholders of a format string
func (a *analysis) inlineArguments(literal *sitter.Node) {
	text := a.text(literal)
	for _, match := range inlineArgument.FindAllStringSubmatchIndex(text, -1) {
		if match[0] > 0 && text[match[0]-1] == '{' {
			continue
		}
		l := a.lookup(text[match[2]:match[3]])
		if l == nil {
			continue
		}
		start := literal.StartByte() + uint32(match[2])
		end := literal.StartByte() + uint32(match[3])
		a.decorate(model.KindImmBorrow, l, start, end, fmt.Sprintf("immutable borrow of `%s`", l.decl.Name))
	}
}

func (a *analysis) closure(n *sitter.Node) {
	a.foreign++
	moving := hasChild(n, "move")
	if moving {
		a.moving++
	}
	a.push()
	if params := n.ChildByFieldName("parameters"); params != nil {
		a.parameters(params)
	}
	a.expr(n.ChildByFieldName("body"), use)
	a.pop()
	if moving {
		a.moving--
	}
	a.foreign--
}

func (a *analysis) structExpression(n *sitter.Node) {
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		field := body.NamedChild(i)
		switch field.Type() {
		case "field_initializer":
			a.expr(field.ChildByFieldName("value"), byValue)
		case "shorthand_field_initializer", "base_field_initializer":
			a.children(field, byValue)
		}
	}
}

func (a *analysis) matchArm(arm *sitter.Node, m mode) {
	a.push()
	defer a.pop()
	if pattern := arm.ChildByFieldName("pattern"); pattern != nil {
		for i := 0; i < int(pattern.NamedChildCount()); i++ {
			child := pattern.NamedChild(i)
			if condition := pattern.ChildByFieldName("condition"); condition != nil && same(child, condition) {
				continue
			}
			a.bind(child, false, false)
		}
		a.expr(pattern.ChildByFieldName("condition"), use)
	}
	a.expr(arm.ChildByFieldName("value"), m)
}

// callee returns the called path of an initializer, or "" when it is not a function call
func (a *analysis) callee(value *sitter.Node) string {
	for value.Type() == "try_expression" || value.Type() == "await_expression" {
		if value.NamedChildCount() == 0 {
			return ""
		}
		value = value.NamedChild(0)
	}
	if value.Type() != "call_expression" {
		return ""
	}
	function := value.ChildByFieldName("function")
	if function == nil {
		return ""
	}
	path := a.text(function)
	segment := path
	if function.Type() == "field_expression" {
		if field := function.ChildByFieldName("field"); field != nil {
			segment = a.text(field)
		}
	} else if index := strings.LastIndex(path, "::"); index != -1 {
		segment = path[index+2:]
	}
	if isConstructor(segment) {
		return ""
	}
	return path
}

func (a *analysis) isCopyValue(value *sitter.Node) bool {
	if value == nil {
		return false
	}
	switch value.Type() {
	case "integer_literal", "float_literal", "boolean_literal", "char_literal", "string_literal", "raw_string_literal", "type_cast_expression":
		return true
	case "reference_expression":
		return !hasChild(value, "mutable_specifier")
	case "unary_expression", "parenthesized_expression":
		return value.NamedChildCount() == 1 && a.isCopyValue(value.NamedChild(0))
	case "identifier":
		l := a.lookup(a.text(value))
		return l != nil && l.decl.Copy
	}
	return false
}

func isCopyType(typ *sitter.Node) bool {
	if typ == nil {
		return false
	}
	switch typ.Type() {
	case "primitive_type", "pointer_type", "function_type", "never_type":
		return true
	case "reference_type":
		return !hasChild(typ, "mutable_specifier")
	case "tuple_type", "array_type":
		for i := 0; i < int(typ.NamedChildCount()); i++ {
			child := typ.NamedChild(i)
			if child.Type() == "integer_literal" {
				continue
			}
			if !isCopyType(child) {
				return false
			}
		}
		return true
	}
	return false
}

// isOperand reports whether an identifier token of a macro body denotes a value rather than a path segment or field name
func isOperand(token *sitter.Node) bool {
	if prev := token.PrevSibling(); prev != nil {
		switch prev.Type() {
		case ".", "::":
			return false
		}
	}
	if next := token.NextSibling(); next != nil {
		switch next.Type() {
		case "::", "!", ":":
			return false
		}
	}
	return true
}

func isStatement(n *sitter.Node) bool {
	switch n.Type() {
	case "expression_statement", "let_declaration", "empty_statement":
		return true
	}
	return isItem(n)
}

func isItem(n *sitter.Node) bool {
	switch n.Type() {
	case "function_item", "function_signature_item", "struct_item", "enum_item", "union_item", "impl_item",
		"trait_item", "mod_item", "use_declaration", "const_item", "static_item", "type_item",
		"macro_definition", "extern_crate_declaration", "foreign_mod_item", "attribute_item", "inner_attribute_item":
		return true
	}
	return false
}

func isComment(n *sitter.Node) bool {
	return n.Type() == "line_comment" || n.Type() == "block_comment"
}

func isConstructor(name string) bool {
	for _, r := range name {
		return unicode.IsUpper(r)
	}
	return false
}

func hasChild(n *sitter.Node, typ string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == typ {
			return true
		}
	}
	return false
}

func same(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

func set(names []string) map[string]bool {
	ret := make(map[string]bool, len(names))
	for _, name := range names {
		ret[name] = true
	}
	return ret
}
