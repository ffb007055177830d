package backend

type Option func(*Syntactic)

// WithMutatingMethods adds method names whose receiver is borrowed mutably
func WithMutatingMethods(names ...string) Option {
	return func(s *Syntactic) {
		for _, name := range names {
			s.mutating[name] = true
		}
	}
}

// WithConsumingMethods adds method names that take their receiver by value
func WithConsumingMethods(names ...string) Option {
	return func(s *Syntactic) {
		for _, name := range names {
			s.consuming[name] = true
		}
	}
}

// WithFormattingMacros adds macros whose arguments are borrowed immutably
func WithFormattingMacros(names ...string) Option {
	return func(s *Syntactic) {
		for _, name := range names {
			s.formatting[name] = true
		}
	}
}

var defaultMutating = []string{
	"push", "push_str", "push_back", "push_front", "insert", "remove", "clear", "extend",
	"pop", "pop_back", "pop_front", "truncate", "sort", "sort_by", "sort_by_key", "sort_unstable",
	"dedup", "retain", "drain", "append", "reverse", "swap", "iter_mut", "get_mut", "as_mut",
	"entry", "borrow_mut", "resize", "set", "take", "replace", "fill",
}

var defaultConsuming = []string{
	"into_iter", "into", "into_bytes", "into_boxed_slice", "into_boxed_str", "into_inner",
	"unwrap", "expect", "unwrap_or", "unwrap_or_default", "unwrap_or_else",
}

var defaultFormatting = []string{
	"println", "print", "eprintln", "eprint", "format", "format_args", "write", "writeln",
	"panic", "assert", "assert_eq", "assert_ne", "debug_assert", "debug_assert_eq", "debug_assert_ne",
	"todo", "unimplemented", "unreachable", "trace", "debug", "info", "warn", "error",
}

// macros taking their arguments by value
var consumingMacros = map[string]bool{"vec": true, "dbg": true}
