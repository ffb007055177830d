// Package verify matches received decorations against expectations.
package verify

import (
	"fmt"
	"strings"

	"github.com/wvhulle/ferrous-owl/model"
	"github.com/wvhulle/ferrous-owl/protocol"
	lsp "go.lsp.dev/protocol"
)

// Expected describes one decoration a test requires; empty optional fields are unconstrained
type Expected struct {
	Kind            model.Kind `json:"kind" yaml:"kind"`
	TextMatch       string     `json:"text_match,omitempty" yaml:"text_match,omitempty"`
	Line            *uint32    `json:"line,omitempty" yaml:"line,omitempty"` // zero-based
	MessageContains string     `json:"message_contains,omitempty" yaml:"message_contains,omitempty"`
}

// Received is a decoration as published by the server, with the source text under its range
type Received struct {
	Kind    model.Kind
	Range   model.Range
	Text    string
	Message string
}

// Result is the verification outcome
type Result struct {
	Passed     bool
	Report     string
	Missing    []Expected
	Unexpected []Received
}

// Matches reports whether r satisfies the kind and every populated constraint of e
func (e *Expected) Matches(r *Received) bool {
	if e.Kind != r.Kind {
		return false
	}
	if e.TextMatch != "" && strings.TrimSpace(e.TextMatch) != strings.TrimSpace(r.Text) {
		return false
	}
	if e.Line != nil && *e.Line != r.Range.Start.Line {
		return false
	}
	if e.MessageContains != "" && !strings.Contains(r.Message, e.MessageContains) {
		return false
	}
	return true
}

func (e Expected) String() string {
	var parts []string
	if e.TextMatch != "" {
		parts = append(parts, fmt.Sprintf("text %q", e.TextMatch))
	}
	if e.Line != nil {
		parts = append(parts, fmt.Sprintf("line %d", *e.Line))
	}
	if e.MessageContains != "" {
		parts = append(parts, fmt.Sprintf("message ~ %q", e.MessageContains))
	}
	if len(parts) == 0 {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, strings.Join(parts, ", "))
}

func (r Received) String() string {
	return fmt.Sprintf("%s at %s %q: %s", r.Kind, r.Range, r.Text, r.Message)
}

// Verify matches greedily and one-to-one: each expectation takes the first unconsumed received
// decoration it matches. Passing requires nothing missing and nothing unexpected.
func Verify(expected []Expected, received []Received) *Result {
	consumed := make([]bool, len(received))
	ret := &Result{}
	for i := range expected {
		exp := &expected[i]
		matched := false
		for j := range received {
			if consumed[j] || !exp.Matches(&received[j]) {
				continue
			}
			consumed[j] = true
			matched = true
			break
		}
		if !matched {
			ret.Missing = append(ret.Missing, *exp)
		}
	}
	for j, ok := range consumed {
		if !ok {
			ret.Unexpected = append(ret.Unexpected, received[j])
		}
	}
	ret.Passed = len(ret.Missing) == 0 && len(ret.Unexpected) == 0
	ret.Report = ret.report()
	return ret
}

func (r *Result) report() string {
	if r.Passed {
		return "All decorations match"
	}
	var builder strings.Builder
	if len(r.Missing) > 0 {
		builder.WriteString("Missing:\n")
		for _, exp := range r.Missing {
			builder.WriteString("  " + exp.String() + "\n")
		}
	}
	if len(r.Unexpected) > 0 {
		builder.WriteString("Unexpected:\n")
		for _, rec := range r.Unexpected {
			builder.WriteString("  " + rec.String() + "\n")
		}
	}
	return strings.TrimRight(builder.String(), "\n")
}

// FromDiagnostic converts a published diagnostic; text is resolved against lines when given.
// Diagnostics from other sources or with an unknown code report ok=false.
func FromDiagnostic(diagnostic lsp.Diagnostic, lines *model.Lines) (Received, bool) {
	if diagnostic.Source != "" && diagnostic.Source != protocol.Source {
		return Received{}, false
	}
	code, ok := diagnostic.Code.(string)
	if !ok {
		return Received{}, false
	}
	kind, err := model.ParseKind(code)
	if err != nil {
		return Received{}, false
	}
	ret := Received{
		Kind: kind,
		Range: model.Range{
			Start: model.Position{Line: diagnostic.Range.Start.Line, Character: diagnostic.Range.Start.Character},
			End:   model.Position{Line: diagnostic.Range.End.Line, Character: diagnostic.Range.End.Character},
		},
		Message: diagnostic.Message,
	}
	if lines != nil {
		ret.Text = lines.Text(ret.Range)
	}
	return ret, true
}

// Filter keeps the received decorations whose kind is in kinds
func Filter(received []Received, kinds map[model.Kind]bool) []Received {
	var ret []Received
	for _, rec := range received {
		if kinds[rec.Kind] {
			ret = append(ret, rec)
		}
	}
	return ret
}
