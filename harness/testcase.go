// Package harness runs decoration test cases against a ferrous-owl server in isolated workspaces.
package harness

import (
	"fmt"
	"strings"

	"github.com/wvhulle/ferrous-owl/model"
	"github.com/wvhulle/ferrous-owl/verify"
)

// TestCase is one decoration scenario
type TestCase struct {
	Name       string            `json:"name" yaml:"name"`
	Code       string            `json:"code" yaml:"code"`
	CursorText string            `json:"cursor_text,omitempty" yaml:"cursor_text,omitempty"`
	CursorLine *uint32           `json:"cursor_line,omitempty" yaml:"cursor_line,omitempty"`
	CursorChar *uint32           `json:"cursor_char,omitempty" yaml:"cursor_char,omitempty"`
	Expected   []verify.Expected `json:"expected_decos,omitempty" yaml:"expected_decos,omitempty"`
	Forbidden  []model.Kind      `json:"forbidden_decos,omitempty" yaml:"forbidden_decos,omitempty"`
}

// New creates a test case with dedented code
func New(name, code string) *TestCase {
	return &TestCase{Name: name, Code: Dedent(code)}
}

// CursorOn places the cursor at the first occurrence of text
func (t *TestCase) CursorOn(text string) *TestCase {
	t.CursorText = text
	return t
}

// CursorAt places the cursor at a zero-based line and character
func (t *TestCase) CursorAt(line, character uint32) *TestCase {
	t.CursorLine, t.CursorChar = &line, &character
	return t
}

// Expect adds an expected decoration
func (t *TestCase) Expect(expected verify.Expected) *TestCase {
	t.Expected = append(t.Expected, expected)
	return t
}

// ExpectKind adds an expected decoration of kind, optionally over text
func (t *TestCase) ExpectKind(kind model.Kind, text ...string) *TestCase {
	return t.Expect(verify.Expected{Kind: kind, TextMatch: strings.Join(text, "")})
}

func (t *TestCase) ExpectMove(text ...string) *TestCase { return t.ExpectKind(model.KindMove, text...) }

func (t *TestCase) ExpectImmBorrow(text ...string) *TestCase {
	return t.ExpectKind(model.KindImmBorrow, text...)
}

func (t *TestCase) ExpectMutBorrow(text ...string) *TestCase {
	return t.ExpectKind(model.KindMutBorrow, text...)
}

func (t *TestCase) ExpectCall(text ...string) *TestCase { return t.ExpectKind(model.KindCall, text...) }

func (t *TestCase) ExpectLifetime(text ...string) *TestCase {
	return t.ExpectKind(model.KindLifetime, text...)
}

func (t *TestCase) ExpectSharedMut(text ...string) *TestCase {
	return t.ExpectKind(model.KindSharedMut, text...)
}

func (t *TestCase) ExpectOutlive(text ...string) *TestCase {
	return t.ExpectKind(model.KindOutlive, text...)
}

// Forbid fails the case when a decoration of kind is received
func (t *TestCase) Forbid(kinds ...model.Kind) *TestCase {
	t.Forbidden = append(t.Forbidden, kinds...)
	return t
}

// Kinds returns the kinds the case mentions, expected or forbidden
func (t *TestCase) Kinds() map[model.Kind]bool {
	ret := map[model.Kind]bool{}
	for _, exp := range t.Expected {
		ret[exp.Kind] = true
	}
	for _, kind := range t.Forbidden {
		ret[kind] = true
	}
	return ret
}

// Cursor resolves the cursor locator; ok is false when the case has none
func (t *TestCase) Cursor() (pos model.Position, ok bool, err error) {
	if t.CursorText != "" {
		offset := strings.Index(t.Code, t.CursorText)
		if offset == -1 {
			return pos, false, fmt.Errorf("cursor text %q not found in %v", t.CursorText, t.Name)
		}
		return model.NewLines([]byte(t.Code)).Position(offset), true, nil
	}
	if t.CursorLine != nil {
		pos.Line = *t.CursorLine
		if t.CursorChar != nil {
			pos.Character = *t.CursorChar
		}
		return pos, true, nil
	}
	return pos, false, nil
}

// Validate checks the case is runnable
func (t *TestCase) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("test case without name")
	}
	for _, exp := range t.Expected {
		if !exp.Kind.Valid() {
			return fmt.Errorf("%v: invalid expected kind %q", t.Name, exp.Kind)
		}
	}
	for _, kind := range t.Forbidden {
		if !kind.Valid() {
			return fmt.Errorf("%v: invalid forbidden kind %q", t.Name, kind)
		}
	}
	_, _, err := t.Cursor()
	return err
}

// Dedent trims leading and trailing blank lines and strips the indentation common to all non-blank lines
func Dedent(code string) string {
	lines := strings.Split(code, "\n")
	first, last := -1, -1
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if first == -1 {
			first = i
		}
		last = i
	}
	if first == -1 {
		return ""
	}
	lines = lines[first : last+1]
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent == -1 || n < indent {
			indent = n
		}
	}
	for i, line := range lines {
		line = strings.TrimRight(line, "\r")
		if len(line) >= indent {
			lines[i] = line[indent:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.Join(lines, "\n")
}
