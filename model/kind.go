package model

import (
	"fmt"
	"strings"
)

// Kind classifies a decoration
type Kind string

const (
	KindLifetime  Kind = "lifetime"
	KindImmBorrow Kind = "imm-borrow"
	KindMutBorrow Kind = "mut-borrow"
	KindMove      Kind = "move"
	KindCall      Kind = "call"
	KindSharedMut Kind = "shared-mut"
	KindOutlive   Kind = "outlive"
)

var kinds = []Kind{KindLifetime, KindImmBorrow, KindMutBorrow, KindMove, KindCall, KindSharedMut, KindOutlive}

// Kinds returns the closed set of decoration kinds
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

// ParseKind parses kebab-case, snake_case or camel-ish names (e.g. "imm-borrow", "imm_borrow", "ImmBorrow")
func ParseKind(text string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	switch normalized {
	case "immborrow", "immutableborrow", "immutable-borrow":
		normalized = string(KindImmBorrow)
	case "mutborrow", "mutableborrow", "mutable-borrow":
		normalized = string(KindMutBorrow)
	case "sharedmut", "sharedmutableaccess", "shared-mutable-access":
		normalized = string(KindSharedMut)
	}
	for _, k := range kinds {
		if string(k) == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown decoration kind: %q", text)
}

// Valid reports whether k is one of the known kinds in canonical spelling
func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Suppressed reports whether decorations of this kind are withheld from clients.
// Lifetimes cover nearly every line of a body and drown out everything else.
func (k Kind) Suppressed() bool {
	return k == KindLifetime
}

// UnmarshalText accepts any spelling ParseKind understands
func (k *Kind) UnmarshalText(data []byte) error {
	parsed, err := ParseKind(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// MarshalText encodes canonical kebab-case
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}
