package fingerprint

import (
	"fmt"

	"github.com/minio/highwayhash"
)

var key = []byte("0123456789ABCDEF0123456789ABCDEF")

// Hash returns the 64-bit HighwayHash of data
func Hash(data []byte) (uint64, error) {
	hash, err := highwayhash.New64(key)
	if err != nil {
		return 0, err
	}
	_, err = hash.Write(data)
	return hash.Sum64(), err
}

// Fingerprint identifies a unit's source text together with its lowered form
type Fingerprint struct {
	Source string `json:"source" yaml:"source"` // hash of the unit's source text
	IR     string `json:"ir" yaml:"ir"`         // hash of the unit's lowered form
}

// Of computes the fingerprint of a unit
func Of(source, ir []byte) (Fingerprint, error) {
	sourceHash, err := Hash(source)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to hash source: %w", err)
	}
	irHash, err := Hash(ir)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to hash ir: %w", err)
	}
	return Fingerprint{Source: format(sourceHash), IR: format(irHash)}, nil
}

// IsZero reports whether f was never computed
func (f Fingerprint) IsZero() bool {
	return f.Source == "" && f.IR == ""
}

func (f Fingerprint) String() string {
	return f.Source + ":" + f.IR
}

func format(h uint64) string {
	return fmt.Sprintf("%016x", h)
}
