package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wvhulle/ferrous-owl/fingerprint"
)

func TestOf(t *testing.T) {
	tests := []struct {
		name      string
		source    string
		ir        string
		other     string
		otherIR   string
		wantEqual bool
	}{
		{name: "identical unit", source: "fn a() {}", ir: "(function_item)", other: "fn a() {}", otherIR: "(function_item)", wantEqual: true},
		{name: "source changed", source: "fn a() {}", ir: "(function_item)", other: "fn a() { }", otherIR: "(function_item)"},
		{name: "lowered form changed", source: "fn a() {}", ir: "(function_item)", other: "fn a() {}", otherIR: "(function_item (block))"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := fingerprint.Of([]byte(tt.source), []byte(tt.ir))
			require.NoError(t, err)
			b, err := fingerprint.Of([]byte(tt.other), []byte(tt.otherIR))
			require.NoError(t, err)
			assert.Len(t, a.Source, 16)
			assert.Len(t, a.IR, 16)
			assert.False(t, a.IsZero())
			if tt.wantEqual {
				assert.Equal(t, a, b)
			} else {
				assert.NotEqual(t, a, b)
			}
		})
	}
}

func TestHash_Deterministic(t *testing.T) {
	first, err := fingerprint.Hash([]byte("let s = String::new();"))
	require.NoError(t, err)
	second, err := fingerprint.Hash([]byte("let s = String::new();"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
