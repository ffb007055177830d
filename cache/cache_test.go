package cache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wvhulle/ferrous-owl/cache"
	"github.com/wvhulle/ferrous-owl/fingerprint"
	"github.com/wvhulle/ferrous-owl/model"
)

func payload(id string) *model.Function {
	return &model.Function{
		ID:   id,
		Name: "test",
		Decls: []model.Decl{
			{Local: 1, Name: "s"},
		},
		Decorations: []model.Decoration{
			{Kind: model.KindMove, Local: 1, HoverText: "variable `s` moved"},
		},
	}
}

func TestCache_InsertLookup(t *testing.T) {
	c := cache.New("")
	fp := fingerprint.Fingerprint{Source: "a", IR: "b"}

	_, ok := c.Lookup(fp)
	assert.False(t, ok)

	c.Insert(fp, payload("unit"))
	got, ok := c.Lookup(fp)
	require.True(t, ok)
	assert.Equal(t, payload("unit"), got)

	c.Insert(fp, payload("unit"))
	assert.Equal(t, 1, c.Len())
	again, _ := c.Lookup(fp)
	assert.Equal(t, got, again)
}

func TestCache_LookupReturnsCopy(t *testing.T) {
	c := cache.New("")
	fp := fingerprint.Fingerprint{Source: "a", IR: "b"}
	c.Insert(fp, payload("unit"))

	got, _ := c.Lookup(fp)
	got.Decorations[0].Kind = model.KindCall

	fresh, _ := c.Lookup(fp)
	assert.Equal(t, model.KindMove, fresh.Decorations[0].Kind)
}

func TestCache_PersistLoad(t *testing.T) {
	tests := []struct {
		description string
		entries     map[fingerprint.Fingerprint]string
	}{
		{description: "empty cache", entries: map[fingerprint.Fingerprint]string{}},
		{
			description: "entries across files",
			entries: map[fingerprint.Fingerprint]string{
				{Source: "f1", IR: "i1"}: "lib.rs:one@0",
				{Source: "f1", IR: "i2"}: "lib.rs:two@40",
				{Source: "f2", IR: "i1"}: "main.rs:main@0",
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.Join(t.TempDir(), "cache")
			source := cache.New(dir)
			for fp, id := range tc.entries {
				source.Insert(fp, payload(id))
			}
			require.NoError(t, source.Persist(ctx, "demo"))
			_, err := os.Stat(filepath.Join(dir, "demo.json"))
			require.NoError(t, err)

			restored := cache.New(dir)
			require.NoError(t, restored.Load(ctx, "demo"))
			assert.Equal(t, source.Len(), restored.Len())
			for fp, id := range tc.entries {
				got, ok := restored.Lookup(fp)
				require.True(t, ok)
				assert.Equal(t, payload(id), got)
			}
		})
	}
}

func TestCache_LoadMissing(t *testing.T) {
	c := cache.New(t.TempDir())
	assert.NoError(t, c.Load(context.Background(), "absent"))
	assert.Equal(t, 0, c.Len())
}

func TestCache_LoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.json"), []byte("{not json"), 0o644))
	c := cache.New(dir)
	assert.Error(t, c.Load(context.Background(), "demo"))
}

func TestCache_DisabledPersistence(t *testing.T) {
	c := cache.New("")
	c.Insert(fingerprint.Fingerprint{Source: "a", IR: "b"}, payload("unit"))
	assert.NoError(t, c.Persist(context.Background(), "demo"))
	assert.NoError(t, c.Load(context.Background(), "demo"))
}
