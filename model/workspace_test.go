package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wvhulle/ferrous-owl/model"
)

func span(line, from, until uint32) model.Range {
	return model.Range{Start: model.Position{Line: line, Character: from}, End: model.Position{Line: line, Character: until}}
}

func sampleFunction(id string) *model.Function {
	return &model.Function{
		ID:   id,
		Name: "test",
		Span: model.Range{Start: model.Position{Line: 0}, End: model.Position{Line: 3, Character: 1}},
		Decls: []model.Decl{
			{Local: 1, Name: "s", Span: span(1, 8, 9)},
		},
		Decorations: []model.Decoration{
			{Kind: model.KindCall, Local: 1, Range: span(1, 12, 25)},
			{Kind: model.KindMove, Local: 1, Range: span(2, 9, 10)},
		},
	}
}

func functionAt(id string, line uint32) *model.Function {
	ret := sampleFunction(id)
	ret.Span = model.Range{Start: model.Position{Line: line}, End: model.Position{Line: line + 3, Character: 1}}
	return ret
}

func TestWorkspace_Merge(t *testing.T) {
	tests := []struct {
		name      string
		snapshots []model.Workspace
		wantItems []string
	}{
		{
			name: "distinct items keep insertion order",
			snapshots: []model.Workspace{
				{"demo": {"src/lib.rs": {Items: []*model.Function{sampleFunction("a")}}}},
				{"demo": {"src/lib.rs": {Items: []*model.Function{sampleFunction("b")}}}},
			},
			wantItems: []string{"a", "b"},
		},
		{
			name: "same key replaces in place",
			snapshots: []model.Workspace{
				{"demo": {"src/lib.rs": {Items: []*model.Function{sampleFunction("a"), sampleFunction("b")}}}},
				{"demo": {"src/lib.rs": {Items: []*model.Function{sampleFunction("a")}}}},
			},
			wantItems: []string{"a", "b"},
		},
		{
			name: "items follow source order",
			snapshots: []model.Workspace{
				{"demo": {"src/lib.rs": {Items: []*model.Function{functionAt("late", 10)}}}},
				{"demo": {"src/lib.rs": {Items: []*model.Function{functionAt("early", 0)}}}},
				{"demo": {"src/lib.rs": {Items: []*model.Function{functionAt("middle", 5)}}}},
			},
			wantItems: []string{"early", "middle", "late"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := model.Workspace{}
			for _, snapshot := range tt.snapshots {
				ws.Merge(snapshot)
			}
			file := ws.Lookup("demo", "src/lib.rs")
			require.NotNil(t, file)
			var ids []string
			for _, item := range file.Items {
				ids = append(ids, item.ID)
			}
			assert.Equal(t, tt.wantItems, ids)
		})
	}
}

func TestWorkspace_MergeIdempotent(t *testing.T) {
	snapshot := model.Workspace{"demo": {"src/lib.rs": {Items: []*model.Function{sampleFunction("a")}}}}
	once := model.Workspace{}
	once.Merge(snapshot)
	twice := model.Workspace{}
	twice.Merge(snapshot)
	twice.Merge(snapshot)
	assert.Equal(t, once, twice)
	assert.Equal(t, 1, twice.Len())
}

func TestFile_Select(t *testing.T) {
	file := &model.File{Items: []*model.Function{sampleFunction("a")}}

	fn, local, ok := file.Select(model.Position{Line: 1, Character: 8})
	require.True(t, ok)
	assert.Equal(t, "a", fn.ID)
	assert.Equal(t, model.LocalID(1), local)

	_, local, ok = file.Select(model.Position{Line: 2, Character: 9})
	require.True(t, ok, "a use site resolves through its decoration")
	assert.Equal(t, model.LocalID(1), local)

	_, _, ok = file.Select(model.Position{Line: 10})
	assert.False(t, ok)
}

func TestKind_Valid(t *testing.T) {
	tests := []struct {
		description string
		kind        model.Kind
		want        bool
	}{
		{description: "canonical", kind: model.KindImmBorrow, want: true},
		{description: "every known kind", kind: model.KindOutlive, want: true},
		{description: "snake case spelling", kind: model.Kind("imm_borrow")},
		{description: "camel case spelling", kind: model.Kind("MutBorrow")},
		{description: "empty", kind: model.Kind("")},
		{description: "unknown", kind: model.Kind("teleport")},
	}
	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.kind.Valid())
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		text    string
		want    model.Kind
		wantErr bool
	}{
		{text: "move", want: model.KindMove},
		{text: "imm_borrow", want: model.KindImmBorrow},
		{text: "MutBorrow", want: model.KindMutBorrow},
		{text: "shared-mut", want: model.KindSharedMut},
		{text: "borrowed", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := model.ParseKind(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecoration_JSON(t *testing.T) {
	data, err := json.Marshal(model.Decoration{Kind: model.KindImmBorrow, Range: span(0, 1, 2), HoverText: "immutable borrow"})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"imm-borrow"`)
	assert.Contains(t, string(data), `"hover_text":"immutable borrow"`)

	var decoded model.Decoration
	require.NoError(t, json.Unmarshal([]byte(`{"type":"mut_borrow","local":2,"range":{"start":{"line":0,"character":0},"end":{"line":0,"character":3}}}`), &decoded))
	assert.Equal(t, model.KindMutBorrow, decoded.Kind)
	assert.Error(t, json.Unmarshal([]byte(`{"type":"bogus"}`), &decoded))
}
