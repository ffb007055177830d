package server

import (
	"path/filepath"

	"github.com/wvhulle/ferrous-owl/model"
	"github.com/wvhulle/ferrous-owl/protocol"
	lsp "go.lsp.dev/protocol"
)

type document struct {
	uri     lsp.DocumentURI
	path    string
	version int32
	text    []byte
}

// selection is the local under a cursor
type selection struct {
	item  *model.Function
	local model.LocalID
}

// fileOf returns the analyzed file of the document at path, or nil
func fileOf(workspace model.Workspace, crate, root, path string) *model.File {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return nil
	}
	return workspace.Lookup(crate, filepath.ToSlash(rel))
}

// selectAt resolves pos in file; ok is false when no local is under it
func selectAt(file *model.File, pos model.Position) (selection, bool) {
	if file == nil {
		return selection{}, false
	}
	item, local, ok := file.Select(pos)
	if !ok {
		return selection{}, false
	}
	return selection{item: item, local: local}, true
}

// visible returns the decorations worth showing; a selection restricts them to its local
func visible(file *model.File, selected *selection) []model.Decoration {
	ret := []model.Decoration{}
	if file == nil {
		return ret
	}
	if selected != nil {
		for _, deco := range selected.item.DecorationsOf(selected.local) {
			if !deco.Kind.Suppressed() {
				ret = append(ret, deco)
			}
		}
		return ret
	}
	for _, item := range file.Items {
		for _, deco := range item.Decorations {
			if !deco.Kind.Suppressed() {
				ret = append(ret, deco)
			}
		}
	}
	return ret
}

func diagnostic(deco model.Decoration) lsp.Diagnostic {
	message := deco.HoverText
	if message == "" {
		message = string(deco.Kind)
	}
	return lsp.Diagnostic{
		Range: lsp.Range{
			Start: lsp.Position{Line: deco.Range.Start.Line, Character: deco.Range.Start.Character},
			End:   lsp.Position{Line: deco.Range.End.Line, Character: deco.Range.End.Character},
		},
		Severity: lsp.DiagnosticSeverityHint,
		Code:     string(deco.Kind),
		Source:   protocol.Source,
		Message:  message,
	}
}

func diagnostics(decorations []model.Decoration) []lsp.Diagnostic {
	ret := make([]lsp.Diagnostic, 0, len(decorations))
	for _, deco := range decorations {
		ret = append(ret, diagnostic(deco))
	}
	return ret
}
