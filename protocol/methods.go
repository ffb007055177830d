package protocol

import (
	"github.com/wvhulle/ferrous-owl/model"
	lsp "go.lsp.dev/protocol"
)

const (
	MethodInitialize         = "initialize"
	MethodInitialized        = "initialized"
	MethodShutdown           = "shutdown"
	MethodExit               = "exit"
	MethodDidOpen            = "textDocument/didOpen"
	MethodDidChange          = "textDocument/didChange"
	MethodDidSave            = "textDocument/didSave"
	MethodDidClose           = "textDocument/didClose"
	MethodPublishDiagnostics = "textDocument/publishDiagnostics"
	MethodCursor             = "ferrous-owl/cursor"
	MethodAnalyze            = "ferrous-owl/analyze"
)

// Source tags diagnostics published by the server
const Source = "ferrous-owl"

// Analysis states reported by cursor responses
const (
	StatusAnalyzing = "analyzing"
	StatusFinished  = "finished"
	StatusError     = "error"
)

// CursorParams selects the local under a cursor
type CursorParams struct {
	Document lsp.TextDocumentIdentifier `json:"document"`
	Position lsp.Position               `json:"position"`
}

// CursorResult reports the decorations of the selected local
type CursorResult struct {
	IsAnalyzed  bool               `json:"is_analyzed"`
	Status      string             `json:"status"`
	Path        string             `json:"path,omitempty"`
	Decorations []model.Decoration `json:"decorations"`
}

// AnalyzeResult acknowledges an analysis request
type AnalyzeResult struct {
	Started bool `json:"started"`
}
