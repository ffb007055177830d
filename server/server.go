// Package server serves ownership decorations over the language server protocol on a byte stream.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/wvhulle/ferrous-owl/backend"
	"github.com/wvhulle/ferrous-owl/cache"
	"github.com/wvhulle/ferrous-owl/compiler"
	"github.com/wvhulle/ferrous-owl/config"
	"github.com/wvhulle/ferrous-owl/model"
	"github.com/wvhulle/ferrous-owl/protocol"
	"github.com/wvhulle/ferrous-owl/version"
	"go.lsp.dev/jsonrpc2"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// Server handles one client connection. Inbound messages are dispatched in order on the Serve goroutine.
type Server struct {
	reader  *protocol.Reader
	writer  *protocol.Writer
	backend backend.Backend
	driver  *compiler.Driver
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	runs   sync.WaitGroup

	mu          sync.Mutex
	root        string
	initialized bool
	shutdown    bool
	documents   map[string]*document
	cursors     map[string]model.Position
	generation  int
	stopRun     context.CancelFunc
	status      string
	crate       string
	crateRoot   string
	workspace   model.Workspace // last completed run
	partial     model.Workspace // run in progress
}

// New creates a server reading requests from in and writing to out
func New(in io.Reader, out io.Writer, opts ...Option) *Server {
	ret := &Server{
		writer:    protocol.NewWriter(out),
		backend:   backend.NewSyntactic(),
		logger:    slog.Default(),
		documents: map[string]*document{},
		cursors:   map[string]model.Position{},
		status:    protocol.StatusAnalyzing,
		workspace: model.Workspace{},
		partial:   model.Workspace{},
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.reader = protocol.NewReader(in, ret.logger)
	return ret
}

// Serve dispatches messages until exit or the end of input and returns the process exit code:
// 0 when exit followed shutdown, 1 otherwise
func (s *Server) Serve(ctx context.Context) (int, error) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer func() {
		s.cancel()
		s.runs.Wait()
	}()
	for {
		msg, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Debug("input closed")
				return s.exitCode(), nil
			}
			return 1, err
		}
		if msg.Method == protocol.MethodExit {
			return s.exitCode(), nil
		}
		s.dispatch(msg)
	}
}

func (s *Server) exitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return 0
	}
	return 1
}

func (s *Server) dispatch(msg *protocol.Message) {
	switch msg.Kind() {
	case protocol.KindRequest:
		result, err := s.handle(msg)
		if err != nil {
			s.replyError(*msg.ID, err)
			return
		}
		s.reply(*msg.ID, result)
	case protocol.KindNotification:
		if err := s.notify(msg); err != nil {
			s.logger.Warn("notification failed", slog.String("method", msg.Method), slog.String("error", err.Error()))
		}
	case protocol.KindResponse:
		s.logger.Debug("ignoring response", slog.String("message", msg.String()))
	default:
		s.logger.Warn("ignoring invalid message")
	}
}

func (s *Server) handle(msg *protocol.Message) (any, error) {
	s.mu.Lock()
	initialized, shutdown := s.initialized, s.shutdown
	s.mu.Unlock()
	if shutdown {
		return nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server is shutting down")
	}
	if !initialized && msg.Method != protocol.MethodInitialize {
		return nil, jsonrpc2.NewError(jsonrpc2.ServerNotInitialized, "server not initialized")
	}
	switch msg.Method {
	case protocol.MethodInitialize:
		params := &lsp.InitializeParams{}
		if err := msg.Decode(params); err != nil {
			return nil, invalidParams(err)
		}
		return s.initialize(params)
	case protocol.MethodCursor:
		params := &protocol.CursorParams{}
		if err := msg.Decode(params); err != nil {
			return nil, invalidParams(err)
		}
		return s.cursor(params), nil
	case protocol.MethodAnalyze:
		s.schedule()
		return &protocol.AnalyzeResult{Started: true}, nil
	case protocol.MethodShutdown:
		s.stop()
		return nil, nil
	}
	return nil, jsonrpc2.NewError(jsonrpc2.MethodNotFound, "method not found: "+msg.Method)
}

func (s *Server) notify(msg *protocol.Message) error {
	switch msg.Method {
	case protocol.MethodInitialized:
		return nil
	case protocol.MethodDidOpen:
		params := &lsp.DidOpenTextDocumentParams{}
		if err := msg.Decode(params); err != nil {
			return err
		}
		s.open(params.TextDocument.URI, params.TextDocument.Version, []byte(params.TextDocument.Text))
		s.schedule()
	case protocol.MethodDidChange:
		params := &lsp.DidChangeTextDocumentParams{}
		if err := msg.Decode(params); err != nil {
			return err
		}
		if n := len(params.ContentChanges); n > 0 {
			s.open(params.TextDocument.URI, params.TextDocument.Version, []byte(params.ContentChanges[n-1].Text))
			s.schedule()
		}
	case protocol.MethodDidSave:
		params := &lsp.DidSaveTextDocumentParams{}
		if err := msg.Decode(params); err != nil {
			return err
		}
		if params.Text != "" {
			s.open(params.TextDocument.URI, 0, []byte(params.Text))
		}
		s.schedule()
	case protocol.MethodDidClose:
		params := &lsp.DidCloseTextDocumentParams{}
		if err := msg.Decode(params); err != nil {
			return err
		}
		s.close(params.TextDocument.URI)
	default:
		s.logger.Debug("ignoring notification", slog.String("method", msg.Method))
	}
	return nil
}

func (s *Server) initialize(params *lsp.InitializeParams) (*lsp.InitializeResult, error) {
	root := ""
	if params.RootURI != "" {
		root = uri.URI(params.RootURI).Filename()
	} else if params.RootPath != "" {
		root = params.RootPath
	} else if wd, err := os.Getwd(); err == nil {
		root = wd
	}
	if s.driver == nil {
		cfg, err := config.Load(s.ctx, root)
		if err != nil {
			s.logger.Warn("using default settings", slog.String("error", err.Error()))
			cfg = config.DefaultConfig()
			cfg.CacheDir = config.DefaultCacheDir(root)
		}
		s.driver = compiler.NewDriver(s.backend,
			compiler.WithCache(cache.New(cfg.CacheDir, cache.WithLogger(s.logger))),
			compiler.WithConfig(cfg),
			compiler.WithLogger(s.logger))
	}
	s.mu.Lock()
	s.root = root
	s.initialized = true
	s.mu.Unlock()
	if params.ClientInfo != nil && !version.Compatible(params.ClientInfo.Version, version.Version) {
		s.logger.Warn("client version differs", slog.String("client", params.ClientInfo.Version), slog.String("server", version.Version))
	}
	s.logger.Info("initialized", slog.String("root", root))
	return &lsp.InitializeResult{
		Capabilities: lsp.ServerCapabilities{
			TextDocumentSync: lsp.TextDocumentSyncKindFull,
		},
		ServerInfo: &lsp.ServerInfo{Name: version.Name, Version: version.Version},
	}, nil
}

func (s *Server) open(documentURI lsp.DocumentURI, version int32, text []byte) {
	path := filepath.Clean(uri.URI(documentURI).Filename())
	s.mu.Lock()
	s.documents[path] = &document{uri: documentURI, path: path, version: version, text: text}
	s.mu.Unlock()
	s.driver.Overlays().Set(path, text)
}

func (s *Server) close(documentURI lsp.DocumentURI) {
	path := filepath.Clean(uri.URI(documentURI).Filename())
	s.mu.Lock()
	delete(s.documents, path)
	delete(s.cursors, path)
	s.mu.Unlock()
	s.driver.Overlays().Delete(path)
	s.publish(documentURI, []lsp.Diagnostic{})
}

// cursor records the selection of a document and reports the decorations of the local under it
func (s *Server) cursor(params *protocol.CursorParams) *protocol.CursorResult {
	path := filepath.Clean(uri.URI(params.Document.URI).Filename())
	pos := model.Position{Line: params.Position.Line, Character: params.Position.Character}
	s.mu.Lock()
	s.cursors[path] = pos
	status := s.status
	workspace := s.workspace
	if status == protocol.StatusAnalyzing {
		workspace = s.partial
	}
	file := fileOf(workspace, s.crate, s.crateRoot, path)
	doc := s.documents[path]
	ret := &protocol.CursorResult{Status: status, Path: path, IsAnalyzed: status == protocol.StatusFinished && file != nil}
	// the run goroutine merges into partial under mu
	if selected, ok := selectAt(file, pos); ok {
		ret.Decorations = visible(file, &selected)
	} else {
		ret.Decorations = []model.Decoration{}
	}
	s.mu.Unlock()

	if doc != nil && status != protocol.StatusAnalyzing {
		s.publish(doc.uri, diagnostics(ret.Decorations))
	}
	return ret
}

// schedule starts a run of the workspace, cancelling the one in progress
func (s *Server) schedule() {
	s.mu.Lock()
	if s.shutdown || !s.initialized {
		s.mu.Unlock()
		return
	}
	if s.stopRun != nil {
		s.stopRun()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.stopRun = cancel
	s.generation++
	generation := s.generation
	s.status = protocol.StatusAnalyzing
	s.partial = model.Workspace{}
	root := s.root
	s.mu.Unlock()

	s.runs.Add(1)
	go s.run(ctx, generation, root)
}

func (s *Server) run(ctx context.Context, generation int, root string) {
	defer s.runs.Done()
	receiver, done := s.driver.RunInBackground(ctx, root)
	for {
		snapshot, err := receiver.Recv(context.Background())
		if err != nil {
			break
		}
		s.mu.Lock()
		if generation == s.generation {
			s.partial.Merge(snapshot)
		}
		s.mu.Unlock()
	}
	outcome := <-done

	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	var failed *compiler.CompilationFailedError
	switch {
	case outcome.Err == nil, errors.As(outcome.Err, &failed):
		s.status = protocol.StatusFinished
	default:
		s.status = protocol.StatusError
		s.logger.Warn("analysis failed", slog.String("error", outcome.Err.Error()))
	}
	if outcome.Report != nil {
		s.crate, s.crateRoot = outcome.Report.Crate, outcome.Report.Root
	}
	s.workspace, s.partial = s.partial, model.Workspace{}
	type publication struct {
		uri         lsp.DocumentURI
		diagnostics []lsp.Diagnostic
	}
	var publications []publication
	for path, doc := range s.documents {
		file := fileOf(s.workspace, s.crate, s.crateRoot, path)
		var decorations []model.Decoration
		if pos, ok := s.cursors[path]; ok {
			if selected, ok := selectAt(file, pos); ok {
				decorations = visible(file, &selected)
			}
		} else {
			decorations = visible(file, nil)
		}
		publications = append(publications, publication{uri: doc.uri, diagnostics: diagnostics(decorations)})
	}
	s.mu.Unlock()

	for _, p := range publications {
		s.publish(p.uri, p.diagnostics)
	}
}

// stop cancels the run in progress and waits for every run to end
func (s *Server) stop() {
	s.mu.Lock()
	s.shutdown = true
	if s.stopRun != nil {
		s.stopRun()
	}
	s.mu.Unlock()
	s.runs.Wait()
}

func (s *Server) publish(documentURI lsp.DocumentURI, diagnostics []lsp.Diagnostic) {
	msg, err := protocol.NewNotification(protocol.MethodPublishDiagnostics, &lsp.PublishDiagnosticsParams{
		URI:         documentURI,
		Diagnostics: diagnostics,
	})
	if err == nil {
		err = s.writer.Write(msg)
	}
	if err != nil {
		s.logger.Warn("failed to publish diagnostics", slog.String("uri", string(documentURI)), slog.String("error", err.Error()))
	}
}

func (s *Server) reply(id int64, result any) {
	msg, err := protocol.NewResponse(id, result)
	if err != nil {
		s.replyError(id, err)
		return
	}
	if err = s.writer.Write(msg); err != nil {
		s.logger.Warn("failed to reply", slog.Int64("id", id), slog.String("error", err.Error()))
	}
}

func (s *Server) replyError(id int64, err error) {
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) {
		rpcErr = jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
	}
	if err = s.writer.Write(protocol.NewErrorResponse(id, rpcErr.Code, rpcErr.Message)); err != nil {
		s.logger.Warn("failed to reply", slog.Int64("id", id), slog.String("error", err.Error()))
	}
}

func invalidParams(err error) error {
	return jsonrpc2.NewError(jsonrpc2.InvalidParams, err.Error())
}
