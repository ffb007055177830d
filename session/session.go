// Package session drives a ferrous-owl server process over framed JSON-RPC on its stdio.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/wvhulle/ferrous-owl/channel"
	"github.com/wvhulle/ferrous-owl/model"
	"github.com/wvhulle/ferrous-owl/protocol"
	"github.com/wvhulle/ferrous-owl/version"
	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

// PollInterval is the tick used while waiting for responses and notifications
const PollInterval = 100 * time.Millisecond

var (
	// ErrTimeout is returned when a wait deadline elapses without a match
	ErrTimeout = errors.New("session: timed out")
	// ErrDisconnected is returned once the server closed its output or the reader exited
	ErrDisconnected = errors.New("session: server disconnected")
	// ErrIncompatible is returned by Initialize when the server version does not match the client
	ErrIncompatible = errors.New("session: incompatible server version")
)

// Session owns one server process; Close always terminates it
type Session struct {
	ID     uuid.UUID
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *protocol.Writer
	inbox  *channel.Receiver[*protocol.Message]
	nextID atomic.Int64

	mu      sync.Mutex
	backlog []*protocol.Message

	readerDone chan struct{}
	exited     chan struct{}
	waitErr    error
	closeOnce  sync.Once

	server *lsp.ServerInfo
	cfg    *options
}

// Start spawns command with piped stdin/stdout; stderr is inherited unless overridden
func Start(command []string, opts ...Option) (*Session, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("failed to start session: empty command")
	}
	cfg := newOptions(opts)
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stderr = cfg.stderr
	cmd.Dir = cfg.dir
	if len(cfg.env) > 0 {
		cmd.Env = append(os.Environ(), cfg.env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin of %v: %w", command[0], err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout of %v: %w", command[0], err)
	}
	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %v: %w", command[0], err)
	}
	id := uuid.Must(uuid.NewV4())
	cfg.logger = cfg.logger.With(slog.String("session", id.String()))
	sender, receiver := channel.New[*protocol.Message]()
	s := &Session{
		ID:         id,
		cmd:        cmd,
		stdin:      stdin,
		writer:     protocol.NewWriter(stdin),
		inbox:      receiver,
		readerDone: make(chan struct{}),
		exited:     make(chan struct{}),
		cfg:        cfg,
	}
	go s.read(stdout, sender)
	go s.wait()
	cfg.logger.Debug("server started", slog.Int("pid", cmd.Process.Pid), slog.Any("command", command))
	return s, nil
}

func (s *Session) read(stdout io.Reader, sender *channel.Sender[*protocol.Message]) {
	defer close(s.readerDone)
	defer sender.Close()
	reader := protocol.NewReader(stdout, s.cfg.logger)
	for {
		msg, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.cfg.logger.Debug("reader stopped", slog.String("error", err.Error()))
			}
			return
		}
		if err = sender.Send(msg); err != nil {
			return
		}
	}
}

// wait reaps the process once its output is drained
func (s *Session) wait() {
	<-s.readerDone
	s.waitErr = s.cmd.Wait()
	close(s.exited)
}

// Process returns the server process
func (s *Session) Process() *os.Process {
	return s.cmd.Process
}

// Exited is closed once the server process has been reaped
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// Server returns the server info reported by Initialize, or nil
func (s *Session) Server() *lsp.ServerInfo {
	return s.server
}

// SendRequest sends a request and returns its id
func (s *Session) SendRequest(method string, params any) (int64, error) {
	id := s.nextID.Add(1)
	msg, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return 0, err
	}
	if err = s.writer.Write(msg); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return id, nil
}

// SendNotification sends a notification
func (s *Session) SendNotification(method string, params any) error {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	if err = s.writer.Write(msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

// ReceiveMessage returns the next inbound message, waiting at most timeout
func (s *Session) ReceiveMessage(timeout time.Duration) (*protocol.Message, error) {
	if msg := s.take(func(*protocol.Message) bool { return true }); msg != nil {
		return msg, nil
	}
	msg, ok, err := s.inbox.RecvTimeout(timeout)
	if err != nil {
		return nil, ErrDisconnected
	}
	if !ok {
		return nil, ErrTimeout
	}
	return msg, nil
}

// WaitForResponse polls for the response to request id; other messages are kept for later receives
func (s *Session) WaitForResponse(id int64, timeout time.Duration) (*protocol.Message, error) {
	matches := func(msg *protocol.Message) bool {
		return msg.Kind() == protocol.KindResponse && msg.HasID(id)
	}
	if msg := s.take(matches); msg != nil {
		return msg, nil
	}
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w: response to request %d after %v", ErrTimeout, id, timeout)
		}
		msg, ok, err := s.inbox.RecvTimeout(min(s.cfg.pollInterval, remaining))
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for response to request %d", ErrDisconnected, id)
		}
		if !ok {
			continue
		}
		if matches(msg) {
			return msg, nil
		}
		s.keep(msg)
	}
}

// Initialize performs the initialize handshake for the workspace at root.
// A server with an incompatible version yields ErrIncompatible; the session remains usable.
func (s *Session) Initialize(root string) (*lsp.InitializeResult, error) {
	params := &lsp.InitializeParams{
		ProcessID: int32(os.Getpid()),
		RootURI:   lsp.DocumentURI(uri.File(root)),
		ClientInfo: &lsp.ClientInfo{
			Name:    version.Name + "-harness",
			Version: version.Version,
		},
	}
	id, err := s.SendRequest(protocol.MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("failed to send initialize: %w", err)
	}
	resp, err := s.WaitForResponse(id, s.cfg.initializeTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	result := &lsp.InitializeResult{}
	if err = resp.Decode(result); err != nil {
		return nil, fmt.Errorf("failed to decode initialize result: %w", err)
	}
	if err = s.SendNotification(protocol.MethodInitialized, &lsp.InitializedParams{}); err != nil {
		return nil, fmt.Errorf("failed to send initialized: %w", err)
	}
	s.server = result.ServerInfo
	if result.ServerInfo != nil && !version.Compatible(version.Version, result.ServerInfo.Version) {
		return result, fmt.Errorf("%w: client %v, server %v", ErrIncompatible, version.Version, result.ServerInfo.Version)
	}
	return result, nil
}

// OpenDocument sends didOpen for the Rust file at path
func (s *Session) OpenDocument(path, text string) error {
	return s.SendNotification(protocol.MethodDidOpen, &lsp.DidOpenTextDocumentParams{
		TextDocument: lsp.TextDocumentItem{
			URI:        lsp.DocumentURI(uri.File(path)),
			LanguageID: lsp.LanguageIdentifier("rust"),
			Version:    1,
			Text:       text,
		},
	})
}

// Cursor sends a cursor selection request for path and returns its id
func (s *Session) Cursor(path string, pos model.Position) (int64, error) {
	return s.SendRequest(protocol.MethodCursor, &protocol.CursorParams{
		Document: lsp.TextDocumentIdentifier{URI: lsp.DocumentURI(uri.File(path))},
		Position: lsp.Position{Line: pos.Line, Character: pos.Character},
	})
}

// WaitForDecorations collects published diagnostics until at least expected have arrived
// (and at least one publish happened) or timeout elapses. Diagnostics accumulate across notifications.
func (s *Session) WaitForDecorations(expected int, timeout time.Duration) ([]lsp.Diagnostic, error) {
	var (
		collected []lsp.Diagnostic
		published int
	)
	accept := func(msg *protocol.Message) bool {
		if msg.Kind() != protocol.KindNotification || msg.Method != protocol.MethodPublishDiagnostics {
			return false
		}
		params := &lsp.PublishDiagnosticsParams{}
		if err := json.Unmarshal(msg.Params, params); err != nil {
			s.cfg.logger.Warn("skipping undecodable diagnostics", slog.String("error", err.Error()))
			return true
		}
		published++
		collected = append(collected, params.Diagnostics...)
		return true
	}
	done := func() bool { return published > 0 && len(collected) >= expected }

	for s.take(accept) != nil {
	}
	deadline := time.Now().Add(timeout)
	for !done() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if published == 0 {
				return collected, fmt.Errorf("%w: no diagnostics published after %v", ErrTimeout, timeout)
			}
			return collected, nil
		}
		msg, ok, err := s.inbox.RecvTimeout(min(s.cfg.pollInterval, remaining))
		if err != nil {
			if published == 0 {
				return collected, fmt.Errorf("%w: waiting for diagnostics", ErrDisconnected)
			}
			return collected, nil
		}
		if !ok {
			continue
		}
		if !accept(msg) {
			s.keep(msg)
		}
	}
	return collected, nil
}

// Shutdown asks the server to stop, tolerating a missing response, then waits for it to exit
func (s *Session) Shutdown() error {
	id, err := s.SendRequest(protocol.MethodShutdown, nil)
	if err == nil {
		if _, err = s.WaitForResponse(id, s.cfg.shutdownTimeout); err != nil {
			s.cfg.logger.Debug("shutdown not acknowledged", slog.String("error", err.Error()))
		}
	}
	if err = s.SendNotification(protocol.MethodExit, nil); err != nil {
		s.cfg.logger.Debug("exit not delivered", slog.String("error", err.Error()))
	}
	_ = s.stdin.Close()
	select {
	case <-s.exited:
		return nil
	case <-time.After(s.cfg.shutdownTimeout):
		return fmt.Errorf("%w: server did not exit after %v", ErrTimeout, s.cfg.shutdownTimeout)
	}
}

// Close terminates the server process if it is still running and releases the session; safe to call repeatedly
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		select {
		case <-s.exited:
		default:
			if killErr := s.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
				err = fmt.Errorf("failed to kill server: %w", killErr)
			}
			// a descendant holding stdout open keeps the reader and the wait alive
			select {
			case <-s.exited:
			case <-time.After(s.cfg.shutdownTimeout):
				err = errors.Join(err, fmt.Errorf("%w: server output still open %v after kill", ErrTimeout, s.cfg.shutdownTimeout))
			}
		}
		s.inbox.Close()
		s.cfg.logger.Debug("session closed")
	})
	return err
}

// take removes and returns the first kept message satisfying fn
func (s *Session) take(fn func(*protocol.Message) bool) *protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.backlog {
		if fn(msg) {
			s.backlog = append(s.backlog[:i], s.backlog[i+1:]...)
			return msg
		}
	}
	return nil
}

func (s *Session) keep(msg *protocol.Message) {
	s.mu.Lock()
	s.backlog = append(s.backlog, msg)
	s.mu.Unlock()
}
