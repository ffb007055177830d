package session_test

import (
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wvhulle/ferrous-owl/protocol"
	"github.com/wvhulle/ferrous-owl/session"
	"github.com/wvhulle/ferrous-owl/version"
	lsp "go.lsp.dev/protocol"
)

const (
	helperEnv        = "FERROUS_OWL_HELPER"
	helperVersionEnv = "FERROUS_OWL_HELPER_VERSION"
)

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "server":
		serve(os.Stdin, os.Stdout, false)
		os.Exit(0)
	case "stubborn":
		serve(os.Stdin, os.Stdout, true)
		time.Sleep(time.Hour)
		os.Exit(0)
	case "crash":
		os.Exit(3)
	case "orphan":
		// the descendant inherits stdout and outlives its parent
		descendant := exec.Command(os.Args[0])
		descendant.Env = append(os.Environ(), helperEnv+"=sleeper")
		descendant.Stdout = os.Stdout
		if err := descendant.Start(); err != nil {
			os.Exit(4)
		}
		serve(os.Stdin, os.Stdout, true)
		time.Sleep(time.Hour)
		os.Exit(0)
	case "sleeper":
		time.Sleep(4 * time.Second)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// serve is a minimal counterpart server; a stubborn one never acknowledges shutdown or exit
func serve(in io.Reader, out io.Writer, stubborn bool) {
	reader := protocol.NewReader(in, nil)
	writer := protocol.NewWriter(out)
	reply := func(id int64, result any) {
		msg, _ := protocol.NewResponse(id, result)
		_ = writer.Write(msg)
	}
	notify := func(method string, params any) {
		msg, _ := protocol.NewNotification(method, params)
		_ = writer.Write(msg)
	}
	for {
		msg, err := reader.Read()
		if err != nil {
			return
		}
		switch msg.Method {
		case protocol.MethodInitialize:
			serverVersion := os.Getenv(helperVersionEnv)
			if serverVersion == "" {
				serverVersion = version.Version
			}
			reply(*msg.ID, &lsp.InitializeResult{ServerInfo: &lsp.ServerInfo{Name: version.Name, Version: serverVersion}})
		case "echo":
			notify("window/logMessage", map[string]string{"message": "before echo"})
			reply(*msg.ID, msg.Params)
		case protocol.MethodDidOpen:
			params := &lsp.DidOpenTextDocumentParams{}
			_ = json.Unmarshal(msg.Params, params)
			for _, code := range []string{"move", "call"} {
				notify(protocol.MethodPublishDiagnostics, &lsp.PublishDiagnosticsParams{
					URI:         params.TextDocument.URI,
					Diagnostics: []lsp.Diagnostic{{Code: code, Source: protocol.Source, Message: code}},
				})
			}
		case protocol.MethodShutdown:
			if !stubborn {
				reply(*msg.ID, nil)
			}
		case protocol.MethodExit:
			if !stubborn {
				return
			}
		}
	}
}

func start(t *testing.T, mode string, env ...string) *session.Session {
	t.Helper()
	opts := []session.Option{
		session.WithEnv(append([]string{helperEnv + "=" + mode}, env...)...),
		session.WithTimeouts(5*time.Second, time.Second),
	}
	s, err := session.Start([]string{os.Args[0]}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_InitializeAndShutdown(t *testing.T) {
	s := start(t, "server")
	result, err := s.Initialize(t.TempDir())
	require.NoError(t, err)
	require.NotNil(t, result.ServerInfo)
	assert.Equal(t, version.Name, result.ServerInfo.Name)
	assert.Equal(t, result.ServerInfo, s.Server())

	require.NoError(t, s.Shutdown())
	select {
	case <-s.Exited():
	default:
		t.Fatal("server still running after shutdown")
	}
}

func TestSession_IncompatibleServerStaysUsable(t *testing.T) {
	s := start(t, "server", helperVersionEnv+"=99.0.0")
	result, err := s.Initialize(t.TempDir())
	assert.ErrorIs(t, err, session.ErrIncompatible)
	require.NotNil(t, result)

	id, err := s.SendRequest("echo", map[string]int{"n": 1})
	require.NoError(t, err)
	resp, err := s.WaitForResponse(id, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, resp.HasID(id))
}

func TestSession_RequestIDsIncrease(t *testing.T) {
	s := start(t, "server")
	first, err := s.SendRequest("echo", nil)
	require.NoError(t, err)
	second, err := s.SendRequest("echo", nil)
	require.NoError(t, err)
	assert.Greater(t, second, first)
}

func TestSession_WaitForResponseTimesOut(t *testing.T) {
	s := start(t, "server")
	id, err := s.SendRequest("stall", nil)
	require.NoError(t, err)

	timeout := 300 * time.Millisecond
	began := time.Now()
	_, err = s.WaitForResponse(id, timeout)
	elapsed := time.Since(began)

	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+session.PollInterval+time.Second)
}

func TestSession_KeepsUnmatchedMessages(t *testing.T) {
	s := start(t, "server")
	id, err := s.SendRequest("echo", map[string]string{"hello": "world"})
	require.NoError(t, err)

	resp, err := s.WaitForResponse(id, 5*time.Second)
	require.NoError(t, err)
	var echoed map[string]string
	require.NoError(t, resp.Decode(&echoed))
	assert.Equal(t, "world", echoed["hello"])

	kept, err := s.ReceiveMessage(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "window/logMessage", kept.Method)

	_, err = s.ReceiveMessage(200 * time.Millisecond)
	assert.ErrorIs(t, err, session.ErrTimeout)
}

func TestSession_WaitForDecorationsAccumulates(t *testing.T) {
	s := start(t, "server")
	require.NoError(t, s.OpenDocument("/tmp/owl/src/lib.rs", "fn main() {}"))

	diagnostics, err := s.WaitForDecorations(2, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, diagnostics, 2)
	assert.Equal(t, "move", diagnostics[0].Message)
	assert.Equal(t, "call", diagnostics[1].Message)
}

func TestSession_CloseKillsServer(t *testing.T) {
	s := start(t, "stubborn")
	assert.Error(t, s.Shutdown())

	require.NoError(t, s.Close())
	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("server not reaped")
	}
	assert.ErrorIs(t, s.Process().Signal(os.Interrupt), os.ErrProcessDone)
	assert.NoError(t, s.Close())
}

func TestSession_CloseBoundedByHeldOutput(t *testing.T) {
	s := start(t, "orphan")
	_, err := s.Initialize(t.TempDir())
	require.NoError(t, err)
	started := time.Now()
	err = s.Close()
	assert.ErrorIs(t, err, session.ErrTimeout)
	assert.Less(t, time.Since(started), 3*time.Second)
	assert.NoError(t, s.Close())
}

func TestSession_Disconnected(t *testing.T) {
	s := start(t, "crash")
	_, err := s.ReceiveMessage(5 * time.Second)
	assert.ErrorIs(t, err, session.ErrDisconnected)

	_, err = s.WaitForDecorations(1, time.Second)
	assert.ErrorIs(t, err, session.ErrDisconnected)
}
