package protocol_test

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wvhulle/ferrous-owl/protocol"
	"go.lsp.dev/jsonrpc2"
)

func must(msg *protocol.Message, err error) *protocol.Message {
	if err != nil {
		panic(err)
	}
	return msg
}

func TestEncode_RoundTrip(t *testing.T) {
	tests := []struct {
		description string
		message     *protocol.Message
		kind        protocol.Kind
	}{
		{
			description: "request",
			message:     must(protocol.NewRequest(1, "initialize", map[string]any{"processId": 42})),
			kind:        protocol.KindRequest,
		},
		{
			description: "notification",
			message:     must(protocol.NewNotification("initialized", struct{}{})),
			kind:        protocol.KindNotification,
		},
		{
			description: "response with null result",
			message:     must(protocol.NewResponse(2, nil)),
			kind:        protocol.KindResponse,
		},
		{
			description: "error response",
			message:     protocol.NewErrorResponse(3, jsonrpc2.MethodNotFound, "no such method"),
			kind:        protocol.KindResponse,
		},
		{
			description: "unicode payload",
			message:     must(protocol.NewNotification("window/logMessage", map[string]string{"message": "héllo ✓"})),
			kind:        protocol.KindNotification,
		},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			frame, err := protocol.Encode(tc.message)
			require.NoError(t, err)
			assert.True(t, bytes.HasPrefix(frame, []byte("Content-Length: ")))

			got, err := protocol.NewReader(bytes.NewReader(frame), nil).Read()
			require.NoError(t, err)
			assert.Equal(t, tc.message, got)
			assert.Equal(t, tc.kind, got.Kind())
		})
	}
}

func TestEncode_LengthCountsBytes(t *testing.T) {
	msg := must(protocol.NewNotification("x", map[string]string{"v": "é"}))
	frame, err := protocol.Encode(msg)
	require.NoError(t, err)
	header, body, found := strings.Cut(string(frame), "\r\n\r\n")
	require.True(t, found)
	encoded, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Equal(t, string(encoded), body)
	assert.Equal(t, "Content-Length: "+itoa(len(body)), header)
}

func TestReader_SkipsMalformed(t *testing.T) {
	valid, err := protocol.Encode(must(protocol.NewNotification("textDocument/publishDiagnostics", map[string]any{"uri": "file:///a.rs"})))
	require.NoError(t, err)
	second, err := protocol.Encode(must(protocol.NewResponse(7, true)))
	require.NoError(t, err)

	tests := []struct {
		description string
		stream      string
	}{
		{description: "non-numeric length", stream: "Content-Length: abc\r\n\r\n" + string(valid) + string(second)},
		{description: "garbage before header", stream: "noise" + string(valid) + string(second)},
		{description: "extra header lines", stream: "Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n" + string(valid) + string(second)},
		{description: "undecodable body", stream: "Content-Length: 5\r\n\r\n{oops" + string(valid) + string(second)},
	}

	for _, tc := range tests {
		t.Run(tc.description, func(t *testing.T) {
			reader := protocol.NewReader(strings.NewReader(tc.stream), nil)
			first, err := reader.Read()
			require.NoError(t, err)
			assert.Equal(t, "textDocument/publishDiagnostics", first.Method)

			next, err := reader.Read()
			require.NoError(t, err)
			assert.True(t, next.HasID(7))

			_, err = reader.Read()
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestReader_TruncatedBody(t *testing.T) {
	reader := protocol.NewReader(strings.NewReader("Content-Length: 100\r\n\r\n{\"jsonrpc\""), nil)
	_, err := reader.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriter_ConcurrentWritesStayFramed(t *testing.T) {
	var buf bytes.Buffer
	writer := protocol.NewWriter(&buf)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			msg, err := protocol.NewRequest(id, "ferrous-owl/analyze", map[string]int64{"n": id})
			assert.NoError(t, err)
			assert.NoError(t, writer.Write(msg))
		}(int64(i))
	}
	wg.Wait()

	reader := protocol.NewReader(&buf, nil)
	seen := map[int64]bool{}
	for {
		msg, err := reader.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		seen[*msg.ID] = true
	}
	assert.Len(t, seen, 20)
}

func TestMessage_Decode(t *testing.T) {
	response := must(protocol.NewResponse(1, map[string]string{"name": "ferrous-owl"}))
	var result map[string]string
	require.NoError(t, response.Decode(&result))
	assert.Equal(t, "ferrous-owl", result["name"])

	failed := protocol.NewErrorResponse(2, jsonrpc2.InternalError, "boom")
	assert.Error(t, failed.Decode(&result))
}

func itoa(n int) string {
	data, _ := json.Marshal(n)
	return string(data)
}
