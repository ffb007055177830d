// Package protocol implements JSON-RPC messages framed with Content-Length headers.
package protocol

import (
	"encoding/json"
	"fmt"

	"go.lsp.dev/jsonrpc2"
)

const version = "2.0"

// Kind discriminates messages
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	}
	return "invalid"
}

// Message is a request, a response or a notification
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc2.Error `json:"error,omitempty"`
}

// Kind classifies the message by the fields it carries
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "" && m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	case m.ID != nil:
		return KindResponse
	}
	return KindInvalid
}

// HasID reports whether the message carries id
func (m *Message) HasID(id int64) bool {
	return m.ID != nil && *m.ID == id
}

// Decode unmarshals the params (requests, notifications) or the result (responses) into v
func (m *Message) Decode(v any) error {
	data := m.Params
	if m.Kind() == KindResponse {
		if m.Error != nil {
			return m.Error
		}
		data = m.Result
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (m *Message) String() string {
	switch m.Kind() {
	case KindRequest:
		return fmt.Sprintf("request #%d %s", *m.ID, m.Method)
	case KindResponse:
		return fmt.Sprintf("response #%d", *m.ID)
	case KindNotification:
		return "notification " + m.Method
	}
	return "invalid message"
}

// NewRequest creates a request
func NewRequest(id int64, method string, params any) (*Message, error) {
	raw, err := marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v params: %w", method, err)
	}
	return &Message{JSONRPC: version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification creates a notification
func NewNotification(method string, params any) (*Message, error) {
	raw, err := marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v params: %w", method, err)
	}
	return &Message{JSONRPC: version, Method: method, Params: raw}, nil
}

// NewResponse creates a successful response; a nil result encodes as null
func NewResponse(id int64, result any) (*Message, error) {
	raw, err := marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result of #%d: %w", id, err)
	}
	if raw == nil {
		raw = json.RawMessage("null")
	}
	return &Message{JSONRPC: version, ID: &id, Result: raw}, nil
}

// NewErrorResponse creates a failed response
func NewErrorResponse(id int64, code jsonrpc2.Code, message string) *Message {
	return &Message{JSONRPC: version, ID: &id, Error: jsonrpc2.NewError(code, message)}
}

func marshal(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return data, nil
}
