package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Message is the envelope exchanged with a peer on every transport.
type Message struct {
	Type      string    `json:"type"`
	ID        string    `json:"id,omitempty"`
	Method    string    `json:"method,omitempty"`
	Params    []any     `json:"params,omitempty"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Peer to bridge message types.
const (
	TypeHello  = "hello"
	TypeCall   = "call"
	TypeResize = "resize"
	TypeWatch  = "watch"
)

// Bridge to peer message types.
const (
	TypeResult       = "result"
	TypeValueChanged = "valueChanged"
	TypeInitDone     = "initDone"
	TypeLog          = "log"
	TypeMarkers      = "markers"
	TypeLayout       = "layout"
	TypeError        = "error"
)

// Hello carries the host's answers to the capability queries.
type Hello struct {
	Value    string `json:"value"`
	Language string `json:"language"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// HelloReply answers a hello.
type HelloReply struct {
	Peer    string   `json:"peer"`
	Version string   `json:"version"`
	Methods []string `json:"methods"`
}

// Size is the payload of a resize message.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// LogLine is the payload of a log message.
type LogLine struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Codec turns messages into transport frames.
type Codec interface {
	Name() string
	Encode(Message) ([]byte, error)
	Decode([]byte) (Message, error)
}

// JSONCodec is used on websocket connections.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

func (JSONCodec) Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// MsgpackCodec is used on framed IPC connections. Struct fields use their
// json names so both transports carry the same shape.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (Message, error) {
	var m Message
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&m)
	return m, err
}

// DecodeData converts a decoded generic payload into out through its JSON
// shape. Both codecs decode objects as map[string]any.
func DecodeData(data any, out any) error {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("server: re-encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("server: decode payload: %w", err)
	}
	return nil
}
