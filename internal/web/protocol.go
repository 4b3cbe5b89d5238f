package web

import (
	"encoding/json"
	"errors"
)

var errMissingPayload = errors.New("missing payload")

// Message types pushed by the server.
const (
	TypeHello = "hello"
	TypeState = "state"
	TypeAlert = "alert"
	TypeError = "error"
)

// Message types sent by the page.
const (
	TypeSet    = "set"
	TypeJog    = "jog"
	TypeStop   = "stop"
	TypeSpeed  = "speed"
	TypeInput  = "input"
	TypeUpdate = "update"
)

// Error codes
const (
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrRateLimited    = "RATE_LIMITED"
)

// Message is the envelope of every websocket frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParsePayload decodes the payload into v. A missing payload is an error.
func (m Message) ParsePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return errMissingPayload
	}
	return json.Unmarshal(m.Payload, v)
}

// Encode builds a frame of the given type.
func Encode(typ string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: typ, Payload: raw})
}

// FloatT carries a position, in the page and REST API.
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT carries a direction or a speed tier.
type IntT struct {
	Int int `json:"int"`
}

type HelloPayload struct {
	ClientID string `json:"client_id"`
}

type AlertPayload struct {
	Text string `json:"text"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
