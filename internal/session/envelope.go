package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Envelope is the collector's response shape: {statusCode, body: {message, data}}
type Envelope struct {
	StatusCode int          `json:"statusCode"`
	Body       EnvelopeBody `json:"body"`
}

// EnvelopeBody carries a human message and the payload
type EnvelopeBody struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope
func NewEnvelope(status int, message string, data any) (Envelope, error) {
	env := Envelope{StatusCode: status, Body: EnvelopeBody{Message: message}}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return env, err
		}
		env.Body.Data = raw
	}
	return env, nil
}

// OK reports a 2xx status
func (e Envelope) OK() bool {
	return e.StatusCode >= 200 && e.StatusCode < 300
}

// HasData reports whether data is present and not null
func (e Envelope) HasData() bool {
	d := bytes.TrimSpace(e.Body.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

// DecodeData unmarshals data into out. Some servers send data as a JSON
// string holding the object; both forms are accepted.
func (e Envelope) DecodeData(out any) error {
	if !e.HasData() {
		return fmt.Errorf("response has no data")
	}
	raw := bytes.TrimSpace(e.Body.Data)
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("decode data string: %w", err)
		}
		raw = []byte(inner)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
