// This package contains the application level packet envelope carried by text or binary websocket
// messages: an opaque JSON payload, a timestamp and an optional action tag.
package wspacket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Action tags understood by the gowsengine binary.
const (
	// Relay the packet to every other connection.
	ActionBroadcast = "broadcast"
	// Send the packet back to its sender.
	ActionEcho = "echo"
)

// Application message envelope.
type Packet struct {
	// Opaque payload. Must be valid JSON.
	Payload json.RawMessage `json:"payload" validate:"required"`
	// Time the packet was produced.
	Timestamp time.Time `json:"timestamp" validate:"required"`
	// Optional action tag.
	Action string `json:"action,omitempty" validate:"omitempty,max=64,printascii"`
}

var validate = validator.New()

// # Description
//
// Factory which creates a new packet stamped with the current time.
//
// # Inputs
//
//   - action: Optional action tag.
//   - payload: Value marshalled to JSON as packet payload.
func New(action string, payload any) (*Packet, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal packet payload: %w", err)
	}
	return &Packet{Payload: raw, Timestamp: time.Now().UTC(), Action: action}, nil
}

// Validate the packet fields.
func (p *Packet) Validate() error {
	return validate.Struct(p)
}

// Encode the packet to JSON after validating it.
func (p *Packet) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

// Unmarshal the packet payload into target.
func (p *Packet) Into(target any) error {
	return json.Unmarshal(p.Payload, target)
}

// # Description
//
// Decode and validate a packet.
//
// # Returns
//
// The packet or an error if data is not a JSON packet or if the packet is invalid.
func Decode(data []byte) (*Packet, error) {
	p := new(Packet)
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to decode packet: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
