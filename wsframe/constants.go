// This package contains the RFC6455 frame codec used by the engine once the HTTP upgrade has
// completed: frame header encoding and decoding, payload masking, message reassembly and close
// frame payloads.
package wsframe

import "fmt"

/*************************************************************************************************/
/* CLOSE STATUS CODES                                                                            */
/*************************************************************************************************/

// Constants for RFC6455 defined close status codes
//
// RFC: https://www.rfc-editor.org/rfc/rfc6455.html#section-7.4.1
//
// Code names are inspired by: https://www.iana.org/assignments/websocket/websocket.xhtml
type StatusCode uint16

const (
	// 1000 indicates a normal closure, meaning that the purpose for
	// which the connection was established has been fulfilled.
	NormalClosure StatusCode = 1000
	// 1001 indicates that an endpoint is "going away", such as a server
	// going down or a browser having navigated away from a page.
	GoingAway StatusCode = 1001
	// 1002 indicates that an endpoint is terminating the connection due
	// to a protocol error.
	ProtocolError StatusCode = 1002
	// 1003 indicates that an endpoint is terminating the connection
	// because it has received a type of data it cannot accept.
	UnsupportedData StatusCode = 1003
	// 1005 is a reserved value and MUST NOT be set as a status code in a
	// Close control frame by an endpoint. It is used locally when a close
	// frame carried no status code.
	NoStatusReceived StatusCode = 1005
	// 1006 is a reserved value and MUST NOT be set as a status code in a
	// Close control frame by an endpoint. It is used locally when the
	// connection was closed without a close frame.
	AbnormalClosure StatusCode = 1006
	// 1007 indicates that an endpoint is terminating the connection
	// because it has received data within a message that was not
	// consistent with the type of the message (e.g., non-UTF-8 data
	// within a text message).
	InvalidFramePayloadData StatusCode = 1007
	// 1008 indicates that an endpoint is terminating the connection
	// because it has received a message that violates its policy.
	PolicyViolation StatusCode = 1008
	// 1009 indicates that an endpoint is terminating the connection
	// because it has received a message that is too big for it to
	// process.
	MessageTooBig StatusCode = 1009
	// 1011 indicates that a server is terminating the connection because
	// it encountered an unexpected condition that prevented it from
	// fulfilling the request.
	InternalError StatusCode = 1011
)

/*************************************************************************************************/
/* OPCODES & MESSAGE TYPES                                                                       */
/*************************************************************************************************/

// Frame opcodes as defined by RFC6455.
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// Return true if the opcode denotes a control frame (close, ping, pong).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

func (op Opcode) valid() bool {
	switch op {
	case OpContinuation, OpText, OpBinary, OpClose, OpPing, OpPong:
		return true
	default:
		return false
	}
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(%#x)", byte(op))
	}
}

// Application message types carried by data frames.
type MessageType int

const (
	// Denotes a text message
	Text MessageType = iota + 1
	// Denotes a binary message
	Binary
)

func (mt MessageType) String() string {
	switch mt {
	case Text:
		return "text"
	case Binary:
		return "binary"
	default:
		return fmt.Sprintf("message_type(%d)", int(mt))
	}
}

// Return the data frame opcode used to carry the message type.
func (mt MessageType) opcode() (Opcode, error) {
	switch mt {
	case Text:
		return OpText, nil
	case Binary:
		return OpBinary, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownMessageType, int(mt))
	}
}

// Side of the connection a reader or writer operates on. Clients mask the frames they write and
// servers require masked frames.
type Role int

const (
	ServerSide Role = iota
	ClientSide
)

const (
	finBit       = 0x80
	rsvBits      = 0x70
	opcodeMask   = 0x0F
	maskBit      = 0x80
	lengthMask   = 0x7F
	maxHeaderLen = 14
	// Payloads up to this size are allocated at once from their declared length.
	preallocLimit = 64 * 1024

	// Largest payload a control frame can carry.
	MaxControlPayload = 125
)
