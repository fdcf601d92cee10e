package wsframe

import (
	"errors"
	"fmt"
)

// Errors returned when a peer violates the framing rules.
var (
	ErrReservedBits           = errors.New("reserved bits set without negotiated extension")
	ErrUnknownOpcode          = errors.New("unknown opcode")
	ErrFragmentedControl      = errors.New("fragmented control frame")
	ErrControlTooLarge        = errors.New("control frame payload exceeds 125 bytes")
	ErrUnmaskedFrame          = errors.New("client frame is not masked")
	ErrMaskedFrame            = errors.New("server frame is masked")
	ErrPayloadLength          = errors.New("invalid payload length")
	ErrMessageTooBig          = errors.New("message exceeds maximum size")
	ErrUnexpectedContinuation = errors.New("continuation frame without a message in progress")
	ErrInterleavedMessage     = errors.New("new data frame while a fragmented message is in progress")
	ErrInvalidUTF8            = errors.New("text message is not valid utf-8")
	ErrInvalidClosePayload    = errors.New("invalid close frame payload")
	ErrUnknownMessageType     = errors.New("unknown message type")
)

/*************************************************************************************************/
/* CLOSE ERROR                                                                                   */
/*************************************************************************************************/

// Error returned by ReadMessage when the peer sent a close frame.
type CloseError struct {
	// Close status code sent by the peer. NoStatusReceived if the frame had no payload.
	Code StatusCode
	// Close reason sent by the peer.
	Reason string
}

func (err *CloseError) Error() string {
	return fmt.Sprintf("websocket closed by peer: code=%d reason=%q", err.Code, err.Reason)
}

// # Description
//
// Map a framing error to the close status code that should be sent to the peer before closing
// the connection.
//
// # Returns
//
// The close status code and true if the error is a framing error. Zero and false otherwise.
func StatusCodeFor(err error) (StatusCode, bool) {
	switch {
	case errors.Is(err, ErrMessageTooBig):
		return MessageTooBig, true
	case errors.Is(err, ErrInvalidUTF8):
		return InvalidFramePayloadData, true
	case errors.Is(err, ErrReservedBits),
		errors.Is(err, ErrUnknownOpcode),
		errors.Is(err, ErrFragmentedControl),
		errors.Is(err, ErrControlTooLarge),
		errors.Is(err, ErrUnmaskedFrame),
		errors.Is(err, ErrMaskedFrame),
		errors.Is(err, ErrPayloadLength),
		errors.Is(err, ErrUnexpectedContinuation),
		errors.Is(err, ErrInterleavedMessage),
		errors.Is(err, ErrInvalidClosePayload):
		return ProtocolError, true
	default:
		return 0, false
	}
}
