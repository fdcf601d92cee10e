package wshandshake

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors reported by the handshake engine.
var (
	ErrMalformedStartLine      = errors.New("malformed start line")
	ErrIncompleteHeader        = errors.New("connection closed before end of header block")
	ErrHeaderTooLarge          = errors.New("header block too large")
	ErrNotGet                  = errors.New("upgrade request method must be GET")
	ErrMalformedRequestLine    = errors.New("malformed request line")
	ErrUnsupportedProtocol     = errors.New("unsupported http protocol version")
	ErrMissingUpgrade          = errors.New("missing or invalid Upgrade header")
	ErrMissingConnection       = errors.New("missing or invalid Connection header")
	ErrUnsupportedVersion      = errors.New("unsupported Sec-WebSocket-Version")
	ErrInvalidKey              = errors.New("missing or invalid Sec-WebSocket-Key")
	ErrSubprotocolNotSupported = errors.New("requested subprotocol is not supported")
	ErrMalformedStatusLine     = errors.New("malformed status line")
	ErrUnexpectedStatus        = errors.New("unexpected status code")
	ErrMissingHeader           = errors.New("missing required header")
	ErrDuplicateHeader         = errors.New("duplicate header")
	ErrInvalidHeaderValue      = errors.New("invalid header value")
	ErrAcceptMismatch          = errors.New("Sec-WebSocket-Accept does not match the challenge key")
	ErrUnrequestedSubprotocol  = errors.New("server selected a subprotocol that was not requested")
)

/*************************************************************************************************/
/* HANDSHAKE ERROR                                                                               */
/*************************************************************************************************/

// Specific error type for errors which occur during the upgrade handshake.
type HandshakeError struct {
	// HTTP status a server sends back when it rejects the request. 0 on the client side.
	Status int
	// Embedded error
	Err error
}

func (err HandshakeError) Error() string {
	return fmt.Sprintf("websocket handshake failed: %v", err.Err)
}

func (err HandshakeError) Unwrap() error {
	return err.Err
}

// Wrap err into a HandshakeError that a server answers with a 400 Bad Request.
func badRequest(err error) error {
	return HandshakeError{Status: http.StatusBadRequest, Err: err}
}

// Wrap err into a client side HandshakeError.
func clientFailure(err error) error {
	return HandshakeError{Err: err}
}
