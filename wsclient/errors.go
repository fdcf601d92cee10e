package wsclient

import (
	"errors"
	"fmt"
)

// Errors returned by the websocket client.
var (
	ErrAlreadyConnected  = errors.New("client is already connected")
	ErrNotConnected      = errors.New("client is not connected")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// Error returned when the client fails to dial, secure or upgrade a connection.
type ConnectError struct {
	// Target URL.
	URL string
	// Root error.
	Err error
}

func (err ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %s", err.URL, err.Err.Error())
}

func (err ConnectError) Unwrap() error {
	return err.Err
}
