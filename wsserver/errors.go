package wsserver

import (
	"errors"
	"fmt"
)

// Errors returned by the websocket server.
var (
	ErrAlreadyStarted      = errors.New("server already started")
	ErrNotStarted          = errors.New("server not started")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrUnknownUser         = errors.New("user has no connection")
	ErrNoUserValidator     = errors.New("server has no user validator")
	ErrServerShuttingDown  = errors.New("server is shutting down")
	ErrDuplicateConnection = errors.New("duplicate connection id")
)

/*************************************************************************************************/
/* SERVER START ERROR                                                                            */
/*************************************************************************************************/

// Specific error type for errors which occur when the server starts.
type ServerStartError struct {
	// Embedded error
	Err error
}

func (err ServerStartError) Error() string {
	return fmt.Sprintf("websocket server failed to start: %v", err.Err)
}

func (err ServerStartError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* TRANSPORT ERROR                                                                               */
/*************************************************************************************************/

// Specific error type for socket and TLS failures.
type TransportError struct {
	// ID of the connection. Empty for listener failures.
	ConnectionID string
	// Embedded error
	Err error
}

func (err TransportError) Error() string {
	return fmt.Sprintf("websocket transport failure on connection %q: %v", err.ConnectionID, err.Err)
}

func (err TransportError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* AUTHORIZATION ERROR                                                                           */
/*************************************************************************************************/

// Specific error type for connections which failed authorization.
type AuthorizationError struct {
	// ID of the connection.
	ConnectionID string
	// Embedded error
	Err error
}

func (err AuthorizationError) Error() string {
	return fmt.Sprintf("websocket connection %q is not authorized: %v", err.ConnectionID, err.Err)
}

func (err AuthorizationError) Unwrap() error {
	return err.Err
}

/*************************************************************************************************/
/* SEND ERROR                                                                                    */
/*************************************************************************************************/

// Specific error type for write failures on an open connection.
type SendError struct {
	// ID of the connection.
	ConnectionID string
	// Embedded error
	Err error
}

func (err SendError) Error() string {
	return fmt.Sprintf("failed to send message to websocket connection %q: %v", err.ConnectionID, err.Err)
}

func (err SendError) Unwrap() error {
	return err.Err
}
