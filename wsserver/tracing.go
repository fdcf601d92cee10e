package wsserver

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* TRACING RELATED CONSTANTS                                                                     */
/*************************************************************************************************/

// Constants used for tracing purpose.
const (
	// Package name used by library tracer and meter
	pkgName = "wsserver"
	// Package version
	pkgVersion = "0.0.0"

	// Namespace used by spans, events, attributes and metrics
	namespace = "wsserver"
	// Sub-namespace used by spans related to connections
	connectionNamespace = namespace + ".connection"

	// Name of span used to trace Start public method
	spanServerStart = namespace + ".start"
	// Name of span used to trace Stop public method
	spanServerStop = namespace + ".stop"
	// Name of span used to trace the handshake of an accepted socket
	spanConnectionHandshake = connectionNamespace + ".handshake"
	// Name of span used to trace the authorization of a connection
	spanConnectionAuthorize = connectionNamespace + ".authorize"
	// Name of span used to trace SendToConnection public method
	spanSendToConnection = namespace + ".send_to_connection"
	// Name of span used to trace SendToUser public method
	spanSendToUser = namespace + ".send_to_user"
	// Name of span used to trace BroadcastToAll public method
	spanBroadcast = namespace + ".broadcast"

	// Event used in span to signal the connection has been rejected
	eventConnectionRejected = connectionNamespace + ".rejected"
	// Event used in span to signal the connection has been upgraded
	eventConnectionUpgraded = connectionNamespace + ".upgraded"

	// Attribute used to store the listen address
	attrListenAddress = namespace + ".listen_address"
	// Attribute used to store the connection ID
	attrConnectionId = connectionNamespace + ".id"
	// Attribute used to store the remote address
	attrRemoteAddress = connectionNamespace + ".remote_address"
	// Attribute used to store the negotiated subprotocol
	attrSubprotocol = connectionNamespace + ".subprotocol"
	// Attribute used to store the HTTP status of a rejected handshake
	attrRejectStatus = connectionNamespace + ".reject_status"
	// Attribute used to store the user ID
	attrUserId = namespace + ".user_id"
	// Attribute used to store a message length
	attrMsgLength = namespace + ".message.length"
	// Attribute used to store a message type
	attrMsgType = namespace + ".message.type"
	// Attribute used to store the number of connections a message was delivered to
	attrDelivered = namespace + ".delivered"
	// Attribute used to store the number of failed deliveries
	attrFailed = namespace + ".failed"
	// Attribute used to indicate whether TLS is enabled
	attrTls = namespace + ".tls"
)

// # Description
//
// The function records the input error in the provided span using span.RecordError(err) and set
// the span status with the provided code and description. The function returns the provided error.
//
// # Usage tips
//
// The function is meant to replace code blocks like this one:
//
//	if err != nil {
//			span.RecordError(err)
//			span.SetStatus(code, description)
//			return err
//	}
//
// By:
//
//	if err != nil {
//			return handleError(err, span, code, description)
//	}
func handleError(err error, span trace.Span, code codes.Code, description string) error {
	span.RecordError(err)
	span.SetStatus(code, description)
	return err
}

// # Description
//
// If the error is not nil, the function records the input error in the provided span and set the
// span status with an error code and description. In the other case, the span status is set with
// a Ok code. The function returns the provided error in all cases.
func handlePotentialError(err error, span trace.Span) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		return err
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}
