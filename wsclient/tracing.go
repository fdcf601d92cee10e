package wsclient

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

/*************************************************************************************************/
/* TRACING RELATED CONSTANTS                                                                     */
/*************************************************************************************************/

// Constants used for tracing purpose.
const (
	// Package name used by library tracer
	pkgName = "wsclient"
	// Package version
	pkgVersion = "0.0.0"

	// Namespace used by spans, events and attributes
	namespace = "wsclient"

	// Name of span used to trace Connect public method
	spanConnect = namespace + ".connect"
	// Name of span used to trace Send public method
	spanSend = namespace + ".send"

	// Event used in span to signal the TCP connection has been established
	eventDialed = namespace + ".dialed"
	// Event used in span to signal the TLS handshake has completed
	eventTlsHandshake = namespace + ".tls_handshake"
	// Event used in span to signal the connection has been upgraded
	eventUpgraded = namespace + ".upgraded"

	// Attribute used to store the target URL
	attrUrl = namespace + ".url"
	// Attribute used to store the connection ID
	attrConnectionId = namespace + ".connection.id"
	// Attribute used to store the negotiated subprotocol
	attrSubprotocol = namespace + ".connection.subprotocol"
	// Attribute used to store a message length
	attrMsgLength = namespace + ".message.length"
	// Attribute used to store a message type
	attrMsgType = namespace + ".message.type"
)

// Record the error in the span, set the span status and return the error.
func handleError(err error, span trace.Span, code codes.Code, description string) error {
	span.RecordError(err)
	span.SetStatus(code, description)
	return err
}

// Record the error in the span if not nil and set the span status accordingly. The provided
// error is returned in all cases.
func handlePotentialError(err error, span trace.Span) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, codes.Error.String())
		return err
	}
	span.SetStatus(codes.Ok, codes.Ok.String())
	return nil
}
