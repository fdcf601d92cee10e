package wshandshake

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Upgrade request received by a server, parsed and validated.
type UpgradeRequest struct {
	// Request method. Always GET for a valid request.
	Method string
	// Raw request target from the request line.
	RequestURI string
	// Path part of the request target.
	Path string
	// Parsed query parameters.
	Query url.Values
	// Protocol version from the request line.
	Proto string
	// Value of the Host header.
	Host string
	// All headers as received.
	Headers Headers
	// Value of Sec-WebSocket-Key.
	Key string
	// Subprotocols requested by the client, in order.
	Subprotocols []string
	// Bytes received after the header block. They are the first bytes of the upgraded stream.
	Leftover []byte
}

// # Description
//
// Read and validate an upgrade request from r.
//
// The request is rejected as soon as 3 bytes are available if it does not start with "GET". Once
// the header block is complete, the request line and headers are validated: HTTP/1.1 or later,
// Upgrade: websocket, Connection including the upgrade token, Sec-WebSocket-Version: 13 and a
// Sec-WebSocket-Key decoding to 16 bytes.
//
// # Inputs
//
//   - r: Accepted socket, possibly wrapped in TLS.
//   - maxHeaderBytes: Maximum size of the header block. DefaultMaxHeaderBytes is used if <= 0.
//
// # Returns
//
// The parsed request or a HandshakeError which carries the HTTP status to answer with.
func ReadUpgradeRequest(r io.Reader, maxHeaderBytes int) (*UpgradeRequest, error) {
	block, leftover, err := readHeaderBlock(r, maxHeaderBytes, func(prefix []byte) error {
		if !bytes.HasPrefix(prefix, []byte(http.MethodGet)) {
			return HandshakeError{Status: http.StatusMethodNotAllowed, Err: ErrNotGet}
		}
		return nil
	})
	if err != nil {
		if _, ok := err.(HandshakeError); ok {
			return nil, err
		}
		if err == ErrHeaderTooLarge {
			return nil, HandshakeError{Status: http.StatusRequestHeaderFieldsTooLarge, Err: err}
		}
		return nil, badRequest(err)
	}
	startLine, headers, err := ParseHeaderBlock(block)
	if err != nil {
		return nil, badRequest(err)
	}
	fields := strings.Fields(startLine)
	if len(fields) != 3 {
		return nil, badRequest(fmt.Errorf("%w: %q", ErrMalformedRequestLine, startLine))
	}
	method, target, proto := fields[0], fields[1], fields[2]
	if method != http.MethodGet {
		return nil, HandshakeError{Status: http.StatusMethodNotAllowed, Err: ErrNotGet}
	}
	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok || major != 1 || minor < 1 {
		return nil, badRequest(fmt.Errorf("%w: %q", ErrUnsupportedProtocol, proto))
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, badRequest(fmt.Errorf("%w: %v", ErrMalformedRequestLine, err))
	}
	if !headers.HasToken(HeaderUpgrade, websocketToken) {
		return nil, badRequest(ErrMissingUpgrade)
	}
	if !headers.HasToken(HeaderConnection, upgradeToken) {
		return nil, badRequest(ErrMissingConnection)
	}
	if headers.Get(HeaderVersion) != SupportedVersion {
		return nil, HandshakeError{Status: http.StatusUpgradeRequired, Err: ErrUnsupportedVersion}
	}
	if headers.Count(HeaderKey) != 1 || !validChallengeKey(headers.Get(HeaderKey)) {
		return nil, badRequest(ErrInvalidKey)
	}
	return &UpgradeRequest{
		Method:       method,
		RequestURI:   target,
		Path:         u.Path,
		Query:        u.Query(),
		Proto:        proto,
		Host:         headers.Get(HeaderHost),
		Headers:      headers,
		Key:          headers.Get(HeaderKey),
		Subprotocols: headers.Tokens(HeaderProtocol),
		Leftover:     leftover,
	}, nil
}

// # Description
//
// Negotiate the subprotocol used by a connection.
//
// When the client requested no subprotocol, no subprotocol is selected. Otherwise the first
// requested subprotocol present (case-insensitive) in the available list is selected. The
// connection is rejected when the available list is empty or when none of the requested
// subprotocols is available.
//
// # Returns
//
// The selected subprotocol (as spelled by the client) or a HandshakeError with a 400 status.
func NegotiateSubprotocol(requested []string, available []string) (string, error) {
	if len(requested) == 0 {
		return "", nil
	}
	if len(available) == 0 {
		return "", badRequest(fmt.Errorf("%w: server does not support any subprotocol", ErrSubprotocolNotSupported))
	}
	for _, candidate := range requested {
		if containsFold(available, candidate) {
			return candidate, nil
		}
	}
	return "", badRequest(fmt.Errorf("%w: %s", ErrSubprotocolNotSupported, strings.Join(requested, ", ")))
}

// # Description
//
// Write the 101 Switching Protocols response which completes a server side handshake.
//
// # Inputs
//
//   - w: Accepted socket.
//   - key: Sec-WebSocket-Key sent by the client.
//   - subprotocol: Negotiated subprotocol. The Sec-WebSocket-Protocol header is omitted if empty.
func WriteUpgradeResponse(w io.Writer, key string, subprotocol string) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString(HeaderUpgrade + ": websocket\r\n")
	b.WriteString(HeaderConnection + ": Upgrade\r\n")
	b.WriteString(HeaderAccept + ": " + ComputeAcceptKey(key) + "\r\n")
	if subprotocol != "" {
		b.WriteString(HeaderProtocol + ": " + subprotocol + "\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// # Description
//
// Write a minimal HTTP response which rejects an upgrade request. The provided text is sent as
// a plain text body. No 101 response must have been written before.
func WriteRejection(w io.Writer, status int, text string) error {
	if status < 400 || status > 599 {
		status = http.StatusBadRequest
	}
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(text))
	if status == http.StatusUpgradeRequired {
		b.WriteString(HeaderVersion + ": " + SupportedVersion + "\r\n")
	}
	b.WriteString("Connection: close\r\n\r\n")
	b.WriteString(text)
	_, err := io.WriteString(w, b.String())
	return err
}

func containsFold(values []string, value string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}
