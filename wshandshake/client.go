package wshandshake

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Upgrade request sent by a client.
type ClientRequest struct {
	// Value of the Host header (host[:port]).
	Host string
	// Request target (path and query). Defaults to "/".
	RequestURI string
	// Challenge key. Use NewChallengeKey to get a fresh one.
	Key string
	// Subprotocols requested by the client, in order of preference.
	Subprotocols []string
	// Additional headers. Headers managed by the handshake (Host, Upgrade, Connection and the
	// Sec-WebSocket-* headers) are ignored.
	Headers Headers
}

// Response received by a client, validated.
type UpgradeResponse struct {
	// Status line as received.
	StatusLine string
	// All headers as received.
	Headers Headers
	// Subprotocol selected by the server. Empty if none.
	Subprotocol string
	// Bytes received after the header block. They are the first bytes of the upgraded stream.
	Leftover []byte
}

// # Description
//
// Write the GET upgrade request described by req.
func WriteUpgradeRequest(w io.Writer, req ClientRequest) error {
	target := req.RequestURI
	if target == "" {
		target = "/"
	}
	var b strings.Builder
	b.WriteString("GET " + target + " HTTP/1.1\r\n")
	b.WriteString(HeaderHost + ": " + req.Host + "\r\n")
	b.WriteString(HeaderUpgrade + ": websocket\r\n")
	b.WriteString(HeaderConnection + ": Upgrade\r\n")
	b.WriteString(HeaderKey + ": " + req.Key + "\r\n")
	b.WriteString(HeaderVersion + ": " + SupportedVersion + "\r\n")
	if len(req.Subprotocols) > 0 {
		b.WriteString(HeaderProtocol + ": " + strings.Join(req.Subprotocols, ", ") + "\r\n")
	}
	for _, hdr := range req.Headers {
		if reservedRequestHeader(hdr.Name) || strings.ContainsAny(hdr.Name+hdr.Value, "\r\n") {
			continue
		}
		b.WriteString(hdr.Name + ": " + hdr.Value + "\r\n")
	}
	b.WriteString("\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// # Description
//
// Read and validate the server response to an upgrade request.
//
// The status line must be "HTTP/1.1 101" (a reason phrase may follow). Connection: Upgrade,
// Upgrade: websocket and a Sec-WebSocket-Accept matching the challenge key must each appear exactly
// once. At most one Sec-WebSocket-Protocol header may appear and its value must be one of the
// requested subprotocols.
//
// # Inputs
//
//   - r: Dialed socket, possibly wrapped in TLS.
//   - key: Challenge key sent in the request.
//   - requested: Subprotocols sent in the request.
//   - maxHeaderBytes: Maximum size of the header block. DefaultMaxHeaderBytes is used if <= 0.
//
// # Returns
//
// The validated response, including the bytes the server pipelined after the header block, or a
// HandshakeError.
func ReadUpgradeResponse(r io.Reader, key string, requested []string, maxHeaderBytes int) (*UpgradeResponse, error) {
	block, leftover, err := readHeaderBlock(r, maxHeaderBytes, nil)
	if err != nil {
		return nil, clientFailure(err)
	}
	statusLine, headers, err := ParseHeaderBlock(block)
	if err != nil {
		return nil, clientFailure(err)
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 || parts[0] != "HTTP/1.1" || len(parts[1]) != 3 {
		return nil, clientFailure(fmt.Errorf("%w: %q", ErrMalformedStatusLine, statusLine))
	}
	if parts[1] != "101" {
		return nil, clientFailure(fmt.Errorf("%w: %s", ErrUnexpectedStatus, parts[1]))
	}
	if err := requireSingle(headers, HeaderConnection, func(v string) bool {
		return headers.HasToken(HeaderConnection, upgradeToken)
	}); err != nil {
		return nil, clientFailure(err)
	}
	if err := requireSingle(headers, HeaderUpgrade, func(v string) bool {
		return strings.EqualFold(v, websocketToken)
	}); err != nil {
		return nil, clientFailure(err)
	}
	expected := ComputeAcceptKey(key)
	if err := requireSingle(headers, HeaderAccept, func(v string) bool {
		return v == expected
	}); err != nil {
		if errors.Is(err, ErrInvalidHeaderValue) {
			err = ErrAcceptMismatch
		}
		return nil, clientFailure(err)
	}
	subprotocol := ""
	switch headers.Count(HeaderProtocol) {
	case 0:
	case 1:
		subprotocol = headers.Get(HeaderProtocol)
		if strings.Contains(subprotocol, ",") || !containsFold(requested, subprotocol) {
			return nil, clientFailure(fmt.Errorf("%w: %q", ErrUnrequestedSubprotocol, subprotocol))
		}
	default:
		return nil, clientFailure(fmt.Errorf("%w: %s", ErrDuplicateHeader, HeaderProtocol))
	}
	return &UpgradeResponse{
		StatusLine:  statusLine,
		Headers:     headers,
		Subprotocol: subprotocol,
		Leftover:    leftover,
	}, nil
}

// Check the header appears exactly once and that its value is accepted by valid.
func requireSingle(headers Headers, name string, valid func(value string) bool) error {
	switch headers.Count(name) {
	case 0:
		return fmt.Errorf("%w: %s", ErrMissingHeader, name)
	case 1:
		if !valid(headers.Get(name)) {
			return fmt.Errorf("%w: %s", ErrInvalidHeaderValue, name)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrDuplicateHeader, name)
	}
}

func reservedRequestHeader(name string) bool {
	switch strings.ToLower(name) {
	case "host", "upgrade", "connection",
		"sec-websocket-key", "sec-websocket-version", "sec-websocket-protocol", "sec-websocket-accept":
		return true
	default:
		return false
	}
}
