// This package contains the HTTP/1.1 Upgrade handshake engine used by both the server and the
// client: a structured header block parser, Sec-WebSocket-Accept computation, server side request
// validation and subprotocol negotiation, client side request building and response validation.
package wshandshake

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

const (
	// Default maximum size of a header block (request line + headers).
	DefaultMaxHeaderBytes = 8192
	// Size of the chunks read from the socket while waiting for the end of the header block.
	readChunkSize = 1024
)

var headerTerminator = []byte("\r\n\r\n")

// A single header line.
type Header struct {
	// Header name as sent by the peer.
	Name string
	// Header value, trimmed.
	Value string
}

// Ordered list of headers as they appeared on the wire. Duplicates are preserved so validation
// can detect repeated headers. Name lookups are case-insensitive.
type Headers []Header

// Return the first value for the header or an empty string.
func (h Headers) Get(name string) string {
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			return hdr.Value
		}
	}
	return ""
}

// Return all values for the header in wire order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			values = append(values, hdr.Value)
		}
	}
	return values
}

// Return the number of times the header appears.
func (h Headers) Count(name string) int {
	count := 0
	for _, hdr := range h {
		if strings.EqualFold(hdr.Name, name) {
			count++
		}
	}
	return count
}

// # Description
//
// Return the comma separated tokens of every occurrence of the header, trimmed, empty tokens
// dropped. "a, b" and two headers "a" and "b" yield the same tokens.
func (h Headers) Tokens(name string) []string {
	var tokens []string
	for _, value := range h.Values(name) {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

// Return true if one of the header tokens matches token (case-insensitive).
func (h Headers) HasToken(name string, token string) bool {
	for _, t := range h.Tokens(name) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}

// Return a lowercased name to first value map.
func (h Headers) Map() map[string]string {
	m := make(map[string]string, len(h))
	for _, hdr := range h {
		key := strings.ToLower(hdr.Name)
		if _, found := m[key]; !found {
			m[key] = hdr.Value
		}
	}
	return m
}

// # Description
//
// Parse a header block (without its terminating empty line) into its start line and headers.
//
// Lines are split on CRLF. Names and values are trimmed. Lines starting with a space or a tab
// continue the value of the previous header (obsolete line folding). Lines without a colon are
// skipped.
//
// # Returns
//
// The start line (request line or status line) and the parsed headers, or an error if the start
// line is empty.
func ParseHeaderBlock(block []byte) (string, Headers, error) {
	lines := strings.Split(string(block), "\r\n")
	startLine := strings.TrimSpace(lines[0])
	if startLine == "" {
		return "", nil, ErrMalformedStartLine
	}
	headers := make(Headers, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) > 0 {
				last := &headers[len(headers)-1]
				last.Value = strings.TrimSpace(last.Value + " " + strings.TrimSpace(line))
			}
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		headers = append(headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return startLine, headers, nil
}

// # Description
//
// Read from r until a complete header block has been received.
//
// # Inputs
//
//   - r: Stream to read from.
//   - maxBytes: Maximum size of the header block. DefaultMaxHeaderBytes is used if <= 0.
//   - precheck: Optional check run once at least 3 bytes have been received. It allows to reject
//     a peer early, before the full header block is available.
//
// # Returns
//
// The header block without its terminating empty line and the bytes received after the header
// block in the same reads. Those bytes belong to the upgraded stream and must be replayed.
func readHeaderBlock(r io.Reader, maxBytes int, precheck func(prefix []byte) error) ([]byte, []byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxHeaderBytes
	}
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)
	checked := precheck == nil
	for {
		n, err := r.Read(chunk)
		scanFrom := len(buf) - len(headerTerminator) + 1
		if scanFrom < 0 {
			scanFrom = 0
		}
		buf = append(buf, chunk[:n]...)
		if !checked && len(buf) >= 3 {
			checked = true
			if perr := precheck(buf); perr != nil {
				return nil, nil, perr
			}
		}
		if idx := bytes.Index(buf[scanFrom:], headerTerminator); idx >= 0 {
			end := scanFrom + idx
			if end > maxBytes {
				return nil, nil, ErrHeaderTooLarge
			}
			leftover := make([]byte, len(buf)-end-len(headerTerminator))
			copy(leftover, buf[end+len(headerTerminator):])
			return buf[:end], leftover, nil
		}
		if len(buf) > maxBytes {
			return nil, nil, ErrHeaderTooLarge
		}
		if err != nil {
			if err == io.EOF {
				return nil, nil, fmt.Errorf("%w: %w", ErrIncompleteHeader, io.ErrUnexpectedEOF)
			}
			return nil, nil, err
		}
	}
}
