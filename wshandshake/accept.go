package wshandshake

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
)

// GUID appended to the challenge key before hashing (RFC6455 section 1.3).
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Header names used during the handshake.
const (
	HeaderConnection  = "Connection"
	HeaderUpgrade     = "Upgrade"
	HeaderHost        = "Host"
	HeaderKey         = "Sec-WebSocket-Key"
	HeaderAccept      = "Sec-WebSocket-Accept"
	HeaderProtocol    = "Sec-WebSocket-Protocol"
	HeaderVersion     = "Sec-WebSocket-Version"
	SupportedVersion  = "13"
	upgradeToken      = "upgrade"
	websocketToken    = "websocket"
	challengeKeyBytes = 16
)

// # Description
//
// Compute the Sec-WebSocket-Accept value for a challenge key:
//
//	base64(SHA1(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
func ComputeAcceptKey(key string) string {
	sum := sha1.Sum([]byte(key + acceptGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// # Description
//
// Generate a fresh random challenge key: 16 random bytes, base64 encoded.
func NewChallengeKey() (string, error) {
	b := make([]byte, challengeKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate challenge key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Return true if key decodes to 16 bytes.
func validChallengeKey(key string) bool {
	if key == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(key)
	return err == nil && len(decoded) == challengeKeyBytes
}
