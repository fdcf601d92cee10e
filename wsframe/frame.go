package wsframe

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// A single websocket frame with its payload unmasked.
type Frame struct {
	// Final fragment of a message.
	Fin bool
	// Frame opcode.
	Opcode Opcode
	// Unmasked payload.
	Payload []byte
}

/*************************************************************************************************/
/* READER                                                                                        */
/*************************************************************************************************/

// Reader decodes frames and reassembles messages from an upgraded stream. A Reader is owned by
// the single goroutine that runs the receive loop of a connection and is not safe for concurrent
// use.
type Reader struct {
	r              *bufio.Reader
	role           Role
	maxMessageSize int64
}

// # Description
//
// Factory which creates a new Reader.
//
// # Inputs
//
//   - r: Upgraded stream. Bytes received together with the handshake must be replayed first.
//   - role: Side of the connection the reader operates on.
//   - bufferSize: Size of the read buffer. Defaults to 4096 when lower or equal to 0.
//   - maxMessageSize: Maximum size of a reassembled message. 0 disables the limit.
func NewReader(r io.Reader, role Role, bufferSize int, maxMessageSize int64) *Reader {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Reader{
		r:              bufio.NewReaderSize(r, bufferSize),
		role:           role,
		maxMessageSize: maxMessageSize,
	}
}

// # Description
//
// Read and decode the next frame. Frame header is validated against RFC6455 rules: reserved bits
// must be unset, control frames must be final and carry at most 125 bytes, frames sent by clients
// must be masked and frames sent by servers must not.
func (fr *Reader) ReadFrame() (Frame, error) {
	var header [maxHeaderLen]byte
	if _, err := io.ReadFull(fr.r, header[:2]); err != nil {
		return Frame{}, err
	}
	if header[0]&rsvBits != 0 {
		return Frame{}, ErrReservedBits
	}
	fin := header[0]&finBit != 0
	opcode := Opcode(header[0] & opcodeMask)
	if !opcode.valid() {
		return Frame{}, fmt.Errorf("%w: %#x", ErrUnknownOpcode, byte(opcode))
	}
	masked := header[1]&maskBit != 0
	length := uint64(header[1] & lengthMask)
	switch length {
	case 126:
		if _, err := io.ReadFull(fr.r, header[2:4]); err != nil {
			return Frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(header[2:4]))
	case 127:
		if _, err := io.ReadFull(fr.r, header[2:10]); err != nil {
			return Frame{}, err
		}
		length = binary.BigEndian.Uint64(header[2:10])
		if length&(1<<63) != 0 {
			return Frame{}, ErrPayloadLength
		}
	}
	if opcode.IsControl() {
		if !fin {
			return Frame{}, ErrFragmentedControl
		}
		if length > MaxControlPayload {
			return Frame{}, ErrControlTooLarge
		}
	}
	if fr.role == ServerSide && !masked {
		return Frame{}, ErrUnmaskedFrame
	}
	if fr.role == ClientSide && masked {
		return Frame{}, ErrMaskedFrame
	}
	if fr.maxMessageSize > 0 && length > uint64(fr.maxMessageSize) {
		return Frame{}, ErrMessageTooBig
	}
	var key [4]byte
	if masked {
		if _, err := io.ReadFull(fr.r, key[:]); err != nil {
			return Frame{}, err
		}
	}
	payload, err := fr.readPayload(length)
	if err != nil {
		return Frame{}, err
	}
	if masked {
		applyMask(payload, key)
	}
	return Frame{Fin: fin, Opcode: opcode, Payload: payload}, nil
}

// Read a frame payload of the declared length. Large payloads are buffered as bytes arrive so
// that memory is bound by what the peer actually sends, not by the length it declares.
func (fr *Reader) readPayload(length uint64) ([]byte, error) {
	if length <= preallocLimit {
		payload := make([]byte, length)
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
	var buf bytes.Buffer
	buf.Grow(preallocLimit)
	if _, err := io.CopyN(&buf, fr.r, int64(length)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// # Description
//
// Read frames until a complete text or binary message has been reassembled.
//
// Ping and pong control frames are discarded: liveness is handled with text messages by the
// engine. Control frames interleaved with the fragments of a message are allowed.
//
// # Returns
//
// The message type and its payload. When the peer sends a close frame, a *CloseError that
// contains the peer close code and reason is returned.
func (fr *Reader) ReadMessage() (MessageType, []byte, error) {
	var (
		msgType    MessageType
		buf        []byte
		inProgress bool
	)
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			return 0, nil, err
		}
		switch f.Opcode {
		case OpPing, OpPong:
			continue
		case OpClose:
			code, reason, err := ParseClosePayload(f.Payload)
			if err != nil {
				return 0, nil, err
			}
			return 0, nil, &CloseError{Code: code, Reason: reason}
		case OpText, OpBinary:
			if inProgress {
				return 0, nil, ErrInterleavedMessage
			}
			msgType = Text
			if f.Opcode == OpBinary {
				msgType = Binary
			}
			buf = f.Payload
			inProgress = true
		case OpContinuation:
			if !inProgress {
				return 0, nil, ErrUnexpectedContinuation
			}
			if fr.maxMessageSize > 0 && int64(len(buf)+len(f.Payload)) > fr.maxMessageSize {
				return 0, nil, ErrMessageTooBig
			}
			buf = append(buf, f.Payload...)
		}
		if f.Fin {
			break
		}
	}
	if msgType == Text && !utf8.Valid(buf) {
		return 0, nil, ErrInvalidUTF8
	}
	return msgType, buf, nil
}

/*************************************************************************************************/
/* WRITER                                                                                        */
/*************************************************************************************************/

// Writer encodes frames on an upgraded stream. Frames written by a client side writer are masked
// with a fresh random key. A Writer is not safe for concurrent use: callers serialize writes.
type Writer struct {
	w    *bufio.Writer
	role Role
}

// # Description
//
// Factory which creates a new Writer.
//
// # Inputs
//
//   - w: Upgraded stream.
//   - role: Side of the connection the writer operates on.
//   - bufferSize: Size of the write buffer. Defaults to 4096 when lower or equal to 0.
func NewWriter(w io.Writer, role Role, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 4096
	}
	return &Writer{
		w:    bufio.NewWriterSize(w, bufferSize),
		role: role,
	}
}

// # Description
//
// Encode and flush a single frame.
func (fw *Writer) WriteFrame(f Frame) error {
	if f.Opcode.IsControl() && (!f.Fin || len(f.Payload) > MaxControlPayload) {
		return ErrControlTooLarge
	}
	var header [maxHeaderLen]byte
	header[0] = byte(f.Opcode)
	if f.Fin {
		header[0] |= finBit
	}
	n := 2
	length := len(f.Payload)
	switch {
	case length <= 125:
		header[1] = byte(length)
	case length <= 0xFFFF:
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:4], uint16(length))
		n = 4
	default:
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:10], uint64(length))
		n = 10
	}
	payload := f.Payload
	if fw.role == ClientSide {
		header[1] |= maskBit
		var key [4]byte
		if _, err := rand.Read(key[:]); err != nil {
			return fmt.Errorf("failed to generate masking key: %w", err)
		}
		copy(header[n:n+4], key[:])
		n += 4
		// Mask a copy so the caller keeps its payload untouched
		payload = make([]byte, length)
		copy(payload, f.Payload)
		applyMask(payload, key)
	}
	if _, err := fw.w.Write(header[:n]); err != nil {
		return err
	}
	if _, err := fw.w.Write(payload); err != nil {
		return err
	}
	return fw.w.Flush()
}

// # Description
//
// Write a complete message as a single final frame.
func (fw *Writer) WriteMessage(msgType MessageType, payload []byte) error {
	op, err := msgType.opcode()
	if err != nil {
		return err
	}
	return fw.WriteFrame(Frame{Fin: true, Opcode: op, Payload: payload})
}

// # Description
//
// Write a close frame with the provided code and reason. The reason is truncated so the payload
// fits in a control frame.
func (fw *Writer) WriteClose(code StatusCode, reason string) error {
	return fw.WriteFrame(Frame{Fin: true, Opcode: OpClose, Payload: EncodeClosePayload(code, reason)})
}

/*************************************************************************************************/
/* HELPERS                                                                                       */
/*************************************************************************************************/

// # Description
//
// Build a close frame payload. Reserved codes (1005, 1006) produce an empty payload.
func EncodeClosePayload(code StatusCode, reason string) []byte {
	if code == 0 || code == NoStatusReceived || code == AbnormalClosure {
		return []byte{}
	}
	if len(reason) > MaxControlPayload-2 {
		reason = reason[:MaxControlPayload-2]
		for !utf8.ValidString(reason) {
			reason = reason[:len(reason)-1]
		}
	}
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, uint16(code))
	copy(payload[2:], reason)
	return payload
}

// # Description
//
// Decode a close frame payload.
//
// # Returns
//
// NoStatusReceived and an empty reason for an empty payload. An error if the payload is one byte
// long or if the reason is not valid UTF-8.
func ParseClosePayload(payload []byte) (StatusCode, string, error) {
	switch {
	case len(payload) == 0:
		return NoStatusReceived, "", nil
	case len(payload) == 1:
		return 0, "", ErrInvalidClosePayload
	}
	code := StatusCode(binary.BigEndian.Uint16(payload[:2]))
	reason := payload[2:]
	if !utf8.Valid(reason) {
		return 0, "", ErrInvalidClosePayload
	}
	return code, string(reason), nil
}

func applyMask(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}
