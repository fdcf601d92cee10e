package wsconn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/google/uuid"
)

// Errors returned by connections.
var (
	ErrNotOpen           = errors.New("connection is not open")
	ErrInvalidTransition = errors.New("invalid connection state transition")
)

// Maximum time spent writing the close frame when a connection is disconnected.
const closeFrameTimeout = time.Second

// Capability interface of a websocket connection as seen by the registry, the liveness monitor
// and the server and client facades.
type Connection interface {
	// Unique connection ID assigned when the socket was accepted or dialed.
	ID() string
	// Remote network address.
	RemoteAddr() net.Addr
	// Negotiated subprotocol. Empty if none.
	Subprotocol() string
	// Path of the upgrade request.
	Path() string
	// Query parameters of the upgrade request.
	Query() url.Values
	// Current lifecycle state.
	State() State
	// Current liveness state.
	Liveness() LivenessState
	// Deadline set when the connection was last pinged. Zero if never pinged.
	NextPingDeadline() time.Time
	// Move the connection from Pristine to Pinged. Return false if it was already Pinged.
	MarkPinged(deadline time.Time) bool
	// Move the connection back to Pristine.
	MarkPristine()
	// Send a message. Writes are serialized and bounded by the configured write timeout.
	Send(ctx context.Context, msgType wsframe.MessageType, payload []byte) error
	// Send a text message.
	SendText(ctx context.Context, text string) error
	// Close the connection. Return false if the connection was already disconnected.
	Disconnect(code wsframe.StatusCode, reason string) bool
	// Close code and reason recorded by the first Disconnect call.
	CloseReason() (wsframe.StatusCode, string)
	// Channel closed once the connection is closed.
	Done() <-chan struct{}
}

// Connection options.
type Options struct {
	// Connection ID. A random UUID is used if empty.
	ID string
	// Side of the connection.
	Role wsframe.Role
	// Size of the read buffer used once the connection is open.
	ReceiveBufferSize int
	// Size of the write buffer used once the connection is open.
	SendBufferSize int
	// Maximum size of a received message. 0 disables the limit.
	MaxMessageSize int64
	// Maximum duration of a single write. 0 disables the timeout.
	WriteTimeout time.Duration
}

// Outcome of the upgrade handshake used to open a connection.
type HandshakeInfo struct {
	// Negotiated subprotocol.
	Subprotocol string
	// Path of the upgrade request.
	Path string
	// Query parameters of the upgrade request.
	Query url.Values
	// Bytes received after the handshake. They are read before any byte from the socket.
	Leftover []byte
}

// Websocket connection over a raw net.Conn.
type Conn struct {
	id        string
	netConn   net.Conn
	opts      Options
	createdAt time.Time

	state    atomic.Int32
	liveness atomic.Int32
	nextPing atomic.Int64

	// Set once by Open, before the Open state is published.
	subprotocol string
	path        string
	query       url.Values
	reader      *wsframe.Reader
	writer      *wsframe.Writer

	writeMu     sync.Mutex
	closeOnce   sync.Once
	closeMu     sync.Mutex
	closeCode   wsframe.StatusCode
	closeReason string
	done        chan struct{}
}

// # Description
//
// Factory which wraps an accepted or dialed socket in a new connection in Connecting state.
func New(netConn net.Conn, opts Options) *Conn {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	c := &Conn{
		id:        opts.ID,
		netConn:   netConn,
		opts:      opts,
		createdAt: time.Now(),
		query:     url.Values{},
		done:      make(chan struct{}),
	}
	c.state.Store(int32(Connecting))
	c.liveness.Store(int32(Pristine))
	return c
}

func (c *Conn) ID() string              { return c.id }
func (c *Conn) RemoteAddr() net.Addr    { return c.netConn.RemoteAddr() }
func (c *Conn) Subprotocol() string     { return c.subprotocol }
func (c *Conn) Path() string            { return c.path }
func (c *Conn) Query() url.Values       { return c.query }
func (c *Conn) State() State            { return State(c.state.Load()) }
func (c *Conn) Liveness() LivenessState { return LivenessState(c.liveness.Load()) }
func (c *Conn) Done() <-chan struct{}   { return c.done }
func (c *Conn) CreatedAt() time.Time    { return c.createdAt }
func (c *Conn) NetConn() net.Conn       { return c.netConn }
func (c *Conn) MarkPristine()           { c.liveness.Store(int32(Pristine)) }

func (c *Conn) SendText(ctx context.Context, text string) error {
	return c.Send(ctx, wsframe.Text, []byte(text))
}

func (c *Conn) NextPingDeadline() time.Time {
	n := c.nextPing.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func (c *Conn) MarkPinged(deadline time.Time) bool {
	if c.liveness.CompareAndSwap(int32(Pristine), int32(Pinged)) {
		c.nextPing.Store(deadline.UnixNano())
		return true
	}
	return false
}

func (c *Conn) CloseReason() (wsframe.StatusCode, string) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeCode, c.closeReason
}

// # Description
//
// Move the connection to the next lifecycle state.
//
// # Returns
//
// An error wrapping ErrInvalidTransition if the transition is not allowed from the current state.
func (c *Conn) Advance(next State) error {
	_, err := c.advance(next)
	return err
}

// Move to next and return the state the connection was in.
func (c *Conn) advance(next State) (State, error) {
	for {
		cur := State(c.state.Load())
		if !cur.canTransitionTo(next) {
			return cur, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			return cur, nil
		}
	}
}

// # Description
//
// Complete the upgrade: record the handshake outcome, set up frame reader and writer and move
// the connection from Upgrading to Open. Bytes received with the handshake are replayed before
// any byte read from the socket.
func (c *Conn) Open(info HandshakeInfo) error {
	if c.State() != Upgrading {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State(), Open)
	}
	c.subprotocol = info.Subprotocol
	c.path = info.Path
	if info.Query != nil {
		c.query = info.Query
	}
	var src io.Reader = c.netConn
	if len(info.Leftover) > 0 {
		src = io.MultiReader(bytes.NewReader(info.Leftover), c.netConn)
	}
	c.reader = wsframe.NewReader(src, c.opts.Role, c.opts.ReceiveBufferSize, c.opts.MaxMessageSize)
	c.writer = wsframe.NewWriter(c.netConn, c.opts.Role, c.opts.SendBufferSize)
	return c.Advance(Open)
}

// # Description
//
// Read the next complete message. Only the goroutine which runs the receive loop of the
// connection may call this method.
//
// # Returns
//
// The message type and payload, a *wsframe.CloseError when the peer closed the connection or the
// read error.
func (c *Conn) ReadMessage() (wsframe.MessageType, []byte, error) {
	if c.reader == nil {
		return 0, nil, ErrNotOpen
	}
	return c.reader.ReadMessage()
}

func (c *Conn) Send(ctx context.Context, msgType wsframe.MessageType, payload []byte) error {
	if c.State() != Open {
		return ErrNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// Connection may have been closed while waiting for the lock
	if c.State() != Open {
		return ErrNotOpen
	}
	if err := c.netConn.SetWriteDeadline(c.writeDeadline(ctx)); err != nil {
		return err
	}
	return c.writer.WriteMessage(msgType, payload)
}

func (c *Conn) Disconnect(code wsframe.StatusCode, reason string) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closeMu.Lock()
		c.closeCode, c.closeReason = code, reason
		c.closeMu.Unlock()
		prev, _ := c.advance(Closing)
		if prev == Open {
			// Let an in-flight write complete, then send the close frame best-effort
			c.writeMu.Lock()
			_ = c.netConn.SetWriteDeadline(time.Now().Add(closeFrameTimeout))
			_ = c.writer.WriteClose(code, reason)
			c.writeMu.Unlock()
		}
		_ = c.netConn.Close()
		c.state.Store(int32(Closed))
		close(c.done)
	})
	return first
}

// Earliest of the context deadline and the configured write timeout. Zero if none applies.
func (c *Conn) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(c.opts.WriteTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline
}
