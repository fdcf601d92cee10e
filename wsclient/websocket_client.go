// This package contains the websocket client: it dials a ws:// or wss:// URL, performs the
// upgrade handshake on the raw socket, then runs a receive loop which publishes received messages
// on an event bus. The client answers the server liveness "Ping" with "pong".
//
// The client does not reconnect automatically. Callers which need to reconnect wait for Done and
// call Connect again.
package wsclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gbdevw/gowsengine/wsconn"
	"github.com/gbdevw/gowsengine/wsevents"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wshandshake"
	"github.com/gbdevw/gowsengine/wsliveness"
	"github.com/gbdevw/gowsengine/wstls"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Close reason used when the connection is closed after a write failure.
const sendFailureReason = "send failure"

// Channel returned by Done when the client has never connected.
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Websocket client which performs the websocket handshake on a raw TCP/TLS socket.
type WebsocketClient struct {
	// Client options
	opts *WebsocketClientConfigurationOptions
	// Client certificates loaded from options
	certificates []tls.Certificate
	// Event bus
	bus *wsevents.Bus
	// Logger
	logger *zap.Logger
	// Tracer used to instrument client code
	tracer trace.Tracer

	// Serializes Connect calls
	connectMu sync.Mutex
	// Protects conn and loopDone
	mu sync.Mutex
	// Current connection. Nil if the client never connected.
	conn *wsconn.Conn
	// Closed when the receive loop of the current connection exits
	loopDone chan struct{}
}

// # Description
//
// Factory which creates a new, non-connected websocket client.
//
// # Inputs
//
//   - opts: Client options. Default options are used if nil. Options must not be modified after.
//   - logger: Logger to use. If nil, a no-op logger is used.
//   - tracerProvider: Tracer provider to use. If nil, global TracerProvider is used.
//
// # Returns
//
// The new client or an error if options are invalid or client certificates cannot be loaded.
func NewWebsocketClient(
	opts *WebsocketClientConfigurationOptions,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider) (*WebsocketClient, error) {
	if opts == nil {
		opts = NewWebsocketClientConfigurationOptions()
	}
	if err := Validate(opts); err != nil {
		return nil, fmt.Errorf("invalid websocket client options: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	certificates := make([]tls.Certificate, 0, len(opts.ClientCertificates))
	for _, cc := range opts.ClientCertificates {
		cert, err := wstls.LoadKeyPair(cc.CertificateFile, cc.KeyFile, cc.Password)
		if err != nil {
			return nil, err
		}
		certificates = append(certificates, cert)
	}
	return &WebsocketClient{
		opts:         opts,
		certificates: certificates,
		bus:          wsevents.NewBus(logger),
		logger:       logger,
		tracer:       tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
	}, nil
}

// # Description
//
// Dial the target, perform the TLS handshake for wss:// URLs and the websocket upgrade, then start
// the receive loop. The whole sequence is bounded by ctx and by HandshakeTimeoutMs. Cancelling
// ctx once Connect has returned has no effect on the connection.
//
// Bytes sent by the server right after its upgrade response are read as the first frames of the
// connection.
//
// # Returns
//
// ErrAlreadyConnected if the current connection is not closed, a ConnectError if the connection
// could not be established (also published as an Error event), nil otherwise.
func (client *WebsocketClient) Connect(ctx context.Context, target *url.URL) error {
	client.connectMu.Lock()
	defer client.connectMu.Unlock()
	ctx, span := client.tracer.Start(ctx, spanConnect, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(
		attribute.String(attrUrl, target.String()),
	))
	defer span.End()
	if conn := client.Connection(); conn != nil && conn.State() < wsconn.Closing {
		return handleError(ErrAlreadyConnected, span, codes.Error, "already connected")
	}
	conn, err := client.dial(ctx, target, span)
	if err != nil {
		err = ConnectError{URL: target.String(), Err: err}
		client.logger.Warn("failed to connect", zap.String("url", target.String()), zap.Error(err))
		client.publishError("", err)
		return handleError(err, span, codes.Error, "connection failed")
	}
	span.SetAttributes(
		attribute.String(attrConnectionId, conn.ID()),
		attribute.String(attrSubprotocol, conn.Subprotocol()))
	loopDone := make(chan struct{})
	client.mu.Lock()
	client.conn = conn
	client.loopDone = loopDone
	client.mu.Unlock()
	client.logger.Info("connected",
		zap.String("url", target.String()),
		zap.String("connection_id", conn.ID()),
		zap.String("subprotocol", conn.Subprotocol()))
	client.bus.Publish(wsevents.Event{Kind: wsevents.Connected, ConnectionID: conn.ID()})
	go client.run(conn, loopDone)
	return handlePotentialError(nil, span)
}

// Dial the target and upgrade the connection.
func (client *WebsocketClient) dial(ctx context.Context, target *url.URL, span trace.Span) (*wsconn.Conn, error) {
	var secure bool
	switch target.Scheme {
	case "ws":
	case "wss":
		secure = true
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme)
	}
	if client.opts.HandshakeTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(client.opts.HandshakeTimeoutMs)*time.Millisecond)
		defer cancel()
	}
	dialer := net.Dialer{KeepAlive: time.Duration(client.opts.KeepAliveIntervalSec) * time.Second}
	socket, err := dialer.DialContext(ctx, "tcp", hostPort(target, secure))
	if err != nil {
		return nil, err
	}
	span.AddEvent(eventDialed)
	// Unblock handshake I/O when ctx is done
	stop := context.AfterFunc(ctx, func() { _ = socket.SetDeadline(time.Now()) })
	conn, err := client.upgrade(ctx, socket, target, secure, span)
	if !stop() && err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := conn.NetConn().SetDeadline(time.Time{}); err != nil {
		_ = socket.Close()
		return nil, err
	}
	return conn, nil
}

// Perform the TLS handshake if secure is true, then the websocket upgrade.
func (client *WebsocketClient) upgrade(
	ctx context.Context,
	socket net.Conn,
	target *url.URL,
	secure bool,
	span trace.Span) (*wsconn.Conn, error) {
	if secure {
		cfg, err := wstls.ClientConfig(
			target.Hostname(),
			client.certificates,
			client.opts.EnabledTlsProtocols,
			client.opts.RootCAFiles,
			client.opts.InsecureSkipVerify)
		if err != nil {
			return nil, err
		}
		tlsConn := tls.Client(socket, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		span.AddEvent(eventTlsHandshake)
		socket = tlsConn
	}
	conn := wsconn.New(socket, wsconn.Options{
		Role:              wsframe.ClientSide,
		ReceiveBufferSize: client.opts.ReceiveBufferSize,
		SendBufferSize:    client.opts.SendBufferSize,
		MaxMessageSize:    client.opts.MaxMessageSize,
		WriteTimeout:      time.Duration(client.opts.WriteTimeoutMs) * time.Millisecond,
	})
	key, err := wshandshake.NewChallengeKey()
	if err != nil {
		return nil, err
	}
	err = wshandshake.WriteUpgradeRequest(socket, wshandshake.ClientRequest{
		Host:         target.Host,
		RequestURI:   target.RequestURI(),
		Key:          key,
		Subprotocols: client.opts.RequestedSubprotocols,
		Headers:      requestHeaders(client.opts.RequestHeaders),
	})
	if err != nil {
		return nil, err
	}
	res, err := wshandshake.ReadUpgradeResponse(socket, key, client.opts.RequestedSubprotocols, client.opts.MaxHeaderBytes)
	if err != nil {
		return nil, err
	}
	if err := conn.Advance(wsconn.Upgrading); err != nil {
		return nil, err
	}
	err = conn.Open(wsconn.HandshakeInfo{
		Subprotocol: res.Subprotocol,
		Path:        target.Path,
		Query:       target.Query(),
		Leftover:    res.Leftover,
	})
	if err != nil {
		return nil, err
	}
	span.AddEvent(eventUpgraded)
	return conn, nil
}

// # Description
//
// Send a message to the server.
//
// A write failure which is not caused by ctx closes the connection with an internal error close
// code and publishes an Error event.
//
// # Returns
//
// ErrNotConnected if the client has no open connection, the write error otherwise.
func (client *WebsocketClient) Send(ctx context.Context, msgType wsframe.MessageType, payload []byte) error {
	ctx, span := client.tracer.Start(ctx, spanSend, trace.WithSpanKind(trace.SpanKindProducer), trace.WithAttributes(
		attribute.String(attrMsgType, msgType.String()),
		attribute.Int(attrMsgLength, len(payload)),
	))
	defer span.End()
	conn := client.Connection()
	if conn == nil {
		return handleError(ErrNotConnected, span, codes.Error, "not connected")
	}
	span.SetAttributes(attribute.String(attrConnectionId, conn.ID()))
	err := conn.Send(ctx, msgType, payload)
	if errors.Is(err, wsconn.ErrNotOpen) {
		return handleError(ErrNotConnected, span, codes.Error, "not connected")
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		client.onSendFailure(conn, err)
	}
	return handlePotentialError(err, span)
}

// Send a text message to the server.
func (client *WebsocketClient) SendText(ctx context.Context, text string) error {
	return client.Send(ctx, wsframe.Text, []byte(text))
}

// # Description
//
// Close the connection with the provided close code and reason. The Disconnected event is
// published by the receive loop once it has exited: use Done to wait for it.
//
// # Returns
//
// ErrNotConnected if the client has no connection or if the connection is already closed.
func (client *WebsocketClient) Disconnect(code wsframe.StatusCode, reason string) error {
	conn := client.Connection()
	if conn == nil || !conn.Disconnect(code, reason) {
		return ErrNotConnected
	}
	client.logger.Info("disconnected", zap.String("connection_id", conn.ID()), zap.Uint16("code", uint16(code)))
	return nil
}

// Current connection. Nil if the client never connected.
func (client *WebsocketClient) Connection() wsconn.Connection {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.conn == nil {
		return nil
	}
	return client.conn
}

// Subprotocol negotiated by the current connection. Empty if none or if the client never
// connected.
func (client *WebsocketClient) Subprotocol() string {
	if conn := client.Connection(); conn != nil {
		return conn.Subprotocol()
	}
	return ""
}

// Channel closed once the receive loop of the current connection has exited and the
// Disconnected event has been published. The returned channel is closed if the client never
// connected.
func (client *WebsocketClient) Done() <-chan struct{} {
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.loopDone == nil {
		return closedChan
	}
	return client.loopDone
}

// Subscribe to client events. Without kinds, the handler receives all events.
func (client *WebsocketClient) Subscribe(handler wsevents.Handler, kinds ...wsevents.Kind) *wsevents.Subscription {
	return client.bus.Subscribe(handler, kinds...)
}

// Event bus of the client.
func (client *WebsocketClient) Bus() *wsevents.Bus {
	return client.bus
}

/*************************************************************************************************/
/* RECEIVE LOOP                                                                                  */
/*************************************************************************************************/

// Run the receive loop of conn until the connection is closed and publish the Disconnected
// event.
func (client *WebsocketClient) run(conn *wsconn.Conn, loopDone chan struct{}) {
	logger := client.logger.With(zap.String("connection_id", conn.ID()))
	var cause error
	defer func() {
		if r := recover(); r != nil {
			cause = fmt.Errorf("receive loop panicked: %v", r)
			logger.Error("receive loop panicked", zap.Any("panic", r), zap.Stack("stack"))
			client.publishError(conn.ID(), cause)
			conn.Disconnect(wsframe.InternalError, "")
		}
		conn.Disconnect(wsframe.AbnormalClosure, "")
		code, reason := conn.CloseReason()
		logger.Info("connection closed", zap.Uint16("code", uint16(code)), zap.String("reason", reason))
		client.bus.Publish(wsevents.Event{
			Kind:         wsevents.Disconnected,
			ConnectionID: conn.ID(),
			Code:         code,
			Reason:       reason,
			Err:          cause,
		})
		close(loopDone)
	}()
	cause = client.receive(conn, logger)
}

// Read messages until the connection fails or is closed.
func (client *WebsocketClient) receive(conn *wsconn.Conn, logger *zap.Logger) error {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return client.handleReadError(conn, err, logger)
		}
		if client.opts.AutoPong && msgType == wsframe.Text && wsliveness.IsPing(payload) {
			if err := conn.SendText(context.Background(), wsliveness.PongMessage); err != nil && !errors.Is(err, wsconn.ErrNotOpen) {
				client.onSendFailure(conn, err)
			}
			continue
		}
		logger.Debug("message received", zap.Stringer("type", msgType), zap.Int("length", len(payload)))
		client.bus.Publish(wsevents.Event{
			Kind:         wsevents.Message,
			ConnectionID: conn.ID(),
			MessageType:  msgType,
			Payload:      payload,
		})
	}
}

// # Description
//
// Close the connection after a read failure.
//
// # Returns
//
// Nil if the server closed the connection or if the connection had already been disconnected
// locally, the read error otherwise.
func (client *WebsocketClient) handleReadError(conn *wsconn.Conn, err error, logger *zap.Logger) error {
	var closeErr *wsframe.CloseError
	if errors.As(err, &closeErr) {
		code := closeErr.Code
		if code == wsframe.NoStatusReceived {
			code = wsframe.NormalClosure
		}
		conn.Disconnect(code, closeErr.Reason)
		return nil
	}
	if conn.State() >= wsconn.Closing {
		return nil
	}
	if code, ok := wsframe.StatusCodeFor(err); ok {
		logger.Warn("invalid frame received", zap.Error(err))
		client.publishError(conn.ID(), err)
		conn.Disconnect(code, err.Error())
		return err
	}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		logger.Warn("connection read failed", zap.Error(err))
		client.publishError(conn.ID(), err)
	}
	conn.Disconnect(wsframe.AbnormalClosure, "")
	return err
}

// Publish an Error event for a failed write and close the connection.
func (client *WebsocketClient) onSendFailure(conn wsconn.Connection, err error) {
	client.logger.Warn("failed to send message", zap.String("connection_id", conn.ID()), zap.Error(err))
	client.publishError(conn.ID(), err)
	conn.Disconnect(wsframe.InternalError, sendFailureReason)
}

func (client *WebsocketClient) publishError(connectionID string, err error) {
	client.bus.Publish(wsevents.Event{Kind: wsevents.Error, ConnectionID: connectionID, Err: err})
}

// host:port dial address of target. The port defaults to 80 for ws and 443 for wss.
func hostPort(target *url.URL, secure bool) string {
	port := target.Port()
	if port == "" {
		port = "80"
		if secure {
			port = "443"
		}
	}
	return net.JoinHostPort(target.Hostname(), port)
}

// Convert the configured request headers into handshake headers, sorted by name.
func requestHeaders(values map[string]string) wshandshake.Headers {
	headers := make(wshandshake.Headers, 0, len(values))
	for name, value := range values {
		headers = append(headers, wshandshake.Header{Name: name, Value: value})
	}
	sort.Slice(headers, func(i, j int) bool { return headers[i].Name < headers[j].Name })
	return headers
}
