package wsserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gbdevw/gowsengine/wsauth"
	"github.com/gbdevw/gowsengine/wsconn"
	"github.com/gbdevw/gowsengine/wsevents"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wshandshake"
	"github.com/gbdevw/gowsengine/wsliveness"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Close reason used when the server shuts down.
const shutdownReason = "server shutdown"

/*************************************************************************************************/
/* HOSTING ADAPTER ENTRY POINTS                                                                  */
/*************************************************************************************************/

// # Description
//
// Serve an already upgraded socket handed over by a hosting adapter. The connection is
// registered as anonymous and served until it is closed, ctx is done or the server is stopped.
// The method blocks until the connection is closed.
//
// # Returns
//
// Nil once the connection has been closed.
func (srv *WebsocketServer) StartReceiving(ctx context.Context, socket net.Conn) error {
	conn, err := srv.openHosted(socket, "")
	if err != nil {
		return err
	}
	srv.serveHosted(ctx, conn, "")
	return nil
}

// # Description
//
// Authorize and serve an already upgraded socket handed over by a hosting adapter. The token is
// extracted from rawPathOrToken which can be the upgrade request URI, its path or the bare token.
// The socket being already upgraded, the connection is opened first and authorized once open,
// without going through the Authorizing state. It is registered only once authorized.
//
// When authorization fails, the unauthorized announcement is sent as a text message, the
// connection is closed with a policy violation close code and a Disconnected event carrying the
// AuthorizationError is published. Otherwise the method blocks until the connection is closed.
//
// # Returns
//
// ErrNoUserValidator if the server has no user validator, an AuthorizationError if the
// connection has been refused, nil once the connection has been closed.
func (srv *WebsocketServer) AuthorizeAndStartReceiving(ctx context.Context, socket net.Conn, rawPathOrToken string) error {
	if srv.validator == nil {
		_ = socket.Close()
		return ErrNoUserValidator
	}
	conn, err := srv.openHosted(socket, rawPathOrToken)
	if err != nil {
		return err
	}
	logger := srv.logger.With(zap.String("connection_id", conn.ID()), zap.String("remote_addr", remoteAddr(socket)))
	userID, err := srv.authorize(ctx, conn.ID(), rawPathOrToken)
	if err != nil {
		if sendErr := conn.SendText(ctx, srv.opts.ConnectionUnauthorizedString); sendErr != nil {
			logger.Debug("failed to send unauthorized announcement", zap.Error(sendErr))
		}
		srv.refuse(conn, err, logger)
		return err
	}
	srv.serveHosted(ctx, conn, userID)
	return nil
}

// Wrap an upgraded socket in an open connection.
func (srv *WebsocketServer) openHosted(socket net.Conn, rawPathOrToken string) (*wsconn.Conn, error) {
	conn := wsconn.New(socket, srv.connOptions())
	info := wsconn.HandshakeInfo{}
	if u, err := url.Parse(rawPathOrToken); err == nil && rawPathOrToken != "" {
		info.Path, info.Query = u.Path, u.Query()
	}
	if err := conn.Advance(wsconn.Upgrading); err != nil {
		conn.Disconnect(wsframe.InternalError, "")
		return nil, TransportError{ConnectionID: conn.ID(), Err: err}
	}
	if err := conn.Open(info); err != nil {
		conn.Disconnect(wsframe.InternalError, "")
		return nil, TransportError{ConnectionID: conn.ID(), Err: err}
	}
	return conn, nil
}

// Serve a hosted connection until it is closed, ctx is done or the server is stopped.
func (srv *WebsocketServer) serveHosted(ctx context.Context, conn *wsconn.Conn, userID string) {
	logger := srv.logger.With(zap.String("connection_id", conn.ID()), zap.String("remote_addr", remoteAddr(conn.NetConn())))
	defer srv.recoverLoop(conn, userID, logger)
	stop := context.AfterFunc(ctx, func() { conn.Disconnect(wsframe.GoingAway, shutdownReason) })
	defer stop()
	if serverCtx := srv.currentServerContext(); serverCtx != nil {
		stopWithServer := context.AfterFunc(serverCtx, func() { conn.Disconnect(wsframe.GoingAway, shutdownReason) })
		defer stopWithServer()
	}
	srv.run(ctx, conn, userID, logger)
}

/*************************************************************************************************/
/* ACCEPTED SOCKETS                                                                              */
/*************************************************************************************************/

// # Description
//
// Serve a socket accepted by the accept loop: TLS handshake, upgrade handshake, authorization and
// receive loop. The socket is closed when the method returns.
func (srv *WebsocketServer) serveSocket(ctx context.Context, socket net.Conn) {
	srv.tuneSocket(socket)
	if srv.tlsConfig != nil {
		socket = tls.Server(socket, srv.tlsConfig)
	}
	conn := wsconn.New(socket, srv.connOptions())
	logger := srv.logger.With(zap.String("connection_id", conn.ID()), zap.String("remote_addr", remoteAddr(socket)))
	defer srv.recoverLoop(conn, "", logger)
	stop := context.AfterFunc(ctx, func() { conn.Disconnect(wsframe.GoingAway, shutdownReason) })
	defer stop()
	userID, ok := srv.handshake(ctx, conn, logger)
	if !ok {
		return
	}
	srv.run(ctx, conn, userID, logger)
}

// # Description
//
// Perform the server side of the handshake on an accepted socket and open the connection.
// Rejected connections are answered with an HTTP error response and closed.
//
// # Returns
//
// The ID of the authorized user (empty for anonymous servers) and true if the connection is open.
func (srv *WebsocketServer) handshake(ctx context.Context, conn *wsconn.Conn, logger *zap.Logger) (string, bool) {
	socket := conn.NetConn()
	ctx, span := srv.tracer.Start(ctx, spanConnectionHandshake, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String(attrConnectionId, conn.ID()),
		attribute.String(attrRemoteAddress, remoteAddr(socket)),
		attribute.Bool(attrTls, srv.tlsConfig != nil),
	))
	defer span.End()
	if srv.opts.HandshakeTimeoutMs > 0 {
		_ = socket.SetDeadline(time.Now().Add(time.Duration(srv.opts.HandshakeTimeoutMs) * time.Millisecond))
	}
	if tlsConn, ok := socket.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			err = TransportError{ConnectionID: conn.ID(), Err: err}
			srv.rejected.Add(1)
			logger.Warn("tls handshake failed", zap.Error(err))
			srv.publishError(conn.ID(), "", err)
			conn.Disconnect(wsframe.AbnormalClosure, "")
			handleError(err, span, codes.Error, "tls handshake failed")
			return "", false
		}
	}
	req, err := wshandshake.ReadUpgradeRequest(socket, srv.opts.MaxHeaderBytes)
	subprotocol := ""
	if err == nil {
		subprotocol, err = wshandshake.NegotiateSubprotocol(req.Subprotocols, srv.opts.AvailableSubprotocols)
	}
	if err != nil {
		srv.rejectHandshake(conn, err, logger, span)
		return "", false
	}
	span.SetAttributes(attribute.String(attrSubprotocol, subprotocol))
	userID := ""
	if srv.validator != nil {
		if err := conn.Advance(wsconn.Authorizing); err != nil {
			// Disconnected while handshaking
			handleError(err, span, codes.Error, "connection closed")
			return "", false
		}
		userID, err = srv.authorize(ctx, conn.ID(), req.RequestURI)
		if err != nil {
			_ = wshandshake.WriteRejection(socket, http.StatusUnauthorized, srv.opts.ConnectionUnauthorizedString)
			span.AddEvent(eventConnectionRejected, trace.WithAttributes(attribute.Int(attrRejectStatus, http.StatusUnauthorized)))
			srv.refuse(conn, err, logger)
			handleError(err, span, codes.Error, "unauthorized")
			return "", false
		}
		span.SetAttributes(attribute.String(attrUserId, userID))
	}
	if err := conn.Advance(wsconn.Upgrading); err != nil {
		handleError(err, span, codes.Error, "connection closed")
		return "", false
	}
	if err := wshandshake.WriteUpgradeResponse(socket, req.Key, subprotocol); err != nil {
		err = TransportError{ConnectionID: conn.ID(), Err: err}
		logger.Warn("failed to write upgrade response", zap.Error(err))
		srv.publishError(conn.ID(), userID, err)
		conn.Disconnect(wsframe.AbnormalClosure, "")
		handleError(err, span, codes.Error, "upgrade failed")
		return "", false
	}
	_ = socket.SetDeadline(time.Time{})
	err = conn.Open(wsconn.HandshakeInfo{
		Subprotocol: subprotocol,
		Path:        req.Path,
		Query:       req.Query,
		Leftover:    req.Leftover,
	})
	if err != nil {
		handleError(err, span, codes.Error, "connection closed")
		return "", false
	}
	span.AddEvent(eventConnectionUpgraded)
	handlePotentialError(nil, span)
	return userID, true
}

// Answer a rejected upgrade request with an HTTP error response and close the socket.
func (srv *WebsocketServer) rejectHandshake(conn *wsconn.Conn, err error, logger *zap.Logger, span trace.Span) {
	status := http.StatusBadRequest
	var herr wshandshake.HandshakeError
	if errors.As(err, &herr) && herr.Status != 0 {
		status = herr.Status
	}
	if writeErr := wshandshake.WriteRejection(conn.NetConn(), status, err.Error()); writeErr != nil {
		logger.Debug("failed to write rejection", zap.Error(writeErr))
	}
	srv.rejected.Add(1)
	logger.Warn("upgrade request rejected", zap.Int("status", status), zap.Error(err))
	span.AddEvent(eventConnectionRejected, trace.WithAttributes(attribute.Int(attrRejectStatus, status)))
	srv.publishError(conn.ID(), "", err)
	conn.Disconnect(wsframe.ProtocolError, "")
	handleError(err, span, codes.Error, "handshake rejected")
}

// Close a connection which failed authorization and publish its Disconnected event.
func (srv *WebsocketServer) refuse(conn *wsconn.Conn, err error, logger *zap.Logger) {
	srv.rejected.Add(1)
	logger.Warn("connection is not authorized", zap.Error(err))
	conn.Disconnect(wsframe.PolicyViolation, srv.opts.ConnectionUnauthorizedString)
	code, reason := conn.CloseReason()
	srv.bus.Publish(wsevents.Event{
		Kind:         wsevents.Disconnected,
		ConnectionID: conn.ID(),
		Err:          err,
		Code:         code,
		Reason:       reason,
	})
}

// # Description
//
// Authorize a connection with the user validator.
//
// # Returns
//
// The user ID or an AuthorizationError.
func (srv *WebsocketServer) authorize(ctx context.Context, connectionID string, rawPathOrToken string) (string, error) {
	ctx, span := srv.tracer.Start(ctx, spanConnectionAuthorize, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(
		attribute.String(attrConnectionId, connectionID),
	))
	defer span.End()
	userID, err := wsauth.Authorize(ctx, srv.validator, rawPathOrToken)
	if err != nil {
		return "", handleError(AuthorizationError{ConnectionID: connectionID, Err: err}, span, codes.Error, "unauthorized")
	}
	span.SetAttributes(attribute.String(attrUserId, userID))
	return userID, handlePotentialError(nil, span)
}

/*************************************************************************************************/
/* RECEIVE LOOP                                                                                  */
/*************************************************************************************************/

// # Description
//
// Register an open connection, announce it and run its receive loop. The connection is removed
// from the registry and its Disconnected event is published when the loop exits.
func (srv *WebsocketServer) run(ctx context.Context, conn *wsconn.Conn, userID string, logger *zap.Logger) {
	if userID != "" {
		logger = logger.With(zap.String("user_id", userID))
	}
	var registered bool
	if userID != "" {
		registered = srv.registry.AddIdentity(userID, conn)
	} else {
		registered = srv.registry.Add(conn)
	}
	if !registered {
		err := fmt.Errorf("%w: %s", ErrDuplicateConnection, conn.ID())
		logger.Error("failed to register connection", zap.Error(err))
		srv.publishError(conn.ID(), userID, err)
		conn.Disconnect(wsframe.InternalError, "")
		return
	}
	srv.accepted.Add(1)
	var cause error
	defer func() {
		conn.Disconnect(wsframe.AbnormalClosure, "")
		srv.registry.Remove(conn.ID())
		code, reason := conn.CloseReason()
		logger.Info("connection closed",
			zap.Uint16("code", uint16(code)),
			zap.String("reason", reason))
		srv.bus.Publish(wsevents.Event{
			Kind:         wsevents.Disconnected,
			ConnectionID: conn.ID(),
			UserID:       userID,
			Err:          cause,
			Code:         code,
			Reason:       reason,
		})
	}()
	logger.Info("connection opened", zap.String("subprotocol", conn.Subprotocol()))
	srv.bus.Publish(wsevents.Event{Kind: wsevents.Connected, ConnectionID: conn.ID(), UserID: userID})
	if announcement := srv.opts.ConnectionSuccessString; announcement != "" {
		if err := conn.SendText(ctx, announcement); err != nil {
			srv.isolateSendFailure(conn, SendError{ConnectionID: conn.ID(), Err: err})
		}
	}
	cause = srv.receive(conn, userID, logger)
}

// # Description
//
// Read messages until the connection is closed. Liveness answers are consumed, other messages
// are published as Message events.
//
// # Returns
//
// The error which caused the connection to close, nil for an orderly close.
func (srv *WebsocketServer) receive(conn *wsconn.Conn, userID string, logger *zap.Logger) error {
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return srv.handleReadError(conn, userID, err, logger)
		}
		if msgType == wsframe.Text && wsliveness.IsPong(payload) {
			conn.MarkPristine()
			continue
		}
		logger.Debug("message received", zap.Stringer("type", msgType), zap.Int("length", len(payload)))
		srv.bus.Publish(wsevents.Event{
			Kind:         wsevents.Message,
			ConnectionID: conn.ID(),
			UserID:       userID,
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
// Nil if the peer closed the connection or if the connection had already been disconnected
// locally, the read error otherwise.
func (srv *WebsocketServer) handleReadError(conn *wsconn.Conn, userID string, err error, logger *zap.Logger) error {
	var closeErr *wsframe.CloseError
	if errors.As(err, &closeErr) {
		// Echo the close frame
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
		srv.publishError(conn.ID(), userID, err)
		conn.Disconnect(code, err.Error())
		return err
	}
	err = TransportError{ConnectionID: conn.ID(), Err: err}
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		logger.Warn("connection read failed", zap.Error(err))
		srv.publishError(conn.ID(), userID, err)
	}
	conn.Disconnect(wsframe.AbnormalClosure, "")
	return err
}

// Convert a panic of a connection loop into an Error event and close the connection.
func (srv *WebsocketServer) recoverLoop(conn *wsconn.Conn, userID string, logger *zap.Logger) {
	if r := recover(); r != nil {
		err := fmt.Errorf("connection loop panicked: %v", r)
		logger.Error("connection loop panicked", zap.Any("panic", r), zap.Stack("stack"))
		srv.publishError(conn.ID(), userID, err)
		conn.Disconnect(wsframe.InternalError, "")
	}
}

// Remote address of a socket as a string.
func remoteAddr(socket net.Conn) string {
	if addr := socket.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
