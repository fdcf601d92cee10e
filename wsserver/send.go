package wsserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gbdevw/gowsengine/wsconn"
	"github.com/gbdevw/gowsengine/wsframe"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Close reason used when a connection is disconnected after a write failure.
const sendFailureReason = "send failure"

// # Description
//
// Send a message to a registered connection.
//
// A write failure disconnects the connection and publishes an Error event. Other connections are
// not affected.
//
// # Returns
//
// ErrConnectionNotFound if no connection has the provided ID, a SendError if the write failed,
// nil otherwise.
func (srv *WebsocketServer) SendToConnection(ctx context.Context, connectionID string, msgType wsframe.MessageType, payload []byte) error {
	ctx, span := srv.tracer.Start(ctx, spanSendToConnection, trace.WithSpanKind(trace.SpanKindProducer), trace.WithAttributes(
		attribute.String(attrConnectionId, connectionID),
		attribute.String(attrMsgType, msgType.String()),
		attribute.Int(attrMsgLength, len(payload)),
	))
	defer span.End()
	conn, ok := srv.registry.Get(connectionID)
	if !ok {
		return handleError(fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID), span, codes.Error, "connection not found")
	}
	return handlePotentialError(srv.send(ctx, conn, msgType, payload), span)
}

// # Description
//
// Send a message to every connection of a user.
//
// # Returns
//
// ErrUnknownUser if the user has no registered connection, the joined SendError of the failed
// writes, nil if all writes succeeded.
func (srv *WebsocketServer) SendToUser(ctx context.Context, userID string, msgType wsframe.MessageType, payload []byte) error {
	ctx, span := srv.tracer.Start(ctx, spanSendToUser, trace.WithSpanKind(trace.SpanKindProducer), trace.WithAttributes(
		attribute.String(attrUserId, userID),
		attribute.String(attrMsgType, msgType.String()),
		attribute.Int(attrMsgLength, len(payload)),
	))
	defer span.End()
	conns := srv.registry.GetAllForUser(userID)
	if len(conns) == 0 {
		return handleError(fmt.Errorf("%w: %s", ErrUnknownUser, userID), span, codes.Error, "unknown user")
	}
	var errs []error
	for _, conn := range conns {
		if err := srv.send(ctx, conn, msgType, payload); err != nil {
			errs = append(errs, err)
		}
	}
	span.SetAttributes(
		attribute.Int(attrDelivered, len(conns)-len(errs)),
		attribute.Int(attrFailed, len(errs)))
	return handlePotentialError(errors.Join(errs...), span)
}

// # Description
//
// Send a message to every open connection except the one whose ID is excludingID (no exclusion
// if empty). Writes run concurrently, up to SendConcurrency at a time, over a snapshot of the
// registry. A failed write is isolated: it disconnects that connection only and does not stop
// the broadcast.
//
// # Returns
//
// The number of connections the message was written to and the joined SendError of the failed
// writes.
func (srv *WebsocketServer) BroadcastToAll(ctx context.Context, msgType wsframe.MessageType, payload []byte, excludingID string) (int, error) {
	ctx, span := srv.tracer.Start(ctx, spanBroadcast, trace.WithSpanKind(trace.SpanKindProducer), trace.WithAttributes(
		attribute.String(attrMsgType, msgType.String()),
		attribute.Int(attrMsgLength, len(payload)),
	))
	defer span.End()
	var (
		delivered atomic.Int64
		mu        sync.Mutex
		errs      []error
	)
	group := new(errgroup.Group)
	group.SetLimit(srv.opts.SendConcurrency)
	for _, conn := range srv.registry.GetAll() {
		if conn.ID() == excludingID || conn.State() != wsconn.Open {
			continue
		}
		group.Go(func() error {
			if err := srv.send(ctx, conn, msgType, payload); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = group.Wait()
	span.SetAttributes(
		attribute.Int64(attrDelivered, delivered.Load()),
		attribute.Int(attrFailed, len(errs)))
	return int(delivered.Load()), handlePotentialError(errors.Join(errs...), span)
}

// Send a message and isolate the connection if the write failed.
func (srv *WebsocketServer) send(ctx context.Context, conn *wsconn.Conn, msgType wsframe.MessageType, payload []byte) error {
	err := conn.Send(ctx, msgType, payload)
	if err == nil {
		return nil
	}
	err = SendError{ConnectionID: conn.ID(), Err: err}
	srv.isolateSendFailure(conn, err)
	return err
}

// # Description
//
// Publish an Error event for a failed write and disconnect the connection. Nothing is done if
// the connection was not open or if the write was abandoned because the caller context was done
// before anything was written.
func (srv *WebsocketServer) isolateSendFailure(conn wsconn.Connection, err error) {
	if errors.Is(err, wsconn.ErrNotOpen) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	userID, _ := srv.registry.UserOf(conn.ID())
	srv.logger.Warn("failed to send message",
		zap.String("connection_id", conn.ID()),
		zap.String("user_id", userID),
		zap.Error(err))
	srv.publishError(conn.ID(), userID, err)
	conn.Disconnect(wsframe.InternalError, sendFailureReason)
}
