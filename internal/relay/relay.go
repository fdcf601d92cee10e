// This package contains the message handler of the gowsengine binary: received packets tagged
// with the broadcast action are relayed to every other connection, everything else is echoed to
// its sender.
package relay

import (
	"context"
	"time"

	"github.com/gbdevw/gowsengine/wsevents"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wspacket"
	"go.uber.org/zap"
)

// Send API of the websocket server used by the relay.
type Sender interface {
	// Send a message to a connection.
	SendToConnection(ctx context.Context, connectionID string, msgType wsframe.MessageType, payload []byte) error
	// Send a message to every open connection but excludingID.
	BroadcastToAll(ctx context.Context, msgType wsframe.MessageType, payload []byte, excludingID string) (int, error)
}

// # Description
//
// Subscribe to Message events of bus and route each message.
//
// A message which decodes as a packet with the broadcast action is broadcast, as received, to
// every other connection. Any other message is echoed to its sender. Send failures are logged:
// the server already isolates failing connections.
//
// # Inputs
//
//   - bus: Event bus of the websocket server.
//   - sender: Websocket server.
//   - timeout: Maximum duration of the sends triggered by a message. 0 disables the timeout.
//   - logger: Logger to use. If nil, a no-op logger is used.
//
// # Returns
//
// The subscription. Unsubscribe stops routing.
func Attach(bus *wsevents.Bus, sender Sender, timeout time.Duration, logger *zap.Logger) *wsevents.Subscription {
	if logger == nil {
		logger = zap.NewNop()
	}
	return bus.Subscribe(func(evt wsevents.Event) {
		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		logger := logger.With(zap.String("connection_id", evt.ConnectionID), zap.String("user_id", evt.UserID))
		if isBroadcast(evt.Payload) {
			n, err := sender.BroadcastToAll(ctx, evt.MessageType, evt.Payload, evt.ConnectionID)
			if err != nil {
				logger.Warn("broadcast partially failed", zap.Int("delivered", n), zap.Error(err))
				return
			}
			logger.Debug("packet broadcast", zap.Int("delivered", n))
			return
		}
		if err := sender.SendToConnection(ctx, evt.ConnectionID, evt.MessageType, evt.Payload); err != nil {
			logger.Warn("echo failed", zap.Error(err))
		}
	}, wsevents.Message)
}

// Return true if payload is a valid packet tagged with the broadcast action.
func isBroadcast(payload []byte) bool {
	p, err := wspacket.Decode(payload)
	return err == nil && p.Action == wspacket.ActionBroadcast
}
