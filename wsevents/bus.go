// This package contains the event bus used by the websocket server and client to notify external
// subscribers about server lifecycle, connections, messages and errors.
package wsevents

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gbdevw/gowsengine/wsframe"
	"go.uber.org/zap"
)

// Kind of event published on the bus.
type Kind int

const (
	// Server has started listening.
	ServerStarted Kind = iota + 1
	// Server has stopped: listener closed and all connections disconnected.
	ServerStopped
	// A connection completed its handshake (and authorization) and has been registered.
	Connected
	// A registered connection has been disconnected, or a connection has been refused by the
	// authorization step. Published exactly once per connection.
	Disconnected
	// A text or binary message has been received.
	Message
	// An error occured. Err is set.
	Error
)

func (k Kind) String() string {
	switch k {
	case ServerStarted:
		return "server_started"
	case ServerStopped:
		return "server_stopped"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Message:
		return "message"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event published on the bus.
type Event struct {
	// Kind of event.
	Kind Kind
	// Time the event was produced.
	Time time.Time
	// ID of the connection the event relates to. Empty for server lifecycle events.
	ConnectionID string
	// ID of the authenticated user which owns the connection. Empty for anonymous connections.
	UserID string
	// Type of the received message (Message events).
	MessageType wsframe.MessageType
	// Payload of the received message (Message events).
	Payload []byte
	// Error which caused the event (Error events, Disconnected events caused by an error).
	Err error
	// Close code (Disconnected events).
	Code wsframe.StatusCode
	// Close reason (Disconnected events).
	Reason string
}

// Callback which receives published events. Handlers run synchronously in the goroutine which
// publishes the event: a slow handler slows down the connection which produced the event.
type Handler func(Event)

// Subscription returned by Bus.Subscribe.
type Subscription struct {
	bus     *Bus
	handler Handler
	// Bitmask of the subscribed kinds. 0 means all kinds.
	kinds  uint64
	active atomic.Bool
	once   sync.Once
}

// # Description
//
// Remove the subscription from the bus. The handler is not called anymore once Unsubscribe
// returns, except by a Publish call already iterating over it. Unsubscribe is idempotent and can
// be called from within the handler.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.active.Store(false)
		sub.bus.remove(sub)
	})
}

func (sub *Subscription) accepts(kind Kind) bool {
	return sub.kinds == 0 || sub.kinds&(1<<uint(kind)) != 0
}

// Event bus with a copy-on-write subscriber list. Publish never holds a lock while calling
// handlers.
type Bus struct {
	mu     sync.Mutex
	subs   []*Subscription
	logger *zap.Logger
}

// # Description
//
// Factory which creates a new event bus.
//
// # Inputs
//
//   - logger: Logger used to report panicking handlers. If nil, a no-op logger is used.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// # Description
//
// Register handler for the provided kinds of events. If no kind is provided, handler receives all
// events.
//
// # Returns
//
// The subscription which can be used to unsubscribe.
func (bus *Bus) Subscribe(handler Handler, kinds ...Kind) *Subscription {
	sub := &Subscription{bus: bus, handler: handler}
	for _, kind := range kinds {
		sub.kinds |= 1 << uint(kind)
	}
	sub.active.Store(true)
	bus.mu.Lock()
	defer bus.mu.Unlock()
	subs := make([]*Subscription, len(bus.subs), len(bus.subs)+1)
	copy(subs, bus.subs)
	bus.subs = append(subs, sub)
	return sub
}

// # Description
//
// Deliver evt to every active subscription which accepts its kind, in subscription order. Time is
// set if zero. A panicking handler is logged and does not prevent delivery to other handlers.
func (bus *Bus) Publish(evt Event) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}
	bus.mu.Lock()
	subs := bus.subs
	bus.mu.Unlock()
	for _, sub := range subs {
		if sub.active.Load() && sub.accepts(evt.Kind) {
			bus.deliver(sub, evt)
		}
	}
}

// Return the number of active subscriptions.
func (bus *Bus) Len() int {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	return len(bus.subs)
}

func (bus *Bus) deliver(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			bus.logger.Error("event handler panicked",
				zap.Stringer("kind", evt.Kind),
				zap.String("connection_id", evt.ConnectionID),
				zap.Any("panic", r))
		}
	}()
	sub.handler(evt)
}

func (bus *Bus) remove(sub *Subscription) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	subs := make([]*Subscription, 0, len(bus.subs))
	for _, s := range bus.subs {
		if s != sub {
			subs = append(subs, s)
		}
	}
	bus.subs = subs
}
