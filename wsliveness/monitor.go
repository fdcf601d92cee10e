// This package contains the liveness monitor which periodically pings idle connections with the
// literal "Ping" text message and evicts connections which did not answer "pong" in time.
package wsliveness

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gbdevw/gowsengine/wsconn"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Liveness text messages.
const (
	// Text sent to idle connections.
	PingMessage = "Ping"
	// Text expected from pinged connections.
	PongMessage = "pong"
	// Text sent to connections evicted because they did not answer.
	NoPingResponseMessage = "no ping response"
)

// Return true if payload is a liveness reply: "pong", case-insensitive, surrounding spaces ignored.
func IsPong(payload []byte) bool {
	return strings.EqualFold(strings.TrimSpace(string(payload)), PongMessage)
}

// Return true if payload is a liveness request: "Ping", case-insensitive, surrounding spaces
// ignored.
func IsPing(payload []byte) bool {
	return strings.EqualFold(strings.TrimSpace(string(payload)), PingMessage)
}

// Set of connections watched by the monitor.
type Fleet interface {
	// Return a snapshot of the connections to watch.
	Connections() []wsconn.Connection
}

// Adapter to allow the use of an ordinary function as a Fleet.
type FleetFunc func() []wsconn.Connection

func (f FleetFunc) Connections() []wsconn.Connection {
	return f()
}

// Callback called when a liveness message could not be sent to a connection.
type SendErrorHandler func(conn wsconn.Connection, err error)

// Monitor options.
type Options struct {
	// Delay between two ticks. Must be greater than 0.
	Interval time.Duration `validate:"gt=0"`
	// Maximum number of connections moved to the pinged state per tick. Must be at least 1.
	MaxPingsPerTick int `validate:"gte=1"`
	// Maximum number of concurrent sends during a tick. Must be at least 1.
	SendConcurrency int `validate:"gte=1"`
}

// Outcome of a tick.
type TickResult struct {
	// Number of connections moved to the pinged state.
	Pinged int
	// Number of connections evicted.
	Evicted int
}

// Monitor statistics.
type Stats struct {
	// Number of completed ticks.
	Ticks int64
	// Number of ticks skipped because the previous one was still running.
	SkippedTicks int64
	// Number of "Ping" messages sent.
	PingsSent int64
	// Number of connections evicted.
	Evictions int64
}

// Periodic, single-flight liveness sweep.
type Monitor struct {
	fleet   Fleet
	opts    Options
	onError SendErrorHandler
	logger  *zap.Logger
	tracer  trace.Tracer
	// Held by the running tick.
	inflight *semaphore.Weighted

	ticks     atomic.Int64
	skipped   atomic.Int64
	pingsSent atomic.Int64
	evictions atomic.Int64
}

// # Description
//
// Factory which creates a new, not started liveness monitor.
//
// # Inputs
//
//   - fleet: Connections to watch.
//   - opts: Monitor options.
//   - onError: Called when a liveness message cannot be sent. Can be nil.
//   - logger: Logger to use. If nil, a no-op logger is used.
//   - tracerProvider: Tracer provider to use. If nil, global TracerProvider is used.
//
// # Returns
//
// The monitor or an error if fleet is nil or options are invalid.
func NewMonitor(
	fleet Fleet,
	opts Options,
	onError SendErrorHandler,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider) (*Monitor, error) {
	if fleet == nil {
		return nil, errors.New("provided fleet is nil")
	}
	if err := validator.New().Struct(opts); err != nil {
		return nil, err
	}
	if onError == nil {
		onError = func(wsconn.Connection, error) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	return &Monitor{
		fleet:    fleet,
		opts:     opts,
		onError:  onError,
		logger:   logger,
		tracer:   tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
		inflight: semaphore.NewWeighted(1),
	}, nil
}

// # Description
//
// Run ticks every Interval until ctx is canceled. A tick still running when the timer fires
// causes the new tick to be skipped. Run waits for the running tick before returning.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Wait for the running tick
			_ = m.inflight.Acquire(context.Background(), 1)
			m.inflight.Release(1)
			return
		case <-ticker.C:
			if !m.inflight.TryAcquire(1) {
				m.skipped.Add(1)
				m.logger.Debug("liveness tick skipped: previous tick still running")
				continue
			}
			go func() {
				defer m.inflight.Release(1)
				m.tick(ctx)
			}()
		}
	}
}

// # Description
//
// Run a single tick now unless a tick is already running.
//
// # Returns
//
// The tick outcome and true if the tick ran, false if it was skipped.
func (m *Monitor) TryTick(ctx context.Context) (TickResult, bool) {
	if !m.inflight.TryAcquire(1) {
		m.skipped.Add(1)
		return TickResult{}, false
	}
	defer m.inflight.Release(1)
	return m.tick(ctx), true
}

// Return a snapshot of the monitor statistics.
func (m *Monitor) Stats() Stats {
	return Stats{
		Ticks:        m.ticks.Load(),
		SkippedTicks: m.skipped.Load(),
		PingsSent:    m.pingsSent.Load(),
		Evictions:    m.evictions.Load(),
	}
}

// Evict pinged connections, then ping up to MaxPingsPerTick pristine connections.
func (m *Monitor) tick(ctx context.Context) TickResult {
	ctx, span := m.tracer.Start(ctx, spanTick, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	defer m.ticks.Add(1)
	snapshot := m.fleet.Connections()
	deadline := time.Now().Add(m.opts.Interval)
	var stale, fresh []wsconn.Connection
	for _, conn := range snapshot {
		if conn.State() != wsconn.Open {
			continue
		}
		if conn.Liveness() == wsconn.Pinged {
			stale = append(stale, conn)
		}
	}
	for _, conn := range snapshot {
		if len(fresh) >= m.opts.MaxPingsPerTick {
			break
		}
		if conn.State() == wsconn.Open && conn.MarkPinged(deadline) {
			fresh = append(fresh, conn)
		}
	}
	group := new(errgroup.Group)
	group.SetLimit(m.opts.SendConcurrency)
	for _, conn := range stale {
		group.Go(func() error {
			m.evict(ctx, conn)
			span.AddEvent(eventEvicted, trace.WithAttributes(attribute.String(attrConnectionId, conn.ID())))
			return nil
		})
	}
	for _, conn := range fresh {
		group.Go(func() error {
			if err := conn.SendText(ctx, PingMessage); err != nil {
				m.onError(conn, err)
				return nil
			}
			m.pingsSent.Add(1)
			return nil
		})
	}
	_ = group.Wait()
	span.SetAttributes(
		attribute.Int(attrSnapshotSize, len(snapshot)),
		attribute.Int(attrPinged, len(fresh)),
		attribute.Int(attrEvicted, len(stale)))
	if len(stale) > 0 || len(fresh) > 0 {
		m.logger.Debug("liveness tick completed",
			zap.Int("connections", len(snapshot)),
			zap.Int("pinged", len(fresh)),
			zap.Int("evicted", len(stale)))
	}
	return TickResult{Pinged: len(fresh), Evicted: len(stale)}
}

func (m *Monitor) evict(ctx context.Context, conn wsconn.Connection) {
	// Best effort: the connection is closed anyway
	_ = conn.SendText(ctx, NoPingResponseMessage)
	if conn.Disconnect(wsframe.PolicyViolation, NoPingResponseMessage) {
		m.evictions.Add(1)
		m.logger.Info("connection evicted: no ping response", zap.String("connection_id", conn.ID()))
	}
}
