// This package contains the websocket server: a TCP (optionally TLS) accept loop which performs
// the upgrade handshake on raw sockets, an optional token based authorization step, one receive
// loop per connection, a send API (single connection, user, broadcast) and the liveness monitor.
//
// Server activity is published on an event bus and instrumented with OpenTelemetry.
package wsserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/gbdevw/gowsengine/wsauth"
	"github.com/gbdevw/gowsengine/wsconn"
	"github.com/gbdevw/gowsengine/wsevents"
	"github.com/gbdevw/gowsengine/wsframe"
	"github.com/gbdevw/gowsengine/wsliveness"
	"github.com/gbdevw/gowsengine/wsregistry"
	"github.com/gbdevw/gowsengine/wstls"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Point in time statistics of a websocket server.
type Stats struct {
	// Number of registered connections.
	ActiveConnections int
	// Number of users with at least one registered connection.
	Users int
	// Total number of upgraded connections.
	Accepted int64
	// Total number of rejected handshakes and unauthorized connections.
	Rejected int64
	// Liveness monitor statistics. Zero if liveness monitoring is disabled.
	Liveness wsliveness.Stats
}

// Websocket server which performs the websocket handshake on raw TCP/TLS sockets.
type WebsocketServer struct {
	// Server options
	opts *WebsocketServerConfigurationOptions
	// User validator. Nil for anonymous servers.
	validator wsauth.UserValidator
	// TLS configuration. Nil if TLS is disabled.
	tlsConfig *tls.Config
	// Open connections, indexed by ID and by user
	registry *wsregistry.IdentityRegistry[*wsconn.Conn]
	// Event bus
	bus *wsevents.Bus
	// Liveness monitor. Nil if liveness monitoring is disabled.
	monitor *wsliveness.Monitor
	// Logger
	logger *zap.Logger
	// Tracer used to instrument server code
	tracer trace.Tracer
	// Reference to instruments used to record server metrics
	instruments *websocketServerInstruments

	// Total number of upgraded connections
	accepted atomic.Int64
	// Total number of rejected connections
	rejected atomic.Int64
	// Indicates that server has started
	started atomic.Bool

	// Internal mutex used to coordinate start/stop
	startMu sync.Mutex
	// Listener used by the accept loop
	listener net.Listener
	// Runs the accept loop and the liveness monitor
	group *errgroup.Group
	// Tracks the receive loops of accepted sockets
	loops sync.WaitGroup

	// Protects serverCtx
	ctxMu sync.RWMutex
	// Context bound to the lifetime of the started server. Nil when not started.
	serverCtx context.Context
	// Cancel function used to stop the server
	cancelServerCtx context.CancelFunc
}

// # Description
//
// Factory which creates a new, non-started websocket server.
//
// # Inputs
//
//   - opts: Server options. Default options are used if nil. Options must not be modified after.
//   - validator: User validator used to authorize connections. If nil, connections are anonymous.
//   - logger: Logger to use. If nil, a no-op logger is used.
//   - tracerProvider: Tracer provider to use. If nil, global TracerProvider is used.
//   - meterProvider: Meter provider to use. If nil, global MeterProvider is used.
//
// # Returns
//
// The new server or an error if options are invalid, TLS material cannot be loaded or metric
// instruments cannot be created.
func NewWebsocketServer(
	opts *WebsocketServerConfigurationOptions,
	validator wsauth.UserValidator,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider,
	meterProvider metric.MeterProvider) (*WebsocketServer, error) {
	if opts == nil {
		opts = NewWebsocketServerConfigurationOptions()
	}
	if err := Validate(opts); err != nil {
		return nil, fmt.Errorf("invalid websocket server options: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracerProvider == nil {
		tracerProvider = otel.GetTracerProvider()
	}
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	srv := &WebsocketServer{
		opts:      opts,
		validator: validator,
		registry:  wsregistry.NewIdentityRegistry[*wsconn.Conn](),
		bus:       wsevents.NewBus(logger),
		logger:    logger,
		tracer:    tracerProvider.Tracer(pkgName, trace.WithInstrumentationVersion(pkgVersion)),
	}
	if opts.TlsCertificateFile != "" {
		cert, err := wstls.LoadKeyPair(opts.TlsCertificateFile, opts.TlsKeyFile, opts.TlsCertificatePassword)
		if err != nil {
			return nil, err
		}
		srv.tlsConfig, err = wstls.ServerConfig(cert, opts.EnabledTlsProtocols, opts.ClientCAFiles, opts.RequireClientCertificates)
		if err != nil {
			return nil, err
		}
	}
	if opts.PingIntervalSec > 0 {
		monitor, err := wsliveness.NewMonitor(
			wsliveness.FleetFunc(srv.Connections),
			wsliveness.Options{
				Interval:        time.Duration(opts.PingIntervalSec) * time.Second,
				MaxPingsPerTick: opts.MaxConnectionsPingedPerInterval,
				SendConcurrency: opts.SendConcurrency,
			},
			srv.onLivenessSendError,
			logger,
			tracerProvider)
		if err != nil {
			return nil, err
		}
		srv.monitor = monitor
	}
	instruments, err := newInstruments(meterProvider.Meter(pkgName, metric.WithInstrumentationVersion(pkgVersion)), srv)
	if err != nil {
		return nil, err
	}
	srv.instruments = instruments
	return srv, nil
}

/*************************************************************************************************/
/* LIFECYCLE                                                                                     */
/*************************************************************************************************/

// # Description
//
// Start listening on the configured host and port. Accepted sockets are served until Stop is
// called. The liveness monitor runs while the server is started.
//
// The provided context is only used for tracing and to bound the listen call: the server runs
// with its own context until Stop is called.
//
// # Returns
//
// ErrAlreadyStarted if the server is started, a ServerStartError if the listener cannot be
// created, nil otherwise.
func (srv *WebsocketServer) Start(ctx context.Context) error {
	ctx, span := srv.tracer.Start(ctx, spanServerStart, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.Bool(attrTls, srv.tlsConfig != nil),
	))
	defer span.End()
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if srv.started.Load() {
		return handleError(ErrAlreadyStarted, span, codes.Error, "server already started")
	}
	lc := net.ListenConfig{KeepAlive: time.Duration(srv.opts.KeepAliveIntervalSec) * time.Second}
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(srv.opts.Host, strconv.Itoa(srv.opts.Port)))
	if err != nil {
		return handleError(ServerStartError{Err: err}, span, codes.Error, "listen failed")
	}
	span.SetAttributes(attribute.String(attrListenAddress, listener.Addr().String()))
	// Server context is derived from a fresh context so canceling ctx does not stop the server
	serverCtx, cancel := context.WithCancel(context.Background())
	srv.ctxMu.Lock()
	srv.serverCtx, srv.cancelServerCtx = serverCtx, cancel
	srv.ctxMu.Unlock()
	srv.listener = listener
	group, groupCtx := errgroup.WithContext(serverCtx)
	group.Go(func() error {
		return srv.acceptLoop(groupCtx, listener)
	})
	if srv.monitor != nil {
		group.Go(func() error {
			srv.monitor.Run(groupCtx)
			return nil
		})
	}
	srv.group = group
	srv.started.Store(true)
	srv.logger.Info("websocket server started",
		zap.String("address", listener.Addr().String()),
		zap.Bool("tls", srv.tlsConfig != nil))
	srv.bus.Publish(wsevents.Event{Kind: wsevents.ServerStarted})
	return handlePotentialError(nil, span)
}

// # Description
//
// Stop the server: close the listener, stop the liveness monitor and disconnect all accepted
// connections with a going away close code. The method waits for all receive loops of accepted
// sockets to exit, or for ctx to be done.
//
// # Returns
//
// ErrNotStarted if the server is not started, the context error if ctx is done before the server
// has stopped, nil otherwise.
func (srv *WebsocketServer) Stop(ctx context.Context) error {
	ctx, span := srv.tracer.Start(ctx, spanServerStop, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if !srv.started.Load() {
		return handleError(ErrNotStarted, span, codes.Error, "server not started")
	}
	srv.started.Store(false)
	srv.ctxMu.Lock()
	srv.cancelServerCtx()
	srv.serverCtx = nil
	srv.ctxMu.Unlock()
	if err := srv.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		srv.logger.Warn("failed to close listener", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		// Accept loop must exit before waiting for receive loops
		_ = srv.group.Wait()
		srv.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return handleError(ctx.Err(), span, codes.Error, "server did not stop in time")
	}
	srv.logger.Info("websocket server stopped")
	srv.bus.Publish(wsevents.Event{Kind: wsevents.ServerStopped})
	return handlePotentialError(nil, span)
}

// Return true if the server listener is running.
func (srv *WebsocketServer) IsStarted() bool {
	return srv.started.Load()
}

// # Description
//
// Return the address of the listener, nil if the server is not started.
func (srv *WebsocketServer) Addr() net.Addr {
	srv.startMu.Lock()
	defer srv.startMu.Unlock()
	if !srv.started.Load() {
		return nil
	}
	return srv.listener.Addr()
}

// # Description
//
// Run the liveness monitor until ctx is done. Started servers already run the monitor: this is
// meant for servers which only serve sockets handed over by a hosting adapter. Return immediately
// if liveness monitoring is disabled.
func (srv *WebsocketServer) RunLiveness(ctx context.Context) {
	if srv.monitor == nil {
		return
	}
	srv.monitor.Run(ctx)
}

/*************************************************************************************************/
/* ACCESSORS                                                                                     */
/*************************************************************************************************/

// Subscribe to server events. See wsevents.Bus.Subscribe.
func (srv *WebsocketServer) Subscribe(handler wsevents.Handler, kinds ...wsevents.Kind) *wsevents.Subscription {
	return srv.bus.Subscribe(handler, kinds...)
}

// Event bus the server publishes on.
func (srv *WebsocketServer) Bus() *wsevents.Bus {
	return srv.bus
}

// Snapshot of the registered connections.
func (srv *WebsocketServer) Connections() []wsconn.Connection {
	all := srv.registry.GetAll()
	conns := make([]wsconn.Connection, 0, len(all))
	for _, conn := range all {
		conns = append(conns, conn)
	}
	return conns
}

// Registered connection with the provided ID.
func (srv *WebsocketServer) Connection(connectionID string) (wsconn.Connection, bool) {
	conn, ok := srv.registry.Get(connectionID)
	if !ok {
		return nil, false
	}
	return conn, true
}

// Snapshot of the connections of a user.
func (srv *WebsocketServer) UserConnections(userID string) []wsconn.Connection {
	all := srv.registry.GetAllForUser(userID)
	conns := make([]wsconn.Connection, 0, len(all))
	for _, conn := range all {
		conns = append(conns, conn)
	}
	return conns
}

// Users with at least one registered connection.
func (srv *WebsocketServer) Users() []string {
	return srv.registry.Users()
}

// Point in time server statistics.
func (srv *WebsocketServer) Stats() Stats {
	stats := Stats{
		ActiveConnections: srv.registry.Len(),
		Users:             srv.registry.UserCount(),
		Accepted:          srv.accepted.Load(),
		Rejected:          srv.rejected.Load(),
	}
	if srv.monitor != nil {
		stats.Liveness = srv.monitor.Stats()
	}
	return stats
}

// # Description
//
// Disconnect a registered connection. Disconnecting a connection which is unknown or already
// disconnected is a no-op.
//
// # Returns
//
// True if this call disconnected the connection, false otherwise.
func (srv *WebsocketServer) Disconnect(connectionID string, code wsframe.StatusCode, reason string) bool {
	conn, ok := srv.registry.Get(connectionID)
	if !ok {
		return false
	}
	return conn.Disconnect(code, reason)
}

/*************************************************************************************************/
/* ACCEPT LOOP                                                                                   */
/*************************************************************************************************/

// # Description
//
// Accept sockets until ctx is done or the listener is closed. Each socket is served by its own
// goroutine. Accept failures are retried with an exponential backoff.
func (srv *WebsocketServer) acceptLoop(ctx context.Context, listener net.Listener) error {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0
	for {
		socket, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			wait := retry.NextBackOff()
			srv.logger.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", wait))
			srv.publishError("", "", TransportError{Err: err})
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()
		srv.loops.Add(1)
		go func() {
			defer srv.loops.Done()
			srv.serveSocket(ctx, socket)
		}()
	}
}

/*************************************************************************************************/
/* HELPERS                                                                                       */
/*************************************************************************************************/

// Options of the connections created by the server.
func (srv *WebsocketServer) connOptions() wsconn.Options {
	return wsconn.Options{
		Role:              wsframe.ServerSide,
		ReceiveBufferSize: srv.opts.ReceiveBufferSize,
		SendBufferSize:    srv.opts.SendBufferSize,
		MaxMessageSize:    srv.opts.MaxMessageSize,
		WriteTimeout:      time.Duration(srv.opts.WriteTimeoutMs) * time.Millisecond,
	}
}

// Apply socket buffer sizes to TCP sockets.
func (srv *WebsocketServer) tuneSocket(socket net.Conn) {
	tcp, ok := socket.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcp.SetReadBuffer(srv.opts.ReceiveBufferSize); err != nil {
		srv.logger.Debug("failed to set socket receive buffer", zap.Error(err))
	}
	if err := tcp.SetWriteBuffer(srv.opts.SendBufferSize); err != nil {
		srv.logger.Debug("failed to set socket send buffer", zap.Error(err))
	}
}

// Current server context. Nil if the server is not started.
func (srv *WebsocketServer) currentServerContext() context.Context {
	srv.ctxMu.RLock()
	defer srv.ctxMu.RUnlock()
	return srv.serverCtx
}

// Publish an Error event.
func (srv *WebsocketServer) publishError(connectionID string, userID string, err error) {
	srv.bus.Publish(wsevents.Event{
		Kind:         wsevents.Error,
		ConnectionID: connectionID,
		UserID:       userID,
		Err:          err,
	})
}

// Called by the liveness monitor when a ping cannot be sent.
func (srv *WebsocketServer) onLivenessSendError(conn wsconn.Connection, err error) {
	srv.isolateSendFailure(conn, SendError{ConnectionID: conn.ID(), Err: err})
}
