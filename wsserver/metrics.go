package wsserver

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	metricActiveConnections = namespace + ".connections.active"
	metricUsers             = namespace + ".users"
	metricAccepted          = namespace + ".connections.accepted"
	metricRejected          = namespace + ".connections.rejected"
	metricPingsSent         = namespace + ".liveness.pings"
	metricEvictions         = namespace + ".liveness.evictions"
	metricSkippedTicks      = namespace + ".liveness.skipped_ticks"
	metricStarted           = namespace + ".started"
)

// Internal structure used to retain references to instruments that record WebsocketServer
// metrics.
type websocketServerInstruments struct {
	// Gauge that monitors the number of open connections
	activeConnectionsGauge metric.Int64ObservableGauge
	// Gauge that monitors the number of users with at least one connection
	usersGauge metric.Int64ObservableGauge
	// Gauge that monitors server started state flag
	startedGauge metric.Int64ObservableGauge
	// Counter that monitors the total number of upgraded connections
	acceptedCounter metric.Int64ObservableCounter
	// Counter that monitors the total number of rejected connections
	rejectedCounter metric.Int64ObservableCounter
	// Counter that monitors the total number of liveness pings sent
	pingsCounter metric.Int64ObservableCounter
	// Counter that monitors the total number of connections evicted by the liveness monitor
	evictionsCounter metric.Int64ObservableCounter
	// Counter that monitors the total number of skipped liveness ticks
	skippedTicksCounter metric.Int64ObservableCounter
}

// Observe one value extracted from a fresh Stats snapshot.
func observeStats(srv *WebsocketServer, extract func(Stats) int64) metric.Int64Callback {
	return func(ctx context.Context, io metric.Int64Observer) error {
		io.Observe(extract(srv.Stats()))
		return nil
	}
}

// # Description
//
// Create the observable instruments which report the server Stats.
//
// # Returns
//
// The instruments or the first error returned by the meter.
func newInstruments(meter metric.Meter, srv *WebsocketServer) (*websocketServerInstruments, error) {
	instruments := new(websocketServerInstruments)
	var err error
	instruments.activeConnectionsGauge, err = meter.Int64ObservableGauge(
		metricActiveConnections,
		metric.WithDescription("Number of open websocket connections"),
		metric.WithInt64Callback(observeStats(srv, func(s Stats) int64 { return int64(s.ActiveConnections) })))
	if err != nil {
		return nil, err
	}
	instruments.usersGauge, err = meter.Int64ObservableGauge(
		metricUsers,
		metric.WithDescription("Number of users with at least one open connection"),
		metric.WithInt64Callback(observeStats(srv, func(s Stats) int64 { return int64(s.Users) })))
	if err != nil {
		return nil, err
	}
	instruments.startedGauge, err = meter.Int64ObservableGauge(
		metricStarted,
		metric.WithDescription("1 if the server listener is running, 0 otherwise"),
		metric.WithInt64Callback(func(ctx context.Context, io metric.Int64Observer) error {
			if srv.IsStarted() {
				io.Observe(1)
			} else {
				io.Observe(0)
			}
			return nil
		}))
	if err != nil {
		return nil, err
	}
	instruments.acceptedCounter, err = meter.Int64ObservableCounter(
		metricAccepted,
		metric.WithDescription("Total number of upgraded connections"),
		metric.WithInt64Callback(observeStats(srv, func(s Stats) int64 { return s.Accepted })))
	if err != nil {
		return nil, err
	}
	instruments.rejectedCounter, err = meter.Int64ObservableCounter(
		metricRejected,
		metric.WithDescription("Total number of rejected handshakes and unauthorized connections"),
		metric.WithInt64Callback(observeStats(srv, func(s Stats) int64 { return s.Rejected })))
	if err != nil {
		return nil, err
	}
	instruments.pingsCounter, err = meter.Int64ObservableCounter(
		metricPingsSent,
		metric.WithDescription("Total number of liveness pings sent"),
		metric.WithInt64Callback(observeStats(srv, func(s Stats) int64 { return s.Liveness.PingsSent })))
	if err != nil {
		return nil, err
	}
	instruments.evictionsCounter, err = meter.Int64ObservableCounter(
		metricEvictions,
		metric.WithDescription("Total number of connections evicted for not answering a ping"),
		metric.WithInt64Callback(observeStats(srv, func(s Stats) int64 { return s.Liveness.Evictions })))
	if err != nil {
		return nil, err
	}
	instruments.skippedTicksCounter, err = meter.Int64ObservableCounter(
		metricSkippedTicks,
		metric.WithDescription("Total number of liveness ticks skipped because the previous one was running"),
		metric.WithInt64Callback(observeStats(srv, func(s Stats) int64 { return s.Liveness.SkippedTicks })))
	if err != nil {
		return nil, err
	}
	return instruments, nil
}
