package providers

import (
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace of the Prometheus metrics.
const metricsNamespace = "gowsengine"

// # Description
//
// Register collectors exposing the websocket server statistics on registry. Values are read from
// Stats at scrape time.
func RegisterServerCollectors(registry prometheus.Registerer, srv *wsserver.WebsocketServer) error {
	gauge := func(name string, help string, value func(s wsserver.Stats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(srv.Stats()) })
	}
	counter := func(name string, help string, value func(s wsserver.Stats) float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(srv.Stats()) })
	}
	collectors := []prometheus.Collector{
		gauge("connections_active", "Number of registered connections.",
			func(s wsserver.Stats) float64 { return float64(s.ActiveConnections) }),
		gauge("users", "Number of users with at least one connection.",
			func(s wsserver.Stats) float64 { return float64(s.Users) }),
		counter("connections_accepted_total", "Number of upgraded connections.",
			func(s wsserver.Stats) float64 { return float64(s.Accepted) }),
		counter("connections_rejected_total", "Number of rejected handshakes and unauthorized connections.",
			func(s wsserver.Stats) float64 { return float64(s.Rejected) }),
		counter("liveness_pings_total", "Number of liveness pings sent.",
			func(s wsserver.Stats) float64 { return float64(s.Liveness.PingsSent) }),
		counter("liveness_evictions_total", "Number of connections evicted for not answering pings.",
			func(s wsserver.Stats) float64 { return float64(s.Liveness.Evictions) }),
		counter("liveness_ticks_total", "Number of completed liveness ticks.",
			func(s wsserver.Stats) float64 { return float64(s.Liveness.Ticks) }),
		counter("liveness_skipped_ticks_total", "Number of liveness ticks skipped because the previous one was running.",
			func(s wsserver.Stats) float64 { return float64(s.Liveness.SkippedTicks) }),
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
