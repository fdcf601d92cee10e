package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/wspresence"
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// # Description
//
// Build the operations HTTP server: Prometheus metrics, health and presence endpoints.
//
// # Returns
//
// The server, nil if the ops address is empty.
func ProvideOpsServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	srv *wsserver.WebsocketServer,
	store wspresence.Store,
	logger *zap.Logger) (*http.Server, error) {
	if cfg.Ops.Address == "" {
		return nil, nil
	}
	registry := prometheus.NewRegistry()
	if err := RegisterServerCollectors(registry, srv); err != nil {
		return nil, err
	}
	opsSrv := &http.Server{Addr: cfg.Ops.Address, Handler: NewOpsRouter(registry, srv, store)}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			listener, err := net.Listen("tcp", opsSrv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := opsSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("ops server failed", zap.Error(err))
				}
			}()
			logger.Info("ops server started", zap.String("address", listener.Addr().String()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return opsSrv.Shutdown(ctx)
		},
	})
	return opsSrv, nil
}

// # Description
//
// Build the router of the operations server.
//
//   - GET /metrics: Prometheus exposition of registry.
//   - GET /healthz: 200 when the websocket server is started, 503 otherwise.
//   - GET /users: users with at least one connection on this server.
//   - GET /users/{id}/connections: connection IDs of a user, from the presence store when one is
//     configured, from the server otherwise.
func NewOpsRouter(registry *prometheus.Registry, srv *wsserver.WebsocketServer, store wspresence.Store) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !srv.IsStarted() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("stopped"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, srv.Users())
	}).Methods(http.MethodGet)
	router.HandleFunc("/users/{id}/connections", func(w http.ResponseWriter, r *http.Request) {
		userID := mux.Vars(r)["id"]
		if store != nil {
			ids, err := store.Connections(r.Context(), userID)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadGateway)
				return
			}
			writeJSON(w, ids)
			return
		}
		conns := srv.UserConnections(userID)
		ids := make([]string, 0, len(conns))
		for _, conn := range conns {
			ids = append(ids, conn.ID())
		}
		writeJSON(w, ids)
	}).Methods(http.MethodGet)
	return router
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
