package providers

import (
	"context"
	"time"

	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/internal/relay"
	"github.com/gbdevw/gowsengine/wsauth"
	"github.com/gbdevw/gowsengine/wsserver"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Maximum duration of the sends triggered by a received message.
const relayTimeout = 5 * time.Second

func ProvideWebsocketServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	validator wsauth.UserValidator,
	logger *zap.Logger,
	tracerProvider trace.TracerProvider) (*wsserver.WebsocketServer, error) {
	srv, err := wsserver.NewWebsocketServer(cfg.Server, validator, logger, tracerProvider, nil)
	if err != nil {
		return nil, err
	}
	// Route received messages: broadcast packets are relayed, everything else is echoed
	relay.Attach(srv.Bus(), srv, relayTimeout, logger)
	// Register Start and Stop hooks to Start and Stop the server
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return srv.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
	return srv, nil
}
