package main

import (
	"net/http"

	"github.com/gbdevw/gowsengine/cmd/gowsengine/providers"
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket server until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newServeApp(providers.ConfigFile(configFile))
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

// Build the fx application of the serve command.
func newServeApp(file providers.ConfigFile, extra ...fx.Option) *fx.App {
	return fx.New(
		fx.Supply(file),
		fx.Options(extra...),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Provide(providers.ProvideConfiguration),
		fx.Provide(providers.ProvideLogger),
		fx.Provide(providers.ProvideTracerProvider),
		fx.Provide(providers.ProvideUserValidator),
		fx.Provide(providers.ProvidePresenceStore),
		fx.Provide(providers.ProvideWebsocketServer),
		fx.Provide(providers.ProvideOpsServer),
		// Use invoke to force dependencies to be instanciated and hooks to be registered
		fx.Invoke(providers.InvokePresence),
		fx.Invoke(func(*wsserver.WebsocketServer, *http.Server) {}),
	)
}
