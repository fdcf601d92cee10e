package providers

import (
	"context"
	"time"

	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/wspresence"
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Build the presence store of the configured backend. Nil if presence is disabled.
func ProvidePresenceStore(lc fx.Lifecycle, cfg *config.Configuration, logger *zap.Logger) wspresence.Store {
	switch cfg.Presence.Backend {
	case config.PresenceMemory:
		return wspresence.NewMemoryStore()
	case config.PresenceRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Presence.RedisAddress,
			Password: cfg.Presence.RedisPassword,
			DB:       cfg.Presence.RedisDB,
		})
		store := wspresence.NewRedisStore(client, cfg.Presence.KeyPrefix)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return err
				}
				// Entries left by a previous run are stale
				return store.Clear(ctx)
			},
			OnStop: func(ctx context.Context) error {
				if err := store.Clear(ctx); err != nil {
					logger.Warn("failed to clear presence store", zap.Error(err))
				}
				return client.Close()
			},
		})
		return store
	default:
		return nil
	}
}

// Mirror the server connections into the presence store. The store is requested first so its
// stop hook runs after the server has stopped.
func InvokePresence(store wspresence.Store, srv *wsserver.WebsocketServer, cfg *config.Configuration, logger *zap.Logger) {
	if store == nil {
		return
	}
	wspresence.Attach(srv.Bus(), store, time.Duration(cfg.Presence.TimeoutMs)*time.Millisecond, logger)
}
