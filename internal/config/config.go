// This package contains the configuration of the gowsengine binary: a YAML file overlaid on
// defaults, with secrets taken from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/gbdevw/gowsengine/wsclient"
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	// Secret used to sign and verify JWT tokens
	EnvJwtSecret = "GOWSENGINE_JWT_SECRET"
	// Password of the presence Redis server
	EnvRedisPassword = "GOWSENGINE_REDIS_PASSWORD"
	// Password of the server PKCS#12 archive
	EnvTlsPassword = "GOWSENGINE_TLS_PASSWORD"
	// Overrides tracing.enabled ("true", "1", ...)
	EnvTracingEnabled = "GOWSENGINE_TRACING_ENABLED"
	// Overrides tracing.endpoint
	EnvTracingEndpoint = "GOWSENGINE_TRACING_ENDPOINT"
)

// Authorization modes.
const (
	AuthModeNone   = "none"
	AuthModeStatic = "static"
	AuthModeJwt    = "jwt"
)

// Presence backends.
const (
	PresenceNone   = "none"
	PresenceMemory = "memory"
	PresenceRedis  = "redis"
)

// Configuration of the gowsengine binary.
type Configuration struct {
	// Websocket server options (serve command)
	Server *wsserver.WebsocketServerConfigurationOptions `yaml:"server" validate:"required"`
	// Websocket client options (connect command)
	Client *wsclient.WebsocketClientConfigurationOptions `yaml:"client" validate:"required"`
	// Connection authorization
	Auth AuthConfiguration `yaml:"auth"`
	// Presence mirror
	Presence PresenceConfiguration `yaml:"presence"`
	// Operations HTTP server (metrics and health)
	Ops OpsConfiguration `yaml:"ops"`
	// Trace export
	Tracing TracingConfiguration `yaml:"tracing"`
	// Logging
	Logging LoggingConfiguration `yaml:"logging"`
}

// Connection authorization settings.
type AuthConfiguration struct {
	// One of none, static or jwt.
	Mode string `yaml:"mode" default:"none" validate:"oneof=none static jwt"`
	// Token to user ID map used by the static mode.
	Tokens map[string]string `yaml:"tokens" validate:"required_if=Mode static,dive,keys,required,endkeys,required"`
	// Expected token issuer (jwt mode). Not checked if empty.
	JwtIssuer string `yaml:"jwtIssuer"`
	// Expected token audience (jwt mode). Not checked if empty.
	JwtAudience string `yaml:"jwtAudience"`
	// HMAC secret (jwt mode). Read from GOWSENGINE_JWT_SECRET.
	JwtSecret string `yaml:"-" validate:"required_if=Mode jwt"`
}

// Presence mirror settings.
type PresenceConfiguration struct {
	// One of none, memory or redis.
	Backend string `yaml:"backend" default:"none" validate:"oneof=none memory redis"`
	// Address of the Redis server.
	RedisAddress string `yaml:"redisAddress" default:"localhost:6379" validate:"required_if=Backend redis"`
	// Redis database.
	RedisDB int `yaml:"redisDb" validate:"gte=0"`
	// Redis password. Read from GOWSENGINE_REDIS_PASSWORD.
	RedisPassword string `yaml:"-"`
	// Prefix of the Redis keys. Wrapped in a hash tag if it has none.
	KeyPrefix string `yaml:"keyPrefix" default:"gowsengine:{presence}:"`
	// Maximum duration of a store update (milliseconds).
	TimeoutMs int64 `yaml:"timeoutMs" default:"1000" validate:"gt=0"`
}

// Operations HTTP server settings.
type OpsConfiguration struct {
	// Listen address of the server exposing /metrics and /healthz. Disabled if empty.
	Address string `yaml:"address" default:":9090"`
}

// Trace export settings.
type TracingConfiguration struct {
	// Export traces to an OTLP/HTTP collector.
	Enabled bool `yaml:"enabled"`
	// host:port of the collector.
	Endpoint string `yaml:"endpoint" default:"localhost:4318" validate:"required_if=Enabled true"`
	// Use plain HTTP to reach the collector.
	Insecure bool `yaml:"insecure" default:"true"`
	// Service name attached to exported spans.
	ServiceName string `yaml:"serviceName" default:"gowsengine"`
}

// Logging settings.
type LoggingConfiguration struct {
	// Use the zap development configuration (console encoder, debug level).
	Development bool `yaml:"development"`
	// Minimum level when not in development mode.
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
}

// Factory which creates a configuration with default values.
func New() *Configuration {
	cfg := &Configuration{
		Server: wsserver.NewWebsocketServerConfigurationOptions(),
		Client: wsclient.NewWebsocketClientConfigurationOptions(),
	}
	defaults.SetDefaults(&cfg.Auth)
	defaults.SetDefaults(&cfg.Presence)
	defaults.SetDefaults(&cfg.Ops)
	defaults.SetDefaults(&cfg.Tracing)
	defaults.SetDefaults(&cfg.Logging)
	return cfg
}

// # Description
//
// Load the configuration: defaults, then the YAML file if filename is not empty, then the
// environment.
//
// # Returns
//
// The validated configuration or an error if the file cannot be read or parsed or if the result
// is invalid.
func Load(filename string) (*Configuration, error) {
	cfg := New()
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate the configuration, server and client options included.
func Validate(cfg *Configuration) error {
	return validator.New().Struct(cfg)
}

// Overlay the values found in the environment.
func (cfg *Configuration) applyEnv(lookup func(key string) (string, bool)) error {
	if v, ok := lookup(EnvJwtSecret); ok {
		cfg.Auth.JwtSecret = v
	}
	if v, ok := lookup(EnvRedisPassword); ok {
		cfg.Presence.RedisPassword = v
	}
	if v, ok := lookup(EnvTlsPassword); ok {
		cfg.Server.TlsCertificatePassword = v
	}
	if v, ok := lookup(EnvTracingEnabled); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvTracingEnabled, err)
		}
		cfg.Tracing.Enabled = enabled
	}
	if v, ok := lookup(EnvTracingEndpoint); ok {
		cfg.Tracing.Endpoint = v
	}
	return nil
}
