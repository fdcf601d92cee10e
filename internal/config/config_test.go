package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for configuration unit tests
type ConfigurationUnitTestSuite struct {
	suite.Suite
}

// Run ConfigurationUnitTestSuite test suite
func TestConfigurationUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigurationUnitTestSuite))
}

// Write content to a temporary YAML file and return its path.
func (suite *ConfigurationUnitTestSuite) writeFile(content string) string {
	path := filepath.Join(suite.T().TempDir(), "config.yaml")
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0600))
	return path
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// # Description
//
// Test Load without a file returns the defaults.
//
// Test will succeed if the loaded configuration holds the server, client and binary defaults.
func (suite *ConfigurationUnitTestSuite) TestDefaults() {
	cfg, err := Load("")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 8080, cfg.Server.Port)
	require.Equal(suite.T(), 30, cfg.Server.PingIntervalSec)
	require.True(suite.T(), cfg.Client.AutoPong)
	require.Equal(suite.T(), AuthModeNone, cfg.Auth.Mode)
	require.Equal(suite.T(), PresenceNone, cfg.Presence.Backend)
	require.Equal(suite.T(), "localhost:6379", cfg.Presence.RedisAddress)
	require.Equal(suite.T(), int64(1000), cfg.Presence.TimeoutMs)
	require.Equal(suite.T(), ":9090", cfg.Ops.Address)
	require.False(suite.T(), cfg.Tracing.Enabled)
	require.Equal(suite.T(), "gowsengine", cfg.Tracing.ServiceName)
	require.Equal(suite.T(), "info", cfg.Logging.Level)
}

// # Description
//
// Test Load overlays the file and the environment on the defaults.
//
// Test will succeed if:
//   - Values set in the file replace the defaults and unset values keep them.
//   - Secrets and tracing settings are read from the environment.
func (suite *ConfigurationUnitTestSuite) TestLoadFileAndEnv() {
	path := suite.writeFile(`
server:
  port: 9000
  availableSubprotocols: [chat, json]
  tlsCertificateFile: server.p12
client:
  requestedSubprotocols: [chat]
  autoPong: false
auth:
  mode: jwt
  jwtIssuer: gowsengine
presence:
  backend: redis
  redisAddress: redis:6379
ops:
  address: ""
logging:
  level: debug
`)
	suite.T().Setenv(EnvJwtSecret, "s3cr3t")
	suite.T().Setenv(EnvRedisPassword, "redispw")
	suite.T().Setenv(EnvTlsPassword, "p12pw")
	suite.T().Setenv(EnvTracingEnabled, "true")
	suite.T().Setenv(EnvTracingEndpoint, "collector:4318")
	cfg, err := Load(path)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 9000, cfg.Server.Port)
	require.Equal(suite.T(), []string{"chat", "json"}, cfg.Server.AvailableSubprotocols)
	require.Equal(suite.T(), "connected", cfg.Server.ConnectionSuccessString)
	require.Equal(suite.T(), "p12pw", cfg.Server.TlsCertificatePassword)
	require.Equal(suite.T(), []string{"chat"}, cfg.Client.RequestedSubprotocols)
	require.False(suite.T(), cfg.Client.AutoPong)
	require.Equal(suite.T(), AuthModeJwt, cfg.Auth.Mode)
	require.Equal(suite.T(), "gowsengine", cfg.Auth.JwtIssuer)
	require.Equal(suite.T(), "s3cr3t", cfg.Auth.JwtSecret)
	require.Equal(suite.T(), PresenceRedis, cfg.Presence.Backend)
	require.Equal(suite.T(), "redis:6379", cfg.Presence.RedisAddress)
	require.Equal(suite.T(), "redispw", cfg.Presence.RedisPassword)
	require.Empty(suite.T(), cfg.Ops.Address)
	require.True(suite.T(), cfg.Tracing.Enabled)
	require.Equal(suite.T(), "collector:4318", cfg.Tracing.Endpoint)
	require.Equal(suite.T(), "debug", cfg.Logging.Level)
}

// # Description
//
// Test Load rejects invalid configurations.
//
// Test will succeed if Load fails for a missing file, malformed YAML, invalid values, a jwt mode
// without secret, a static mode without tokens and a malformed tracing override.
func (suite *ConfigurationUnitTestSuite) TestInvalid() {
	_, err := Load(filepath.Join(suite.T().TempDir(), "missing.yaml"))
	require.Error(suite.T(), err)
	for name, content := range map[string]string{
		"malformed":         "server: [",
		"bad port":          "server:\n  port: -1\n",
		"bad mode":          "auth:\n  mode: oauth\n",
		"jwt without key":   "auth:\n  mode: jwt\n",
		"static no tokens":  "auth:\n  mode: static\n",
		"bad backend":       "presence:\n  backend: etcd\n",
		"bad level":         "logging:\n  level: trace\n",
		"bad client buffer": "client:\n  receiveBufferSize: 1\n",
	} {
		_, err := Load(suite.writeFile(content))
		require.Error(suite.T(), err, name)
	}
	suite.T().Setenv(EnvTracingEnabled, "maybe")
	_, err = Load("")
	require.Error(suite.T(), err)
}

// # Description
//
// Test the static mode with tokens is valid.
//
// Test will succeed if the tokens are loaded.
func (suite *ConfigurationUnitTestSuite) TestStaticTokens() {
	cfg, err := Load(suite.writeFile("auth:\n  mode: static\n  tokens:\n    tok-alice: alice\n"))
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), map[string]string{"tok-alice": "alice"}, cfg.Auth.Tokens)
}
