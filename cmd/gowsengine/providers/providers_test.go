package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gbdevw/gowsengine/internal/config"
	"github.com/gbdevw/gowsengine/wsauth"
	"github.com/gbdevw/gowsengine/wspresence"
	"github.com/gbdevw/gowsengine/wsserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for providers unit tests
type ProvidersUnitTestSuite struct {
	suite.Suite
}

// Run ProvidersUnitTestSuite test suite
func TestProvidersUnitTestSuite(t *testing.T) {
	suite.Run(t, new(ProvidersUnitTestSuite))
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// # Description
//
// Test ProvideUserValidator for each authorization mode.
//
// Test will succeed if none mode returns no validator, static mode a StaticValidator and jwt
// mode a JWTValidator.
func (suite *ProvidersUnitTestSuite) TestProvideUserValidator() {
	cfg := config.New()
	validator, err := ProvideUserValidator(cfg)
	require.NoError(suite.T(), err)
	require.Nil(suite.T(), validator)

	cfg.Auth.Mode = config.AuthModeStatic
	cfg.Auth.Tokens = map[string]string{"tok": "alice"}
	validator, err = ProvideUserValidator(cfg)
	require.NoError(suite.T(), err)
	userID, err := validator.GetID(context.Background(), "tok")
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), "alice", userID)

	cfg.Auth.Mode = config.AuthModeJwt
	cfg.Auth.JwtSecret = "s3cr3t"
	validator, err = ProvideUserValidator(cfg)
	require.NoError(suite.T(), err)
	require.IsType(suite.T(), &wsauth.JWTValidator{}, validator)
}

// # Description
//
// Test ProvideLogger honors the configured level.
//
// Test will succeed if the production logger is built with the configured level and an invalid
// level is rejected.
func (suite *ProvidersUnitTestSuite) TestProvideLogger() {
	cfg := config.New()
	cfg.Logging.Level = "warn"
	logger, err := ProvideLogger(cfg)
	require.NoError(suite.T(), err)
	require.False(suite.T(), logger.Core().Enabled(zapcore.InfoLevel))
	require.True(suite.T(), logger.Core().Enabled(zapcore.WarnLevel))
	cfg.Logging.Level = "loud"
	_, err = ProvideLogger(cfg)
	require.Error(suite.T(), err)
}

// # Description
//
// Test the operations router.
//
// Test will succeed if:
//   - /healthz answers 200 while the server is started and 503 once stopped.
//   - /metrics exposes the server statistics.
//   - /users and /users/{id}/connections answer JSON arrays, from the presence store when set.
func (suite *ProvidersUnitTestSuite) TestOpsRouter() {
	opts := wsserver.NewWebsocketServerConfigurationOptions().WithHost("127.0.0.1").WithPort(0)
	srv, err := wsserver.NewWebsocketServer(opts, nil, nil, nil, nil)
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), srv.Start(context.Background()))
	registry := prometheus.NewRegistry()
	require.NoError(suite.T(), RegisterServerCollectors(registry, srv))
	require.Error(suite.T(), RegisterServerCollectors(registry, srv))
	store := wspresence.NewMemoryStore()
	require.NoError(suite.T(), store.Add(context.Background(), "alice", "c1"))
	ops := httptest.NewServer(NewOpsRouter(registry, srv, store))
	defer ops.Close()

	get := func(path string) (int, string) {
		res, err := http.Get(ops.URL + path)
		require.NoError(suite.T(), err)
		defer res.Body.Close()
		body, err := io.ReadAll(res.Body)
		require.NoError(suite.T(), err)
		return res.StatusCode, string(body)
	}

	status, _ := get("/healthz")
	require.Equal(suite.T(), http.StatusOK, status)
	status, body := get("/metrics")
	require.Equal(suite.T(), http.StatusOK, status)
	require.Contains(suite.T(), body, "gowsengine_connections_active 0")
	require.Contains(suite.T(), body, "gowsengine_connections_accepted_total 0")
	require.Contains(suite.T(), body, "gowsengine_liveness_pings_total 0")
	status, body = get("/users")
	require.Equal(suite.T(), http.StatusOK, status)
	var users []string
	require.NoError(suite.T(), json.Unmarshal([]byte(body), &users))
	require.Empty(suite.T(), users)
	status, body = get("/users/alice/connections")
	require.Equal(suite.T(), http.StatusOK, status)
	var ids []string
	require.NoError(suite.T(), json.Unmarshal([]byte(body), &ids))
	require.Equal(suite.T(), []string{"c1"}, ids)

	require.NoError(suite.T(), srv.Stop(context.Background()))
	status, _ = get("/healthz")
	require.Equal(suite.T(), http.StatusServiceUnavailable, status)

	// Without store, connections are read from the server
	fallback := httptest.NewServer(NewOpsRouter(registry, srv, nil))
	defer fallback.Close()
	res, err := http.Get(fallback.URL + "/users/alice/connections")
	require.NoError(suite.T(), err)
	defer res.Body.Close()
	ids = nil
	require.NoError(suite.T(), json.NewDecoder(res.Body).Decode(&ids))
	require.Empty(suite.T(), ids)
}
