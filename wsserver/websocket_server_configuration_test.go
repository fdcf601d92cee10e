package wsserver

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for WebsocketServerConfigurationOptions unit tests
type WebsocketServerConfigurationUnitTestSuite struct {
	suite.Suite
}

// Run WebsocketServerConfigurationUnitTestSuite test suite
func TestWebsocketServerConfigurationUnitTestSuite(t *testing.T) {
	suite.Run(t, new(WebsocketServerConfigurationUnitTestSuite))
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// # Description
//
// Test the factory and the With*** methods.
//
// Test will succeed if:
//   - The factory returns valid options with the documented defaults.
//   - Each With*** method sets the expected fields.
func (suite *WebsocketServerConfigurationUnitTestSuite) TestFactoryAndSetters() {
	opts := NewWebsocketServerConfigurationOptions()
	require.NoError(suite.T(), Validate(opts))
	require.Equal(suite.T(), 8080, opts.Port)
	require.Equal(suite.T(), "connected", opts.ConnectionSuccessString)
	require.Equal(suite.T(), "unauthorized", opts.ConnectionUnauthorizedString)
	require.Equal(suite.T(), 30, opts.PingIntervalSec)
	require.Equal(suite.T(), 100, opts.MaxConnectionsPingedPerInterval)
	require.Equal(suite.T(), 4096, opts.ReceiveBufferSize)
	require.Equal(suite.T(), 4096, opts.SendBufferSize)
	require.Equal(suite.T(), int64(1048576), opts.MaxMessageSize)
	require.Equal(suite.T(), 16, opts.SendConcurrency)
	require.Empty(suite.T(), opts.AvailableSubprotocols)
	require.Empty(suite.T(), opts.TlsCertificateFile)

	opts.WithHost("127.0.0.1").
		WithPort(0).
		WithConnectionSuccessString("hello").
		WithConnectionUnauthorizedString("go away").
		WithAvailableSubprotocols("b", "c").
		WithPingIntervalSec(0).
		WithMaxConnectionsPingedPerInterval(5).
		WithBufferSizes(1024, 2048).
		WithKeepAliveIntervalSec(-1).
		WithTimeouts(500, 750).
		WithLimits(4096, 1024).
		WithSendConcurrency(2).
		WithTls("cert.pem", "key.pem", "secret", "tls1.2", "tls1.3").
		WithClientCertificates(true, "ca.pem")
	require.NoError(suite.T(), Validate(opts))
	require.Equal(suite.T(), "127.0.0.1", opts.Host)
	require.Equal(suite.T(), 0, opts.Port)
	require.Equal(suite.T(), "hello", opts.ConnectionSuccessString)
	require.Equal(suite.T(), "go away", opts.ConnectionUnauthorizedString)
	require.Equal(suite.T(), []string{"b", "c"}, opts.AvailableSubprotocols)
	require.Equal(suite.T(), 0, opts.PingIntervalSec)
	require.Equal(suite.T(), 5, opts.MaxConnectionsPingedPerInterval)
	require.Equal(suite.T(), 1024, opts.ReceiveBufferSize)
	require.Equal(suite.T(), 2048, opts.SendBufferSize)
	require.Equal(suite.T(), -1, opts.KeepAliveIntervalSec)
	require.Equal(suite.T(), int64(500), opts.HandshakeTimeoutMs)
	require.Equal(suite.T(), int64(750), opts.WriteTimeoutMs)
	require.Equal(suite.T(), int64(4096), opts.MaxMessageSize)
	require.Equal(suite.T(), 1024, opts.MaxHeaderBytes)
	require.Equal(suite.T(), 2, opts.SendConcurrency)
	require.Equal(suite.T(), "cert.pem", opts.TlsCertificateFile)
	require.Equal(suite.T(), "key.pem", opts.TlsKeyFile)
	require.Equal(suite.T(), "secret", opts.TlsCertificatePassword)
	require.Equal(suite.T(), []string{"tls1.2", "tls1.3"}, opts.EnabledTlsProtocols)
	require.True(suite.T(), opts.RequireClientCertificates)
	require.Equal(suite.T(), []string{"ca.pem"}, opts.ClientCAFiles)
}

// # Description
//
// Test Validate rejects invalid options.
//
// Test will succeed if each invalid option set fails validation with ValidationErrors.
func (suite *WebsocketServerConfigurationUnitTestSuite) TestValidate() {
	cases := map[string]func(opts *WebsocketServerConfigurationOptions){
		"negative port":          func(opts *WebsocketServerConfigurationOptions) { opts.WithPort(-1) },
		"port too large":         func(opts *WebsocketServerConfigurationOptions) { opts.WithPort(70000) },
		"negative ping interval": func(opts *WebsocketServerConfigurationOptions) { opts.WithPingIntervalSec(-1) },
		"no ping per interval":   func(opts *WebsocketServerConfigurationOptions) { opts.WithMaxConnectionsPingedPerInterval(0) },
		"tiny buffers":           func(opts *WebsocketServerConfigurationOptions) { opts.WithBufferSizes(16, 16) },
		"negative timeouts":      func(opts *WebsocketServerConfigurationOptions) { opts.WithTimeouts(-1, -1) },
		"tiny header limit":      func(opts *WebsocketServerConfigurationOptions) { opts.WithLimits(0, 10) },
		"no send concurrency":    func(opts *WebsocketServerConfigurationOptions) { opts.WithSendConcurrency(0) },
		"empty subprotocol":      func(opts *WebsocketServerConfigurationOptions) { opts.WithAvailableSubprotocols("a", "") },
		"key without cert":       func(opts *WebsocketServerConfigurationOptions) { opts.TlsKeyFile = "key.pem" },
		"client certs without CA": func(opts *WebsocketServerConfigurationOptions) {
			opts.WithClientCertificates(true)
		},
	}
	for name, mutate := range cases {
		opts := NewWebsocketServerConfigurationOptions()
		mutate(opts)
		err := Validate(opts)
		require.Error(suite.T(), err, name)
		_, ok := err.(validator.ValidationErrors)
		require.True(suite.T(), ok, name)
	}
}
