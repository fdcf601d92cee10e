package wstls

import (
	"crypto/tls"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

/*************************************************************************************************/
/* TEST SUITES                                                                                   */
/*************************************************************************************************/

// Test suite used for wstls unit tests
type TlsUnitTestSuite struct {
	suite.Suite
	certFile string
	keyFile  string
}

// Run TlsUnitTestSuite test suite
func TestTlsUnitTestSuite(t *testing.T) {
	suite.Run(t, new(TlsUnitTestSuite))
}

// Generate a self-signed certificate shared by all tests
func (suite *TlsUnitTestSuite) SetupSuite() {
	certPEM, keyPEM, err := GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(suite.T(), err)
	dir := suite.T().TempDir()
	suite.certFile = filepath.Join(dir, "cert.pem")
	suite.keyFile = filepath.Join(dir, "key.pem")
	require.NoError(suite.T(), os.WriteFile(suite.certFile, certPEM, 0o600))
	require.NoError(suite.T(), os.WriteFile(suite.keyFile, keyPEM, 0o600))
}

/*************************************************************************************************/
/* UNIT TESTS                                                                                    */
/*************************************************************************************************/

// # Description
//
// Test enabled protocol parsing.
//
// Test will succeed if:
//   - Usual spellings are accepted and the min/max versions are returned.
//   - An empty list returns zero versions.
//   - Unknown names are rejected.
func (suite *TlsUnitTestSuite) TestParseVersions() {
	minVersion, maxVersion, err := ParseVersions([]string{"TLS1.3", "tls12", "1.2"})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), uint16(tls.VersionTLS12), minVersion)
	require.Equal(suite.T(), uint16(tls.VersionTLS13), maxVersion)
	minVersion, maxVersion, err = ParseVersions(nil)
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), minVersion)
	require.Zero(suite.T(), maxVersion)
	_, _, err = ParseVersions([]string{"ssl3"})
	require.ErrorIs(suite.T(), err, ErrUnknownTlsProtocol)
}

// # Description
//
// Test a TLS handshake between configurations built by ServerConfig and ClientConfig.
//
// Test will succeed if:
//   - The client trusts the self-signed server certificate loaded from PEM files.
//   - The negotiated version is TLS 1.3.
func (suite *TlsUnitTestSuite) TestHandshake() {
	cert, err := LoadKeyPair(suite.certFile, suite.keyFile, "")
	require.NoError(suite.T(), err)
	serverCfg, err := ServerConfig(cert, []string{"tls1.3"}, nil, false)
	require.NoError(suite.T(), err)
	clientCfg, err := ClientConfig("localhost", nil, []string{"tls1.2", "tls1.3"}, []string{suite.certFile}, false)
	require.NoError(suite.T(), err)

	listener, err := tls.Listen("tcp", "127.0.0.1:0", serverCfg)
	require.NoError(suite.T(), err)
	defer listener.Close()
	errCh := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			errCh <- err
			return
		}
		defer conn.Close()
		errCh <- conn.(*tls.Conn).Handshake()
	}()
	raw, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(suite.T(), err)
	cli := tls.Client(raw, clientCfg)
	defer cli.Close()
	require.NoError(suite.T(), cli.Handshake())
	require.NoError(suite.T(), <-errCh)
	require.Equal(suite.T(), uint16(tls.VersionTLS13), cli.ConnectionState().Version)
}

// # Description
//
// Test client certificate verification settings.
//
// Test will succeed if:
//   - Client CA files enable optional verification.
//   - RequireClientCertificates enforces verification.
func (suite *TlsUnitTestSuite) TestClientAuth() {
	cert, err := LoadCertificate(suite.certFile, suite.keyFile)
	require.NoError(suite.T(), err)
	cfg, err := ServerConfig(cert, nil, []string{suite.certFile}, false)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), tls.VerifyClientCertIfGiven, cfg.ClientAuth)
	require.NotNil(suite.T(), cfg.ClientCAs)
	cfg, err = ServerConfig(cert, nil, []string{suite.certFile}, true)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), tls.RequireAndVerifyClientCert, cfg.ClientAuth)
}

// # Description
//
// Test loading failures.
//
// Test will succeed if:
//   - Missing files and invalid archives return errors.
//   - A PEM file without certificate cannot be used as CA.
func (suite *TlsUnitTestSuite) TestLoadFailures() {
	_, err := LoadCertificate(filepath.Join(suite.T().TempDir(), "missing.pem"), suite.keyFile)
	require.Error(suite.T(), err)
	_, err = LoadKeyPair(suite.keyFile, "", "password")
	require.Error(suite.T(), err)
	_, err = LoadCertPool([]string{suite.keyFile})
	require.ErrorIs(suite.T(), err, ErrNoCertificate)
	_, err = ClientConfig("localhost", nil, []string{"tls9"}, nil, false)
	require.ErrorIs(suite.T(), err, ErrUnknownTlsProtocol)
}
