// This package contains the TLS material helpers used by the websocket server and client: PEM and
// PKCS#12 certificate loading, enabled protocol parsing and tls.Config builders.
package wstls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// Errors returned by the package.
var (
	ErrUnknownTlsProtocol = errors.New("unknown tls protocol")
	ErrNoCertificate      = errors.New("no certificate in file")
)

// Supported protocol names, lowercased and without separators.
var protocolVersions = map[string]uint16{
	"tls10": tls.VersionTLS10,
	"tls11": tls.VersionTLS11,
	"tls12": tls.VersionTLS12,
	"tls13": tls.VersionTLS13,
}

// # Description
//
// Load a certificate. If keyFile is empty, certFile is read as a PKCS#12 archive protected by
// password. Otherwise certFile and keyFile are read as a PEM certificate chain and a PEM private
// key.
func LoadKeyPair(certFile string, keyFile string, password string) (tls.Certificate, error) {
	if keyFile == "" {
		return LoadPKCS12(certFile, password)
	}
	return LoadCertificate(certFile, keyFile)
}

// Load a PEM certificate chain and its PEM private key.
func LoadCertificate(certFile string, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load certificate %s: %w", certFile, err)
	}
	return cert, nil
}

// Load a certificate and its private key from a PKCS#12 archive protected by password.
func LoadPKCS12(file string, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to decode pkcs12 archive %s: %w", file, err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

// # Description
//
// Parse enabled TLS protocol names ("tls1.2", "TLS1.3", "tls12", ...).
//
// # Returns
//
// The minimum and maximum enabled versions. Both are 0 if names is empty, meaning the Go defaults
// apply. An error wrapping ErrUnknownTlsProtocol is returned for unsupported names.
func ParseVersions(names []string) (uint16, uint16, error) {
	var minVersion, maxVersion uint16
	for _, name := range names {
		normalized := strings.ToLower(strings.NewReplacer(".", "", "_", "", "-", "", "v", "").Replace(strings.TrimSpace(name)))
		if !strings.HasPrefix(normalized, "tls") {
			normalized = "tls" + normalized
		}
		version, found := protocolVersions[normalized]
		if !found {
			return 0, 0, fmt.Errorf("%w: %q", ErrUnknownTlsProtocol, name)
		}
		if minVersion == 0 || version < minVersion {
			minVersion = version
		}
		if version > maxVersion {
			maxVersion = version
		}
	}
	return minVersion, maxVersion, nil
}

// Load a certificate pool from PEM files.
func LoadCertPool(files []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("%w: %s", ErrNoCertificate, file)
		}
	}
	return pool, nil
}

// # Description
//
// Build the TLS configuration of a websocket server.
//
// # Inputs
//
//   - cert: Server certificate.
//   - protocols: Enabled TLS protocols. Go defaults if empty.
//   - clientCAFiles: PEM files of the CA used to verify client certificates.
//   - requireClientCerts: If true, clients must present a certificate signed by clientCAFiles.
func ServerConfig(
	cert tls.Certificate,
	protocols []string,
	clientCAFiles []string,
	requireClientCerts bool) (*tls.Config, error) {
	minVersion, maxVersion, err := ParseVersions(protocols)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		MaxVersion:   maxVersion,
	}
	if len(clientCAFiles) > 0 {
		pool, err := LoadCertPool(clientCAFiles)
		if err != nil {
			return nil, err
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}
	if requireClientCerts {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg, nil
}

// # Description
//
// Build the TLS configuration of a websocket client.
//
// # Inputs
//
//   - serverName: Expected server name.
//   - certs: Client certificates presented to the server.
//   - protocols: Enabled TLS protocols. Go defaults if empty.
//   - rootCAFiles: PEM files of the CA used to verify the server. System pool if empty.
//   - insecureSkipVerify: Disable server certificate verification.
func ClientConfig(
	serverName string,
	certs []tls.Certificate,
	protocols []string,
	rootCAFiles []string,
	insecureSkipVerify bool) (*tls.Config, error) {
	minVersion, maxVersion, err := ParseVersions(protocols)
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{
		ServerName:         serverName,
		Certificates:       certs,
		MinVersion:         minVersion,
		MaxVersion:         maxVersion,
		InsecureSkipVerify: insecureSkipVerify,
	}
	if len(rootCAFiles) > 0 {
		pool, err := LoadCertPool(rootCAFiles)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// # Description
//
// Generate a self-signed ECDSA P-256 certificate valid for hosts (DNS names or IP addresses). The
// certificate is its own CA so it can be used as root by clients.
//
// # Returns
//
// The PEM encoded certificate and private key.
func GenerateSelfSigned(hosts []string, validity time.Duration) ([]byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"gowsengine"}},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDer, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDer})
	return certPEM, keyPEM, nil
}
