package wsclient

import (
	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
)

// Certificate presented by the client during the TLS handshake.
type ClientCertificate struct {
	// PEM certificate chain, or PKCS#12 archive when KeyFile is empty.
	CertificateFile string `yaml:"certificateFile" validate:"required"`
	// PEM private key of CertificateFile.
	KeyFile string `yaml:"keyFile"`
	// Password of the PKCS#12 archive.
	Password string `yaml:"-"`
}

// Defines configuration options for the websocket client.
//
// Use the factory function to get a new instance of the struct with nice defaults and then modify
// settings using With*** methods. Options must not be modified once the client has been created.
type WebsocketClientConfigurationOptions struct {
	// Subprotocols requested during the handshake, by order of preference.
	//
	// Defaults to none.
	RequestedSubprotocols []string `yaml:"requestedSubprotocols" validate:"dive,required"`
	// Additional headers sent with the upgrade request. Headers managed by the handshake are
	// ignored.
	//
	// Defaults to none.
	RequestHeaders map[string]string `yaml:"requestHeaders" validate:"dive,keys,required,endkeys"`
	// Size of the receive buffer (bytes).
	//
	// Defaults to 4096. Must be at least 128.
	ReceiveBufferSize int `yaml:"receiveBufferSize" default:"4096" validate:"gte=128"`
	// Size of the send buffer (bytes).
	//
	// Defaults to 4096. Must be at least 128.
	SendBufferSize int `yaml:"sendBufferSize" default:"4096" validate:"gte=128"`
	// TCP keep-alive period (seconds). 0 uses the system default, a negative value disables
	// keep-alive.
	//
	// Defaults to 15.
	KeepAliveIntervalSec int `yaml:"keepAliveIntervalSec" default:"15"`
	// Maximum duration of the dial and the upgrade handshake, TLS handshake included
	// (milliseconds). 0 disables the timeout.
	//
	// Defaults to 10000 (10 seconds).
	HandshakeTimeoutMs int64 `yaml:"handshakeTimeoutMs" default:"10000" validate:"gte=0"`
	// Maximum duration of a single write (milliseconds). 0 disables the timeout.
	//
	// Defaults to 10000 (10 seconds).
	WriteTimeoutMs int64 `yaml:"writeTimeoutMs" default:"10000" validate:"gte=0"`
	// Maximum size of a received message (bytes). 0 disables the limit.
	//
	// Defaults to 1048576 (1 MiB).
	MaxMessageSize int64 `yaml:"maxMessageSize" default:"1048576" validate:"gte=0"`
	// Maximum size of the upgrade response header block (bytes).
	//
	// Defaults to 8192. Must be at least 512.
	MaxHeaderBytes int `yaml:"maxHeaderBytes" default:"8192" validate:"gte=512"`
	// Certificates presented to the server during the TLS handshake.
	ClientCertificates []ClientCertificate `yaml:"clientCertificates" validate:"dive"`
	// Enabled TLS protocols ("tls1.2", "tls1.3", ...). Go defaults if empty.
	EnabledTlsProtocols []string `yaml:"enabledTlsProtocols"`
	// PEM files of the CA used to verify the server certificate. System pool if empty.
	RootCAFiles []string `yaml:"rootCAFiles"`
	// Disable server certificate verification.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify"`
	// If true, "Ping" texts received from the server are answered with "pong" and are not
	// published.
	//
	// Defaults to true.
	AutoPong bool `yaml:"autoPong" default:"true"`
}

// # Description
//
// Set opts.RequestedSubprotocols and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithRequestedSubprotocols(
	value ...string) *WebsocketClientConfigurationOptions {
	opts.RequestedSubprotocols = value
	return opts
}

// # Description
//
// Add a header to opts.RequestHeaders and return the modified object. Method does not validate
// inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithRequestHeader(
	name string, value string) *WebsocketClientConfigurationOptions {
	if opts.RequestHeaders == nil {
		opts.RequestHeaders = map[string]string{}
	}
	opts.RequestHeaders[name] = value
	return opts
}

// # Description
//
// Set opts.ReceiveBufferSize and opts.SendBufferSize and return the modified object. Method does
// not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithBufferSizes(
	receive int, send int) *WebsocketClientConfigurationOptions {
	opts.ReceiveBufferSize = receive
	opts.SendBufferSize = send
	return opts
}

// # Description
//
// Set opts.KeepAliveIntervalSec and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithKeepAliveIntervalSec(
	value int) *WebsocketClientConfigurationOptions {
	opts.KeepAliveIntervalSec = value
	return opts
}

// # Description
//
// Set opts.HandshakeTimeoutMs and opts.WriteTimeoutMs and return the modified object. Method does
// not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithTimeouts(
	handshakeMs int64, writeMs int64) *WebsocketClientConfigurationOptions {
	opts.HandshakeTimeoutMs = handshakeMs
	opts.WriteTimeoutMs = writeMs
	return opts
}

// # Description
//
// Set opts.MaxMessageSize and opts.MaxHeaderBytes and return the modified object. Method does not
// validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithLimits(
	maxMessageSize int64, maxHeaderBytes int) *WebsocketClientConfigurationOptions {
	opts.MaxMessageSize = maxMessageSize
	opts.MaxHeaderBytes = maxHeaderBytes
	return opts
}

// # Description
//
// Add a client certificate and return the modified object. Method does not validate inputs.
//
// # Inputs
//
//   - certFile: PEM certificate chain, or PKCS#12 archive when keyFile is empty.
//   - keyFile: PEM private key.
//   - password: Password of the PKCS#12 archive.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithClientCertificate(
	certFile string, keyFile string, password string) *WebsocketClientConfigurationOptions {
	opts.ClientCertificates = append(opts.ClientCertificates, ClientCertificate{
		CertificateFile: certFile,
		KeyFile:         keyFile,
		Password:        password,
	})
	return opts
}

// # Description
//
// Set the TLS settings used to verify the server and return the modified object. Method does not
// validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithTls(
	rootCAFiles []string, insecureSkipVerify bool, protocols ...string) *WebsocketClientConfigurationOptions {
	opts.RootCAFiles = rootCAFiles
	opts.InsecureSkipVerify = insecureSkipVerify
	opts.EnabledTlsProtocols = protocols
	return opts
}

// # Description
//
// Set opts.AutoPong and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketClientConfigurationOptions) WithAutoPong(
	value bool) *WebsocketClientConfigurationOptions {
	opts.AutoPong = value
	return opts
}

// # Description
//
// Factory which creates a new WebsocketClientConfigurationOptions with default values.
//
// # Return
//
// A new WebsocketClientConfigurationOptions with default values.
func NewWebsocketClientConfigurationOptions() *WebsocketClientConfigurationOptions {
	opts := new(WebsocketClientConfigurationOptions)
	defaults.SetDefaults(opts)
	return opts
}

// # Description
//
// Validate the provided options.
//
// # Return
//
// Nil if options are valid, validator.ValidationErrors otherwise.
func Validate(opts *WebsocketClientConfigurationOptions) error {
	return validator.New().Struct(opts)
}
