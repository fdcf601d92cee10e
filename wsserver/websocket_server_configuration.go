package wsserver

import (
	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
)

// Defines configuration options for the websocket server.
//
// Use the factory function to get a new instance of the struct with nice defaults and then modify
// settings using With*** methods. Options must not be modified once the server has been created.
type WebsocketServerConfigurationOptions struct {
	// Interface the server listens on. Empty means all interfaces.
	//
	// Defaults to "" (all interfaces).
	Host string `yaml:"host"`
	// TCP port the server listens on. 0 picks a free port.
	//
	// Defaults to 8080.
	Port int `yaml:"port" default:"8080" validate:"gte=0,lte=65535"`
	// Text sent to a connection as first message once it is open. Nothing is sent if empty.
	//
	// Defaults to "connected".
	ConnectionSuccessString string `yaml:"connectionSuccessString" default:"connected"`
	// Text sent to a connection which failed authorization before it is closed.
	//
	// Defaults to "unauthorized".
	ConnectionUnauthorizedString string `yaml:"connectionUnauthorizedString" default:"unauthorized"`
	// Subprotocols the server accepts. Clients which request subprotocols are rejected if none of
	// them is in this list.
	//
	// Defaults to none.
	AvailableSubprotocols []string `yaml:"availableSubprotocols" validate:"dive,required"`
	// Delay between two liveness ticks (seconds). 0 disables liveness monitoring.
	//
	// Defaults to 30.
	PingIntervalSec int `yaml:"pingIntervalSec" default:"30" validate:"gte=0"`
	// Maximum number of connections pinged during a liveness tick.
	//
	// Defaults to 100. Must be at least 1.
	MaxConnectionsPingedPerInterval int `yaml:"maxConnectionsPingedPerInterval" default:"100" validate:"gte=1"`
	// Size of the per connection receive buffer (bytes).
	//
	// Defaults to 4096. Must be at least 128.
	ReceiveBufferSize int `yaml:"receiveBufferSize" default:"4096" validate:"gte=128"`
	// Size of the per connection send buffer (bytes).
	//
	// Defaults to 4096. Must be at least 128.
	SendBufferSize int `yaml:"sendBufferSize" default:"4096" validate:"gte=128"`
	// TCP keep-alive period of accepted sockets (seconds). 0 uses the system default, a negative
	// value disables keep-alive.
	//
	// Defaults to 15.
	KeepAliveIntervalSec int `yaml:"keepAliveIntervalSec" default:"15"`
	// Maximum duration of the upgrade handshake, TLS handshake included (milliseconds). 0 disables
	// the timeout.
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
	// Maximum size of the upgrade request header block (bytes).
	//
	// Defaults to 8192. Must be at least 512.
	MaxHeaderBytes int `yaml:"maxHeaderBytes" default:"8192" validate:"gte=512"`
	// Maximum number of concurrent sends performed by a broadcast or a liveness tick.
	//
	// Defaults to 16. Must be at least 1.
	SendConcurrency int `yaml:"sendConcurrency" default:"16" validate:"gte=1"`
	// Server certificate: PEM file, or PKCS#12 archive when TlsKeyFile is empty. TLS is enabled
	// when set.
	TlsCertificateFile string `yaml:"tlsCertificateFile" validate:"required_with=TlsKeyFile"`
	// PEM private key of TlsCertificateFile.
	TlsKeyFile string `yaml:"tlsKeyFile"`
	// Password of the PKCS#12 archive.
	TlsCertificatePassword string `yaml:"-"`
	// Enabled TLS protocols ("tls1.2", "tls1.3", ...). Go defaults if empty.
	EnabledTlsProtocols []string `yaml:"enabledTlsProtocols"`
	// PEM files of the CA used to verify client certificates.
	ClientCAFiles []string `yaml:"clientCAFiles"`
	// If true, clients must present a certificate signed by ClientCAFiles.
	RequireClientCertificates bool `yaml:"requireClientCertificates" validate:"excluded_without=ClientCAFiles"`
}

// # Description
//
// Set opts.Host and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithHost(
	value string) *WebsocketServerConfigurationOptions {
	opts.Host = value
	return opts
}

// # Description
//
// Set opts.Port and return the modified object. Method does not validate inputs.
//
// # Port
//
// TCP port the server listens on. 0 picks a free port which can be read with Addr once the
// server has started.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithPort(
	value int) *WebsocketServerConfigurationOptions {
	opts.Port = value
	return opts
}

// # Description
//
// Set opts.ConnectionSuccessString and return the modified object. Method does not validate
// inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithConnectionSuccessString(
	value string) *WebsocketServerConfigurationOptions {
	opts.ConnectionSuccessString = value
	return opts
}

// # Description
//
// Set opts.ConnectionUnauthorizedString and return the modified object. Method does not validate
// inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithConnectionUnauthorizedString(
	value string) *WebsocketServerConfigurationOptions {
	opts.ConnectionUnauthorizedString = value
	return opts
}

// # Description
//
// Set opts.AvailableSubprotocols and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithAvailableSubprotocols(
	value ...string) *WebsocketServerConfigurationOptions {
	opts.AvailableSubprotocols = value
	return opts
}

// # Description
//
// Set opts.PingIntervalSec and return the modified object. Method does not validate inputs.
//
// # PingIntervalSec
//
// Delay between two liveness ticks. A connection which does not answer "pong" to a "Ping" before
// the next tick is disconnected. 0 disables liveness monitoring.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithPingIntervalSec(
	value int) *WebsocketServerConfigurationOptions {
	opts.PingIntervalSec = value
	return opts
}

// # Description
//
// Set opts.MaxConnectionsPingedPerInterval and return the modified object. Method does not
// validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithMaxConnectionsPingedPerInterval(
	value int) *WebsocketServerConfigurationOptions {
	opts.MaxConnectionsPingedPerInterval = value
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
func (opts *WebsocketServerConfigurationOptions) WithBufferSizes(
	receive int, send int) *WebsocketServerConfigurationOptions {
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
func (opts *WebsocketServerConfigurationOptions) WithKeepAliveIntervalSec(
	value int) *WebsocketServerConfigurationOptions {
	opts.KeepAliveIntervalSec = value
	return opts
}

// # Description
//
// Set opts.HandshakeTimeoutMs and opts.WriteTimeoutMs and return the modified object. Method
// does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithTimeouts(
	handshakeMs int64, writeMs int64) *WebsocketServerConfigurationOptions {
	opts.HandshakeTimeoutMs = handshakeMs
	opts.WriteTimeoutMs = writeMs
	return opts
}

// # Description
//
// Set opts.MaxMessageSize and opts.MaxHeaderBytes and return the modified object. Method does
// not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithLimits(
	maxMessageSize int64, maxHeaderBytes int) *WebsocketServerConfigurationOptions {
	opts.MaxMessageSize = maxMessageSize
	opts.MaxHeaderBytes = maxHeaderBytes
	return opts
}

// # Description
//
// Set opts.SendConcurrency and return the modified object. Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithSendConcurrency(
	value int) *WebsocketServerConfigurationOptions {
	opts.SendConcurrency = value
	return opts
}

// # Description
//
// Set the TLS material and return the modified object. Method does not validate inputs.
//
// # Inputs
//
//   - certFile: PEM certificate, or PKCS#12 archive if keyFile is empty.
//   - keyFile: PEM private key.
//   - password: Password of the PKCS#12 archive.
//   - protocols: Enabled TLS protocols.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithTls(
	certFile string,
	keyFile string,
	password string,
	protocols ...string) *WebsocketServerConfigurationOptions {
	opts.TlsCertificateFile = certFile
	opts.TlsKeyFile = keyFile
	opts.TlsCertificatePassword = password
	opts.EnabledTlsProtocols = protocols
	return opts
}

// # Description
//
// Set opts.ClientCAFiles and opts.RequireClientCertificates and return the modified object.
// Method does not validate inputs.
//
// # Return
//
// The modified options.
func (opts *WebsocketServerConfigurationOptions) WithClientCertificates(
	require bool, caFiles ...string) *WebsocketServerConfigurationOptions {
	opts.RequireClientCertificates = require
	opts.ClientCAFiles = caFiles
	return opts
}

// # Description
//
// Factory which creates a new WebsocketServerConfigurationOptions object with nice defaults.
// Settings can then be modified by the user by using With*** methods.
//
// # Default settings
//
//   - Port = 8080
//   - ConnectionSuccessString = "connected"
//   - ConnectionUnauthorizedString = "unauthorized"
//   - PingIntervalSec = 30 , MaxConnectionsPingedPerInterval = 100
//   - ReceiveBufferSize = SendBufferSize = 4096
//   - KeepAliveIntervalSec = 15
//   - HandshakeTimeoutMs = WriteTimeoutMs = 10000
//   - MaxMessageSize = 1 MiB , MaxHeaderBytes = 8192
//   - SendConcurrency = 16
//   - No subprotocol, no TLS.
func NewWebsocketServerConfigurationOptions() *WebsocketServerConfigurationOptions {
	opts := new(WebsocketServerConfigurationOptions)
	defaults.SetDefaults(opts)
	return opts
}

// # Description
//
// Helper function which validates WebsocketServerConfigurationOptions.
//
// # Returns
//
// InvalidValidationError for bad values passed in and nil or ValidationErrors as error otherwise.
// You will need to assert the error if it's not nil eg. err.(validator.ValidationErrors) to access
// the array of errors.
func Validate(opts *WebsocketServerConfigurationOptions) error {
	return validator.New().Struct(opts)
}
