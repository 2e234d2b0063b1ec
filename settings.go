package tcpms

import (
	"time"

	"github.com/tcpms/tcpms/wire"
)

// ServerSettings configures a server-side Handler and the Handshake it
// runs for each client.
type ServerSettings struct {
	// Version is an opaque application version number, sent to the
	// client during Auth-Info but otherwise unused by the protocol.
	Version int32

	// ConnectionTestTries is the number of probe-and-echo rounds the
	// Validation state runs. Default 3.
	ConnectionTestTries uint8

	// EncryptionEnabled selects whether the Handshake runs the
	// Client-Challenge/Server-Challenge/Encryption-Exchange states or
	// skips straight to Validation. Default true.
	EncryptionEnabled bool

	// Password authenticates a joining client. Never transmitted; used
	// only to derive AesContexts locally. Required when EncryptionEnabled.
	Password string

	// MaxClients caps the number of simultaneously registered sessions.
	// Default 15.
	MaxClients int

	// MaxPanicsPerClient caps how many panic-rejoins a single session may
	// use before it is dropped for good. Default 5.
	MaxPanicsPerClient int

	// PingInterval is the server-side liveness probe period. Zero
	// disables the Liveness Monitor entirely. Default 10s.
	PingInterval time.Duration

	// PingTimeout is how long the server waits for a Pong (or any Data
	// package) after sending a Ping before declaring ping_timeout. Must
	// be less than PingInterval whenever PingInterval > 0. Default 8s.
	PingTimeout time.Duration

	// ReceiveTimeout is the read-timeout policy applied to every byte of
	// a package after the first header byte. Default
	// 500ms.
	ReceiveTimeout time.Duration
}

// DefaultServerSettings returns the protocol's documented defaults.
func DefaultServerSettings() ServerSettings {
	return ServerSettings{
		Version:             1,
		ConnectionTestTries: 3,
		EncryptionEnabled:   true,
		MaxClients:          15,
		MaxPanicsPerClient:  5,
		PingInterval:        10 * time.Second,
		PingTimeout:         8 * time.Second,
		ReceiveTimeout:      500 * time.Millisecond,
	}
}

// Validate checks the invariants a usable ServerSettings must satisfy.
// DefaultServerSettings enables encryption with an empty Password, so its
// result fails Validate until a Password is set.
func (s ServerSettings) Validate() error {
	if s.EncryptionEnabled && s.Password == "" {
		return NewProtocolError(KindUnknown, "encryption enabled but password is empty")
	}
	if s.PingInterval > 0 && s.PingTimeout >= s.PingInterval {
		return NewProtocolError(KindUnknown, "ping_timeout_ms (%s) must be less than ping_interval_ms (%s)", s.PingTimeout, s.PingInterval)
	}
	if s.MaxClients <= 0 {
		return NewProtocolError(KindUnknown, "max_clients must be positive, got %d", s.MaxClients)
	}
	return nil
}

// ClientSettings is the subset of ServerSettings a client learns over the
// wire during Auth-Info.
type ClientSettings struct {
	Version             int32
	ConnectionTestTries uint8
	EncryptionEnabled   bool
}

// ClientSettings projects the client-visible fields out of s, for sending
// in the Auth-Info package.
func (s ServerSettings) ClientSettings() ClientSettings {
	return ClientSettings{
		Version:             s.Version,
		ConnectionTestTries: s.ConnectionTestTries,
		EncryptionEnabled:   s.EncryptionEnabled,
	}
}

// EncodeSettings serializes the client-visible settings fields to their
// six-byte wire form.
func EncodeSettings(s ClientSettings) []byte {
	var b wire.Builder
	b.Grow(6)
	b.Int32(s.Version)
	b.Byte(s.ConnectionTestTries)
	b.Bool(s.EncryptionEnabled)
	return b.Bytes()
}

// DecodeSettings parses the six-byte wire form EncodeSettings produces.
func DecodeSettings(payload []byte) (ClientSettings, error) {
	sc := wire.NewScanner(payload)
	version, err := sc.Int32()
	if err != nil {
		return ClientSettings{}, WrapProtocolError(KindUnexpectedPackage, "decode settings version", err)
	}
	tries, err := sc.Byte()
	if err != nil {
		return ClientSettings{}, WrapProtocolError(KindUnexpectedPackage, "decode settings connection_test_tries", err)
	}
	enabled, err := sc.Bool()
	if err != nil {
		return ClientSettings{}, WrapProtocolError(KindUnexpectedPackage, "decode settings encryption_enabled", err)
	}
	return ClientSettings{Version: version, ConnectionTestTries: tries, EncryptionEnabled: enabled}, nil
}
