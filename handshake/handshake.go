// Package handshake implements the TcpMs join sequence: Auth-Info,
// Client-Challenge, Server-Challenge, Encryption-Exchange, and Validation,
// run identically on both sides of a connection with the direction of
// "who sends first" controlled by a Role.
package handshake

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/tcpms/tcpms"
)

// Role selects which side of the join sequence a Join call plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// ErrAuthFailed is returned by Join when either mutual challenge fails to
// verify.
var ErrAuthFailed = errors.New("authentication failed")

// ErrValidationFailed is returned by Join when a probe-and-echo round
// fails.
var ErrValidationFailed = errors.New("connection validation failed")

// Config carries the inputs a Join call needs from its caller.
type Config struct {
	// Password authenticates the join. Required whenever the announced
	// settings have EncryptionEnabled set.
	Password string

	// Settings is sent by the server as the Auth-Info payload; the
	// client ignores this field and instead uses the Settings value
	// reported in Result.
	Settings tcpms.ClientSettings
}

// Result is what a successful Join produces.
type Result struct {
	Settings tcpms.ClientSettings
	DataKey  *tcpms.AesContext // nil when encryption is disabled
}

// Join runs the join sequence to completion on h, returning a Result on
// success or a non-nil error on failure.
func Join(ctx context.Context, h *tcpms.Handler, role Role, cfg Config) (*Result, error) {
	switch role {
	case RoleServer:
		return joinServer(ctx, h, cfg)
	case RoleClient:
		return joinClient(ctx, h, cfg)
	default:
		return nil, fmt.Errorf("handshake: unknown role %v", role)
	}
}

func joinServer(ctx context.Context, h *tcpms.Handler, cfg Config) (*Result, error) {
	infoPkg := tcpms.NewPackage(tcpms.PackageAuthInfo, tcpms.DataBlob, tcpms.EncodeSettings(cfg.Settings))
	if err := h.Dispatch(infoPkg); err != nil {
		return nil, err
	}

	if !cfg.Settings.EncryptionEnabled {
		if err := runValidationServer(ctx, h, int(cfg.Settings.ConnectionTestTries), nil); err != nil {
			return nil, err
		}
		return &Result{Settings: cfg.Settings}, nil
	}

	// Client-Challenge: server mints, client responds.
	if err := challengeAsMinter(ctx, h, cfg.Password); err != nil {
		return nil, err
	}
	// Server-Challenge: client mints, server responds.
	if err := challengeAsResponder(ctx, h, cfg.Password); err != nil {
		return nil, err
	}

	dataKey, err := encryptionExchangeServer(h, cfg.Password)
	if err != nil {
		return nil, err
	}

	if err := runValidationServer(ctx, h, int(cfg.Settings.ConnectionTestTries), dataKey); err != nil {
		return nil, err
	}
	return &Result{Settings: cfg.Settings, DataKey: dataKey}, nil
}

func joinClient(ctx context.Context, h *tcpms.Handler, cfg Config) (*Result, error) {
	infoPkg, err := h.ObtainExpected(ctx, tcpms.PackageAuthInfo)
	if err != nil {
		return nil, err
	}
	settings, err := tcpms.DecodeSettings(infoPkg.Payload)
	if err != nil {
		return nil, err
	}

	if !settings.EncryptionEnabled {
		if err := runValidationClient(ctx, h, int(settings.ConnectionTestTries), nil); err != nil {
			return nil, err
		}
		return &Result{Settings: settings}, nil
	}

	if cfg.Password == "" {
		return nil, fmt.Errorf("handshake: server requires a password and none was configured")
	}

	// Client-Challenge: server mints, client responds.
	if err := challengeAsResponder(ctx, h, cfg.Password); err != nil {
		return nil, err
	}
	// Server-Challenge: client mints, server responds.
	if err := challengeAsMinter(ctx, h, cfg.Password); err != nil {
		return nil, err
	}

	dataKey, err := encryptionExchangeClient(ctx, h, cfg.Password)
	if err != nil {
		return nil, err
	}

	if err := runValidationClient(ctx, h, int(settings.ConnectionTestTries), dataKey); err != nil {
		return nil, err
	}
	return &Result{Settings: settings, DataKey: dataKey}, nil
}

// challengeAsMinter mints a fresh challenge, sends it, and verifies and
// announces the peer's response.
func challengeAsMinter(ctx context.Context, h *tcpms.Handler, password string) error {
	challenge, err := tcpms.SecureRandomBytes(32)
	if err != nil {
		return err
	}
	aesCtx, err := tcpms.NewAesContextFresh(password)
	if err != nil {
		return err
	}
	encrypted, err := aesCtx.Encrypt(challenge)
	if err != nil {
		return err
	}
	digest := tcpms.Digest(challenge)

	if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageAuthSalt, tcpms.DataBlob, aesCtx.Salt)); err != nil {
		return err
	}
	if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageAuthIV, tcpms.DataBlob, aesCtx.IV)); err != nil {
		return err
	}
	if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageAuthChallenge, tcpms.DataBlob, encrypted)); err != nil {
		return err
	}

	respPkg, err := h.ObtainExpected(ctx, tcpms.PackageAuthResponse)
	if err != nil {
		return err
	}
	if !bytes.Equal(respPkg.Payload, digest) {
		_ = h.Dispatch(tcpms.NewPackage(tcpms.PackageAuthFailure, tcpms.DataEmpty, nil))
		return ErrAuthFailed
	}
	return h.Dispatch(tcpms.NewPackage(tcpms.PackageAuthSuccess, tcpms.DataEmpty, nil))
}

// challengeAsResponder answers a peer-minted challenge and waits for the
// minter's verdict.
func challengeAsResponder(ctx context.Context, h *tcpms.Handler, password string) error {
	saltPkg, err := h.ObtainExpected(ctx, tcpms.PackageAuthSalt)
	if err != nil {
		return err
	}
	ivPkg, err := h.ObtainExpected(ctx, tcpms.PackageAuthIV)
	if err != nil {
		return err
	}
	challPkg, err := h.ObtainExpected(ctx, tcpms.PackageAuthChallenge)
	if err != nil {
		return err
	}

	digest := make([]byte, 64) // stays all zeros if any step below fails, so the minter's check fails
	if aesCtx, err := tcpms.NewAesContext(password, saltPkg.Payload, ivPkg.Payload); err == nil {
		if plain, err := aesCtx.Decrypt(challPkg.Payload); err == nil {
			digest = tcpms.Digest(plain)
		}
	}

	if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageAuthResponse, tcpms.DataBlob, digest)); err != nil {
		return err
	}

	verdict, err := h.ObtainExpected(ctx, tcpms.PackageAuthSuccess, tcpms.PackageAuthFailure)
	if err != nil {
		return err
	}
	if verdict.Type == tcpms.PackageAuthFailure {
		return ErrAuthFailed
	}
	return nil
}

func encryptionExchangeServer(h *tcpms.Handler, password string) (*tcpms.AesContext, error) {
	aesCtx, err := tcpms.NewAesContextFresh(password)
	if err != nil {
		return nil, err
	}
	if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageEncrIV, tcpms.DataBlob, aesCtx.IV)); err != nil {
		return nil, err
	}
	if err := h.Dispatch(tcpms.NewPackage(tcpms.PackageEncrSalt, tcpms.DataBlob, aesCtx.Salt)); err != nil {
		return nil, err
	}
	return aesCtx, nil
}

func encryptionExchangeClient(ctx context.Context, h *tcpms.Handler, password string) (*tcpms.AesContext, error) {
	ivPkg, err := h.ObtainExpected(ctx, tcpms.PackageEncrIV)
	if err != nil {
		return nil, err
	}
	saltPkg, err := h.ObtainExpected(ctx, tcpms.PackageEncrSalt)
	if err != nil {
		return nil, err
	}
	return tcpms.NewAesContext(password, saltPkg.Payload, ivPkg.Payload)
}
