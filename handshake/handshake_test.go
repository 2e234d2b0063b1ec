package handshake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/channel"
	"github.com/tcpms/tcpms/handshake"
)

func runJoinPair(t *testing.T, serverCfg, clientCfg handshake.Config) (*handshake.Result, *handshake.Result, error, error) {
	t.Helper()
	serverCh, clientCh := channel.Direct()
	serverH := tcpms.NewHandler(serverCh, nil, nil, nil)
	clientH := tcpms.NewHandler(clientCh, nil, nil, nil)

	type outcome struct {
		res *handshake.Result
		err error
	}
	serverDone := make(chan outcome, 1)
	clientDone := make(chan outcome, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		res, err := handshake.Join(ctx, serverH, handshake.RoleServer, serverCfg)
		serverDone <- outcome{res, err}
	}()
	go func() {
		res, err := handshake.Join(ctx, clientH, handshake.RoleClient, clientCfg)
		clientDone <- outcome{res, err}
		if err != nil {
			// A client that gives up early stops reading, and Direct is
			// unbuffered: keep draining so the server's Dispatch calls
			// complete and its Join can return (by ctx at the latest).
			for {
				if _, err := clientH.Obtain(ctx); err != nil {
					return
				}
			}
		}
	}()

	so := <-serverDone
	co := <-clientDone
	return so.res, co.res, so.err, co.err
}

func TestJoinSucceedsWithEncryption(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.ClientSettings{Version: 1, ConnectionTestTries: 3, EncryptionEnabled: true}
	serverRes, clientRes, serverErr, clientErr := runJoinPair(t,
		handshake.Config{Password: "shared-secret", Settings: settings},
		handshake.Config{Password: "shared-secret"},
	)

	if serverErr != nil {
		t.Fatalf("server Join: unexpected error: %v", serverErr)
	}
	if clientErr != nil {
		t.Fatalf("client Join: unexpected error: %v", clientErr)
	}
	if serverRes.DataKey == nil || clientRes.DataKey == nil {
		t.Fatal("Join with EncryptionEnabled produced a nil DataKey")
	}
	if clientRes.Settings.ConnectionTestTries != settings.ConnectionTestTries {
		t.Errorf("client learned ConnectionTestTries=%d, want %d", clientRes.Settings.ConnectionTestTries, settings.ConnectionTestTries)
	}
}

func TestJoinSucceedsWithoutEncryption(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.ClientSettings{Version: 1, ConnectionTestTries: 2, EncryptionEnabled: false}
	serverRes, clientRes, serverErr, clientErr := runJoinPair(t,
		handshake.Config{Settings: settings},
		handshake.Config{},
	)

	if serverErr != nil || clientErr != nil {
		t.Fatalf("Join errors: server=%v client=%v", serverErr, clientErr)
	}
	if serverRes.DataKey != nil || clientRes.DataKey != nil {
		t.Error("Join with EncryptionEnabled=false produced a non-nil DataKey")
	}
}

func TestJoinFailsOnWrongPassword(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.ClientSettings{Version: 1, ConnectionTestTries: 2, EncryptionEnabled: true}
	_, _, serverErr, clientErr := runJoinPair(t,
		handshake.Config{Password: "correct", Settings: settings},
		handshake.Config{Password: "wrong"},
	)

	if !errors.Is(serverErr, handshake.ErrAuthFailed) && !errors.Is(clientErr, handshake.ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed on at least one side, got server=%v client=%v", serverErr, clientErr)
	}
}

func TestJoinClientRequiresPasswordWhenEncrypted(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.ClientSettings{Version: 1, ConnectionTestTries: 2, EncryptionEnabled: true}
	_, _, _, clientErr := runJoinPair(t,
		handshake.Config{Password: "correct", Settings: settings},
		handshake.Config{},
	)
	if clientErr == nil {
		t.Error("client Join with no password against an encrypted server: got nil error, want non-nil")
	}
}
