package server_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/client"
	"github.com/tcpms/tcpms/server"
)

func newListener(t *testing.T) net.Listener {
	t.Helper()
	lst, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: unexpected error: %v", err)
	}
	t.Cleanup(func() { lst.Close() })
	return lst
}

func TestServerClientJoinAndExchange(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.DefaultServerSettings()
	settings.Password = "hunter2"
	settings.PingInterval = 0 // disable liveness for this test

	var mu sync.Mutex
	var serverSawString string
	serverStringSeen := make(chan struct{}, 1)
	serverHooks := &tcpms.Hooks{
		OnStringReceived: func(_ tcpms.ClientSessionKey, s string) {
			mu.Lock()
			serverSawString = s
			mu.Unlock()
			serverStringSeen <- struct{}{}
		},
	}
	srv := server.New(settings, serverHooks)

	lst := newListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, lst)

	var clientSawBlob []byte
	clientBlobSeen := make(chan struct{}, 1)
	clientHooks := &tcpms.Hooks{
		OnBlobReceived: func(_ tcpms.ClientSessionKey, b []byte) {
			mu.Lock()
			clientSawBlob = append([]byte(nil), b...)
			mu.Unlock()
			clientBlobSeen <- struct{}{}
		},
	}
	c := client.New(clientHooks)
	defer c.Disconnect()

	connCtx, connCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connCancel()
	ok, err := c.Connect(connCtx, lst.Addr().String(), "hunter2")
	if err != nil {
		t.Fatalf("Connect: unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("Connect: authentication unexpectedly failed")
	}

	if err := c.SendString("hello server"); err != nil {
		t.Fatalf("SendString: unexpected error: %v", err)
	}
	select {
	case <-serverStringSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the client's string")
	}
	mu.Lock()
	got := serverSawString
	mu.Unlock()
	if got != "hello server" {
		t.Errorf("server saw %q, want %q", got, "hello server")
	}

	if err := waitForClientCount(srv, 1, time.Second); err != nil {
		t.Fatal(err)
	}
	srv.BroadcastBlob([]byte("from server"))

	select {
	case <-clientBlobSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed the broadcast blob")
	}
	mu.Lock()
	blob := clientSawBlob
	mu.Unlock()
	if string(blob) != "from server" {
		t.Errorf("client saw %q, want %q", blob, "from server")
	}
}

func TestClientDisconnectRequestDoesNotDeadlockServer(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.DefaultServerSettings()
	settings.EncryptionEnabled = false
	settings.PingInterval = 0

	disconnected := make(chan tcpms.ClientSessionKey, 1)
	srv := server.New(settings, &tcpms.Hooks{
		OnDisconnected: func(id tcpms.ClientSessionKey) { disconnected <- id },
	})

	lst := newListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, lst)

	c := client.New(nil)
	connCtx, connCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connCancel()
	if ok, err := c.Connect(connCtx, lst.Addr().String(), ""); err != nil || !ok {
		t.Fatalf("Connect: ok=%v err=%v", ok, err)
	}
	if err := waitForClientCount(srv, 1, time.Second); err != nil {
		t.Fatal(err)
	}

	// Disconnect makes the client stop its own loops, dispatch a
	// DisconnectRequest directly (bypassing the queue) and close; the server's
	// obtain loop must observe it, remove the session, and fire
	// OnDisconnected without hanging.
	c.Disconnect()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never fired OnDisconnected after the client's DisconnectRequest")
	}
	if err := waitForClientCount(srv, 0, time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestServerRejectsWrongPassword(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.DefaultServerSettings()
	settings.Password = "correct"
	settings.PingInterval = 0
	srv := server.New(settings, nil)

	lst := newListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, lst)

	c := client.New(nil)
	connCtx, connCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer connCancel()
	ok, err := c.Connect(connCtx, lst.Addr().String(), "wrong")
	if err != nil {
		t.Fatalf("Connect: unexpected transport error: %v", err)
	}
	if ok {
		t.Error("Connect with the wrong password: got ok=true, want false")
	}
}

func TestServerEnforcesMaxClients(t *testing.T) {
	defer leaktest.Check(t)()

	settings := tcpms.DefaultServerSettings()
	settings.EncryptionEnabled = false
	settings.PingInterval = 0
	settings.MaxClients = 1
	srv := server.New(settings, nil)

	lst := newListener(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, lst)

	c1 := client.New(nil)
	defer c1.Disconnect()
	ctx1, cancel1 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel1()
	if ok, err := c1.Connect(ctx1, lst.Addr().String(), ""); err != nil || !ok {
		t.Fatalf("first Connect: ok=%v err=%v", ok, err)
	}
	if err := waitForClientCount(srv, 1, time.Second); err != nil {
		t.Fatal(err)
	}

	c2 := client.New(nil)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	// The raw TCP connect succeeds (the listener always accepts), but the
	// server closes it immediately without running the handshake, so the
	// join itself fails.
	if _, err := c2.Connect(ctx2, lst.Addr().String(), ""); err == nil {
		t.Error("second Connect beyond MaxClients: got nil error, want non-nil")
	}
}

func waitForClientCount(srv *server.Server, want int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if srv.NumClients() == want {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errTimeoutWaitingForClients
}

var errTimeoutWaitingForClients = &timeoutError{"timed out waiting for NumClients"}

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string { return e.msg }
