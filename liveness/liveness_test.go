package liveness_test

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/channel"
	"github.com/tcpms/tcpms/liveness"
)

func TestNewMonitorPanicsOnBadTimeouts(t *testing.T) {
	serverCh, clientCh := channel.Direct()
	defer serverCh.Close()
	defer clientCh.Close()
	h := tcpms.NewHandler(serverCh, nil, nil, nil)

	defer func() {
		if recover() == nil {
			t.Error("NewMonitor with pingTimeout >= pingInterval: got no panic, want one")
		}
	}()
	liveness.NewMonitor(h, time.Second, time.Second, nil)
}

func TestMonitorPingsAndReceivesPong(t *testing.T) {
	defer leaktest.Check(t)()

	serverCh, clientCh := channel.Direct()
	serverH := tcpms.NewHandler(serverCh, nil, nil, nil)
	serverH.StartAll(context.Background())
	defer serverH.StopAll()

	timedOut := make(chan struct{})
	mon := liveness.NewMonitor(serverH, 40*time.Millisecond, 20*time.Millisecond, func() { close(timedOut) })

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	go mon.Run(ctx)

	clientH := tcpms.NewHandler(clientCh, nil, nil, nil)
	pkg, err := clientH.ObtainExpected(ctx, tcpms.PackagePing)
	if err != nil {
		t.Fatalf("waiting for Ping: unexpected error: %v", err)
	}
	if pkg.Type != tcpms.PackagePing {
		t.Fatalf("got %v, want PackagePing", pkg.Type)
	}

	if err := clientH.Dispatch(tcpms.NewPackage(tcpms.PackagePong, tcpms.DataEmpty, nil)); err != nil {
		t.Fatalf("Dispatch Pong: unexpected error: %v", err)
	}
	mon.NotePong()

	select {
	case <-timedOut:
		t.Error("onPingTimeout fired despite a timely Pong")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestMonitorFiresTimeoutWithoutPong(t *testing.T) {
	defer leaktest.Check(t)()

	serverCh, clientCh := channel.Direct()
	defer clientCh.Close()
	serverH := tcpms.NewHandler(serverCh, nil, nil, nil)
	serverH.StartAll(context.Background())
	defer serverH.StopAll()

	timedOut := make(chan struct{})
	mon := liveness.NewMonitor(serverH, 30*time.Millisecond, 15*time.Millisecond, func() { close(timedOut) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Drain the Ping the monitor sends without ever answering it, so the
	// dispatch loop's write has somewhere to land.
	go func() {
		for {
			if _, err := clientCh.Recv(ctx); err != nil {
				return
			}
		}
	}()

	go mon.Run(ctx)

	select {
	case <-timedOut:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("onPingTimeout never fired despite no Pong")
	}
}

func TestResponderAnswersPing(t *testing.T) {
	defer leaktest.Check(t)()

	serverCh, clientCh := channel.Direct()
	defer serverCh.Close()
	defer clientCh.Close()
	// HandlePing only needs direct Dispatch access, not a running obtain
	// loop; it is always called synchronously from within onInternal, so
	// the loop is never started here.
	clientH := tcpms.NewHandler(clientCh, nil, nil, nil)

	r := liveness.NewResponder(clientH)

	done := make(chan error, 1)
	go func() { done <- r.HandlePing() }()

	// Direct channels are unbuffered, so HandlePing's Dispatch completes
	// only once the server side has read the Pong.
	serverH := tcpms.NewHandler(serverCh, nil, nil, nil)
	pkg, err := serverH.ObtainExpected(context.Background(), tcpms.PackagePong)
	if err != nil {
		t.Fatalf("waiting for Pong: unexpected error: %v", err)
	}
	if pkg.Type != tcpms.PackagePong {
		t.Errorf("got %v, want PackagePong", pkg.Type)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("HandlePing: unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("HandlePing never returned")
	}
}
