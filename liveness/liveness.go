// Package liveness implements the TcpMs ping/pong cycle: a server-side
// timer that probes an idle connection and declares it dead if no pong or
// data package arrives in time, and the client-side responder that
// answers a ping directly.
package liveness

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/tcpms/tcpms"
)

// Monitor runs the server-side liveness cycle for one connection. It must
// be constructed with PingTimeout < PingInterval.
type Monitor struct {
	h             *tcpms.Handler
	pingInterval  time.Duration
	pingTimeout   time.Duration
	recentData    atomic.Bool
	pongOK        atomic.Bool
	onPingTimeout func()
}

// NewMonitor constructs a Monitor. It panics if pingTimeout is not
// strictly less than pingInterval, matching the construction-time
// invariant the spec requires.
func NewMonitor(h *tcpms.Handler, pingInterval, pingTimeout time.Duration, onPingTimeout func()) *Monitor {
	if pingTimeout >= pingInterval {
		panic("liveness: ping_timeout_ms must be less than ping_interval_ms")
	}
	return &Monitor{h: h, pingInterval: pingInterval, pingTimeout: pingTimeout, onPingTimeout: onPingTimeout}
}

// NoteDataReceived marks that a Data package arrived, which counts as
// implicit liveness for the current cycle and also satisfies a pending
// pong.
func (m *Monitor) NoteDataReceived() {
	m.recentData.Store(true)
	m.pongOK.Store(true)
}

// NotePong marks that a Pong package arrived.
func (m *Monitor) NotePong() {
	m.pongOK.Store(true)
	m.h.NotePongReceived()
}

// Run executes the ping cycle until ctx ends, a Ping cannot be queued, or
// a Ping goes unanswered; in the last case it calls onPingTimeout and
// returns, and does not ping again afterwards. It is meant to run in its
// own goroutine, one per connected client, and activates only when
// pingInterval > 0 (a zero interval disables the monitor entirely; the
// caller should simply not start Run in that case).
func (m *Monitor) Run(ctx context.Context) {
	wait := m.pingInterval - m.pingTimeout
	for {
		if !sleep(ctx, wait) {
			return
		}
		if m.recentData.Swap(false) {
			continue
		}

		m.pongOK.Store(false)
		if err := m.h.Send(tcpms.NewPackage(tcpms.PackagePing, tcpms.DataEmpty, nil)); err != nil {
			return
		}
		m.h.NotePingSent()

		if !sleep(ctx, m.pingTimeout) {
			return
		}
		if !m.pongOK.Load() {
			m.h.NotePingTimeout()
			if m.onPingTimeout != nil {
				m.onPingTimeout()
			}
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Responder is the client-side half: on Ping receipt, pause dispatch,
// directly dispatch Pong, and resume dispatch.
type Responder struct {
	h *tcpms.Handler
}

// NewResponder constructs a Responder bound to h.
func NewResponder(h *tcpms.Handler) *Responder { return &Responder{h: h} }

// HandlePing answers one received Ping package.
func (r *Responder) HandlePing() error {
	r.h.PauseAll()
	defer r.h.ResumeAll()
	return r.h.Dispatch(tcpms.NewPackage(tcpms.PackagePong, tcpms.DataEmpty, nil))
}
