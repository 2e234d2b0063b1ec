package server

import "expvar"

// serverMetrics records registry-level counters that no single Handler can
// see on its own: how many sessions have joined and left over the life of
// the Server.
type serverMetrics struct {
	clientsConnected    expvar.Int
	clientsDisconnected expvar.Int

	emap *expvar.Map
}

func newServerMetrics() *serverMetrics {
	m := &serverMetrics{emap: new(expvar.Map)}
	m.emap.Set("clients_connected", &m.clientsConnected)
	m.emap.Set("clients_disconnected", &m.clientsDisconnected)
	return m
}

// Metrics returns the expvar map of registry-level counters for s. Each
// joined session's own Handler.Metrics() carries the finer-grained
// per-connection counters (packages sent/received, pings, panics).
func (s *Server) Metrics() *expvar.Map { return s.metrics.emap }
