package tcpms

import "expvar"

// handlerMetrics records per-connection Handler activity counters,
// mirroring the expvar.Map-backed counters a chirp Peer exposes.
type handlerMetrics struct {
	packagesSent    expvar.Int
	packagesRecv    expvar.Int
	packagesDropped expvar.Int
	panicsRecovered expvar.Int
	pingsSent       expvar.Int
	pongsReceived   expvar.Int
	pingTimeouts    expvar.Int

	emap *expvar.Map
}

func newHandlerMetrics() *handlerMetrics {
	m := &handlerMetrics{emap: new(expvar.Map)}
	m.emap.Set("packages_sent", &m.packagesSent)
	m.emap.Set("packages_received", &m.packagesRecv)
	m.emap.Set("packages_dropped", &m.packagesDropped)
	m.emap.Set("panics_recovered", &m.panicsRecovered)
	m.emap.Set("pings_sent", &m.pingsSent)
	m.emap.Set("pongs_received", &m.pongsReceived)
	m.emap.Set("ping_timeouts", &m.pingTimeouts)
	return m
}

// Metrics returns the expvar map for h. It is safe for the caller to add
// additional metrics to the map while the handler is active.
func (h *Handler) Metrics() *expvar.Map { return h.metrics.emap }

// NotePanicRecovered increments the panics_recovered counter. Callers
// running a panic-rejoin loop call this once per successful rejoin.
func (h *Handler) NotePanicRecovered() { h.metrics.panicsRecovered.Add(1) }

// NotePingSent increments the pings_sent counter.
func (h *Handler) NotePingSent() { h.metrics.pingsSent.Add(1) }

// NotePongReceived increments the pongs_received counter.
func (h *Handler) NotePongReceived() { h.metrics.pongsReceived.Add(1) }

// NotePingTimeout increments the ping_timeouts counter.
func (h *Handler) NotePingTimeout() { h.metrics.pingTimeouts.Add(1) }
