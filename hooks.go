package tcpms

// Hooks collects the observer callbacks the server and client fire as the
// protocol progresses. Every field is optional; a nil hook is simply skipped.
// Registration happens once at construction — Hooks is not safe to mutate
// concurrently with a running Handler.
//
// The same Hooks type serves both client and server; a client session has
// only one peer, so it passes the zero ClientSessionKey to every call.
type Hooks struct {
	// OnConnected fires after a client session joins (client side: inside
	// a successful Connect, just before it returns true; server side: after
	// a client is registered).
	OnConnected func(id ClientSessionKey)

	// OnDisconnected fires exactly once per session, when it leaves the
	// registry (server side) or when Disconnect completes (client side).
	OnDisconnected func(id ClientSessionKey)

	// OnPanic fires after a panic rejoin completes successfully. It never
	// fires for a rejoin attempt that fails; that ends in OnDisconnected
	// instead.
	OnPanic func(id ClientSessionKey)

	// OnBlobReceived fires for each Data package whose DataType is
	// DataByte or DataBlob.
	OnBlobReceived func(id ClientSessionKey, blob []byte)

	// OnStringReceived fires for each Data package whose DataType is
	// DataString, with the payload already decoded from wire UTF-16.
	OnStringReceived func(id ClientSessionKey, s string)

	// OnError fires once per framing or protocol error observed by the
	// obtain loop, before any panic-rejoin attempt is made.
	OnError func(id ClientSessionKey, err error)
}

// FireConnected calls OnConnected if h and the hook are both non-nil. h may
// be nil, in which case this is a no-op; every Fire* method tolerates a nil
// *Hooks so callers never need their own nil check.
func (h *Hooks) FireConnected(id ClientSessionKey) {
	if h != nil && h.OnConnected != nil {
		h.OnConnected(id)
	}
}

// FireDisconnected calls OnDisconnected if h and the hook are both non-nil.
func (h *Hooks) FireDisconnected(id ClientSessionKey) {
	if h != nil && h.OnDisconnected != nil {
		h.OnDisconnected(id)
	}
}

// FirePanic calls OnPanic if h and the hook are both non-nil.
func (h *Hooks) FirePanic(id ClientSessionKey) {
	if h != nil && h.OnPanic != nil {
		h.OnPanic(id)
	}
}

// FireBlobReceived calls OnBlobReceived if h and the hook are both non-nil.
func (h *Hooks) FireBlobReceived(id ClientSessionKey, blob []byte) {
	if h != nil && h.OnBlobReceived != nil {
		h.OnBlobReceived(id, blob)
	}
}

// FireStringReceived calls OnStringReceived if h and the hook are both non-nil.
func (h *Hooks) FireStringReceived(id ClientSessionKey, s string) {
	if h != nil && h.OnStringReceived != nil {
		h.OnStringReceived(id, s)
	}
}

// FireError calls OnError if h and the hook are both non-nil.
func (h *Hooks) FireError(id ClientSessionKey, err error) {
	if h != nil && h.OnError != nil {
		h.OnError(id, err)
	}
}
