// Package client implements the TcpMs client endpoint: dialing,
// running the joining side of the handshake, and typed data sends.
package client

import (
	"context"
	"errors"
	"expvar"
	"net"
	"sync"
	"time"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/channel"
	"github.com/tcpms/tcpms/handshake"
	"github.com/tcpms/tcpms/liveness"
	"github.com/tcpms/tcpms/wire"
)

// Client is one joined session against a TcpMs server.
type Client struct {
	Hooks *tcpms.Hooks

	// ReceiveTimeout is the read-timeout policy applied to every byte of
	// a package after the first header byte. Unlike the server's
	// equivalent setting, this is local to the client and never
	// negotiated. Defaults to 500ms.
	ReceiveTimeout time.Duration

	password string

	mu        sync.Mutex
	handler   *tcpms.Handler
	settings  tcpms.ClientSettings
	responder *liveness.Responder
	cancel    context.CancelFunc

	rejoinMu sync.Mutex
	panics   int
}

// New constructs an unconnected Client.
func New(hooks *tcpms.Hooks) *Client {
	return &Client{Hooks: hooks, ReceiveTimeout: 500 * time.Millisecond}
}

// Connect dials addr, runs the joining side of the handshake with
// password, and on success starts both loops. It returns false (with a
// nil error) if the join failed because of an authentication mismatch,
// and a non-nil error for a transient I/O or protocol fault.
func (c *Client) Connect(ctx context.Context, addr, password string) (bool, error) {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, err
	}
	c.password = password

	rawCh := channel.IO(conn, c.ReceiveTimeout)
	jh := tcpms.NewHandler(rawCh, nil, nil, nil)

	result, err := handshake.Join(ctx, jh, handshake.RoleClient, handshake.Config{Password: password})
	if err != nil {
		conn.Close()
		if errors.Is(err, handshake.ErrAuthFailed) {
			return false, nil
		}
		return false, err
	}

	var finalCh tcpms.Channel = rawCh
	if result.DataKey != nil {
		finalCh = channel.NewEncrypted(rawCh, result.DataKey)
	}

	c.mu.Lock()
	c.settings = result.Settings
	c.handler = tcpms.NewHandler(finalCh, c.onInternal, c.onData, c.onError)
	c.responder = liveness.NewResponder(c.handler)
	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.handler.StartAll(sctx)

	var id tcpms.ClientSessionKey
	c.Hooks.FireConnected(id)
	return true, nil
}

// Disconnect stops both loops, directly dispatches a DisconnectRequest,
// then closes the connection. Calls after the first, until the next
// successful Connect, do nothing.
func (c *Client) Disconnect() {
	c.mu.Lock()
	h := c.handler
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if h == nil || cancel == nil {
		return
	}

	h.StopAll()
	h.Dispatch(tcpms.NewPackage(tcpms.PackageDisconnectRequest, tcpms.DataEmpty, nil))
	h.Close()
	if cancel != nil {
		cancel()
	}

	var id tcpms.ClientSessionKey
	c.Hooks.FireDisconnected(id)
}

// Metrics returns the expvar map of the underlying Handler's counters, or
// nil if Connect has never succeeded.
func (c *Client) Metrics() *expvar.Map {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Metrics()
}

// SendBlob sends data as a Blob Data package.
func (c *Client) SendBlob(data []byte) error {
	return c.handlerOrErr(func(h *tcpms.Handler) error {
		return h.Send(tcpms.NewPackage(tcpms.PackageData, tcpms.DataBlob, data))
	})
}

// SendByte sends a single byte as a Byte Data package.
func (c *Client) SendByte(b byte) error {
	return c.handlerOrErr(func(h *tcpms.Handler) error {
		return h.Send(tcpms.NewPackage(tcpms.PackageData, tcpms.DataByte, []byte{b}))
	})
}

// SendString sends s as a String Data package, UTF-16LE encoded.
func (c *Client) SendString(s string) error {
	return c.handlerOrErr(func(h *tcpms.Handler) error {
		return h.Send(tcpms.NewPackage(tcpms.PackageData, tcpms.DataString, wire.EncodeUTF16LE(s)))
	})
}

func (c *Client) handlerOrErr(f func(h *tcpms.Handler) error) error {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return tcpms.NewProtocolError(tcpms.KindDisconnected, "client is not connected")
	}
	return f(h)
}

func (c *Client) onInternal(_ context.Context, pkg *tcpms.Package) error {
	switch pkg.Type {
	case tcpms.PackagePing:
		return c.responder.HandlePing()
	case tcpms.PackageDisconnect:
		go c.Disconnect()
	}
	return nil
}

func (c *Client) onData(pkg *tcpms.Package) {
	var id tcpms.ClientSessionKey
	switch pkg.DataType {
	case tcpms.DataString:
		if s, err := wire.DecodeUTF16LE(pkg.Payload); err == nil {
			c.Hooks.FireStringReceived(id, s)
		}
	case tcpms.DataByte, tcpms.DataBlob:
		c.Hooks.FireBlobReceived(id, pkg.Payload)
	}
}

func (c *Client) onError(err error) {
	var id tcpms.ClientSessionKey
	c.Hooks.FireError(id, err)

	var pe *tcpms.ProtocolError
	if errors.As(err, &pe) && pe.Kind.Terminal() {
		// onError runs on the obtain-loop goroutine; Disconnect's
		// StopAll/Close waits for that very goroutine to exit, so it must
		// not be called inline here (same fix as the PackageDisconnect
		// case in onInternal above).
		go c.Disconnect()
		return
	}
	c.attemptPanicRejoin()
}

// attemptPanicRejoin is the client-side symmetric counterpart of the
// server's panic handler: pause, wait for the server's Panic, and re-run
// the join from Auth-Info.
func (c *Client) attemptPanicRejoin() {
	c.rejoinMu.Lock()
	defer c.rejoinMu.Unlock()

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}

	h.PauseAll()
	c.panics++

	if _, err := h.ObtainExpected(context.Background(), tcpms.PackagePanic); err != nil {
		// attemptPanicRejoin is reached from onError on the obtain-loop
		// goroutine; Disconnect must not run inline here either.
		go c.Disconnect()
		return
	}

	result, err := handshake.Join(context.Background(), h, handshake.RoleClient, handshake.Config{Password: c.password})
	if err != nil {
		go c.Disconnect()
		return
	}

	if result.DataKey != nil {
		h.SetChannel(channel.NewEncrypted(underlyingIO(h), result.DataKey))
	}
	h.ResumeAll()
	h.NotePanicRecovered()

	var id tcpms.ClientSessionKey
	c.Hooks.FirePanic(id)
}

func underlyingIO(h *tcpms.Handler) tcpms.Channel {
	ch := h.Channel()
	if enc, ok := ch.(*channel.Encrypted); ok {
		return enc.Unwrap()
	}
	return ch
}
