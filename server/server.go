// Package server implements the TcpMs server registry and listener: the
// accept loop, the per-client join/disconnect lifecycle, and broadcast.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creachadair/taskgroup"

	"github.com/tcpms/tcpms"
	"github.com/tcpms/tcpms/channel"
	"github.com/tcpms/tcpms/handshake"
	"github.com/tcpms/tcpms/liveness"
	"github.com/tcpms/tcpms/wire"
)

// Server accepts TCP connections, runs the join handshake for each one,
// and indexes successfully joined clients by ClientSessionKey.
type Server struct {
	Settings tcpms.ServerSettings
	Hooks    *tcpms.Hooks

	clients sync.Map // tcpms.ClientSessionKey -> *session
	count   atomic.Int64
	metrics *serverMetrics
}

// New constructs a Server. settings should normally come from
// tcpms.DefaultServerSettings with overrides applied.
func New(settings tcpms.ServerSettings, hooks *tcpms.Hooks) *Server {
	return &Server{Settings: settings, Hooks: hooks, metrics: newServerMetrics()}
}

// Serve runs the accept loop against lst until ctx ends or lst closes.
// Connections arriving once MaxClients sessions are being handled (joined,
// or still running the handshake) are accepted and immediately closed
// without running the handshake, so existing sessions are undisturbed.
func (s *Server) Serve(ctx context.Context, lst net.Listener) error {
	closeOnCancel := make(chan struct{})
	defer close(closeOnCancel)
	taskgroup.Go(func() error {
		select {
		case <-ctx.Done():
			lst.Close()
		case <-closeOnCancel:
		}
		return nil
	})

	g := taskgroup.New(nil)
	for {
		conn, err := lst.Accept()
		if err != nil {
			g.Wait()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		if int(s.count.Load()) >= s.Settings.MaxClients {
			conn.Close()
			continue
		}
		s.count.Add(1)
		g.Go(func() error {
			defer s.count.Add(-1)
			s.handleConn(ctx, conn)
			return nil
		})
	}
}

// NumClients reports the number of sessions the server is currently
// handling: joined clients plus connections still running the handshake.
func (s *Server) NumClients() int { return int(s.count.Load()) }

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	rawCh := channel.IO(conn, s.Settings.ReceiveTimeout)

	id, ok := s.newUniqueID()
	if !ok {
		conn.Close()
		return
	}

	sctx, cancel := context.WithCancel(ctx)
	cs := &session{id: id, srv: s, cancel: cancel, done: make(chan struct{})}

	if err := cs.join(sctx, rawCh); err != nil {
		cancel()
		conn.Close()
		return
	}

	s.clients.Store(id, cs)
	s.metrics.clientsConnected.Add(1)
	s.Hooks.FireConnected(id)

	cs.startLoops(sctx)
	<-cs.done
}

func (s *Server) newUniqueID() (tcpms.ClientSessionKey, bool) {
	for i := 0; i < 10; i++ {
		id, err := tcpms.NewClientSessionKey()
		if err != nil {
			return tcpms.ClientSessionKey{}, false
		}
		if _, exists := s.clients.Load(id); !exists {
			return id, true
		}
	}
	return tcpms.ClientSessionKey{}, false
}

// RemoveClient is the single mutation path for disconnects. It is safe to
// call more than once for the same id; only the first call has any
// effect, and it fires OnDisconnected exactly once.
func (s *Server) RemoveClient(id tcpms.ClientSessionKey) {
	v, ok := s.clients.LoadAndDelete(id)
	if !ok {
		return
	}
	cs := v.(*session)
	cs.closeOnce.Do(func() {
		cs.cancel()
		if cs.handler != nil {
			cs.handler.Close()
		}
		close(cs.done)
		s.metrics.clientsDisconnected.Add(1)
		s.Hooks.FireDisconnected(id)
	})
}

// Disconnect dispatches a graceful Disconnect to id and removes it.
func (s *Server) Disconnect(id tcpms.ClientSessionKey) {
	if v, ok := s.clients.Load(id); ok {
		cs := v.(*session)
		if cs.handler != nil {
			cs.handler.Send(tcpms.NewPackage(tcpms.PackageDisconnect, tcpms.DataEmpty, nil))
			cs.handler.StopAndDispatchRest()
		}
	}
	s.RemoveClient(id)
}

// BroadcastBlob sends blob as a Blob Data package to every connected
// client, tolerating per-client send failures.
func (s *Server) BroadcastBlob(blob []byte) {
	s.broadcast(func() *tcpms.Package { return tcpms.NewPackage(tcpms.PackageData, tcpms.DataBlob, append([]byte(nil), blob...)) })
}

// BroadcastString sends str as a String Data package, UTF-16LE encoded,
// to every connected client.
func (s *Server) BroadcastString(str string) {
	encoded := wire.EncodeUTF16LE(str)
	s.broadcast(func() *tcpms.Package { return tcpms.NewPackage(tcpms.PackageData, tcpms.DataString, append([]byte(nil), encoded...)) })
}

func (s *Server) broadcast(mk func() *tcpms.Package) {
	s.clients.Range(func(_, v any) bool {
		cs := v.(*session)
		cs.handler.Send(mk())
		return true
	})
}

// SendBlob sends blob as a Blob Data package to one client.
func (s *Server) SendBlob(id tcpms.ClientSessionKey, blob []byte) error {
	v, ok := s.clients.Load(id)
	if !ok {
		return tcpms.NewProtocolError(tcpms.KindDisconnected, "no such client %v", id)
	}
	return v.(*session).handler.Send(tcpms.NewPackage(tcpms.PackageData, tcpms.DataBlob, blob))
}

// SendString sends str as a String Data package to one client.
func (s *Server) SendString(id tcpms.ClientSessionKey, str string) error {
	v, ok := s.clients.Load(id)
	if !ok {
		return tcpms.NewProtocolError(tcpms.KindDisconnected, "no such client %v", id)
	}
	return v.(*session).handler.Send(tcpms.NewPackage(tcpms.PackageData, tcpms.DataString, wire.EncodeUTF16LE(str)))
}

// session tracks one joined client's live state.
type session struct {
	id     tcpms.ClientSessionKey
	srv    *Server
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once

	handler *tcpms.Handler
	monitor *liveness.Monitor

	rejoinMu sync.Mutex
	panics   int
}

func (cs *session) join(ctx context.Context, rawCh tcpms.Channel) error {
	jh := tcpms.NewHandler(rawCh, nil, nil, nil)
	result, err := handshake.Join(ctx, jh, handshake.RoleServer, handshake.Config{
		Password: cs.srv.Settings.Password,
		Settings: cs.srv.Settings.ClientSettings(),
	})
	if err != nil {
		return err
	}

	finalCh := installEncryption(rawCh, result)
	cs.handler = tcpms.NewHandler(finalCh, cs.onInternal, cs.onData, cs.onError)
	return nil
}

func installEncryption(rawCh tcpms.Channel, result *handshake.Result) tcpms.Channel {
	if result.DataKey == nil {
		return rawCh
	}
	return channel.NewEncrypted(rawCh, result.DataKey)
}

func (cs *session) startLoops(ctx context.Context) {
	// cs.monitor must be set before StartAll: onInternal/onData run on the
	// loop goroutines StartAll launches and read cs.monitor immediately.
	if cs.srv.Settings.PingInterval > 0 {
		cs.monitor = liveness.NewMonitor(cs.handler, cs.srv.Settings.PingInterval, cs.srv.Settings.PingTimeout, cs.onPingTimeout)
	}
	cs.handler.StartAll(ctx)
	if cs.monitor != nil {
		go cs.monitor.Run(ctx)
	}
}

func (cs *session) onInternal(_ context.Context, pkg *tcpms.Package) error {
	switch pkg.Type {
	case tcpms.PackagePong:
		if cs.monitor != nil {
			cs.monitor.NotePong()
		}
	case tcpms.PackageDisconnectRequest:
		// RemoveClient closes the handler, which waits for this very
		// obtain-loop goroutine to exit; it must not run inline here.
		go cs.srv.RemoveClient(cs.id)
	}
	return nil
}

func (cs *session) onData(pkg *tcpms.Package) {
	if cs.monitor != nil {
		cs.monitor.NoteDataReceived()
	}
	switch pkg.DataType {
	case tcpms.DataString:
		if s, err := wire.DecodeUTF16LE(pkg.Payload); err == nil {
			cs.srv.Hooks.FireStringReceived(cs.id, s)
		}
	case tcpms.DataByte, tcpms.DataBlob:
		cs.srv.Hooks.FireBlobReceived(cs.id, pkg.Payload)
	}
}

func (cs *session) onPingTimeout() {
	cs.onError(tcpms.NewProtocolError(tcpms.KindPingTimeout, "no pong within ping budget"))
}

func (cs *session) onError(err error) {
	cs.srv.Hooks.FireError(cs.id, err)
	var pe *tcpms.ProtocolError
	if errors.As(err, &pe) && pe.Kind.Terminal() {
		// Same as the DisconnectRequest case above: this runs on the
		// obtain-loop goroutine, which RemoveClient's Close/StopAll
		// would otherwise have to wait on itself.
		go cs.srv.RemoveClient(cs.id)
		return
	}
	cs.attemptPanicRejoin()
}

// attemptPanicRejoin pauses both loops, increments the panic counter, and
// either re-runs the join from Auth-Info or gives up and disconnects.
func (cs *session) attemptPanicRejoin() {
	cs.rejoinMu.Lock()
	defer cs.rejoinMu.Unlock()

	cs.handler.PauseAll()
	cs.panics++
	if cs.panics > cs.srv.Settings.MaxPanicsPerClient {
		cs.handler.Dispatch(tcpms.NewPackage(tcpms.PackageDisconnect, tcpms.DataEmpty, nil))
		// attemptPanicRejoin is reached from onError on the obtain-loop
		// goroutine; RemoveClient must not run inline here either.
		go cs.srv.RemoveClient(cs.id)
		return
	}

	if err := cs.handler.Dispatch(tcpms.NewPackage(tcpms.PackagePanic, tcpms.DataEmpty, nil)); err != nil {
		go cs.srv.RemoveClient(cs.id)
		return
	}
	time.Sleep(100 * time.Millisecond)

	result, err := handshake.Join(context.Background(), cs.handler, handshake.RoleServer, handshake.Config{
		Password: cs.srv.Settings.Password,
		Settings: cs.srv.Settings.ClientSettings(),
	})
	if err != nil {
		go cs.srv.RemoveClient(cs.id)
		return
	}

	if result.DataKey != nil {
		cs.handler.SetChannel(channel.NewEncrypted(underlyingIO(cs.handler), result.DataKey))
	}
	cs.handler.ResumeAll()
	cs.handler.NotePanicRecovered()
	cs.srv.Hooks.FirePanic(cs.id)
}

// underlyingIO recovers the raw IOChannel beneath a possibly-Encrypted
// channel so a rejoin can install a fresh encryption key over the same
// socket. Only called while the handler is paused.
func underlyingIO(h *tcpms.Handler) tcpms.Channel {
	ch := h.Channel()
	if enc, ok := ch.(*channel.Encrypted); ok {
		return enc.Unwrap()
	}
	return ch
}
