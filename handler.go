package tcpms

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/taskgroup"
)

// A Channel is a reliable ordered stream of packages shared by two peers.
// Implementations must be safe for concurrent use by one sender and one
// receiver. The channel subpackage provides the IOChannel and
// Direct implementations; Handler only depends on this interface to avoid
// an import cycle with that package.
type Channel interface {
	Send(pkg *Package) error
	Recv(ctx context.Context) (*Package, error)
	Close() error
}

// OnInternal is called, and awaited, for every internal (non-Data) package
// the obtain loop reads, in arrival order. Returning an error is reported
// through OnError but does not stop the loop.
type OnInternal func(ctx context.Context, pkg *Package) error

// OnData is called for every Data package the obtain loop reads, in arrival
// order, without blocking the obtain loop itself.
type OnData func(pkg *Package)

// OnError is called once per framing or protocol failure the obtain or
// dispatch loop observes. It must be safe for concurrent invocation; in
// practice callers serialize re-entry into the protocol with PauseAll
// before handling an error.
type OnError func(err error)

// Handler drives the obtain and dispatch loops for one connection: a
// goroutine reading packages and a goroutine writing queued ones, with
// pause/resume/stop primitives and a hook-based contract for upper layers.
// It is the direct counterpart of a request/response RPC peer, simplified
// for a protocol that does not correlate packages by request ID.
type Handler struct {
	ch Channel

	onInternal OnInternal
	onData     OnData
	onError    OnError

	outQueue  *pkgQueue
	dataQueue *pkgQueue

	obtainGate   *gate
	dispatchGate *gate
	obtainMu     *loopMutex
	dispatchMu   *loopMutex

	mu      sync.Mutex
	tasks   *taskgroup.Group
	cancel  context.CancelFunc
	started bool
	closed  bool

	metrics *handlerMetrics
}

// NewHandler constructs a Handler over ch. The loops are not started;
// callers that need the handshake's direct Dispatch/Obtain access should
// use the handler before calling StartAll.
func NewHandler(ch Channel, onInternal OnInternal, onData OnData, onError OnError) *Handler {
	return &Handler{
		ch:           ch,
		onInternal:   onInternal,
		onData:       onData,
		onError:      onError,
		outQueue:     newPkgQueue(),
		dataQueue:    newPkgQueue(),
		obtainGate:   newGate(),
		dispatchGate: newGate(),
		obtainMu:     newLoopMutex(),
		dispatchMu:   newLoopMutex(),
		metrics:      newHandlerMetrics(),
	}
}

// Send enqueues pkg for the dispatch loop and returns immediately.
func (h *Handler) Send(pkg *Package) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return NewProtocolError(KindCannotWrite, "handler closed")
	}
	h.outQueue.push(pkg)
	return nil
}

// SendAwait enqueues pkg and blocks until the dispatch loop has written it,
// ctx ends, or the handler aborts the pending send.
func (h *Handler) SendAwait(ctx context.Context, pkg *Package) error {
	if pkg.done == nil {
		pkg.done = make(chan error, 1)
	}
	if err := h.Send(pkg); err != nil {
		return err
	}
	return pkg.Await(ctx)
}

// Dispatch writes pkg directly to the channel, bypassing the outgoing
// queue. Used only while the dispatch loop is paused or stopped, as the
// handshake requires.
func (h *Handler) Dispatch(pkg *Package) error {
	if err := h.channel().Send(pkg); err != nil {
		h.metrics.packagesDropped.Add(1)
		return WrapProtocolError(KindCannotWrite, "dispatch package", err)
	}
	h.metrics.packagesSent.Add(1)
	return nil
}

// Obtain reads one package directly from the channel, bypassing the
// obtain loop. Used only while the obtain loop is paused or stopped, as
// the handshake requires.
func (h *Handler) Obtain(ctx context.Context) (*Package, error) {
	pkg, err := h.channel().Recv(ctx)
	if err != nil {
		return pkg, err
	}
	h.metrics.packagesRecv.Add(1)
	return pkg, nil
}

// ObtainExpected reads one package directly from the channel and requires
// its type to be one of want (or PackageNone, meaning any type is
// accepted). An empty want also accepts any type. A package of type
// PackageError always reports an error, regardless of want.
func (h *Handler) ObtainExpected(ctx context.Context, want ...PackageType) (*Package, error) {
	pkg, err := h.Obtain(ctx)
	if err != nil {
		return pkg, err
	}
	if !matchesExpected(pkg.Type, want) {
		return pkg, unexpectedPackageError(pkg.Type, want)
	}
	return pkg, nil
}

// StartAll starts the obtain and dispatch loops. It must be called at most
// once per Handler; call StopAll (or Close) before discarding a started
// Handler.
func (h *Handler) StartAll(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		panic("handler already started")
	}
	h.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	g := taskgroup.New(nil)
	h.tasks = g
	h.mu.Unlock()

	g.Go(func() error { h.obtainLoop(loopCtx); return nil })
	g.Go(func() error { h.dispatchLoop(loopCtx); return nil })
	g.Go(func() error { h.dataDeliveryLoop(loopCtx); return nil })
}

// PauseAll closes both loop gates and waits for any in-flight read/write
// to finish before returning. After PauseAll returns, the
// caller may safely use Dispatch/Obtain/ObtainExpected directly.
func (h *Handler) PauseAll() {
	h.obtainGate.pause()
	h.dispatchGate.pause()
	h.obtainMu.acquireRelease()
	h.dispatchMu.acquireRelease()
}

// ResumeAll reopens both loop gates.
func (h *Handler) ResumeAll() {
	h.obtainGate.resume()
	h.dispatchGate.resume()
}

// StopAll cancels the loops' context and waits for them to exit. Queued
// outgoing packages are left unsent unless StopAndDispatchRest is used
// instead.
func (h *Handler) StopAll() {
	h.mu.Lock()
	started := h.started
	cancel := h.cancel
	g := h.tasks
	h.mu.Unlock()
	if !started {
		return
	}
	cancel()
	g.Wait()
}

// StopAndDispatchRest stops the loops, then drains the outgoing queue
// single-threaded, writing each package directly to the channel until the
// queue is empty or a write fails. A package successfully written is
// signalled; the one that failed, and everything still queued behind it,
// is left unsignalled.
func (h *Handler) StopAndDispatchRest() {
	h.StopAll()
	for _, pkg := range h.outQueue.drain() {
		if err := h.channel().Send(pkg); err != nil {
			h.metrics.packagesDropped.Add(1)
			return
		}
		pkg.signalDispatched()
		h.metrics.packagesSent.Add(1)
	}
}

// Close stops the loops (without draining) and releases the channel.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.StopAll()
	return h.channel().Close()
}

// channel returns the current channel under lock.
func (h *Handler) channel() Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ch
}

// Channel returns the Channel h currently drives. Exposed so a panic
// rejoin can recover the underlying socket channel and re-wrap it with a
// freshly negotiated encryption key.
func (h *Handler) Channel() Channel { return h.channel() }

// SetChannel installs a new Channel for h, for use only while both loops
// are paused or stopped (e.g. a panic rejoin installing a freshly
// negotiated encrypted channel). The caller is responsible for ensuring
// no Obtain/Dispatch/loop iteration is in flight when this is called.
func (h *Handler) SetChannel(ch Channel) {
	h.mu.Lock()
	h.ch = ch
	h.mu.Unlock()
}

func (h *Handler) obtainLoop(ctx context.Context) {
	for {
		if err := h.obtainGate.wait(ctx); err != nil {
			return
		}
		h.obtainMu.acquire()
		pkg, err := h.channel().Recv(ctx)
		h.obtainMu.release()

		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.metrics.packagesDropped.Add(1)
			h.reportError(err)
			continue
		}
		h.metrics.packagesRecv.Add(1)

		if pkg.Type.IsInternal() {
			if h.onInternal != nil {
				if err := h.onInternal(ctx, pkg); err != nil {
					h.reportError(err)
				}
			}
		} else {
			h.dataQueue.push(pkg)
		}
	}
}

func (h *Handler) dataDeliveryLoop(ctx context.Context) {
	for {
		pkg, err := h.dataQueue.pop(ctx)
		if err != nil {
			return
		}
		if h.onData != nil {
			h.onData(pkg)
		}
	}
}

func (h *Handler) dispatchLoop(ctx context.Context) {
	for {
		if err := h.dispatchGate.wait(ctx); err != nil {
			return
		}
		pkg, err := h.outQueue.pop(ctx)
		if err != nil {
			return
		}

		// outQueue.pop can block past the point where PauseAll closes the
		// gate (a package enqueued mid-pause satisfies a pop that started
		// earlier), so the gate must be re-checked under dispatchMu, not
		// just at the top of the loop. Otherwise this write can race a
		// PauseAll caller's direct Dispatch on the same channel.
		h.dispatchMu.acquire()
		if !h.dispatchGate.isOpen() {
			h.dispatchMu.release()
			h.outQueue.pushFront(pkg)
			continue
		}
		werr := h.channel().Send(pkg)
		h.dispatchMu.release()

		if werr != nil {
			pkg.abortDispatch(WrapProtocolError(KindCannotWrite, "dispatch package", werr))
			h.metrics.packagesDropped.Add(1)
			h.reportError(WrapProtocolError(KindCannotWrite, "dispatch package", werr))
			continue
		}
		pkg.signalDispatched()
		h.metrics.packagesSent.Add(1)
	}
}

func (h *Handler) reportError(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}

// gate is a manual-reset, closed-when-open gate, matching the watch-channel
// idiom the protocol design favors over a condition variable.
type gate struct {
	mu   sync.Mutex
	open chan struct{}
}

func newGate() *gate {
	ch := make(chan struct{})
	close(ch)
	return &gate{open: ch}
}

func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isOpen reports whether the gate is currently open (not paused), without
// blocking.
func (g *gate) isOpen() bool {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
	}
}

func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
	default:
		close(g.open)
	}
}

// loopMutex is a 1-permit mutex used only to confirm a loop iteration is
// not in flight; PauseAll acquires and immediately releases it.
type loopMutex struct {
	permit chan struct{}
}

func newLoopMutex() *loopMutex {
	m := &loopMutex{permit: make(chan struct{}, 1)}
	m.permit <- struct{}{}
	return m
}

func (m *loopMutex) acquire()        { <-m.permit }
func (m *loopMutex) release()        { m.permit <- struct{}{} }
func (m *loopMutex) acquireRelease() { m.acquire(); m.release() }

// pkgQueue is an unbounded multi-producer/single-consumer FIFO of
// Packages. Send never blocks a producer; pop blocks a single consumer
// until an item is available or ctx ends.
type pkgQueue struct {
	mu     sync.Mutex
	items  []*Package
	signal chan struct{}
}

func newPkgQueue() *pkgQueue {
	return &pkgQueue{signal: make(chan struct{}, 1)}
}

func (q *pkgQueue) push(pkg *Package) {
	q.mu.Lock()
	q.items = append(q.items, pkg)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// pushFront requeues pkg at the head of the queue, for a package that was
// popped but turned out not to be dispatchable yet (the loop was paused
// after the pop had already started waiting).
func (q *pkgQueue) pushFront(pkg *Package) {
	q.mu.Lock()
	q.items = append([]*Package{pkg}, q.items...)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *pkgQueue) tryPop() (*Package, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	pkg := q.items[0]
	q.items = q.items[1:]
	return pkg, true
}

func (q *pkgQueue) pop(ctx context.Context) (*Package, error) {
	for {
		if pkg, ok := q.tryPop(); ok {
			return pkg, nil
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *pkgQueue) drain() []*Package {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
