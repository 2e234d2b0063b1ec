// Package channel provides implementations of the tcpms.Channel interface:
// the reliable ordered byte-stream abstraction a Handler drives.
package channel

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	"github.com/tcpms/tcpms"
)

// A Channel is a reliable ordered stream of packages shared by two peers.
// Implementations must be safe for concurrent use by one sender and one
// receiver.
type Channel interface {
	// Send writes pkg to the remote peer in wire format.
	Send(pkg *tcpms.Package) error

	// Recv reads the next available package from the channel. The first
	// header byte honors ctx; every subsequent byte honors the channel's
	// own read-timeout policy.
	Recv(ctx context.Context) (*tcpms.Package, error)

	// Close terminates the channel, causing any pending Send or Recv to
	// report an error. After Close, all further operations must error.
	Close() error
}

// Direct constructs a connected pair of in-memory channels that pass
// packages directly without wire encoding. Packages sent to A are received
// by B and vice versa. Useful for handshake and handler unit tests.
// The channels are unbuffered: Send returns only once the peer receives.
// Close on one end closes only its sending direction: later Sends on that
// end and the peer's Recv report net.ErrClosed, while a Recv on the closed
// end itself keeps waiting for the peer.
func Direct() (a, b Channel) {
	a2b := make(chan *tcpms.Package)
	b2a := make(chan *tcpms.Package)
	a = &direct{send: a2b, recv: b2a}
	b = &direct{send: b2a, recv: a2b}
	return
}

type direct struct {
	send chan<- *tcpms.Package
	recv <-chan *tcpms.Package
}

func (d *direct) Send(pkg *tcpms.Package) (err error) {
	defer safeClose(&err)
	d.send <- pkg
	return nil
}

func (d *direct) Recv(ctx context.Context) (*tcpms.Package, error) {
	select {
	case pkg, ok := <-d.recv:
		if !ok {
			return nil, net.ErrClosed
		}
		return pkg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *direct) Close() (err error) {
	defer safeClose(&err)
	close(d.send)
	return nil
}

func safeClose(err *error) {
	if x := recover(); x != nil && *err == nil {
		*err = net.ErrClosed
	}
}

// IO constructs a Channel that sends and receives wire-framed packages over
// conn, applying readTimeout to every header/payload byte after the first
// byte of each package header.
func IO(conn net.Conn, readTimeout time.Duration) *IOChannel {
	return &IOChannel{
		conn:        conn,
		r:           bufio.NewReader(conn),
		w:           bufio.NewWriter(conn),
		readTimeout: readTimeout,
	}
}

// IOChannel sends and receives packages over a net.Conn.
type IOChannel struct {
	conn        net.Conn
	r           *bufio.Reader
	w           *bufio.Writer
	readTimeout time.Duration
}

// SetReadTimeout updates the per-byte read-timeout policy used after the
// first header byte of each package.
func (c *IOChannel) SetReadTimeout(d time.Duration) { c.readTimeout = d }

// Send implements Channel.
func (c *IOChannel) Send(pkg *tcpms.Package) error {
	if _, err := pkg.WriteTo(c.w); err != nil {
		return tcpms.WrapProtocolError(tcpms.KindCannotWrite, "write package", err)
	}
	if err := c.w.Flush(); err != nil {
		return tcpms.WrapProtocolError(tcpms.KindCannotWrite, "flush package", err)
	}
	return nil
}

// Recv implements Channel.
func (c *IOChannel) Recv(ctx context.Context) (*tcpms.Package, error) {
	return tcpms.DecodePackage(ctx, c)
}

// ReadFirstByte implements the interface tcpms.DecodePackage needs to read
// the package_type byte honoring ctx, by racing a deadline against ctx's
// cancellation (net.Conn has no native context support).
func (c *IOChannel) ReadFirstByte(ctx context.Context) (byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}

	done := make(chan struct{})
	defer close(done)
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				c.conn.SetReadDeadline(time.Now())
			case <-done:
			}
		}()
	}

	b, err := c.r.ReadByte()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if isTimeout(err) {
			return 0, tcpms.NewProtocolError(tcpms.KindReadTimeout, "read package type byte")
		}
		return 0, classifyReadError(err)
	}
	return b, nil
}

// ReadTimed implements the interface tcpms.DecodePackage needs to read the
// rest of a package's bytes under the channel's read-timeout policy.
func (c *IOChannel) ReadTimed(buf []byte) error {
	if c.readTimeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	} else {
		c.conn.SetReadDeadline(time.Time{})
	}
	if _, err := io.ReadFull(c.r, buf); err != nil {
		if isTimeout(err) {
			return tcpms.NewProtocolError(tcpms.KindReadTimeout, "read %d bytes", len(buf))
		}
		return classifyReadError(err)
	}
	return nil
}

// Close implements Channel.
func (c *IOChannel) Close() error { return c.conn.Close() }

func isTimeout(err error) bool {
	var ne net.Error
	if e, ok := err.(net.Error); ok {
		ne = e
		return ne.Timeout()
	}
	return false
}

func classifyReadError(err error) error {
	if err == io.EOF {
		return tcpms.WrapProtocolError(tcpms.KindDisconnected, "peer closed connection", err)
	}
	return tcpms.WrapProtocolError(tcpms.KindCannotRead, "read package", err)
}
