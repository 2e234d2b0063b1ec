package tcpms

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/tcpms/tcpms/tags"
	"github.com/tcpms/tcpms/wire"
)

// PackageType is the single-byte tag identifying the structural type of a
// Package. All values are reserved by the protocol; there is no
// extension range, unlike a chirp packet type.
type PackageType byte

const (
	PackageNone PackageType = iota
	PackageError
	PackageDisconnectRequest
	PackageDisconnect
	PackageData
	PackageAuthInfo
	PackageAuthRequest
	PackageAuthSalt
	PackageAuthIV
	PackageAuthChallenge
	PackageAuthResponse
	PackageAuthSuccess
	PackageAuthFailure
	PackageEncrRequest
	PackageEncrIV
	PackageEncrSalt
	PackageTestRequest
	PackageTest
	PackageTestTrySuccess
	PackageTestTryFailure
	PackagePing
	PackagePong
	PackagePanic
)

var packageTags = tags.New().
	Set("None", byte(PackageNone)).
	Set("Error", byte(PackageError)).
	Set("DisconnectRequest", byte(PackageDisconnectRequest)).
	Set("Disconnect", byte(PackageDisconnect)).
	Set("Data", byte(PackageData)).
	Set("AuthInfo", byte(PackageAuthInfo)).
	Set("AuthRequest", byte(PackageAuthRequest)).
	Set("AuthSalt", byte(PackageAuthSalt)).
	Set("AuthIV", byte(PackageAuthIV)).
	Set("AuthChallenge", byte(PackageAuthChallenge)).
	Set("AuthResponse", byte(PackageAuthResponse)).
	Set("AuthSuccess", byte(PackageAuthSuccess)).
	Set("AuthFailure", byte(PackageAuthFailure)).
	Set("EncrRequest", byte(PackageEncrRequest)).
	Set("EncrIV", byte(PackageEncrIV)).
	Set("EncrSalt", byte(PackageEncrSalt)).
	Set("TestRequest", byte(PackageTestRequest)).
	Set("Test", byte(PackageTest)).
	Set("TestTrySuccess", byte(PackageTestTrySuccess)).
	Set("TestTryFailure", byte(PackageTestTryFailure)).
	Set("Ping", byte(PackagePing)).
	Set("Pong", byte(PackagePong)).
	Set("Panic", byte(PackagePanic))

func (t PackageType) String() string { return packageTags.Name(byte(t)) }

// IsInternal reports whether t is a protocol-internal package type, i.e.
// anything other than Data.
func (t PackageType) IsInternal() bool { return t != PackageData }

// DataType is the single-byte tag describing how a Package's payload
// should be interpreted.
type DataType byte

const (
	DataEmpty DataType = iota
	DataString
	DataByte
	DataBlob
)

var dataTypeTags = tags.New().
	Set("Empty", byte(DataEmpty)).
	Set("String", byte(DataString)).
	Set("Byte", byte(DataByte)).
	Set("Blob", byte(DataBlob))

func (t DataType) String() string { return dataTypeTags.Name(byte(t)) }

// MaxPayloadSize bounds the payload length DecodePackage will accept,
// preventing an attacker-chosen length from driving an unbounded
// allocation.
const MaxPayloadSize = 16 << 20

// Package is a single framed message exchanged between peers.
// Payload is nil iff the package carries no bytes; DataType is DataEmpty
// iff the package carries no application data. Type.IsInternal reports
// whether it is a protocol-internal package.
type Package struct {
	Type     PackageType
	DataType DataType
	Payload  []byte

	done chan error // completion notifier; nil unless created via NewAwaitable
}

// NewPackage constructs a Package with no completion notifier.
func NewPackage(t PackageType, dt DataType, payload []byte) *Package {
	return &Package{Type: t, DataType: dt, Payload: payload}
}

// NewAwaitable constructs a Package whose completion can be observed with
// Await. The dispatch loop signals it exactly once, with a nil error, when
// the package has been written to the wire; StopAndDispatchRest does not
// signal notifiers for packages it drops.
func NewAwaitable(t PackageType, dt DataType, payload []byte) *Package {
	return &Package{Type: t, DataType: dt, Payload: payload, done: make(chan error, 1)}
}

// Await blocks until the package has been dispatched (or ctx ends, or the
// handler aborts the pending send).
func (p *Package) Await(ctx context.Context) error {
	if p.done == nil {
		return nil
	}
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// signalDispatched marks p as delivered to the wire.
func (p *Package) signalDispatched() {
	if p.done != nil {
		select {
		case p.done <- nil:
		default:
		}
	}
}

// abortDispatch marks p as dropped without being written.
func (p *Package) abortDispatch(err error) {
	if p.done != nil {
		select {
		case p.done <- err:
		default:
		}
	}
}

// Encode serializes p in wire format: a six-byte big-endian header
// followed by the payload, if any.
func (p *Package) Encode() []byte {
	var b wire.Builder
	b.Grow(6 + len(p.Payload))
	b.Byte(byte(p.Type))
	b.Byte(byte(p.DataType))
	b.Int32(int32(len(p.Payload)))
	b.Put(p.Payload...)
	return b.Bytes()
}

// WriteTo writes p to w in wire format.
func (p *Package) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.Encode())
	return int64(n), err
}

// headerReader is the minimal interface DecodePackage needs from a
// connection: a way to read the first header byte honoring cancellation,
// and a way to read every subsequent byte honoring the read-timeout policy.
type headerReader interface {
	// ReadFirstByte reads the package_type byte, honoring ctx.
	ReadFirstByte(ctx context.Context) (byte, error)
	// ReadTimed reads exactly len(buf) bytes honoring the read-timeout
	// policy, not ctx.
	ReadTimed(buf []byte) error
}

// DecodePackage reads and parses one Package from r. The first header byte
// honors ctx; every subsequent byte honors r's own read-timeout policy.
func DecodePackage(ctx context.Context, r headerReader) (*Package, error) {
	typeByte, err := r.ReadFirstByte(ctx)
	if err != nil {
		return nil, err
	}

	if !packageTags.Known(typeByte) {
		return nil, NewProtocolError(KindUnexpectedPackage, "unknown package type %d", typeByte)
	}

	var rest [5]byte
	if err := r.ReadTimed(rest[:]); err != nil {
		return nil, err
	}

	dataType := DataType(rest[0])
	length := int32(binary.BigEndian.Uint32(rest[1:5]))
	if length < 0 {
		return nil, NewProtocolError(KindUnexpectedPackage, "negative payload length %d", length)
	}
	if int64(length) > MaxPayloadSize {
		return nil, NewProtocolError(KindUnexpectedPackage, "payload length %d exceeds cap %d", length, MaxPayloadSize)
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if err := r.ReadTimed(payload); err != nil {
			return nil, err
		}
	}

	pkg := &Package{Type: PackageType(typeByte), DataType: dataType, Payload: payload}
	if pkg.Type == PackageError {
		return pkg, NewProtocolError(KindErrorPackage, "error package received")
	}
	return pkg, nil
}

// matchesExpected reports whether t satisfies an ObtainExpected call for
// the given set of wanted types. An empty want set means "any type
// accepted".
func matchesExpected(t PackageType, want []PackageType) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		if w == PackageNone || t == w {
			return true
		}
	}
	return false
}

func unexpectedPackageError(got PackageType, want []PackageType) error {
	return NewProtocolError(KindUnexpectedPackage, "unexpected package %v, want one of %v", got, want)
}
