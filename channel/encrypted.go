package channel

import (
	"context"

	"github.com/tcpms/tcpms"
)

// Encrypted wraps an underlying Channel so that the payload of every Data
// package is encrypted before it is sent and decrypted after it is
// received, using the data-channel AesContext installed by the
// Encryption-Exchange handshake step. Internal (non-Data)
// packages pass through unmodified: auth packages carry their own
// challenge-specific encryption, and everything else is plaintext control
// traffic.
type Encrypted struct {
	inner Channel
	aes   *tcpms.AesContext
}

// NewEncrypted wraps inner with aes.
func NewEncrypted(inner Channel, aes *tcpms.AesContext) *Encrypted {
	return &Encrypted{inner: inner, aes: aes}
}

// Send implements Channel.
func (e *Encrypted) Send(pkg *tcpms.Package) error {
	if pkg.Type != tcpms.PackageData || len(pkg.Payload) == 0 {
		return e.inner.Send(pkg)
	}
	ciphertext, err := e.aes.Encrypt(pkg.Payload)
	if err != nil {
		return tcpms.WrapProtocolError(tcpms.KindCannotWrite, "encrypt payload", err)
	}
	out := &tcpms.Package{Type: pkg.Type, DataType: pkg.DataType, Payload: ciphertext}
	return e.inner.Send(out)
}

// Recv implements Channel.
func (e *Encrypted) Recv(ctx context.Context) (*tcpms.Package, error) {
	pkg, err := e.inner.Recv(ctx)
	if err != nil {
		return nil, err
	}
	if pkg.Type != tcpms.PackageData || len(pkg.Payload) == 0 {
		return pkg, nil
	}
	plaintext, err := e.aes.Decrypt(pkg.Payload)
	if err != nil {
		return nil, tcpms.WrapProtocolError(tcpms.KindIncorrectPackage, "decrypt payload", err)
	}
	pkg.Payload = plaintext
	return pkg, nil
}

// Close implements Channel.
func (e *Encrypted) Close() error { return e.inner.Close() }

// Unwrap returns the Channel e wraps.
func (e *Encrypted) Unwrap() Channel { return e.inner }
