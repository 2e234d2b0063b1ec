package tcpms

import (
	"encoding/base64"

	"github.com/google/uuid"
)

// ClientSessionKeySize is the length, in bytes, of a ClientSessionKey.
const ClientSessionKeySize = 16

// ClientSessionKey is a server-generated identifier for a connected
// session: 16 random bytes, unique within the current set of connected
// clients. It is a fixed-size array rather than a slice so that two keys
// compare equal with ==, by value.
type ClientSessionKey [ClientSessionKeySize]byte

// NewClientSessionKey generates a fresh, random ClientSessionKey. The
// underlying randomness comes from a UUID version 4 generator, whose
// 16-byte payload is exactly the width this protocol specifies.
func NewClientSessionKey() (ClientSessionKey, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return ClientSessionKey{}, err
	}
	var key ClientSessionKey
	copy(key[:], id[:])
	return key, nil
}

// String renders k as URL-safe, unpadded base64 text, for diagnostics.
func (k ClientSessionKey) String() string {
	return base64.RawURLEncoding.EncodeToString(k[:])
}
