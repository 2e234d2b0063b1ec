package tcpms

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	cryptorand "crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// MinSaltSize is the minimum salt length an AesContext accepts.
const MinSaltSize = 16

// IVSize is the AES block size, and so the IV size, used by every
// AesContext.
const IVSize = aes.BlockSize

const (
	pbkdf2Iterations = 100_000
	aesKeySize       = 32 // AES-256
)

// AesContext derives an AES key from a password and salt, and
// encrypts/decrypts byte blobs with that key and its IV. Its key is derived once
// at construction and is read-only for the context's lifetime.
type AesContext struct {
	Password string
	Salt     []byte
	IV       []byte
	key      []byte
}

// NewAesContext derives an AesContext from password using salt and iv,
// which the caller supplies (e.g. freshly generated by SecureRandomBytes,
// or received from the peer during a handshake step).
func NewAesContext(password string, salt, iv []byte) (*AesContext, error) {
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt too short (%d < %d bytes)", len(salt), MinSaltSize)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv must be %d bytes, got %d", IVSize, len(iv))
	}
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeySize, sha512.New)
	return &AesContext{Password: password, Salt: salt, IV: iv, key: key}, nil
}

// NewAesContextFresh derives an AesContext from password with a freshly
// generated salt and IV.
func NewAesContextFresh(password string) (*AesContext, error) {
	salt, err := SecureRandomBytes(MinSaltSize)
	if err != nil {
		return nil, err
	}
	iv, err := SecureRandomBytes(IVSize)
	if err != nil {
		return nil, err
	}
	return NewAesContext(password, salt, iv)
}

// Encrypt encrypts plaintext with AES-CBC and PKCS#7 padding.
func (c *AesContext) Encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.IV).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decrypt decrypts ciphertext produced by Encrypt.
func (c *AesContext) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a multiple of block size %d", len(ciphertext), block.BlockSize())
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.IV).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("invalid pkcs7 padding")
	}
	return data[:len(data)-padLen], nil
}

// Digest returns the SHA-512 digest of data.
func Digest(data []byte) []byte {
	sum := sha512.Sum512(data)
	return sum[:]
}

// SecureRandomBytes returns n cryptographically random bytes.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(cryptorand.Reader, b); err != nil {
		return nil, fmt.Errorf("secure random bytes: %w", err)
	}
	return b, nil
}

// RandIntN returns a random integer in [0, n), drawn from the same
// crypto/rand source as SecureRandomBytes. There is no process-wide RNG
// anywhere in this package; every caller that needs randomness, including
// validation's probe-length and echo-index choices, goes through here or
// SecureRandomBytes.
func RandIntN(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("random int: n must be positive, got %d", n)
	}
	v, err := cryptorand.Int(cryptorand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("random int: %w", err)
	}
	return int(v.Int64()), nil
}
