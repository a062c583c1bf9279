// Package cryptobox implements the Crypto Box (C4, spec.md §4.4): symmetric
// encryption of memory content at rest, keyed per-deployment rather than
// per-tenant. Built on golang.org/x/crypto/nacl/secretbox in the idiom
// hieuntg81-alfred-ai reaches for that package: a thin Seal/Open wrapper with
// a random nonce prepended to the ciphertext rather than carried out of band.
package cryptobox

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/hsgraph/hsg/pkg/errs"
)

// ErrDecryptFailed is returned when a ciphertext fails authentication, either
// because it was tampered with or encrypted under a different key.
var ErrDecryptFailed = errors.New("cryptobox: decryption failed")

const (
	keySize   = 32
	nonceSize = 24
)

// Key is a 32-byte symmetric key. Generate with GenerateKey or load from
// deployment configuration (spec.md §6 does not version keys: rotation is
// out of scope for the core engine).
type Key [keySize]byte

// GenerateKey returns a fresh random key suitable for Box.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return k, errs.Internal("cryptobox.GenerateKey", err)
	}
	return k, nil
}

// KeyFromBytes validates and wraps a raw 32-byte key.
func KeyFromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != keySize {
		return k, errs.Invalid("cryptobox.KeyFromBytes", errors.New("cryptobox: key must be 32 bytes"))
	}
	copy(k[:], b)
	return k, nil
}

// Box seals and opens memory content under a single shared-secret key.
type Box struct {
	key Key
}

// New returns a Box using key for all Seal/Open operations.
func New(key Key) *Box {
	return &Box{key: key}
}

// Seal encrypts plaintext, returning nonce||ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errs.Internal("cryptobox.Seal", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, (*[keySize]byte)(&b.key))
	return out, nil
}

// Open decrypts a nonce||ciphertext blob produced by Seal.
func (b *Box) Open(blob []byte) ([]byte, error) {
	if len(blob) < nonceSize {
		return nil, errs.Invalid("cryptobox.Open", ErrDecryptFailed)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	plaintext, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, (*[keySize]byte)(&b.key))
	if !ok {
		return nil, errs.Invalid("cryptobox.Open", ErrDecryptFailed)
	}
	return plaintext, nil
}

// SealString is a convenience wrapper for the common case of encrypting text
// memory content.
func (b *Box) SealString(plaintext string) ([]byte, error) {
	return b.Seal([]byte(plaintext))
}

// OpenString is the inverse of SealString.
func (b *Box) OpenString(blob []byte) (string, error) {
	pt, err := b.Open(blob)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
