// Package crypt holds the pluggable collaborators the engine treats as
// black boxes: key hashing for shard selection and optional value
// encryption.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"hash/fnv"
	"io"
)

// KeyHasher maps a key to a 64-bit hash used for shard selection. The
// same key must always produce the same hash within a process.
type KeyHasher interface {
	Hash(key []byte) uint64
}

// Encrypter transforms value bytes before they hit disk.
type Encrypter interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(stored []byte) ([]byte, error)
}

// FnvHasher is the default KeyHasher (FNV-1a).
type FnvHasher struct{}

// Hash implements KeyHasher.
func (FnvHasher) Hash(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

// NoEncrypter stores values verbatim.
type NoEncrypter struct{}

// Encrypt implements Encrypter.
func (NoEncrypter) Encrypt(plain []byte) ([]byte, error) { return plain, nil }

// Decrypt implements Encrypter.
func (NoEncrypter) Decrypt(stored []byte) ([]byte, error) { return stored, nil }

// GcmEncrypter is an AES-GCM Encrypter. Stored form is nonce || ciphertext.
type GcmEncrypter struct {
	aead cipher.AEAD
}

// NewGcmEncrypter builds a GcmEncrypter from a 16, 24 or 32 byte key.
func NewGcmEncrypter(key []byte) (*GcmEncrypter, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	return &GcmEncrypter{aead: aead}, nil
}

// Encrypt implements Encrypter.
func (g *GcmEncrypter) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, g.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypt: nonce: %w", err)
	}
	return g.aead.Seal(nonce, nonce, plain, nil), nil
}

// Decrypt implements Encrypter.
func (g *GcmEncrypter) Decrypt(stored []byte) ([]byte, error) {
	ns := g.aead.NonceSize()
	if len(stored) < ns {
		return nil, fmt.Errorf("crypt: stored value shorter than nonce")
	}
	plain, err := g.aead.Open(nil, stored[:ns], stored[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("crypt: %w", err)
	}
	return plain, nil
}
