package crypt

import (
	"bytes"
	"testing"
)

func TestFnvHasherStable(t *testing.T) {
	h := FnvHasher{}
	a := h.Hash([]byte("alpha"))
	if a != h.Hash([]byte("alpha")) {
		t.Fatalf("hash not stable")
	}
	if a == h.Hash([]byte("beta")) {
		t.Fatalf("distinct keys should not collide here")
	}
}

func TestNoEncrypterPassThrough(t *testing.T) {
	e := NoEncrypter{}
	in := []byte("plain")
	out, err := e.Encrypt(in)
	if err != nil || !bytes.Equal(out, in) {
		t.Fatalf("encrypt: %v %q", err, out)
	}
	back, err := e.Decrypt(out)
	if err != nil || !bytes.Equal(back, in) {
		t.Fatalf("decrypt: %v %q", err, back)
	}
}

func TestGcmRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 32)
	e, err := NewGcmEncrypter(key)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	plain := []byte("secret value")
	stored, err := e.Encrypt(plain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(stored, plain) {
		t.Fatalf("ciphertext contains plaintext")
	}
	back, err := e.Decrypt(stored)
	if err != nil || !bytes.Equal(back, plain) {
		t.Fatalf("decrypt: %v %q", err, back)
	}

	stored[len(stored)-1] ^= 0xff
	if _, err := e.Decrypt(stored); err == nil {
		t.Fatalf("tampered ciphertext should fail")
	}
}

func TestGcmRejectsBadKey(t *testing.T) {
	if _, err := NewGcmEncrypter([]byte("short")); err == nil {
		t.Fatalf("expected key-size error")
	}
}
