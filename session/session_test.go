package session

import (
	"bytes"
	"testing"
)

func mustSession(t *testing.T) *Session {
	t.Helper()
	s, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestHandshakeSymmetry(t *testing.T) {
	a := mustSession(t)
	b := mustSession(t)

	if err := a.Derive(b.LocalPublic()); err != nil {
		t.Fatalf("a.Derive: %v", err)
	}
	if err := b.Derive(a.LocalPublic()); err != nil {
		t.Fatalf("b.Derive: %v", err)
	}

	sa, sb := a.Shared(), b.Shared()
	if sa != sb {
		t.Fatalf("shared secrets differ: %x vs %x", sa, sb)
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	a := mustSession(t)
	b := mustSession(t)
	must(t, a.Derive(b.LocalPublic()))
	must(t, b.Derive(a.LocalPublic()))

	plaintext := []byte("Hello, World!")
	ct, err := a.Wrap(plaintext)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	if len(ct) != len(plaintext)+TagSize {
		t.Fatalf("ciphertext length = %d, want %d", len(ct), len(plaintext)+TagSize)
	}

	pt, err := b.Unwrap(ct)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("plaintext mismatch: %q", pt)
	}

	if a.OutboundCounter() != 1 {
		t.Fatalf("a outbound counter = %d, want 1", a.OutboundCounter())
	}
	if b.InboundCounter() != 1 {
		t.Fatalf("b inbound counter = %d, want 1", b.InboundCounter())
	}
}

func TestMACRejectsTampering(t *testing.T) {
	a := mustSession(t)
	b := mustSession(t)
	must(t, a.Derive(b.LocalPublic()))
	must(t, b.Derive(a.LocalPublic()))

	ct, err := a.Wrap([]byte("tamper me"))
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	ct[len(ct)-TagSize+2] ^= 0xFF // flip a bit inside the MAC

	if _, err := b.Unwrap(ct); err != ErrMAC {
		t.Fatalf("expected ErrMAC, got %v", err)
	}
	if b.InboundCounter() != 0 {
		t.Fatalf("inbound counter advanced on MAC failure: %d", b.InboundCounter())
	}
}

func TestNonceMonotonicity(t *testing.T) {
	a := mustSession(t)
	b := mustSession(t)
	must(t, a.Derive(b.LocalPublic()))
	must(t, b.Derive(a.LocalPublic()))

	for i := uint64(0); i < 4; i++ {
		before := a.OutboundCounter()
		if before != i {
			t.Fatalf("frame %d: outbound counter = %d", i, before)
		}
		n := nonce(before)
		var want [8]byte
		for j := 0; j < 8; j++ {
			want[j] = byte(i >> (8 * j))
		}
		if !bytes.Equal(n[:8], want[:]) {
			t.Fatalf("frame %d: nonce prefix = %x, want %x", i, n[:8], want)
		}
		if _, err := a.Wrap([]byte("x")); err != nil {
			t.Fatalf("Wrap: %v", err)
		}
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
