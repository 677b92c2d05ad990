// Package session implements the crypto layer: an ephemeral X25519 key
// pair, a BLAKE2b-256 derived shared secret, and the per-direction
// monotonic-counter nonces used to wrap and unwrap application packets
// under XChaCha20-Poly1305.
package session

import (
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the size of the AEAD nonce: an 8-byte little-endian counter
// followed by 16 zero bytes.
const NonceSize = chacha20poly1305.NonceSizeX

// TagSize is the size of the AEAD authenticator appended on wrap.
const TagSize = chacha20poly1305.Overhead

// ErrNotDerived is returned by Wrap/Unwrap before Derive has established a
// shared secret.
var ErrNotDerived = errors.New("session: shared secret not yet derived")

// ErrMAC is returned by Unwrap when the authenticator does not verify. The
// session must be killed; the inbound counter does not advance.
var ErrMAC = errors.New("session: MAC verification failed")

// Session owns one side of a Diffie-Hellman key agreement and the two
// directional counters derived from it. The zero value is not usable;
// construct with New.
type Session struct {
	private PrivateKey
	public  PublicKey

	shared      [32]byte
	sharedValid bool
	aead        cipher.AEAD

	outboundCounter uint64
	inboundCounter  uint64
}

// New draws a fresh ephemeral key pair. The public key must be sent to the
// peer as the handshake payload.
func New() (*Session, error) {
	sk, err := newPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Session{
		private: sk,
		public:  sk.publicKey(),
	}, nil
}

// LocalPublic returns the local ephemeral public key, to be sent in the
// handshake frame.
func (s *Session) LocalPublic() PublicKey {
	return s.public
}

// Derive computes the shared secret from the peer's public key:
// dh = X25519(private, peerPublic); shared = BLAKE2b_256(dh). The DH
// intermediate is zeroed before returning.
func (s *Session) Derive(peerPublic PublicKey) error {
	dh, err := s.private.sharedSecret(peerPublic)
	if err != nil {
		return err
	}
	sum := blake2b.Sum256(dh[:])
	setZero(dh[:])

	s.shared = sum
	aead, err := chacha20poly1305.NewX(s.shared[:])
	if err != nil {
		return err
	}
	s.aead = aead
	s.sharedValid = true
	return nil
}

// SharedValid reports whether Derive has completed successfully.
func (s *Session) SharedValid() bool {
	return s.sharedValid
}

// Shared returns a copy of the 32-byte derived secret, for the handshake
// symmetry test property. Callers must not rely on this outside tests.
func (s *Session) Shared() [32]byte {
	return s.shared
}

// nonce constructs the 24-byte AEAD nonce for the given direction counter:
// little-endian counter in the first 8 bytes, 16 zero bytes after.
func nonce(counter uint64) [NonceSize]byte {
	var n [NonceSize]byte
	for i := 0; i < 8; i++ {
		n[i] = byte(counter >> (8 * i))
	}
	return n
}

// OutboundCounter returns the current outbound frame counter (the value
// that will be used by the next Wrap).
func (s *Session) OutboundCounter() uint64 {
	return s.outboundCounter
}

// InboundCounter returns the current inbound frame counter (the value
// expected on the next successfully verified Unwrap).
func (s *Session) InboundCounter() uint64 {
	return s.inboundCounter
}

// Wrap encrypts plaintext under the current outbound nonce and returns the
// ciphertext with its trailing authenticator in a newly allocated slice;
// plaintext itself is not modified (encryption is not in place). The outbound
// counter advances by exactly one, regardless of what the caller later
// does with the returned bytes — spec.md ties the advance to "handed to
// the stream engine for transmission", which the caller is expected to do
// immediately after a successful Wrap.
func (s *Session) Wrap(plaintext []byte) ([]byte, error) {
	if !s.sharedValid {
		return nil, ErrNotDerived
	}
	n := nonce(s.outboundCounter)
	out := s.aead.Seal(nil, n[:], plaintext, nil)
	s.outboundCounter++
	return out, nil
}

// Unwrap decrypts ciphertext (which must include the trailing
// authenticator) under the current inbound nonce. On success it returns
// the plaintext and advances the inbound counter by exactly one. On MAC
// failure it returns ErrMAC and leaves the inbound counter untouched; the
// caller must treat the session as fatally broken.
func (s *Session) Unwrap(ciphertext []byte) ([]byte, error) {
	if !s.sharedValid {
		return nil, ErrNotDerived
	}
	n := nonce(s.inboundCounter)
	plaintext, err := s.aead.Open(nil, n[:], ciphertext, nil)
	if err != nil {
		return nil, ErrMAC
	}
	s.inboundCounter++
	return plaintext, nil
}

// Close overwrites the private key and the derived shared secret with zeros
// and marks the session unusable for Wrap/Unwrap. The copy of the key held
// inside the AEAD instance is not overwritten. Callers must call this
// exactly once when the session's owning peer is destroyed.
func (s *Session) Close() {
	setZero(s.private[:])
	setZero(s.shared[:])
	s.sharedValid = false
}
