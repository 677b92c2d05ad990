package session

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
)

// KeySize is the size, in bytes, of an X25519 private scalar or public
// point.
const KeySize = 32

// PrivateKey is a 32-byte Curve25519 scalar. The zero value is not a valid
// key; always obtain one through newPrivateKey.
type PrivateKey [KeySize]byte

// PublicKey is a 32-byte Curve25519 point.
type PublicKey [KeySize]byte

var errRandom = errors.New("session: failed to read platform RNG")

// newPrivateKey draws KeySize random bytes from the platform's
// cryptographic RNG (crypto/rand, backed by BCryptGenRandom on Windows and
// /dev/urandom-equivalent getrandom on Unix) and clamps them per the
// Curve25519 scalar convention.
func newPrivateKey() (PrivateKey, error) {
	var sk PrivateKey
	if _, err := rand.Read(sk[:]); err != nil {
		return PrivateKey{}, errRandom
	}
	sk[0] &= 248
	sk[31] = (sk[31] & 127) | 64
	return sk, nil
}

// publicKey computes the fixed-base scalar multiplication X25519_base(sk).
func (sk PrivateKey) publicKey() PublicKey {
	var pk PublicKey
	curve25519.ScalarBaseMult((*[KeySize]byte)(&pk), (*[KeySize]byte)(&sk))
	return pk
}

// sharedSecret computes the variable-base scalar multiplication
// X25519(sk, peer).
func (sk PrivateKey) sharedSecret(peer PublicKey) ([KeySize]byte, error) {
	var out [KeySize]byte
	dst, err := curve25519.X25519(sk[:], peer[:])
	if err != nil {
		return out, err
	}
	copy(out[:], dst)
	return out, nil
}

func setZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
