// Package auth authenticates juxtapose token payloads with a keyed BLAKE3 MAC.
package auth

import (
	"crypto/subtle"

	"github.com/zeebo/blake3"
)

// KeyContext is the BLAKE3 derive_key context for the juxtapose MAC key.
// Changing it invalidates every issued link, which is how the key is rotated.
const KeyContext = "utilBOT 2023-10-15 12:11:06 juxtapose MAC v1"

const (
	KeySize = 32
	MACSize = 16
)

// Key is the per-deployment MAC key.
type Key [KeySize]byte

// MAC is a truncated keyed digest of a token payload.
type MAC [MACSize]byte

// DeriveKey turns operator-supplied key material into a MAC key.
func DeriveKey(material string) Key {
	var key Key
	blake3.DeriveKey(KeyContext, []byte(material), key[:])
	return key
}

// Authenticator computes and checks MACs under a single key. It is safe for
// concurrent use.
type Authenticator struct {
	key Key
}

// NewAuthenticator returns an Authenticator for key.
func NewAuthenticator(key Key) *Authenticator {
	return &Authenticator{key: key}
}

// Sum returns the MAC of payload: the first MACSize bytes of the keyed XOF.
func (a *Authenticator) Sum(payload []byte) MAC {
	// NewKeyed only fails on a key that is not 32 bytes, which Key rules out.
	hasher, err := blake3.NewKeyed(a.key[:])
	if err != nil {
		panic("auth: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)

	var mac MAC
	hasher.Digest().Read(mac[:])
	return mac
}

// Verify reports whether candidate is the MAC of payload. The comparison
// runs in constant time with respect to the candidate's content.
func (a *Authenticator) Verify(payload, candidate []byte) bool {
	if len(candidate) != MACSize {
		return false
	}
	expected := a.Sum(payload)
	return subtle.ConstantTimeCompare(expected[:], candidate) == 1
}
