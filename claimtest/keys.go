/*
Package claimtest provides helpers for testing escrow components against a
simulated ledger.
*/
package claimtest

import (
	"bytes"
	"testing"

	"github.com/iov-one/claimsend"
	"github.com/iov-one/claimsend/ledger"
	"github.com/iov-one/claimsend/policy"
)

// Key returns a key derived from a seed filled with n. The same n always
// returns the same key.
func Key(t testing.TB, n byte) *ledger.KeySigner {
	t.Helper()
	k, err := ledger.NewKeySigner(bytes.Repeat([]byte{n}, 32))
	if err != nil {
		t.Fatalf("cannot create key: %s", err)
	}
	return k
}

// NewKey returns a random key.
func NewKey(t testing.TB) *ledger.KeySigner {
	t.Helper()
	k, err := ledger.GenerateKeySigner(nil)
	if err != nil {
		t.Fatalf("cannot generate key: %s", err)
	}
	return k
}

// Nonce returns a nonce filled with n.
func Nonce(n byte) []byte {
	return bytes.Repeat([]byte{n}, policy.NonceSize)
}

// ParseAddress returns the binary form of an address in text form.
func ParseAddress(t testing.TB, encoded string) claimsend.Address {
	t.Helper()
	addr, err := claimsend.ParseAddress(encoded)
	if err != nil {
		t.Fatalf("cannot parse %q address: %s", encoded, err)
	}
	return addr
}
