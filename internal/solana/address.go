package solana

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// DecodeAddress base58-decodes a Solana address and checks that it is a
// 32-byte public key.
func DecodeAddress(addr string) ([]byte, bool) {
	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		return nil, false
	}
	return raw, true
}

// ValidAddress reports whether addr is a well-formed Solana address.
func ValidAddress(addr string) bool {
	_, ok := DecodeAddress(addr)
	return ok
}

// IsOnCurve reports whether the address is a point on the ed25519 curve.
// User wallets are keypair addresses and always on the curve; program
// derived accounts (pool vaults, authorities) are constructed off the curve.
// This separates human holders from protocol plumbing without an RPC call.
func IsOnCurve(addr string) bool {
	raw, ok := DecodeAddress(addr)
	if !ok {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(raw)
	return err == nil
}
