package wire

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// CanonicalHash computes blake2b(canonical_bytes) of v, where
// canonical_bytes is v's RLP encoding; every consensus message carries a
// BLS signature over this digest. blake2b-256 is used directly from
// golang.org/x/crypto rather than go-ethereum's keccak256, since this is
// not an EVM-compatible chain.
func CanonicalHash(v interface{}) common.Hash {
	enc, err := Encode(v)
	if err != nil {
		// Encode only fails on unsupported field types, which is a
		// programming error caught in tests, not a runtime condition.
		panic("wire: canonical encode failed: " + err.Error())
	}
	return blake2b.Sum256(enc)
}
