// Package bls wraps BLS12-381 signing, verification, and aggregation on
// top of github.com/supranational/blst, the same BLS library
// go-ethereum's own beacon-chain tooling uses. Every consensus message
// carries a BLS signature over blake2b(canonical_bytes), and a quorum's
// worth of partial signatures aggregate into one signature verifiable
// against the aggregate of the signers' public keys, selected by a
// participation bitmap.
package bls

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

// domainSeparationTag is the ciphersuite identifier mixed into every
// hash-to-curve operation, per the IETF BLS signature draft's
// min-pubkey-size variant (48-byte G1 public keys, 96-byte G2
// signatures).
var domainSeparationTag = []byte("DELEGATECHAIN_BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_")

// PublicKey is a compressed 48-byte G1 point.
type PublicKey [48]byte

// Signature is a compressed 96-byte G2 point.
type Signature [96]byte

// SecretKey is a delegate's BLS signing key.
type SecretKey struct {
	sk *blst.SecretKey
}

// ErrInvalidKey is returned when parsing a secret key's random seed
// fails, which only happens if the seed material is too short.
var ErrInvalidKey = errors.New("bls: invalid key material")

// GenerateSecretKey derives a secret key deterministically from ikm
// (at least 32 bytes of entropy), the same key-generation entry point
// blst exposes for threshold/derivation setups.
func GenerateSecretKey(ikm []byte) (*SecretKey, error) {
	if len(ikm) < 32 {
		return nil, ErrInvalidKey
	}
	sk := blst.KeyGen(ikm)
	if sk == nil {
		return nil, ErrInvalidKey
	}
	return &SecretKey{sk: sk}, nil
}

// PublicKey returns the public key corresponding to sk.
func (sk *SecretKey) PublicKey() PublicKey {
	pk := new(blst.P1Affine).From(sk.sk)
	var out PublicKey
	copy(out[:], pk.Compress())
	return out
}

// Sign signs msg (already the blake2b canonical hash of a consensus
// message) and returns the resulting signature.
func (sk *SecretKey) Sign(msg []byte) Signature {
	sig := new(blst.P2Affine).Sign(sk.sk, msg, domainSeparationTag)
	var out Signature
	copy(out[:], sig.Compress())
	return out
}

// Verify checks a single signature against a single public key and
// message.
func Verify(pk PublicKey, msg []byte, sig Signature) bool {
	pkAffine := new(blst.P1Affine).Uncompress(pk[:])
	sigAffine := new(blst.P2Affine).Uncompress(sig[:])
	if pkAffine == nil || sigAffine == nil {
		return false
	}
	return sigAffine.Verify(true, pkAffine, true, msg, domainSeparationTag)
}

// Aggregate combines k partial signatures, all over the same message,
// into a single aggregate signature. Aggregating k valid partials and
// verifying against the correspondingly aggregated public key succeeds
// iff every partial verifies individually, so callers are expected to
// have already checked each partial (see Engine's Prepare/Commit
// collection loop) — this function does no redundant per-signature
// verification.
func Aggregate(sigs []Signature) (Signature, error) {
	if len(sigs) == 0 {
		return Signature{}, errors.New("bls: cannot aggregate zero signatures")
	}
	agg := new(blst.P2Aggregate)
	affines := make([]*blst.P2Affine, 0, len(sigs))
	for i := range sigs {
		a := new(blst.P2Affine).Uncompress(sigs[i][:])
		if a == nil {
			return Signature{}, errors.New("bls: invalid signature in aggregation set")
		}
		affines = append(affines, a)
	}
	if !agg.Aggregate(affines, true) {
		return Signature{}, errors.New("bls: aggregation failed")
	}
	var out Signature
	copy(out[:], agg.ToAffine().Compress())
	return out, nil
}

// AggregatePublicKeys combines the public keys selected by the
// participation bitmap into a single aggregated public key, used to
// verify a PostPrepare/PostCommit aggregate signature.
func AggregatePublicKeys(pks []PublicKey) (PublicKey, error) {
	if len(pks) == 0 {
		return PublicKey{}, errors.New("bls: cannot aggregate zero public keys")
	}
	agg := new(blst.P1Aggregate)
	affines := make([]*blst.P1Affine, 0, len(pks))
	for i := range pks {
		a := new(blst.P1Affine).Uncompress(pks[i][:])
		if a == nil {
			return PublicKey{}, errors.New("bls: invalid public key in aggregation set")
		}
		affines = append(affines, a)
	}
	if !agg.Aggregate(affines, true) {
		return PublicKey{}, errors.New("bls: aggregation failed")
	}
	var out PublicKey
	copy(out[:], agg.ToAffine().Compress())
	return out, nil
}

// VerifyAggregate verifies an aggregate signature against an aggregate
// public key and the shared message both partials signed over.
func VerifyAggregate(aggPK PublicKey, msg []byte, aggSig Signature) bool {
	return Verify(aggPK, msg, aggSig)
}
