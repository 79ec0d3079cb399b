package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Hash is a content digest: blake2b(canonical_bytes) of some consensus
// object. Reusing go-ethereum's fixed-width common.Hash avoids hand
// rolling a 32-byte array type with its own hex/JSON marshaling.
type Hash = common.Hash

// Address identifies an account. Accounts in this system are 32-byte
// public keys, not the 20-byte addresses go-ethereum uses, so Address is
// aliased to the wider common.Hash rather than common.Address.
type Address = common.Hash

// Tip identifies the head of a chain: (epoch, sequence, digest). Tips are
// ordered lexicographically by (epoch, sequence) with the rule that a
// zero-sequence/zero-digest tip is strictly less than any non-zero
// same-epoch tip.
type Tip struct {
	Epoch    uint32
	Sequence uint32
	Digest   Hash
}

// IsZero reports whether t is the sentinel zero tip used at the start of
// a fresh delegate chain.
func (t Tip) IsZero() bool {
	return t.Sequence == 0 && t.Digest == (Hash{})
}

// Less reports whether t precedes other in tip order.
func (t Tip) Less(other Tip) bool {
	if t.Epoch != other.Epoch {
		return t.Epoch < other.Epoch
	}
	if t.IsZero() && !other.IsZero() {
		return true
	}
	if other.IsZero() {
		return false
	}
	return t.Sequence < other.Sequence
}

// GreaterOrEqual reports whether t is >= other in tip order, the relation
// the M-block and E-block monotonicity invariants are stated in terms of.
func (t Tip) GreaterOrEqual(other Tip) bool {
	return !t.Less(other)
}

func (t Tip) String() string {
	return fmt.Sprintf("(epoch=%d seq=%d digest=%s)", t.Epoch, t.Sequence, t.Digest.Hex())
}

// BatchTips is the fixed 32-tip vector a MicroBlock pins: one R-chain
// tip per delegate.
type BatchTips [NumDelegates]Tip
