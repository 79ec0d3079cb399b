package chain

import (
	"math/big"
	"time"
)

// ParticipationBitmap selects which of the NumDelegates public keys were
// aggregated into a threshold signature.
type ParticipationBitmap [NumDelegates]bool

// Count returns how many delegates are marked present in the bitmap.
func (p ParticipationBitmap) Count() int {
	n := 0
	for _, b := range p {
		if b {
			n++
		}
	}
	return n
}

// AggregatedSignature bundles a BLS aggregate signature with the
// participation bitmap selecting which public keys it aggregates.
type AggregatedSignature struct {
	Signature     [96]byte
	Participation ParticipationBitmap
}

// RequestBlock (R) is one delegate's batch of up to BatchSize requests,
// one chain per delegate.
type RequestBlock struct {
	Previous         Hash
	Epoch            uint32
	Sequence         uint32
	Timestamp        time.Time
	PrimaryDelegate  uint8
	Requests         []*Request
	Signature        AggregatedSignature
}

// Digest is the RequestBlock's content hash, its identity on the chain.
func (b *RequestBlock) Digest() Hash { return CanonicalHash(b) }

// Tip returns the tip this block becomes once committed.
func (b *RequestBlock) Tip() Tip {
	return Tip{Epoch: b.Epoch, Sequence: b.Sequence, Digest: b.Digest()}
}

// MicroBlock (M) pins every delegate's R-chain tip at a cut point,
// forming the single totally-ordered spine of the ledger.
type MicroBlock struct {
	Previous  Hash
	Epoch     uint32
	Sequence  uint32
	Timestamp time.Time
	Tips      BatchTips
	LastMicro bool
	Signature AggregatedSignature
}

func (m *MicroBlock) Digest() Hash { return CanonicalHash(m) }

func (m *MicroBlock) Tip() Tip {
	return Tip{Epoch: m.Epoch, Sequence: m.Sequence, Digest: m.Digest()}
}

// ElectedDelegate is one member of the delegate set an EpochBlock elects
// for the following epoch.
type ElectedDelegate struct {
	Account Address
	Weight  uint64
	Stake   uint64
}

// EpochBlock (E) closes an epoch, electing the next delegate set.
type EpochBlock struct {
	Previous           Hash
	Epoch              uint32
	ClosingMicroTip    Tip
	NextDelegates      [NumDelegates]ElectedDelegate
	TransactionFeePool *big.Int
	TotalSupply        *big.Int
	Signature          AggregatedSignature
}

func (e *EpochBlock) Digest() Hash { return CanonicalHash(e) }

func (e *EpochBlock) Tip() Tip {
	return Tip{Epoch: e.Epoch, Sequence: 0, Digest: e.Digest()}
}
