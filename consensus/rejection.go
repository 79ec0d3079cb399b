package consensus

import (
	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/chain"
	mapset "github.com/deckarep/golang-set/v2"
)

// RejectionReason enumerates why a backup rejects a PrePrepare.
type RejectionReason uint8

const (
	RejectionClockDrift RejectionReason = iota
	RejectionContainsInvalidRequest
	RejectionBadSignature
	RejectionInvalidPreviousHash
	RejectionWrongSequenceNumber
	RejectionInvalidEpoch
	RejectionNewEpoch
)

func (r RejectionReason) String() string {
	names := [...]string{
		"ClockDrift", "ContainsInvalidRequest", "BadSignature",
		"InvalidPreviousHash", "WrongSequenceNumber", "InvalidEpoch", "NewEpoch",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "Unknown"
}

// Recoverable reports whether the primary can re-propose after this
// rejection reason by excising the offending requests, rather than
// abandoning the whole batch: only ContainsInvalidRequest names specific
// bad entries within the batch, so it is the only reason that can be
// fixed by editing the batch instead of discarding it.
func (r RejectionReason) Recoverable() bool {
	return r == RejectionContainsInvalidRequest
}

// RejectionMessage is a backup's vote to reject an in-flight PrePrepare.
type RejectionMessage struct {
	PrePrepareDigest chain.Hash
	Reason           RejectionReason
	// BadRequests bitmaps which requests within the batch are invalid,
	// meaningful only when Reason == RejectionContainsInvalidRequest.
	BadRequests []bool
	DelegateID  uint8
	Signature   bls.Signature
}

// rejectionTally accumulates rejection stake per reason for one in-flight
// proposal, so the primary can tell when a reason has become
// quorum-blocking.
type rejectionTally struct {
	stakeByReason map[RejectionReason]uint64
	seen          mapset.Set[uint8]
}

func newRejectionTally() *rejectionTally {
	return &rejectionTally{
		stakeByReason: make(map[RejectionReason]uint64),
		seen:          mapset.NewThreadUnsafeSet[uint8](),
	}
}

// Add records delegateID's rejection weight under reason. Returns false
// if this delegate already voted (rejections, like prepares and commits,
// count each delegate once).
func (t *rejectionTally) Add(delegateID uint8, weight uint64, reason RejectionReason) bool {
	if !t.seen.Add(delegateID) {
		return false
	}
	t.stakeByReason[reason] += weight
	return true
}

// Blocking returns the first reason (in enumeration order) whose
// accumulated stake is quorum-blocking against totalStake, or ok=false
// if none is yet.
func (t *rejectionTally) Blocking(totalStake uint64) (reason RejectionReason, ok bool) {
	for r := RejectionClockDrift; r <= RejectionNewEpoch; r++ {
		if QuorumBlocking(t.stakeByReason[r], totalStake) {
			return r, true
		}
	}
	return 0, false
}
