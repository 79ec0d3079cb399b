package consensus

import "time"

// Validator is the capability a ChainKind-specific persistence layer
// must provide to let the engine validate an incoming PrePrepare.
// A non-nil error marks the PrePrepare as rejected; the RejectionReason
// (and, for RejectionContainsInvalidRequest, the per-request bitmap)
// returned alongside it tells the backup which wire Rejection to send.
type Validator interface {
	ValidatePrePrepare(kind ChainKind, p Proposal, primary uint8, timestamp time.Time) (RejectionReason, []bool, error)
}

// Applier is the capability that commits a post-committed proposal to
// the persistent store and hands it to the pending-block cache.
type Applier interface {
	Apply(kind ChainKind, p Proposal) error
}

// Batcher is the primary-side capability producing the next proposal to
// drive through consensus.
type Batcher interface {
	NextProposal(kind ChainKind) (Proposal, bool)
	// Restore returns an uncommitted proposal to the head of whatever
	// queue produced it, used on reproposal after a rejected batch.
	Restore(kind ChainKind, p Proposal)
}
