package consensus

import (
	"time"

	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/chain"
)

// PrePrepareMessage is the primary's proposal broadcast.
type PrePrepareMessage struct {
	Kind      ChainKind
	Epoch     uint32
	Sequence  uint32
	Timestamp time.Time
	Primary   uint8
	Digest    chain.Hash
	Proposal  Proposal
}

// PrepareMessage is a backup's partial signature over a PrePrepare
// digest, sent only to the primary (not broadcast).
type PrepareMessage struct {
	Kind       ChainKind
	Digest     chain.Hash
	DelegateID uint8
	Partial    bls.Signature
}

// PostPrepareMessage is the primary's aggregated Prepare quorum,
// broadcast to all backups.
type PostPrepareMessage struct {
	Kind          ChainKind
	Digest        chain.Hash
	Signature     bls.Signature
	Participation chain.ParticipationBitmap
}

// CommitMessage is a backup's partial signature confirming PostPrepare,
// sent only to the primary.
type CommitMessage struct {
	Kind       ChainKind
	Digest     chain.Hash
	DelegateID uint8
	Partial    bls.Signature
}

// PostCommitMessage is the primary's aggregated Commit quorum, broadcast
// to all delegates, and the signal to apply the block and hand it to the
// pending-block cache.
type PostCommitMessage struct {
	Kind          ChainKind
	Digest        chain.Hash
	Signature     bls.Signature
	Participation chain.ParticipationBitmap
}
