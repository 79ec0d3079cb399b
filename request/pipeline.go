// Package request implements the admission and batching pipeline that
// turns submitted Requests into RequestBlock proposals for the
// consensus engine: deduplication, fee and reservation checks, and
// FIFO batching bounded by chain.BatchSize.
package request

import (
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
)

// SubmitResult is the outcome of admitting a single Request.
type SubmitResult uint8

const (
	Accepted SubmitResult = iota
	Duplicate
	InsufficientFee
	BurnAccount
	Reserved
	UnknownOrigin
	InsufficientBalance
)

func (r SubmitResult) String() string {
	names := [...]string{
		"Accepted", "Duplicate", "InsufficientFee", "BurnAccount",
		"Reserved", "UnknownOrigin", "InsufficientBalance",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "Unknown"
}

// burnAddress is the sentinel origin that can never submit requests: the
// zero address, used as the destination for permanently retired funds.
var burnAddress chain.Address

// AccountSource looks up the current ledger state for a request's origin
// account. Persistence implements this.
type AccountSource interface {
	Account(addr chain.Address) (*chain.Account, bool)
}

// Pipeline holds requests admitted but not yet committed: a pending FIFO
// queue, a dedup index by hash, and the slice currently handed out as an
// in-flight batch awaiting consensus.
type Pipeline struct {
	accounts  AccountSource
	delegate  uint8
	now       func() time.Time

	previous chain.Hash
	epoch    uint32
	sequence uint32

	pending []*chain.Request
	inFlow  []*chain.Request
	seen    map[chain.Hash]bool
}

// NewPipeline returns an empty pipeline for delegateID's R-chain, backed
// by accounts for reservation and balance checks.
func NewPipeline(accounts AccountSource, delegateID uint8, epoch uint32, now func() time.Time) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		accounts: accounts,
		delegate: delegateID,
		now:      now,
		epoch:    epoch,
		seen:     make(map[chain.Hash]bool),
	}
}

// Submit validates req and, if accepted, appends it to the pending
// queue. currentEpoch is used to evaluate reservation expiry.
func (p *Pipeline) Submit(req *chain.Request, currentEpoch uint32) SubmitResult {
	hash := req.Hash()
	if p.seen[hash] {
		return Duplicate
	}
	if req.Origin == burnAddress {
		return BurnAccount
	}
	if req.Fee == nil || req.Fee.Cmp(chain.MinTransactionFee) < 0 {
		return InsufficientFee
	}

	acct, ok := p.accounts.Account(req.Origin)
	if !ok {
		return UnknownOrigin
	}
	if acct.Reservation != nil && !acct.Reservation.Expired(currentEpoch) && acct.Reservation.Hash != hash {
		return Reserved
	}
	if !acct.CanDebit(req.TotalDebit()) {
		return InsufficientBalance
	}

	p.seen[hash] = true
	p.pending = append(p.pending, req)
	return Accepted
}

// Contains reports whether hash has already been admitted and is still
// pending or in flight. OnPostCommit and ExciseInvalid drop a request's
// hash, so a committed request is no longer reported.
func (p *Pipeline) Contains(hash chain.Hash) bool {
	return p.seen[hash]
}

// NextProposal implements consensus.Batcher: it hands out the current
// in-flight batch if one is already outstanding (a reproposal after a
// recoverable rejection reuses the same requests minus whatever was
// excised), or else acquires up to chain.BatchSize requests from the
// pending queue.
func (p *Pipeline) NextProposal(kind consensus.ChainKind) (consensus.Proposal, bool) {
	if kind != consensus.ChainRequest {
		return nil, false
	}
	if len(p.inFlow) == 0 {
		n := chain.BatchSize
		if n > len(p.pending) {
			n = len(p.pending)
		}
		if n == 0 {
			return nil, false
		}
		p.inFlow = append(p.inFlow, p.pending[:n]...)
		p.pending = p.pending[n:]
	}
	return consensus.RequestProposal{Block: &chain.RequestBlock{
		Previous:        p.previous,
		Epoch:           p.epoch,
		Sequence:        p.sequence,
		Timestamp:       p.now(),
		PrimaryDelegate: p.delegate,
		Requests:        append([]*chain.Request(nil), p.inFlow...),
	}}, true
}

// Restore returns an uncommitted batch to the head of the pending queue,
// used when the primary abandons a batch after a non-recoverable
// rejection quorum.
func (p *Pipeline) Restore(kind consensus.ChainKind, proposal consensus.Proposal) {
	if kind != consensus.ChainRequest {
		return
	}
	rp, ok := proposal.(consensus.RequestProposal)
	if !ok {
		return
	}
	p.pending = append(append([]*chain.Request(nil), rp.Block.Requests...), p.pending...)
	p.inFlow = nil
}

// ExciseInvalid drops the requests flagged bad (by index) from the
// in-flight batch, used when a primary re-proposes after a
// RejectionContainsInvalidRequest quorum.
func (p *Pipeline) ExciseInvalid(bad []bool) {
	kept := p.inFlow[:0:0]
	for i, r := range p.inFlow {
		if i < len(bad) && bad[i] {
			delete(p.seen, r.Hash())
			continue
		}
		kept = append(kept, r)
	}
	p.inFlow = kept
}

// OnPostCommit clears the committed batch's requests from the in-flight
// slice and dedup index, and advances the chain head so the next
// proposal links to this one.
func (p *Pipeline) OnPostCommit(block *chain.RequestBlock) {
	for _, r := range block.Requests {
		delete(p.seen, r.Hash())
	}
	p.inFlow = nil
	p.previous = block.Digest()
	p.sequence = block.Sequence + 1
}

// OnEpochAdvance resets the epoch counter a proposal is stamped with,
// called when this delegate's chain crosses into a new epoch.
func (p *Pipeline) OnEpochAdvance(epoch uint32) {
	p.epoch = epoch
}

// Empty reports whether there is nothing pending or in flight.
func (p *Pipeline) Empty() bool {
	return len(p.pending) == 0 && len(p.inFlow) == 0
}
