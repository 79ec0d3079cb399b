package consensus

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/chain"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// ProposalRetry bounds how many proposal attempts a primary makes for a
// batch, counting the first one, before giving up and yielding the batch
// to whatever promotes a secondary proposer.
const ProposalRetry = 5

var (
	// ErrWrongPhase is returned when a message arrives that does not fit
	// the engine's current phase (a stale retransmission, or a message
	// for a digest the engine has already moved past).
	ErrWrongPhase = errors.New("consensus: message does not match current phase")
	// ErrUnknownDelegate is returned for a message from a delegate id not
	// present in the engine's stake table.
	ErrUnknownDelegate = errors.New("consensus: unknown delegate id")
	// ErrWrongPrimary is returned when a PrePrepare's claimed primary does
	// not match the rotation schedule for its (epoch, sequence).
	ErrWrongPrimary    = errors.New("consensus: primary does not match rotation for this round")
	ErrBadPartialSig   = errors.New("consensus: partial signature does not verify")
	ErrBadAggregateSig = errors.New("consensus: aggregate signature does not verify")
	ErrDuplicateVote   = errors.New("consensus: delegate already voted this round")
)

// round holds the mutable state of one in-flight proposal. attemptID
// correlates every log line about this attempt across delegates, since
// attempt/epoch/sequence alone repeat across reproposals and across the
// three chains.
type round struct {
	proposal  Proposal
	digest    chain.Hash
	primary   uint8
	attempt   int
	attemptID uuid.UUID
	timestamp time.Time

	prepareSigs  map[uint8]bls.Signature
	prepareStake uint64

	commitSigs  map[uint8]bls.Signature
	commitStake uint64

	postPrepare *PostPrepareMessage

	rejections *rejectionTally
}

func newRound(p Proposal, digest chain.Hash, primary uint8, ts time.Time, attempt int) *round {
	return &round{
		proposal:    p,
		digest:      digest,
		primary:     primary,
		attempt:     attempt,
		attemptID:   uuid.New(),
		timestamp:   ts,
		prepareSigs: make(map[uint8]bls.Signature),
		commitSigs:  make(map[uint8]bls.Signature),
		rejections:  newRejectionTally(),
	}
}

func bitmapFrom(ids map[uint8]bls.Signature) chain.ParticipationBitmap {
	var bm chain.ParticipationBitmap
	for id := range ids {
		bm[id] = true
	}
	return bm
}

func sigsInBitmapOrder(ids map[uint8]bls.Signature, bm chain.ParticipationBitmap) []bls.Signature {
	out := make([]bls.Signature, 0, len(ids))
	for id := 0; id < len(bm); id++ {
		if bm[id] {
			out = append(out, ids[uint8(id)])
		}
	}
	return out
}

// Engine drives one ChainKind's three-phase voting round at a time: a
// primary proposes, backups validate and vote Prepare, the primary
// aggregates a Prepare quorum into PostPrepare, backups vote Commit, and
// the primary aggregates a Commit quorum into PostCommit, at which point
// every delegate applies the proposal.
type Engine struct {
	mu sync.Mutex

	kind   ChainKind
	selfID uint8
	strict bool

	stakes    StakeTable
	keys      *bls.KeyStore
	selfKey   *bls.SecretKey
	validator Validator
	applier   Applier
	batcher   Batcher
	transport Transport

	// PrimaryFor returns the delegate id that proposes for (epoch,
	// sequence) on this chain, driven by whatever rotation schedule the
	// caller maintains (round-robin over the live delegate set, absent
	// any waiting-list promotion).
	PrimaryFor func(epoch, sequence uint32) uint8

	now func() time.Time
	log log.Logger

	phase Phase
	cur   *round
}

// EngineConfig gathers an Engine's fixed collaborators.
type EngineConfig struct {
	Kind       ChainKind
	SelfID     uint8
	Strict     bool
	Stakes     StakeTable
	Keys       *bls.KeyStore
	SelfKey    *bls.SecretKey
	Validator  Validator
	Applier    Applier
	Batcher    Batcher
	Transport  Transport
	PrimaryFor func(epoch, sequence uint32) uint8
	Now        func() time.Time
}

// NewEngine constructs an idle Engine for one ChainKind.
func NewEngine(cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		kind:       cfg.Kind,
		selfID:     cfg.SelfID,
		strict:     cfg.Strict,
		stakes:     cfg.Stakes,
		keys:       cfg.Keys,
		selfKey:    cfg.SelfKey,
		validator:  cfg.Validator,
		applier:    cfg.Applier,
		batcher:    cfg.Batcher,
		transport:  cfg.Transport,
		PrimaryFor: cfg.PrimaryFor,
		now:        now,
		log:        log.New("module", "consensus", "kind", cfg.Kind, "delegate", cfg.SelfID),
		phase:      PhaseIdle,
	}
}

// Phase returns the engine's current state, for tests and monitoring.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Engine) quorum() uint64 {
	return Quorum(e.stakes.TotalStake(), e.strict)
}

// IsPrimary reports whether selfID proposes for (epoch, sequence).
func (e *Engine) IsPrimary(epoch, sequence uint32) bool {
	return e.PrimaryFor(epoch, sequence) == e.selfID
}

// CurrentRound returns the (epoch, sequence) of the round in flight, for
// callers that must label a message about "whatever the engine is
// currently voting on" without duplicating that state themselves — a
// transport dispatching an incoming Rejection to OnRejection is the only
// caller today.
func (e *Engine) CurrentRound() (epoch, sequence uint32, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cur == nil {
		return 0, 0, false
	}
	return e.cur.proposal.Epoch(), e.cur.proposal.Sequence(), true
}

// Propose is called on the primary delegate when a new batch is ready
// and the engine is idle. It pulls the next proposal from the batcher,
// self-votes, and broadcasts PrePrepare.
func (e *Engine) Propose(epoch, sequence uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.propose(epoch, sequence, 1)
}

func (e *Engine) propose(epoch, sequence uint32, attempt int) error {
	if e.phase != PhaseIdle && e.phase != PhaseRejected {
		return ErrWrongPhase
	}
	p, ok := e.batcher.NextProposal(e.kind)
	if !ok {
		return nil
	}
	ts := e.now()
	digest := p.Digest()

	r := newRound(p, digest, e.selfID, ts, attempt)
	selfSig := e.selfKey.Sign(digest[:])
	r.prepareSigs[e.selfID] = selfSig
	r.prepareStake = e.stakes[e.selfID]

	e.cur = r
	e.phase = PhasePrePrepare
	e.log.Info("proposing", "attempt_id", r.attemptID, "attempt", attempt, "epoch", epoch, "sequence", sequence, "digest", digest)

	e.transport.BroadcastPrePrepare(&PrePrepareMessage{
		Kind:      e.kind,
		Epoch:     epoch,
		Sequence:  sequence,
		Timestamp: ts,
		Primary:   e.selfID,
		Digest:    digest,
		Proposal:  p,
	})
	return nil
}

// OnPrePrepare handles a backup's receipt of the primary's proposal: it
// validates, and either votes Prepare or sends a Rejection.
func (e *Engine) OnPrePrepare(msg *PrePrepareMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != PhaseIdle && e.phase != PhaseRejected {
		return ErrWrongPhase
	}
	if _, ok := e.stakes[msg.Primary]; !ok {
		return ErrUnknownDelegate
	}
	if msg.Primary != e.PrimaryFor(msg.Epoch, msg.Sequence) {
		return ErrWrongPrimary
	}

	reason, bad, err := e.validator.ValidatePrePrepare(e.kind, msg.Proposal, msg.Primary, msg.Timestamp)
	if err != nil {
		e.transport.SendRejectionToPrimary(msg.Primary, &RejectionMessage{
			PrePrepareDigest: msg.Digest,
			Reason:           reason,
			BadRequests:      bad,
			DelegateID:       e.selfID,
			Signature:        e.selfKey.Sign(msg.Digest[:]),
		})
		return nil
	}

	r := newRound(msg.Proposal, msg.Digest, msg.Primary, msg.Timestamp, 1)
	e.cur = r
	e.phase = PhasePrepare

	partial := e.selfKey.Sign(msg.Digest[:])
	e.transport.SendPrepareToPrimary(msg.Primary, &PrepareMessage{
		Kind:       e.kind,
		Digest:     msg.Digest,
		DelegateID: e.selfID,
		Partial:    partial,
	})
	return nil
}

// OnPrepare handles the primary's receipt of a backup's Prepare vote. On
// reaching quorum it aggregates and broadcasts PostPrepare.
func (e *Engine) OnPrepare(msg *PrepareMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || e.phase != PhasePrePrepare || msg.Digest != e.cur.digest {
		return ErrWrongPhase
	}
	weight, ok := e.stakes[msg.DelegateID]
	if !ok {
		return ErrUnknownDelegate
	}
	if _, dup := e.cur.prepareSigs[msg.DelegateID]; dup {
		return ErrDuplicateVote
	}
	pk, ok := e.keys.GetPublicKey(msg.DelegateID)
	if !ok || !bls.Verify(pk, msg.Digest[:], msg.Partial) {
		return ErrBadPartialSig
	}

	e.cur.prepareSigs[msg.DelegateID] = msg.Partial
	e.cur.prepareStake += weight

	if e.cur.prepareStake < e.quorum() {
		return nil
	}

	bm := bitmapFrom(e.cur.prepareSigs)
	agg, err := bls.Aggregate(sigsInBitmapOrder(e.cur.prepareSigs, bm))
	if err != nil {
		return fmt.Errorf("consensus: aggregating prepare quorum: %w", err)
	}

	pp := &PostPrepareMessage{
		Kind:          e.kind,
		Digest:        e.cur.digest,
		Signature:     agg,
		Participation: bm,
	}
	e.cur.postPrepare = pp
	e.phase = PhasePostPrepare
	e.transport.BroadcastPostPrepare(pp)
	return nil
}

// OnPostPrepare handles a backup's receipt of the primary's aggregated
// Prepare quorum: it verifies the aggregate and votes Commit.
func (e *Engine) OnPostPrepare(msg *PostPrepareMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || e.phase != PhasePrepare || msg.Digest != e.cur.digest {
		return ErrWrongPhase
	}
	aggPK, err := e.keys.GetAggregatedPublicKey(msg.Participation)
	if err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if !e.stakeMeetsQuorum(msg.Participation) {
		return ErrBadAggregateSig
	}
	if !bls.VerifyAggregate(aggPK, msg.Digest[:], msg.Signature) {
		return ErrBadAggregateSig
	}

	e.phase = PhasePostPrepare
	partial := e.selfKey.Sign(msg.Digest[:])
	e.transport.SendCommitToPrimary(e.cur.primary, &CommitMessage{
		Kind:       e.kind,
		Digest:     msg.Digest,
		DelegateID: e.selfID,
		Partial:    partial,
	})
	return nil
}

// stakeMeetsQuorum sums the stake weight behind a participation bitmap,
// used because the bitmap's raw bit count is not meaningful once
// delegates carry unequal stake weights.
func (e *Engine) stakeMeetsQuorum(bm chain.ParticipationBitmap) bool {
	var stake uint64
	for id := 0; id < len(bm); id++ {
		if bm[id] {
			stake += e.stakes[uint8(id)]
		}
	}
	return stake >= e.quorum()
}

// OnCommit handles the primary's receipt of a backup's Commit vote. On
// reaching quorum it aggregates, broadcasts PostCommit, and applies the
// proposal.
func (e *Engine) OnCommit(msg *CommitMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || e.phase != PhasePostPrepare || msg.Digest != e.cur.digest {
		return ErrWrongPhase
	}
	weight, ok := e.stakes[msg.DelegateID]
	if !ok {
		return ErrUnknownDelegate
	}
	if _, dup := e.cur.commitSigs[msg.DelegateID]; dup {
		return ErrDuplicateVote
	}
	pk, ok := e.keys.GetPublicKey(msg.DelegateID)
	if !ok || !bls.Verify(pk, msg.Digest[:], msg.Partial) {
		return ErrBadPartialSig
	}

	e.cur.commitSigs[msg.DelegateID] = msg.Partial
	e.cur.commitStake += weight

	if e.cur.commitStake < e.quorum() {
		return nil
	}

	bm := bitmapFrom(e.cur.commitSigs)
	agg, err := bls.Aggregate(sigsInBitmapOrder(e.cur.commitSigs, bm))
	if err != nil {
		return fmt.Errorf("consensus: aggregating commit quorum: %w", err)
	}

	pc := &PostCommitMessage{
		Kind:          e.kind,
		Digest:        e.cur.digest,
		Signature:     agg,
		Participation: bm,
	}
	e.phase = PhasePostCommit
	proposal := e.cur.proposal
	attemptID := e.cur.attemptID
	e.transport.BroadcastPostCommit(pc)

	if err := e.applier.Apply(e.kind, proposal); err != nil {
		return fmt.Errorf("consensus: applying post-committed proposal: %w", err)
	}
	e.log.Info("committed", "attempt_id", attemptID, "digest", e.cur.digest)
	e.phase = PhaseIdle
	e.cur = nil
	return nil
}

// OnPostCommit handles a backup's receipt of the primary's aggregated
// Commit quorum: it verifies and applies the proposal.
func (e *Engine) OnPostCommit(msg *PostCommitMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || e.phase != PhasePostPrepare || msg.Digest != e.cur.digest {
		return ErrWrongPhase
	}
	aggPK, err := e.keys.GetAggregatedPublicKey(msg.Participation)
	if err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if !e.stakeMeetsQuorum(msg.Participation) {
		return ErrBadAggregateSig
	}
	if !bls.VerifyAggregate(aggPK, msg.Digest[:], msg.Signature) {
		return ErrBadAggregateSig
	}

	proposal := e.cur.proposal
	attemptID := e.cur.attemptID
	e.phase = PhasePostCommit
	if err := e.applier.Apply(e.kind, proposal); err != nil {
		return fmt.Errorf("consensus: applying post-committed proposal: %w", err)
	}
	e.log.Info("committed", "attempt_id", attemptID, "digest", e.cur.digest)
	e.phase = PhaseIdle
	e.cur = nil
	return nil
}

// OnRejection handles the primary's receipt of a backup's rejection vote.
// Once rejections of a single reason become quorum-blocking, the primary
// either excises the requests flagged by the rejection that completed the
// quorum and re-proposes (RejectionContainsInvalidRequest, for a Batcher
// with an ExciseInvalid method), or returns the batch to the Batcher via
// Restore and proposes again, up to ProposalRetry attempts.
func (e *Engine) OnRejection(msg *RejectionMessage, epoch, sequence uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || msg.PrePrepareDigest != e.cur.digest {
		return ErrWrongPhase
	}
	weight, ok := e.stakes[msg.DelegateID]
	if !ok {
		return ErrUnknownDelegate
	}
	if !e.cur.rejections.Add(msg.DelegateID, weight, msg.Reason) {
		return ErrDuplicateVote
	}

	reason, blocking := e.cur.rejections.Blocking(e.stakes.TotalStake())
	if !blocking {
		return nil
	}

	attempt := e.cur.attempt
	e.log.Warn("proposal rejected", "attempt_id", e.cur.attemptID, "reason", reason, "recoverable", reason.Recoverable())
	if !reason.Recoverable() {
		e.batcher.Restore(e.kind, e.cur.proposal)
	} else if ex, ok := e.batcher.(interface{ ExciseInvalid(bad []bool) }); ok {
		ex.ExciseInvalid(msg.BadRequests)
	}
	e.phase = PhaseIdle
	e.cur = nil

	if attempt >= ProposalRetry {
		e.phase = PhaseRejected
		return nil
	}
	return e.propose(epoch, sequence, attempt+1)
}

// OnTimeout is called by the caller's timer when no quorum formed within
// PhaseTimeout of entering the current phase. On the primary side it
// counts as an implicit rejection round and re-proposes (bounded by
// ProposalRetry); on the backup side it is a no-op signal the caller
// typically interprets as "promote a secondary proposer".
func (e *Engine) OnTimeout(epoch, sequence uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cur == nil || e.cur.primary != e.selfID {
		return nil
	}
	attempt := e.cur.attempt
	e.phase = PhaseIdle
	e.cur = nil
	if attempt >= ProposalRetry {
		e.phase = PhaseRejected
		return nil
	}
	return e.propose(epoch, sequence, attempt+1)
}
