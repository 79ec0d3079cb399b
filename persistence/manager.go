package persistence

import (
	"fmt"
	"math/big"
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
	lru "github.com/hashicorp/golang-lru/v2"
)

// accountCacheSize bounds the write-through account cache: every Request
// batch re-reads its origin (and usually re-reads the same handful of
// hot destinations), so a small bounded cache in front of the store
// avoids a disk hit per account per request within a batch.
const accountCacheSize = 4096

// Manager implements consensus.Validator, consensus.Applier, and
// request.AccountSource against a Store: it is the single place that
// decides whether a proposal is admissible and, once post-committed, how
// it mutates ledger state.
//
// Grounded on original_source/logos/consensus/persistence/batchblock/batchblock_persistence.hpp's
// PersistenceManager<BatchStateBlock> (Validate/ApplyUpdates/UpdateSourceState/
// UpdateDestinationState/PlaceReceive) and the shared timestamp-drift check in
// original_source/logos/consensus/persistence/persistence.hpp.
type Manager struct {
	store Store

	requestSeq   map[uint8]uint32 // expected next sequence per delegate's R-chain
	microSeq     uint32
	epochNum     uint32
	accountCache *lru.Cache[chain.Address, *chain.Account]
}

// NewManager returns a Manager over store.
func NewManager(store Store) *Manager {
	cache, err := lru.New[chain.Address, *chain.Account](accountCacheSize)
	if err != nil {
		panic(err) // only returns an error for a non-positive size
	}
	return &Manager{
		store:        store,
		requestSeq:   make(map[uint8]uint32),
		accountCache: cache,
	}
}

// Account implements request.AccountSource.
func (m *Manager) Account(addr chain.Address) (*chain.Account, bool) {
	if a, ok := m.accountCache.Get(addr); ok {
		return a, true
	}
	var a chain.Account
	ok, err := getState(m.store, accountKey(addr), &a)
	if err != nil || !ok {
		return nil, false
	}
	if a.Balance == nil {
		a.Balance = new(big.Int)
	}
	m.accountCache.Add(addr, &a)
	return &a, true
}

func (m *Manager) putAccount(a *chain.Account) error {
	if err := putState(m.store, accountKey(a.Address), a); err != nil {
		return err
	}
	m.accountCache.Add(a.Address, a)
	return nil
}

// ValidateTimestamp reports whether timestamp is within the allowed
// clock-drift envelope of local time.
func (m *Manager) ValidateTimestamp(now, timestamp time.Time, envelope time.Duration) bool {
	drift := now.Sub(timestamp)
	if drift < 0 {
		drift = -drift
	}
	return drift <= envelope
}

// ValidatePrePrepare implements consensus.Validator.
func (m *Manager) ValidatePrePrepare(kind consensus.ChainKind, p consensus.Proposal, primary uint8, timestamp time.Time) (consensus.RejectionReason, []bool, error) {
	envelope := consensus.TimestampEnvelope(kind)
	if !m.ValidateTimestamp(time.Now(), timestamp, envelope) {
		return consensus.RejectionClockDrift, nil, fmt.Errorf("persistence: timestamp drift exceeds %s", envelope)
	}

	switch kind {
	case consensus.ChainRequest:
		return m.validateRequestBlock(p.(consensus.RequestProposal).Block, primary)
	case consensus.ChainMicro:
		return m.validateMicroBlock(p.(consensus.MicroProposal).Block)
	case consensus.ChainEpoch:
		return m.validateEpochBlock(p.(consensus.EpochProposal).Block)
	default:
		return consensus.RejectionBadSignature, nil, fmt.Errorf("persistence: unknown chain kind %v", kind)
	}
}

func (m *Manager) validateRequestBlock(b *chain.RequestBlock, primary uint8) (consensus.RejectionReason, []bool, error) {
	expected := m.requestSeq[primary]
	if b.Sequence != expected {
		return consensus.RejectionWrongSequenceNumber, nil, fmt.Errorf("persistence: sequence %d, want %d", b.Sequence, expected)
	}
	if tip := m.requestTip(primary); b.Previous != tip.Digest {
		return consensus.RejectionInvalidPreviousHash, nil, fmt.Errorf("persistence: previous %x does not match delegate %d's committed tip %x", b.Previous, primary, tip.Digest)
	}

	bad := make([]bool, len(b.Requests))
	anyBad := false
	for i, r := range b.Requests {
		if err := m.validateRequest(r, b.Epoch); err != nil {
			bad[i] = true
			anyBad = true
		}
	}
	if anyBad {
		return consensus.RejectionContainsInvalidRequest, bad, fmt.Errorf("persistence: batch contains invalid requests")
	}
	return 0, nil, nil
}

func (m *Manager) validateRequest(r *chain.Request, currentEpoch uint32) error {
	if !r.Type.Valid() {
		return fmt.Errorf("persistence: unknown request type %d", r.Type)
	}
	if r.Fee == nil || r.Fee.Cmp(chain.MinTransactionFee) < 0 {
		return fmt.Errorf("persistence: fee below minimum")
	}
	if r.IsSelfSendOnly() {
		return fmt.Errorf("persistence: request is self-send only")
	}
	acct, ok := m.Account(r.Origin)
	if !ok {
		return fmt.Errorf("persistence: unknown origin account")
	}
	if acct.Reservation != nil && !acct.Reservation.Expired(currentEpoch) && acct.Reservation.Hash != r.Hash() {
		return fmt.Errorf("persistence: conflicting reservation on origin account")
	}
	if !acct.CanDebit(r.TotalDebit()) {
		return fmt.Errorf("persistence: insufficient balance")
	}
	return nil
}

func (m *Manager) validateMicroBlock(b *chain.MicroBlock) (consensus.RejectionReason, []bool, error) {
	if b.Sequence != m.microSeq {
		return consensus.RejectionWrongSequenceNumber, nil, fmt.Errorf("persistence: micro sequence %d, want %d", b.Sequence, m.microSeq)
	}
	if tip := m.MicroTip(); b.Previous != tip.Digest {
		return consensus.RejectionInvalidPreviousHash, nil, fmt.Errorf("persistence: previous %x does not match M-chain tip %x", b.Previous, tip.Digest)
	}
	return 0, nil, nil
}

func (m *Manager) validateEpochBlock(b *chain.EpochBlock) (consensus.RejectionReason, []bool, error) {
	if b.Epoch != m.epochNum+1 {
		return consensus.RejectionInvalidEpoch, nil, fmt.Errorf("persistence: epoch block for %d, want %d", b.Epoch, m.epochNum+1)
	}
	if tip := m.epochTip(); b.Previous != tip.Digest {
		return consensus.RejectionInvalidPreviousHash, nil, fmt.Errorf("persistence: previous %x does not match E-chain tip %x", b.Previous, tip.Digest)
	}
	return 0, nil, nil
}

// requestTip returns delegateID's current committed R-chain tip, the
// zero Tip if it has not yet committed a block.
func (m *Manager) requestTip(delegateID uint8) chain.Tip {
	var t chain.Tip
	_, _ = getBlock(m.store, requestTipKey(delegateID), &t)
	return t
}

// epochTip returns the current committed E-chain tip, the zero Tip if
// no epoch block has been committed yet.
func (m *Manager) epochTip() chain.Tip {
	var t chain.Tip
	_, _ = getBlock(m.store, epochTipKey, &t)
	return t
}

// Apply implements consensus.Applier: it commits a post-committed
// proposal's effects to the ledger.
func (m *Manager) Apply(kind consensus.ChainKind, p consensus.Proposal) error {
	switch kind {
	case consensus.ChainRequest:
		return m.applyRequestBlock(p.(consensus.RequestProposal).Block)
	case consensus.ChainMicro:
		return m.applyMicroBlock(p.(consensus.MicroProposal).Block)
	case consensus.ChainEpoch:
		return m.applyEpochBlock(p.(consensus.EpochProposal).Block)
	default:
		return fmt.Errorf("persistence: unknown chain kind %v", kind)
	}
}

func (m *Manager) applyRequestBlock(b *chain.RequestBlock) error {
	digest := b.Digest()
	for _, r := range b.Requests {
		if err := m.applyRequest(r); err != nil {
			return err
		}
	}
	if err := putBlock(m.store, requestByIDKey(digest), b); err != nil {
		return err
	}
	if err := putBlock(m.store, requestTipKey(b.PrimaryDelegate), b.Tip()); err != nil {
		return err
	}
	m.requestSeq[b.PrimaryDelegate] = b.Sequence + 1
	return nil
}

// applyRequest debits the origin, credits every non-self destination,
// and releases the origin account's reservation: a successful commit is
// one of the two ways (the other being expiry) a reservation ends,
// immediately admitting the account's next distinct request.
func (m *Manager) applyRequest(r *chain.Request) error {
	origin, ok := m.Account(r.Origin)
	if !ok {
		origin = chain.NewAccount(r.Origin)
	}

	debit := r.TotalDebit()
	if !origin.CanDebit(debit) {
		return fmt.Errorf("persistence: apply would drive %x negative", r.Origin)
	}
	origin.Balance = new(big.Int).Sub(origin.Balance, debit)
	origin.Head = r.Hash()
	origin.Reservation = nil
	if err := m.putAccount(origin); err != nil {
		return err
	}

	for i, tx := range r.NonSelfTransactions() {
		dest, ok := m.Account(tx.Destination)
		if !ok {
			dest = chain.NewAccount(tx.Destination)
		}
		dest.Balance = new(big.Int).Add(dest.Balance, tx.Amount)
		dest.ReceiveHead = r.Hash()
		if err := m.putAccount(dest); err != nil {
			return err
		}
		_ = i // receive ordering index reserved for a future receive-chain ledger
	}
	return nil
}

// GetProposal looks up the committed block named by kind and digest,
// answering a netdelegate single-block pull request (netdelegate.BlockSource).
func (m *Manager) GetProposal(kind consensus.ChainKind, digest chain.Hash) (consensus.Proposal, bool) {
	switch kind {
	case consensus.ChainRequest:
		var b chain.RequestBlock
		if ok, err := getBlock(m.store, requestByIDKey(digest), &b); err != nil || !ok {
			return nil, false
		}
		return consensus.RequestProposal{Block: &b}, true
	case consensus.ChainMicro:
		var b chain.MicroBlock
		if ok, err := getBlock(m.store, microByIDKey(digest), &b); err != nil || !ok {
			return nil, false
		}
		return consensus.MicroProposal{Block: &b}, true
	case consensus.ChainEpoch:
		var b chain.EpochBlock
		if ok, err := getBlock(m.store, epochByIDKey(digest), &b); err != nil || !ok {
			return nil, false
		}
		return consensus.EpochProposal{Block: &b}, true
	default:
		return nil, false
	}
}

// RequestTips returns the current committed tip of every delegate's
// R-chain, the 32-tip vector a MicroBlock pins at cut time (§3).
// Delegates with no committed R-block yet report the zero tip.
func (m *Manager) RequestTips() [chain.NumDelegates]chain.Tip {
	var tips [chain.NumDelegates]chain.Tip
	for id := 0; id < chain.NumDelegates; id++ {
		var t chain.Tip
		if ok, err := getBlock(m.store, requestTipKey(uint8(id)), &t); err == nil && ok {
			tips[id] = t
		}
	}
	return tips
}

// MicroTip returns the current committed M-chain tip, the zero Tip if
// no micro block has been committed yet.
func (m *Manager) MicroTip() chain.Tip {
	var t chain.Tip
	_, _ = getBlock(m.store, microTipKey, &t)
	return t
}

// EpochNum returns the locally tracked current epoch number.
func (m *Manager) EpochNum() uint32 { return m.epochNum }

// MicroSeq returns the sequence number the next committed MicroBlock
// must carry.
func (m *Manager) MicroSeq() uint32 { return m.microSeq }

func (m *Manager) applyMicroBlock(b *chain.MicroBlock) error {
	if err := putBlock(m.store, microByIDKey(b.Digest()), b); err != nil {
		return err
	}
	if err := putBlock(m.store, microTipKey, b.Tip()); err != nil {
		return err
	}
	m.microSeq = b.Sequence + 1
	return nil
}

func (m *Manager) applyEpochBlock(b *chain.EpochBlock) error {
	if err := putBlock(m.store, epochByIDKey(b.Digest()), b); err != nil {
		return err
	}
	if err := putBlock(m.store, epochByNumberKey(b.Epoch), b); err != nil {
		return err
	}
	if err := putBlock(m.store, epochTipKey, b.Tip()); err != nil {
		return err
	}
	m.epochNum = b.Epoch
	m.microSeq = 0
	m.requestSeq = make(map[uint8]uint32)
	return nil
}
