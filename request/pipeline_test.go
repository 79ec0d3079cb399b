package request

import (
	"math/big"
	"testing"
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
)

type fakeAccounts struct {
	accounts map[chain.Address]*chain.Account
}

func (f *fakeAccounts) Account(addr chain.Address) (*chain.Account, bool) {
	a, ok := f.accounts[addr]
	return a, ok
}

func newFundedAccount(addr chain.Address, balance int64) *chain.Account {
	a := chain.NewAccount(addr)
	a.Balance = big.NewInt(balance)
	return a
}

func feeRequest(origin chain.Address, salt byte) *chain.Request {
	return &chain.Request{
		Type:   chain.RequestSend,
		Origin: origin,
		Fee:    new(big.Int).Set(chain.MinTransactionFee),
		Transactions: []chain.Transaction{
			{Destination: chain.Address{salt}, Amount: big.NewInt(1)},
		},
	}
}

func TestSubmitDuplicateRequestIsIdempotent(t *testing.T) {
	origin := chain.Address{1}
	accounts := &fakeAccounts{accounts: map[chain.Address]*chain.Account{
		origin: newFundedAccount(origin, 1_000_000_000_000_000_000),
	}}
	accounts.accounts[origin].Balance = new(big.Int).Mul(chain.MinTransactionFee, big.NewInt(10))
	p := NewPipeline(accounts, 0, 1, func() time.Time { return time.Unix(0, 0) })

	req := feeRequest(origin, 2)
	if got := p.Submit(req, 1); got != Accepted {
		t.Fatalf("first Submit = %v, want Accepted", got)
	}
	if got := p.Submit(req, 1); got != Duplicate {
		t.Fatalf("second Submit of the same request = %v, want Duplicate", got)
	}
}

func TestSubmitRejectsConflictingReservation(t *testing.T) {
	origin := chain.Address{1}
	acct := newFundedAccount(origin, 0)
	acct.Balance = new(big.Int).Mul(chain.MinTransactionFee, big.NewInt(10))
	acct.Reservation = &chain.Reservation{Hash: chain.Hash{0xaa}, Epoch: 1}
	accounts := &fakeAccounts{accounts: map[chain.Address]*chain.Account{origin: acct}}
	p := NewPipeline(accounts, 0, 1, func() time.Time { return time.Unix(0, 0) })

	req := feeRequest(origin, 3)
	if got := p.Submit(req, 1); got != Reserved {
		t.Fatalf("Submit with a conflicting live reservation = %v, want Reserved", got)
	}
}

func TestSubmitAllowsReservationAfterExpiry(t *testing.T) {
	origin := chain.Address{1}
	acct := newFundedAccount(origin, 0)
	acct.Balance = new(big.Int).Mul(chain.MinTransactionFee, big.NewInt(10))
	acct.Reservation = &chain.Reservation{Hash: chain.Hash{0xaa}, Epoch: 1}
	accounts := &fakeAccounts{accounts: map[chain.Address]*chain.Account{origin: acct}}
	p := NewPipeline(accounts, 0, 1, func() time.Time { return time.Unix(0, 0) })

	req := feeRequest(origin, 3)
	if got := p.Submit(req, 1+chain.ReservationPeriod); got != Accepted {
		t.Fatalf("Submit after reservation expiry = %v, want Accepted", got)
	}
}

func TestSubmitRejectsInsufficientFee(t *testing.T) {
	origin := chain.Address{1}
	acct := newFundedAccount(origin, 0)
	acct.Balance = new(big.Int).Mul(chain.MinTransactionFee, big.NewInt(10))
	accounts := &fakeAccounts{accounts: map[chain.Address]*chain.Account{origin: acct}}
	p := NewPipeline(accounts, 0, 1, func() time.Time { return time.Unix(0, 0) })

	req := feeRequest(origin, 4)
	req.Fee = big.NewInt(1)
	if got := p.Submit(req, 1); got != InsufficientFee {
		t.Fatalf("Submit below MinTransactionFee = %v, want InsufficientFee", got)
	}
}

func TestNextProposalBatchesUpToBatchSize(t *testing.T) {
	origin := chain.Address{1}
	acct := newFundedAccount(origin, 0)
	acct.Balance = new(big.Int).Mul(chain.MinTransactionFee, big.NewInt(int64(chain.BatchSize)*10))
	accounts := &fakeAccounts{accounts: map[chain.Address]*chain.Account{origin: acct}}
	p := NewPipeline(accounts, 5, 1, func() time.Time { return time.Unix(100, 0) })

	for i := 0; i < chain.BatchSize+10; i++ {
		req := feeRequest(origin, byte(i))
		req.Previous = chain.Hash{byte(i), byte(i >> 8)}
		if got := p.Submit(req, 1); got != Accepted {
			t.Fatalf("Submit(%d) = %v, want Accepted", i, got)
		}
	}

	prop, ok := p.NextProposal(consensus.ChainRequest)
	if !ok {
		t.Fatal("NextProposal returned false with a full pending queue")
	}
	rp := prop.(consensus.RequestProposal)
	if len(rp.Block.Requests) != chain.BatchSize {
		t.Fatalf("batch size = %d, want %d", len(rp.Block.Requests), chain.BatchSize)
	}
	if rp.Block.PrimaryDelegate != 5 {
		t.Fatalf("PrimaryDelegate = %d, want 5", rp.Block.PrimaryDelegate)
	}

	// Reproposing before a commit must return the same in-flight batch.
	again, _ := p.NextProposal(consensus.ChainRequest)
	if again.(consensus.RequestProposal).Digest() != rp.Digest() {
		t.Fatal("NextProposal without an intervening commit changed the in-flight batch")
	}
}

func TestOnPostCommitAdvancesChainHead(t *testing.T) {
	origin := chain.Address{1}
	acct := newFundedAccount(origin, 0)
	acct.Balance = new(big.Int).Mul(chain.MinTransactionFee, big.NewInt(10))
	accounts := &fakeAccounts{accounts: map[chain.Address]*chain.Account{origin: acct}}
	p := NewPipeline(accounts, 0, 1, func() time.Time { return time.Unix(0, 0) })

	req := feeRequest(origin, 9)
	p.Submit(req, 1)
	prop, _ := p.NextProposal(consensus.ChainRequest)
	block := prop.(consensus.RequestProposal).Block
	block.Sequence = 7

	p.OnPostCommit(block)

	if p.Contains(req.Hash()) {
		t.Fatal("committed request's hash still marks the pipeline as seen")
	}
	if p.previous != block.Digest() {
		t.Fatalf("previous = %v, want %v", p.previous, block.Digest())
	}
	if p.sequence != 8 {
		t.Fatalf("sequence = %d, want 8", p.sequence)
	}
}
