package chain

import "math/big"

// TokenEntry records an account's balance and administrative state for
// one token.
type TokenEntry struct {
	TokenID     Hash
	Balance     *big.Int
	Controllers []Address
	Mutable     bool
	Frozen      bool
	Whitelisted map[Address]bool
}

// Reservation is the (account -> block-hash, epoch) mapping enforcing
// at-most-one in-flight request per account.
type Reservation struct {
	Hash  Hash
	Epoch uint32
}

// Expired reports whether the reservation has aged past
// ReservationPeriod as of currentEpoch.
func (r Reservation) Expired(currentEpoch uint32) bool {
	return currentEpoch >= r.Epoch+ReservationPeriod
}

// Account holds the ledger state for a single address.
type Account struct {
	Address        Address
	Balance        *big.Int
	Head           Hash // head of this account's latest send
	ReceiveHead    Hash // head of this account's receive chain
	Reservation    *Reservation
	Representative Address
	Tokens         map[Hash]*TokenEntry
}

// NewAccount returns a zero-balance account with no reservation.
func NewAccount(addr Address) *Account {
	return &Account{
		Address: addr,
		Balance: new(big.Int),
		Tokens:  make(map[Hash]*TokenEntry),
	}
}

// CanDebit reports whether amount can be subtracted from the account's
// balance without driving it negative.
func (a *Account) CanDebit(amount *big.Int) bool {
	return a.Balance.Cmp(amount) >= 0
}

// Receive is one credited entry on an account's receive chain: a record
// of funds arriving from a committed send.
type Receive struct {
	Source      Hash // hash of the sending Request
	Amount      *big.Int
	DelegateID  uint8
	IntraBlockIndex int
}
