package chain

import (
	"math/big"
)

// RequestType enumerates the kinds of Request this ledger accepts.
// Native send/representative-change requests plus the full token
// administrative surface: issuance, freezing, whitelisting, controller
// changes, and distribution/withdrawal of an issued token's supply.
type RequestType uint8

const (
	RequestSend RequestType = iota
	RequestChangeRep
	RequestIssueTokens
	RequestIssueAdtlTokens
	RequestImmuteTokenSetting
	RequestRevokeTokens
	RequestFreezeTokens
	RequestSetTokenFee
	RequestUpdateWhitelist
	RequestUpdateIssuerInfo
	RequestUpdateController
	RequestBurnTokens
	RequestDistributeTokens
	RequestWithdrawTokens
	RequestSendTokens
	requestTypeCount
)

func (t RequestType) Valid() bool { return t < requestTypeCount }

func (t RequestType) String() string {
	names := [...]string{
		"Send", "ChangeRep", "IssueTokens", "IssueAdtlTokens",
		"ImmuteTokenSetting", "RevokeTokens", "FreezeTokens", "SetTokenFee",
		"UpdateWhitelist", "UpdateIssuerInfo", "UpdateController",
		"BurnTokens", "DistributeTokens", "WithdrawTokens", "SendTokens",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "Unknown"
}

// Transaction is a single (destination, amount) pair inside a Send
// request: a destination account and an amount.
type Transaction struct {
	Destination Address
	Amount      *big.Int
}

// Request is a single user transaction admitted into the pipeline. Its
// Previous field chains to the origin account's prior request, giving
// Persistence an ordering anchor independent of reservation state.
type Request struct {
	Type         RequestType
	Origin       Address
	Previous     Hash
	Fee          *big.Int
	Transactions []Transaction

	// Token-administrative fields, populated only for the corresponding
	// RequestType; zero otherwise.
	TokenID     Hash
	Controller  Address
	Setting     string
	SettingOn   bool
	Whitelisted []Address

	Signature [64]byte
}

// Hash returns the content digest of the request, used as its identity
// for deduplication, reservation tracking, and receive-chain references.
func (r *Request) Hash() Hash {
	return CanonicalHash(r)
}

// IsSelfSendOnly reports whether every transaction in a Send targets the
// origin account itself. Such requests have their self-targeting
// entries dropped rather than applied; a Send where every transaction
// targets the origin fails block validation in persistence.Manager,
// since nothing would be left to apply. request.Pipeline.Submit does not
// check for it.
func (r *Request) IsSelfSendOnly() bool {
	if r.Type != RequestSend && r.Type != RequestSendTokens {
		return false
	}
	for _, tx := range r.Transactions {
		if tx.Destination != r.Origin {
			return false
		}
	}
	return len(r.Transactions) > 0
}

// NonSelfTransactions returns the transactions that do not target the
// request's own origin account.
func (r *Request) NonSelfTransactions() []Transaction {
	out := make([]Transaction, 0, len(r.Transactions))
	for _, tx := range r.Transactions {
		if tx.Destination != r.Origin {
			out = append(out, tx)
		}
	}
	return out
}

// TotalDebit returns fee plus the sum of all non-self transaction
// amounts, the quantity that must not drive the origin's balance
// negative.
func (r *Request) TotalDebit() *big.Int {
	total := new(big.Int).Set(r.Fee)
	for _, tx := range r.NonSelfTransactions() {
		total.Add(total, tx.Amount)
	}
	return total
}
