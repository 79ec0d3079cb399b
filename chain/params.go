// Package chain defines the three interleaved block chains (request,
// micro, epoch), the account model, and the wire-level Request types
// that ride inside request blocks.
package chain

import (
	"math/big"
	"time"

	"github.com/delegatechain/core/wire"
)

// CanonicalHash computes the content digest of v the way every
// consensus object in this package is identified.
func CanonicalHash(v interface{}) Hash {
	return wire.CanonicalHash(v)
}

// Protocol-wide constants governing committee size, batching, and
// timing.
const (
	// NumDelegates is the size of the delegate committee, N.
	NumDelegates = 32

	// BatchSize is the maximum number of requests packed into a single
	// RequestBlock.
	BatchSize = 1500

	// MaxFaulty is the classical BFT fault tolerance bound f = floor((N-1)/3)
	// for a uniform-weight committee of NumDelegates.
	MaxFaulty = (NumDelegates - 1) / 3

	// Quorum is N-f for a uniform-weight committee. Stake-weighted
	// deployments compute quorum dynamically; see consensus.Quorum.
	Quorum = NumDelegates - MaxFaulty

	// ReservationPeriod is the number of epochs an account reservation
	// remains valid before it expires.
	ReservationPeriod = 2

	// MinTransactionFeeStr is the decimal form of MinTransactionFee, the
	// minimum fee, in base units, a Request must carry to be admitted.
	MinTransactionFeeStr = "10000000000000000000000" // 10^22

	// ClockDrift bounds how far a PrePrepare timestamp may diverge from
	// local time for R-chain proposals.
	ClockDrift = 20 * time.Second

	// MicroBlockInterval is the target cadence of micro blocks.
	MicroBlockInterval = 10 * time.Minute

	// EpochInterval is the target cadence of epoch blocks.
	EpochInterval = 12 * time.Hour

	// InvalidEpochGap is the largest distance, in epochs ahead of or
	// behind the local epoch, an incoming message may carry; anything
	// farther is discarded as bogus (see epoch.GapValid).
	InvalidEpochGap = 10
)

// MinTransactionFee is MinTransactionFeeStr parsed into a big.Int, computed
// once at init time so callers never pay the parse cost.
var MinTransactionFee = mustParseBig(MinTransactionFeeStr)

func mustParseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("chain: invalid constant " + s)
	}
	return v
}
