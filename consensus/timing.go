package consensus

import (
	"time"

	"github.com/delegatechain/core/chain"
)

const clockDrift = chain.ClockDrift

// Timeout base and cap values. Request-chain phases are capped tighter
// than micro/epoch phases, which can afford to wait far longer since
// they only run a few times a day.
const (
	RequestTimeoutCap = 600 * time.Second
	EpochTimeoutCap   = 19200 * time.Second

	// SecondaryListTimeoutCap is the upper bound of the waiting list's
	// randomized expiration window ([MIN, MIN+RANGE] = [20s, 60s]
	// outside an epoch boundary). It is added to the clock-drift bound to
	// form the timestamp-validation envelope for epoch-boundary (M/E)
	// proposals, since those may originate from a backup promoted off the
	// waiting list.
	SecondaryListTimeoutCap = 60 * time.Second
)

// PhaseTimeout computes T(attempt) = base * 2^(attempt-1), doubling on
// each retry and bounded at cap. attempt is 1-indexed; attempt <= 0 is
// treated as 1.
func PhaseTimeout(base time.Duration, attempt int, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// TimeoutCapFor returns the phase-timeout cap appropriate to kind.
func TimeoutCapFor(kind ChainKind) time.Duration {
	if kind == ChainRequest {
		return RequestTimeoutCap
	}
	return EpochTimeoutCap
}

// TimestampEnvelope returns how far a PrePrepare's timestamp may diverge
// from local time for proposals on this chain kind: R-chain proposals use
// the clock-drift bound alone; M/E-chain proposals use the wider envelope
// that accounts for waiting-list-promoted secondary proposers.
func TimestampEnvelope(kind ChainKind) time.Duration {
	if kind == ChainRequest {
		return clockDrift
	}
	return SecondaryListTimeoutCap + clockDrift
}
