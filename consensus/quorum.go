package consensus

// StakeTable maps delegate id to voting weight (stake), the input to the
// quorum computation.
type StakeTable map[uint8]uint64

// TotalStake sums every delegate's weight.
func (t StakeTable) TotalStake() uint64 {
	var total uint64
	for _, w := range t {
		total += w
	}
	return total
}

// MaxFault returns floor(total/3), the maximum stake-weight that can
// belong to faulty delegates without breaking safety.
func MaxFault(totalStake uint64) uint64 {
	return totalStake / 3
}

// Quorum returns the minimum aggregate stake required to advance a
// phase: total - MaxFault(total), i.e. N-f generalized to weighted
// stake. When strict is true (a "strict-consensus build flag"), quorum
// is raised to the full total stake.
func Quorum(totalStake uint64, strict bool) uint64 {
	if strict {
		return totalStake
	}
	return totalStake - MaxFault(totalStake)
}

// QuorumBlocking reports whether stake (e.g. aggregated rejection
// weight) is enough to block a quorum from ever forming: any amount
// greater than MaxFault means a quorum-sized set of correct delegates
// could not unanimously agree without including at least one of the
// stake counted here, which BFT assumes is impossible for a faulty set
// smaller than MaxFault+1.
func QuorumBlocking(stake, totalStake uint64) bool {
	return stake > MaxFault(totalStake)
}
