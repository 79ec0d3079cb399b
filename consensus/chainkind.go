// Package consensus implements the three-phase BFT voting state machine:
// one Engine per chain, running one proposal round at a time, driven by a primary
// delegate and N-1 backups, with BLS-aggregated signatures advancing
// PrePrepare -> Prepare -> PostPrepare -> Commit -> PostCommit.
//
// The three chain kinds (request, micro, epoch) are not modeled as a
// class hierarchy. A single Engine type is parameterized by ChainKind
// plus the small Validator/Applier/Batcher capability interfaces, so each
// chain supplies its own validation and application semantics without
// the engine needing to know which chain it is driving.
package consensus

import "github.com/delegatechain/core/wire"

// ChainKind identifies which of the three interleaved chains an Engine
// instance drives. Reuses wire.ConsensusType directly: the wire format
// and the engine's notion of "which chain" are the same concept.
type ChainKind = wire.ConsensusType

const (
	ChainRequest = wire.ConsensusRequest
	ChainMicro   = wire.ConsensusMicro
	ChainEpoch   = wire.ConsensusEpoch
)
