package consensus

import "github.com/delegatechain/core/chain"

// Proposal is the capability interface a batch of any ChainKind must
// satisfy to ride through the engine's state machine. Concrete adapters
// below wrap each of the three block types.
type Proposal interface {
	Digest() chain.Hash
	Previous() chain.Hash
	Epoch() uint32
	Sequence() uint32
}

// RequestProposal adapts *chain.RequestBlock to Proposal.
type RequestProposal struct{ Block *chain.RequestBlock }

func (p RequestProposal) Digest() chain.Hash   { return p.Block.Digest() }
func (p RequestProposal) Previous() chain.Hash { return p.Block.Previous }
func (p RequestProposal) Epoch() uint32        { return p.Block.Epoch }
func (p RequestProposal) Sequence() uint32     { return p.Block.Sequence }

// MicroProposal adapts *chain.MicroBlock to Proposal.
type MicroProposal struct{ Block *chain.MicroBlock }

func (p MicroProposal) Digest() chain.Hash   { return p.Block.Digest() }
func (p MicroProposal) Previous() chain.Hash { return p.Block.Previous }
func (p MicroProposal) Epoch() uint32        { return p.Block.Epoch }
func (p MicroProposal) Sequence() uint32     { return p.Block.Sequence }

// EpochProposal adapts *chain.EpochBlock to Proposal.
type EpochProposal struct{ Block *chain.EpochBlock }

func (p EpochProposal) Digest() chain.Hash   { return p.Block.Digest() }
func (p EpochProposal) Previous() chain.Hash { return p.Block.Previous }
func (p EpochProposal) Epoch() uint32        { return p.Block.Epoch }
func (p EpochProposal) Sequence() uint32     { return 0 }
