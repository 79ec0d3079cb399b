// Package netdelegate implements the authenticated TCP channel between
// delegates: framing over wire.MessageHeader, a per-socket send queue,
// heartbeat/inactivity timeout, and the Network type wiring all of it
// into consensus.Transport.
//
// Grounded on original_source/logos/consensus/network/{net_io_assembler,
// net_io_send,consensus_netio_manager,peer_acceptor}.hpp: NetIOAssembler's
// prequel-then-body read shape becomes assembler.go, NetIOSend's
// single-outstanding-write queue becomes sendqueue.go, and
// ConsensusNetIOManager/PeerAcceptor's client-dial-or-server-accept
// connection model becomes network.go.
package netdelegate

import (
	"fmt"
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
	"github.com/delegatechain/core/wire"
)

// requestPrePrepareWire, microPrePrepareWire, and epochPrePrepareWire are the concrete payload shapes
// carried behind a wire.MessageHeader, one per ConsensusType. consensus.Proposal
// is an interface and cannot ride RLP directly, so the network layer
// picks the concrete struct using the header's ConsensusType field
// rather than encoding the interface — the same role the original's
// per-ConsensusType message template instantiation plays.
type requestPrePrepareWire struct {
	Epoch     uint32
	Sequence  uint32
	Timestamp time.Time
	Primary   uint8
	Digest    chain.Hash
	Block     *chain.RequestBlock
}

type microPrePrepareWire struct {
	Epoch     uint32
	Sequence  uint32
	Timestamp time.Time
	Primary   uint8
	Digest    chain.Hash
	Block     *chain.MicroBlock
}

type epochPrePrepareWire struct {
	Epoch     uint32
	Sequence  uint32
	Timestamp time.Time
	Primary   uint8
	Digest    chain.Hash
	Block     *chain.EpochBlock
}

// encodePrePrepare RLP-encodes msg's proposal in the concrete form
// matching its ChainKind.
func encodePrePrepare(msg *consensus.PrePrepareMessage) ([]byte, error) {
	switch p := msg.Proposal.(type) {
	case consensus.RequestProposal:
		return wire.Encode(requestPrePrepareWire{msg.Epoch, msg.Sequence, msg.Timestamp, msg.Primary, msg.Digest, p.Block})
	case consensus.MicroProposal:
		return wire.Encode(microPrePrepareWire{msg.Epoch, msg.Sequence, msg.Timestamp, msg.Primary, msg.Digest, p.Block})
	case consensus.EpochProposal:
		return wire.Encode(epochPrePrepareWire{msg.Epoch, msg.Sequence, msg.Timestamp, msg.Primary, msg.Digest, p.Block})
	default:
		return nil, fmt.Errorf("netdelegate: unknown proposal type %T", msg.Proposal)
	}
}

// decodePrePrepare decodes payload into a PrePrepareMessage, picking the
// concrete wire struct named by kind.
func decodePrePrepare(kind consensus.ChainKind, payload []byte) (*consensus.PrePrepareMessage, error) {
	switch kind {
	case consensus.ChainRequest:
		var w requestPrePrepareWire
		if err := wire.Decode(payload, &w); err != nil {
			return nil, err
		}
		return &consensus.PrePrepareMessage{
			Kind: kind, Epoch: w.Epoch, Sequence: w.Sequence, Timestamp: w.Timestamp,
			Primary: w.Primary, Digest: w.Digest, Proposal: consensus.RequestProposal{Block: w.Block},
		}, nil
	case consensus.ChainMicro:
		var w microPrePrepareWire
		if err := wire.Decode(payload, &w); err != nil {
			return nil, err
		}
		return &consensus.PrePrepareMessage{
			Kind: kind, Epoch: w.Epoch, Sequence: w.Sequence, Timestamp: w.Timestamp,
			Primary: w.Primary, Digest: w.Digest, Proposal: consensus.MicroProposal{Block: w.Block},
		}, nil
	case consensus.ChainEpoch:
		var w epochPrePrepareWire
		if err := wire.Decode(payload, &w); err != nil {
			return nil, err
		}
		return &consensus.PrePrepareMessage{
			Kind: kind, Epoch: w.Epoch, Sequence: w.Sequence, Timestamp: w.Timestamp,
			Primary: w.Primary, Digest: w.Digest, Proposal: consensus.EpochProposal{Block: w.Block},
		}, nil
	default:
		return nil, fmt.Errorf("netdelegate: unknown chain kind %v", kind)
	}
}

// PullRequestMessage asks the peer for the single block named by kind
// and digest — the catch-up query PendingBlockCache.OnMissing triggers
// when something parks behind a dependency no gossip has produced yet.
type PullRequestMessage struct {
	Kind   consensus.ChainKind
	Digest chain.Hash
}

// PullResponseMessage answers a PullRequestMessage. Block holds the RLP
// encoding of the concrete block named by Kind (nil/Found=false if the
// responder doesn't have it), rather than a second per-Kind wire struct
// family: the requester already knows Kind from the message it sent, so
// decoding Block is a one-line switch at the call site.
type PullResponseMessage struct {
	Kind   consensus.ChainKind
	Digest chain.Hash
	Found  bool
	Block  []byte
}

// encodePullResponseBlock RLP-encodes p's concrete block into the form
// PullResponseMessage.Block carries.
func encodePullResponseBlock(p consensus.Proposal) ([]byte, error) {
	switch v := p.(type) {
	case consensus.RequestProposal:
		return wire.Encode(v.Block)
	case consensus.MicroProposal:
		return wire.Encode(v.Block)
	case consensus.EpochProposal:
		return wire.Encode(v.Block)
	default:
		return nil, fmt.Errorf("netdelegate: unknown proposal type %T", p)
	}
}

// decodePullResponseBlock decodes body into the concrete block named by
// kind and wraps it as a Proposal.
func decodePullResponseBlock(kind consensus.ChainKind, body []byte) (consensus.Proposal, error) {
	switch kind {
	case consensus.ChainRequest:
		var b chain.RequestBlock
		if err := wire.Decode(body, &b); err != nil {
			return nil, err
		}
		return consensus.RequestProposal{Block: &b}, nil
	case consensus.ChainMicro:
		var b chain.MicroBlock
		if err := wire.Decode(body, &b); err != nil {
			return nil, err
		}
		return consensus.MicroProposal{Block: &b}, nil
	case consensus.ChainEpoch:
		var b chain.EpochBlock
		if err := wire.Decode(body, &b); err != nil {
			return nil, err
		}
		return consensus.EpochProposal{Block: &b}, nil
	default:
		return nil, fmt.Errorf("netdelegate: unknown chain kind %v", kind)
	}
}

// frame is a decoded, not-yet-dispatched inbound message.
type frame struct {
	header  wire.MessageHeader
	payload []byte
}

// encodeFrame serializes v's RLP body and prefixes it with a header
// naming mt/ct and the encoded body's length.
func encodeFrame(mt wire.MessageType, ct wire.ConsensusType, v interface{}) ([]byte, error) {
	var body []byte
	var err error
	if pp, ok := v.(*consensus.PrePrepareMessage); ok {
		body, err = encodePrePrepare(pp)
	} else {
		body, err = wire.Encode(v)
	}
	if err != nil {
		return nil, err
	}
	header := wire.MessageHeader{Version: wire.WireVersion, Type: mt, ConsensusType: ct, PayloadSize: uint32(len(body))}
	headerBytes, err := header.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(headerBytes, body...), nil
}
