package netdelegate

import (
	"math/big"
	"testing"
	"time"

	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
	"github.com/delegatechain/core/wire"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePrePrepareRoundTripsPerChainKind(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()

	cases := []struct {
		kind     consensus.ChainKind
		proposal consensus.Proposal
	}{
		{consensus.ChainRequest, consensus.RequestProposal{Block: &chain.RequestBlock{
			Epoch: 3, Sequence: 7, PrimaryDelegate: 2, Timestamp: ts,
		}}},
		{consensus.ChainMicro, consensus.MicroProposal{Block: &chain.MicroBlock{
			Epoch: 3, Sequence: 11, Timestamp: ts,
		}}},
		{consensus.ChainEpoch, consensus.EpochProposal{Block: &chain.EpochBlock{
			Epoch: 4, TransactionFeePool: big.NewInt(0), TotalSupply: big.NewInt(0),
		}}},
	}

	for _, tc := range cases {
		in := &consensus.PrePrepareMessage{
			Kind:      tc.kind,
			Epoch:     tc.proposal.Epoch(),
			Sequence:  tc.proposal.Sequence(),
			Timestamp: ts,
			Primary:   2,
			Digest:    tc.proposal.Digest(),
			Proposal:  tc.proposal,
		}

		encoded, err := encodePrePrepare(in)
		require.NoError(t, err)

		out, err := decodePrePrepare(tc.kind, encoded)
		require.NoError(t, err)

		require.Equal(t, in.Kind, out.Kind)
		require.Equal(t, in.Epoch, out.Epoch)
		require.Equal(t, in.Sequence, out.Sequence)
		require.Equal(t, in.Primary, out.Primary)
		require.Equal(t, in.Digest, out.Digest)
		require.Equal(t, in.Proposal.Digest(), out.Proposal.Digest())
	}
}

func TestDecodePrePrepareRejectsUnknownChainKind(t *testing.T) {
	_, err := decodePrePrepare(consensus.ChainKind(99), []byte{})
	require.Error(t, err)
}

func TestEncodeFrameProducesHeaderMatchingBody(t *testing.T) {
	msg := &consensus.PrepareMessage{
		Kind: consensus.ChainRequest, Digest: chain.Hash{1, 2, 3}, DelegateID: 5,
		Partial: bls.Signature{9},
	}
	encoded, err := encodeFrame(wire.MessagePrepare, wire.ConsensusRequest, msg)
	require.NoError(t, err)
	require.True(t, len(encoded) > wire.HeaderSize)

	var header wire.MessageHeader
	require.NoError(t, header.UnmarshalBinary(encoded[:wire.HeaderSize]))
	require.Equal(t, wire.MessagePrepare, header.Type)
	require.Equal(t, wire.ConsensusRequest, header.ConsensusType)
	require.Equal(t, uint32(len(encoded)-wire.HeaderSize), header.PayloadSize)

	var out consensus.PrepareMessage
	require.NoError(t, wire.Decode(encoded[wire.HeaderSize:], &out))
	require.Equal(t, msg.DelegateID, out.DelegateID)
	require.Equal(t, msg.Digest, out.Digest)
}

func TestEncodeFrameDispatchesPrePrepareThroughEnvelopeCodec(t *testing.T) {
	block := &chain.RequestBlock{Epoch: 1, Sequence: 1, PrimaryDelegate: 0}
	msg := &consensus.PrePrepareMessage{
		Kind: consensus.ChainRequest, Epoch: 1, Sequence: 1,
		Primary: 0, Digest: block.Digest(),
		Proposal: consensus.RequestProposal{Block: block},
	}
	encoded, err := encodeFrame(wire.MessagePrePrepare, wire.ConsensusRequest, msg)
	require.NoError(t, err)

	var header wire.MessageHeader
	require.NoError(t, header.UnmarshalBinary(encoded[:wire.HeaderSize]))

	out, err := decodePrePrepare(header.ConsensusType, encoded[wire.HeaderSize:])
	require.NoError(t, err)
	require.Equal(t, msg.Digest, out.Digest)
}
