package consensus

import (
	"testing"
	"time"

	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/chain"
)

// fakeNetwork wires N engines together in-process, delivering every
// broadcast/unicast synchronously so a test can drive a full round
// without a real transport.
type fakeNetwork struct {
	engines map[uint8]*Engine
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{engines: make(map[uint8]*Engine)}
}

type fakeTransport struct {
	net  *fakeNetwork
	self uint8
}

func (t *fakeTransport) BroadcastPrePrepare(msg *PrePrepareMessage) {
	for id, e := range t.net.engines {
		if id == t.self {
			continue
		}
		e.OnPrePrepare(msg)
	}
}

func (t *fakeTransport) SendPrepareToPrimary(primary uint8, msg *PrepareMessage) {
	t.net.engines[primary].OnPrepare(msg)
}

func (t *fakeTransport) BroadcastPostPrepare(msg *PostPrepareMessage) {
	for id, e := range t.net.engines {
		if id == t.self {
			continue
		}
		e.OnPostPrepare(msg)
	}
}

func (t *fakeTransport) SendCommitToPrimary(primary uint8, msg *CommitMessage) {
	t.net.engines[primary].OnCommit(msg)
}

func (t *fakeTransport) BroadcastPostCommit(msg *PostCommitMessage) {
	for id, e := range t.net.engines {
		if id == t.self {
			continue
		}
		e.OnPostCommit(msg)
	}
}

func (t *fakeTransport) SendRejectionToPrimary(primary uint8, msg *RejectionMessage) {
	t.net.engines[primary].OnRejection(msg, 0, 0)
}

type fakeValidator struct{ reject bool }

func (v *fakeValidator) ValidatePrePrepare(kind ChainKind, p Proposal, primary uint8, ts time.Time) (RejectionReason, []bool, error) {
	if v.reject {
		return RejectionBadSignature, nil, errBadProposal
	}
	return 0, nil, nil
}

var errBadProposal = &validateError{"proposal rejected"}

type validateError struct{ s string }

func (e *validateError) Error() string { return e.s }

type fakeApplier struct{ applied []Proposal }

func (a *fakeApplier) Apply(kind ChainKind, p Proposal) error {
	a.applied = append(a.applied, p)
	return nil
}

type fakeBatcher struct {
	queue   []Proposal
	restore []Proposal
}

func (b *fakeBatcher) NextProposal(kind ChainKind) (Proposal, bool) {
	if len(b.queue) == 0 {
		return nil, false
	}
	p := b.queue[0]
	b.queue = b.queue[1:]
	return p, true
}

func (b *fakeBatcher) Restore(kind ChainKind, p Proposal) {
	b.restore = append(b.restore, p)
}

func testProposal(seq uint32) Proposal {
	return RequestProposal{Block: &chain.RequestBlock{
		Epoch:    1,
		Sequence: seq,
	}}
}

func buildHarness(t *testing.T, n int, reject bool) (map[uint8]*Engine, map[uint8]*fakeApplier, map[uint8]*fakeBatcher, StakeTable) {
	t.Helper()
	stakes := make(StakeTable)
	keyStore := bls.NewKeyStore()
	secrets := make(map[uint8]*bls.SecretKey)
	for i := 0; i < n; i++ {
		ikm := make([]byte, 32)
		ikm[0] = byte(i + 1)
		sk, err := bls.GenerateSecretKey(ikm)
		if err != nil {
			t.Fatalf("generating key %d: %v", i, err)
		}
		secrets[uint8(i)] = sk
		keyStore.OnPublicKey(uint8(i), sk.PublicKey())
		stakes[uint8(i)] = 1
	}

	net := newFakeNetwork()
	appliers := make(map[uint8]*fakeApplier)
	batchers := make(map[uint8]*fakeBatcher)
	primaryFor := func(epoch, sequence uint32) uint8 { return 0 }

	for i := 0; i < n; i++ {
		id := uint8(i)
		applier := &fakeApplier{}
		batcher := &fakeBatcher{}
		if id == 0 {
			batcher.queue = append(batcher.queue, testProposal(1))
		}
		appliers[id] = applier
		batchers[id] = batcher

		net.engines[id] = NewEngine(EngineConfig{
			Kind:       ChainRequest,
			SelfID:     id,
			Stakes:     stakes,
			Keys:       keyStore,
			SelfKey:    secrets[id],
			Validator:  &fakeValidator{reject: reject},
			Applier:    applier,
			Batcher:    batcher,
			Transport:  &fakeTransport{net: net, self: id},
			PrimaryFor: primaryFor,
			Now:        func() time.Time { return time.Unix(1000, 0) },
		})
	}
	return net.engines, appliers, batchers, stakes
}

func TestEngineFullRoundTripAppliesOnEveryDelegate(t *testing.T) {
	engines, appliers, _, _ := buildHarness(t, 4, false)

	if err := engines[0].Propose(1, 1); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	for id, a := range appliers {
		if len(a.applied) != 1 {
			t.Fatalf("delegate %d applied %d proposals, want 1", id, len(a.applied))
		}
	}
	for id, e := range engines {
		if got := e.Phase(); got != PhaseIdle {
			t.Fatalf("delegate %d ended in phase %v, want Idle", id, got)
		}
	}
}

func TestEngineRejectionAbandonsBatchAfterQuorumBlockingVotes(t *testing.T) {
	engines, appliers, batchers, _ := buildHarness(t, 4, true)

	if err := engines[0].Propose(1, 1); err != nil {
		t.Fatalf("Propose: %v", err)
	}

	for id, a := range appliers {
		if len(a.applied) != 0 {
			t.Fatalf("delegate %d applied a rejected proposal", id)
		}
	}
	if len(batchers[0].restore) != 1 {
		t.Fatalf("primary did not restore the abandoned batch, got %d restores", len(batchers[0].restore))
	}
	if got := engines[0].Phase(); got != PhaseIdle && got != PhaseRejected {
		t.Fatalf("primary ended in phase %v after abandoning with an empty queue", got)
	}
}

// recordingTransport never auto-delivers, letting a test drive an
// engine's inbound handlers directly and inspect what it would have
// sent.
type recordingTransport struct {
	prePrepares  []*PrePrepareMessage
	postPrepares []*PostPrepareMessage
	postCommits  []*PostCommitMessage
}

func (r *recordingTransport) BroadcastPrePrepare(msg *PrePrepareMessage)   { r.prePrepares = append(r.prePrepares, msg) }
func (r *recordingTransport) SendPrepareToPrimary(uint8, *PrepareMessage) {}
func (r *recordingTransport) BroadcastPostPrepare(msg *PostPrepareMessage) {
	r.postPrepares = append(r.postPrepares, msg)
}
func (r *recordingTransport) SendCommitToPrimary(uint8, *CommitMessage) {}
func (r *recordingTransport) BroadcastPostCommit(msg *PostCommitMessage) {
	r.postCommits = append(r.postCommits, msg)
}
func (r *recordingTransport) SendRejectionToPrimary(uint8, *RejectionMessage) {}

func TestEngineIgnoresDuplicatePrepareVote(t *testing.T) {
	n := 4
	stakes := make(StakeTable)
	keyStore := bls.NewKeyStore()
	secrets := make(map[uint8]*bls.SecretKey)
	for i := 0; i < n; i++ {
		ikm := make([]byte, 32)
		ikm[0] = byte(i + 1)
		sk, err := bls.GenerateSecretKey(ikm)
		if err != nil {
			t.Fatalf("generating key %d: %v", i, err)
		}
		secrets[uint8(i)] = sk
		keyStore.OnPublicKey(uint8(i), sk.PublicKey())
		stakes[uint8(i)] = 1
	}
	transport := &recordingTransport{}
	batcher := &fakeBatcher{queue: []Proposal{testProposal(1)}}
	primary := NewEngine(EngineConfig{
		Kind:       ChainRequest,
		SelfID:     0,
		Stakes:     stakes,
		Keys:       keyStore,
		SelfKey:    secrets[0],
		Validator:  &fakeValidator{},
		Applier:    &fakeApplier{},
		Batcher:    batcher,
		Transport:  transport,
		PrimaryFor: func(uint32, uint32) uint8 { return 0 },
		Now:        func() time.Time { return time.Unix(1000, 0) },
	})

	if err := primary.Propose(1, 1); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	digest := transport.prePrepares[0].Digest

	partial := secrets[1].Sign(digest[:])
	vote := &PrepareMessage{Kind: ChainRequest, Digest: digest, DelegateID: 1, Partial: partial}
	if err := primary.OnPrepare(vote); err != nil {
		t.Fatalf("first Prepare: %v", err)
	}
	if err := primary.OnPrepare(vote); err != ErrDuplicateVote {
		t.Fatalf("second Prepare from same delegate: got %v, want ErrDuplicateVote", err)
	}
}

func TestEngineRejectsUnknownDelegate(t *testing.T) {
	n := 4
	stakes := make(StakeTable)
	keyStore := bls.NewKeyStore()
	for i := 0; i < n; i++ {
		ikm := make([]byte, 32)
		ikm[0] = byte(i + 1)
		sk, err := bls.GenerateSecretKey(ikm)
		if err != nil {
			t.Fatalf("generating key %d: %v", i, err)
		}
		keyStore.OnPublicKey(uint8(i), sk.PublicKey())
		stakes[uint8(i)] = 1
	}
	transport := &recordingTransport{}
	batcher := &fakeBatcher{queue: []Proposal{testProposal(1)}}
	primary := NewEngine(EngineConfig{
		Kind:       ChainRequest,
		SelfID:     0,
		Stakes:     stakes,
		Keys:       keyStore,
		SelfKey:    mustKeyAt(t, 0),
		Validator:  &fakeValidator{},
		Applier:    &fakeApplier{},
		Batcher:    batcher,
		Transport:  transport,
		PrimaryFor: func(uint32, uint32) uint8 { return 0 },
		Now:        func() time.Time { return time.Unix(1000, 0) },
	})
	if err := primary.Propose(1, 1); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	digest := transport.prePrepares[0].Digest
	vote := &PrepareMessage{Kind: ChainRequest, Digest: digest, DelegateID: 99, Partial: bls.Signature{}}
	if err := primary.OnPrepare(vote); err != ErrUnknownDelegate {
		t.Fatalf("got %v, want ErrUnknownDelegate", err)
	}
}

func TestEngineRejectsPrePrepareFromWrongPrimary(t *testing.T) {
	n := 4
	stakes := make(StakeTable)
	keyStore := bls.NewKeyStore()
	for i := 0; i < n; i++ {
		keyStore.OnPublicKey(uint8(i), mustKeyAt(t, i).PublicKey())
		stakes[uint8(i)] = 1
	}
	backup := NewEngine(EngineConfig{
		Kind:       ChainRequest,
		SelfID:     1,
		Stakes:     stakes,
		Keys:       keyStore,
		SelfKey:    mustKeyAt(t, 1),
		Validator:  &fakeValidator{},
		Applier:    &fakeApplier{},
		Batcher:    &fakeBatcher{},
		Transport:  &recordingTransport{},
		PrimaryFor: func(uint32, uint32) uint8 { return 0 },
		Now:        func() time.Time { return time.Unix(1000, 0) },
	})

	p := testProposal(1)
	msg := &PrePrepareMessage{
		Kind:      ChainRequest,
		Epoch:     1,
		Sequence:  1,
		Timestamp: time.Unix(1000, 0),
		Primary:   2, // not delegate 0, the round's actual primary per PrimaryFor
		Digest:    p.Digest(),
		Proposal:  p,
	}
	if err := backup.OnPrePrepare(msg); err != ErrWrongPrimary {
		t.Fatalf("got %v, want ErrWrongPrimary", err)
	}
}

func mustKeyAt(t *testing.T, i int) *bls.SecretKey {
	t.Helper()
	ikm := make([]byte, 32)
	ikm[0] = byte(i + 1)
	sk, err := bls.GenerateSecretKey(ikm)
	if err != nil {
		t.Fatalf("generating key %d: %v", i, err)
	}
	return sk
}
