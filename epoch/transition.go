// Package epoch implements the phased delegate-set rotation that
// happens at every epoch boundary: a Connecting window where the next
// set's keys are advertised, a transition-start window, the instant the
// new set becomes active, and the steady "no transition in progress"
// state.
//
// Grounded on original_source/logos/epoch/epoch_transition.hpp's
// EpochTransitionState / EpochTransitionDelegate / EpochConnection enums,
// renamed to this repository's vocabulary.
package epoch

import (
	"sync"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/governance"
)

// State is the phase of an in-progress (or absent) epoch transition.
type State uint8

const (
	// Connecting spans roughly [-5min, -20s) of the epoch boundary: the
	// next delegate set advertises its BLS keys and establishes
	// connections ahead of taking over.
	Connecting State = iota
	// TransitionStart spans [-20s, 0): both sets are live, the outgoing
	// set finishes closing its chains.
	TransitionStart
	// EpochStart spans [0, +20s): the new set is authoritative but the
	// outgoing set's sockets are not yet torn down.
	EpochStart
	// None means no transition is in progress.
	None
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case TransitionStart:
		return "TransitionStart"
	case EpochStart:
		return "EpochStart"
	case None:
		return "None"
	default:
		return "Unknown"
	}
}

// Role is a delegate's standing relative to an in-progress transition.
type Role uint8

const (
	RoleNew Role = iota
	RolePersistent
	RolePersistentRejecting
	RoleRetiring
	RoleRetiringForwardOnly
	RoleNone
)

func (r Role) String() string {
	names := [...]string{
		"New", "Persistent", "PersistentRejecting", "Retiring",
		"RetiringForwardOnly", "None",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return "Unknown"
}

// ComputeRole derives a delegate's Role from its membership in the
// current and next delegate sets. rejecting marks a delegate that
// qualified to persist but declined to (EpochTransitionDelegate's
// PersistentReject case). forwardOnly marks a retiring delegate that has
// reached EpochStart and should keep forwarding in-flight messages
// without voting.
func ComputeRole(inCurrent, inNext, rejecting, forwardOnly bool) Role {
	switch {
	case inCurrent && inNext && rejecting:
		return RolePersistentRejecting
	case inCurrent && inNext:
		return RolePersistent
	case !inCurrent && inNext:
		return RoleNew
	case inCurrent && !inNext && forwardOnly:
		return RoleRetiringForwardOnly
	case inCurrent && !inNext:
		return RoleRetiring
	default:
		return RoleNone
	}
}

// Connection selects which delegate set a network layer should dial.
type Connection uint8

const (
	ConnTransitioning Connection = iota
	ConnWaitingDisconnect
	ConnCurrent
)

func (c Connection) String() string {
	switch c {
	case ConnTransitioning:
		return "Transitioning"
	case ConnWaitingDisconnect:
		return "WaitingDisconnect"
	case ConnCurrent:
		return "Current"
	default:
		return "Unknown"
	}
}

// ConnectionFor maps a transition State to the Connection a network
// layer should maintain.
func ConnectionFor(s State) Connection {
	switch s {
	case Connecting, TransitionStart:
		return ConnTransitioning
	case EpochStart:
		return ConnWaitingDisconnect
	default:
		return ConnCurrent
	}
}

// delegateSet is a fixed committee of NumDelegates accounts, searchable
// by address.
type delegateSet [chain.NumDelegates]chain.ElectedDelegate

func (s delegateSet) contains(addr chain.Address) bool {
	for _, d := range s {
		if d.Account == addr {
			return true
		}
	}
	return false
}

// Transition supervises one delegate's view of the epoch rotation: the
// current epoch number, phase, the active and (during a transition)
// next delegate sets, and any pending recall.
type Transition struct {
	mu sync.Mutex

	self    chain.Address
	epoch   uint32
	state   State
	current delegateSet
	next    delegateSet
	hasNext bool

	rejecting map[chain.Address]bool
	recallCh  chan governance.RecallRequest
}

// New returns a Transition in steady state (no transition in progress)
// at the given epoch and active delegate set.
func New(self chain.Address, epoch uint32, current [chain.NumDelegates]chain.ElectedDelegate) *Transition {
	return &Transition{
		self:      self,
		epoch:     epoch,
		state:     None,
		current:   current,
		rejecting: make(map[chain.Address]bool),
		recallCh:  make(chan governance.RecallRequest, 1),
	}
}

// Epoch returns the currently active epoch number.
func (t *Transition) Epoch() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}

// State returns the current transition phase.
func (t *Transition) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// BeginConnecting moves into the Connecting phase with the delegate set
// the closing EpochBlock elected for the following epoch.
func (t *Transition) BeginConnecting(next [chain.NumDelegates]chain.ElectedDelegate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.next = next
	t.hasNext = true
	t.state = Connecting
}

// AdvanceTo moves the transition into state, which must be later than
// Connecting in the phase sequence; it is a no-op if a later state has
// already been reached.
func (t *Transition) AdvanceTo(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state > t.state {
		t.state = state
	}
}

// MarkRejecting records that addr, though eligible to persist into the
// next set, has declined to continue.
func (t *Transition) MarkRejecting(addr chain.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejecting[addr] = true
}

// RoleOf returns addr's Role given the current transition phase. With no
// next set pending, a member of the current set is Persistent.
func (t *Transition) RoleOf(addr chain.Address) Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	inCurrent := t.current.contains(addr)
	inNext := t.hasNext && t.next.contains(addr)
	if !t.hasNext {
		inNext = inCurrent
	}
	forwardOnly := t.state == EpochStart
	return ComputeRole(inCurrent, inNext, t.rejecting[addr], forwardOnly)
}

// Connection returns the Connection a network layer should maintain
// given the current transition phase.
func (t *Transition) Connection() Connection {
	return ConnectionFor(t.State())
}

// Commit finalizes the transition: the next set becomes current, the
// epoch advances, and the transition returns to None. Called once the
// new epoch's first micro block has committed.
func (t *Transition) Commit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.hasNext {
		return
	}
	t.current = t.next
	t.hasNext = false
	t.epoch++
	t.state = None
	t.rejecting = make(map[chain.Address]bool)
}

// Recall returns the channel a supervisor should select on for recall
// signals; TriggerRecall is its only writer.
func (t *Transition) Recall() <-chan governance.RecallRequest {
	return t.recallCh
}

// TriggerRecall forces the named delegate (identified by its index in
// the active 32-member committee) to be treated as rejecting at the next
// transition and publishes req on the Recall channel. Non-blocking: a
// recall already pending and unconsumed is not queued twice.
func (t *Transition) TriggerRecall(req governance.RecallRequest) {
	t.mu.Lock()
	if int(req.DelegateID) < len(t.current) {
		t.rejecting[t.current[req.DelegateID].Account] = true
	}
	t.mu.Unlock()

	select {
	case t.recallCh <- req:
	default:
	}
}

// GapValid reports whether a message stamped with msgEpoch is close
// enough to localEpoch to be worth validating, rather than discarded
// outright as hopelessly stale or impossibly far in the future.
func GapValid(localEpoch, msgEpoch uint32) bool {
	var diff uint32
	if msgEpoch >= localEpoch {
		diff = msgEpoch - localEpoch
	} else {
		diff = localEpoch - msgEpoch
	}
	return diff <= chain.InvalidEpochGap
}
