package request

import (
	"container/heap"
	"sync"
	"time"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
)

// waitingEntry is one proposal parked awaiting either its primary's
// PostCommit or promotion of a secondary proposer once its timeout
// elapses.
type waitingEntry struct {
	hash       chain.Hash
	proposal   consensus.Proposal
	expiration time.Time
	index      int // heap index, maintained by container/heap
}

type expirationHeap []*waitingEntry

func (h expirationHeap) Len() int            { return len(h) }
func (h expirationHeap) Less(i, j int) bool  { return h[i].expiration.Before(h[j].expiration) }
func (h expirationHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *expirationHeap) Push(x interface{}) {
	e := x.(*waitingEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *expirationHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// WaitingList parks proposals a backup has seen but whose primary has
// gone quiet, promoting them to a secondary proposer once REQUEST_TIMEOUT
// elapses without a PostCommit. Grounded on the multi_index structure of
// logos/consensus/waiting_list.hpp: entries are indexed both by hash (for
// Contains/dedup) and by expiration (for ordered promotion).
type WaitingList struct {
	mu      sync.Mutex
	byHash  map[chain.Hash]*waitingEntry
	byTime  expirationHeap
}

// NewWaitingList returns an empty waiting list.
func NewWaitingList() *WaitingList {
	return &WaitingList{byHash: make(map[chain.Hash]*waitingEntry)}
}

// Contains reports whether hash is already parked.
func (w *WaitingList) Contains(hash chain.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.byHash[hash]
	return ok
}

// OnMessage parks proposal, to be promoted after timeout unless OnPostCommit
// prunes it first.
func (w *WaitingList) OnMessage(proposal consensus.Proposal, timeout time.Duration, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	hash := proposal.Digest()
	if _, ok := w.byHash[hash]; ok {
		return
	}
	e := &waitingEntry{hash: hash, proposal: proposal, expiration: now.Add(timeout)}
	w.byHash[hash] = e
	heap.Push(&w.byTime, e)
}

// OnPostCommit removes every parked entry for the same (epoch, sequence)
// slot as committed, since a slot admits only one winning proposal and
// the rest are now permanently stale.
func (w *WaitingList) OnPostCommit(committed consensus.Proposal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for hash, e := range w.byHash {
		if e.proposal.Epoch() == committed.Epoch() && e.proposal.Sequence() == committed.Sequence() {
			w.remove(hash)
		}
	}
}

// PopExpired removes and returns every entry whose expiration is at or
// before now, in expiration order, for the caller to hand to its
// secondary-proposer promotion logic.
func (w *WaitingList) PopExpired(now time.Time) []consensus.Proposal {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []consensus.Proposal
	for w.byTime.Len() > 0 && !w.byTime[0].expiration.After(now) {
		e := heap.Pop(&w.byTime).(*waitingEntry)
		delete(w.byHash, e.hash)
		out = append(out, e.proposal)
	}
	return out
}

// Clear empties the waiting list, used when an epoch transition
// invalidates every parked proposal's context.
func (w *WaitingList) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.byHash = make(map[chain.Hash]*waitingEntry)
	w.byTime = nil
}

// remove deletes hash's entry from both indices. Caller holds w.mu.
func (w *WaitingList) remove(hash chain.Hash) {
	e, ok := w.byHash[hash]
	if !ok {
		return
	}
	delete(w.byHash, hash)
	if e.index >= 0 {
		heap.Remove(&w.byTime, e.index)
	}
}
