// Package pendingcache implements the dependency-resolution forest that
// lets blocks committed out of order (a micro block arriving before one
// of the request blocks its tips pin, or an epoch block arriving before
// the closing micro block it references) wait for their dependency and
// then release in the correct order, rather than being rejected outright.
//
// Grounded on original_source/logos/cache/{block_container,cache}.hpp:
// a PendingBlockContainer keyed by epoch period, a cached_blocks hash
// set, and a hash_dependency_table chaining blocks behind the hash they
// depend on. This repository's dependency chains (hash -> waiters) are
// the same idea as the C++ BlockChain linked list, expressed as a plain
// map since there is no multi_index_container dependency in this stack.
package pendingcache

import (
	"sync"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
)

// Entry is one block parked in the cache awaiting its dependency.
type Entry struct {
	Kind      consensus.ChainKind
	Epoch     uint32
	Digest    chain.Hash
	DependsOn chain.Hash
	Proposal  consensus.Proposal
}

// ReleaseFunc is called, in dependency order, once an Entry's
// prerequisite has been satisfied. The cache's single writer domain
// guarantee means release is always invoked sequentially from whichever
// goroutine called Add — never concurrently.
type ReleaseFunc func(*Entry)

// MissingFunc is called the first time something parks behind a
// dependency hash the cache has not seen released or cached, the signal
// a catch-up collaborator uses to issue a single-block pull for that
// hash rather than waiting indefinitely on gossip to produce it.
type MissingFunc func(kind consensus.ChainKind, dependsOn chain.Hash)

// Cache holds out-of-order blocks until their dependency arrives.
type Cache struct {
	mu sync.Mutex

	onRelease ReleaseFunc
	onMissing MissingFunc

	cached   map[chain.Hash]bool
	released map[chain.Hash]bool
	epochOf  map[chain.Hash]uint32
	waiting  map[chain.Hash][]*Entry
}

// New returns an empty cache that invokes onRelease for every entry as
// its dependency resolves.
func New(onRelease ReleaseFunc) *Cache {
	return &Cache{
		onRelease: onRelease,
		cached:    make(map[chain.Hash]bool),
		released:  make(map[chain.Hash]bool),
		epochOf:   make(map[chain.Hash]uint32),
		waiting:   make(map[chain.Hash][]*Entry),
	}
}

// OnMissing registers fn to be called whenever Add parks an entry
// behind a dependency hash nothing has registered a waiter for yet.
func (c *Cache) OnMissing(fn MissingFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMissing = fn
}

// IsCached reports whether digest has already been added to the cache,
// whether or not it has been released yet.
func (c *Cache) IsCached(digest chain.Hash) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cached[digest] || c.released[digest]
}

// MarkReleased records hash as already applied, without going through
// Add — used for a block applied outside the cache (the node marks each
// block its own consensus engines commit) so blocks depending on it
// release immediately.
func (c *Cache) MarkReleased(hash chain.Hash, epoch uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released[hash] = true
	c.epochOf[hash] = epoch
}

// Add registers e. If its dependency is already released (or is the
// zero-tip sentinel, meaning "no dependency"), e and every entry
// transitively chained behind it release immediately, in order. If e is
// already known, Add is a no-op.
func (c *Cache) Add(e *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached[e.Digest] || c.released[e.Digest] {
		return
	}
	c.cached[e.Digest] = true
	c.epochOf[e.Digest] = e.Epoch

	if e.DependsOn == (chain.Hash{}) || c.released[e.DependsOn] {
		c.release(e)
		return
	}
	firstWaiter := len(c.waiting[e.DependsOn]) == 0
	c.waiting[e.DependsOn] = append(c.waiting[e.DependsOn], e)
	if firstWaiter && c.onMissing != nil {
		c.onMissing(e.Kind, e.DependsOn)
	}
}

// release marks e released, invokes onRelease, and then recursively
// releases anything chained behind e.Digest. Caller holds c.mu.
func (c *Cache) release(e *Entry) {
	c.released[e.Digest] = true
	if c.onRelease != nil {
		c.onRelease(e)
	}
	chained := c.waiting[e.Digest]
	delete(c.waiting, e.Digest)
	for _, next := range chained {
		c.release(next)
	}
}

// Pending reports how many entries on kind's chain are still waiting on
// a dependency, for monitoring.
func (c *Cache) Pending(kind consensus.ChainKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, entries := range c.waiting {
		for _, e := range entries {
			if e.Kind == kind {
				n++
			}
		}
	}
	return n
}

// PruneEpoch discards bookkeeping for every released or cached hash
// whose epoch is strictly before keepFrom, bounding memory growth once a
// period is fully committed and can never again be the target of a
// dependency lookup. Entries still parked in waiting (their dependency
// never arrived) are left alone: pruning them would silently lose a
// real resolution failure instead of surfacing it.
func (c *Cache) PruneEpoch(keepFrom uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stillWaiting := make(map[chain.Hash]bool)
	for _, entries := range c.waiting {
		for _, e := range entries {
			stillWaiting[e.Digest] = true
		}
	}

	for hash, epoch := range c.epochOf {
		if epoch >= keepFrom || stillWaiting[hash] {
			continue
		}
		delete(c.epochOf, hash)
		delete(c.cached, hash)
		delete(c.released, hash)
	}
}
