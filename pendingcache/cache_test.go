package pendingcache

import (
	"testing"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/consensus"
)

func entry(digest, dependsOn chain.Hash) *Entry {
	return &Entry{Kind: consensus.ChainMicro, Epoch: 1, Digest: digest, DependsOn: dependsOn}
}

func TestOutOfOrderBlocksReleaseOnceDependencyArrives(t *testing.T) {
	var released []chain.Hash
	c := New(func(e *Entry) { released = append(released, e.Digest) })

	a := chain.Hash{1}
	b := chain.Hash{2}
	d := chain.Hash{3}

	// b depends on a, d depends on b: add in reverse order.
	c.Add(entry(d, b))
	c.Add(entry(b, a))

	if len(released) != 0 {
		t.Fatalf("nothing should release before the root dependency arrives, got %v", released)
	}
	if !c.IsCached(d) || !c.IsCached(b) {
		t.Fatal("both out-of-order entries should be cached")
	}

	// a has no dependency of its own: adding it resolves the whole chain.
	c.Add(entry(a, chain.Hash{}))

	if len(released) != 3 {
		t.Fatalf("releasing the root should cascade through the whole chain, got %v", released)
	}
	if released[0] != a || released[1] != b || released[2] != d {
		t.Fatalf("release order = %v, want [a b d]", released)
	}
}

func TestAddIsIdempotentForAlreadyCachedEntry(t *testing.T) {
	var releaseCount int
	c := New(func(e *Entry) { releaseCount++ })

	e := entry(chain.Hash{1}, chain.Hash{})
	c.Add(e)
	c.Add(e)

	if releaseCount != 1 {
		t.Fatalf("re-adding an already-cached entry released it again: count = %d", releaseCount)
	}
}

func TestMarkReleasedSeedsDependencyResolution(t *testing.T) {
	var released []chain.Hash
	c := New(func(e *Entry) { released = append(released, e.Digest) })

	alreadyCommitted := chain.Hash{9}
	c.MarkReleased(alreadyCommitted, 1)

	c.Add(entry(chain.Hash{10}, alreadyCommitted))

	if len(released) != 1 || released[0] != (chain.Hash{10}) {
		t.Fatalf("entry depending on a pre-seeded released hash should release immediately, got %v", released)
	}
}

func TestOnMissingFiresOnceForFirstWaiterOnAHash(t *testing.T) {
	var missing []chain.Hash
	c := New(nil)
	c.OnMissing(func(kind consensus.ChainKind, dependsOn chain.Hash) {
		missing = append(missing, dependsOn)
	})

	dep := chain.Hash{7}
	c.Add(entry(chain.Hash{1}, dep))
	c.Add(entry(chain.Hash{2}, dep))

	if len(missing) != 1 || missing[0] != dep {
		t.Fatalf("expected exactly one missing-dependency notification for %v, got %v", dep, missing)
	}
}

func TestOnMissingDoesNotFireWhenDependencyAlreadyResolved(t *testing.T) {
	var missing []chain.Hash
	c := New(nil)
	c.OnMissing(func(kind consensus.ChainKind, dependsOn chain.Hash) {
		missing = append(missing, dependsOn)
	})

	c.Add(entry(chain.Hash{1}, chain.Hash{}))

	if len(missing) != 0 {
		t.Fatalf("a dependency-free entry should never trigger a missing notification, got %v", missing)
	}
}

func TestPruneEpochKeepsEntriesStillWaiting(t *testing.T) {
	c := New(nil)
	stuck := chain.Hash{1}
	c.Add(entry(chain.Hash{2}, stuck)) // never released: dependency never arrives

	c.PruneEpoch(5)

	if !c.IsCached(chain.Hash{2}) {
		t.Fatal("PruneEpoch must not drop a hash that is still chained behind an unresolved dependency")
	}
}
