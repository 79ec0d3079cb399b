package persistence

import (
	"fmt"
	"sync"

	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/chain"
)

// EpochKeySource resolves the BLS public-key table in effect for a given
// epoch: the ValidatorBuilder contract a non-delegate observer uses to
// verify an aggregated PostPrepare/PostCommit signature by reading the
// E-block that elected the signing epoch's delegate set, without running
// full consensus itself.
type EpochKeySource interface {
	KeysForEpoch(epoch uint32) (*bls.KeyStore, error)
}

// InMemoryEpochKeySource implements EpochKeySource over a Manager's
// committed E-blocks, which name the elected delegate accounts, combined
// with BLS public keys advertised out of band via KeyAdvert. It builds one
// bls.KeyStore per requested epoch rather than caching the result, since an
// observer asks for a handful of epochs at most over its lifetime.
type InMemoryEpochKeySource struct {
	mgr *Manager

	mu      sync.Mutex
	adverts map[uint32]map[uint8]bls.PublicKey // epoch -> delegate id -> key
}

// NewInMemoryEpochKeySource returns an EpochKeySource reading mgr's store.
func NewInMemoryEpochKeySource(mgr *Manager) *InMemoryEpochKeySource {
	return &InMemoryEpochKeySource{mgr: mgr, adverts: make(map[uint32]map[uint8]bls.PublicKey)}
}

// OnKeyAdvert records delegateID's BLS public key for epoch, as received
// over a KeyAdvert message ahead of that epoch's first PrePrepare.
func (s *InMemoryEpochKeySource) OnKeyAdvert(epoch uint32, delegateID uint8, key bls.PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDelegate, ok := s.adverts[epoch]
	if !ok {
		byDelegate = make(map[uint8]bls.PublicKey)
		s.adverts[epoch] = byDelegate
	}
	byDelegate[delegateID] = key
}

// KeysForEpoch implements EpochKeySource. epoch's delegate set is elected
// by epoch-1's committed E-block, so KeysForEpoch fails if that block has
// not committed yet, or if one of its elected delegates has not advertised
// a key for epoch.
func (s *InMemoryEpochKeySource) KeysForEpoch(epoch uint32) (*bls.KeyStore, error) {
	if epoch == 0 {
		return nil, fmt.Errorf("persistence: epoch 0 predates any E-block election")
	}

	var electing chain.EpochBlock
	ok, err := getBlock(s.mgr.store, epochByNumberKey(epoch-1), &electing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("persistence: epoch %d not yet elected (no E-block for epoch %d)", epoch, epoch-1)
	}

	s.mu.Lock()
	byDelegate := s.adverts[epoch]
	s.mu.Unlock()

	ks := bls.NewKeyStore()
	for id := range electing.NextDelegates {
		key, ok := byDelegate[uint8(id)]
		if !ok {
			return nil, fmt.Errorf("persistence: delegate %d elected for epoch %d has not advertised a key", id, epoch)
		}
		ks.OnPublicKey(uint8(id), key)
	}
	return ks, nil
}
