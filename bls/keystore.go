package bls

import (
	"fmt"
	"sync"
)

// KeyStore holds the per-epoch table mapping delegate id to BLS public
// key, populated from the EpochBlock that elected the set or from a
// KeyAdvert message during the connecting phase of an epoch transition.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[uint8]PublicKey
}

// NewKeyStore returns an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[uint8]PublicKey)}
}

// OnPublicKey records delegateID's public key, overwriting any prior
// entry — the C++ original tolerates redundant adverts from the same
// delegate and so does this one.
func (s *KeyStore) OnPublicKey(delegateID uint8, key PublicKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[delegateID] = key
}

// GetPublicKey returns the public key for delegateID, or false if it has
// not been advertised yet.
func (s *KeyStore) GetPublicKey(delegateID uint8) (PublicKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pk, ok := s.keys[delegateID]
	return pk, ok
}

// GetAggregatedPublicKey builds the aggregate public key for every
// delegate id set in bitmap, in ascending delegate-id order (so the
// result is deterministic regardless of map iteration order).
func (s *KeyStore) GetAggregatedPublicKey(bitmap [32]bool) (PublicKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var selected []PublicKey
	for id := 0; id < len(bitmap); id++ {
		if !bitmap[id] {
			continue
		}
		pk, ok := s.keys[uint8(id)]
		if !ok {
			return PublicKey{}, fmt.Errorf("bls: no public key advertised for delegate %d", id)
		}
		selected = append(selected, pk)
	}
	return AggregatePublicKeys(selected)
}

// Clear empties the table; used when an epoch-period's key table has
// been superseded and is about to be garbage collected.
func (s *KeyStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[uint8]PublicKey)
}
