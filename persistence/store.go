// Package persistence implements the account/reservation ledger model,
// block validation and application, and the on-disk store backing it.
//
// Grounded on original_source/logos/consensus/persistence/persistence.hpp
// (the shared clock-drift/timestamp-validation base) and
// original_source/logos/consensus/persistence/batchblock/batchblock_persistence.hpp
// (PersistenceManager<BatchStateBlock>'s ApplyUpdates/Validate surface,
// RESERVATION_PERIOD, MIN_TRANSACTION_FEE constants — now chain.ReservationPeriod
// and chain.MinTransactionFee).
package persistence

import (
	"encoding/binary"
	"encoding/json"
	"errors"

	"github.com/delegatechain/core/chain"
	"github.com/delegatechain/core/wire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key prefixes partition a single goleveldb database into the named
// buckets separate LMDB databases would otherwise provide; goleveldb has
// no native named-database concept, so byte prefixes on one keyspace
// take their place.
var (
	prefixAccount     = []byte{0x01}
	prefixRequestTip  = []byte{0x03} // per-delegate R-chain head
	prefixMicroTip    = []byte{0x04}
	prefixEpochTip    = []byte{0x05}
	prefixRequestByID = []byte{0x06}
	prefixMicroByID   = []byte{0x07}
	prefixEpochByID   = []byte{0x08}
	prefixEpochByNum  = []byte{0x09} // epoch number -> E-block, for ValidatorBuilder lookups
)

// ErrNotFound names a missing key. Store.Get reports a miss as ok=false
// rather than returning this error.
var ErrNotFound = errors.New("persistence: not found")

// Store is the durable key-value layer a Manager operates on.
type Store interface {
	Get(key []byte) ([]byte, bool, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}

// LevelStore is a Store backed by goleveldb, the embedded KV engine this
// node uses for all persistent state.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (creating if absent) a goleveldb database at dir.
func OpenLevelStore(dir string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, err
	}
	return &LevelStore{db: db}, nil
}

func (s *LevelStore) Get(key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *LevelStore) Put(key, value []byte) error {
	return s.db.Put(key, value, nil)
}

func (s *LevelStore) Delete(key []byte) error {
	return s.db.Delete(key, nil)
}

func (s *LevelStore) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *LevelStore) Close() error { return s.db.Close() }

func accountKey(addr chain.Address) []byte  { return append(append([]byte{}, prefixAccount...), addr[:]...) }
func requestTipKey(delegateID uint8) []byte { return append(append([]byte{}, prefixRequestTip...), delegateID) }
func requestByIDKey(digest chain.Hash) []byte  { return append(append([]byte{}, prefixRequestByID...), digest[:]...) }
func microByIDKey(digest chain.Hash) []byte    { return append(append([]byte{}, prefixMicroByID...), digest[:]...) }
func epochByIDKey(digest chain.Hash) []byte    { return append(append([]byte{}, prefixEpochByID...), digest[:]...) }

func epochByNumberKey(epoch uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], epoch)
	return append(append([]byte{}, prefixEpochByNum...), buf[:]...)
}

var microTipKey = append([]byte{}, prefixMicroTip...)
var epochTipKey = append([]byte{}, prefixEpochTip...)

// putBlock RLP-encodes a consensus object (the same encoding used for its
// canonical hash) and stores it under key.
func putBlock(s Store, key []byte, v interface{}) error {
	enc, err := wire.Encode(v)
	if err != nil {
		return err
	}
	return s.Put(key, enc)
}

// getBlock loads and RLP-decodes the value at key into v, returning
// ok=false if the key is absent.
func getBlock(s Store, key []byte, v interface{}) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, wire.Decode(data, v)
}

// putState JSON-encodes ledger state (accounts, reservations) and stores
// it under key. Account and TokenEntry carry map fields, which RLP
// cannot encode, so ledger state uses JSON rather than the canonical RLP
// codec reserved for hashed consensus objects.
func putState(s Store, key []byte, v interface{}) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(key, enc)
}

func getState(s Store, key []byte, v interface{}) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}
