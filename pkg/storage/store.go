package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/shrub-finance/shrub-go/pkg/chain"
)

// Store persists order announcements and transaction receipts in
// Pebble so a restarted devnet node keeps its order history.
//
// keys: a:<32-byte position hash><8-byte BE height><32-byte tx hash>,
//       r:<32-byte tx hash>
type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func kAnnouncement(positionHash common.Hash, height uint64, txHash common.Hash) []byte {
	key := make([]byte, 0, 2+32+8+32)
	key = append(key, []byte("a:")...)
	key = append(key, positionHash[:]...)
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	key = append(key, h[:]...)
	key = append(key, txHash[:]...)
	return key
}

func kReceipt(txHash common.Hash) []byte {
	return append([]byte("r:"), txHash[:]...)
}

// SaveAnnouncement durably records an announced order.
func (s *Store) SaveAnnouncement(positionHash common.Hash, ann *chain.Announcement) error {
	val, err := json.Marshal(ann)
	if err != nil {
		return fmt.Errorf("marshal announcement: %w", err)
	}
	key := kAnnouncement(positionHash, ann.BlockHeight, ann.TxHash)
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("save announcement: %w", err)
	}
	return nil
}

// LoadAnnouncements returns all persisted announcements grouped by
// contract, in block height order. Used to restore chain history on
// startup.
func (s *Store) LoadAnnouncements() (map[common.Hash][]*chain.Announcement, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("a:"),
		UpperBound: []byte("a;"), // ';' is ':'+1
	})
	if err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}
	defer iter.Close()

	out := make(map[common.Hash][]*chain.Announcement)
	for iter.First(); iter.Valid(); iter.Next() {
		var positionHash common.Hash
		copy(positionHash[:], iter.Key()[2:34])

		var ann chain.Announcement
		if err := json.Unmarshal(iter.Value(), &ann); err != nil {
			return nil, fmt.Errorf("decode announcement: %w", err)
		}
		out[positionHash] = append(out[positionHash], &ann)
	}
	return out, iter.Error()
}

// SaveReceipt durably records a mined receipt.
func (s *Store) SaveReceipt(r *chain.Receipt) error {
	val, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	if err := s.db.Set(kReceipt(r.TxHash), val, pebble.Sync); err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

// GetReceipt fetches a persisted receipt by transaction hash.
func (s *Store) GetReceipt(txHash common.Hash) (*chain.Receipt, bool, error) {
	val, closer, err := s.db.Get(kReceipt(txHash))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get receipt: %w", err)
	}
	defer closer.Close()

	var r chain.Receipt
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, false, fmt.Errorf("decode receipt: %w", err)
	}
	return &r, true, nil
}

var _ chain.Store = (*Store)(nil)
