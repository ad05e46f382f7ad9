package core

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BlockStore is the content-addressed persistence layer: block
// bytes, transaction bytes, small per-block metadata, and a
// (chain, dot) -> hash index, backed by a single bbolt database with one
// bucket per logical table.
type BlockStore struct {
	db *bolt.DB
}

var (
	blocksBucket = []byte("blocks")
	txsBucket    = []byte("txs")
	extrasBucket = []byte("extras")
	dotsBucket   = []byte("dots")
)

// OpenBlockStore opens (creating if absent) the bbolt database at path and
// ensures all four logical tables exist.
func OpenBlockStore(path string) (*BlockStore, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{blocksBucket, txsBucket, extrasBucket, dotsBucket} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init block store buckets: %w", err)
	}
	return &BlockStore{db: db}, nil
}

// dotKey encodes chain_id‖seq(8 bytes BE)‖short_hash into the dots-table
// key space.
func dotKey(chainID ChainId, dot Dot) []byte {
	key := make([]byte, 0, len(chainID)+8+ShortHashLen)
	key = append(key, chainID...)
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], uint64(dot.Seq))
	key = append(key, seqBuf[:]...)
	key = append(key, dot.Short[:]...)
	return key
}

// PutBlock idempotently stores a block's canonical bytes under its hash.
func (s *BlockStore) PutBlock(hash Hash, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).Put(hash[:], blob)
	})
}

// GetBlock returns the block bytes for hash, or ok=false if absent.
func (s *BlockStore) GetBlock(hash Hash) (blob []byte, ok bool) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(blocksBucket).Get(hash[:]); v != nil {
			blob = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return blob, ok
}

// Has reports whether hash is already known to the store.
func (s *BlockStore) Has(hash Hash) bool {
	_, ok := s.GetBlock(hash)
	return ok
}

// PutTx stores the transaction payload of a block separately, so callers
// can fetch just the payload without unpacking the whole block.
func (s *BlockStore) PutTx(hash Hash, blob []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(txsBucket).Put(hash[:], blob)
	})
}

// GetTx returns the transaction payload for hash, or ok=false if absent.
func (s *BlockStore) GetTx(hash Hash) (blob []byte, ok bool) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(txsBucket).Get(hash[:]); v != nil {
			blob = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return blob, ok
}

// PutExtra stores small metadata about a block (e.g. its block type tag).
func (s *BlockStore) PutExtra(hash Hash, meta []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(extrasBucket).Put(hash[:], meta)
	})
}

// GetExtra returns the metadata blob for hash, or ok=false if absent.
func (s *BlockStore) GetExtra(hash Hash) (meta []byte, ok bool) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(extrasBucket).Get(hash[:]); v != nil {
			meta = append([]byte(nil), v...)
			ok = true
		}
		return nil
	})
	return meta, ok
}

// PutDot records that a block with the given hash occupies (chainID, dot).
// A block is recorded under two such entries: its personal chain and, if
// applicable, its community chain.
func (s *BlockStore) PutDot(chainID ChainId, dot Dot, hash Hash) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(dotsBucket).Put(dotKey(chainID, dot), hash[:])
	})
}

// GetHashByDot resolves (chainID, dot) to the hash stored there, or
// ok=false if absent.
func (s *BlockStore) GetHashByDot(chainID ChainId, dot Dot) (hash Hash, ok bool) {
	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(dotsBucket).Get(dotKey(chainID, dot))
		if v != nil {
			copy(hash[:], v)
			ok = true
		}
		return nil
	})
	return hash, ok
}

// PutBlockAtomic writes the block blob, its transaction payload, its extra
// metadata and both dot index entries (personal, and community if present)
// in a single bbolt transaction.
func (s *BlockStore) PutBlockAtomic(hash Hash, blockBlob, txBlob, extra []byte, personalChain ChainId, personalDot Dot, communityChain ChainId, communityDot Dot, hasCommunity bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(blocksBucket).Put(hash[:], blockBlob); err != nil {
			return err
		}
		if txBlob != nil {
			if err := tx.Bucket(txsBucket).Put(hash[:], txBlob); err != nil {
				return err
			}
		}
		if extra != nil {
			if err := tx.Bucket(extrasBucket).Put(hash[:], extra); err != nil {
				return err
			}
		}
		if err := tx.Bucket(dotsBucket).Put(dotKey(personalChain, personalDot), hash[:]); err != nil {
			return err
		}
		if hasCommunity {
			if err := tx.Bucket(dotsBucket).Put(dotKey(communityChain, communityDot), hash[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close flushes and releases the underlying database.
func (s *BlockStore) Close() error {
	return s.db.Close()
}
