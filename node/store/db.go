package store

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"btpc.dev/node/consensus"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketHeaders = []byte("headers_by_hash")
	bucketBlocks  = []byte("blocks_by_hash")
	bucketIndex   = []byte("block_index_by_hash")
	bucketUtxo    = []byte("utxo_by_outpoint")
	bucketUndo    = []byte("undo_by_block_hash")
)

type BlockStatus byte

const (
	BlockStatusUnknown  BlockStatus = 0
	BlockStatusValid    BlockStatus = 1
	BlockStatusInvalid  BlockStatus = 2
	BlockStatusOrphaned BlockStatus = 3
)

// BlockIndexEntry is the per-block metadata the fork-choice and sync logic
// need without reloading the full block body (§4.9-FULL).
type BlockIndexEntry struct {
	Height         uint64
	PrevHash       consensus.Hash
	CumulativeWork *big.Int // non-negative
	Status         BlockStatus
}

// DB is the node's persistent chain state: bbolt-backed headers, blocks,
// block index, UTXO set, and undo log, plus a JSON manifest recording the
// current tip (§4.9-FULL, §6).
type DB struct {
	chainDir string
	db       *bolt.DB
	manifest *Manifest
	Params   consensus.ConsensusParams
}

func Open(datadir string, chainIDHex string, params consensus.ConsensusParams) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if chainIDHex == "" {
		return nil, fmt.Errorf("chain_id_hex required")
	}

	chainDir := ChainDir(datadir, chainIDHex)
	if err := ensureDir(chainDir); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Join(chainDir, "db")); err != nil {
		return nil, err
	}

	path := filepath.Join(chainDir, "db", "kv.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &DB{chainDir: chainDir, db: bdb, Params: params}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketHeaders, bucketBlocks, bucketIndex, bucketUtxo, bucketUndo} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(chainDir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil // uninitialized chain; caller must InitGenesis.
		}
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

func (d *DB) SetManifest(m *Manifest) error {
	if d == nil {
		return fmt.Errorf("db: nil")
	}
	if err := writeManifestAtomic(d.chainDir, m); err != nil {
		return err
	}
	d.manifest = m
	return nil
}

func (d *DB) PutHeader(hash consensus.Hash, headerBytes []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).Put(hash[:], headerBytes)
	})
}

func (d *DB) GetHeader(hash consensus.Hash) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeaders).Get(hash[:])
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (d *DB) PutBlockBytes(hash consensus.Hash, blockBytes []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(hash[:], blockBytes)
	})
}

func (d *DB) GetBlockBytes(hash consensus.Hash) ([]byte, bool, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(hash[:])
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func (d *DB) PutIndex(hash consensus.Hash, e BlockIndexEntry) error {
	b, err := encodeIndexEntry(e)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIndex).Put(hash[:], b)
	})
}

func (d *DB) GetIndex(hash consensus.Hash) (*BlockIndexEntry, bool, error) {
	var out *BlockIndexEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketIndex).Get(hash[:])
		if v == nil {
			return nil
		}
		e, err := decodeIndexEntry(v)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func (d *DB) GetUTXO(point consensus.OutPoint) (consensus.UTXO, bool, error) {
	var out consensus.UTXO
	var ok bool
	key := encodeOutpointKey(point)
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUtxo).Get(key)
		if v == nil {
			return nil
		}
		e, err := decodeUtxoEntry(v)
		if err != nil {
			return err
		}
		out = e
		ok = true
		return nil
	})
	return out, ok, err
}

func (d *DB) PutUTXO(point consensus.OutPoint, e consensus.UTXO) error {
	key := encodeOutpointKey(point)
	val, err := encodeUtxoEntry(e)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUtxo).Put(key, val)
	})
}

func (d *DB) DeleteUTXO(point consensus.OutPoint) error {
	key := encodeOutpointKey(point)
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUtxo).Delete(key)
	})
}

// ApplyBatch atomically writes a block's delta and its undo record in a
// single bbolt transaction, so a crash mid-apply never leaves the UTXO set
// partially updated (§4.9-FULL).
//
// bbolt serializes all Update calls against one *bolt.DB behind a single
// writer lock held for the closure's whole duration, so re-checking each
// spent outpoint here (rather than trusting the snapshot the caller
// validated against) is the check-lock-check re-verification step §4.6 step
// 3 requires: a concurrent apply that already consumed an outpoint loses the
// race and this one fails with ErrUTXONotFound instead of silently
// no-op-deleting an absent key.
func (d *DB) ApplyBatch(blockHash consensus.Hash, delta consensus.BlockUTXODelta, undo UndoRecord, index BlockIndexEntry, m *Manifest) error {
	indexBytes, err := encodeIndexEntry(index)
	if err != nil {
		return err
	}
	undoBytes, err := encodeUndoRecord(undo)
	if err != nil {
		return err
	}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		utxoB := tx.Bucket(bucketUtxo)
		for _, op := range delta.Spent {
			key := encodeOutpointKey(op)
			if utxoB.Get(key) == nil {
				return &consensus.Error{Code: consensus.ErrUTXONotFound, Msg: fmt.Sprintf("outpoint %s:%d already spent", op.TxID, op.Vout)}
			}
			if err := utxoB.Delete(key); err != nil {
				return err
			}
		}
		for _, op := range delta.Created {
			entry := delta.Entries[op]
			val, err := encodeUtxoEntry(entry)
			if err != nil {
				return err
			}
			if err := utxoB.Put(encodeOutpointKey(op), val); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketIndex).Put(blockHash[:], indexBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketUndo).Put(blockHash[:], undoBytes)
	}); err != nil {
		return err
	}
	return d.SetManifest(m)
}

// UndoBatch reverses ApplyBatch for a single block during a reorg: restores
// spent entries, deletes created ones, and drops the block's undo record.
func (d *DB) UndoBatch(blockHash consensus.Hash, undo UndoRecord) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		utxoB := tx.Bucket(bucketUtxo)
		for _, created := range undo.Created {
			if err := utxoB.Delete(encodeOutpointKey(created)); err != nil {
				return err
			}
		}
		for _, spent := range undo.Spent {
			val, err := encodeUtxoEntry(spent.RestoredEntry)
			if err != nil {
				return err
			}
			if err := utxoB.Put(encodeOutpointKey(spent.OutPoint), val); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketUndo).Delete(blockHash[:])
	})
}

func (d *DB) PutUndo(blockHash consensus.Hash, u UndoRecord) error {
	val, err := encodeUndoRecord(u)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUndo).Put(blockHash[:], val)
	})
}

func (d *DB) GetUndo(blockHash consensus.Hash) (*UndoRecord, bool, error) {
	var out *UndoRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketUndo).Get(blockHash[:])
		if v == nil {
			return nil
		}
		u, err := decodeUndoRecord(v)
		if err != nil {
			return err
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

func encodeIndexEntry(e BlockIndexEntry) ([]byte, error) {
	if e.CumulativeWork == nil || e.CumulativeWork.Sign() < 0 {
		return nil, fmt.Errorf("index: cumulative_work required")
	}
	work := e.CumulativeWork.Bytes()
	if len(work) > 0xffff {
		return nil, fmt.Errorf("index: cumulative_work too large")
	}
	// Layout:
	// height u64le | prev_hash 64 | status u8 | work_len u16le | work_bytes
	out := make([]byte, 8+64+1+2+len(work))
	binary.LittleEndian.PutUint64(out[0:8], e.Height)
	copy(out[8:72], e.PrevHash[:])
	out[72] = byte(e.Status)
	binary.LittleEndian.PutUint16(out[73:75], uint16(len(work))) // #nosec G115 -- len(work) checked against 0xffff above.
	copy(out[75:], work)
	return out, nil
}

func decodeIndexEntry(b []byte) (*BlockIndexEntry, error) {
	if len(b) < 8+64+1+2 {
		return nil, fmt.Errorf("index: truncated")
	}
	height := binary.LittleEndian.Uint64(b[0:8])
	var prev consensus.Hash
	copy(prev[:], b[8:72])
	status := BlockStatus(b[72])
	workLen := int(binary.LittleEndian.Uint16(b[73:75]))
	if 75+workLen != len(b) {
		return nil, fmt.Errorf("index: bad work len")
	}
	work := new(big.Int).SetBytes(b[75:])
	return &BlockIndexEntry{
		Height:         height,
		PrevHash:       prev,
		CumulativeWork: work,
		Status:         status,
	}, nil
}

func hexHash(h consensus.Hash) string {
	return hex.EncodeToString(h[:])
}
