package store

import (
	"fmt"
	"math/big"

	"btpc.dev/node/consensus"

	bolt "go.etcd.io/bbolt"
)

// InitGenesis bootstraps an empty chain DB by validating and applying the
// genesis block and writing every persistence entity an ordinary block
// apply would (index/undo/manifest), skipping only the parent-linkage and
// retarget checks that don't apply at height 0 (§4.10-FULL).
func (d *DB) InitGenesis(block *consensus.Block, verifier consensus.VerifySigner, chainIDHex string) error {
	if d == nil {
		return fmt.Errorf("db: nil")
	}
	if d.manifest != nil {
		return fmt.Errorf("chain already initialized (manifest exists)")
	}
	if block == nil {
		return fmt.Errorf("genesis block required")
	}
	if err := block.ValidateStructure(); err != nil {
		return err
	}
	if !block.Header.PrevBlockHash.IsZero() {
		return fmt.Errorf("genesis header must have zero prev_block_hash")
	}

	blockHash := block.BlockHash()
	hctx := consensus.BlockContext{Height: 0, ExpectedBits: block.Header.Bits, Params: d.Params, NowUnix: block.Header.Timestamp}

	view := consensus.MapUTXOView{}
	if err := consensus.ValidateBlockWithContext(block, hctx, view, verifier); err != nil {
		return err
	}

	work, err := WorkFromBits(block.Header.Bits)
	if err != nil {
		return err
	}
	delta := consensus.ComputeBlockUTXODelta(block, 0)
	undo := UndoRecord{Created: delta.Created} // genesis spends nothing

	index := BlockIndexEntry{
		Height:         0,
		PrevHash:       consensus.ZeroHash,
		CumulativeWork: new(big.Int).Set(work),
		Status:         BlockStatusValid,
	}

	headerBytes := block.SerializeHeader()
	blockBytes := block.Serialize()
	indexBytes, err := encodeIndexEntry(index)
	if err != nil {
		return err
	}
	undoBytes, err := encodeUndoRecord(undo)
	if err != nil {
		return err
	}

	if err := d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(blockHash[:], headerBytes); err != nil {
			return err
		}
		if err := tx.Bucket(bucketBlocks).Put(blockHash[:], blockBytes); err != nil {
			return err
		}
		if err := tx.Bucket(bucketIndex).Put(blockHash[:], indexBytes); err != nil {
			return err
		}
		if err := tx.Bucket(bucketUndo).Put(blockHash[:], undoBytes); err != nil {
			return err
		}
		bu := tx.Bucket(bucketUtxo)
		for op, entry := range delta.Entries {
			val, err := encodeUtxoEntry(entry)
			if err != nil {
				return err
			}
			if err := bu.Put(encodeOutpointKey(op), val); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	m := &Manifest{
		SchemaVersion:           SchemaVersionV1,
		ChainIDHex:              chainIDHex,
		TipHashHex:              hexHash(blockHash),
		TipHeight:               0,
		TipCumulativeWorkDec:    work.Text(10),
		LastAppliedBlockHashHex: hexHash(blockHash),
		LastAppliedHeight:       0,
	}
	return d.SetManifest(m)
}
