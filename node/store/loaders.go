package store

import (
	"fmt"

	"btpc.dev/node/consensus"

	bolt "go.etcd.io/bbolt"
)

func (d *DB) GetParsedHeader(hash consensus.Hash) (*consensus.BlockHeader, bool, error) {
	raw, ok, err := d.GetHeader(hash)
	if err != nil || !ok {
		return nil, ok, err
	}
	h, err := consensus.ParseBlockHeaderBytes(raw)
	if err != nil {
		return nil, false, err
	}
	return &h, true, nil
}

// LoadUTXOSet loads the entire UTXO set into memory, implementing
// consensus.UTXOView. Intended for regtest-scale chains and tests; a larger
// deployment would query GetUTXO directly instead of materializing the set.
func (d *DB) LoadUTXOSet() (consensus.MapUTXOView, error) {
	utxo := make(consensus.MapUTXOView)
	err := d.db.View(func(tx *bolt.Tx) error {
		bu := tx.Bucket(bucketUtxo)
		return bu.ForEach(func(k, v []byte) error {
			p, err := decodeOutpointKey(k)
			if err != nil {
				return err
			}
			e, err := decodeUtxoEntry(v)
			if err != nil {
				return err
			}
			utxo[p] = e
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return utxo, nil
}

// LoadAncestorTimestamps returns up to MedianTimePastWindow timestamps of the
// headers ending at (and including) parentHash, oldest first, for median
// time past and retarget computation (§4.4, §4.6).
func (d *DB) LoadAncestorTimestamps(parentHash consensus.Hash, height uint64) ([]uint64, error) {
	if height == 0 {
		return nil, nil
	}
	need := uint64(consensus.MedianTimePastWindow)
	if height < need {
		need = height
	}
	out := make([]uint64, 0, need)
	cur := parentHash
	for i := uint64(0); i < need; i++ {
		h, ok, err := d.GetParsedHeader(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("missing ancestor header %s", hexHash(cur))
		}
		out = append(out, h.Timestamp)
		cur = h.PrevBlockHash
		if cur.IsZero() {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
