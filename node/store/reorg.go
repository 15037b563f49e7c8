package store

import (
	"fmt"

	"btpc.dev/node/consensus"
)

// ReorgToTip performs the disconnect/connect procedure to move the applied
// tip from the manifest's current tip to newTipHash, which must already have
// a Stage 0-3 index entry. It mutates persistent chain state (UTXO set, undo
// log, manifest) and is deterministic given the stored blocks and index
// (§4.9-FULL, §9 Open Question 2).
func (d *DB) ReorgToTip(newTipHash consensus.Hash, verifier consensus.VerifySigner, opts ApplyOptions) error {
	if d == nil || d.db == nil || d.manifest == nil {
		return fmt.Errorf("db not ready")
	}

	oldTipHash, err := parseHexHash(d.manifest.TipHashHex)
	if err != nil {
		return err
	}
	if oldTipHash == newTipHash {
		return nil
	}

	forkHash, err := d.findForkPoint(oldTipHash, newTipHash)
	if err != nil {
		return err
	}

	// Disconnect old chain: tip back to fork point.
	cur := oldTipHash
	for cur != forkHash {
		idx, ok, err := d.GetIndex(cur)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reorg: missing index for %s", hexHash(cur))
		}
		undo, ok, err := d.GetUndo(cur)
		if err != nil {
			return err
		}
		if !ok || undo == nil {
			return fmt.Errorf("reorg: missing undo record for %s", hexHash(cur))
		}
		if err := d.UndoBatch(cur, *undo); err != nil {
			return err
		}

		parentHash := idx.PrevHash
		parentIdx, ok, err := d.GetIndex(parentHash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reorg: missing index for parent %s", hexHash(parentHash))
		}
		m := &Manifest{
			SchemaVersion:           SchemaVersionV1,
			ChainIDHex:              d.manifest.ChainIDHex,
			TipHashHex:              hexHash(parentHash),
			TipHeight:               parentIdx.Height,
			TipCumulativeWorkDec:    parentIdx.CumulativeWork.Text(10),
			LastAppliedBlockHashHex: hexHash(parentHash),
			LastAppliedHeight:       parentIdx.Height,
		}
		if err := d.SetManifest(m); err != nil {
			return err
		}
		cur = parentHash
	}

	// Connect new chain: fork point's child up to the new tip.
	path, err := d.pathFromAncestor(forkHash, newTipHash)
	if err != nil {
		return err
	}
	for _, h := range path {
		blockBytes, ok, err := d.GetBlockBytes(h)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("reorg: missing block body for %s", hexHash(h))
		}
		block, err := consensus.ParseBlock(blockBytes)
		if err != nil {
			return err
		}
		if err := d.connectAsNewTip(&block, h, verifier, opts); err != nil {
			idx, ok2, _ := d.GetIndex(h)
			if ok2 {
				idx.Status = BlockStatusInvalid
				_ = d.PutIndex(h, *idx)
			}
			return err
		}
	}
	return nil
}

func (d *DB) findForkPoint(oldTip, newTip consensus.Hash) (consensus.Hash, error) {
	a, b := oldTip, newTip

	ha, ok, err := d.GetIndex(a)
	if err != nil {
		return consensus.Hash{}, err
	}
	if !ok {
		return consensus.Hash{}, fmt.Errorf("reorg: missing index for %s", hexHash(a))
	}
	hb, ok, err := d.GetIndex(b)
	if err != nil {
		return consensus.Hash{}, err
	}
	if !ok {
		return consensus.Hash{}, fmt.Errorf("reorg: missing index for %s", hexHash(b))
	}

	for ha.Height > hb.Height {
		a = ha.PrevHash
		ha, ok, err = d.GetIndex(a)
		if err != nil {
			return consensus.Hash{}, err
		}
		if !ok {
			return consensus.Hash{}, fmt.Errorf("reorg: missing index for %s", hexHash(a))
		}
	}
	for hb.Height > ha.Height {
		b = hb.PrevHash
		hb, ok, err = d.GetIndex(b)
		if err != nil {
			return consensus.Hash{}, err
		}
		if !ok {
			return consensus.Hash{}, fmt.Errorf("reorg: missing index for %s", hexHash(b))
		}
	}
	for a != b {
		a = ha.PrevHash
		b = hb.PrevHash
		ha, ok, err = d.GetIndex(a)
		if err != nil {
			return consensus.Hash{}, err
		}
		if !ok {
			return consensus.Hash{}, fmt.Errorf("reorg: missing index for %s", hexHash(a))
		}
		hb, ok, err = d.GetIndex(b)
		if err != nil {
			return consensus.Hash{}, err
		}
		if !ok {
			return consensus.Hash{}, fmt.Errorf("reorg: missing index for %s", hexHash(b))
		}
	}
	return a, nil
}

// pathFromAncestor returns the hashes from ancestor's child up to tip,
// ascending by height.
func (d *DB) pathFromAncestor(ancestor, tip consensus.Hash) ([]consensus.Hash, error) {
	if ancestor == tip {
		return nil, nil
	}
	cur := tip
	out := make([]consensus.Hash, 0, 16)
	for cur != ancestor {
		out = append(out, cur)
		idx, ok, err := d.GetIndex(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("reorg: missing index for %s", hexHash(cur))
		}
		cur = idx.PrevHash
		if cur.IsZero() && ancestor != consensus.ZeroHash {
			return nil, fmt.Errorf("reorg: ancestor %s not reached", hexHash(ancestor))
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
