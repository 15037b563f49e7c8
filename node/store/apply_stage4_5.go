package store

import (
	"fmt"
	"math/big"

	"btpc.dev/node/consensus"
)

type ApplyDecision string

const (
	ApplyStoredNotSelected ApplyDecision = "STORED_NOT_SELECTED"
	ApplyOrphaned          ApplyDecision = "ORPHANED"
	ApplyInvalidAncestry   ApplyDecision = "INVALID_ANCESTRY"
	ApplyAppliedAsTip      ApplyDecision = "APPLIED_AS_NEW_TIP"
	ApplyReorgRequired     ApplyDecision = "REORG_REQUIRED"
)

// ApplyBlockIfBestTip runs the full ingest pipeline for one incoming block:
// classify (Stage 0-3), stateful-validate against the UTXO set, and if it
// directly extends the current tip, apply it; if it instead outranks the
// tip from a side branch, trigger a reorg (§4.8, §4.9-FULL).
func (d *DB) ApplyBlockIfBestTip(block *consensus.Block, verifier consensus.VerifySigner, opts ApplyOptions) (ApplyDecision, error) {
	st03, err := d.ImportStage0To3(block, opts)
	if err != nil {
		return "", err
	}
	switch st03.Decision {
	case Stage03Orphaned:
		return ApplyOrphaned, nil
	case Stage03InvalidAncestry, Stage03InvalidHeader:
		return ApplyInvalidAncestry, nil
	case Stage03NotSelected:
		return ApplyStoredNotSelected, nil
	case Stage03CandidateBest:
	default:
		return "", fmt.Errorf("unknown stage03 decision %q", st03.Decision)
	}

	blockHash := block.BlockHash()
	tipHash, err := parseHexHash(d.manifest.TipHashHex)
	if err != nil {
		return "", err
	}
	if block.Header.PrevBlockHash != tipHash {
		if err := d.ReorgToTip(blockHash, verifier, opts); err != nil {
			return "", err
		}
		return ApplyAppliedAsTip, nil
	}

	if err := d.connectAsNewTip(block, blockHash, verifier, opts); err != nil {
		idx, ok, _ := d.GetIndex(blockHash)
		if ok {
			idx.Status = BlockStatusInvalid
			_ = d.PutIndex(blockHash, *idx)
		}
		return "", err
	}
	return ApplyAppliedAsTip, nil
}

// connectAsNewTip stateful-validates block (which must already have a
// parent-linked index entry from Stage 0-3) against the live UTXO set and
// atomically persists its delta, undo record, and new tip.
func (d *DB) connectAsNewTip(block *consensus.Block, blockHash consensus.Hash, verifier consensus.VerifySigner, opts ApplyOptions) error {
	parentIndex, ok, err := d.GetIndex(block.Header.PrevBlockHash)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("missing parent index for %s", hexHash(block.Header.PrevBlockHash))
	}
	height := parentIndex.Height + 1

	expectedBits, err := d.expectedBits(block.Header.PrevBlockHash, height)
	if err != nil {
		return err
	}
	prevTimestamps, err := d.LoadAncestorTimestamps(block.Header.PrevBlockHash, height)
	if err != nil {
		return err
	}
	hctx := consensus.BlockContext{
		Height:         height,
		PrevTimestamps: prevTimestamps,
		ExpectedBits:   expectedBits,
		Params:         d.Params,
		NowUnix:        opts.NowUnix,
	}

	view, err := d.LoadUTXOSet()
	if err != nil {
		return err
	}
	if err := consensus.ValidateBlockWithContext(block, hctx, view, verifier); err != nil {
		return err
	}

	delta := consensus.ComputeBlockUTXODelta(block, height)
	undo, err := d.buildUndoRecord(delta, view)
	if err != nil {
		return err
	}

	work, err := WorkFromBits(block.Header.Bits)
	if err != nil {
		return err
	}
	index := BlockIndexEntry{
		Height:         height,
		PrevHash:       block.Header.PrevBlockHash,
		CumulativeWork: new(big.Int).Add(parentIndex.CumulativeWork, work),
		Status:         BlockStatusValid,
	}

	m := &Manifest{
		SchemaVersion:           SchemaVersionV1,
		ChainIDHex:              d.manifest.ChainIDHex,
		TipHashHex:              hexHash(blockHash),
		TipHeight:               index.Height,
		TipCumulativeWorkDec:    index.CumulativeWork.Text(10),
		LastAppliedBlockHashHex: hexHash(blockHash),
		LastAppliedHeight:       index.Height,
	}
	return d.ApplyBatch(blockHash, delta, undo, index, m)
}

// buildUndoRecord resolves each spent outpoint against view to capture the
// UTXO entry the reorg path must restore if this block is later disconnected.
func (d *DB) buildUndoRecord(delta consensus.BlockUTXODelta, view consensus.MapUTXOView) (UndoRecord, error) {
	undo := UndoRecord{Created: delta.Created}
	for _, op := range delta.Spent {
		entry, ok := view.GetUTXO(op)
		if !ok {
			return UndoRecord{}, fmt.Errorf("undo: missing utxo %s:%d", op.TxID, op.Vout)
		}
		undo.Spent = append(undo.Spent, UndoSpent{OutPoint: op, RestoredEntry: *entry})
	}
	return undo, nil
}

// ExpectedBitsForNextBlock exposes the retarget computation to block
// producers (the development miner) that need to know what bits a
// candidate block must carry to pass ValidateHeaderContext (§4.10-FULL).
func (d *DB) ExpectedBitsForNextBlock(parentHash consensus.Hash, height uint64) (uint32, error) {
	return d.expectedBits(parentHash, height)
}

// expectedBits computes the bits this block must carry: the retarget result
// if height lands on a DifficultyAdjustmentInterval boundary, the parent's
// bits otherwise.
func (d *DB) expectedBits(parentHash consensus.Hash, height uint64) (uint32, error) {
	parent, ok, err := d.GetParsedHeader(parentHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("missing parent header %s", hexHash(parentHash))
	}
	if d.Params.AllowMinDifficultyBlock {
		return parent.Bits, nil
	}
	if height%consensus.DifficultyAdjustmentInterval != 0 {
		return parent.Bits, nil
	}
	firstHeight := height - consensus.DifficultyAdjustmentInterval
	firstHash, err := d.hashAtHeight(parentHash, height-1, firstHeight)
	if err != nil {
		return 0, err
	}
	first, ok, err := d.GetParsedHeader(firstHash)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("missing retarget window start header %s", hexHash(firstHash))
	}
	return consensus.CalculateNextBits(d.Params, first.Timestamp, parent.Timestamp, parent.Bits)
}

// hashAtHeight walks back from (fromHash, fromHeight) to targetHeight.
func (d *DB) hashAtHeight(fromHash consensus.Hash, fromHeight, targetHeight uint64) (consensus.Hash, error) {
	cur := fromHash
	for h := fromHeight; h > targetHeight; h-- {
		hdr, ok, err := d.GetParsedHeader(cur)
		if err != nil {
			return consensus.Hash{}, err
		}
		if !ok {
			return consensus.Hash{}, fmt.Errorf("missing header while walking to height %d", targetHeight)
		}
		cur = hdr.PrevBlockHash
	}
	return cur, nil
}
