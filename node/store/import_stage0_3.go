package store

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"

	"btpc.dev/node/consensus"

	bolt "go.etcd.io/bbolt"
)

// Stage03Decision classifies an incoming block before any stateful
// (UTXO-set) validation runs, mirroring the node's ingest pipeline: persist
// header+body first, then decide whether it extends known history and
// whether it outranks the current tip (§4.8, §4.9-FULL).
type Stage03Decision string

const (
	Stage03Orphaned        Stage03Decision = "ORPHANED"
	Stage03InvalidHeader   Stage03Decision = "INVALID_HEADER"
	Stage03InvalidAncestry Stage03Decision = "INVALID_ANCESTRY"
	Stage03NotSelected     Stage03Decision = "STORED_NOT_SELECTED"
	Stage03CandidateBest   Stage03Decision = "CANDIDATE_BEST"
)

type Stage03Result struct {
	Decision       Stage03Decision
	BlockHash      consensus.Hash
	Height         uint64
	CumulativeWork *big.Int
}

type ApplyOptions struct {
	NowUnix uint64
}

func parseHexHash(s string) (consensus.Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return consensus.Hash{}, err
	}
	return consensus.HashFromBytes(b)
}

func betterThanTip(candidateWork *big.Int, candidateHash consensus.Hash, tipWork *big.Int, tipHash consensus.Hash) bool {
	cmp := candidateWork.Cmp(tipWork)
	if cmp > 0 {
		return true
	}
	if cmp < 0 {
		return false
	}
	// Tie-break: lexicographically smaller block hash wins (§9 Open Question 2).
	return bytes.Compare(candidateHash[:], tipHash[:]) < 0
}

// ImportStage0To3 parses a block, persists its header and body, then
// classifies it: orphan (unknown parent), invalid ancestry (parent already
// invalid), stored-but-not-selected, or the new best-work candidate. Full
// stateful validation is deferred to ApplyBlockIfBestTip.
func (d *DB) ImportStage0To3(block *consensus.Block, opts ApplyOptions) (*Stage03Result, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("db: not open")
	}
	if d.manifest == nil {
		return nil, fmt.Errorf("db: chain not initialized (missing manifest)")
	}

	if err := block.ValidateStructure(); err != nil {
		return nil, err
	}
	blockHash := block.BlockHash()
	headerBytes := block.SerializeHeader()

	if err := d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketHeaders).Put(blockHash[:], headerBytes); err != nil {
			return err
		}
		return tx.Bucket(bucketBlocks).Put(blockHash[:], block.Serialize())
	}); err != nil {
		return nil, err
	}

	// Self-consistent PoW (hash vs the block's own claimed bits) is checked
	// before the claimed work counts toward fork choice, so a block cannot
	// claim an easy target and an inflated work score at the same time.
	// Whether bits matches the *expected* retarget for this height is
	// checked later in connectAsNewTip, once ancestor history is available.
	if err := consensus.ValidateProofOfWork(&block.Header, d.Params); err != nil {
		entry := BlockIndexEntry{Height: 0, PrevHash: block.Header.PrevBlockHash, CumulativeWork: big.NewInt(0), Status: BlockStatusInvalid}
		if perr := d.PutIndex(blockHash, entry); perr != nil {
			return nil, perr
		}
		return &Stage03Result{Decision: Stage03InvalidHeader, BlockHash: blockHash, Height: 0, CumulativeWork: entry.CumulativeWork}, err
	}

	prev := block.Header.PrevBlockHash

	if prev.IsZero() {
		// Genesis special case: InitGenesis handles the real genesis block;
		// a second zero-prev block is always classified as an orphan.
		if d.manifest.TipHeight != 0 || d.manifest.LastAppliedHeight != 0 {
			return d.markOrphaned(blockHash, prev)
		}
	}

	parent, ok, err := d.GetIndex(prev)
	if err != nil {
		return nil, err
	}
	if !ok {
		return d.markOrphaned(blockHash, prev)
	}
	if parent.Status == BlockStatusInvalid {
		work, err := WorkFromBits(block.Header.Bits)
		if err != nil {
			work = big.NewInt(0)
		}
		cumulative := new(big.Int).Add(parent.CumulativeWork, work)
		entry := BlockIndexEntry{
			Height:         parent.Height + 1,
			PrevHash:       prev,
			CumulativeWork: cumulative,
			Status:         BlockStatusInvalid,
		}
		if err := d.PutIndex(blockHash, entry); err != nil {
			return nil, err
		}
		return &Stage03Result{Decision: Stage03InvalidAncestry, BlockHash: blockHash, Height: entry.Height, CumulativeWork: cumulative}, nil
	}

	height := parent.Height + 1
	work, err := WorkFromBits(block.Header.Bits)
	if err != nil {
		return nil, err
	}
	cumulative := new(big.Int).Add(parent.CumulativeWork, work)

	if err := d.PutIndex(blockHash, BlockIndexEntry{
		Height:         height,
		PrevHash:       prev,
		CumulativeWork: new(big.Int).Set(cumulative),
		Status:         BlockStatusUnknown,
	}); err != nil {
		return nil, err
	}

	tipHash, err := parseHexHash(d.manifest.TipHashHex)
	if err != nil {
		return nil, fmt.Errorf("manifest tip_hash: %w", err)
	}
	tipWork := new(big.Int)
	if _, ok := tipWork.SetString(d.manifest.TipCumulativeWorkDec, 10); !ok {
		return nil, fmt.Errorf("manifest tip_cumulative_work: parse")
	}

	decision := Stage03NotSelected
	if betterThanTip(cumulative, blockHash, tipWork, tipHash) {
		decision = Stage03CandidateBest
	}
	return &Stage03Result{Decision: decision, BlockHash: blockHash, Height: height, CumulativeWork: cumulative}, nil
}

func (d *DB) markOrphaned(blockHash, prev consensus.Hash) (*Stage03Result, error) {
	entry := BlockIndexEntry{
		Height:         0,
		PrevHash:       prev,
		CumulativeWork: big.NewInt(0),
		Status:         BlockStatusOrphaned,
	}
	if err := d.PutIndex(blockHash, entry); err != nil {
		return nil, err
	}
	return &Stage03Result{Decision: Stage03Orphaned, BlockHash: blockHash, Height: 0, CumulativeWork: entry.CumulativeWork}, nil
}
