package node

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"btpc.dev/node/consensus"
	"btpc.dev/node/store"
)

// unixNow is overridden in tests to control DefaultMinerConfig's clock.
var unixNow = func() int64 { return time.Now().Unix() }

func unixNowU64() uint64 {
	now := unixNow()
	if now < 0 {
		return 0
	}
	return uint64(now)
}

// MinerConfig tunes the development miner used for regtest/devnet bring-up
// (§4.10-FULL). It is not part of consensus itself: it builds a candidate
// block and feeds it through the same ingest path peer blocks take.
type MinerConfig struct {
	PubkeyHash      [consensus.PublicKeyHashSize]byte
	Verifier        consensus.VerifySigner
	TimestampSource func() uint64
	MaxTxPerBlock   int
}

type MinedBlock struct {
	Height    uint64
	Hash      consensus.Hash
	Timestamp uint64
	Nonce     uint32
	TxCount   int
}

// Miner is a dev-only block producer: it does not relay or select
// transactions by fee, it simply assembles whatever is handed to it and
// searches for a satisfying nonce.
type Miner struct {
	db   *store.DB
	sync *SyncEngine
	cfg  MinerConfig
}

func DefaultMinerConfig() MinerConfig {
	return MinerConfig{
		TimestampSource: unixNowU64,
		MaxTxPerBlock:   1024,
	}
}

func NewMiner(db *store.DB, sync *SyncEngine, cfg MinerConfig) (*Miner, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	if sync == nil {
		return nil, errors.New("nil sync engine")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("nil verifier")
	}
	if cfg.TimestampSource == nil {
		cfg.TimestampSource = unixNowU64
	}
	if cfg.MaxTxPerBlock <= 0 {
		cfg.MaxTxPerBlock = 1024
	}
	return &Miner{db: db, sync: sync, cfg: cfg}, nil
}

func (m *Miner) MineN(ctx context.Context, blocks int, txs []consensus.Transaction) ([]MinedBlock, error) {
	if blocks < 0 {
		return nil, errors.New("blocks must be >= 0")
	}
	out := make([]MinedBlock, 0, blocks)
	for i := 0; i < blocks; i++ {
		mb, err := m.MineOne(ctx, txs)
		if err != nil {
			return nil, err
		}
		out = append(out, *mb)
	}
	return out, nil
}

// MineOne assembles a coinbase-only-or-more block extending the current
// tip, searches for a nonce satisfying the expected target, and submits it
// through the sync engine exactly as a block received from a peer would be.
// The coinbase always claims exactly the block subsidy, leaving any fees
// from included transactions uncollected; this keeps the dev miner simple
// rather than fee-optimal.
func (m *Miner) MineOne(ctx context.Context, txs []consensus.Transaction) (*MinedBlock, error) {
	if m == nil || m.db == nil || m.sync == nil {
		return nil, errors.New("miner is not initialized")
	}
	if err := checkCtxDone(ctx); err != nil {
		return nil, err
	}

	var (
		prevHash consensus.Hash
		height   uint64
	)
	if manifest := m.db.Manifest(); manifest != nil {
		var err error
		prevHash, err = consensus.HashFromHex(manifest.TipHashHex)
		if err != nil {
			return nil, fmt.Errorf("manifest tip_hash: %w", err)
		}
		height = manifest.TipHeight + 1
	}

	maxTx := len(txs)
	if maxTx > m.cfg.MaxTxPerBlock {
		maxTx = m.cfg.MaxTxPerBlock
	}
	selected := txs[:maxTx]

	coinbase := consensus.Transaction{
		Version: 1,
		Inputs:  []consensus.TransactionInput{{PreviousOutput: consensus.NullOutPoint, Sequence: 0xffffffff}},
		Outputs: []consensus.TransactionOutput{{
			Value:        consensus.BlockReward(height),
			ScriptPubkey: consensus.NewP2PKHLockScript(m.cfg.PubkeyHash),
		}},
	}

	allTxs := make([]consensus.Transaction, 0, 1+len(selected))
	allTxs = append(allTxs, coinbase)
	allTxs = append(allTxs, selected...)

	leaves := make([]consensus.Hash, len(allTxs))
	for i := range allTxs {
		leaves[i] = allTxs[i].TxID()
	}

	prevTimestamps, err := m.db.LoadAncestorTimestamps(prevHash, height)
	if err != nil {
		return nil, err
	}
	bits, err := m.db.ExpectedBitsForNextBlock(prevHash, height)
	if err != nil {
		return nil, err
	}
	target, err := consensus.ExpandTarget(bits)
	if err != nil {
		return nil, err
	}
	timestamp := chooseValidTimestamp(height, prevTimestamps, m.cfg.TimestampSource())

	header := consensus.BlockHeader{
		Version:       1,
		PrevBlockHash: prevHash,
		MerkleRoot:    consensus.MerkleRoot(leaves),
		Timestamp:     timestamp,
		Bits:          bits,
	}
	for {
		if err := checkCtxDone(ctx); err != nil {
			return nil, err
		}
		if consensus.MeetsTarget(header.Hash(), target) {
			break
		}
		header.Nonce++
		if header.Nonce == 0 {
			// Nonce space exhausted at this timestamp; roll it forward and
			// keep searching, same as a real miner would.
			header.Timestamp++
		}
	}

	block := consensus.Block{Header: header, Transactions: allTxs}
	dec, err := m.sync.ApplyBlock(&block, m.cfg.Verifier, store.ApplyOptions{NowUnix: m.cfg.TimestampSource()})
	if err != nil {
		return nil, err
	}
	if dec != store.ApplyAppliedAsTip {
		return nil, fmt.Errorf("mined block was not accepted as tip: %s", dec)
	}

	return &MinedBlock{
		Height:    height,
		Hash:      block.BlockHash(),
		Timestamp: header.Timestamp,
		Nonce:     header.Nonce,
		TxCount:   len(allTxs),
	}, nil
}

func checkCtxDone(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// chooseValidTimestamp picks a header timestamp that will pass
// ValidateHeaderContext: now, unless now doesn't exceed the median time
// past of the ancestor window, in which case the earliest valid value
// (mtp+1) is used instead.
func chooseValidTimestamp(height uint64, prevTimestamps []uint64, now uint64) uint64 {
	if height == 0 || len(prevTimestamps) == 0 {
		if now == 0 {
			return 1
		}
		return now
	}
	mtp := medianTimestamp(prevTimestamps)
	if now > mtp {
		return now
	}
	return mtp + 1
}

func medianTimestamp(timestamps []uint64) uint64 {
	window := append([]uint64(nil), timestamps...)
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	return window[len(window)/2]
}
