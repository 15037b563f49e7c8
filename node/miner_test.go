package node

import (
	"context"
	"testing"

	"btpc.dev/node/consensus"
	"btpc.dev/node/store"
)

type alwaysValidVerifier struct{}

func (alwaysValidVerifier) VerifyMLDSA65(pubkey, sig, message []byte) bool { return true }

func testCoinbase(height uint64) consensus.Transaction {
	pkh := consensus.PubkeyHash([]byte("miner"))
	return consensus.Transaction{
		Version: 1,
		Inputs:  []consensus.TransactionInput{{PreviousOutput: consensus.NullOutPoint, Sequence: 0xffffffff}},
		Outputs: []consensus.TransactionOutput{{Value: consensus.BlockReward(height), ScriptPubkey: consensus.NewP2PKHLockScript(pkh)}},
	}
}

func testBlock(prev consensus.Hash, ts uint64, bits uint32, height uint64) consensus.Block {
	txs := []consensus.Transaction{testCoinbase(height)}
	leaves := make([]consensus.Hash, len(txs))
	for i := range txs {
		leaves[i] = txs[i].TxID()
	}
	return consensus.Block{
		Header: consensus.BlockHeader{
			Version:       1,
			PrevBlockHash: prev,
			MerkleRoot:    consensus.MerkleRoot(leaves),
			Timestamp:     ts,
			Bits:          bits,
			Nonce:         0,
		},
		Transactions: txs,
	}
}

func openMinerTestDB(t *testing.T) *store.DB {
	t.Helper()
	chainID := make([]byte, 32)
	chainID[0] = 0x42
	db, err := store.Open(t.TempDir(), hexEncodeForTest(chainID), consensus.ParamsFor(consensus.Regtest))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func hexEncodeForTest(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0f]
	}
	return string(out)
}

func newTestMiner(t *testing.T, ts func() uint64) (*Miner, *store.DB, *SyncEngine) {
	t.Helper()
	db := openMinerTestDB(t)
	syncEngine, err := NewSyncEngine(db, DefaultSyncConfig())
	if err != nil {
		t.Fatalf("NewSyncEngine: %v", err)
	}
	cfg := DefaultMinerConfig()
	cfg.Verifier = alwaysValidVerifier{}
	cfg.PubkeyHash = consensus.PubkeyHash([]byte("miner"))
	if ts != nil {
		cfg.TimestampSource = ts
	}
	miner, err := NewMiner(db, syncEngine, cfg)
	if err != nil {
		t.Fatalf("NewMiner: %v", err)
	}
	return miner, db, syncEngine
}

func TestMinerMineOneFromEmptyState(t *testing.T) {
	miner, db, _ := newTestMiner(t, func() uint64 { return 1_777_000_000 })

	mb, err := miner.MineOne(context.Background(), nil)
	if err != nil {
		t.Fatalf("mine one: %v", err)
	}
	if mb.Height != 0 {
		t.Fatalf("height=%d, want 0", mb.Height)
	}
	if mb.TxCount != 1 {
		t.Fatalf("tx_count=%d, want 1", mb.TxCount)
	}

	m := db.Manifest()
	if m == nil || m.TipHeight != 0 || m.TipHashHex != mb.Hash.String() {
		t.Fatalf("unexpected manifest after mining genesis: %+v", m)
	}
}

func TestMinerMineNProducesTimestampProgression(t *testing.T) {
	// Forcing the clock to a fixed early value means every block after
	// genesis must fall back to median-time-past+1 instead of now.
	miner, _, _ := newTestMiner(t, func() uint64 { return 1 })

	mined, err := miner.MineN(context.Background(), 3, nil)
	if err != nil {
		t.Fatalf("mine n: %v", err)
	}
	if len(mined) != 3 {
		t.Fatalf("mined=%d, want 3", len(mined))
	}
	if mined[0].Height != 0 || mined[1].Height != 1 || mined[2].Height != 2 {
		t.Fatalf("unexpected mined heights: %+v", mined)
	}
	if mined[1].Timestamp <= mined[0].Timestamp {
		t.Fatalf("expected timestamp progression, got %d <= %d", mined[1].Timestamp, mined[0].Timestamp)
	}
	if mined[2].Timestamp < mined[1].Timestamp {
		t.Fatalf("expected non-decreasing timestamp, got %d < %d", mined[2].Timestamp, mined[1].Timestamp)
	}
}

func TestNewMinerSetsDefaultMaxTxPerBlockWhenNonPositive(t *testing.T) {
	db := openMinerTestDB(t)
	syncEngine, err := NewSyncEngine(db, DefaultSyncConfig())
	if err != nil {
		t.Fatalf("NewSyncEngine: %v", err)
	}
	cfg := DefaultMinerConfig()
	cfg.Verifier = alwaysValidVerifier{}
	cfg.MaxTxPerBlock = 0
	miner, err := NewMiner(db, syncEngine, cfg)
	if err != nil {
		t.Fatalf("new miner: %v", err)
	}
	if miner.cfg.MaxTxPerBlock != 1024 {
		t.Fatalf("MaxTxPerBlock=%d, want 1024", miner.cfg.MaxTxPerBlock)
	}
}

func TestMinerMineNRejectsNegativeBlocks(t *testing.T) {
	var m Miner
	if _, err := m.MineN(context.Background(), -1, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMinerMineOneRejectsUninitializedMiner(t *testing.T) {
	var m *Miner
	if _, err := m.MineOne(context.Background(), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMinerMineOneReturnsContextError(t *testing.T) {
	miner, _, _ := newTestMiner(t, func() uint64 { return 1_777_000_000 })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := miner.MineOne(ctx, nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewMinerSetsDefaultTimestampSourceWhenNil(t *testing.T) {
	db := openMinerTestDB(t)
	syncEngine, err := NewSyncEngine(db, DefaultSyncConfig())
	if err != nil {
		t.Fatalf("NewSyncEngine: %v", err)
	}
	cfg := DefaultMinerConfig()
	cfg.Verifier = alwaysValidVerifier{}
	cfg.TimestampSource = nil
	miner, err := NewMiner(db, syncEngine, cfg)
	if err != nil {
		t.Fatalf("new miner: %v", err)
	}
	if miner.cfg.TimestampSource == nil {
		t.Fatalf("expected default timestamp source")
	}
	_ = miner.cfg.TimestampSource()
}

func TestDefaultMinerConfigTimestampSourceUsesUnixNowU64(t *testing.T) {
	cfg := DefaultMinerConfig()
	if cfg.TimestampSource == nil {
		t.Fatalf("expected timestamp source")
	}
	_ = cfg.TimestampSource()
}

func TestUnixNowU64ReturnsZeroWhenUnixTimeNonPositive(t *testing.T) {
	prev := unixNow
	unixNow = func() int64 { return 0 }
	t.Cleanup(func() { unixNow = prev })

	if got := unixNowU64(); got != 0 {
		t.Fatalf("unixNowU64=%d, want 0", got)
	}
}

func TestNewMinerRejectsNilDB(t *testing.T) {
	db := openMinerTestDB(t)
	syncEngine, err := NewSyncEngine(db, DefaultSyncConfig())
	if err != nil {
		t.Fatalf("NewSyncEngine: %v", err)
	}
	cfg := DefaultMinerConfig()
	cfg.Verifier = alwaysValidVerifier{}
	if _, err := NewMiner(nil, syncEngine, cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewMinerRejectsNilSyncEngine(t *testing.T) {
	db := openMinerTestDB(t)
	cfg := DefaultMinerConfig()
	cfg.Verifier = alwaysValidVerifier{}
	if _, err := NewMiner(db, nil, cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewMinerRejectsNilVerifier(t *testing.T) {
	db := openMinerTestDB(t)
	syncEngine, err := NewSyncEngine(db, DefaultSyncConfig())
	if err != nil {
		t.Fatalf("NewSyncEngine: %v", err)
	}
	cfg := DefaultMinerConfig()
	if _, err := NewMiner(db, syncEngine, cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestChooseValidTimestampGenesisNowZeroReturnsOne(t *testing.T) {
	if got := chooseValidTimestamp(0, nil, 0); got != 1 {
		t.Fatalf("timestamp=%d, want 1", got)
	}
}

func TestChooseValidTimestampGenesisReturnsNow(t *testing.T) {
	if got := chooseValidTimestamp(0, nil, 123); got != 123 {
		t.Fatalf("timestamp=%d, want 123", got)
	}
}

func TestChooseValidTimestampUsesNowWhenAboveMedian(t *testing.T) {
	median := uint64(1_000)
	now := median + 1
	prev := []uint64{median}
	if got := chooseValidTimestamp(1, prev, now); got != now {
		t.Fatalf("timestamp=%d, want now=%d", got, now)
	}
}

func TestChooseValidTimestampReturnsMedianPlusOneWhenTooEarly(t *testing.T) {
	median := uint64(1_000)
	prev := []uint64{median}
	if got := chooseValidTimestamp(1, prev, 0); got != median+1 {
		t.Fatalf("timestamp=%d, want %d", got, median+1)
	}
	if got := chooseValidTimestamp(1, prev, median); got != median+1 {
		t.Fatalf("timestamp=%d, want %d", got, median+1)
	}
}

func TestMedianTimestampHandlesSorting(t *testing.T) {
	if got := medianTimestamp([]uint64{5, 1, 4, 2, 3}); got != 3 {
		t.Fatalf("median=%d, want 3", got)
	}
	if got := medianTimestamp([]uint64{3, 1, 2}); got != 2 {
		t.Fatalf("median=%d, want 2", got)
	}
}
