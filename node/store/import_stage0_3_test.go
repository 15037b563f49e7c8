package store

import (
	"encoding/hex"
	"math/big"
	"testing"

	"btpc.dev/node/consensus"
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

func openTestDB(t *testing.T) *DB {
	t.Helper()
	chainID := make([]byte, 32)
	chainID[0] = 1
	db, err := Open(t.TempDir(), hex.EncodeToString(chainID), consensus.ParamsFor(consensus.Regtest))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func regtestBits(t *testing.T) uint32 {
	t.Helper()
	return consensus.CompactFromTarget(consensus.ParamsFor(consensus.Regtest).PowLimit)
}

func TestImportStage0To3_OrphanUnknownParent(t *testing.T) {
	db := openTestDB(t)
	bits := regtestBits(t)
	genesis := testBlock(consensus.ZeroHash, 1, bits, 0)
	if err := db.InitGenesis(&genesis, alwaysValidVerifier{}, hex.EncodeToString(make([]byte, 32))); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}

	var unknownParent consensus.Hash
	unknownParent[0] = 0xee
	orphan := testBlock(unknownParent, 2, bits, 1)
	res, err := db.ImportStage0To3(&orphan, ApplyOptions{NowUnix: 100})
	if err != nil {
		t.Fatalf("ImportStage0To3: %v", err)
	}
	if res.Decision != Stage03Orphaned {
		t.Fatalf("expected ORPHANED, got %s", res.Decision)
	}
}

func TestImportStage0To3_InvalidPoWRejected(t *testing.T) {
	db := openTestDB(t)
	bits := regtestBits(t)
	genesis := testBlock(consensus.ZeroHash, 1, bits, 0)
	if err := db.InitGenesis(&genesis, alwaysValidVerifier{}, hex.EncodeToString(make([]byte, 32))); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	genHash := genesis.BlockHash()

	// bits=0 expands to a zero target, which no hash can satisfy.
	bad := testBlock(genHash, 2, 0, 1)
	_, err := db.ImportStage0To3(&bad, ApplyOptions{NowUnix: 100})
	if err == nil {
		t.Fatalf("expected proof-of-work error")
	}
}

func TestImportStage0To3_CandidateBestThenApply(t *testing.T) {
	db := openTestDB(t)
	bits := regtestBits(t)
	genesis := testBlock(consensus.ZeroHash, 1, bits, 0)
	if err := db.InitGenesis(&genesis, alwaysValidVerifier{}, hex.EncodeToString(make([]byte, 32))); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	genHash := genesis.BlockHash()

	b1 := testBlock(genHash, 2, bits, 1)
	dec, err := db.ApplyBlockIfBestTip(&b1, alwaysValidVerifier{}, ApplyOptions{NowUnix: 1000})
	if err != nil {
		t.Fatalf("ApplyBlockIfBestTip: %v", err)
	}
	if dec != ApplyAppliedAsTip {
		t.Fatalf("expected APPLIED_AS_NEW_TIP, got %s", dec)
	}

	m := db.Manifest()
	if m == nil || m.TipHeight != 1 {
		t.Fatalf("expected tip height 1, got %+v", m)
	}
	idx, ok, err := db.GetIndex(b1.BlockHash())
	if err != nil || !ok {
		t.Fatalf("GetIndex: ok=%v err=%v", ok, err)
	}
	if idx.CumulativeWork.Cmp(big.NewInt(0)) <= 0 {
		t.Fatalf("expected positive cumulative work")
	}
}
