package store

import (
	"math/big"
	"sync"
	"testing"

	"btpc.dev/node/consensus"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	datadir := t.TempDir()
	chainIDHex := "00" + "11" + "22" + "33" + "44" + "55" + "66" + "77" + "88" + "99" + "aa" + "bb" + "cc" + "dd" + "ee" + "ff" + "00" + "11" + "22" + "33" + "44" + "55" + "66" + "77" + "88" + "99" + "aa" + "bb" + "cc" + "dd" + "ee" + "ff"
	db, err := Open(datadir, chainIDHex, consensus.ParamsFor(consensus.Regtest))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func spendOneDelta(op consensus.OutPoint, created consensus.OutPoint, value uint64) consensus.BlockUTXODelta {
	return consensus.BlockUTXODelta{
		Spent:   []consensus.OutPoint{op},
		Created: []consensus.OutPoint{created},
		Entries: map[consensus.OutPoint]consensus.UTXO{
			created: {Output: consensus.TransactionOutput{Value: value, ScriptPubkey: consensus.Script{}}},
		},
	}
}

// TestApplyBatchRejectsDoubleSpendOfSameOutpoint covers §4.6 step 3's
// check-lock-check re-verification: once an outpoint has been consumed by
// one ApplyBatch call, a second batch spending the same outpoint must fail
// with ErrUTXONotFound rather than silently no-op-deleting an absent key.
func TestApplyBatchRejectsDoubleSpendOfSameOutpoint(t *testing.T) {
	db := openTestDB(t)

	var txid consensus.Hash
	txid[0] = 1
	op := consensus.OutPoint{TxID: txid, Vout: 0}
	if err := db.PutUTXO(op, consensus.UTXO{Output: consensus.TransactionOutput{Value: 10, ScriptPubkey: consensus.Script{}}}); err != nil {
		t.Fatalf("PutUTXO: %v", err)
	}

	var out1, out2 consensus.Hash
	out1[0] = 2
	out2[0] = 3
	createdA := consensus.OutPoint{TxID: out1, Vout: 0}
	createdB := consensus.OutPoint{TxID: out2, Vout: 0}

	idx := BlockIndexEntry{Height: 1, CumulativeWork: big.NewInt(1), Status: BlockStatusValid}
	m := &Manifest{SchemaVersion: SchemaVersionV1, TipHeight: 1}

	deltaA := spendOneDelta(op, createdA, 10)
	if err := db.ApplyBatch(out1, deltaA, UndoRecord{Created: deltaA.Created, Spent: []UndoSpent{{OutPoint: op, RestoredEntry: consensus.UTXO{Output: consensus.TransactionOutput{Value: 10, ScriptPubkey: consensus.Script{}}}}}}, idx, m); err != nil {
		t.Fatalf("first ApplyBatch (spends fresh outpoint) should succeed: %v", err)
	}

	deltaB := spendOneDelta(op, createdB, 10)
	err := db.ApplyBatch(out2, deltaB, UndoRecord{Created: deltaB.Created}, idx, m)
	if err == nil {
		t.Fatalf("expected second ApplyBatch spending the same outpoint to fail")
	}
	if !consensus.Is(err, consensus.ErrUTXONotFound) {
		t.Fatalf("expected ErrUTXONotFound, got %v", err)
	}

	if _, ok, _ := db.GetUTXO(createdB); ok {
		t.Fatalf("rejected batch must not have created its outputs")
	}
}

// TestApplyBatchConcurrentDoubleSpendExactlyOneSucceeds is scenario S3: two
// batches race to spend the same outpoint; exactly one must succeed.
func TestApplyBatchConcurrentDoubleSpendExactlyOneSucceeds(t *testing.T) {
	db := openTestDB(t)

	var txid consensus.Hash
	txid[0] = 7
	op := consensus.OutPoint{TxID: txid, Vout: 0}
	if err := db.PutUTXO(op, consensus.UTXO{Output: consensus.TransactionOutput{Value: 10, ScriptPubkey: consensus.Script{}}}); err != nil {
		t.Fatalf("PutUTXO: %v", err)
	}

	idx := BlockIndexEntry{Height: 1, CumulativeWork: big.NewInt(1), Status: BlockStatusValid}
	m := &Manifest{SchemaVersion: SchemaVersionV1, TipHeight: 1}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		var created consensus.Hash
		created[0] = byte(100 + i)
		createdOP := consensus.OutPoint{TxID: created, Vout: 0}
		delta := spendOneDelta(op, createdOP, 10)
		wg.Add(1)
		go func(i int, blockHash consensus.Hash, delta consensus.BlockUTXODelta) {
			defer wg.Done()
			errs[i] = db.ApplyBatch(blockHash, delta, UndoRecord{Created: delta.Created}, idx, m)
		}(i, created, delta)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else if !consensus.Is(err, consensus.ErrUTXONotFound) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one ApplyBatch to succeed, got %d", succeeded)
	}
}

func TestDB_PutGetUTXOAndLoadSet(t *testing.T) {
	datadir := t.TempDir()
	chainIDHex := "00" + "11" + "22" + "33" + "44" + "55" + "66" + "77" + "88" + "99" + "aa" + "bb" + "cc" + "dd" + "ee" + "ff" + "00" + "11" + "22" + "33" + "44" + "55" + "66" + "77" + "88" + "99" + "aa" + "bb" + "cc" + "dd" + "ee" + "ff"
	if len(chainIDHex) != 64 {
		t.Fatalf("bad chainIDHex length: %d", len(chainIDHex))
	}

	db, err := Open(datadir, chainIDHex, consensus.ParamsFor(consensus.Regtest))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	_ = db.ChainDir()
	_ = db.Manifest()

	var txid consensus.Hash
	txid[0] = 1
	point := consensus.OutPoint{TxID: txid, Vout: 2}
	entry := consensus.UTXO{
		Output: consensus.TransactionOutput{
			Value:        7,
			ScriptPubkey: consensus.Script{},
		},
		Height:     3,
		IsCoinbase: true,
	}
	if err := db.PutUTXO(point, entry); err != nil {
		t.Fatalf("PutUTXO: %v", err)
	}
	got, ok, err := db.GetUTXO(point)
	if err != nil || !ok {
		t.Fatalf("GetUTXO: ok=%v err=%v", ok, err)
	}
	if got.Output.Value != entry.Output.Value || got.Height != entry.Height || got.IsCoinbase != entry.IsCoinbase {
		t.Fatalf("got mismatch: %+v want %+v", got, entry)
	}

	utxo, err := db.LoadUTXOSet()
	if err != nil {
		t.Fatalf("LoadUTXOSet: %v", err)
	}
	if len(utxo) != 1 {
		t.Fatalf("expected 1 utxo, got %d", len(utxo))
	}

	if err := db.DeleteUTXO(point); err != nil {
		t.Fatalf("DeleteUTXO: %v", err)
	}
	_, ok, err = db.GetUTXO(point)
	if err != nil {
		t.Fatalf("GetUTXO after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected utxo to be deleted")
	}

	undo := UndoRecord{
		Spent:   []UndoSpent{},
		Created: []consensus.OutPoint{},
	}
	var bh consensus.Hash
	bh[0] = 9
	if err := db.PutUndo(bh, undo); err != nil {
		t.Fatalf("PutUndo: %v", err)
	}
	_, ok, err = db.GetUndo(bh)
	if err != nil || !ok {
		t.Fatalf("GetUndo: ok=%v err=%v", ok, err)
	}
}

func TestDB_IndexEncodeDecode(t *testing.T) {
	var prev consensus.Hash
	prev[0] = 1
	e := BlockIndexEntry{
		Height:         5,
		PrevHash:       prev,
		CumulativeWork: big.NewInt(12345),
		Status:         BlockStatusValid,
	}
	b, err := encodeIndexEntry(e)
	if err != nil {
		t.Fatalf("encodeIndexEntry: %v", err)
	}
	dec, err := decodeIndexEntry(b)
	if err != nil {
		t.Fatalf("decodeIndexEntry: %v", err)
	}
	if dec.Height != e.Height || dec.Status != e.Status || dec.CumulativeWork.Cmp(e.CumulativeWork) != 0 {
		t.Fatalf("decoded mismatch: %+v vs %+v", dec, e)
	}
	if _, err := decodeIndexEntry(b[:10]); err == nil {
		t.Fatalf("expected truncated error")
	}
}
