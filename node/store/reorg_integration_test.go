package store

import (
	"testing"

	"btpc.dev/node/consensus"
)

// TestReorgToTip_Integration builds a short main chain G->B1->B2 and a
// longer fork G->F1->F2->F3, applies both through ApplyBlockIfBestTip, and
// checks that the higher-cumulative-work fork displaces the shorter chain
// as the tip (§4.9-FULL, §9 Open Question 2).
func TestReorgToTip_Integration(t *testing.T) {
	db := openTestDB(t)
	bits := regtestBits(t)

	genesis := testBlock(consensus.ZeroHash, 1, bits, 0)
	if err := db.InitGenesis(&genesis, alwaysValidVerifier{}, "00"); err != nil {
		t.Fatalf("InitGenesis: %v", err)
	}
	genHash := genesis.BlockHash()

	b1 := testBlock(genHash, 2, bits, 1)
	if dec, err := db.ApplyBlockIfBestTip(&b1, alwaysValidVerifier{}, ApplyOptions{NowUnix: 1000}); err != nil || dec != ApplyAppliedAsTip {
		t.Fatalf("apply b1: dec=%s err=%v", dec, err)
	}
	b1Hash := b1.BlockHash()

	b2 := testBlock(b1Hash, 3, bits, 2)
	if dec, err := db.ApplyBlockIfBestTip(&b2, alwaysValidVerifier{}, ApplyOptions{NowUnix: 1000}); err != nil || dec != ApplyAppliedAsTip {
		t.Fatalf("apply b2: dec=%s err=%v", dec, err)
	}

	m := db.Manifest()
	if m == nil || m.TipHeight != 2 || m.TipHashHex != hexHash(b2.BlockHash()) {
		t.Fatalf("expected tip at b2 height 2, got %+v", m)
	}

	// Fork from genesis: F1 -> F2 -> F3, one block longer than the main
	// chain so its cumulative work strictly exceeds B2's once F3 lands.
	f1 := testBlock(genHash, 4, bits, 1)
	dec, err := db.ApplyBlockIfBestTip(&f1, alwaysValidVerifier{}, ApplyOptions{NowUnix: 1000})
	if err != nil {
		t.Fatalf("apply f1: %v", err)
	}
	if dec != ApplyStoredNotSelected {
		t.Fatalf("expected f1 stored-not-selected (shorter than tip), got %s", dec)
	}
	f1Hash := f1.BlockHash()

	f2 := testBlock(f1Hash, 5, bits, 2)
	if _, err := db.ApplyBlockIfBestTip(&f2, alwaysValidVerifier{}, ApplyOptions{NowUnix: 1000}); err != nil {
		t.Fatalf("apply f2: %v", err)
	}
	f2Hash := f2.BlockHash()

	f3 := testBlock(f2Hash, 6, bits, 3)
	dec, err = db.ApplyBlockIfBestTip(&f3, alwaysValidVerifier{}, ApplyOptions{NowUnix: 1000})
	if err != nil {
		t.Fatalf("apply f3: %v", err)
	}
	if dec != ApplyAppliedAsTip {
		t.Fatalf("expected f3 to win the reorg, got %s", dec)
	}

	m = db.Manifest()
	if m == nil || m.TipHeight != 3 || m.TipHashHex != hexHash(f3.BlockHash()) {
		t.Fatalf("expected tip to land on f3 at height 3, got %+v", m)
	}

	// The main chain's coinbase UTXOs should have been undone: B2's output
	// must no longer be spendable from the live set.
	view, err := db.LoadUTXOSet()
	if err != nil {
		t.Fatalf("LoadUTXOSet: %v", err)
	}
	b2Coinbase := b2.Transactions[0].TxID()
	if _, ok := view.GetUTXO(consensus.OutPoint{TxID: b2Coinbase, Vout: 0}); ok {
		t.Fatalf("expected b2 coinbase output to be undone after reorg")
	}
	f3Coinbase := f3.Transactions[0].TxID()
	if _, ok := view.GetUTXO(consensus.OutPoint{TxID: f3Coinbase, Vout: 0}); !ok {
		t.Fatalf("expected f3 coinbase output to be present after reorg")
	}
}
