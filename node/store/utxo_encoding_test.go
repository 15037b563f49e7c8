package store

import (
	"testing"

	"btpc.dev/node/consensus"
)

func TestOutpointKey_RoundTrip(t *testing.T) {
	var txid consensus.Hash
	txid[0] = 1
	txid[63] = 2
	p := consensus.OutPoint{TxID: txid, Vout: 7}
	k := encodeOutpointKey(p)
	got, err := decodeOutpointKey(k)
	if err != nil {
		t.Fatalf("decodeOutpointKey: %v", err)
	}
	if got != p {
		t.Fatalf("roundtrip mismatch")
	}
	if _, err := decodeOutpointKey(k[:10]); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestUtxoEntry_RoundTripAndBounds(t *testing.T) {
	script := consensus.Script{Ops: []consensus.ScriptOp{
		{Code: consensus.OpDup},
		{Data: []byte{0xaa, 0xbb, 0xcc}},
	}}
	e := consensus.UTXO{
		Output: consensus.TransactionOutput{
			Value:        42,
			ScriptPubkey: script,
		},
		Height:     9,
		IsCoinbase: true,
	}
	b, err := encodeUtxoEntry(e)
	if err != nil {
		t.Fatalf("encodeUtxoEntry: %v", err)
	}
	got, err := decodeUtxoEntry(b)
	if err != nil {
		t.Fatalf("decodeUtxoEntry: %v", err)
	}
	if got.Output.Value != e.Output.Value ||
		got.Height != e.Height ||
		got.IsCoinbase != e.IsCoinbase {
		t.Fatalf("decoded entry mismatch: got=%+v want=%+v", got, e)
	}

	if _, err := decodeUtxoEntry([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected truncated error")
	}
	// Corrupt spk_len so it points past end.
	bad := append([]byte(nil), b...)
	bad[13] = 0xff
	if _, err := decodeUtxoEntry(bad); err == nil {
		t.Fatalf("expected spk_len error")
	}
}
