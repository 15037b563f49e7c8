package consensus

import "testing"

type alwaysValidSigner struct{}

func (alwaysValidSigner) VerifyMLDSA65(pubkey, sig, message []byte) bool { return true }

func coinbaseTx(reward uint64, pubkeyHash [PublicKeyHashSize]byte) Transaction {
	return Transaction{
		Version: 1,
		Inputs:  []TransactionInput{{PreviousOutput: NullOutPoint, Sequence: 0xffffffff}},
		Outputs: []TransactionOutput{{Value: reward, ScriptPubkey: NewP2PKHLockScript(pubkeyHash)}},
	}
}

func buildBlock(txs []Transaction, bits uint32) Block {
	leaves := make([]Hash, len(txs))
	for i := range txs {
		leaves[i] = txs[i].TxID()
	}
	return Block{
		Header: BlockHeader{
			Version:       1,
			PrevBlockHash: ZeroHash,
			MerkleRoot:    MerkleRoot(leaves),
			Timestamp:     1,
			Bits:          bits,
			Nonce:         0,
		},
		Transactions: txs,
	}
}

func TestBlockSerializeParseRoundTrip(t *testing.T) {
	pkh := PubkeyHash([]byte("miner"))
	b := buildBlock([]Transaction{coinbaseTx(BlockReward(0), pkh)}, 0x207fffff)

	raw := b.Serialize()
	parsed, err := ParseBlock(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.BlockHash() != b.BlockHash() {
		t.Fatalf("block hash mismatch after round trip")
	}
}

func TestBlockValidateStructureRequiresCoinbaseFirst(t *testing.T) {
	pkh := PubkeyHash([]byte("miner"))
	normal := simpleTx()
	b := buildBlock([]Transaction{normal}, 0x207fffff)
	if err := b.ValidateStructure(); !Is(err, ErrNoCoinbaseTransaction) {
		t.Fatalf("expected ErrNoCoinbaseTransaction, got %v", err)
	}
	_ = pkh
}

func TestBlockValidateStructureDetectsMerkleMismatch(t *testing.T) {
	pkh := PubkeyHash([]byte("miner"))
	b := buildBlock([]Transaction{coinbaseTx(BlockReward(0), pkh)}, 0x207fffff)
	b.Header.MerkleRoot = leafHash(0xAB)
	if err := b.ValidateStructure(); !Is(err, ErrInvalidMerkleRoot) {
		t.Fatalf("expected ErrInvalidMerkleRoot, got %v", err)
	}
}

func TestBlockValidateStructureRejectsEmptyBlock(t *testing.T) {
	b := Block{Header: BlockHeader{MerkleRoot: ZeroHash}}
	if err := b.ValidateStructure(); !Is(err, ErrBlockEmpty) {
		t.Fatalf("expected ErrBlockEmpty, got %v", err)
	}
}

func TestBlockValidateStructureRejectsDuplicateTx(t *testing.T) {
	pkh := PubkeyHash([]byte("miner"))
	cb := coinbaseTx(BlockReward(0), pkh)
	normal := simpleTx()
	b := buildBlock([]Transaction{cb, normal, normal}, 0x207fffff)
	if err := b.ValidateStructure(); !Is(err, ErrDuplicateTxInBlock) {
		t.Fatalf("expected ErrDuplicateTxInBlock, got %v", err)
	}
}
