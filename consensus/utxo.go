package consensus

// UTXO is an unspent transaction output plus the metadata needed to enforce
// coinbase maturity and reconstruct it on reorg undo (§3, §4.9-FULL).
type UTXO struct {
	Output      TransactionOutput
	Height      uint32
	IsCoinbase  bool
}

// SpendableAt reports whether a coinbase UTXO has matured by height (§4.6
// step 5, CoinbaseMaturity). Non-coinbase outputs are always spendable.
func (u *UTXO) SpendableAt(height uint32) bool {
	if !u.IsCoinbase {
		return true
	}
	return height >= u.Height+CoinbaseMaturity
}

// UTXOView is the narrow read interface stateful validation needs against
// the committed UTXO set; the storage layer supplies the concrete
// implementation (package node/store).
type UTXOView interface {
	GetUTXO(op OutPoint) (*UTXO, bool)
}

// MapUTXOView is an in-memory UTXOView, used for tests and for re-checking
// a block's own intermediate outputs during validation (§4.6 step 5 allows
// a transaction to spend an output created earlier in the same block).
type MapUTXOView map[OutPoint]UTXO

func (m MapUTXOView) GetUTXO(op OutPoint) (*UTXO, bool) {
	u, ok := m[op]
	if !ok {
		return nil, false
	}
	cp := u
	return &cp, true
}
