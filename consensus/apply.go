package consensus

// BlockUTXODelta is the pure description of how applying a validated block
// changes the UTXO set: which outpoints it consumes and which new ones it
// creates. The storage layer (package node/store) turns this into an undo
// record and a single atomic batch write (§4.9-FULL); this package only
// computes what changed, never how it is persisted.
type BlockUTXODelta struct {
	Spent   []OutPoint
	Created []OutPoint
	Entries map[OutPoint]UTXO
}

// ComputeBlockUTXODelta derives the UTXO delta for a block that has already
// passed ValidateBlockWithContext. height and the coinbase flag (position 0)
// are stamped onto every created entry for later maturity checks.
func ComputeBlockUTXODelta(b *Block, height uint64) BlockUTXODelta {
	delta := BlockUTXODelta{Entries: make(map[OutPoint]UTXO)}

	for txIdx := range b.Transactions {
		tx := &b.Transactions[txIdx]
		isCoinbase := txIdx == 0
		if !isCoinbase {
			for _, in := range tx.Inputs {
				delta.Spent = append(delta.Spent, in.PreviousOutput)
			}
		}
		txid := tx.TxID()
		for voutIdx, out := range tx.Outputs {
			op := OutPoint{TxID: txid, Vout: uint32(voutIdx)}
			delta.Created = append(delta.Created, op)
			delta.Entries[op] = UTXO{
				Output:     out,
				Height:     uint32(height),
				IsCoinbase: isCoinbase,
			}
		}
	}
	return delta
}
