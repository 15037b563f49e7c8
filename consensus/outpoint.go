package consensus

// OutPoint identifies a transaction output by the id of the transaction
// that created it and its index within that transaction's output list
// (§3). The null outpoint (zero txid, vout=0xFFFFFFFF) marks a coinbase
// input and may only appear there.
type OutPoint struct {
	TxID Hash
	Vout uint32
}

const nullVout = 0xFFFFFFFF

var NullOutPoint = OutPoint{TxID: ZeroHash, Vout: nullVout}

func (o OutPoint) IsNull() bool {
	return o.TxID.IsZero() && o.Vout == nullVout
}

func (o OutPoint) serialize(dst []byte) []byte {
	dst = append(dst, o.TxID[:]...)
	return appendU32le(dst, o.Vout)
}

func parseOutPoint(b []byte, off *int) (OutPoint, error) {
	txid, err := readHash(b, off)
	if err != nil {
		return OutPoint{}, err
	}
	vout, err := readU32le(b, off)
	if err != nil {
		return OutPoint{}, err
	}
	return OutPoint{TxID: txid, Vout: vout}, nil
}
