package store

import (
	"math/big"

	"btpc.dev/node/consensus"
)

// WorkFromBits returns the WorkScore (§4.4) of the target encoded by bits,
// the quantity accumulated into BlockIndexEntry.CumulativeWork for fork
// choice (§4.9-FULL).
func WorkFromBits(bits uint32) (*big.Int, error) {
	target, err := consensus.ExpandTarget(bits)
	if err != nil {
		return nil, err
	}
	return consensus.WorkScore(target), nil
}
