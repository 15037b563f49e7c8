package p2p

import (
	"errors"
	"fmt"

	"btpc.dev/node/consensus"
)

// ErrHeaderLinkageInvalid is returned when a streamed header's prev_hash
// does not chain to the preceding header (or known tip).
var ErrHeaderLinkageInvalid = errors.New("p2p: headers: linkage invalid")

// HeaderChainContext carries the hash of the tip being extended, the
// ancestor timestamps and the expected-bits sequence a streamed batch of
// headers must be checked against. Callers (sync engine, import path) own
// the chain history and advance this context header by header as
// ValidateHeaderChain consumes it.
type HeaderChainContext struct {
	Height         uint64
	PrevHash       consensus.Hash // hash of the header at Height-1; checked when PrevTimestamps is non-empty
	PrevTimestamps []uint64
	ExpectedBits   []uint32 // one entry per header in the batch, in order
	Params         consensus.ConsensusParams
	NowUnix        uint64
}

// ValidateHeaderChain applies the header-chain validation profile (linkage,
// proof-of-work, median-time-past, difficulty) to a batch of headers claimed
// to extend the chain at ctx.Height. It is policy validation for streamed
// header relay; it stays consistent with consensus.ValidateHeaderContext,
// which the storage layer runs at apply time. Errors surfaced by the
// consensus layer carry a consensus.ErrorCode recoverable via consensus.Is;
// callers use that to decide ban-score treatment (peer.go).
func ValidateHeaderChain(headers []consensus.BlockHeader, ctx HeaderChainContext) error {
	if len(headers) == 0 {
		return nil
	}
	if len(ctx.ExpectedBits) != len(headers) {
		return fmt.Errorf("p2p: headers: expected_bits length %d does not match header count %d", len(ctx.ExpectedBits), len(headers))
	}

	prevTimestamps := append([]uint64(nil), ctx.PrevTimestamps...)
	prevHash := ctx.PrevHash
	havePrev := len(prevTimestamps) > 0

	height := ctx.Height
	for i := range headers {
		hdr := headers[i]
		if havePrev && hdr.PrevBlockHash != prevHash {
			return fmt.Errorf("%w at height %d", ErrHeaderLinkageInvalid, height)
		}

		hctx := consensus.BlockContext{
			Height:         height,
			PrevTimestamps: prevTimestamps,
			ExpectedBits:   ctx.ExpectedBits[i],
			Params:         ctx.Params,
			NowUnix:        ctx.NowUnix,
		}
		if err := consensus.ValidateHeaderContext(&hdr, hctx); err != nil {
			return err
		}

		prevHash = hdr.Hash()
		havePrev = true
		prevTimestamps = append(prevTimestamps, hdr.Timestamp)
		if len(prevTimestamps) > consensus.MedianTimePastWindow {
			prevTimestamps = prevTimestamps[len(prevTimestamps)-consensus.MedianTimePastWindow:]
		}
		height++
	}

	return nil
}
