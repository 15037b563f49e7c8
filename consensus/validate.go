package consensus

import "sort"

// BlockContext carries the chain state a block's header and transactions
// must be checked against: everything that is not derivable from the block
// bytes alone (§4.6).
type BlockContext struct {
	Height uint64
	// PrevTimestamps holds up to MedianTimePastWindow timestamps of the
	// most recent ancestors, oldest first, used for median-time-past and
	// minimum-block-time checks.
	PrevTimestamps []uint64
	// ExpectedBits is the bits value CalculateNextBits produced for this
	// height; the caller (storage layer, which owns ancestor history)
	// computes it and passes it in.
	ExpectedBits uint32
	Params       ConsensusParams
	NowUnix      uint64
}

// MedianTimePast returns the median of the given timestamps (§4.6 step 4).
func MedianTimePast(timestamps []uint64) uint64 {
	if len(timestamps) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

// ValidateHeaderContext checks the timestamp and difficulty rules that
// depend on chain history (§4.4, §4.6 steps 3-4).
func ValidateHeaderContext(h *BlockHeader, ctx BlockContext) error {
	if h.Timestamp > ctx.NowUnix+MaxFutureBlockTime {
		return newErr(ErrTimestampTooFarInFuture, "timestamp %d exceeds now+%d", h.Timestamp, MaxFutureBlockTime)
	}

	mtp := MedianTimePast(ctx.PrevTimestamps)
	if len(ctx.PrevTimestamps) > 0 && h.Timestamp <= mtp {
		return newErr(ErrTimestampNotGreaterThanMTP, "timestamp %d does not exceed median time past %d", h.Timestamp, mtp)
	}

	if ctx.Params.EnforceMinBlockTime && len(ctx.PrevTimestamps) > 0 {
		last := ctx.PrevTimestamps[len(ctx.PrevTimestamps)-1]
		if h.Timestamp < last+MinBlockTimeSeconds {
			return newErr(ErrBlockMinedTooSoon, "timestamp %d is within %d seconds of previous block", h.Timestamp, MinBlockTimeSeconds)
		}
	}

	if h.Bits != ctx.ExpectedBits {
		return newErr(ErrIncorrectDifficultyAdjust, "bits 0x%08x does not match expected 0x%08x", h.Bits, ctx.ExpectedBits)
	}

	return ValidateProofOfWork(h, ctx.Params)
}

// ValidateBlockWithContext performs the full stateful validation pipeline of
// §4.6: structural checks, header/timestamp/difficulty/PoW checks, then
// per-transaction UTXO, maturity, value, and signature checks, finishing
// with the coinbase reward bound. view must resolve outputs the chain has
// already committed; outputs created earlier in this same block are
// resolved locally regardless of view.
func ValidateBlockWithContext(b *Block, ctx BlockContext, view UTXOView, verifier VerifySigner) error {
	if err := b.ValidateStructure(); err != nil {
		return err
	}
	if err := ValidateHeaderContext(&b.Header, ctx); err != nil {
		return err
	}

	createdInBlock := make(map[OutPoint]TransactionOutput)
	spentInBlock := make(map[OutPoint]struct{})

	var totalFees uint64
	for i := 1; i < len(b.Transactions); i++ {
		tx := &b.Transactions[i]

		var inputSum uint64
		for _, in := range tx.Inputs {
			if _, dup := spentInBlock[in.PreviousOutput]; dup {
				return newErr(ErrDuplicateInput, "outpoint %v double-spent within block", in.PreviousOutput)
			}

			var utxo UTXO
			if out, ok := createdInBlock[in.PreviousOutput]; ok {
				utxo = UTXO{Output: out, Height: uint32(ctx.Height), IsCoinbase: false}
			} else if u, ok := view.GetUTXO(in.PreviousOutput); ok {
				utxo = *u
			} else {
				return newErr(ErrUTXONotFound, "outpoint %v not found", in.PreviousOutput)
			}

			if !utxo.SpendableAt(uint32(ctx.Height)) {
				return newErr(ErrImmatureCoinbase, "coinbase output at height %d not yet mature", utxo.Height)
			}

			if err := ExecuteP2PKH(in.ScriptSig, utxo.Output.ScriptPubkey, tx.SignatureImage(), verifier); err != nil {
				return err
			}

			newSum := inputSum + utxo.Output.Value
			if newSum < inputSum {
				return newErr(ErrValueOverflow, "sum of input values overflows u64")
			}
			inputSum = newSum
			spentInBlock[in.PreviousOutput] = struct{}{}
		}

		outputSum, err := tx.OutputSum()
		if err != nil {
			return err
		}
		if outputSum > inputSum {
			return newErr(ErrInsufficientInputValue, "tx %s outputs %d exceed inputs %d", tx.TxID(), outputSum, inputSum)
		}
		totalFees += inputSum - outputSum

		txid := tx.TxID()
		for idx, out := range tx.Outputs {
			createdInBlock[OutPoint{TxID: txid, Vout: uint32(idx)}] = out
		}
	}

	coinbaseSum, err := b.Transactions[0].OutputSum()
	if err != nil {
		return err
	}
	maxReward := BlockReward(ctx.Height) + totalFees
	if coinbaseSum > maxReward {
		return newErr(ErrExcessiveCoinbaseReward, "coinbase pays %d, max allowed is %d", coinbaseSum, maxReward)
	}

	return nil
}
