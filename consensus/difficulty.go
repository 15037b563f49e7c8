package consensus

import "math/big"

// ExpandTarget decodes a compact "bits" representation into a full 64-byte
// big-endian target (§4.4). The encoding follows Bitcoin's nBits scheme
// scaled to 64 bytes: the top byte is the number of bytes in the target,
// the remaining 3 bytes are the leading mantissa.
func ExpandTarget(bits uint32) ([64]byte, error) {
	exponent := int(bits >> 24)
	mantissa := int64(bits & 0x00ffffff)

	if exponent > 64 {
		return [64]byte{}, newErr(ErrInvalidTarget, "exponent %d exceeds 64 bytes", exponent)
	}

	mant := big.NewInt(mantissa)
	shift := (exponent - 3) * 8
	var value big.Int
	if shift >= 0 {
		value.Lsh(mant, uint(shift))
	} else {
		value.Rsh(mant, uint(-shift))
	}

	raw := value.Bytes()
	if len(raw) > 64 {
		return [64]byte{}, newErr(ErrInvalidTarget, "target overflows 64 bytes")
	}
	var out [64]byte
	copy(out[64-len(raw):], raw)
	return out, nil
}

// CompactFromTarget encodes a full 64-byte target back into the compact
// "bits" form (the inverse of ExpandTarget), used when constructing a new
// header after a retarget.
func CompactFromTarget(target [64]byte) uint32 {
	value := new(big.Int).SetBytes(target[:])
	if value.Sign() == 0 {
		return 0
	}
	raw := value.Bytes()
	exponent := len(raw)

	var mantissaBytes [3]byte
	if exponent <= 3 {
		copy(mantissaBytes[3-exponent:], raw)
	} else {
		copy(mantissaBytes[:], raw[:3])
	}
	mantissa := uint32(mantissaBytes[0])<<16 | uint32(mantissaBytes[1])<<8 | uint32(mantissaBytes[2])
	return uint32(exponent)<<24 | mantissa
}

func targetToBigInt(target [64]byte) *big.Int {
	return new(big.Int).SetBytes(target[:])
}

// maxWorkNumerator is 2^512, the numerator used to turn a target into a
// work score: smaller targets (harder blocks) yield larger scores.
func maxWorkNumerator() *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), 512)
}

// WorkScore returns the amount of expected work represented by a block with
// this target, approximately 2^512 / (target+1). Cumulative work across a
// chain is the sum of each block's WorkScore and is the tie-breaker for
// fork choice (§9 Open Question 2, §4.9-FULL).
func WorkScore(target [64]byte) *big.Int {
	denom := new(big.Int).Add(targetToBigInt(target), big.NewInt(1))
	if denom.Sign() == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).Div(maxWorkNumerator(), denom)
}

// MeetsTarget reports whether a block hash satisfies its claimed target:
// interpreted as a big-endian integer, the hash must not exceed the target
// (§4.4).
func MeetsTarget(hash Hash, target [64]byte) bool {
	h := new(big.Int).SetBytes(hash[:])
	t := targetToBigInt(target)
	return h.Cmp(t) <= 0
}

// CalculateNextBits applies the difficulty retarget rule (§4.4): every
// DifficultyAdjustmentInterval blocks, the next target is scaled by the
// ratio of actual to expected timespan, with that ratio clamped to
// [MinDifficultyAdjustmentFactor, MaxDifficultyAdjustmentFactor]. Only a
// wildly implausible timespan (zero/underflowed, or more than 10x expected)
// is rejected outright as InvalidTimespan; anything else retargets using the
// clamped ratio rather than erroring.
func CalculateNextBits(params ConsensusParams, firstBlockTime, lastBlockTime uint64, lastBits uint32) (uint32, error) {
	if params.AllowMinDifficultyBlock {
		return CompactFromTarget(params.PowLimit), nil
	}

	if lastBlockTime < firstBlockTime {
		return 0, newErr(ErrInvalidTimespan, "last block time precedes first block time")
	}
	actual := int64(lastBlockTime - firstBlockTime)
	const expected = int64(DifficultyAdjustmentInterval * TargetBlockTimeSeconds)
	if actual == 0 {
		return 0, newErr(ErrInvalidTimespan, "actual timespan is zero")
	}
	if actual > 10*expected {
		return 0, newErr(ErrInvalidTimespan, "actual timespan %d exceeds 10x expected %d", actual, expected)
	}

	minSpan := int64(float64(expected) * MinDifficultyAdjustmentFactor)
	maxSpan := int64(float64(expected) * MaxDifficultyAdjustmentFactor)
	clamped := actual
	if clamped < minSpan {
		clamped = minSpan
	} else if clamped > maxSpan {
		clamped = maxSpan
	}

	oldTarget, err := ExpandTarget(lastBits)
	if err != nil {
		return 0, err
	}
	newTarget := new(big.Int).Mul(targetToBigInt(oldTarget), big.NewInt(clamped))
	newTarget.Div(newTarget, big.NewInt(expected))

	powLimit := targetToBigInt(params.PowLimit)
	if newTarget.Cmp(powLimit) > 0 {
		newTarget = powLimit
	}

	raw := newTarget.Bytes()
	if len(raw) > 64 {
		return 0, newErr(ErrInvalidTarget, "retargeted value overflows 64 bytes")
	}
	var out [64]byte
	copy(out[64-len(raw):], raw)
	return CompactFromTarget(out), nil
}
