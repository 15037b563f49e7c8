package consensus

// ValidateProofOfWork checks that a header's bits decode to a target within
// the network's allowed ceiling and that the header's hash satisfies that
// target (§4.4, §4.6 step 3).
func ValidateProofOfWork(h *BlockHeader, params ConsensusParams) error {
	target, err := ExpandTarget(h.Bits)
	if err != nil {
		return err
	}
	powLimit := targetToBigInt(params.PowLimit)
	if targetToBigInt(target).Cmp(powLimit) > 0 {
		return newErr(ErrInvalidTarget, "target exceeds network pow limit")
	}
	if !MeetsTarget(h.Hash(), target) {
		return newErr(ErrInsufficientWork, "block hash does not meet target")
	}
	return nil
}
