package consensus

// BlockReward computes the coinbase subsidy due at height (§4.2): a linear
// decay from InitialRewardSatoshis at height 0 down to TailEmissionSatoshis
// at height DecayBlocks, held at the tail value forever after.
func BlockReward(height uint64) uint64 {
	if height >= DecayBlocks {
		return TailEmissionSatoshis
	}
	decayRange := uint64(InitialRewardSatoshis - TailEmissionSatoshis)
	reduction := decayRange * height / DecayBlocks
	return InitialRewardSatoshis - reduction
}
