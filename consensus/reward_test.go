package consensus

import "testing"

func TestBlockRewardAtGenesis(t *testing.T) {
	if got := BlockReward(0); got != InitialRewardSatoshis {
		t.Fatalf("genesis reward = %d, want %d", got, InitialRewardSatoshis)
	}
}

func TestBlockRewardAtDecayBoundary(t *testing.T) {
	if got := BlockReward(DecayBlocks); got != TailEmissionSatoshis {
		t.Fatalf("reward at DecayBlocks = %d, want tail emission %d", got, TailEmissionSatoshis)
	}
	if got := BlockReward(DecayBlocks + 1_000_000); got != TailEmissionSatoshis {
		t.Fatalf("reward past DecayBlocks = %d, want tail emission %d", got, TailEmissionSatoshis)
	}
}

func TestBlockRewardMonotonicallyDecreasing(t *testing.T) {
	prev := BlockReward(0)
	for _, h := range []uint64{1, 1000, DecayBlocks / 2, DecayBlocks - 1} {
		cur := BlockReward(h)
		if cur > prev {
			t.Fatalf("reward increased at height %d: %d > %d", h, cur, prev)
		}
		prev = cur
	}
}
