package consensus

// Network identifies which consensus ruleset and wire magic a node runs.
type Network byte

const (
	Mainnet Network = 0
	Testnet Network = 1
	Regtest Network = 2
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// ForkID appended to every transaction's signature image for cross-network
// replay protection (§3, §4.6, §6).
func (n Network) ForkID() byte { return byte(n) }

// Consensus constants (§3). These are fixed for all networks except where
// ConsensusParams below narrows them per-network.
const (
	TargetBlockTimeSeconds        = 600
	DifficultyAdjustmentInterval  = 2016
	MaxDifficultyAdjustmentFactor = 4.0
	MinDifficultyAdjustmentFactor = 0.25

	MaxBlockSizeBytes       = 1_000_000
	MaxTransactionSizeBytes = 100_000

	CoinbaseMaturity       = 100
	MaxFutureBlockTime     = 7200
	MedianTimePastWindow   = 11
	MinBlockTimeSeconds    = 60

	MaxInventoryItems = 50_000

	MaxTxInputs  = 1024
	MaxTxOutputs = 1024

	PublicKeyHashSize = 20

	// Initial per-block subsidy, tail emission, and the linear decay window
	// between them (§4.2).
	InitialRewardSatoshis = 3_237_500_000
	TailEmissionSatoshis  = 50_000_000
	DecayYears            = 24
	BlocksPerYear         = (365 * 24 * 3600) / TargetBlockTimeSeconds // 52,560
	DecayBlocks           = DecayYears * BlocksPerYear

	// MaxOutputValueSatoshis bounds a single output; it is an overflow guard
	// derived from the maximum possible cumulative emission, not a precise
	// supply cap (SPEC_FULL §3-FULL).
	MaxOutputValueSatoshis = InitialRewardSatoshis * DecayBlocks
)

// ConsensusParams narrows the global constants per network, matching the
// original project's mainnet/testnet/regtest split.
type ConsensusParams struct {
	Network                 Network
	PowLimit                [64]byte // maximum (easiest) target
	AllowMinDifficultyBlock bool     // regtest: no retarget, no min-block-time enforcement
	EnforceMinBlockTime     bool
}

func ParamsFor(n Network) ConsensusParams {
	switch n {
	case Regtest:
		return ConsensusParams{
			Network:                 Regtest,
			PowLimit:                maxTarget(),
			AllowMinDifficultyBlock: true,
			EnforceMinBlockTime:     false,
		}
	case Testnet:
		return ConsensusParams{
			Network:                 Testnet,
			PowLimit:                testnetPowLimit(),
			AllowMinDifficultyBlock: false,
			EnforceMinBlockTime:     true,
		}
	default:
		return ConsensusParams{
			Network:                 Mainnet,
			PowLimit:                mainnetPowLimit(),
			AllowMinDifficultyBlock: false,
			EnforceMinBlockTime:     true,
		}
	}
}

func maxTarget() [64]byte {
	var t [64]byte
	for i := range t {
		t[i] = 0xff
	}
	return t
}

// mainnetPowLimit is the target that compact bits 0x2000ffff expand to: the
// top 33 of its 64 bytes are zero. testnetPowLimit is the literal maximum
// target (all bytes 0xff).
func mainnetPowLimit() [64]byte {
	t, _ := ExpandTarget(0x2000ffff)
	return t
}

func testnetPowLimit() [64]byte {
	return maxTarget()
}
