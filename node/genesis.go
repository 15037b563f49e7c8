package node

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"btpc.dev/node/consensus"
	"btpc.dev/node/store"
)

// genesisFileV1 is the on-disk override format: the full canonical block
// serialization, hex-encoded (§4.10-FULL).
type genesisFileV1 struct {
	Version  string `json:"version"` // "BTPCGENv1"
	BlockHex string `json:"block_hex"`
}

const genesisFileVersion = "BTPCGENv1"

// genesisMessage is embedded in every network's deterministic genesis
// coinbase, the way a message is embedded in a real genesis block.
const genesisMessage = "btpc genesis"

// BuildDeterministicGenesis constructs the canonical genesis block for a
// network: a single coinbase locked to an all-zero pubkey hash (unspendable
// without ever having been claimed by a miner), whose bits are the compact
// form of the network's proof-of-work limit. The nonce is left at 0 and no
// nonce search is done, so the header hash is not checked against that
// target here. It is pure and reproducible: the same network always
// yields the same block, which is what lets mainnet/testnet treat it as a
// hard-coded constant to check loaded genesis files against.
func BuildDeterministicGenesis(network consensus.Network) consensus.Block {
	params := consensus.ParamsFor(network)
	bits := consensus.CompactFromTarget(params.PowLimit)

	coinbase := consensus.Transaction{
		Version: 1,
		Inputs: []consensus.TransactionInput{{
			PreviousOutput: consensus.NullOutPoint,
			ScriptSig: consensus.Script{Ops: []consensus.ScriptOp{
				{Code: 0, Data: []byte(genesisMessage)},
			}},
			Sequence: 0xffffffff,
		}},
		Outputs: []consensus.TransactionOutput{{
			Value:        consensus.BlockReward(0),
			ScriptPubkey: consensus.NewP2PKHLockScript([consensus.PublicKeyHashSize]byte{}),
		}},
	}

	leaves := []consensus.Hash{coinbase.TxID()}
	header := consensus.BlockHeader{
		Version:       1,
		PrevBlockHash: consensus.ZeroHash,
		MerkleRoot:    consensus.MerkleRoot(leaves),
		Timestamp:     genesisTimestampFor(network),
		Bits:          bits,
	}
	return consensus.Block{Header: header, Transactions: []consensus.Transaction{coinbase}}
}

// genesisTimestampFor fixes a distinct, deterministic timestamp per network
// so mainnet/testnet/regtest genesis blocks never collide on hash by
// accident.
func genesisTimestampFor(network consensus.Network) uint64 {
	switch network {
	case consensus.Mainnet:
		return 1_735_689_600 // 2025-01-01T00:00:00Z
	case consensus.Testnet:
		return 1_735_689_600 + 1
	default:
		return 1_735_689_600 + 2
	}
}

// EnsureGenesis loads data_dir/genesis.json if present, otherwise derives the
// network's deterministic genesis and writes it; on mainnet/testnet a
// loaded file's hash must match the network's constant exactly, and a
// mismatch aborts startup rather than silently overwriting it (§4.10-FULL,
// §9 Open Question: genesis persistence). If db already has a tip, the
// store has already been bootstrapped in a prior run and this is a no-op.
func EnsureGenesis(db *store.DB, dataDir string, network consensus.Network, verifier consensus.VerifySigner, chainIDHex string) error {
	if db.Manifest() != nil {
		return nil
	}

	path := filepath.Join(dataDir, "genesis.json")
	block, err := loadGenesisFile(path)
	switch {
	case err == nil:
		if network != consensus.Regtest {
			expected := BuildDeterministicGenesis(network)
			if block.BlockHash() != expected.BlockHash() {
				return fmt.Errorf(
					"genesis.json hash mismatch for network: on-disk=%s expected=%s",
					block.BlockHash(), expected.BlockHash(),
				)
			}
		}
	case errors.Is(err, os.ErrNotExist):
		block = BuildDeterministicGenesis(network)
		if err := writeGenesisFile(path, block); err != nil {
			return fmt.Errorf("persist genesis.json: %w", err)
		}
	default:
		return fmt.Errorf("load genesis.json: %w", err)
	}

	return db.InitGenesis(&block, verifier, chainIDHex)
}

func loadGenesisFile(path string) (consensus.Block, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-controlled data directory
	if err != nil {
		return consensus.Block{}, err
	}
	var f genesisFileV1
	if err := json.Unmarshal(raw, &f); err != nil {
		return consensus.Block{}, err
	}
	if f.Version != genesisFileVersion {
		return consensus.Block{}, fmt.Errorf("unsupported genesis.json version %q", f.Version)
	}
	blockBytes, err := hex.DecodeString(f.BlockHex)
	if err != nil {
		return consensus.Block{}, fmt.Errorf("block_hex: %w", err)
	}
	return consensus.ParseBlock(blockBytes)
}

func writeGenesisFile(path string, block consensus.Block) error {
	f := genesisFileV1{
		Version:  genesisFileVersion,
		BlockHex: hex.EncodeToString(block.Serialize()),
	}
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644) // #nosec G306 -- not secret material
}
