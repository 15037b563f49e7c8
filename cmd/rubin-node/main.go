package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"btpc.dev/node"
	"btpc.dev/node/consensus"
	"btpc.dev/node/crypto"
	"btpc.dev/node/store"
)

var nowUnix = func() int64 { return time.Now().Unix() }

var newMinerFn = node.NewMiner

var newSyncEngineFn = node.NewSyncEngine

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	var peers multiStringFlag

	cfg := defaults
	fs := flag.NewFlagSet("rubin-node", flag.ContinueOnError)
	fs.SetOutput(stderr)

	peerCSV := fs.String("peers", "", "bootstrap peers, comma-separated host:port")
	fs.Var(&peers, "peer", "single bootstrap peer host:port (repeatable)")
	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (mainnet/testnet/regtest)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.ListenAddr, "listen", defaults.ListenAddr, "listen address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.IntVar(&cfg.MaxPeers, "max-peers", defaults.MaxPeers, "max connected peers")
	mineBlocks := fs.Int("mine-blocks", 0, "mine N blocks locally after startup")
	mineExit := fs.Bool("mine-exit", false, "exit immediately after local mining")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.ConnectPeers = node.NormalizePeers(append([]string{*peerCSV}, peers...)...)
	if err := node.ValidateConfig(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		_, _ = fmt.Fprintf(stderr, "datadir create failed: %v\n", err)
		return 2
	}

	network, err := parseNetwork(cfg.Network)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid network: %v\n", err)
		return 2
	}
	params := consensus.ParamsFor(network)
	chainIDHex := hex.EncodeToString(consensus.DoubleSHA512([]byte("btpc-chain-id:" + cfg.Network)).Bytes()[:32])

	db, err := store.Open(cfg.DataDir, chainIDHex, params)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "store open failed: %v\n", err)
		return 2
	}
	defer func() { _ = db.Close() }()

	provider := crypto.Provider(crypto.DevStdProvider{})
	verifier := crypto.AsScriptVerifier(provider)

	if err := node.EnsureGenesis(db, cfg.DataDir, network, verifier, chainIDHex); err != nil {
		_, _ = fmt.Fprintf(stderr, "genesis bootstrap failed: %v\n", err)
		return 2
	}

	syncCfg := node.DefaultSyncConfig()
	syncEngine, err := newSyncEngineFn(db, syncCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "sync engine init failed: %v\n", err)
		return 2
	}

	if err := printConfig(stdout, cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}

	m := db.Manifest()
	if m != nil {
		_, _ = fmt.Fprintf(stdout, "chain: tip_height=%d tip_hash=%s cumulative_work=%s\n", m.TipHeight, m.TipHashHex, m.TipCumulativeWorkDec)
	} else {
		_, _ = fmt.Fprintln(stdout, "chain: empty")
	}

	headerReq := syncEngine.HeaderSyncRequest()
	_, _ = fmt.Fprintf(stdout, "sync: header_request_has_from=%v header_request_limit=%d ibd=%v\n", headerReq.HasFrom, headerReq.Limit, syncEngine.IsInIBD(nowUnixU64()))
	_, _ = fmt.Fprintf(stdout, "p2p: peer_slots=%d connect_peers=%d\n", cfg.MaxPeers, len(cfg.ConnectPeers))
	if *dryRun {
		return 0
	}

	if cfg.EnableMining && *mineBlocks <= 0 {
		*mineBlocks = 1
	}
	if *mineBlocks > 0 {
		minerCfg := node.DefaultMinerConfig()
		minerCfg.Verifier = verifier
		minerCfg.PubkeyHash = consensus.PubkeyHash([]byte("btpc-dev-miner:" + cfg.Network))
		miner, err := newMinerFn(db, syncEngine, minerCfg)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "miner init failed: %v\n", err)
			return 2
		}
		mined, err := miner.MineN(context.Background(), *mineBlocks, nil)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "mining failed: %v\n", err)
			return 2
		}
		for _, b := range mined {
			_, _ = fmt.Fprintf(stdout, "mined: height=%d hash=%s timestamp=%d nonce=%d tx_count=%d\n", b.Height, b.Hash, b.Timestamp, b.Nonce, b.TxCount)
		}
		if *mineExit {
			return 0
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reservations := node.NewReservationManager(node.DefaultReservationExpiry)
	go reservations.Run(ctx)

	_, _ = fmt.Fprintln(stdout, "rubin-node running")
	<-ctx.Done()
	_, _ = fmt.Fprintln(stdout, "rubin-node stopped")
	return 0
}

func parseNetwork(name string) (consensus.Network, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mainnet":
		return consensus.Mainnet, nil
	case "testnet":
		return consensus.Testnet, nil
	case "regtest":
		return consensus.Regtest, nil
	default:
		return 0, fmt.Errorf("unknown network %q", name)
	}
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

func nowUnixU64() uint64 {
	now := nowUnix()
	if now <= 0 {
		return 0
	}
	return uint64(now)
}
