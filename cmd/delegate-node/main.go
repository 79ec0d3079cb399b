// Command delegate-node runs one delegate of the permissioned
// delegate-chain committee: it loads a JSON configuration file naming
// the rest of the committee, derives this delegate's BLS signing key
// from a seed file, opens (or creates) its LevelDB data directory, and
// serves consensus, delegate-to-delegate networking, and request
// admission until interrupted.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/delegatechain/core/bls"
	"github.com/delegatechain/core/config"
	"github.com/delegatechain/core/node"
	"github.com/delegatechain/core/persistence"
	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	configFlag = &cli.StringFlag{
		Name:     "config",
		Usage:    "path to the delegate's JSON configuration file",
		Required: true,
	}
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "directory holding this delegate's LevelDB store",
		Value: "./data",
	}
	keyFileFlag = &cli.StringFlag{
		Name:  "keyfile",
		Usage: "path to this delegate's BLS signing key seed (hex or raw bytes, at least 32 bytes); generated if absent",
	}
	delegateIDFlag = &cli.IntFlag{
		Name:  "delegate-id",
		Usage: "override the delegate_id named in --config",
		Value: -1,
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity: 0=crit 1=error 2=warn 3=info 4=debug 5=trace",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "rotate logs to this file instead of stderr",
	}
)

func main() {
	app := &cli.App{
		Name:  "delegate-node",
		Usage: "run one delegate of a permissioned delegate-chain committee",
		Flags:  []cli.Flag{configFlag, dataDirFlag, keyFileFlag, delegateIDFlag, verbosityFlag, logFileFlag},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "delegate-node:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	setupLogging(c)

	if _, err := maxprocs.Set(maxprocs.Logger(log.Debug)); err != nil {
		log.Warn("failed to set GOMAXPROCS from cgroup quota", "err", err)
	}

	cfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if id := c.Int(delegateIDFlag.Name); id >= 0 {
		cfg.DelegateID = uint8(id)
	}

	secretKey, err := loadOrGenerateKey(c.String(keyFileFlag.Name))
	if err != nil {
		return fmt.Errorf("loading signing key: %w", err)
	}

	dataDir := c.String(dataDirFlag.Name)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := persistence.OpenLevelStore(dataDir)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", dataDir, err)
	}
	defer store.Close()

	n, err := node.New(cfg, secretKey, store)
	if err != nil {
		return fmt.Errorf("constructing node: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("starting delegate", "delegate_id", cfg.DelegateID, "peer_port", cfg.PeerPort)
	return n.Run(ctx)
}

func setupLogging(c *cli.Context) {
	lvl := log.FromLegacyLevel(c.Int(verbosityFlag.Name))

	var handler slog.Handler
	if path := c.String(logFileFlag.Name); path != "" {
		writer := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     28, // days
		}
		handler = log.NewTerminalHandlerWithLevel(writer, lvl, false)
	} else {
		handler = log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)
	}
	log.SetDefault(log.NewLogger(handler))
}

// loadOrGenerateKey reads seed material for this delegate's BLS signing
// key from path (hex-encoded or raw bytes), or generates a fresh key
// from OS entropy when path is empty — convenient for local trials, not
// for a committee that needs a stable identity across restarts.
func loadOrGenerateKey(path string) (*bls.SecretKey, error) {
	if path == "" {
		seed := make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, err
		}
		return bls.GenerateSecretKey(seed)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	seed := raw
	if decoded, err := hex.DecodeString(string(trimNewline(raw))); err == nil {
		seed = decoded
	}
	return bls.GenerateSecretKey(seed)
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
