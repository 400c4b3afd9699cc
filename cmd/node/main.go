package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"QuorumMesh/internal/logger"
)

func main() {
	logger.Init()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := parseFlags()

	if !cfg.Verbose {
		logger.SetLevel(slog.LevelInfo)
	}

	key, err := loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}
	cfg.PrivateKey = key

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	logger.Info("starting QuorumMesh node",
		"pubkey", hex.EncodeToString(key.Public().(ed25519.PublicKey)),
		"quic", cfg.QUICAddress,
		"data", cfg.DataPath,
		"validators", cfg.ValidatorsPath,
		"threshold", fmt.Sprintf("%d/%d", cfg.ThresholdNum, cfg.ThresholdDen),
	)

	return node.Run()
}
