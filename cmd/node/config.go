package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"time"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for the proof archive.
	DataPath string

	// QUICAddress is the QUIC P2P listen address.
	QUICAddress string

	// KeyPath is the path to the ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's ed25519 transport key; the BLS signing
	// key is derived from it deterministically.
	PrivateKey ed25519.PrivateKey

	// ValidatorsPath is the path to the validator roster file.
	ValidatorsPath string

	// ThresholdNum and ThresholdDen define the quorum stake fraction.
	ThresholdNum uint64
	ThresholdDen uint64

	// RoundTTL is how long a round may run before timing out.
	RoundTTL time.Duration

	// SignMessage, when non-empty, makes the node initiate one round
	// for the hex-encoded message and exit after it finishes.
	SignMessage string

	// Verbose enables debug logging.
	Verbose bool
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC P2P address")
	flag.StringVar(&cfg.KeyPath, "key", "", "ed25519 private key path (generates new if missing)")
	flag.StringVar(&cfg.ValidatorsPath, "validators", "./validators.txt", "Validator roster path")
	flag.Uint64Var(&cfg.ThresholdNum, "threshold-num", 2, "Quorum stake fraction numerator")
	flag.Uint64Var(&cfg.ThresholdDen, "threshold-den", 3, "Quorum stake fraction denominator")
	flag.DurationVar(&cfg.RoundTTL, "round-ttl", 10*time.Second, "Aggregation round deadline")
	flag.StringVar(&cfg.SignMessage, "sign", "", "Hex message to initiate one aggregation round for")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	return cfg
}

// thresholdWeight computes the quorum weight for a total stake,
// rounding up so the covered fraction is never below the configured one.
func (c *Config) thresholdWeight(totalWeight uint64) uint64 {
	return (totalWeight*c.ThresholdNum + c.ThresholdDen - 1) / c.ThresholdDen
}

// loadOrGenerateKey reads the ed25519 key at keyPath, generating and
// persisting a fresh one when the file does not exist. An empty path
// yields an ephemeral key.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(keyPath)

	switch {
	case keyPath == "" || os.IsNotExist(err):
		_, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, fmt.Errorf("generate key:\n%w", genErr)
		}

		if keyPath != "" {
			if saveErr := os.WriteFile(keyPath, priv, 0600); saveErr != nil {
				return nil, fmt.Errorf("save key to %s:\n%w", keyPath, saveErr)
			}
		}

		return priv, nil

	case err != nil:
		return nil, fmt.Errorf("read key file:\n%w", err)

	case len(data) != ed25519.PrivateKeySize:
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}
