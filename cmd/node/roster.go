package main

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"QuorumMesh/internal/blssig"
	"QuorumMesh/internal/identity"
)

// rosterEntry is one validator's line in the roster file: transport
// identity, BLS signing key, stake weight and dial address.
type rosterEntry struct {
	NetKey  ed25519.PublicKey          // NetKey is the ed25519 transport key
	BLSKey  [blssig.PublicKeySize]byte // BLSKey is the compressed BLS public key
	Weight  uint64                     // Weight is the validator's stake
	Address string                     // Address is the QUIC dial address
}

// loadRoster parses the validator roster file. Each non-comment line:
// <ed25519 pubkey hex> <bls pubkey hex> <weight> <address>
// Ordering in the file defines validator indices, identically on every
// node, so the roster must be distributed as-is.
func loadRoster(path string) ([]rosterEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster:\n%w", err)
	}
	defer file.Close()

	var entries []rosterEntry

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseRosterLine(line)
		if err != nil {
			return nil, fmt.Errorf("roster line %d:\n%w", lineNum, err)
		}

		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read roster:\n%w", err)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("roster is empty")
	}

	return entries, nil
}

// parseRosterLine parses one roster entry.
func parseRosterLine(line string) (rosterEntry, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return rosterEntry{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}

	netKey, err := hex.DecodeString(fields[0])
	if err != nil || len(netKey) != ed25519.PublicKeySize {
		return rosterEntry{}, fmt.Errorf("invalid ed25519 public key %q", fields[0])
	}

	blsKey, err := hex.DecodeString(fields[1])
	if err != nil || len(blsKey) != blssig.PublicKeySize {
		return rosterEntry{}, fmt.Errorf("invalid BLS public key %q", fields[1])
	}

	weight, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil || weight == 0 {
		return rosterEntry{}, fmt.Errorf("invalid weight %q", fields[2])
	}

	entry := rosterEntry{
		NetKey:  ed25519.PublicKey(netKey),
		Weight:  weight,
		Address: fields[3],
	}
	copy(entry.BLSKey[:], blsKey)

	return entry, nil
}

// buildValidatorSet turns roster entries into the identity snapshot.
func buildValidatorSet(entries []rosterEntry) (*identity.ValidatorSet, error) {
	validators := make([]identity.Validator, len(entries))

	for i, e := range entries {
		validators[i] = identity.Validator{
			Index:     i,
			PublicKey: e.BLSKey,
			Weight:    e.Weight,
		}
	}

	return identity.NewValidatorSet(validators)
}
