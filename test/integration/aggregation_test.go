package integration

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"QuorumMesh/internal/aggregation"
	"QuorumMesh/internal/blssig"
	"QuorumMesh/internal/identity"
	"QuorumMesh/internal/network"
)

// testValidator is one in-process validator: transport node, keys and
// aggregation driver.
type testValidator struct {
	index   int
	netKey  ed25519.PrivateKey
	blsKey  *blssig.KeyPair
	node    *network.Node
	driver  *aggregation.Driver
	netKeys []ed25519.PublicKey
}

// Send delivers a payload to the validator at the given index.
// Implements aggregation.Transport.
func (v *testValidator) Send(to int, payload []byte) error {
	peer := v.node.GetPeer(v.netKeys[to])
	if peer == nil {
		return fmt.Errorf("validator %d not connected", to)
	}

	return peer.Send(payload)
}

// startValidators builds a fully meshed network of n validators with
// weight 1 each, all running aggregation drivers over real QUIC and BLS.
func startValidators(t *testing.T, n int) []*testValidator {
	t.Helper()

	validators := make([]*testValidator, n)
	specs := make([]identity.Validator, n)
	netKeys := make([]ed25519.PublicKey, n)

	for i := 0; i < n; i++ {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			t.Fatalf("generate transport key %d: %v", i, err)
		}

		blsKey, err := blssig.DeriveFromED25519(priv)
		if err != nil {
			t.Fatalf("derive BLS key %d: %v", i, err)
		}

		netKeys[i] = pub

		var blsPub [blssig.PublicKeySize]byte
		copy(blsPub[:], blsKey.PublicKeyBytes())

		specs[i] = identity.Validator{PublicKey: blsPub, Weight: 1}
		validators[i] = &testValidator{index: i, netKey: priv, blsKey: blsKey, netKeys: netKeys}
	}

	vs, err := identity.NewValidatorSet(specs)
	if err != nil {
		t.Fatalf("build validator set: %v", err)
	}

	for i, v := range validators {
		node, err := network.NewNode(network.Config{
			PrivateKey: v.netKey,
			ListenAddr: "127.0.0.1:0",
		})
		if err != nil {
			t.Fatalf("create node %d: %v", i, err)
		}

		if err := node.Start(); err != nil {
			t.Fatalf("start node %d: %v", i, err)
		}

		v.node = node

		driver, err := aggregation.NewDriver(vs, i, aggregation.NewBLSCrypto(v.blsKey, vs), v, aggregation.Config{
			TickInterval: 20 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("create driver %d: %v", i, err)
		}

		v.driver = driver

		local := v
		node.OnMessage(func(peer *network.Peer, data []byte) {
			for idx, key := range local.netKeys {
				if key.Equal(peer.PublicKey()) {
					local.driver.HandleMessage(idx, data)
					return
				}
			}
		})
	}

	t.Cleanup(func() {
		for _, v := range validators {
			v.driver.Close()
			v.node.Close()
		}
	})

	// Full mesh.
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if _, err := validators[i].node.Connect(validators[j].node.Addr()); err != nil {
				t.Fatalf("connect %d to %d: %v", i, j, err)
			}
		}
	}

	time.Sleep(200 * time.Millisecond)

	return validators
}

// TestFourValidatorQuorum runs a full aggregation round across four
// in-process validators over QUIC with real BLS signatures.
func TestFourValidatorQuorum(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	validators := startValidators(t, 4)
	message := []byte("attest block 1234")

	handles := make([]*aggregation.RoundHandle, len(validators))

	for i, v := range validators {
		handle, err := v.driver.StartRound(message, 3, time.Now().Add(15*time.Second))
		if err != nil {
			t.Fatalf("start round on validator %d: %v", i, err)
		}

		handles[i] = handle
	}

	specs := make([]identity.Validator, len(validators))
	for i, v := range validators {
		copy(specs[i].PublicKey[:], v.blsKey.PublicKeyBytes())
		specs[i].Weight = 1
	}

	vs, err := identity.NewValidatorSet(specs)
	if err != nil {
		t.Fatalf("rebuild validator set: %v", err)
	}

	for i, handle := range handles {
		select {
		case <-handle.Done():
			outcome := handle.Outcome()
			if outcome.Status != aggregation.StatusCompleted {
				t.Fatalf("validator %d: expected completed, got %v (weight %d)", i, outcome.Status, outcome.Weight)
			}

			if outcome.Weight < 3 {
				t.Errorf("validator %d: covered weight %d below threshold", i, outcome.Weight)
			}

			aggKey, err := vs.AggregatePublicKey(outcome.Signers.Indices())
			if err != nil {
				t.Fatalf("validator %d: aggregate key: %v", i, err)
			}

			if !blssig.VerifyAggregate(outcome.Signature, message, aggKey) {
				t.Errorf("validator %d: aggregate signature does not verify", i)
			}

		case <-time.After(20 * time.Second):
			t.Fatalf("validator %d: round did not finish", i)
		}
	}
}

// TestQuorumWithSilentValidator tests that the quorum is reached even
// when one validator never participates.
func TestQuorumWithSilentValidator(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	validators := startValidators(t, 4)
	message := []byte("attest despite a silent peer")

	// Validator 3 never starts the round.
	active := validators[:3]
	handles := make([]*aggregation.RoundHandle, len(active))

	for i, v := range active {
		handle, err := v.driver.StartRound(message, 3, time.Now().Add(15*time.Second))
		if err != nil {
			t.Fatalf("start round on validator %d: %v", i, err)
		}

		handles[i] = handle
	}

	for i, handle := range handles {
		select {
		case <-handle.Done():
			outcome := handle.Outcome()
			if outcome.Status != aggregation.StatusCompleted {
				t.Fatalf("validator %d: expected completed, got %v (weight %d)", i, outcome.Status, outcome.Weight)
			}

			if outcome.Signers.Test(3) {
				t.Errorf("validator %d: silent validator appears in the aggregate", i)
			}

		case <-time.After(20 * time.Second):
			t.Fatalf("validator %d: round did not finish", i)
		}
	}
}
