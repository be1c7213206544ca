// Package bridgetest builds signed submissions against a deterministic
// validator network for tests.
package bridgetest

import (
	"testing"

	"FeedRelay/internal/bridge"
	"FeedRelay/internal/oracle"
)

// Network is a deterministic validator set with its keys and bridge.
type Network struct {
	Keys      []*bridge.KeyPair
	Set       *oracle.ValidatorSet
	Threshold uint64
	Bridge    *bridge.ValidatorBridge
}

// NewNetwork creates len(powers) validators with seeded keys.
// The threshold is two thirds of total power, rounded up.
func NewNetwork(t testing.TB, powers ...uint64) *Network {
	t.Helper()

	n := &Network{Set: &oracle.ValidatorSet{Timestamp: 1}}

	var total uint64

	for i, p := range powers {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		seed[31] = 0x5a

		key, err := bridge.KeyFromSeed(seed)
		if err != nil {
			t.Fatalf("validator %d key: %v", i, err)
		}

		n.Keys = append(n.Keys, key)
		n.Set.Validators = append(n.Set.Validators, key.Validator(p))

		total += p
	}

	n.Threshold = (total*2 + 2) / 3

	b, err := bridge.NewValidatorBridge(n.Set, n.Threshold)
	if err != nil {
		t.Fatalf("create bridge: %v", err)
	}

	n.Bridge = b

	return n
}

// Sign signs att with the validators at the given indices (all when none given).
func (n *Network) Sign(att *oracle.Attestation, signers ...int) oracle.Signatures {
	keys := make([]*bridge.KeyPair, len(n.Keys))

	if len(signers) == 0 {
		copy(keys, n.Keys)
	}

	for _, i := range signers {
		keys[i] = n.Keys[i]
	}

	return bridge.SignAttestation(n.Bridge.CurrentCheckpoint(), att, keys)
}

// Submission wraps att with the network's set and a full signature set.
func (n *Network) Submission(att oracle.Attestation) *oracle.Submission {
	return &oracle.Submission{
		Attestation:  att,
		ValidatorSet: *n.Set,
		Signatures:   n.Sign(&att),
	}
}
