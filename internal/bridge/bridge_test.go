package bridge_test

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"math"
	"strings"
	"testing"

	"FeedRelay/internal/bridge"
	"FeedRelay/internal/bridge/bridgetest"
	"FeedRelay/internal/oracle"
)

// testAttestation returns a consensus attestation for the ETH/USD feed.
func testAttestation() *oracle.Attestation {
	return &oracle.Attestation{
		FeedID: oracle.FeedIDFromQuery([]byte("eth/usd")),
		Report: oracle.Report{
			Value:                  []byte{0x07, 0xd0},
			Timestamp:              1_000_000,
			AggregatePower:         100,
			LastConsensusTimestamp: 1_000_000,
		},
		AttestationTimestamp: 1_000_500,
	}
}

func TestSignAttestation(t *testing.T) {
	key, err := bridge.KeyFromSeed(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("key: %v", err)
	}

	vs := &oracle.ValidatorSet{Validators: []oracle.Validator{key.Validator(10)}, Timestamp: 1}

	b, err := bridge.NewValidatorBridge(vs, 10)
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}

	att := testAttestation()
	sig := key.SignAttestation(b.CurrentCheckpoint(), att)

	if len(sig) != bridge.SignatureSize {
		t.Errorf("signature size: got %d, want %d", len(sig), bridge.SignatureSize)
	}

	if err := b.VerifyOracleData(att, vs, oracle.Signatures{sig}); err != nil {
		t.Errorf("valid signature: %v", err)
	}

	// A signature bound to another checkpoint does not carry over.
	stale := key.SignAttestation([32]byte{1}, att)
	if err := b.VerifyOracleData(att, vs, oracle.Signatures{stale}); !errors.Is(err, bridge.ErrInvalidSignature) {
		t.Errorf("other checkpoint: got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyOracleDataMalformedSignature(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	att := testAttestation()
	sigs := net.Sign(att)
	sigs[1] = []byte("short")

	err := net.Bridge.VerifyOracleData(att, net.Set, sigs)
	if !errors.Is(err, bridge.ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}

	if !strings.Contains(err.Error(), "validator 1") {
		t.Errorf("error should name validator 1: %v", err)
	}
}

func TestDeriveFromED25519Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{3}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(seed)

	k1, err := bridge.DeriveFromED25519(priv)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	k2, _ := bridge.DeriveFromED25519(priv)

	if !bytes.Equal(k1.PublicKeyBytes(), k2.PublicKeyBytes()) {
		t.Error("same node key should derive same BLS key")
	}
}

func TestKeyFromShortSeed(t *testing.T) {
	if _, err := bridge.KeyFromSeed(make([]byte, 16)); err == nil {
		t.Error("short seed should fail")
	}
}

func TestVerifyOracleDataAllSigners(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	att := testAttestation()

	if err := net.Bridge.VerifyOracleData(att, net.Set, net.Sign(att)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyOracleDataThreshold(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100) // threshold 200
	att := testAttestation()

	if err := net.Bridge.VerifyOracleData(att, net.Set, net.Sign(att, 0, 2)); err != nil {
		t.Errorf("two of three should meet threshold: %v", err)
	}

	err := net.Bridge.VerifyOracleData(att, net.Set, net.Sign(att, 1))
	if !errors.Is(err, bridge.ErrInsufficientPower) {
		t.Errorf("one of three: got %v, want ErrInsufficientPower", err)
	}
}

func TestVerifyOracleDataTampered(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	att := testAttestation()
	sigs := net.Sign(att)

	tampered := *att
	tampered.Report.Value = []byte{0xff}

	err := net.Bridge.VerifyOracleData(&tampered, net.Set, sigs)
	if !errors.Is(err, bridge.ErrInvalidSignature) {
		t.Errorf("got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyOracleDataWrongSigner(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	att := testAttestation()
	sigs := net.Sign(att)

	// Validator 0 slot carries validator 1's signature.
	sigs[0] = sigs[1]

	err := net.Bridge.VerifyOracleData(att, net.Set, sigs)
	if !errors.Is(err, bridge.ErrInvalidSignature) {
		t.Errorf("got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyOracleDataUnknownSet(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	att := testAttestation()

	other := *net.Set
	other.Validators = append([]oracle.Validator(nil), net.Set.Validators...)
	other.Validators[0].Power = 1000

	err := net.Bridge.VerifyOracleData(att, &other, net.Sign(att))
	if !errors.Is(err, bridge.ErrUnknownValidatorSet) {
		t.Errorf("got %v, want ErrUnknownValidatorSet", err)
	}
}

func TestVerifyOracleDataSignatureCount(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	att := testAttestation()

	err := net.Bridge.VerifyOracleData(att, net.Set, net.Sign(att)[:2])
	if !errors.Is(err, bridge.ErrSignatureCount) {
		t.Errorf("got %v, want ErrSignatureCount", err)
	}
}

func TestNewValidatorBridgeRejectsBadSets(t *testing.T) {
	net := bridgetest.NewNetwork(t, 10, 10)

	if _, err := bridge.NewValidatorBridge(&oracle.ValidatorSet{}, 1); err == nil {
		t.Error("empty set should fail")
	}

	if _, err := bridge.NewValidatorBridge(net.Set, 0); err == nil {
		t.Error("zero threshold should fail")
	}

	if _, err := bridge.NewValidatorBridge(net.Set, 21); err == nil {
		t.Error("threshold above total power should fail")
	}

	bad := *net.Set
	bad.Validators = append([]oracle.Validator(nil), net.Set.Validators...)
	bad.Validators[1].Address = oracle.Address{1}

	if _, err := bridge.NewValidatorBridge(&bad, 10); !errors.Is(err, bridge.ErrAddressMismatch) {
		t.Errorf("got %v, want ErrAddressMismatch", err)
	}

	// 48 bytes that are not a curve point.
	junk := bytes.Repeat([]byte{1}, bridge.PublicKeySize)
	offCurve := &oracle.ValidatorSet{Validators: []oracle.Validator{{Address: oracle.AddressOf(junk), Power: 10, PublicKey: junk}}}

	if _, err := bridge.NewValidatorBridge(offCurve, 10); err == nil {
		t.Error("invalid public key should fail")
	}

	heavy := *net.Set
	heavy.Validators = append([]oracle.Validator(nil), net.Set.Validators...)
	heavy.Validators[0].Power = math.MaxUint64

	if _, err := bridge.NewValidatorBridge(&heavy, 10); !errors.Is(err, bridge.ErrPowerOverflow) {
		t.Errorf("got %v, want ErrPowerOverflow", err)
	}
}

func TestUpdateValidatorSet(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	next := bridgetest.NewNetwork(t, 50, 50)
	att := testAttestation()

	before := net.Bridge.CurrentCheckpoint()

	if err := net.Bridge.UpdateValidatorSet(next.Set, next.Threshold); err != nil {
		t.Fatalf("update: %v", err)
	}

	if net.Bridge.CurrentCheckpoint() == before {
		t.Error("checkpoint should change")
	}

	if net.Bridge.PowerThreshold() != next.Threshold {
		t.Errorf("threshold = %d, want %d", net.Bridge.PowerThreshold(), next.Threshold)
	}

	err := net.Bridge.VerifyOracleData(att, net.Set, net.Sign(att))
	if !errors.Is(err, bridge.ErrUnknownValidatorSet) {
		t.Errorf("old set: got %v, want ErrUnknownValidatorSet", err)
	}
}

func TestValidatorFileRoundTrip(t *testing.T) {
	net := bridgetest.NewNetwork(t, 30, 40, 30)

	data, err := bridge.MarshalValidatorFile(net.Set, net.Threshold)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	vs, threshold, err := bridge.ParseValidatorFile(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if threshold != net.Threshold {
		t.Errorf("threshold = %d, want %d", threshold, net.Threshold)
	}

	if bridge.Checkpoint(vs, threshold) != bridge.Checkpoint(net.Set, net.Threshold) {
		t.Error("parsed set should have the same checkpoint")
	}
}

func TestParseValidatorFileInvalid(t *testing.T) {
	cases := map[string]string{
		"json":     `{`,
		"hex":      `{"threshold":1,"validators":[{"publicKey":"zz","power":1}]}`,
		"empty":    `{"threshold":1,"validators":[]}`,
		"key size": `{"threshold":1,"validators":[{"publicKey":"abcd","power":1}]}`,
	}

	for name, body := range cases {
		if _, _, err := bridge.ParseValidatorFile([]byte(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

// BenchmarkVerifyOracleData benchmarks a 10-validator verification.
func BenchmarkVerifyOracleData(b *testing.B) {
	powers := make([]uint64, 10)
	for i := range powers {
		powers[i] = 10
	}

	net := bridgetest.NewNetwork(b, powers...)
	att := testAttestation()
	sigs := net.Sign(att)

	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		net.Bridge.VerifyOracleData(att, net.Set, sigs)
	}
}
