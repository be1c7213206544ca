package bridge

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"FeedRelay/internal/oracle"
)

var (
	// ErrUnknownValidatorSet is returned when the set does not match the bridge checkpoint.
	ErrUnknownValidatorSet = errors.New("validator set does not match checkpoint")

	// ErrSignatureCount is returned when signatures are not one per validator.
	ErrSignatureCount = errors.New("signature count does not match validator count")

	// ErrInvalidSignature is returned when a non-empty signature fails verification.
	ErrInvalidSignature = errors.New("invalid validator signature")

	// ErrInsufficientPower is returned when valid signatures carry less than the threshold.
	ErrInsufficientPower = errors.New("insufficient signing power")

	// ErrAddressMismatch is returned when a validator address is not derived from its key.
	ErrAddressMismatch = errors.New("validator address does not match public key")

	// ErrPowerOverflow is returned when summed validator power does not fit in a uint64.
	ErrPowerOverflow = errors.New("validator power overflows")
)

// checkpointDomain and signingDomain separate bridge hashes from other BLAKE3 uses.
var (
	checkpointDomain = []byte("feedrelay-checkpoint-v1")
	signingDomain    = []byte("feedrelay-sign-v1")
)

// Bridge is the validator-set collaborator consumed by the verifier.
type Bridge interface {
	// PowerThreshold is the minimum signing power for full consensus.
	PowerThreshold() uint64

	// VerifyOracleData checks signatures over att against the checkpointed validator set.
	VerifyOracleData(att *oracle.Attestation, vs *oracle.ValidatorSet, sigs oracle.Signatures) error
}

// ValidatorBridge verifies BLS signatures from a checkpointed validator set.
// It is safe for concurrent access.
type ValidatorBridge struct {
	mu         sync.RWMutex
	checkpoint [32]byte         // checkpoint commits to the validator set and threshold
	threshold  uint64           // threshold is the consensus power threshold
	keys       []*blst.P1Affine // keys are the decoded public keys of the trusted set
}

// NewValidatorBridge creates a bridge trusting vs with the given power threshold.
func NewValidatorBridge(vs *oracle.ValidatorSet, threshold uint64) (*ValidatorBridge, error) {
	keys, err := validateSet(vs, threshold)
	if err != nil {
		return nil, err
	}

	return &ValidatorBridge{
		checkpoint: Checkpoint(vs, threshold),
		threshold:  threshold,
		keys:       keys,
	}, nil
}

// UpdateValidatorSet replaces the trusted set. Used when operators rotate the
// configured set; the bridge has no rotation protocol of its own.
func (b *ValidatorBridge) UpdateValidatorSet(vs *oracle.ValidatorSet, threshold uint64) error {
	keys, err := validateSet(vs, threshold)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.checkpoint = Checkpoint(vs, threshold)
	b.threshold = threshold
	b.keys = keys
	b.mu.Unlock()

	return nil
}

// validateSet checks that a validator set can back a bridge and returns
// its decoded public keys.
func validateSet(vs *oracle.ValidatorSet, threshold uint64) ([]*blst.P1Affine, error) {
	if len(vs.Validators) == 0 {
		return nil, fmt.Errorf("empty validator set")
	}

	if threshold == 0 {
		return nil, fmt.Errorf("power threshold must be positive")
	}

	total, ok := vs.TotalPower()
	if !ok {
		return nil, ErrPowerOverflow
	}

	if total < threshold {
		return nil, fmt.Errorf("total power %d below threshold %d", total, threshold)
	}

	for i, v := range vs.Validators {
		if v.Address != oracle.AddressOf(v.PublicKey) {
			return nil, fmt.Errorf("validator %d:\n%w", i, ErrAddressMismatch)
		}
	}

	return decodeKeys(vs)
}

// PowerThreshold returns the consensus power threshold.
func (b *ValidatorBridge) PowerThreshold() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.threshold
}

// CurrentCheckpoint returns the checkpoint of the trusted set.
func (b *ValidatorBridge) CurrentCheckpoint() [32]byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.checkpoint
}

// VerifyOracleData checks that vs is the trusted set and that valid signatures
// over the attestation carry at least the threshold power.
func (b *ValidatorBridge) VerifyOracleData(att *oracle.Attestation, vs *oracle.ValidatorSet, sigs oracle.Signatures) error {
	b.mu.RLock()
	checkpoint, threshold, keys := b.checkpoint, b.threshold, b.keys
	b.mu.RUnlock()

	if Checkpoint(vs, threshold) != checkpoint {
		return ErrUnknownValidatorSet
	}

	if len(sigs) != len(vs.Validators) {
		return fmt.Errorf("%w: %d signatures, %d validators", ErrSignatureCount, len(sigs), len(vs.Validators))
	}

	signers, err := collectSigners(vs, keys, sigs)
	if err != nil {
		return err
	}

	if signers.power < threshold {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientPower, signers.power, threshold)
	}

	if err := signers.decode(sigs); err != nil {
		return err
	}

	return signers.verify(SigningMessage(checkpoint, att))
}

// Checkpoint commits to a validator set and power threshold.
// Format: BLAKE3(domain || threshold || timestamp || (address || power || pubkey)*).
func Checkpoint(vs *oracle.ValidatorSet, threshold uint64) [32]byte {
	h := blake3.New()
	h.Write(checkpointDomain)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], threshold)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], vs.Timestamp)
	h.Write(buf[:])

	for _, v := range vs.Validators {
		h.Write(v.Address[:])
		binary.BigEndian.PutUint64(buf[:], v.Power)
		h.Write(buf[:])
		h.Write(v.PublicKey)
	}

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// SigningMessage is the message validators sign for an attestation,
// binding the attestation digest to the validator set checkpoint.
func SigningMessage(checkpoint [32]byte, att *oracle.Attestation) []byte {
	digest := att.Digest()

	var msg bytes.Buffer
	msg.Grow(len(signingDomain) + 64)
	msg.Write(signingDomain)
	msg.Write(checkpoint[:])
	msg.Write(digest[:])

	return msg.Bytes()
}

// SignAttestation produces the signature set for att. keys[i] signs for
// validator i; a nil key leaves that validator's entry empty.
func SignAttestation(checkpoint [32]byte, att *oracle.Attestation, keys []*KeyPair) oracle.Signatures {
	sigs := make(oracle.Signatures, len(keys))

	for i, k := range keys {
		if k == nil {
			sigs[i] = []byte{}
			continue
		}

		sigs[i] = k.SignAttestation(checkpoint, att)
	}

	return sigs
}
