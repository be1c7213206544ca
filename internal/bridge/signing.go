package bridge

import (
	"crypto/ed25519"
	"fmt"
	"math/bits"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"

	"FeedRelay/internal/oracle"
)

// Validators sign with BLS12-381 in the minimal-pubkey variant: public keys
// live in G1, signatures in G2.
const (
	// PublicKeySize is the size of a compressed validator public key.
	PublicKeySize = 48

	// SignatureSize is the size of a compressed attestation signature.
	SignatureSize = 96
)

var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// KeyPair is a validator signing key.
type KeyPair struct {
	secret *blst.SecretKey
	public *blst.P1Affine
}

// DeriveFromED25519 derives the validator key bound to a node identity:
// KeyFromSeed(BLAKE3("feedrelay-bls-keygen" || seed)).
func DeriveFromED25519(privKey ed25519.PrivateKey) (*KeyPair, error) {
	h := blake3.New()
	h.Write([]byte("feedrelay-bls-keygen"))
	h.Write(privKey.Seed())

	var derived [32]byte
	h.Sum(derived[:0])

	return KeyFromSeed(derived[:])
}

// KeyFromSeed creates a validator key from a seed of at least 32 bytes.
func KeyFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("derive validator key")
	}

	return &KeyPair{secret: secret, public: new(blst.P1Affine).From(secret)}, nil
}

// PublicKeyBytes returns the compressed public key.
func (k *KeyPair) PublicKeyBytes() []byte {
	return k.public.Compress()
}

// Validator returns the set entry for this key with the given power.
func (k *KeyPair) Validator(power uint64) oracle.Validator {
	pk := k.PublicKeyBytes()

	return oracle.Validator{Address: oracle.AddressOf(pk), Power: power, PublicKey: pk}
}

// SignAttestation signs att for the validator set committed to by checkpoint.
func (k *KeyPair) SignAttestation(checkpoint [32]byte, att *oracle.Attestation) []byte {
	return new(blst.P2Affine).Sign(k.secret, SigningMessage(checkpoint, att), blsDST).Compress()
}

// decodeKeys parses and subgroup-checks every public key of a set.
func decodeKeys(vs *oracle.ValidatorSet) ([]*blst.P1Affine, error) {
	keys := make([]*blst.P1Affine, len(vs.Validators))

	for i, v := range vs.Validators {
		if len(v.PublicKey) != PublicKeySize {
			return nil, fmt.Errorf("validator %d: invalid public key size %d", i, len(v.PublicKey))
		}

		pk := new(blst.P1Affine).Uncompress(v.PublicKey)
		if pk == nil || !pk.KeyValidate() {
			return nil, fmt.Errorf("validator %d: invalid public key", i)
		}

		keys[i] = pk
	}

	return keys, nil
}

// signerSet is the signing subset of a trusted validator set with its
// signatures decoded.
type signerSet struct {
	vs      *oracle.ValidatorSet
	indices []int            // indices are positions in vs of validators that signed
	keys    []*blst.P1Affine // keys[i] belongs to indices[i]
	sigs    []*blst.P2Affine // sigs[i] belongs to indices[i]
	power   uint64           // power is the summed power of the signers
}

// collectSigners gathers the validators with a non-empty signature and
// their summed power. Signatures are not decoded yet.
func collectSigners(vs *oracle.ValidatorSet, keys []*blst.P1Affine, sigs oracle.Signatures) (*signerSet, error) {
	s := &signerSet{vs: vs}

	var carry uint64

	for i, sig := range sigs {
		if len(sig) == 0 {
			continue
		}

		s.power, carry = bits.Add64(s.power, vs.Validators[i].Power, 0)
		if carry != 0 {
			return nil, ErrPowerOverflow
		}

		s.indices = append(s.indices, i)
		s.keys = append(s.keys, keys[i])
	}

	return s, nil
}

// decode parses every signature, naming the first malformed one.
func (s *signerSet) decode(sigs oracle.Signatures) error {
	s.sigs = make([]*blst.P2Affine, len(s.indices))

	for i, idx := range s.indices {
		raw := sigs[idx]

		var sig *blst.P2Affine
		if len(raw) == SignatureSize {
			sig = new(blst.P2Affine).Uncompress(raw)
		}

		if sig == nil || !sig.SigValidate(true) {
			return s.invalid(idx)
		}

		s.sigs[i] = sig
	}

	return nil
}

// verify checks every signer over message with one aggregate pairing and,
// if that fails, locates the first invalid signature.
func (s *signerSet) verify(message []byte) error {
	if len(s.sigs) == 0 {
		return ErrInvalidSignature
	}

	var (
		aggSig blst.P2Aggregate
		aggPk  blst.P1Aggregate
	)

	if aggSig.Aggregate(s.sigs, false) && aggPk.Aggregate(s.keys, false) &&
		aggSig.ToAffine().Verify(false, aggPk.ToAffine(), false, message, blsDST) {
		return nil
	}

	for i, idx := range s.indices {
		if !s.sigs[i].Verify(false, s.keys[i], false, message, blsDST) {
			return s.invalid(idx)
		}
	}

	// Individually valid signatures whose aggregate fails should not happen.
	return ErrInvalidSignature
}

func (s *signerSet) invalid(idx int) error {
	return fmt.Errorf("%w: validator %d (%s)", ErrInvalidSignature, idx, s.vs.Validators[idx].Address)
}
