package oracle

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"

	"github.com/zeebo/blake3"
)

// FeedIDSize is the size of a feed identifier in bytes.
const FeedIDSize = 32

// FeedID names one data series (e.g. an asset price pair).
type FeedID [FeedIDSize]byte

// String returns the lowercase hex form of the feed identifier.
func (f FeedID) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 8 hex characters, for logs.
func (f FeedID) Short() string {
	return hex.EncodeToString(f[:4])
}

// ParseFeedID parses a 64 character hex string, with or without 0x prefix.
func ParseFeedID(s string) (FeedID, error) {
	var id FeedID

	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("decode feed id:\n%w", err)
	}

	if len(raw) != FeedIDSize {
		return id, fmt.Errorf("invalid feed id length: got %d, want %d", len(raw), FeedIDSize)
	}

	copy(id[:], raw)

	return id, nil
}

// FeedIDFromQuery derives a feed identifier from its query descriptor.
func FeedIDFromQuery(query []byte) FeedID {
	return FeedID(blake3.Sum256(query))
}

// Address identifies a principal (validator or guardian).
type Address [32]byte

// String returns the lowercase hex form of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress parses a 64 character hex address, with or without 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address

	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return a, fmt.Errorf("decode address:\n%w", err)
	}

	if len(raw) != len(a) {
		return a, fmt.Errorf("invalid address length: got %d, want %d", len(raw), len(a))
	}

	copy(a[:], raw)

	return a, nil
}

// AddressOf derives the address of a public key (BLS or ed25519).
func AddressOf(publicKey []byte) Address {
	return Address(blake3.Sum256(publicKey))
}

// Report is the value proposed for a feed by the reporting network.
// All timestamps are milliseconds since the Unix epoch; 0 means none.
type Report struct {
	Value                  []byte // Value is the opaque payload (a big-endian uint256 for prices)
	Timestamp              uint64 // Timestamp is when the network aggregated Value
	AggregatePower         uint64 // AggregatePower is the stake backing the aggregate
	PreviousTimestamp      uint64 // PreviousTimestamp links to the previous aggregate
	NextTimestamp          uint64 // NextTimestamp links to the next aggregate, if known
	LastConsensusTimestamp uint64 // LastConsensusTimestamp is the latest report with full consensus
}

// IsConsensus reports whether the report itself reached full consensus.
func (r *Report) IsConsensus() bool {
	return r.Timestamp == r.LastConsensusTimestamp
}

// Attestation wraps a report with the feed it belongs to and the time
// validators signed it (milliseconds since the Unix epoch).
type Attestation struct {
	FeedID               FeedID
	Report               Report
	AttestationTimestamp uint64
}

// Validator is one member of the signing set.
type Validator struct {
	Address   Address // Address is BLAKE3 of PublicKey
	Power     uint64  // Power is the validator's voting power
	PublicKey []byte  // PublicKey is the compressed BLS public key (48 bytes)
}

// ValidatorSet is the signing authority at attestation time.
type ValidatorSet struct {
	Validators []Validator
	Timestamp  uint64 // Timestamp is when the set became active (milliseconds)
}

// TotalPower returns the sum of all validator powers. ok is false when
// the sum does not fit in a uint64.
func (vs *ValidatorSet) TotalPower() (total uint64, ok bool) {
	var carry uint64
	for _, v := range vs.Validators {
		total, carry = bits.Add64(total, v.Power, 0)
		if carry != 0 {
			return 0, false
		}
	}

	return total, true
}

// Signatures holds one entry per validator, in validator set order.
// An empty entry means that validator did not sign.
type Signatures [][]byte

// Submission is the write-path payload sent by relayers.
type Submission struct {
	Attestation  Attestation
	ValidatorSet ValidatorSet
	Signatures   Signatures
}

// AggregateRecord is one accepted aggregate. Records are immutable.
type AggregateRecord struct {
	Value                []byte // Value is the aggregated payload
	Power                uint64 // Power is the aggregate power backing Value
	AggregateTimestamp   uint64 // AggregateTimestamp is the report timestamp (milliseconds)
	AttestationTimestamp uint64 // AttestationTimestamp is the signing time (milliseconds)
	RelayTimestamp       uint64 // RelayTimestamp is the local acceptance time (seconds)
}

// RecordFromAttestation builds the record stored for an accepted attestation.
func RecordFromAttestation(att *Attestation, relayTimestamp uint64) AggregateRecord {
	value := make([]byte, len(att.Report.Value))
	copy(value, att.Report.Value)

	return AggregateRecord{
		Value:                value,
		Power:                att.Report.AggregatePower,
		AggregateTimestamp:   att.Report.Timestamp,
		AttestationTimestamp: att.AttestationTimestamp,
		RelayTimestamp:       relayTimestamp,
	}
}
