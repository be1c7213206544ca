package bridge

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"FeedRelay/internal/oracle"
)

// validatorFile is the JSON layout of a validator set file.
//
//	{
//	  "threshold": 667,
//	  "timestamp": 1700000000000,
//	  "validators": [{"publicKey": "<96 hex chars>", "power": 400}]
//	}
type validatorFile struct {
	Threshold  uint64              `json:"threshold"`
	Timestamp  uint64              `json:"timestamp"`
	Validators []validatorFileItem `json:"validators"`
}

type validatorFileItem struct {
	PublicKey string `json:"publicKey"`
	Power     uint64 `json:"power"`
}

// LoadValidatorFile reads a validator set and threshold from a JSON file.
// Addresses are derived from the public keys.
func LoadValidatorFile(path string) (*oracle.ValidatorSet, uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read validator file:\n%w", err)
	}

	return ParseValidatorFile(data)
}

// ParseValidatorFile decodes the JSON validator set layout.
func ParseValidatorFile(data []byte) (*oracle.ValidatorSet, uint64, error) {
	var f validatorFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, 0, fmt.Errorf("parse validator file:\n%w", err)
	}

	vs := &oracle.ValidatorSet{
		Validators: make([]oracle.Validator, len(f.Validators)),
		Timestamp:  f.Timestamp,
	}

	for i, item := range f.Validators {
		pk, err := hex.DecodeString(strings.TrimPrefix(item.PublicKey, "0x"))
		if err != nil {
			return nil, 0, fmt.Errorf("validator %d public key:\n%w", i, err)
		}

		vs.Validators[i] = oracle.Validator{
			Address:   oracle.AddressOf(pk),
			Power:     item.Power,
			PublicKey: pk,
		}
	}

	if _, err := validateSet(vs, f.Threshold); err != nil {
		return nil, 0, err
	}

	return vs, f.Threshold, nil
}

// MarshalValidatorFile encodes a validator set in the JSON file layout.
func MarshalValidatorFile(vs *oracle.ValidatorSet, threshold uint64) ([]byte, error) {
	f := validatorFile{
		Threshold:  threshold,
		Timestamp:  vs.Timestamp,
		Validators: make([]validatorFileItem, len(vs.Validators)),
	}

	for i, v := range vs.Validators {
		f.Validators[i] = validatorFileItem{
			PublicKey: hex.EncodeToString(v.PublicKey),
			Power:     v.Power,
		}
	}

	return json.MarshalIndent(f, "", "  ")
}
