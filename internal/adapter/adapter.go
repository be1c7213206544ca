package adapter

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"

	"FeedRelay/internal/logger"
	"FeedRelay/internal/oracle"
)

// MaxValueSize is the widest value the adapters decode, in bytes.
const MaxValueSize = 32

var (
	ErrPaused          = errors.New("paused")
	ErrNoDataAvailable = errors.New("no data available")
	ErrPriceTooLarge   = errors.New("price too large")
	ErrInvalidValue    = errors.New("value is not a 256-bit integer")
)

// maxAnswer is the largest signed 256-bit integer.
var maxAnswer = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 255), big.NewInt(1))

// Source supplies the latest record of a feed.
type Source interface {
	Latest(feed oracle.FeedID) (oracle.AggregateRecord, bool)
}

// Gate reports whether guarded reads are halted.
type Gate interface {
	RequireUnpaused() error
}

// RoundData is the price-feed shaped answer for a feed.
type RoundData struct {
	RoundID         uint64      `json:"roundId"`
	Answer          sdkmath.Int `json:"answer"`
	StartedAt       uint64      `json:"startedAt"`
	UpdatedAt       uint64      `json:"updatedAt"`
	AnsweredInRound uint64      `json:"answeredInRound"`
}

// ZeroRound returns the all-zero round.
func ZeroRound() RoundData {
	return RoundData{Answer: sdkmath.ZeroInt()}
}

// IsZero reports whether r is the all-zero round.
func (r RoundData) IsZero() bool {
	return r.RoundID == 0 && r.StartedAt == 0 && r.UpdatedAt == 0 && r.AnsweredInRound == 0 &&
		(r.Answer.IsNil() || r.Answer.IsZero())
}

// Strict serves round data and fails closed when paused or empty.
type Strict struct {
	src         Source
	gate        Gate
	decimals    uint8
	description string
}

// NewStrict creates a fail-closed adapter over src, guarded by gate.
func NewStrict(src Source, gate Gate, decimals uint8, description string) *Strict {
	return &Strict{
		src:         src,
		gate:        gate,
		decimals:    decimals,
		description: description,
	}
}

// LatestRoundData returns (1, answer, 0, updatedAt, 0) for the feed's latest record.
func (a *Strict) LatestRoundData(feed oracle.FeedID) (RoundData, error) {
	if a.gate.RequireUnpaused() != nil {
		return RoundData{}, ErrPaused
	}

	rec, ok := a.src.Latest(feed)
	if !ok {
		return RoundData{}, ErrNoDataAvailable
	}

	answer, err := DecodeAnswer(rec.Value)
	if err != nil {
		return RoundData{}, err
	}

	return RoundData{
		RoundID:         1,
		Answer:          answer,
		StartedAt:       0,
		UpdatedAt:       rec.AggregateTimestamp / 1000,
		AnsweredInRound: 0,
	}, nil
}

// Decimals returns the configured answer precision.
func (a *Strict) Decimals() uint8 {
	return a.decimals
}

// Description returns the configured feed description.
func (a *Strict) Description() string {
	return a.description
}

// Soft serves round data and returns the all-zero round instead of failing.
// Callers must treat a zero round as "no data".
type Soft struct {
	strict *Strict
}

// NewSoft wraps a strict adapter with the zero-round failure policy.
func NewSoft(strict *Strict) *Soft {
	return &Soft{strict: strict}
}

// LatestRoundData returns the strict answer, or the zero round when it fails.
func (a *Soft) LatestRoundData(feed oracle.FeedID) RoundData {
	round, err := a.strict.LatestRoundData(feed)
	if err != nil {
		logger.Debug("soft read returned zero round", "feed", feed.Short(), "error", err)
		return ZeroRound()
	}

	return round
}

// Decimals returns the configured answer precision.
func (a *Soft) Decimals() uint8 {
	return a.strict.decimals
}

// Description returns the configured feed description.
func (a *Soft) Description() string {
	return a.strict.description
}

// DecodeAnswer interprets value as a big-endian unsigned integer of at most
// 32 bytes and converts it to a signed answer.
func DecodeAnswer(value []byte) (sdkmath.Int, error) {
	if len(value) == 0 || len(value) > MaxValueSize {
		return sdkmath.Int{}, fmt.Errorf("%w: %d bytes", ErrInvalidValue, len(value))
	}

	n := new(big.Int).SetBytes(value)
	if n.Cmp(maxAnswer) > 0 {
		return sdkmath.Int{}, fmt.Errorf("%w: %s", ErrPriceTooLarge, n)
	}

	return sdkmath.NewIntFromBigInt(n), nil
}
