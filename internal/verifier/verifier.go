package verifier

import (
	"errors"
	"fmt"
	"time"

	"FeedRelay/internal/bridge"
	"FeedRelay/internal/oracle"
)

const (
	// MaxDataAge is how old a report may be when relayed.
	MaxDataAge = 24 * time.Hour

	// MaxAttestationAge is how old the validator signatures may be when relayed.
	MaxAttestationAge = 10 * time.Minute

	// OptimisticDelay is the dispute window optimistic reports must survive.
	OptimisticDelay = 12 * time.Hour
)

// Reason identifies why an attestation was rejected.
type Reason string

// Rejection reasons, in check order.
const (
	ReasonWrongFeed                      Reason = "wrong_feed"
	ReasonDataTooOld                     Reason = "data_too_old"
	ReasonAttestationTooOld              Reason = "attestation_too_old"
	ReasonAttestationInFuture            Reason = "attestation_in_future"
	ReasonTimestampNotIncreasing         Reason = "timestamp_not_increasing"
	ReasonReportInFuture                 Reason = "report_in_future"
	ReasonNewerOptimisticReportAvailable Reason = "newer_optimistic_report_available"
	ReasonNewerConsensusDataAvailable    Reason = "newer_consensus_data_available"
	ReasonDisputePeriodNotPassed         Reason = "dispute_period_not_passed"
	ReasonInsufficientOptimisticPower    Reason = "insufficient_optimistic_power"
	ReasonSignatureVerificationFailed    Reason = "signature_verification_failed"
)

var (
	ErrWrongFeed                      = errors.New("attestation is for another feed")
	ErrDataTooOld                     = errors.New("report data too old")
	ErrAttestationTooOld              = errors.New("attestation too old")
	ErrAttestationInFuture            = errors.New("attestation timestamp in the future")
	ErrTimestampNotIncreasing         = errors.New("report timestamp must increase")
	ErrReportInFuture                 = errors.New("report timestamp in the future")
	ErrNewerOptimisticReportAvailable = errors.New("more recent optimistic report available")
	ErrNewerConsensusDataAvailable    = errors.New("newer consensus data available")
	ErrDisputePeriodNotPassed         = errors.New("dispute period not passed")
	ErrInsufficientOptimisticPower    = errors.New("insufficient optimistic report power")
	ErrSignatureVerificationFailed    = errors.New("signature verification failed")
)

// reasonErrors maps each reason to its sentinel error.
var reasonErrors = map[Reason]error{
	ReasonWrongFeed:                      ErrWrongFeed,
	ReasonDataTooOld:                     ErrDataTooOld,
	ReasonAttestationTooOld:              ErrAttestationTooOld,
	ReasonAttestationInFuture:            ErrAttestationInFuture,
	ReasonTimestampNotIncreasing:         ErrTimestampNotIncreasing,
	ReasonReportInFuture:                 ErrReportInFuture,
	ReasonNewerOptimisticReportAvailable: ErrNewerOptimisticReportAvailable,
	ReasonNewerConsensusDataAvailable:    ErrNewerConsensusDataAvailable,
	ReasonDisputePeriodNotPassed:         ErrDisputePeriodNotPassed,
	ReasonInsufficientOptimisticPower:    ErrInsufficientOptimisticPower,
	ReasonSignatureVerificationFailed:    ErrSignatureVerificationFailed,
}

// RejectError reports a rejected attestation.
// errors.Is matches both the reason sentinel and, for signature
// failures, the bridge error that caused it.
type RejectError struct {
	Reason Reason
	Detail string
	Cause  error
}

// Error implements error.
func (e *RejectError) Error() string {
	msg := reasonErrors[e.Reason].Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}

	if e.Cause != nil {
		msg += ":\n" + e.Cause.Error()
	}

	return msg
}

// Unwrap returns the reason sentinel and the underlying cause.
func (e *RejectError) Unwrap() []error {
	errs := []error{reasonErrors[e.Reason]}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}

	return errs
}

// ReasonOf extracts the rejection reason from err, if any.
func ReasonOf(err error) (Reason, bool) {
	var rej *RejectError
	if errors.As(err, &rej) {
		return rej.Reason, true
	}

	return "", false
}

// reject builds a RejectError with a formatted detail.
func reject(reason Reason, format string, args ...any) *RejectError {
	return &RejectError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Verifier decides whether an attestation may be appended to a feed.
// It holds no mutable state.
type Verifier struct {
	bridge       bridge.Bridge  // bridge performs the cryptographic checks
	expectedFeed *oracle.FeedID // expectedFeed restricts a single-feed deployment
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithExpectedFeed restricts the verifier to a single feed.
func WithExpectedFeed(feed oracle.FeedID) Option {
	return func(v *Verifier) {
		v.expectedFeed = &feed
	}
}

// New creates a verifier delegating signature checks to b.
func New(b bridge.Bridge, opts ...Option) *Verifier {
	v := &Verifier{bridge: b}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// ExpectedFeed returns the single feed this verifier accepts, if restricted.
func (v *Verifier) ExpectedFeed() (oracle.FeedID, bool) {
	if v.expectedFeed == nil {
		return oracle.FeedID{}, false
	}

	return *v.expectedFeed, true
}

// Verify runs every acceptance check in order and returns the first failure.
// prior is the feed's latest record, or nil for an empty feed.
func (v *Verifier) Verify(prior *oracle.AggregateRecord, att *oracle.Attestation, vs *oracle.ValidatorSet, sigs oracle.Signatures, now time.Time) error {
	if err := v.checkPolicy(prior, att, now); err != nil {
		return err
	}

	if err := v.bridge.VerifyOracleData(att, vs, sigs); err != nil {
		return &RejectError{Reason: ReasonSignatureVerificationFailed, Cause: err}
	}

	return nil
}

// checkPolicy runs the temporal and consensus checks (1 through 7).
func (v *Verifier) checkPolicy(prior *oracle.AggregateRecord, att *oracle.Attestation, now time.Time) error {
	report := &att.Report
	nowSec := now.Unix()
	reportSec := msToSec(report.Timestamp)

	if v.expectedFeed != nil && att.FeedID != *v.expectedFeed {
		return reject(ReasonWrongFeed, "got %s, want %s", att.FeedID.Short(), v.expectedFeed.Short())
	}

	if age := nowSec - reportSec; age >= seconds(MaxDataAge) {
		return reject(ReasonDataTooOld, "age %ds", age)
	}

	attSec := msToSec(att.AttestationTimestamp)

	if age := nowSec - attSec; age >= seconds(MaxAttestationAge) {
		return reject(ReasonAttestationTooOld, "age %ds", age)
	}

	// The dispute window is measured to the attestation time, so it may not lead the clock.
	if attSec > nowSec {
		return reject(ReasonAttestationInFuture, "%ds ahead", attSec-nowSec)
	}

	if prior != nil && report.Timestamp <= prior.AggregateTimestamp {
		return reject(ReasonTimestampNotIncreasing, "%d <= %d", report.Timestamp, prior.AggregateTimestamp)
	}

	if nowSec < reportSec {
		return reject(ReasonReportInFuture, "%ds ahead", reportSec-nowSec)
	}

	if report.NextTimestamp != 0 {
		if age := nowSec - msToSec(report.NextTimestamp); age >= seconds(OptimisticDelay) {
			return reject(ReasonNewerOptimisticReportAvailable, "next report %ds old", age)
		}
	}

	if report.IsConsensus() {
		return nil
	}

	return v.checkOptimistic(att)
}

// checkOptimistic applies the extra requirements for reports accepted
// without full consensus.
func (v *Verifier) checkOptimistic(att *oracle.Attestation) error {
	report := &att.Report

	if report.LastConsensusTimestamp >= report.Timestamp {
		return reject(ReasonNewerConsensusDataAvailable, "consensus at %d", report.LastConsensusTimestamp)
	}

	window := (int64(att.AttestationTimestamp) - int64(report.Timestamp)) / 1000
	if window < seconds(OptimisticDelay) {
		return reject(ReasonDisputePeriodNotPassed, "%ds elapsed", window)
	}

	if half := v.bridge.PowerThreshold() / 2; report.AggregatePower <= half {
		return reject(ReasonInsufficientOptimisticPower, "%d <= %d", report.AggregatePower, half)
	}

	return nil
}

// msToSec converts a millisecond timestamp to whole seconds.
func msToSec(ms uint64) int64 {
	return int64(ms / 1000)
}

// seconds returns d in whole seconds.
func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
