package verifier_test

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"FeedRelay/internal/bridge"
	"FeedRelay/internal/bridge/bridgetest"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/verifier"
)

var (
	testNow  = time.Unix(1_700_000_000, 0)
	testFeed = oracle.FeedIDFromQuery([]byte("eth/usd"))
)

// nowMs returns testNow shifted by d, in milliseconds.
func nowMs(d time.Duration) uint64 {
	return uint64(testNow.Add(d).UnixMilli())
}

// consensusAt returns a consensus attestation reported at now+reportOffset
// and signed one second ago.
func consensusAt(reportOffset time.Duration) *oracle.Attestation {
	ts := nowMs(reportOffset)

	return &oracle.Attestation{
		FeedID: testFeed,
		Report: oracle.Report{
			Value:                  []byte{0x6c, 0x6b, 0x93, 0x5b, 0x8b, 0xbd, 0x40, 0x00, 0x00},
			Timestamp:              ts,
			AggregatePower:         300,
			LastConsensusTimestamp: ts,
		},
		AttestationTimestamp: nowMs(-time.Second),
	}
}

// optimisticAt returns an optimistic attestation 13h old with the given power.
func optimisticAt(power uint64) *oracle.Attestation {
	att := consensusAt(-13 * time.Hour)
	att.Report.AggregatePower = power
	att.Report.LastConsensusTimestamp = att.Report.Timestamp - 60_000

	return att
}

// stubBridge accepts or rejects every signature set with a fixed error.
type stubBridge struct {
	threshold uint64
	err       error
}

func (b *stubBridge) PowerThreshold() uint64 { return b.threshold }

func (b *stubBridge) VerifyOracleData(*oracle.Attestation, *oracle.ValidatorSet, oracle.Signatures) error {
	return b.err
}

// fataler is the subset of testing.TB that rapid.T also provides.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

// requireReason fails unless err is a rejection with the given reason.
func requireReason(t fataler, err error, want verifier.Reason) {
	t.Helper()

	got, ok := verifier.ReasonOf(err)
	if !ok {
		t.Fatalf("expected rejection %s, got %v", want, err)
	}

	if got != want {
		t.Fatalf("reason = %s, want %s (%v)", got, want, err)
	}
}

func TestVerifyAcceptsConsensus(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	v := verifier.New(net.Bridge)
	att := consensusAt(-time.Minute)

	if err := v.Verify(nil, att, net.Set, net.Sign(att), testNow); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyAcceptsAfterPrior(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	v := verifier.New(net.Bridge)

	prior := &oracle.AggregateRecord{AggregateTimestamp: nowMs(-2 * time.Minute)}
	att := consensusAt(-time.Minute)

	if err := v.Verify(prior, att, net.Set, net.Sign(att), testNow); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejections(t *testing.T) {
	b := &stubBridge{threshold: 200}
	feed := verifier.WithExpectedFeed(testFeed)

	tests := []struct {
		name  string
		opts  []verifier.Option
		prior *oracle.AggregateRecord
		att   func() *oracle.Attestation
		want  verifier.Reason
	}{
		{
			name: "wrong feed",
			opts: []verifier.Option{feed},
			att: func() *oracle.Attestation {
				att := consensusAt(-time.Minute)
				att.FeedID = oracle.FeedIDFromQuery([]byte("btc/usd"))
				return att
			},
			want: verifier.ReasonWrongFeed,
		},
		{
			name: "data too old at exactly 24h",
			att:  func() *oracle.Attestation { return consensusAt(-24 * time.Hour) },
			want: verifier.ReasonDataTooOld,
		},
		{
			name: "attestation too old at exactly 10min",
			att: func() *oracle.Attestation {
				att := consensusAt(-time.Hour)
				att.AttestationTimestamp = nowMs(-10 * time.Minute)
				return att
			},
			want: verifier.ReasonAttestationTooOld,
		},
		{
			name: "attestation in future",
			att: func() *oracle.Attestation {
				att := consensusAt(-time.Minute)
				att.AttestationTimestamp = nowMs(time.Second)
				return att
			},
			want: verifier.ReasonAttestationInFuture,
		},
		{
			name: "future attestation does not open the dispute window",
			att: func() *oracle.Attestation {
				att := consensusAt(-time.Hour)
				att.Report.LastConsensusTimestamp = att.Report.Timestamp - 60_000
				att.Report.AggregatePower = 150
				att.AttestationTimestamp = nowMs(12 * time.Hour)
				return att
			},
			want: verifier.ReasonAttestationInFuture,
		},
		{
			name:  "same timestamp as prior",
			prior: &oracle.AggregateRecord{AggregateTimestamp: nowMs(-time.Minute)},
			att:   func() *oracle.Attestation { return consensusAt(-time.Minute) },
			want:  verifier.ReasonTimestampNotIncreasing,
		},
		{
			name:  "older than prior",
			prior: &oracle.AggregateRecord{AggregateTimestamp: nowMs(-time.Second)},
			att:   func() *oracle.Attestation { return consensusAt(-time.Minute) },
			want:  verifier.ReasonTimestampNotIncreasing,
		},
		{
			name: "report in future",
			att:  func() *oracle.Attestation { return consensusAt(time.Second) },
			want: verifier.ReasonReportInFuture,
		},
		{
			name: "newer optimistic report",
			att: func() *oracle.Attestation {
				att := consensusAt(-20 * time.Hour)
				att.Report.NextTimestamp = nowMs(-12 * time.Hour)
				return att
			},
			want: verifier.ReasonNewerOptimisticReportAvailable,
		},
		{
			name: "newer consensus data",
			att: func() *oracle.Attestation {
				att := optimisticAt(150)
				att.Report.LastConsensusTimestamp = att.Report.Timestamp + 1
				return att
			},
			want: verifier.ReasonNewerConsensusDataAvailable,
		},
		{
			name: "dispute period not passed",
			att: func() *oracle.Attestation {
				att := consensusAt(-2 * time.Hour)
				att.Report.LastConsensusTimestamp = 0
				att.Report.AggregatePower = 300
				return att
			},
			want: verifier.ReasonDisputePeriodNotPassed,
		},
		{
			name: "optimistic power at half threshold",
			att:  func() *oracle.Attestation { return optimisticAt(100) },
			want: verifier.ReasonInsufficientOptimisticPower,
		},
		{
			name: "wrong feed checked before age",
			opts: []verifier.Option{feed},
			att: func() *oracle.Attestation {
				att := consensusAt(-48 * time.Hour)
				att.FeedID = oracle.FeedID{}
				return att
			},
			want: verifier.ReasonWrongFeed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := verifier.New(b, tt.opts...)
			err := v.Verify(tt.prior, tt.att(), &oracle.ValidatorSet{}, nil, testNow)
			requireReason(t, err, tt.want)
		})
	}
}

func TestVerifyOptimisticAccepted(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100) // threshold 200
	v := verifier.New(net.Bridge)
	att := optimisticAt(101)

	if err := v.Verify(nil, att, net.Set, net.Sign(att), testNow); err != nil {
		t.Fatalf("optimistic report above half threshold: %v", err)
	}
}

func TestVerifyNextTimestampRecent(t *testing.T) {
	v := verifier.New(&stubBridge{threshold: 200})

	att := consensusAt(-20 * time.Hour)
	att.Report.NextTimestamp = nowMs(-12*time.Hour + time.Second)

	if err := v.Verify(nil, att, &oracle.ValidatorSet{}, nil, testNow); err != nil {
		t.Fatalf("next report younger than 12h should pass: %v", err)
	}
}

func TestVerifySignatureFailure(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	v := verifier.New(net.Bridge)
	att := consensusAt(-time.Minute)
	sigs := net.Sign(att)

	att.Report.AggregatePower++

	err := v.Verify(nil, att, net.Set, sigs, testNow)
	requireReason(t, err, verifier.ReasonSignatureVerificationFailed)

	if !errors.Is(err, verifier.ErrSignatureVerificationFailed) {
		t.Error("should match the reason sentinel")
	}

	if !errors.Is(err, bridge.ErrInvalidSignature) {
		t.Error("should keep the bridge cause")
	}
}

func TestVerifyInsufficientSigningPower(t *testing.T) {
	net := bridgetest.NewNetwork(t, 100, 100, 100)
	v := verifier.New(net.Bridge)
	att := consensusAt(-time.Minute)

	err := v.Verify(nil, att, net.Set, net.Sign(att, 0), testNow)
	requireReason(t, err, verifier.ReasonSignatureVerificationFailed)

	if !errors.Is(err, bridge.ErrInsufficientPower) {
		t.Errorf("got %v, want ErrInsufficientPower cause", err)
	}
}

func TestExpectedFeed(t *testing.T) {
	if _, ok := verifier.New(&stubBridge{}).ExpectedFeed(); ok {
		t.Error("unrestricted verifier should report no feed")
	}

	feed, ok := verifier.New(&stubBridge{}, verifier.WithExpectedFeed(testFeed)).ExpectedFeed()
	if !ok || feed != testFeed {
		t.Errorf("expected feed = %s, %v", feed, ok)
	}
}

func TestPropertyDataTooOld(t *testing.T) {
	v := verifier.New(&stubBridge{threshold: 200})

	rapid.Check(t, func(t *rapid.T) {
		age := rapid.Int64Range(int64(24*time.Hour/time.Second), 400*24*3600).Draw(t, "ageSec")

		att := consensusAt(-time.Duration(age) * time.Second)
		att.Report.AggregatePower = rapid.Uint64().Draw(t, "power")

		requireReason(t, v.Verify(nil, att, &oracle.ValidatorSet{}, nil, testNow), verifier.ReasonDataTooOld)
	})
}

func TestPropertyAttestationTooOld(t *testing.T) {
	v := verifier.New(&stubBridge{threshold: 200})

	rapid.Check(t, func(t *rapid.T) {
		reportAge := rapid.Int64Range(0, 24*3600-1).Draw(t, "reportAgeSec")
		attAge := rapid.Int64Range(600, 30*24*3600).Draw(t, "attAgeSec")

		att := consensusAt(-time.Duration(reportAge) * time.Second)
		att.AttestationTimestamp = nowMs(-time.Duration(attAge) * time.Second)

		requireReason(t, v.Verify(nil, att, &oracle.ValidatorSet{}, nil, testNow), verifier.ReasonAttestationTooOld)
	})
}

func TestPropertyAttestationInFuture(t *testing.T) {
	v := verifier.New(&stubBridge{threshold: 200})

	rapid.Check(t, func(t *rapid.T) {
		reportAge := rapid.Int64Range(0, 24*3600-1).Draw(t, "reportAgeSec")
		lead := rapid.Int64Range(1, 30*24*3600).Draw(t, "leadSec")

		att := consensusAt(-time.Duration(reportAge) * time.Second)
		att.Report.LastConsensusTimestamp = rapid.SampledFrom([]uint64{0, att.Report.Timestamp}).Draw(t, "consensus")
		att.AttestationTimestamp = nowMs(time.Duration(lead) * time.Second)

		requireReason(t, v.Verify(nil, att, &oracle.ValidatorSet{}, nil, testNow), verifier.ReasonAttestationInFuture)
	})
}

func TestPropertyNotIncreasing(t *testing.T) {
	v := verifier.New(&stubBridge{threshold: 200})

	rapid.Check(t, func(t *rapid.T) {
		att := consensusAt(-time.Hour)
		lead := rapid.Uint64Range(0, 1_000_000_000).Draw(t, "lead")
		prior := &oracle.AggregateRecord{AggregateTimestamp: att.Report.Timestamp + lead}

		requireReason(t, v.Verify(prior, att, &oracle.ValidatorSet{}, nil, testNow), verifier.ReasonTimestampNotIncreasing)
	})
}

func TestPropertyOptimisticPower(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		threshold := rapid.Uint64Range(1, 1<<40).Draw(t, "threshold")
		v := verifier.New(&stubBridge{threshold: threshold})

		weak := optimisticAt(rapid.Uint64Range(0, threshold/2).Draw(t, "weak"))
		requireReason(t, v.Verify(nil, weak, &oracle.ValidatorSet{}, nil, testNow), verifier.ReasonInsufficientOptimisticPower)

		strong := optimisticAt(rapid.Uint64Range(threshold/2+1, 1<<41).Draw(t, "strong"))
		if err := v.Verify(nil, strong, &oracle.ValidatorSet{}, nil, testNow); err != nil {
			t.Fatalf("power above half threshold: %v", err)
		}
	})
}

func TestPropertyDisputePeriod(t *testing.T) {
	v := verifier.New(&stubBridge{threshold: 200})

	rapid.Check(t, func(t *rapid.T) {
		windowMs := rapid.Uint64Range(0, 12*3600*1000-1).Draw(t, "windowMs")

		att := consensusAt(-time.Hour)
		att.Report.Timestamp = att.AttestationTimestamp - windowMs
		att.Report.LastConsensusTimestamp = 0
		att.Report.AggregatePower = rapid.Uint64().Draw(t, "power")

		requireReason(t, v.Verify(nil, att, &oracle.ValidatorSet{}, nil, testNow), verifier.ReasonDisputePeriodNotPassed)
	})
}
