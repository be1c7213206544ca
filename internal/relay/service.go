package relay

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"FeedRelay/internal/adapter"
	"FeedRelay/internal/bridge"
	"FeedRelay/internal/feed"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/logger"
	"FeedRelay/internal/metrics"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/verifier"
)

// subscriberBuffer is the event buffer of each subscriber.
const subscriberBuffer = 64

// OracleUpdated is emitted for every accepted submission.
type OracleUpdated struct {
	Feed               oracle.FeedID
	Value              []byte
	Power              uint64
	AggregateTimestamp uint64
	Index              uint64
}

// Config is the immutable deployment configuration.
type Config struct {
	Bridge       bridge.Bridge
	ExpectedFeed *oracle.FeedID // ExpectedFeed restricts the relay to one feed when set
	Decimals     uint8
	Description  string
}

// Service is the relay's write, query and read interface.
// Operations run one at a time and read the clock once each.
type Service struct {
	mu sync.Mutex

	verifier *verifier.Verifier
	store    *feed.Store
	gate     *guard.Gate
	strict   *adapter.Strict
	soft     *adapter.Soft
	metrics  *metrics.Metrics
	now      func() time.Time

	subsMu  sync.Mutex
	subs    map[int]chan OracleUpdated
	nextSub int
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates the service over an opened store and gate.
func New(cfg Config, store *feed.Store, gate *guard.Gate, m *metrics.Metrics, opts ...Option) (*Service, error) {
	if cfg.Bridge == nil {
		return nil, errors.New("relay requires a bridge")
	}

	var vopts []verifier.Option
	if cfg.ExpectedFeed != nil {
		vopts = append(vopts, verifier.WithExpectedFeed(*cfg.ExpectedFeed))
	}

	strict := adapter.NewStrict(store, gate, cfg.Decimals, cfg.Description)

	s := &Service{
		verifier: verifier.New(cfg.Bridge, vopts...),
		store:    store,
		gate:     gate,
		strict:   strict,
		soft:     adapter.NewSoft(strict),
		metrics:  m,
		now:      time.Now,
		subs:     make(map[int]chan OracleUpdated),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.initMetrics()

	return s, nil
}

// initMetrics seeds gauges from the stored state.
func (s *Service) initMetrics() {
	if s.gate.Paused() {
		s.metrics.Paused.Set(1)
	}

	for _, f := range s.store.Feeds() {
		s.metrics.FeedRecords.WithLabelValues(f.Short()).Set(float64(s.store.Count(f)))

		if rec, ok := s.store.Latest(f); ok {
			s.metrics.LatestTimestamp.WithLabelValues(f.Short()).Set(float64(rec.AggregateTimestamp / 1000))
		}
	}
}

// UpdateOracleData verifies a submission and appends it to its feed.
// A rejected submission leaves storage untouched.
func (s *Service) UpdateOracleData(sub *oracle.Submission) (*OracleUpdated, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	att := &sub.Attestation
	f := att.FeedID

	var prior *oracle.AggregateRecord
	if rec, ok := s.store.Latest(f); ok {
		prior = &rec
	}

	start := time.Now()
	err := s.verifier.Verify(prior, att, &sub.ValidatorSet, sub.Signatures, now)
	s.metrics.VerifyLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		reason, _ := verifier.ReasonOf(err)
		s.metrics.Submissions.WithLabelValues("rejected", string(reason)).Inc()

		logger.Debug("submission rejected", "feed", f.Short(), "reason", string(reason))

		return nil, err
	}

	// Relay time never moves backwards, even if the wall clock does.
	relayTs := uint64(max(now.Unix(), 0))
	if prior != nil && relayTs < prior.RelayTimestamp {
		relayTs = prior.RelayTimestamp
	}

	rec := oracle.RecordFromAttestation(att, relayTs)

	index, err := s.store.Append(f, rec)
	if err != nil {
		s.metrics.Submissions.WithLabelValues("error", "storage").Inc()
		return nil, fmt.Errorf("append record:\n%w", err)
	}

	s.metrics.Submissions.WithLabelValues("accepted", "").Inc()
	s.metrics.RecordsAppended.WithLabelValues(f.Short()).Inc()
	s.metrics.FeedRecords.WithLabelValues(f.Short()).Set(float64(index + 1))
	s.metrics.LatestTimestamp.WithLabelValues(f.Short()).Set(float64(rec.AggregateTimestamp / 1000))

	ev := OracleUpdated{
		Feed:               f,
		Value:              rec.Value,
		Power:              rec.Power,
		AggregateTimestamp: rec.AggregateTimestamp,
		Index:              index,
	}

	logger.Info("oracle updated",
		"feed", f.Short(),
		"index", index,
		"timestamp", rec.AggregateTimestamp,
		"power", rec.Power,
		logger.Timed(start),
	)

	s.publish(ev)

	return &ev, nil
}

// AggregateValueCount returns the number of records stored for the feed.
func (s *Service) AggregateValueCount(f oracle.FeedID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Count(f)
}

// AggregateByIndex returns the record at a dense index.
func (s *Service) AggregateByIndex(f oracle.FeedID, index uint64) (oracle.AggregateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.At(f, index)
}

// AggregateByTimestamp returns the record with the exact aggregate timestamp.
func (s *Service) AggregateByTimestamp(f oracle.FeedID, ts uint64) (oracle.AggregateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.ByTimestamp(f, ts)
}

// CurrentAggregate returns the latest record regardless of the pause state.
func (s *Service) CurrentAggregate(f oracle.FeedID) (oracle.AggregateRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Latest(f)
}

// GuardedCurrentAggregate returns the latest record, failing while paused.
func (s *Service) GuardedCurrentAggregate(f oracle.FeedID) (oracle.AggregateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.gate.RequireUnpaused(); err != nil {
		return oracle.AggregateRecord{}, false, err
	}

	rec, ok := s.store.Latest(f)

	return rec, ok, nil
}

// Feeds returns every feed with stored records.
func (s *Service) Feeds() []oracle.FeedID {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Feeds()
}

// Timestamps returns the feed's stored aggregate timestamps.
func (s *Service) Timestamps(f oracle.FeedID) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.store.Timestamps(f)
}

// LatestRoundData reads the feed through the fail-closed adapter.
func (s *Service) LatestRoundData(f oracle.FeedID) (adapter.RoundData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	round, err := s.strict.LatestRoundData(f)
	if err != nil {
		s.metrics.Reads.WithLabelValues("strict", "failed").Inc()
		return round, err
	}

	s.metrics.Reads.WithLabelValues("strict", "ok").Inc()

	return round, nil
}

// SoftLatestRoundData reads the feed through the zero-round adapter.
func (s *Service) SoftLatestRoundData(f oracle.FeedID) adapter.RoundData {
	s.mu.Lock()
	defer s.mu.Unlock()

	round := s.soft.LatestRoundData(f)
	if round.IsZero() {
		s.metrics.Reads.WithLabelValues("soft", "zero").Inc()
	} else {
		s.metrics.Reads.WithLabelValues("soft", "ok").Inc()
	}

	return round
}

// Decimals returns the configured answer precision.
func (s *Service) Decimals() uint8 {
	return s.strict.Decimals()
}

// Description returns the configured feed description.
func (s *Service) Description() string {
	return s.strict.Description()
}

// ExpectedFeed returns the single feed this relay accepts, if restricted.
func (s *Service) ExpectedFeed() (oracle.FeedID, bool) {
	return s.verifier.ExpectedFeed()
}

// Gate returns the guard gate.
func (s *Service) Gate() *guard.Gate {
	return s.gate
}

// ApplyGuard authenticates a signed guard request and applies it.
func (s *Service) ApplyGuard(req *guard.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.gate.ApplyRequest(req, s.now())
}

// Subscribe returns a channel of accepted updates and a cancel function.
// Slow subscribers miss events rather than block the write path.
func (s *Service) Subscribe() (<-chan OracleUpdated, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	id := s.nextSub
	s.nextSub++

	ch := make(chan OracleUpdated, subscriberBuffer)
	s.subs[id] = ch

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subsMu.Unlock()
		})
	}

	return ch, cancel
}

// publish delivers ev to every subscriber without blocking.
func (s *Service) publish(ev OracleUpdated) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			logger.Warn("subscriber lagging, dropped update", "subscriber", id, "feed", ev.Feed.Short())
		}
	}
}

// ObserveGuard returns a guard observer that feeds the metrics.
func ObserveGuard(m *metrics.Metrics) func(guard.Event) {
	return func(ev guard.Event) {
		m.GuardEvents.WithLabelValues(string(ev.Kind)).Inc()

		switch ev.Kind {
		case guard.EventPaused:
			m.Paused.Set(1)
		case guard.EventUnpaused:
			m.Paused.Set(0)
		}
	}
}
