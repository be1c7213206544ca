package client

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FeedRelay/internal/api"
	"FeedRelay/internal/bridge/bridgetest"
	"FeedRelay/internal/feed"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/metrics"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/relay"
	"FeedRelay/internal/storage"
)

var ethUSD = oracle.FeedIDFromQuery([]byte("eth/usd"))

// node is a relay served over httptest with a client pointed at it.
type node struct {
	client   *Client
	net      *bridgetest.Network
	adminKey ed25519.PrivateKey
}

func newNode(t *testing.T) *node {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	n := &node{
		net:      bridgetest.NewNetwork(t, 50, 50, 50),
		adminKey: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{5}, ed25519.SeedSize)),
	}

	store, err := feed.Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	gate, err := guard.Open(db, oracle.AddressOf(n.adminKey.Public().(ed25519.PublicKey)))
	if err != nil {
		t.Fatalf("open gate: %v", err)
	}

	svc, err := relay.New(relay.Config{Bridge: n.net.Bridge, Decimals: 8, Description: "ETH / USD"},
		store, gate, metrics.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}

	srv := httptest.NewServer(api.New("", svc).Handler())
	t.Cleanup(srv.Close)

	n.client = New(srv.URL + "/")

	return n
}

// submission builds a consensus submission for a report ago before now.
func (n *node) submission(ago time.Duration, value int64) *oracle.Submission {
	ts := uint64(time.Now().Add(-ago).UnixMilli())

	return n.net.Submission(oracle.Attestation{
		FeedID: ethUSD,
		Report: oracle.Report{
			Value:                  big.NewInt(value).Bytes(),
			Timestamp:              ts,
			AggregatePower:         150,
			LastConsensusTimestamp: ts,
		},
		AttestationTimestamp: ts + 100,
	})
}

func TestNewNormalizesAddress(t *testing.T) {
	tests := map[string]string{
		"127.0.0.1:8080":         "http://127.0.0.1:8080",
		"https://relay.example/": "https://relay.example",
	}

	for in, want := range tests {
		if got := New(in).baseURL; got != want {
			t.Errorf("New(%q).baseURL = %q, want %q", in, got, want)
		}
	}
}

func TestSubmitAndRead(t *testing.T) {
	n := newNode(t)
	c := n.client

	if _, ok, err := c.Current(ethUSD); err != nil || ok {
		t.Fatalf("current on empty feed: ok=%v err=%v", ok, err)
	}

	first := n.submission(30*time.Second, 2000)
	if _, err := c.Submit(first); err != nil {
		t.Fatalf("submit: %v", err)
	}

	ack, err := c.Submit(n.submission(20*time.Second, 2100))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if ack.Index != 1 {
		t.Errorf("ack index = %d, want 1", ack.Index)
	}

	feeds, err := c.Feeds()
	if err != nil || len(feeds) != 1 || feeds[0] != ethUSD {
		t.Fatalf("feeds = %v, %v", feeds, err)
	}

	if count, err := c.Count(ethUSD); err != nil || count != 2 {
		t.Errorf("count = %d, %v", count, err)
	}

	rec, err := c.RecordAt(ethUSD, 0)
	if err != nil || rec.AggregateTimestamp != first.Attestation.Report.Timestamp {
		t.Errorf("record 0 = %+v, %v", rec, err)
	}

	if _, err := c.RecordAt(ethUSD, 5); !IsNotFound(err) {
		t.Errorf("record 5: got %v, want not found", err)
	}

	if _, ok, err := c.RecordAtTimestamp(ethUSD, first.Attestation.Report.Timestamp); err != nil || !ok {
		t.Errorf("by timestamp: ok=%v err=%v", ok, err)
	}

	if _, ok, err := c.RecordAtTimestamp(ethUSD, 1); err != nil || ok {
		t.Errorf("unknown timestamp: ok=%v err=%v", ok, err)
	}

	round, err := c.Round(ethUSD)
	if err != nil || round.Answer.Int64() != 2100 {
		t.Errorf("round = %+v, %v", round, err)
	}

	if dec, err := c.Decimals(); err != nil || dec.Decimals != 8 {
		t.Errorf("decimals = %+v, %v", dec, err)
	}

	// Replaying an accepted submission is rejected with a reason.
	_, err = c.Submit(first)
	if RejectReason(err) != "timestamp_not_increasing" {
		t.Errorf("replay: got %v", err)
	}
}

func TestGuardOperations(t *testing.T) {
	n := newNode(t)
	c := n.client

	if _, err := c.Submit(n.submission(10*time.Second, 7)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	st, err := c.Pause(n.adminKey)
	if err != nil || !st.Paused {
		t.Fatalf("pause = %+v, %v", st, err)
	}

	if _, _, err := c.Guarded(ethUSD); !IsPaused(err) {
		t.Errorf("guarded read while paused: got %v", err)
	}

	if _, err := c.Round(ethUSD); !IsPaused(err) {
		t.Errorf("strict round while paused: got %v", err)
	}

	if round, err := c.SoftRound(ethUSD); err != nil || !round.IsZero() {
		t.Errorf("soft round while paused = %+v, %v", round, err)
	}

	if _, ok, err := c.Current(ethUSD); err != nil || !ok {
		t.Errorf("unguarded read while paused: ok=%v err=%v", ok, err)
	}

	stranger := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{6}, ed25519.SeedSize))
	if _, err := c.Unpause(stranger); statusOf(err) != http.StatusForbidden {
		t.Errorf("stranger unpause: got %v", err)
	}

	if _, err := c.Unpause(n.adminKey); err != nil {
		t.Fatalf("unpause: %v", err)
	}

	next := oracle.AddressOf(stranger.Public().(ed25519.PublicKey))

	if _, err := c.AddGuardian(n.adminKey, next); err != nil {
		t.Fatalf("add guardian: %v", err)
	}

	st, err = c.UpdateAdmin(n.adminKey, next)
	if err != nil || st.Admin != next.String() {
		t.Fatalf("update admin = %+v, %v", st, err)
	}

	// The new admin can remove the old one.
	old := oracle.AddressOf(n.adminKey.Public().(ed25519.PublicKey))
	if _, err := c.RemoveGuardian(stranger, old); err != nil {
		t.Fatalf("remove old admin: %v", err)
	}

	st, err = c.GuardState()
	if err != nil || len(st.Guardians) != 1 || st.Guardians[0] != next.String() {
		t.Errorf("final guard state = %+v, %v", st, err)
	}
}

func TestGuardTimestampsIncrease(t *testing.T) {
	c := New("localhost:8080")

	prev := c.guardTime()
	for i := 0; i < 100; i++ {
		next := c.guardTime()
		if !next.After(prev) {
			t.Fatalf("guard time %d did not advance: %v after %v", i, next, prev)
		}
		prev = next
	}
}

func TestWatch(t *testing.T) {
	n := newNode(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan api.Event, 1)
	done := make(chan error, 1)

	go func() {
		done <- n.client.Watch(ctx, &ethUSD, func(ev api.Event) error {
			select {
			case events <- ev:
			default:
			}

			return nil
		})
	}()

	// The stream subscribes asynchronously: submit until an update arrives.
	deadline := time.After(5 * time.Second)

	var got api.Event

wait:
	for {
		if _, err := n.client.Submit(n.submission(time.Second, 2000)); err != nil {
			t.Fatalf("submit: %v", err)
		}

		select {
		case got = <-events:
			break wait
		case <-deadline:
			t.Fatal("no event received")
		case <-time.After(50 * time.Millisecond):
		}
	}

	if got.Feed != ethUSD.String() || got.Power != 150 {
		t.Errorf("event = %+v", got)
	}

	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("watch ended with %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}
