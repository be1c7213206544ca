package api

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"FeedRelay/internal/adapter"
	"FeedRelay/internal/bridge/bridgetest"
	"FeedRelay/internal/feed"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/metrics"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/relay"
	"FeedRelay/internal/storage"
)

var ethUSD = oracle.FeedIDFromQuery([]byte("eth/usd"))

// recordingGossiper captures published submissions.
type recordingGossiper struct {
	mu  sync.Mutex
	got []*oracle.Submission
}

func (g *recordingGossiper) Publish(sub *oracle.Submission) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.got = append(g.got, sub)

	return nil
}

func (g *recordingGossiper) PeerCount() int { return 3 }

// testAPI is a running API over a real relay service.
type testAPI struct {
	srv      *httptest.Server
	net      *bridgetest.Network
	gossip   *recordingGossiper
	adminKey ed25519.PrivateKey
	now      time.Time
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	t.Cleanup(func() { db.Close() })

	ta := &testAPI{
		net:      bridgetest.NewNetwork(t, 100, 100, 100),
		gossip:   &recordingGossiper{},
		adminKey: ed25519.NewKeyFromSeed(bytes.Repeat([]byte{3}, ed25519.SeedSize)),
		now:      time.Unix(1_000_000, 0),
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	store, err := feed.Open(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	gate, err := guard.Open(db, oracle.AddressOf(ta.adminKey.Public().(ed25519.PublicKey)))
	if err != nil {
		t.Fatalf("open gate: %v", err)
	}

	svc, err := relay.New(relay.Config{Bridge: ta.net.Bridge, Decimals: 18, Description: "ETH / USD"},
		store, gate, m, relay.WithClock(func() time.Time { return ta.now }))
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}

	s := New("127.0.0.1:0", svc,
		WithGossiper(ta.gossip),
		WithGatherer(reg),
		WithSnapshots(func() ([]byte, error) { return []byte("zstd-image"), nil }),
	)

	ta.srv = httptest.NewServer(s.Handler())
	t.Cleanup(ta.srv.Close)

	return ta
}

// submission builds a signed consensus submission at sec and moves the clock past it.
func (ta *testAPI) submission(sec int64, value []byte) []byte {
	ta.now = time.Unix(sec+1, 0)
	ts := uint64(sec * 1000)

	att := oracle.Attestation{
		FeedID: ethUSD,
		Report: oracle.Report{
			Value:                  value,
			Timestamp:              ts,
			AggregatePower:         300,
			LastConsensusTimestamp: ts,
		},
		AttestationTimestamp: ts + 500,
	}

	return oracle.EncodeSubmission(ta.net.Submission(att))
}

func (ta *testAPI) get(t *testing.T, path string, out any) int {
	t.Helper()

	resp, err := http.Get(ta.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}

	return resp.StatusCode
}

func (ta *testAPI) post(t *testing.T, path, contentType string, body []byte, out any) int {
	t.Helper()

	resp, err := http.Post(ta.srv.URL+path, contentType, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("POST %s: decode: %v", path, err)
		}
	}

	return resp.StatusCode
}

// guardOp posts a guard operation signed by key.
func (ta *testAPI) guardOp(t *testing.T, key ed25519.PrivateKey, op string, target oracle.Address) (int, ErrorResponse) {
	t.Helper()

	// Each signed request must be newer than the signer's last one.
	ta.now = ta.now.Add(time.Millisecond)
	body, _ := json.Marshal(GuardRequestFrom(guard.SignRequest(key, op, target, ta.now)))

	var resp ErrorResponse
	code := ta.post(t, "/guard/"+op, "application/json", body, &resp)

	return code, resp
}

func wei(v int64) []byte {
	return new(big.Int).Mul(big.NewInt(v), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)).Bytes()
}

func TestHealthEndpoint(t *testing.T) {
	ta := newTestAPI(t)

	var resp map[string]string
	if code := ta.get(t, "/health", &resp); code != http.StatusOK || resp["status"] != "ok" {
		t.Errorf("health = %d %v", code, resp)
	}
}

func TestSubmitAndRead(t *testing.T) {
	ta := newTestAPI(t)
	feedHex := ethUSD.String()

	var ack SubmitResponse
	if code := ta.post(t, "/oracle", "application/octet-stream", ta.submission(1000, wei(2000)), &ack); code != http.StatusAccepted {
		t.Fatalf("first submit = %d", code)
	}

	if code := ta.post(t, "/oracle", "application/octet-stream", ta.submission(1060, wei(2100)), &ack); code != http.StatusAccepted {
		t.Fatalf("second submit = %d", code)
	}

	if ack.Feed != feedHex || ack.Index != 1 || ack.Timestamp != 1_060_000 {
		t.Errorf("ack = %+v", ack)
	}

	var feeds FeedsResponse
	ta.get(t, "/feeds", &feeds)
	if len(feeds.Feeds) != 1 || feeds.Feeds[0] != feedHex {
		t.Errorf("feeds = %v", feeds.Feeds)
	}

	var count CountResponse
	ta.get(t, "/feeds/"+feedHex+"/count", &count)
	if count.Count != 2 {
		t.Errorf("count = %d, want 2", count.Count)
	}

	var rec Record
	if code := ta.get(t, "/feeds/"+feedHex+"/index/0", &rec); code != http.StatusOK || rec.AggregateTimestamp != 1_000_000 {
		t.Errorf("index 0 = %d %+v", code, rec)
	}

	if code := ta.get(t, "/feeds/"+feedHex+"/timestamp/1060000", &rec); code != http.StatusOK || rec.RelayTimestamp != 1061 {
		t.Errorf("timestamp = %d %+v", code, rec)
	}

	ta.get(t, "/feeds/"+feedHex+"/current", &rec)
	got, err := rec.Aggregate()
	if err != nil || !bytes.Equal(got.Value, wei(2100)) || got.Power != 300 {
		t.Errorf("current = %+v, %v", got, err)
	}

	if code := ta.get(t, "/feeds/"+feedHex+"/guarded", &rec); code != http.StatusOK {
		t.Errorf("guarded = %d", code)
	}

	var round adapter.RoundData
	if code := ta.get(t, "/feeds/"+feedHex+"/round", &round); code != http.StatusOK {
		t.Fatalf("round = %d", code)
	}

	if round.RoundID != 1 || round.UpdatedAt != 1060 || round.Answer.BigInt().Cmp(new(big.Int).SetBytes(wei(2100))) != 0 {
		t.Errorf("round = %+v", round)
	}

	var dec DecimalsResponse
	ta.get(t, "/decimals", &dec)
	if dec.Decimals != 18 || dec.Description != "ETH / USD" {
		t.Errorf("decimals = %+v", dec)
	}

	var status Status
	ta.get(t, "/status", &status)
	if status.Feeds != 1 || status.Peers != 3 || status.Paused {
		t.Errorf("status = %+v", status)
	}

	if len(ta.gossip.got) != 2 {
		t.Errorf("gossiped %d submissions, want 2", len(ta.gossip.got))
	}
}

func TestSubmitRejected(t *testing.T) {
	ta := newTestAPI(t)
	body := ta.submission(1000, wei(1))

	if code := ta.post(t, "/oracle", "application/octet-stream", body, nil); code != http.StatusAccepted {
		t.Fatalf("submit = %d", code)
	}

	var resp ErrorResponse
	if code := ta.post(t, "/oracle", "application/octet-stream", body, &resp); code != http.StatusBadRequest {
		t.Fatalf("resubmit = %d", code)
	}

	if resp.Reason != "timestamp_not_increasing" {
		t.Errorf("reason = %q", resp.Reason)
	}

	if code := ta.post(t, "/oracle", "application/octet-stream", []byte("junk"), &resp); code != http.StatusBadRequest || resp.Reason != reasonMalformed {
		t.Errorf("malformed = %d %+v", code, resp)
	}

	if len(ta.gossip.got) != 1 {
		t.Errorf("rejected submissions were gossiped: %d", len(ta.gossip.got))
	}
}

func TestReadErrors(t *testing.T) {
	ta := newTestAPI(t)
	feedHex := ethUSD.String()

	tests := []struct {
		path string
		want int
	}{
		{"/feeds/nothex/count", http.StatusBadRequest},
		{"/feeds/" + feedHex + "/current", http.StatusNotFound},
		{"/feeds/" + feedHex + "/guarded", http.StatusNotFound},
		{"/feeds/" + feedHex + "/index/0", http.StatusNotFound},
		{"/feeds/" + feedHex + "/index/x", http.StatusBadRequest},
		{"/feeds/" + feedHex + "/timestamp/5", http.StatusNotFound},
		{"/feeds/" + feedHex + "/round", http.StatusNotFound},
		{"/feeds/" + feedHex + "/round?policy=soft", http.StatusOK},
		{"/feeds/" + feedHex + "/round?policy=lenient", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if code := ta.get(t, tt.path, nil); code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
		})
	}

	var round adapter.RoundData
	ta.get(t, "/feeds/"+feedHex+"/round?policy=soft", &round)
	if !round.IsZero() {
		t.Errorf("soft round on empty feed = %+v", round)
	}
}

func TestGuardFlow(t *testing.T) {
	ta := newTestAPI(t)
	feedHex := ethUSD.String()
	admin := oracle.AddressOf(ta.adminKey.Public().(ed25519.PublicKey))

	ta.post(t, "/oracle", "application/octet-stream", ta.submission(1000, wei(5)), nil)

	var st GuardState
	ta.get(t, "/guard", &st)
	if st.Admin != admin.String() || st.Paused || len(st.Guardians) != 1 {
		t.Fatalf("initial guard = %+v", st)
	}

	stranger := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{9}, ed25519.SeedSize))

	if code, _ := ta.guardOp(t, stranger, guard.OpPause, oracle.Address{}); code != http.StatusForbidden {
		t.Errorf("stranger pause = %d, want 403", code)
	}

	if code, resp := ta.guardOp(t, ta.adminKey, guard.OpPause, oracle.Address{}); code != http.StatusOK {
		t.Fatalf("admin pause = %d %+v", code, resp)
	}

	if code, _ := ta.guardOp(t, ta.adminKey, guard.OpPause, oracle.Address{}); code != http.StatusConflict {
		t.Errorf("double pause = %d, want 409", code)
	}

	if code := ta.get(t, "/feeds/"+feedHex+"/guarded", nil); code != http.StatusServiceUnavailable {
		t.Errorf("guarded while paused = %d", code)
	}

	if code := ta.get(t, "/feeds/"+feedHex+"/round", nil); code != http.StatusServiceUnavailable {
		t.Errorf("strict round while paused = %d", code)
	}

	if code := ta.get(t, "/feeds/"+feedHex+"/current", nil); code != http.StatusOK {
		t.Errorf("unguarded read while paused = %d", code)
	}

	// Writes continue while paused.
	if code := ta.post(t, "/oracle", "application/octet-stream", ta.submission(1060, wei(6)), nil); code != http.StatusAccepted {
		t.Errorf("submit while paused = %d", code)
	}

	ta.get(t, "/guard", &st)
	if !st.Paused || st.PausedBy != admin.String() {
		t.Errorf("paused guard = %+v", st)
	}

	// Tampered signature.
	req := GuardRequestFrom(guard.SignRequest(ta.adminKey, guard.OpUnpause, oracle.Address{}, ta.now))
	req.Timestamp++
	body, _ := json.Marshal(req)
	if code := ta.post(t, "/guard/unpause", "application/json", body, nil); code != http.StatusUnauthorized {
		t.Errorf("bad signature = %d, want 401", code)
	}

	if code, _ := ta.guardOp(t, ta.adminKey, "self-destruct", oracle.Address{}); code != http.StatusNotFound {
		t.Errorf("unknown op = %d, want 404", code)
	}

	if code := ta.post(t, "/guard/pause", "application/json", []byte("{"), nil); code != http.StatusBadRequest {
		t.Errorf("bad json = %d", code)
	}

	ta.now = ta.now.Add(time.Millisecond)
	unpause, _ := json.Marshal(GuardRequestFrom(guard.SignRequest(ta.adminKey, guard.OpUnpause, oracle.Address{}, ta.now)))
	if code := ta.post(t, "/guard/unpause", "application/json", unpause, nil); code != http.StatusOK {
		t.Fatalf("unpause = %d", code)
	}

	if code, _ := ta.guardOp(t, ta.adminKey, guard.OpPause, oracle.Address{}); code != http.StatusOK {
		t.Fatalf("second pause = %d", code)
	}

	// A captured unpause cannot be sent again.
	var refused ErrorResponse
	if code := ta.post(t, "/guard/unpause", "application/json", unpause, &refused); code != http.StatusUnauthorized {
		t.Fatalf("replayed unpause = %d %+v, want 401", code, refused)
	}

	if code, _ := ta.guardOp(t, ta.adminKey, guard.OpUnpause, oracle.Address{}); code != http.StatusOK {
		t.Fatalf("unpause = %d", code)
	}

	var round adapter.RoundData
	if code := ta.get(t, "/feeds/"+feedHex+"/round", &round); code != http.StatusOK || round.UpdatedAt != 1060 {
		t.Errorf("round after unpause = %d %+v", code, round)
	}
}

func TestGuardMembership(t *testing.T) {
	ta := newTestAPI(t)
	other := oracle.AddressOf([]byte("second guardian"))

	var st GuardState
	body, _ := json.Marshal(GuardRequestFrom(guard.SignRequest(ta.adminKey, guard.OpAddGuardian, other, ta.now)))
	if code := ta.post(t, "/guard/add-guardian", "application/json", body, &st); code != http.StatusOK {
		t.Fatalf("add guardian = %d", code)
	}

	if len(st.Guardians) != 2 || st.Guardians[1] != other.String() {
		t.Errorf("guardians = %v", st.Guardians)
	}

	if code, _ := ta.guardOp(t, ta.adminKey, guard.OpAddGuardian, other); code != http.StatusConflict {
		t.Errorf("duplicate guardian = %d, want 409", code)
	}

	if code, _ := ta.guardOp(t, ta.adminKey, guard.OpRemoveGuardian, other); code != http.StatusOK {
		t.Errorf("remove guardian = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ta := newTestAPI(t)
	ta.post(t, "/oracle", "application/octet-stream", ta.submission(1000, wei(1)), nil)

	resp, err := http.Get(ta.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `feedrelay_relay_submissions_total{outcome="accepted"`) {
		t.Errorf("metrics missing accepted submission:\n%s", body)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	ta := newTestAPI(t)

	resp, err := http.Get(ta.srv.URL + "/snapshot")
	if err != nil {
		t.Fatalf("GET /snapshot: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "zstd-image" {
		t.Errorf("snapshot = %d %q", resp.StatusCode, body)
	}
}

func TestServerStartStop(t *testing.T) {
	db, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	defer db.Close()

	store, _ := feed.Open(db)
	gate, _ := guard.Open(db, oracle.AddressOf([]byte("admin")))
	svc, err := relay.New(relay.Config{Bridge: bridgetest.NewNetwork(t, 1).Bridge}, store, gate, metrics.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("create relay: %v", err)
	}

	s := New("127.0.0.1:0", svc)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()

	if err := s.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
}

func TestEventStream(t *testing.T) {
	ta := newTestAPI(t)

	resp, err := http.Get(ta.srv.URL + "/events?feed=" + ethUSD.String())
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/x-ndjson" {
		t.Fatalf("events = %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}

	// Headers are sent after subscribing, so this update is on the stream.
	if code := ta.post(t, "/oracle", "application/octet-stream", ta.submission(1000, wei(2000)), nil); code != http.StatusAccepted {
		t.Fatalf("submit = %d", code)
	}

	var ev Event
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}

	if ev.Feed != ethUSD.String() || ev.Index != 0 || ev.Timestamp != 1_000_000 || ev.Power != 300 {
		t.Errorf("event = %+v", ev)
	}
}

func TestEventStreamBadFeed(t *testing.T) {
	ta := newTestAPI(t)

	if code := ta.get(t, "/events?feed=eth", nil); code != http.StatusBadRequest {
		t.Errorf("bad feed = %d, want 400", code)
	}
}
