package client

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"FeedRelay/internal/adapter"
	"FeedRelay/internal/api"
	"FeedRelay/internal/oracle"
)

// defaultTimeout bounds every request.
const defaultTimeout = 10 * time.Second

// Client talks to a relay node over HTTP.
// Relayers use it to submit attestations, consumers to read feeds.
type Client struct {
	baseURL string       // baseURL is the node URL without trailing slash
	http    *http.Client // http performs requests

	mu        sync.Mutex
	lastGuard int64 // lastGuard is the last guard request timestamp, unix ms
}

// New creates a client for a node address ("127.0.0.1:8080" or a full URL).
func New(nodeAddr string) *Client {
	base := strings.TrimSuffix(nodeAddr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Submit posts a submission for verification and storage.
func (c *Client) Submit(sub *oracle.Submission) (*api.SubmitResponse, error) {
	var ack api.SubmitResponse

	err := c.do(http.MethodPost, "/oracle", "application/octet-stream", oracle.EncodeSubmission(sub), &ack)
	if err != nil {
		return nil, err
	}

	return &ack, nil
}

// Feeds lists feeds with stored records.
func (c *Client) Feeds() ([]oracle.FeedID, error) {
	var resp api.FeedsResponse
	if err := c.get("/feeds", &resp); err != nil {
		return nil, err
	}

	feeds := make([]oracle.FeedID, 0, len(resp.Feeds))

	for _, s := range resp.Feeds {
		f, err := oracle.ParseFeedID(s)
		if err != nil {
			return nil, fmt.Errorf("parse feed %q:\n%w", s, err)
		}

		feeds = append(feeds, f)
	}

	return feeds, nil
}

// Count returns the number of records of a feed.
func (c *Client) Count(f oracle.FeedID) (uint64, error) {
	var resp api.CountResponse
	if err := c.get(feedPath(f, "count"), &resp); err != nil {
		return 0, err
	}

	return resp.Count, nil
}

// RecordAt returns the record at a dense index.
func (c *Client) RecordAt(f oracle.FeedID, index uint64) (oracle.AggregateRecord, error) {
	return c.record(feedPath(f, fmt.Sprintf("index/%d", index)))
}

// RecordAtTimestamp returns the record with an exact aggregate timestamp.
func (c *Client) RecordAtTimestamp(f oracle.FeedID, ts uint64) (oracle.AggregateRecord, bool, error) {
	return c.optionalRecord(feedPath(f, fmt.Sprintf("timestamp/%d", ts)))
}

// Current returns the latest record regardless of the pause state.
func (c *Client) Current(f oracle.FeedID) (oracle.AggregateRecord, bool, error) {
	return c.optionalRecord(feedPath(f, "current"))
}

// Guarded returns the latest record; it fails with IsPaused while paused.
func (c *Client) Guarded(f oracle.FeedID) (oracle.AggregateRecord, bool, error) {
	return c.optionalRecord(feedPath(f, "guarded"))
}

// Round reads the fail-closed latest round.
func (c *Client) Round(f oracle.FeedID) (adapter.RoundData, error) {
	var round adapter.RoundData
	err := c.get(feedPath(f, "round?policy=strict"), &round)

	return round, err
}

// SoftRound reads the latest round, zero when unavailable.
func (c *Client) SoftRound(f oracle.FeedID) (adapter.RoundData, error) {
	var round adapter.RoundData
	err := c.get(feedPath(f, "round?policy=soft"), &round)

	return round, err
}

// Decimals returns the node's answer format.
func (c *Client) Decimals() (api.DecimalsResponse, error) {
	var resp api.DecimalsResponse
	err := c.get("/decimals", &resp)

	return resp, err
}

// Status returns the node status.
func (c *Client) Status() (api.Status, error) {
	var status api.Status
	err := c.get("/status", &status)

	return status, err
}

// Snapshot downloads the node's compressed snapshot.
func (c *Client) Snapshot() ([]byte, error) {
	var data []byte
	err := c.get("/snapshot", &data)

	return data, err
}

// record fetches one record.
func (c *Client) record(path string) (oracle.AggregateRecord, error) {
	var rec api.Record
	if err := c.get(path, &rec); err != nil {
		return oracle.AggregateRecord{}, err
	}

	return rec.Aggregate()
}

// optionalRecord fetches one record, mapping 404 to absence.
func (c *Client) optionalRecord(path string) (oracle.AggregateRecord, bool, error) {
	rec, err := c.record(path)
	if IsNotFound(err) {
		return oracle.AggregateRecord{}, false, nil
	}

	if err != nil {
		return oracle.AggregateRecord{}, false, err
	}

	return rec, true, nil
}

// feedPath builds /feeds/{feed}/{suffix}.
func feedPath(f oracle.FeedID, suffix string) string {
	return "/feeds/" + f.String() + "/" + suffix
}
