package api

import (
	"encoding/hex"
	"fmt"

	"FeedRelay/internal/guard"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/relay"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"` // Reason is the verifier rejection reason, if any
}

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	Feed      string `json:"feed"`
	Index     uint64 `json:"index"`
	Timestamp uint64 `json:"timestamp"`
}

// Record is the JSON form of an aggregate record.
type Record struct {
	Value                string `json:"value"` // Value is hex encoded
	Power                uint64 `json:"power"`
	AggregateTimestamp   uint64 `json:"aggregateTimestamp"`
	AttestationTimestamp uint64 `json:"attestationTimestamp"`
	RelayTimestamp       uint64 `json:"relayTimestamp"`
}

// RecordFrom converts a stored record.
func RecordFrom(rec oracle.AggregateRecord) Record {
	return Record{
		Value:                hex.EncodeToString(rec.Value),
		Power:                rec.Power,
		AggregateTimestamp:   rec.AggregateTimestamp,
		AttestationTimestamp: rec.AttestationTimestamp,
		RelayTimestamp:       rec.RelayTimestamp,
	}
}

// Aggregate converts back to a record.
func (r Record) Aggregate() (oracle.AggregateRecord, error) {
	value, err := hex.DecodeString(r.Value)
	if err != nil {
		return oracle.AggregateRecord{}, fmt.Errorf("decode value:\n%w", err)
	}

	return oracle.AggregateRecord{
		Value:                value,
		Power:                r.Power,
		AggregateTimestamp:   r.AggregateTimestamp,
		AttestationTimestamp: r.AttestationTimestamp,
		RelayTimestamp:       r.RelayTimestamp,
	}, nil
}

// FeedsResponse lists feeds with stored records.
type FeedsResponse struct {
	Feeds []string `json:"feeds"`
}

// CountResponse is the record count of a feed.
type CountResponse struct {
	Feed  string `json:"feed"`
	Count uint64 `json:"count"`
}

// DecimalsResponse describes the answer format.
type DecimalsResponse struct {
	Decimals    uint8  `json:"decimals"`
	Description string `json:"description"`
}

// GuardState is the guard gate's public state.
type GuardState struct {
	Admin     string   `json:"admin"` // Admin is empty once the admin slot is vacated
	Paused    bool     `json:"paused"`
	PausedBy  string   `json:"pausedBy,omitempty"`
	Guardians []string `json:"guardians"`
}

// GuardStateOf reads the gate.
func GuardStateOf(g *guard.Gate) GuardState {
	st := GuardState{Paused: g.Paused(), Guardians: []string{}}

	if admin, ok := g.Admin(); ok {
		st.Admin = admin.String()
	}

	if by, ok := g.PausedBy(); ok && st.Paused {
		st.PausedBy = by.String()
	}

	for _, addr := range g.Guardians() {
		st.Guardians = append(st.Guardians, addr.String())
	}

	return st
}

// GuardRequest is the body of POST /guard/{op}; the op comes from the path.
type GuardRequest struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Target    string `json:"target,omitempty"` // Target is empty for pause and unpause
	Timestamp int64  `json:"timestamp"`        // Timestamp is unix milliseconds
}

// GuardRequestFrom converts a signed request.
func GuardRequestFrom(req *guard.Request) GuardRequest {
	body := GuardRequest{
		PublicKey: hex.EncodeToString(req.PublicKey),
		Signature: hex.EncodeToString(req.Signature),
		Timestamp: req.Timestamp,
	}

	if !req.Target.IsZero() {
		body.Target = req.Target.String()
	}

	return body
}

// Status is the body of GET /status.
type Status struct {
	Feeds        int    `json:"feeds"`
	Paused       bool   `json:"paused"`
	Peers        int    `json:"peers"`
	Decimals     uint8  `json:"decimals"`
	Description  string `json:"description"`
	ExpectedFeed string `json:"expectedFeed,omitempty"`
	Uptime       int64  `json:"uptime"` // Uptime is in seconds
}

// Event is one accepted update on the GET /events stream.
type Event struct {
	Feed      string `json:"feed"`
	Index     uint64 `json:"index"`
	Value     string `json:"value"` // Value is hex encoded
	Power     uint64 `json:"power"`
	Timestamp uint64 `json:"timestamp"` // Timestamp is the aggregate timestamp (milliseconds)
}

// EventFrom converts a relay update.
func EventFrom(ev relay.OracleUpdated) Event {
	return Event{
		Feed:      ev.Feed.String(),
		Index:     ev.Index,
		Value:     hex.EncodeToString(ev.Value),
		Power:     ev.Power,
		Timestamp: ev.AggregateTimestamp,
	}
}
