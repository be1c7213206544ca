package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"FeedRelay/internal/adapter"
	"FeedRelay/internal/feed"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/logger"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/verifier"
)

// reasonMalformed labels submissions that could not be decoded.
const reasonMalformed = "malformed_submission"

// handleSubmit handles POST /oracle requests.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, "submission too large")
		return
	}

	sub, err := oracle.DecodeSubmission(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  fmt.Sprintf("invalid submission: %v", err),
			Reason: reasonMalformed,
		})
		return
	}

	ev, err := s.relay.UpdateOracleData(sub)
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	if s.gossiper != nil {
		if err := s.gossiper.Publish(sub); err != nil {
			logger.Warn("gossip submission", "feed", ev.Feed.Short(), "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		Feed:      ev.Feed.String(),
		Index:     ev.Index,
		Timestamp: ev.AggregateTimestamp,
	})
}

// writeSubmitError maps a write path failure to a response.
func writeSubmitError(w http.ResponseWriter, err error) {
	if reason, ok := verifier.ReasonOf(err); ok {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  err.Error(),
			Reason: string(reason),
		})
		return
	}

	logger.Error("append submission", "error", err)
	writeError(w, http.StatusInternalServerError, "storage failure")
}

// handleFeeds handles GET /feeds requests.
func (s *Server) handleFeeds(w http.ResponseWriter, r *http.Request) {
	resp := FeedsResponse{Feeds: []string{}}

	for _, f := range s.relay.Feeds() {
		resp.Feeds = append(resp.Feeds, f.String())
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCount handles GET /feeds/{feed}/count requests.
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	f, err := pathFeed(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, CountResponse{
		Feed:  f.String(),
		Count: s.relay.AggregateValueCount(f),
	})
}

// handleByIndex handles GET /feeds/{feed}/index/{index} requests.
func (s *Server) handleByIndex(w http.ResponseWriter, r *http.Request) {
	f, err := pathFeed(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	index, err := pathUint(r, "index")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.relay.AggregateByIndex(f, index)
	if errors.Is(err, feed.ErrIndexOutOfRange) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	if err != nil {
		logger.Error("read record", "feed", f.Short(), "index", index, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	writeJSON(w, http.StatusOK, RecordFrom(rec))
}

// handleByTimestamp handles GET /feeds/{feed}/timestamp/{ts} requests.
func (s *Server) handleByTimestamp(w http.ResponseWriter, r *http.Request) {
	f, err := pathFeed(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ts, err := pathUint(r, "ts")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, ok, err := s.relay.AggregateByTimestamp(f, ts)
	if err != nil {
		logger.Error("read record", "feed", f.Short(), "timestamp", ts, "error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	if !ok {
		writeError(w, http.StatusNotFound, "no record at timestamp")
		return
	}

	writeJSON(w, http.StatusOK, RecordFrom(rec))
}

// handleCurrent handles GET /feeds/{feed}/current requests.
func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	f, err := pathFeed(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, ok := s.relay.CurrentAggregate(f)
	if !ok {
		writeError(w, http.StatusNotFound, adapter.ErrNoDataAvailable.Error())
		return
	}

	writeJSON(w, http.StatusOK, RecordFrom(rec))
}

// handleGuarded handles GET /feeds/{feed}/guarded requests.
func (s *Server) handleGuarded(w http.ResponseWriter, r *http.Request) {
	f, err := pathFeed(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, ok, err := s.relay.GuardedCurrentAggregate(f)
	if errors.Is(err, guard.ErrPaused) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !ok {
		writeError(w, http.StatusNotFound, adapter.ErrNoDataAvailable.Error())
		return
	}

	writeJSON(w, http.StatusOK, RecordFrom(rec))
}

// handleRound handles GET /feeds/{feed}/round?policy=strict|soft requests.
func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	f, err := pathFeed(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch r.URL.Query().Get("policy") {
	case "", "strict":
		round, err := s.relay.LatestRoundData(f)
		if err != nil {
			writeError(w, roundStatus(err), err.Error())
			return
		}

		writeJSON(w, http.StatusOK, round)
	case "soft":
		writeJSON(w, http.StatusOK, s.relay.SoftLatestRoundData(f))
	default:
		writeError(w, http.StatusBadRequest, "policy must be strict or soft")
	}
}

// roundStatus maps a strict adapter failure to an HTTP status.
func roundStatus(err error) int {
	switch {
	case errors.Is(err, adapter.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, adapter.ErrNoDataAvailable):
		return http.StatusNotFound
	case errors.Is(err, adapter.ErrPriceTooLarge), errors.Is(err, adapter.ErrInvalidValue):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleDecimals handles GET /decimals requests.
func (s *Server) handleDecimals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, DecimalsResponse{
		Decimals:    s.relay.Decimals(),
		Description: s.relay.Description(),
	})
}
