package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"FeedRelay/internal/guard"
	"FeedRelay/internal/logger"
)

// handleGuardState handles GET /guard requests.
func (s *Server) handleGuardState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GuardStateOf(s.relay.Gate()))
}

// handleGuardOp handles POST /guard/{op} requests.
func (s *Server) handleGuardOp(w http.ResponseWriter, r *http.Request) {
	var body GuardRequest

	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := decodeGuardRequest(r.PathValue("op"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.relay.ApplyGuard(req); err != nil {
		logger.Debug("guard request refused", "op", req.Op, "error", err)
		writeError(w, guardStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, GuardStateOf(s.relay.Gate()))
}

// guardStatus maps a guard failure to an HTTP status.
func guardStatus(err error) int {
	switch {
	case errors.Is(err, guard.ErrUnknownOp):
		return http.StatusNotFound
	case errors.Is(err, guard.ErrBadSignature),
		errors.Is(err, guard.ErrStaleRequest),
		errors.Is(err, guard.ErrReplayedRequest),
		errors.Is(err, guard.ErrBadPublicKey):
		return http.StatusUnauthorized
	case errors.Is(err, guard.ErrNotGuardian), errors.Is(err, guard.ErrNotAdmin):
		return http.StatusForbidden
	case errors.Is(err, guard.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrAlreadyPaused),
		errors.Is(err, guard.ErrAlreadyUnpaused),
		errors.Is(err, guard.ErrGuardianExists),
		errors.Is(err, guard.ErrGuardianNotFound),
		errors.Is(err, guard.ErrCannotRemoveAdmin):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
