package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"

	"FeedRelay/internal/guard"
	"FeedRelay/internal/oracle"
)

// pathFeed parses the {feed} path value.
func pathFeed(r *http.Request) (oracle.FeedID, error) {
	f, err := oracle.ParseFeedID(r.PathValue("feed"))
	if err != nil {
		return f, fmt.Errorf("invalid feed id")
	}

	return f, nil
}

// pathUint parses a decimal uint64 path value.
func pathUint(r *http.Request, name string) (uint64, error) {
	v, err := strconv.ParseUint(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}

	return v, nil
}

// decodeGuardRequest validates field encodings and builds the signed request.
func decodeGuardRequest(op string, body GuardRequest) (*guard.Request, error) {
	pub, err := hex.DecodeString(body.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid publicKey encoding")
	}

	sig, err := hex.DecodeString(body.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding")
	}

	var target oracle.Address
	if body.Target != "" {
		if target, err = oracle.ParseAddress(body.Target); err != nil {
			return nil, fmt.Errorf("invalid target")
		}
	}

	return &guard.Request{
		Op:        op,
		Target:    target,
		Timestamp: body.Timestamp,
		PublicKey: pub,
		Signature: sig,
	}, nil
}
