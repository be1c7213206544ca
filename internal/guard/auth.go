package guard

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/zeebo/blake3"

	"FeedRelay/internal/oracle"
)

// AuthWindow is how far a signed request's timestamp may be from local time.
const AuthWindow = 5 * time.Minute

// Operation names accepted by Apply and signed in requests.
const (
	OpAddGuardian    = "add-guardian"
	OpRemoveGuardian = "remove-guardian"
	OpUpdateAdmin    = "update-admin"
	OpPause          = "pause"
	OpUnpause        = "unpause"
)

var (
	ErrUnknownOp    = errors.New("unknown guard operation")
	ErrBadSignature = errors.New("invalid request signature")
	ErrStaleRequest = errors.New("request timestamp outside window")
	ErrBadPublicKey = errors.New("invalid request public key")

	// ErrReplayedRequest is returned for a request not newer than the caller's last one.
	ErrReplayedRequest = errors.New("request already seen")
)

// requestDomain separates guard request digests from other BLAKE3 uses.
var requestDomain = []byte("feedrelay-guard-v1")

// Request is a signed guard operation.
// The caller is the address of PublicKey.
type Request struct {
	Op        string
	Target    oracle.Address
	Timestamp int64 // Timestamp is unix milliseconds
	PublicKey []byte
	Signature []byte
}

// RequestDigest is the message signed for a guard request.
// Format: BLAKE3(domain || len(op) || op || target || timestamp).
func RequestDigest(op string, target oracle.Address, timestamp int64) [32]byte {
	h := blake3.New()
	h.Write(requestDomain)

	var buf [8]byte
	binary.BigEndian.PutUint32(buf[:4], uint32(len(op)))
	h.Write(buf[:4])
	h.Write([]byte(op))
	h.Write(target[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}

// SignRequest builds a signed request for op on target at time now.
func SignRequest(priv ed25519.PrivateKey, op string, target oracle.Address, now time.Time) *Request {
	ts := now.UnixMilli()
	digest := RequestDigest(op, target, ts)

	return &Request{
		Op:        op,
		Target:    target,
		Timestamp: ts,
		PublicKey: priv.Public().(ed25519.PublicKey),
		Signature: ed25519.Sign(priv, digest[:]),
	}
}

// Authenticate checks the signature and freshness of r and returns the caller address.
func (r *Request) Authenticate(now time.Time) (oracle.Address, error) {
	if len(r.PublicKey) != ed25519.PublicKeySize {
		return oracle.Address{}, ErrBadPublicKey
	}

	skew := now.Sub(time.UnixMilli(r.Timestamp))
	if skew < 0 {
		skew = -skew
	}

	if skew > AuthWindow {
		return oracle.Address{}, fmt.Errorf("%w: %s", ErrStaleRequest, skew)
	}

	digest := RequestDigest(r.Op, r.Target, r.Timestamp)
	if !ed25519.Verify(r.PublicKey, digest[:], r.Signature) {
		return oracle.Address{}, ErrBadSignature
	}

	return oracle.AddressOf(r.PublicKey), nil
}

// Apply dispatches op for caller. Target is ignored by pause and unpause.
func (g *Gate) Apply(op string, caller, target oracle.Address) error {
	ev, mutate, err := operation(op, caller, target)
	if err != nil {
		return err
	}

	return g.apply(ev, mutate)
}

// ApplyRequest authenticates r at time now and applies its operation.
// A guardian's request must be newer than the last request it signed that
// reached the gate, even one whose operation failed, so a captured request
// cannot be applied twice.
func (g *Gate) ApplyRequest(r *Request, now time.Time) error {
	caller, err := r.Authenticate(now)
	if err != nil {
		return err
	}

	ev, mutate, err := operation(r.Op, caller, r.Target)
	if err != nil {
		return err
	}

	g.mu.Lock()

	if last, ok := g.st.lastSeen[caller]; ok && r.Timestamp <= last {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d <= %d", ErrReplayedRequest, r.Timestamp, last)
	}

	// Callers without a role are not tracked, which bounds the state. Every
	// operation they may sign fails, so they never reach the commit below.
	if !g.st.isGuardian(caller) && !g.st.isAdmin(caller) {
		trial := g.st.clone()
		if err := mutate(&trial); err != nil {
			g.mu.Unlock()
			return err
		}
	}

	next := g.st.clone()
	opErr := mutate(&next)
	if opErr != nil {
		next = g.st.clone()
	}

	if next.lastSeen == nil {
		next.lastSeen = make(map[oracle.Address]int64)
	}

	next.lastSeen[caller] = r.Timestamp
	next.forget(now.Add(-AuthWindow).UnixMilli())

	if err := g.commit(next); err != nil {
		g.mu.Unlock()
		return err
	}

	g.mu.Unlock()

	if opErr != nil {
		return opErr
	}

	g.notify(ev)

	return nil
}

// forget drops request times of former guardians once they can no longer
// pass the freshness window.
func (st *state) forget(cutoff int64) {
	maps.DeleteFunc(st.lastSeen, func(addr oracle.Address, ts int64) bool {
		return ts < cutoff && !st.isGuardian(addr)
	})
}

// operation resolves op into its event and state change.
func operation(op string, caller, target oracle.Address) (Event, mutation, error) {
	var (
		ev     Event
		mutate mutation
	)

	switch op {
	case OpAddGuardian:
		ev, mutate = addGuardianOp(caller, target)
	case OpRemoveGuardian:
		ev, mutate = removeGuardianOp(caller, target)
	case OpUpdateAdmin:
		ev, mutate = updateAdminOp(caller, target)
	case OpPause:
		ev, mutate = pauseOp(caller)
	case OpUnpause:
		ev, mutate = unpauseOp(caller)
	default:
		return Event{}, nil, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	return ev, mutate, nil
}
