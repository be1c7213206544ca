package client

import (
	"crypto/ed25519"
	"time"

	"FeedRelay/internal/api"
	"FeedRelay/internal/guard"
	"FeedRelay/internal/oracle"
)

// GuardState returns the node's guard gate state.
func (c *Client) GuardState() (api.GuardState, error) {
	var st api.GuardState
	err := c.get("/guard", &st)

	return st, err
}

// Guard signs op with key at the current time and applies it.
// Timestamps strictly increase across calls, since the node refuses a
// request that is not newer than the signer's previous one.
func (c *Client) Guard(key ed25519.PrivateKey, op string, target oracle.Address) (api.GuardState, error) {
	req := guard.SignRequest(key, op, target, c.guardTime())

	var st api.GuardState
	err := c.postJSON("/guard/"+op, api.GuardRequestFrom(req), &st)

	return st, err
}

// Pause halts guarded reads.
func (c *Client) Pause(key ed25519.PrivateKey) (api.GuardState, error) {
	return c.Guard(key, guard.OpPause, oracle.Address{})
}

// Unpause resumes guarded reads.
func (c *Client) Unpause(key ed25519.PrivateKey) (api.GuardState, error) {
	return c.Guard(key, guard.OpUnpause, oracle.Address{})
}

// AddGuardian grants guardianship to addr.
func (c *Client) AddGuardian(key ed25519.PrivateKey, addr oracle.Address) (api.GuardState, error) {
	return c.Guard(key, guard.OpAddGuardian, addr)
}

// RemoveGuardian revokes guardianship from addr.
func (c *Client) RemoveGuardian(key ed25519.PrivateKey, addr oracle.Address) (api.GuardState, error) {
	return c.Guard(key, guard.OpRemoveGuardian, addr)
}

// UpdateAdmin hands the admin role to addr.
func (c *Client) UpdateAdmin(key ed25519.PrivateKey, addr oracle.Address) (api.GuardState, error) {
	return c.Guard(key, guard.OpUpdateAdmin, addr)
}

// guardTime returns the current time, moved past the previous guard request.
func (c *Client) guardTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ms := time.Now().UnixMilli()
	if ms <= c.lastGuard {
		ms = c.lastGuard + 1
	}

	c.lastGuard = ms

	return time.UnixMilli(ms)
}
