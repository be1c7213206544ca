package guard

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"FeedRelay/internal/logger"
	"FeedRelay/internal/oracle"
	"FeedRelay/internal/storage"
)

var (
	ErrPaused            = errors.New("paused")
	ErrNotGuardian       = errors.New("caller is not a guardian")
	ErrNotAdmin          = errors.New("caller is not the admin")
	ErrAlreadyPaused     = errors.New("already paused")
	ErrAlreadyUnpaused   = errors.New("already unpaused")
	ErrGuardianExists    = errors.New("guardian already exists")
	ErrGuardianNotFound  = errors.New("guardian not found")
	ErrCannotRemoveAdmin = errors.New("admin can only be removed as the last guardian")
	ErrInvalidAddress    = errors.New("invalid guardian address")
	ErrIndexOutOfRange   = errors.New("guardian index out of range")
)

// stateKey is the storage key of the persisted gate state.
var stateKey = []byte("g:state")

// EventKind names a gate transition.
type EventKind string

const (
	EventPaused          EventKind = "paused"
	EventUnpaused        EventKind = "unpaused"
	EventGuardianAdded   EventKind = "guardian_added"
	EventGuardianRemoved EventKind = "guardian_removed"
	EventAdminUpdated    EventKind = "admin_updated"
)

// Event describes one applied transition.
type Event struct {
	Kind   EventKind
	Caller oracle.Address
	Target oracle.Address // Target is the affected principal, zero for pause and unpause
}

// state is the gate's persisted state.
type state struct {
	paused    bool
	pausedBy  oracle.Address
	hasAdmin  bool
	admin     oracle.Address
	guardians []oracle.Address
	lastSeen  map[oracle.Address]int64 // lastSeen is each caller's last signed request time, unix ms
}

// Gate is the pause switch for guarded reads and its guardian roster.
// It is safe for concurrent access.
type Gate struct {
	db       *storage.Storage
	observer func(Event)

	mu sync.RWMutex
	st state
}

// Option configures a Gate.
type Option func(*Gate)

// WithObserver registers fn to receive every applied transition.
// fn runs with the gate lock released.
func WithObserver(fn func(Event)) Option {
	return func(g *Gate) {
		g.observer = fn
	}
}

// Open loads the gate state from db. On first start the gate is unpaused
// and admin is its only guardian.
func Open(db *storage.Storage, admin oracle.Address, opts ...Option) (*Gate, error) {
	g := &Gate{db: db}

	for _, opt := range opts {
		opt(g)
	}

	data, err := db.Get(stateKey)
	if err != nil {
		return nil, fmt.Errorf("read guard state:\n%w", err)
	}

	if data != nil {
		st, err := decodeState(data)
		if err != nil {
			return nil, fmt.Errorf("decode guard state:\n%w", err)
		}

		g.st = st

		return g, nil
	}

	if admin.IsZero() {
		return nil, fmt.Errorf("initial admin:\n%w", ErrInvalidAddress)
	}

	initial := state{hasAdmin: true, admin: admin, guardians: []oracle.Address{admin}}
	if err := g.commit(initial); err != nil {
		return nil, err
	}

	logger.Info("guard initialized", "admin", admin.String())

	return g, nil
}

// RequireUnpaused fails with ErrPaused while the gate is paused.
func (g *Gate) RequireUnpaused() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.st.paused {
		return ErrPaused
	}

	return nil
}

// Paused reports whether guarded reads are halted.
func (g *Gate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.st.paused
}

// mutation changes a copy of the state or explains why it may not.
type mutation func(st *state) error

// Pause halts guarded reads. Any guardian may pause.
func (g *Gate) Pause(caller oracle.Address) error {
	return g.apply(pauseOp(caller))
}

// Unpause resumes guarded reads. Any guardian may unpause.
func (g *Gate) Unpause(caller oracle.Address) error {
	return g.apply(unpauseOp(caller))
}

// AddGuardian grants guardianship to addr. Admin only.
func (g *Gate) AddGuardian(caller, addr oracle.Address) error {
	return g.apply(addGuardianOp(caller, addr))
}

// RemoveGuardian revokes guardianship from addr. Admin only.
// The admin may remove itself only as the last guardian, which leaves
// the gate without an admin for good.
func (g *Gate) RemoveGuardian(caller, addr oracle.Address) error {
	return g.apply(removeGuardianOp(caller, addr))
}

// UpdateAdmin transfers the admin role to newAdmin, which becomes a
// guardian if it is not one already. Admin only.
func (g *Gate) UpdateAdmin(caller, newAdmin oracle.Address) error {
	return g.apply(updateAdminOp(caller, newAdmin))
}

func pauseOp(caller oracle.Address) (Event, mutation) {
	return Event{Kind: EventPaused, Caller: caller}, func(st *state) error {
		if !st.isGuardian(caller) {
			return ErrNotGuardian
		}

		if st.paused {
			return ErrAlreadyPaused
		}

		st.paused = true
		st.pausedBy = caller

		return nil
	}
}

func unpauseOp(caller oracle.Address) (Event, mutation) {
	return Event{Kind: EventUnpaused, Caller: caller}, func(st *state) error {
		if !st.isGuardian(caller) {
			return ErrNotGuardian
		}

		if !st.paused {
			return ErrAlreadyUnpaused
		}

		st.paused = false
		st.pausedBy = oracle.Address{}

		return nil
	}
}

func addGuardianOp(caller, addr oracle.Address) (Event, mutation) {
	return Event{Kind: EventGuardianAdded, Caller: caller, Target: addr}, func(st *state) error {
		if !st.isAdmin(caller) {
			return ErrNotAdmin
		}

		if addr.IsZero() {
			return ErrInvalidAddress
		}

		if st.isGuardian(addr) {
			return ErrGuardianExists
		}

		st.guardians = append(st.guardians, addr)

		return nil
	}
}

func removeGuardianOp(caller, addr oracle.Address) (Event, mutation) {
	return Event{Kind: EventGuardianRemoved, Caller: caller, Target: addr}, func(st *state) error {
		if !st.isAdmin(caller) {
			return ErrNotAdmin
		}

		i := slices.Index(st.guardians, addr)
		if i < 0 {
			return ErrGuardianNotFound
		}

		if addr == st.admin {
			if len(st.guardians) > 1 {
				return ErrCannotRemoveAdmin
			}

			st.hasAdmin = false
			st.admin = oracle.Address{}
		}

		st.guardians = slices.Delete(st.guardians, i, i+1)

		return nil
	}
}

func updateAdminOp(caller, newAdmin oracle.Address) (Event, mutation) {
	return Event{Kind: EventAdminUpdated, Caller: caller, Target: newAdmin}, func(st *state) error {
		if !st.isAdmin(caller) {
			return ErrNotAdmin
		}

		if newAdmin.IsZero() {
			return ErrInvalidAddress
		}

		if !st.isGuardian(newAdmin) {
			st.guardians = append(st.guardians, newAdmin)
		}

		st.admin = newAdmin

		return nil
	}
}

// Admin returns the admin address, or false once the slot is vacant.
func (g *Gate) Admin() (oracle.Address, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.st.admin, g.st.hasAdmin
}

// PausedBy returns the guardian that paused the gate, or false when unpaused.
func (g *Gate) PausedBy() (oracle.Address, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.st.pausedBy, g.st.paused
}

// IsGuardian reports whether addr is a guardian.
func (g *Gate) IsGuardian(addr oracle.Address) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.st.isGuardian(addr)
}

// GuardianCount returns the number of guardians.
func (g *Gate) GuardianCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return len(g.st.guardians)
}

// Guardians returns the guardians in insertion order.
func (g *Gate) Guardians() []oracle.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return slices.Clone(g.st.guardians)
}

// GuardianAt returns the guardian at index i.
func (g *Gate) GuardianAt(i int) (oracle.Address, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if i < 0 || i >= len(g.st.guardians) {
		return oracle.Address{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}

	return g.st.guardians[i], nil
}

// apply runs mutate on a copy of the state and commits it on success.
// A failed check or write leaves the gate unchanged.
func (g *Gate) apply(ev Event, mutate mutation) error {
	g.mu.Lock()

	next := g.st.clone()
	if err := mutate(&next); err != nil {
		g.mu.Unlock()
		return err
	}

	if err := g.commit(next); err != nil {
		g.mu.Unlock()
		return err
	}

	g.mu.Unlock()

	g.notify(ev)

	return nil
}

// notify logs an applied transition and hands it to the observer.
func (g *Gate) notify(ev Event) {
	logger.Info("guard transition",
		"event", string(ev.Kind),
		"caller", ev.Caller.String(),
		"target", ev.Target.String(),
	)

	if g.observer != nil {
		g.observer(ev)
	}
}

// commit persists st and installs it. Caller must hold mu or be the constructor.
func (g *Gate) commit(st state) error {
	if err := g.db.SetSync(stateKey, encodeState(&st)); err != nil {
		return fmt.Errorf("persist guard state:\n%w", err)
	}

	g.st = st

	return nil
}

func (st *state) isGuardian(addr oracle.Address) bool {
	return slices.Contains(st.guardians, addr)
}

func (st *state) isAdmin(addr oracle.Address) bool {
	return st.hasAdmin && st.admin == addr
}

func (st *state) clone() state {
	c := *st
	c.guardians = slices.Clone(st.guardians)
	c.lastSeen = maps.Clone(st.lastSeen)
	return c
}

// encodeState serializes the state.
// Format: flags(1) || pausedBy(32) || admin(32) || count(4) || guardians(32*count) ||
// seenCount(4) || seenCount*(address(32) || timestamp(8)), seen entries sorted by address.
func encodeState(st *state) []byte {
	buf := make([]byte, 0, 1+32+32+4+32*len(st.guardians)+4+40*len(st.lastSeen))

	var flags byte
	if st.paused {
		flags |= 1
	}
	if st.hasAdmin {
		flags |= 2
	}

	buf = append(buf, flags)
	buf = append(buf, st.pausedBy[:]...)
	buf = append(buf, st.admin[:]...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(st.guardians)))

	for _, addr := range st.guardians {
		buf = append(buf, addr[:]...)
	}

	callers := slices.SortedFunc(maps.Keys(st.lastSeen), func(a, b oracle.Address) int {
		return bytes.Compare(a[:], b[:])
	})

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(callers)))

	for _, addr := range callers {
		buf = append(buf, addr[:]...)
		buf = binary.BigEndian.AppendUint64(buf, uint64(st.lastSeen[addr]))
	}

	return buf
}

// decodeState parses the format written by encodeState.
func decodeState(data []byte) (state, error) {
	const header = 1 + 32 + 32 + 4

	if len(data) < header {
		return state{}, fmt.Errorf("state too short: %d bytes", len(data))
	}

	var st state
	st.paused = data[0]&1 != 0
	st.hasAdmin = data[0]&2 != 0
	copy(st.pausedBy[:], data[1:33])
	copy(st.admin[:], data[33:65])

	count := int(binary.BigEndian.Uint32(data[65:69]))
	end := header + 32*count
	if len(data) < end+4 {
		return state{}, fmt.Errorf("state size %d too short for %d guardians", len(data), count)
	}

	st.guardians = make([]oracle.Address, count)
	for i := range st.guardians {
		copy(st.guardians[i][:], data[header+32*i:])
	}

	seen := int(binary.BigEndian.Uint32(data[end : end+4]))
	rest := data[end+4:]
	if len(rest) != 40*seen {
		return state{}, fmt.Errorf("state size %d does not match %d seen callers", len(data), seen)
	}

	st.lastSeen = make(map[oracle.Address]int64, seen)
	for i := 0; i < seen; i++ {
		entry := rest[40*i : 40*(i+1)]

		var addr oracle.Address
		copy(addr[:], entry[:32])
		st.lastSeen[addr] = int64(binary.BigEndian.Uint64(entry[32:]))
	}

	return st, nil
}
