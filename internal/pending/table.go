// Package pending tracks in-flight upstream queries: a mapping from DNS
// transaction ID to the client that asked, so the upstream reply can be
// relayed back to the right address.
package pending

import (
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"
)

// Defaults for the table. The TTL bounds how long a slot stays reserved
// when the upstream never answers; the cap bounds memory under bursts.
const (
	DefaultTTL      = 5 * time.Second
	DefaultCapacity = 8192
	SweepInterval   = time.Second
)

// shardCount spreads the 16-bit ID space over independently locked maps so
// inserters and takers rarely contend. Must be a power of two.
const shardCount = 64

var (
	// ErrCollision means an unexpired entry already holds this ID. The new
	// query is dropped; the client will retry with a fresh ID.
	ErrCollision = errors.New("pending table: transaction id in flight")

	// ErrFull means the table reached its capacity.
	ErrFull = errors.New("pending table: full")
)

type entry struct {
	addr     netip.AddrPort
	deadline time.Time
}

type shard struct {
	mu sync.Mutex
	m  map[uint16]entry
}

// Table maps transaction IDs to client addresses with per-entry expiry.
// At most one entry exists per ID at any moment. Safe for concurrent
// inserters, takers, and one sweeper.
type Table struct {
	shards [shardCount]shard
	ttl    time.Duration
	cap    int
	size   atomic.Int64
}

// New returns a table with the given entry TTL and capacity; zero values
// select the defaults.
func New(ttl time.Duration, capacity int) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	t := &Table{ttl: ttl, cap: capacity}
	for i := range t.shards {
		t.shards[i].m = make(map[uint16]entry)
	}
	return t
}

func (t *Table) shard(id uint16) *shard {
	return &t.shards[id&(shardCount-1)]
}

// Insert reserves id for addr. It fails with ErrCollision when an
// unexpired entry holds the ID, and ErrFull at capacity. An expired entry
// is overwritten in place.
func (t *Table) Insert(id uint16, addr netip.AddrPort, now time.Time) error {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.m[id]; ok {
		if now.Before(e.deadline) {
			return ErrCollision
		}
		// Expired slot: reclaim it without touching the size counter.
		s.m[id] = entry{addr: addr, deadline: now.Add(t.ttl)}
		return nil
	}
	if t.size.Load() >= int64(t.cap) {
		return ErrFull
	}
	s.m[id] = entry{addr: addr, deadline: now.Add(t.ttl)}
	t.size.Add(1)
	return nil
}

// Take removes and returns the client address for id. Expired entries are
// treated as absent (and removed).
func (t *Table) Take(id uint16, now time.Time) (netip.AddrPort, bool) {
	s := t.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[id]
	if !ok {
		return netip.AddrPort{}, false
	}
	delete(s.m, id)
	t.size.Add(-1)
	if !now.Before(e.deadline) {
		return netip.AddrPort{}, false
	}
	return e.addr, true
}

// Sweep removes expired entries and returns how many were dropped. Run on
// a cadence by a background task.
func (t *Table) Sweep(now time.Time) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, e := range s.m {
			if !now.Before(e.deadline) {
				delete(s.m, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		t.size.Add(-int64(removed))
	}
	return removed
}

// Len returns the current entry count.
func (t *Table) Len() int {
	return int(t.size.Load())
}
