// Package stats collects dataplane counters and reports them, together
// with process resource usage, on a low cadence.
package stats

import "sync/atomic"

// Counters tracks what the dataplane did. All methods are safe for
// concurrent use from every worker.
type Counters struct {
	received   atomic.Uint64 // client datagrams received
	hits       atomic.Uint64 // answered from the block-list
	misses     atomic.Uint64 // forwarded upstream
	relayed    atomic.Uint64 // upstream replies relayed back
	decodeErrs atomic.Uint64 // dropped: malformed datagrams
	dropped    atomic.Uint64 // dropped: saturation, collisions, table full
}

// NewCounters returns a zeroed counter set.
func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) Received() { c.received.Add(1) }

func (c *Counters) Hit() { c.hits.Add(1) }

func (c *Counters) Miss() { c.misses.Add(1) }

func (c *Counters) Relayed() { c.relayed.Add(1) }

func (c *Counters) DecodeError() { c.decodeErrs.Add(1) }

func (c *Counters) Dropped() { c.dropped.Add(1) }

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Received     uint64
	Hits         uint64
	Misses       uint64
	Relayed      uint64
	DecodeErrors uint64
	Dropped      uint64
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Received:     c.received.Load(),
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Relayed:      c.relayed.Load(),
		DecodeErrors: c.decodeErrs.Load(),
		Dropped:      c.dropped.Load(),
	}
}
