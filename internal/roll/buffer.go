package roll

import (
	"sync/atomic"
	"time"

	"github.com/xtding233/loot-roller/internal/catalog"
	"github.com/xtding233/loot-roller/internal/metrics"
)

// Slot is one entry of a result set. Exactly one slot of a resolved roll
// is Authoritative; every other slot is cosmetic filler.
type Slot struct {
	catalog.Item
	Authoritative bool `json:"-"`
}

// ResultSet is a fixed-size result buffer owned by one roll at a time.
type ResultSet struct {
	Slots  []Slot
	Winner int // -1 when no winner was resolved
}

func newResultSet(size int) *ResultSet {
	return &ResultSet{Slots: make([]Slot, size), Winner: -1}
}

func (r *ResultSet) reset() {
	clear(r.Slots)
	r.Winner = -1
}

// BufferPool is a bounded free list of result sets of one size. A buffer
// returned to the pool is never handed to two rolls at once; buffers that
// do not fit are left to the garbage collector.
type BufferPool struct {
	size    int
	free    chan *ResultSet
	pending atomic.Int64
}

// NewBufferPool keeps up to capacity free buffers of size slots each.
func NewBufferPool(capacity, size int) *BufferPool {
	if capacity < 0 {
		capacity = 0
	}
	return &BufferPool{size: size, free: make(chan *ResultSet, capacity)}
}

// Acquire returns a cleared buffer, reusing a free one when possible.
func (p *BufferPool) Acquire() *ResultSet {
	select {
	case rs := <-p.free:
		metrics.BufferPool.WithLabelValues("reused").Inc()
		rs.reset()
		return rs
	default:
		metrics.BufferPool.WithLabelValues("allocated").Inc()
		return newResultSet(p.size)
	}
}

// Release puts rs back on the free list.
func (p *BufferPool) Release(rs *ResultSet) {
	if rs == nil || len(rs.Slots) != p.size {
		return
	}
	select {
	case p.free <- rs:
	default:
	}
}

// ReleaseAfter returns rs to the pool once grace has elapsed, so a response
// still being written can keep reading it. It never blocks.
func (p *BufferPool) ReleaseAfter(rs *ResultSet, grace time.Duration) {
	if rs == nil {
		return
	}
	if grace <= 0 {
		p.Release(rs)
		return
	}
	p.pending.Add(1)
	time.AfterFunc(grace, func() {
		p.pending.Add(-1)
		p.Release(rs)
	})
}

// Free returns the number of buffers waiting for reuse.
func (p *BufferPool) Free() int { return len(p.free) }

// Pending returns the number of buffers scheduled for release.
func (p *BufferPool) Pending() int { return int(p.pending.Load()) }
