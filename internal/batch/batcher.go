// ABOUTME: Rate-limits snapshot emission while a turn streams
// ABOUTME: Lazily armed timer emits the latest snapshot, Flush delivers the final one synchronously

// Package batch coalesces rapid turn snapshots into bounded-rate updates.
package batch

import (
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/turn"
)

// DefaultInterval is the flush cadence used when none is configured.
const DefaultInterval = 120 * time.Millisecond

// Stats counts snapshots offered to and emitted by a Batcher.
type Stats struct {
	Pushed  int
	Emitted int
}

// Batcher holds the latest pending snapshot and emits it at most once per
// interval. Emissions are serialised: emit is never called concurrently and
// never receives a snapshot older than one it already received. emit must
// not call back into the Batcher.
type Batcher struct {
	mu       sync.Mutex
	interval time.Duration
	emit     func(turn.Snapshot)

	pending    turn.Snapshot
	hasPending bool
	timer      *time.Timer
	lastSeq    uint64
	emitted    bool
	closed     bool
	stats      Stats
}

// New creates a Batcher. A non-positive interval uses DefaultInterval.
func New(interval time.Duration, emit func(turn.Snapshot)) *Batcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Batcher{interval: interval, emit: emit}
}

// Push records s as the latest state. The first push after an emission arms
// the timer; later pushes only replace the pending snapshot.
func (b *Batcher) Push(s turn.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.stats.Pushed++
	if b.emitted && s.Seq <= b.lastSeq {
		return
	}
	if b.hasPending && s.Seq < b.pending.Seq {
		return
	}
	b.pending = s
	b.hasPending = true
	if b.timer == nil {
		b.timer = time.AfterFunc(b.interval, b.fire)
	}
}

// Flush emits final synchronously, stops the timer and closes the Batcher.
// A final no newer than the last emission is dropped. Later Push and Flush
// calls do nothing.
func (b *Batcher) Flush(final turn.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closeLocked()
	if b.emitted && final.Seq <= b.lastSeq {
		return
	}
	b.emitLocked(final)
}

// Stop closes the Batcher without emitting anything further.
func (b *Batcher) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeLocked()
}

// Stats returns the push and emission counts so far.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Batcher) fire() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.timer = nil
	if b.closed || !b.hasPending {
		return
	}
	b.hasPending = false
	b.emitLocked(b.pending)
}

func (b *Batcher) emitLocked(s turn.Snapshot) {
	b.lastSeq = s.Seq
	b.emitted = true
	b.stats.Emitted++
	if b.emit != nil {
		b.emit(s)
	}
}

func (b *Batcher) closeLocked() {
	b.closed = true
	b.hasPending = false
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
