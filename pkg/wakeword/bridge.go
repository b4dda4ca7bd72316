package wakeword

import (
	"sync"
	"sync/atomic"
)

// Bridge carries audio chunks from the capture thread into the core event
// loop over a bounded channel. The capture side never blocks: when the loop
// falls behind, chunks are dropped and counted instead of stalling capture.
type Bridge struct {
	ch      chan []byte
	dropped atomic.Uint64

	mu     sync.Mutex
	closed bool
}

// NewBridge creates a bridge buffering up to capacity chunks.
func NewBridge(capacity int) *Bridge {
	if capacity <= 0 {
		capacity = 32
	}
	return &Bridge{ch: make(chan []byte, capacity)}
}

// Push hands one chunk to the event loop. It reports false when the chunk
// was dropped (buffer full or bridge closed). The bridge takes ownership of
// chunk; the caller must not reuse the slice.
func (b *Bridge) Push(chunk []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- chunk:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Chunks is the receive side, consumed by the event loop. The channel is
// closed by Close.
func (b *Bridge) Chunks() <-chan []byte { return b.ch }

// Dropped reports how many chunks were discarded because the loop fell
// behind.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Close stops accepting chunks and closes the receive channel.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
