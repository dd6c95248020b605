package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON
}

// ReplayBuffer is a fixed-size ring of the most recent envelopes, used to
// backfill clients that reconnect with the last seq they saw.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = defaultReplayCap
	}
	return &ReplayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// Push stores an envelope, overwriting the oldest one when full.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: cp}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 {
		rb.full = true
	}
}

// Since returns the envelopes with seq > after, oldest first.
func (rb *ReplayBuffer) Since(after int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	for i := 0; i < rb.len(); i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq > after {
			out = append(out, e.Data)
		}
	}
	return out
}

// Oldest returns the smallest seq still held, or 0 when empty.
func (rb *ReplayBuffer) Oldest() int64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	if rb.len() == 0 {
		return 0
	}
	return rb.buf[rb.index(0)].Seq
}

// Len returns the number of entries currently held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical one.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
