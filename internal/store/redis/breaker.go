package redis

import (
	"errors"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// State represents the breaker state.
type State int

const (
	StateClosed   State = 0 // calls pass through
	StateOpen     State = 1 // calls rejected until the cooldown elapses
	StateHalfOpen State = 2 // one probe call allowed through
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Do while the breaker is open.
var ErrBreakerOpen = errors.New("redis: breaker open")

// Breaker stops a stream loop from hammering an unreachable Redis.
// After maxFailures consecutive failures it opens for cooldown; the first
// call after that is a probe that either closes or reopens it.
// goredis.Nil (an XREAD block that timed out empty) is not a failure.
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time
	now         func() time.Time

	// OnStateChange is called on every transition (optional).
	OnStateChange func(from, to State)
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	return &Breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return ErrBreakerOpen
		}
		b.transition(StateHalfOpen)
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && !errors.Is(err, goredis.Nil) {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.maxFailures {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
		return err
	}

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
	return err
}

// Remaining returns how long the breaker stays open; 0 when it is not open.
func (b *Breaker) Remaining() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	if left := b.cooldown - b.now().Sub(b.openedAt); left > 0 {
		return left
	}
	return 0
}

// CurrentState returns the breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
