package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many probe requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker behavior
type Settings struct {
	// MaxProbes is the number of calls admitted while half-open. That many
	// consecutive successes close the breaker again.
	MaxProbes uint32
	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval time.Duration
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// ShouldTrip decides, after a failure in the closed state, whether to open.
	ShouldTrip func(counts Counts) bool
	// IsFailure classifies a call error. Errors it rejects count as success.
	IsFailure func(err error) bool
	// OnStateChange is called whenever the state changes
	OnStateChange func(name string, from State, to State)
}

// Counts holds the statistics for the current generation.
type Counts struct {
	Calls                uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards calls to a remote dependency.
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	counts     Counts
	generation uint64
	deadline   time.Time
	now        func() time.Time
}

func defaultShouldTrip(c Counts) bool { return c.ConsecutiveFailures >= 5 }

// DefaultIsFailure ignores caller cancellation, which says nothing about the
// health of the dependency.
func DefaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// New creates a breaker. Zero settings get defaults.
func New(name string, settings Settings) *Breaker {
	if settings.MaxProbes == 0 {
		settings.MaxProbes = 1
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.ShouldTrip == nil {
		settings.ShouldTrip = defaultShouldTrip
	}
	if settings.IsFailure == nil {
		settings.IsFailure = DefaultIsFailure
	}

	b := &Breaker{name: name, settings: settings, now: time.Now}
	b.enter(StateClosed, b.now())
	return b
}

func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, advancing an expired open state to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh(b.now())
	return b.state
}

// Counts returns a copy of the current generation's counts.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute runs fn if the breaker admits it and records its result. A panic
// in fn counts as a failure and is re-raised.
func (b *Breaker) Execute(fn func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	completed := false
	defer func() {
		if !completed {
			b.record(gen, true)
		}
	}()

	err = fn()
	completed = true
	b.record(gen, b.settings.IsFailure(err))
	return err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh(b.now())
	switch b.state {
	case StateOpen:
		return b.generation, ErrCircuitOpen
	case StateHalfOpen:
		if b.counts.Calls >= b.settings.MaxProbes {
			return b.generation, ErrTooManyRequests
		}
	}
	b.counts.Calls++
	return b.generation, nil
}

func (b *Breaker) record(gen uint64, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.refresh(now)
	if gen != b.generation {
		// The result belongs to a window that has already been reset.
		return
	}

	if !failed {
		b.counts.Successes++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxProbes {
			b.enter(StateClosed, now)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		if b.settings.ShouldTrip(b.counts) {
			b.enter(StateOpen, now)
		}
	case StateHalfOpen:
		b.enter(StateOpen, now)
	}
}

func (b *Breaker) refresh(now time.Time) {
	if b.deadline.IsZero() || now.Before(b.deadline) {
		return
	}
	switch b.state {
	case StateClosed:
		b.counts = Counts{}
		b.generation++
		b.deadline = now.Add(b.settings.Interval)
	case StateOpen:
		b.enter(StateHalfOpen, now)
	}
}

func (b *Breaker) enter(state State, now time.Time) {
	prev := b.state
	b.state = state
	b.counts = Counts{}
	b.generation++

	switch state {
	case StateClosed:
		b.deadline = time.Time{}
		if b.settings.Interval > 0 {
			b.deadline = now.Add(b.settings.Interval)
		}
	case StateOpen:
		b.deadline = now.Add(b.settings.Cooldown)
	case StateHalfOpen:
		b.deadline = time.Time{}
	}

	if prev != state && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, prev, state)
	}
}
