// Package resilience protects recognizer backends from being hammered while
// they are down.
//
// A [Breaker] counts consecutive failures of the calls it guards. Once the
// limit is reached it opens and rejects calls with [ErrOpen] until a
// cooldown has passed. It then lets a single probe through: success closes
// it again, failure restarts the cooldown.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: circuit open")

const (
	defaultFailures = 5
	defaultCooldown = 30 * time.Second
)

// State is the operating mode of a [Breaker].
type State int

const (
	// Closed forwards every call.
	Closed State = iota
	// Open rejects every call until the cooldown has passed.
	Open
	// HalfOpen lets one probe call through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Option configures a [Breaker].
type Option func(*Breaker)

// WithFailures sets how many consecutive failures open the breaker.
// Values below 1 are ignored. Default: 5.
func WithFailures(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.maxFailures = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before probing.
// Non-positive values are ignored. Default: 30s.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithOnStateChange registers fn to be called after every transition. fn
// runs on the goroutine that caused the transition, without locks held.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	onChange    func(name string, from, to State)
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New returns a closed [Breaker]. name labels it in logs.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:        name,
		maxFailures: defaultFailures,
		cooldown:    defaultCooldown,
		now:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name returns the label given to [New].
func (b *Breaker) Name() string { return b.name }

// Do calls fn unless the breaker is open, and records the outcome. Errors
// caused by ctx ending are returned but do not count as failures.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		b.release(probe)
		return err
	}
	b.record(probe, err)
	return err
}

// admit decides whether a call may run. probe is true for the single call
// allowed through in the half-open state.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			b.mu.Unlock()
			return false, ErrOpen
		}
		from, changed = b.transition(HalfOpen)
		fallthrough
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false, ErrOpen
		}
		b.probing = true
		probe = true
	}
	b.mu.Unlock()
	if changed {
		b.notify(from, HalfOpen)
	}
	return probe, nil
}

// release gives back a probe slot without judging the backend.
func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) record(probe bool, err error) {
	b.mu.Lock()
	if probe {
		b.probing = false
	}
	var (
		from    State
		to      State
		changed bool
	)
	switch {
	case err == nil:
		b.failures = 0
		to = Closed
		from, changed = b.transition(Closed)
	case probe || b.state == HalfOpen:
		to = Open
		from, changed = b.transition(Open)
		b.openedAt = b.now()
	default:
		b.failures++
		if b.failures >= b.maxFailures {
			to = Open
			from, changed = b.transition(Open)
			b.openedAt = b.now()
		}
	}
	failures := b.failures
	b.mu.Unlock()

	if !changed {
		return
	}
	if to == Open {
		slog.Warn("resilience: circuit opened", "name", b.name, "consecutive_failures", failures, "cooldown", b.cooldown, "err", err)
	} else {
		slog.Info("resilience: circuit closed", "name", b.name)
	}
	b.notify(from, to)
}

// transition moves to `to`. Must be called with b.mu held.
func (b *Breaker) transition(to State) (from State, changed bool) {
	from = b.state
	if from == to {
		return from, false
	}
	b.state = to
	return from, true
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose cooldown has
// passed reports [HalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return b.state
}

// Reset closes the breaker and clears its failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from, changed := b.transition(Closed)
	b.failures = 0
	b.probing = false
	b.mu.Unlock()
	if changed {
		b.notify(from, Closed)
	}
}
