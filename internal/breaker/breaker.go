// Package breaker guards calls to other gateway nodes, one circuit per node
// address.
package breaker

import (
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	// HalfOpen lets a single trial call through after the open period.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

type Options struct {
	// Threshold failures within Window open the circuit for OpenFor.
	Threshold int
	Window    time.Duration
	OpenFor   time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

type circuit struct {
	state     State
	failures  int
	firstFail time.Time
	openUntil time.Time
}

type Breaker struct {
	opts Options

	mu       sync.Mutex
	circuits map[string]*circuit
}

func New(opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = 5
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Second
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{opts: opts, circuits: make(map[string]*circuit)}
}

// Allow reports whether a call to key may proceed. An expired open circuit
// admits exactly one trial call; its outcome closes or reopens the circuit.
func (b *Breaker) Allow(key string) bool {
	now := b.opts.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case Open:
		if now.Before(c.openUntil) {
			return false
		}
		c.state = HalfOpen
		return true
	case HalfOpen:
		return false
	default:
		return true
	}
}

func (b *Breaker) Success(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, key)
}

// Failure records a failed call and reports whether it opened the circuit.
func (b *Breaker) Failure(key string) (opened bool) {
	now := b.opts.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	switch c.state {
	case HalfOpen:
		c.state = Open
		c.openUntil = now.Add(b.opts.OpenFor)
		return true
	case Open:
		// A call admitted before the circuit opened.
		return false
	}

	if c.failures == 0 || now.Sub(c.firstFail) > b.opts.Window {
		c.failures = 0
		c.firstFail = now
	}
	c.failures++
	if c.failures < b.opts.Threshold {
		return false
	}
	c.state = Open
	c.failures = 0
	c.openUntil = now.Add(b.opts.OpenFor)
	return true
}

// State returns the circuit state of key without advancing it.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return Closed
}
