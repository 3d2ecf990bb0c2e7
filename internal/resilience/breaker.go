package resilience

import (
	"sort"
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "CLOSED"
	StateOpen     BreakerState = "OPEN"
	StateHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
}

// DefaultBreakerConfig returns the standard breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second}
}

// BreakerSnapshot is a point-in-time view of a breaker.
type BreakerSnapshot struct {
	Name             string       `json:"name"`
	State            BreakerState `json:"state"`
	FailureCount     int          `json:"failure_count"`
	FailureThreshold int          `json:"failure_threshold"`
	RecoveryTimeout  float64      `json:"recovery_timeout"`
	LastFailureTime  *time.Time   `json:"last_failure_time,omitempty"`
}

// CircuitBreaker fails fast after repeated failures of one dependency.
// HALF_OPEN admits exactly one trial call.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	now    func() time.Time
	notify func(name string, from, to BreakerState)

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	lastFailure  time.Time
	openedAt     time.Time
	trial        bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	d := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = d.RecoveryTimeout
	}
	return &CircuitBreaker{name: name, cfg: cfg, now: time.Now, state: StateClosed}
}

// Name returns the dependency this breaker guards.
func (b *CircuitBreaker) Name() string { return b.name }

// Allow reports whether a call may proceed. An OPEN breaker whose recovery
// timeout has elapsed moves to HALF_OPEN and admits the caller as its trial.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.trial = true
		return nil
	case StateHalfOpen:
		if b.trial {
			return ErrCircuitOpen
		}
		b.trial = true
		return nil
	}
	return nil
}

// OnSuccess closes the breaker and clears the failure count.
func (b *CircuitBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.trial = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// OnFailure records a failure, opening the breaker at the threshold or
// reopening it after a failed trial.
func (b *CircuitBreaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	b.failureCount++
	b.lastFailure = now
	b.trial = false

	switch b.state {
	case StateHalfOpen:
		b.openedAt = now
		b.transition(StateOpen)
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.openedAt = now
			b.transition(StateOpen)
		}
	}
}

// Release gives back a HALF_OPEN trial slot without judging the dependency.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	b.trial = false
	b.mu.Unlock()
}

// State returns the current state without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's counters.
func (b *CircuitBreaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerSnapshot{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.cfg.FailureThreshold,
		RecoveryTimeout:  b.cfg.RecoveryTimeout.Seconds(),
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	return s
}

// transition must be called with mu held.
func (b *CircuitBreaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	if b.notify != nil && from != to {
		b.notify(b.name, from, to)
	}
}

// Breakers holds one breaker per dependency, created on first use.
type Breakers struct {
	cfg    BreakerConfig
	now    func() time.Time
	notify func(name string, from, to BreakerState)

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakers creates an empty registry. notify may be nil.
func NewBreakers(cfg BreakerConfig, notify func(name string, from, to BreakerState)) *Breakers {
	return &Breakers{cfg: cfg, now: time.Now, notify: notify, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it if needed.
func (r *Breakers) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewCircuitBreaker(name, r.cfg)
		b.now = r.now
		b.notify = r.notify
		r.breakers[name] = b
	}
	return b
}

// Health summarizes all breakers.
type Health struct {
	Healthy  bool              `json:"healthy"`
	Open     int               `json:"open"`
	HalfOpen int               `json:"half_open"`
	Breakers []BreakerSnapshot `json:"breakers"`
}

// Health returns a snapshot of every breaker, sorted by name.
func (r *Breakers) Health() Health {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		list = append(list, b)
	}
	r.mu.Unlock()

	h := Health{Breakers: make([]BreakerSnapshot, 0, len(list))}
	for _, b := range list {
		s := b.Snapshot()
		switch s.State {
		case StateOpen:
			h.Open++
		case StateHalfOpen:
			h.HalfOpen++
		}
		h.Breakers = append(h.Breakers, s)
	}
	sort.Slice(h.Breakers, func(i, j int) bool { return h.Breakers[i].Name < h.Breakers[j].Name })
	h.Healthy = h.Open == 0
	return h
}
