package resilience

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, recovery time.Duration) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewCircuitBreaker("llm", BreakerConfig{FailureThreshold: threshold, RecoveryTimeout: recovery})
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
		b.OnFailure()
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want CLOSED below threshold", b.State())
	}

	b.OnFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN at threshold", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
	if snap := b.Snapshot(); snap.LastFailureTime == nil || snap.FailureCount != 3 {
		t.Errorf("snapshot = %+v, want failure_count 3 with last_failure_time", snap)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED after reset", b.State())
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(1, 10*time.Second)
	b.OnFailure()

	clock.advance(9 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("before recovery: Allow() = %v, want ErrCircuitOpen", err)
	}

	clock.advance(time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("after recovery: Allow() = %v, want trial admitted", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second caller in HALF_OPEN: Allow() = %v, want ErrCircuitOpen", err)
	}

	b.OnSuccess()
	if b.State() != StateClosed {
		t.Errorf("state = %s, want CLOSED after successful trial", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, 5*time.Second)
	b.OnFailure()
	b.OnFailure()
	clock.advance(5 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	b.OnFailure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want OPEN after failed trial", b.State())
	}

	clock.advance(4 * time.Second)
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("recovery timer should restart on reopen, got %v", err)
	}
}

func TestBreaker_ReleaseFreesTrial(t *testing.T) {
	b, clock := newTestBreaker(1, time.Second)
	b.OnFailure()
	clock.advance(time.Second)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Release()
	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after Release = %v, want trial admitted", err)
	}
}

func TestBreakers_HealthAndNotify(t *testing.T) {
	var transitions []string
	r := NewBreakers(BreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Minute}, func(name string, from, to BreakerState) {
		transitions = append(transitions, name+":"+string(from)+"->"+string(to))
	})

	if r.Get("llm") != r.Get("llm") {
		t.Fatal("Get should return the same breaker for a dependency")
	}
	r.Get("transcription").OnFailure()

	h := r.Health()
	if h.Healthy || h.Open != 1 || len(h.Breakers) != 2 {
		t.Errorf("health = %+v, want one open of two", h)
	}
	if h.Breakers[0].Name != "llm" {
		t.Errorf("breakers not sorted: %+v", h.Breakers)
	}
	if len(transitions) != 1 || transitions[0] != "transcription:CLOSED->OPEN" {
		t.Errorf("transitions = %v", transitions)
	}
}
