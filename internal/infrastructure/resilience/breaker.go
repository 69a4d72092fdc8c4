package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned while the breaker rejects every call.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open probe budget is spent.
	ErrTooManyRequests = errors.New("too many requests")
)

// State of a Breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Settings tunes a Breaker. Zero fields take defaults in New.
type Settings struct {
	// MaxRequests bounds probes in half-open, and is also the number of
	// consecutive probe successes that closes the breaker again.
	MaxRequests uint32
	// Interval resets the closed-state counts. Zero means one minute.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ReadyToTrip decides, after a closed-state failure, whether to open.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful classifies a request outcome. Errors it accepts count as
	// successes, e.g. business errors returned by a healthy remote.
	IsSuccessful func(err error) bool
	// OnStateChange observes transitions. It runs under the breaker lock.
	OnStateChange func(name string, from State, to State)
}

// Counts are the tallies of the current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) record(ok bool) {
	if ok {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// window is the span between two transitions or periodic resets. Outcomes
// are only credited to the window that admitted the request.
type window struct {
	seq    uint64
	state  State
	counts Counts
	ends   time.Time // zero while half-open
}

// Breaker is a circuit breaker safe for concurrent use.
type Breaker struct {
	name string
	cfg  Settings
	now  func() time.Time

	mu  sync.Mutex
	win window
}

// New returns a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval <= 0 {
		settings.Interval = time.Minute
	}
	if settings.Timeout <= 0 {
		settings.Timeout = time.Minute
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool { return err == nil }
	}

	b := &Breaker{name: name, cfg: settings, now: time.Now}
	b.win = window{state: StateClosed, ends: b.now().Add(settings.Interval)}
	return b
}

func (b *Breaker) Name() string { return b.name }

// State reports the state as of now, applying any due timeout.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.roll(b.now()).state
}

// Counts returns a snapshot of the current window's tallies.
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.win.counts
}

// Do runs req if the breaker accepts it. A ctx already done fails fast
// without touching the counts. A panic in req counts as a failure and is
// re-raised.
func (b *Breaker) Do(ctx context.Context, req func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seq, err := b.admit()
	if err != nil {
		return err
	}

	settled := false
	defer func() {
		if !settled {
			b.settle(seq, false)
		}
	}()

	err = req(ctx)
	settled = true
	b.settle(seq, b.cfg.IsSuccessful(err))
	return err
}

// Call is Do for requests that produce a value.
func Call[T any](ctx context.Context, b *Breaker, req func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := b.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = req(ctx)
		return err
	})
	return out, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.roll(b.now())
	switch {
	case w.state == StateOpen:
		return w.seq, ErrCircuitOpen
	case w.state == StateHalfOpen && w.counts.Requests >= b.cfg.MaxRequests:
		return w.seq, ErrTooManyRequests
	}
	w.counts.Requests++
	return w.seq, nil
}

func (b *Breaker) settle(seq uint64, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	w := b.roll(now)
	if w.seq != seq {
		return
	}

	switch w.state {
	case StateClosed:
		w.counts.record(ok)
		if !ok && b.cfg.ReadyToTrip(w.counts) {
			b.enter(StateOpen, now)
		}
	case StateHalfOpen:
		if !ok {
			b.enter(StateOpen, now)
			return
		}
		w.counts.record(true)
		if w.counts.ConsecutiveSuccesses >= b.cfg.MaxRequests {
			b.enter(StateClosed, now)
		}
	}
}

// roll advances expired windows. Callers hold mu.
func (b *Breaker) roll(now time.Time) *window {
	w := &b.win
	if w.ends.IsZero() || !now.After(w.ends) {
		return w
	}
	switch w.state {
	case StateClosed:
		b.reset(StateClosed, now)
	case StateOpen:
		b.enter(StateHalfOpen, now)
	}
	return &b.win
}

// enter transitions to state and notifies. Callers hold mu.
func (b *Breaker) enter(state State, now time.Time) {
	from := b.win.state
	if from == state {
		return
	}
	b.reset(state, now)
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, state)
	}
}

func (b *Breaker) reset(state State, now time.Time) {
	next := window{seq: b.win.seq + 1, state: state}
	switch state {
	case StateClosed:
		next.ends = now.Add(b.cfg.Interval)
	case StateOpen:
		next.ends = now.Add(b.cfg.Timeout)
	}
	b.win = next
}
