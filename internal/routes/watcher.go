package routes

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultDebounce collapses bursts of input into a single check.
const DefaultDebounce = 600 * time.Millisecond

// State is the availability indicator shown while a user types a route name.
type State string

const (
	StateIdle      State = "idle"
	StateChecking  State = "checking"
	StateAvailable State = "available"
	StateTaken     State = "taken"
	StateInvalid   State = "invalid"
	StateError     State = "error"
)

// Event is a state transition for a given input value.
type Event struct {
	Value string
	State State
	Err   error
}

// Checker performs one availability check. It should honour ctx cancellation
// but the watcher does not rely on it.
type Checker func(ctx context.Context, candidate string) (Availability, error)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Check    Checker
	Debounce time.Duration
	// OnChange receives every transition in order. It runs with the watcher
	// locked and must not call back into the watcher.
	OnChange func(Event)
}

// Watcher drives the idle -> checking -> result state machine for a single
// input field. The latest input always wins: results of superseded checks
// are dropped even when they resolve after newer ones.
type Watcher struct {
	mu         sync.Mutex
	parent     context.Context
	check      Checker
	debounce   time.Duration
	onChange   func(Event)
	generation uint64
	timer      *time.Timer
	cancel     context.CancelFunc
	current    Event
	closed     bool
}

// NewWatcher constructs a Watcher whose checks are bound to ctx.
func NewWatcher(ctx context.Context, opts WatcherOptions) (*Watcher, error) {
	if opts.Check == nil {
		return nil, eris.New("availability checker is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		parent:   ctx,
		check:    opts.Check,
		debounce: debounce,
		onChange: opts.OnChange,
		current:  Event{State: StateIdle},
	}, nil
}

// Update records a new input value. Empty input resets to idle at once;
// anything else schedules a check after the debounce window.
func (w *Watcher) Update(value string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.generation++
	gen := w.generation
	w.stopLocked()

	if w.current.State != StateIdle || w.current.Value != value {
		w.setLocked(Event{Value: value, State: StateIdle})
	}

	if value == "" {
		return
	}

	w.timer = time.AfterFunc(w.debounce, func() {
		w.run(gen, value)
	})
}

// State returns the most recent event.
func (w *Watcher) State() Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close cancels pending and in-flight checks. Later updates are ignored.
func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	w.generation++
	w.stopLocked()
}

func (w *Watcher) run(gen uint64, value string) {
	w.mu.Lock()
	if w.closed || gen != w.generation {
		w.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(w.parent)
	w.cancel = cancel
	w.setLocked(Event{Value: value, State: StateChecking})
	w.mu.Unlock()

	status, err := w.check(ctx, value)

	w.mu.Lock()
	defer w.mu.Unlock()
	cancel()

	if w.closed || gen != w.generation {
		return
	}
	w.cancel = nil

	if err != nil {
		w.setLocked(Event{Value: value, State: StateError, Err: err})
		return
	}
	w.setLocked(Event{Value: value, State: stateFor(status)})
}

func (w *Watcher) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
}

func (w *Watcher) setLocked(event Event) {
	w.current = event
	if w.onChange != nil {
		w.onChange(event)
	}
}

func stateFor(status Availability) State {
	switch status {
	case Available:
		return StateAvailable
	case Taken:
		return StateTaken
	default:
		return StateInvalid
	}
}
