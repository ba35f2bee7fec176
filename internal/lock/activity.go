package lock

import (
	"fmt"
	"sync"

	"github.com/atinyakov/sessionlock/internal/clockstore"
	"github.com/jonboulle/clockwork"
)

// Signal is a user interaction or visibility change.
type Signal int

const (
	SignalPointerMove Signal = iota + 1
	SignalKeyPress
	SignalClick
	SignalTouchStart
	SignalHidden
	SignalVisible
)

var signalNames = map[Signal]string{
	SignalPointerMove: "pointermove",
	SignalKeyPress:    "keypress",
	SignalClick:       "click",
	SignalTouchStart:  "touchstart",
	SignalHidden:      "hidden",
	SignalVisible:     "visible",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// ParseSignal maps a signal name such as "keypress" to its Signal.
func ParseSignal(name string) (Signal, error) {
	for s, n := range signalNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown activity signal %q", name)
}

// ActivitySource delivers interaction signals of one execution context.
type ActivitySource interface {
	Subscribe(handler func(Signal)) (unsubscribe func())
}

// SignalBus is an in-process ActivitySource that hosts feed with Emit.
type SignalBus struct {
	mu       sync.Mutex
	handlers map[int]func(Signal)
	next     int
}

// NewSignalBus returns a bus without subscribers.
func NewSignalBus() *SignalBus {
	return &SignalBus{handlers: make(map[int]func(Signal))}
}

func (b *SignalBus) Subscribe(handler func(Signal)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Emit calls every subscriber with s on the caller's goroutine.
func (b *SignalBus) Emit(s Signal) {
	b.mu.Lock()
	hs := make([]func(Signal), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(s)
	}
}

// ActivityTracker writes the last activity time on interaction signals.
// Writes are suppressed while the owning controller is sticky-locked, so
// stray events behind the lock screen cannot age out a forced lock.
type ActivityTracker struct {
	session    *clockstore.Session
	clock      clockwork.Clock
	suppressed func() bool
	onVisible  func()

	mu    sync.Mutex
	unsub func()
}

func newActivityTracker(session *clockstore.Session, clock clockwork.Clock, suppressed func() bool, onVisible func()) *ActivityTracker {
	return &ActivityTracker{
		session:    session,
		clock:      clock,
		suppressed: suppressed,
		onVisible:  onVisible,
	}
}

// Record stores "now" as the last activity unless suppressed. It reports
// whether a write happened.
func (t *ActivityTracker) Record() bool {
	if t.suppressed() {
		return false
	}
	t.session.SetLastActiveAt(t.clock.Now().UnixMilli())
	return true
}

func (t *ActivityTracker) handle(s Signal) {
	if s == SignalVisible {
		// becoming visible re-checks idle time instead of counting as activity
		t.onVisible()
		return
	}
	t.Record()
}

func (t *ActivityTracker) start(src ActivitySource) {
	if src == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsub == nil {
		t.unsub = src.Subscribe(t.handle)
	}
}

func (t *ActivityTracker) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
}
