// Package idle detects user inactivity. A Timer watches an ActivitySource
// and calls back when no activity has been seen for a configured timeout,
// optionally warning a fixed number of seconds before.
package idle

import (
	"math"
	"sync"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/clockx"
)

// DefaultDebounce collapses activity bursts closer than this to one reset.
const DefaultDebounce = 100 * time.Millisecond

// DefaultEvents are the activity names watched when Config.Events is empty.
var DefaultEvents = []string{"mousedown", "mousemove", "keypress", "scroll", "touchstart", "click"}

type Config struct {
	Timeout        time.Duration
	WarningSeconds int
	EnableWarning  bool
	// Events lists the activity names that count. Empty means DefaultEvents.
	Events []string
	// Debounce of 0 means DefaultDebounce; a negative value disables it.
	Debounce time.Duration
}

func (c Config) warning() time.Duration {
	if !c.EnableWarning || c.WarningSeconds <= 0 {
		return 0
	}
	w := time.Duration(c.WarningSeconds) * time.Second
	if w >= c.Timeout {
		return 0
	}
	return w
}

func (c Config) debounce() time.Duration {
	switch {
	case c.Debounce == 0:
		return DefaultDebounce
	case c.Debounce < 0:
		return 0
	default:
		return c.Debounce
	}
}

// Callbacks are invoked without the timer's lock held.
type Callbacks struct {
	OnIdle func()
	// OnWarning receives the whole seconds left before OnIdle.
	OnWarning func(remainingSeconds int)
}

type Option func(*Timer)

// WithClock replaces the system clock.
func WithClock(c clockx.Clock) Option {
	return func(t *Timer) { t.clock = c }
}

// Timer is safe for concurrent use.
type Timer struct {
	mu     sync.Mutex
	clock  clockx.Clock
	src    ActivitySource
	cb     Callbacks
	cfg    Config
	events map[string]struct{}

	running bool
	paused  bool
	warned  bool
	unsub   func()

	deadline  time.Time
	remaining time.Duration
	lastReset time.Time

	idleT clockx.Timer
	warnT clockx.Timer
	// gen invalidates alarms scheduled before the latest re-arm
	gen uint64
}

// New builds a stopped timer. src may be nil when activity is reported only
// through Activity.
func New(cfg Config, src ActivitySource, cb Callbacks, opts ...Option) *Timer {
	t := &Timer{clock: clockx.Real(), src: src, cb: cb}
	for _, o := range opts {
		o(t)
	}
	t.setConfig(cfg)
	return t
}

func (t *Timer) setConfig(cfg Config) {
	t.cfg = cfg
	names := cfg.Events
	if len(names) == 0 {
		names = DefaultEvents
	}
	t.events = make(map[string]struct{}, len(names))
	for _, n := range names {
		t.events[n] = struct{}{}
	}
}

// Start arms the timer for a full timeout. It does nothing if the timer is
// already running or the timeout is not positive.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running || t.cfg.Timeout <= 0 {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.paused = false
	t.warned = false
	t.lastReset = t.clock.Now()
	t.armLocked(t.cfg.Timeout)
	needSub := t.src != nil && t.unsub == nil
	t.mu.Unlock()

	if needSub {
		unsub := t.src.Subscribe(t.Activity)
		t.mu.Lock()
		if t.running && t.unsub == nil {
			t.unsub = unsub
			unsub = nil
		}
		t.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	}
}

// Stop disarms the timer and detaches from the activity source.
func (t *Timer) Stop() {
	t.mu.Lock()
	unsub := t.stopLocked()
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (t *Timer) stopLocked() func() {
	t.running = false
	t.paused = false
	t.cancelLocked()
	t.gen++
	unsub := t.unsub
	t.unsub = nil
	return unsub
}

// Pause freezes the countdown. The time left is kept for Resume.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.paused {
		return
	}
	t.remaining = t.deadline.Sub(t.clock.Now())
	if t.remaining < 0 {
		t.remaining = 0
	}
	t.paused = true
	t.cancelLocked()
	t.gen++
}

// Resume continues a paused countdown from where it stopped.
func (t *Timer) Resume() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || !t.paused {
		return
	}
	t.paused = false
	t.armLocked(t.remaining)
}

// Reset restarts the full timeout window. On a paused timer it resets the
// saved remainder instead.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetLocked()
}

func (t *Timer) resetLocked() {
	if !t.running {
		return
	}
	t.warned = false
	t.lastReset = t.clock.Now()
	if t.paused {
		t.remaining = t.cfg.Timeout
		return
	}
	t.armLocked(t.cfg.Timeout)
}

// Activity reports an activity tick. Unwatched events and repeats within the
// debounce window are ignored.
func (t *Timer) Activity(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running || t.paused {
		return
	}
	if _, ok := t.events[event]; !ok {
		return
	}
	if d := t.cfg.debounce(); d > 0 && t.clock.Now().Sub(t.lastReset) < d {
		return
	}
	t.resetLocked()
}

// ForceIdle fires OnIdle now and stops the timer.
func (t *Timer) ForceIdle() {
	t.mu.Lock()
	unsub := t.stopLocked()
	cb := t.cb.OnIdle
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cb != nil {
		cb()
	}
}

// RemainingSeconds returns the whole seconds until OnIdle. A paused timer
// reports math.MaxInt32; a stopped one reports 0.
func (t *Timer) RemainingSeconds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case !t.running:
		return 0
	case t.paused:
		return math.MaxInt32
	}
	return ceilSeconds(t.deadline.Sub(t.clock.Now()))
}

// UpdateConfig applies cfg. A running timer is re-armed for a full window
// only when the timeout changed; otherwise just the warning is rescheduled
// against the current deadline.
func (t *Timer) UpdateConfig(cfg Config) {
	t.mu.Lock()
	old := t.cfg
	t.setConfig(cfg)

	var unsub func()
	switch {
	case !t.running:
	case cfg.Timeout <= 0:
		unsub = t.stopLocked()
	case cfg.Timeout != old.Timeout:
		t.warned = false
		if t.paused {
			t.remaining = cfg.Timeout
		} else {
			t.armLocked(cfg.Timeout)
		}
	case !t.paused && cfg.warning() != old.warning():
		t.armLocked(t.deadline.Sub(t.clock.Now()))
	}
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *Timer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Config returns the active configuration.
func (t *Timer) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

func (t *Timer) cancelLocked() {
	if t.idleT != nil {
		t.idleT.Stop()
		t.idleT = nil
	}
	if t.warnT != nil {
		t.warnT.Stop()
		t.warnT = nil
	}
}

// armLocked schedules the idle alarm d from now and, unless it already
// fired in this window, the warning alarm.
func (t *Timer) armLocked(d time.Duration) {
	t.cancelLocked()
	t.gen++
	gen := t.gen

	t.deadline = t.clock.Now().Add(d)
	t.idleT = t.clock.AfterFunc(d, func() { t.fireIdle(gen) })

	if w := t.cfg.warning(); w > 0 && !t.warned {
		at := d - w
		if at < 0 {
			at = 0
		}
		t.warnT = t.clock.AfterFunc(at, func() { t.fireWarning(gen) })
	}
}

func (t *Timer) fireIdle(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running || t.paused {
		t.mu.Unlock()
		return
	}
	unsub := t.stopLocked()
	cb := t.cb.OnIdle
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if cb != nil {
		cb()
	}
}

func (t *Timer) fireWarning(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.running || t.paused || t.warned {
		t.mu.Unlock()
		return
	}
	t.warned = true
	t.warnT = nil
	left := ceilSeconds(t.deadline.Sub(t.clock.Now()))
	cb := t.cb.OnWarning
	t.mu.Unlock()

	if cb != nil {
		cb(left)
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
