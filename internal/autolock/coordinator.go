// Package autolock locks the active profile after a period of inactivity.
//
// A Coordinator owns one idle.Timer. The timer's idle alarm calls the
// Locker; its warning alarm is forwarded to a host-provided hook. Attached
// to a profiles.Manager, the coordinator re-arms itself on every switch with
// the new profile's own timeout and stands down when the profile locks.
package autolock

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/clockx"
	"github.com/dmitrijs2005/profilekeeper/internal/idle"
	"github.com/dmitrijs2005/profilekeeper/internal/logging"
	"github.com/dmitrijs2005/profilekeeper/internal/profiles"
)

const (
	TriggerIdle   = "idle"
	TriggerManual = "manual"
)

// Locker locks whatever profile is active. *profiles.Manager implements it.
type Locker interface {
	LockProfile(ctx context.Context) error
}

// EventSource delivers profile lifecycle events. *profiles.Manager
// implements it.
type EventSource interface {
	Subscribe(fn func(profiles.Event)) (unsubscribe func())
}

// Recorder counts locks by trigger. *metrics.Metrics implements it.
type Recorder interface {
	AutoLock(trigger string)
}

type Config struct {
	Enabled        bool
	WarningSeconds int
	EnableWarning  bool
	// Events and Debounce are passed to the idle timer as is.
	Events   []string
	Debounce time.Duration
	// ExcludeGuests keeps guest sessions from ever auto-locking.
	ExcludeGuests bool
}

// DefaultConfig enables auto-lock with a 30 second warning.
func DefaultConfig() Config {
	return Config{Enabled: true, WarningSeconds: 30, EnableWarning: true, ExcludeGuests: true}
}

// Hooks are called without the coordinator's lock held. Any may be nil.
type Hooks struct {
	// OnLock runs after a successful lock of profileID.
	OnLock func(profileID, trigger string)
	// OnWarning runs once per idle window, remainingSeconds before the lock.
	OnWarning func(profileID string, remainingSeconds int)
	// OnError receives lock failures from the idle path, where there is no
	// caller to return them to.
	OnError func(err error)
}

type Option func(*Coordinator)

func WithClock(c clockx.Clock) Option { return func(co *Coordinator) { co.clock = c } }

func WithRecorder(r Recorder) Option { return func(co *Coordinator) { co.rec = r } }

func WithLogger(l logging.Logger) Option { return func(co *Coordinator) { co.log = l } }

// WithPanicHandler runs fn with the recovered value when the idle lock
// panics. The panic continues afterwards; the idle path runs on a timer
// goroutine no caller can guard.
func WithPanicHandler(fn func(recovered any)) Option {
	return func(co *Coordinator) { co.onPanic = fn }
}

type nopRecorder struct{}

func (nopRecorder) AutoLock(string) {}

// Coordinator is safe for concurrent use. It never holds its own lock while
// calling the Locker, so lock events may re-enter it.
type Coordinator struct {
	mu       sync.Mutex
	cfg      Config
	locker   Locker
	hooks    Hooks
	timer    *idle.Timer
	clock    clockx.Clock
	rec      Recorder
	log      logging.Logger
	excluded map[string]struct{}
	onPanic  func(recovered any)

	profileID string
	timeout   time.Duration
	detach    func()
}

// New returns a disarmed coordinator. src supplies activity ticks and may
// be nil when the host calls Activity directly.
func New(locker Locker, src idle.ActivitySource, cfg Config, hooks Hooks, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		locker:   locker,
		hooks:    hooks,
		clock:    clockx.Real(),
		rec:      nopRecorder{},
		log:      logging.Nop(),
		excluded: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.timer = idle.New(c.timerConfig(0), src, idle.Callbacks{
		OnIdle:    c.onIdle,
		OnWarning: c.onWarning,
	}, idle.WithClock(c.clock))
	return c
}

func (c *Coordinator) timerConfig(timeout time.Duration) idle.Config {
	return idle.Config{
		Timeout:        timeout,
		WarningSeconds: c.cfg.WarningSeconds,
		EnableWarning:  c.cfg.EnableWarning,
		Events:         c.cfg.Events,
		Debounce:       c.cfg.Debounce,
	}
}

// Start arms the timer for profileID. It refuses, and returns false, when
// auto-lock is disabled, the profile is excluded or timeout is not positive.
func (c *Coordinator) Start(profileID string, timeout time.Duration) bool {
	c.mu.Lock()
	_, excluded := c.excluded[profileID]
	if !c.cfg.Enabled || excluded || timeout <= 0 {
		c.profileID = ""
		c.timeout = 0
		c.mu.Unlock()
		c.timer.Stop()
		return false
	}
	c.profileID = profileID
	c.timeout = timeout
	tc := c.timerConfig(timeout)
	c.mu.Unlock()

	c.timer.Stop()
	c.timer.UpdateConfig(tc)
	c.timer.Start()
	return true
}

// Stop disarms the timer.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.profileID = ""
	c.timeout = 0
	c.mu.Unlock()
	c.timer.Stop()
}

// ForceLock locks now, bypassing the timer.
func (c *Coordinator) ForceLock(ctx context.Context) error {
	c.mu.Lock()
	id := c.profileID
	c.mu.Unlock()

	c.timer.Stop()
	return c.lock(ctx, id, TriggerManual)
}

func (c *Coordinator) onIdle() {
	if c.onPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				c.onPanic(r)
				panic(r)
			}
		}()
	}

	c.mu.Lock()
	id := c.profileID
	c.mu.Unlock()
	if id == "" {
		return
	}

	ctx := context.Background()
	if err := c.lock(ctx, id, TriggerIdle); err != nil {
		c.log.Error(ctx, "auto-lock failed", "profile_id", id, "error", err)
		if c.hooks.OnError != nil {
			c.hooks.OnError(err)
		}
	}
}

func (c *Coordinator) lock(ctx context.Context, id, trigger string) error {
	if err := c.locker.LockProfile(ctx); err != nil {
		return err
	}
	c.rec.AutoLock(trigger)
	c.log.Info(ctx, "profile auto-locked", "profile_id", id, "trigger", trigger)

	c.mu.Lock()
	if c.profileID == id {
		c.profileID = ""
		c.timeout = 0
	}
	c.mu.Unlock()

	if c.hooks.OnLock != nil {
		c.hooks.OnLock(id, trigger)
	}
	return nil
}

func (c *Coordinator) onWarning(remaining int) {
	c.mu.Lock()
	id := c.profileID
	c.mu.Unlock()
	if id != "" && c.hooks.OnWarning != nil {
		c.hooks.OnWarning(id, remaining)
	}
}

// Activity forwards an activity tick to the timer.
func (c *Coordinator) Activity(event string) { c.timer.Activity(event) }

// Pause and Resume freeze and continue the countdown, for example while a
// modal dialog owns the screen.
func (c *Coordinator) Pause() { c.timer.Pause() }
func (c *Coordinator) Resume() { c.timer.Resume() }

// RemainingSeconds reports the time left before the idle lock.
func (c *Coordinator) RemainingSeconds() int { return c.timer.RemainingSeconds() }

// Armed reports whether the timer is running and for which profile.
func (c *Coordinator) Armed() (profileID string, ok bool) {
	c.mu.Lock()
	id := c.profileID
	c.mu.Unlock()
	return id, id != "" && c.timer.Running()
}

// UpdateConfig applies cfg. A running countdown keeps its progress unless
// the effective timeout changes; disabling auto-lock disarms it.
func (c *Coordinator) UpdateConfig(cfg Config) {
	c.mu.Lock()
	c.cfg = cfg
	tc := c.timerConfig(c.timeout)
	enabled := cfg.Enabled
	if !enabled {
		c.profileID = ""
		c.timeout = 0
	}
	c.mu.Unlock()

	if !enabled {
		c.timer.Stop()
		return
	}
	c.timer.UpdateConfig(tc)
}

// SetTimeout changes the armed profile's timeout, as after a settings
// update. A timeout of zero disarms the timer.
func (c *Coordinator) SetTimeout(profileID string, timeout time.Duration) {
	c.mu.Lock()
	if c.profileID != profileID || profileID == "" {
		c.mu.Unlock()
		return
	}
	if timeout <= 0 {
		c.profileID = ""
		c.timeout = 0
		c.mu.Unlock()
		c.timer.Stop()
		return
	}
	c.timeout = timeout
	tc := c.timerConfig(timeout)
	c.mu.Unlock()
	c.timer.UpdateConfig(tc)
}

// Exclude keeps profileID from being armed, disarming it if it is.
func (c *Coordinator) Exclude(profileID string) {
	c.mu.Lock()
	c.excluded[profileID] = struct{}{}
	armed := c.profileID == profileID
	if armed {
		c.profileID = ""
		c.timeout = 0
	}
	c.mu.Unlock()
	if armed {
		c.timer.Stop()
	}
}

func (c *Coordinator) Include(profileID string) {
	c.mu.Lock()
	delete(c.excluded, profileID)
	c.mu.Unlock()
}

func (c *Coordinator) Excluded(profileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.excluded[profileID]
	return ok
}

// Attach follows src's lifecycle events until Detach.
func (c *Coordinator) Attach(src EventSource) {
	unsub := src.Subscribe(c.handle)
	c.mu.Lock()
	prev := c.detach
	c.detach = unsub
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// Detach stops following lifecycle events and disarms the timer.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	unsub := c.detach
	c.detach = nil
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	c.Stop()
}

func (c *Coordinator) handle(ev profiles.Event) {
	switch ev.Type {
	case profiles.EventCreated:
		c.mu.Lock()
		exclude := ev.IsGuest && c.cfg.ExcludeGuests
		c.mu.Unlock()
		if exclude {
			c.Exclude(ev.ProfileID)
		}
	case profiles.EventSwitched:
		c.Start(ev.ProfileID, minutes(ev.AutoLockMinutes))
	case profiles.EventUpdated:
		c.SetTimeout(ev.ProfileID, minutes(ev.AutoLockMinutes))
	case profiles.EventLocked:
		c.stopFor(ev.ProfileID)
	case profiles.EventGuestEnded, profiles.EventDeleted:
		c.stopFor(ev.ProfileID)
		c.Include(ev.ProfileID)
	}
}

func (c *Coordinator) stopFor(profileID string) {
	c.mu.Lock()
	armed := c.profileID == profileID
	if armed {
		c.profileID = ""
		c.timeout = 0
	}
	c.mu.Unlock()
	if armed {
		c.timer.Stop()
	}
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
