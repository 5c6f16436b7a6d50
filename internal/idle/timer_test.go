package idle

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/clockx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	idle     int
	warnings []int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnIdle: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.idle++
		},
		OnWarning: func(s int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.warnings = append(r.warnings, s)
		},
	}
}

func (r *recorder) idles() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idle
}

func (r *recorder) warned() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.warnings...)
}

func newTimer(t *testing.T, cfg Config, src ActivitySource) (*Timer, *clockx.Fake, *recorder) {
	t.Helper()
	clk := clockx.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	rec := &recorder{}
	tm := New(cfg, src, rec.callbacks(), WithClock(clk))
	t.Cleanup(tm.Stop)
	return tm, clk, rec
}

func TestTimer_WarningThenIdleOnce(t *testing.T) {
	tm, clk, rec := newTimer(t, Config{Timeout: time.Minute, WarningSeconds: 30, EnableWarning: true}, nil)
	tm.Start()
	assert.Equal(t, 60, tm.RemainingSeconds())

	clk.Advance(29 * time.Second)
	assert.Empty(t, rec.warned())

	clk.Advance(time.Second)
	assert.Equal(t, []int{30}, rec.warned())
	assert.Zero(t, rec.idles())

	clk.Advance(30 * time.Second)
	assert.Equal(t, 1, rec.idles())
	assert.False(t, tm.Running(), "idle stops the timer")

	clk.Advance(10 * time.Minute)
	assert.Equal(t, 1, rec.idles(), "idle fires exactly once")
	assert.Equal(t, []int{30}, rec.warned())
}

func TestTimer_WarningDisabled(t *testing.T) {
	tm, clk, rec := newTimer(t, Config{Timeout: time.Minute, WarningSeconds: 30}, nil)
	tm.Start()
	clk.Advance(time.Minute)
	assert.Empty(t, rec.warned())
	assert.Equal(t, 1, rec.idles())
}

func TestTimer_ActivityRestartsWindow(t *testing.T) {
	feed := NewFeed()
	tm, clk, rec := newTimer(t, Config{Timeout: time.Minute}, feed)
	tm.Start()

	clk.Advance(50 * time.Second)
	feed.Emit("keypress")
	assert.Equal(t, 60, tm.RemainingSeconds())

	clk.Advance(50 * time.Second)
	assert.Zero(t, rec.idles())

	feed.Emit("window-resize")
	clk.Advance(10 * time.Second)
	assert.Equal(t, 1, rec.idles(), "unwatched events do not count")
}

func TestTimer_Debounce(t *testing.T) {
	tm, clk, _ := newTimer(t, Config{Timeout: time.Minute}, nil)
	tm.Start()

	clk.Advance(10 * time.Second)
	tm.Activity("click")
	assert.Equal(t, 60, tm.RemainingSeconds())

	// second tick 50ms later collapses into the first
	clk.Advance(50 * time.Millisecond)
	tm.Activity("click")
	clk.Advance(1950 * time.Millisecond)
	assert.Equal(t, 58, tm.RemainingSeconds())

	tm.Activity("click")
	assert.Equal(t, 60, tm.RemainingSeconds())
}

func TestTimer_CustomEvents(t *testing.T) {
	tm, clk, _ := newTimer(t, Config{Timeout: time.Minute, Events: []string{"tab-focus"}}, nil)
	tm.Start()
	clk.Advance(30 * time.Second)

	tm.Activity("keypress")
	assert.Equal(t, 30, tm.RemainingSeconds())
	tm.Activity("tab-focus")
	assert.Equal(t, 60, tm.RemainingSeconds())
}

func TestTimer_PauseResumeKeepsElapsed(t *testing.T) {
	tm, clk, rec := newTimer(t, Config{Timeout: time.Minute}, nil)
	tm.Start()

	clk.Advance(40 * time.Second)
	tm.Pause()
	assert.True(t, tm.Paused())
	assert.Equal(t, math.MaxInt32, tm.RemainingSeconds())

	clk.Advance(time.Hour)
	assert.Zero(t, rec.idles(), "paused timer never fires")

	tm.Activity("keypress")
	tm.Resume()
	assert.Equal(t, 20, tm.RemainingSeconds(), "activity while paused is ignored")

	clk.Advance(20 * time.Second)
	assert.Equal(t, 1, rec.idles())
}

func TestTimer_ResetWhilePaused(t *testing.T) {
	tm, clk, _ := newTimer(t, Config{Timeout: time.Minute}, nil)
	tm.Start()
	clk.Advance(40 * time.Second)
	tm.Pause()
	tm.Reset()
	tm.Resume()
	assert.Equal(t, 60, tm.RemainingSeconds())
}

func TestTimer_WarningAfterResumeInsideWindow(t *testing.T) {
	tm, clk, rec := newTimer(t, Config{Timeout: time.Minute, WarningSeconds: 30, EnableWarning: true}, nil)
	tm.Start()

	clk.Advance(35 * time.Second)
	assert.Equal(t, []int{30}, rec.warned())
	tm.Pause()
	tm.Resume()
	clk.Advance(25 * time.Second)
	assert.Equal(t, []int{30}, rec.warned(), "a window warns once")
	assert.Equal(t, 1, rec.idles())
}

func TestTimer_ForceIdle(t *testing.T) {
	tm, clk, rec := newTimer(t, Config{Timeout: time.Minute}, nil)
	tm.Start()
	tm.ForceIdle()
	assert.Equal(t, 1, rec.idles())
	assert.False(t, tm.Running())

	clk.Advance(time.Hour)
	assert.Equal(t, 1, rec.idles(), "scheduled alarm was cancelled")

	tm.ForceIdle()
	assert.Equal(t, 2, rec.idles(), "force works on a stopped timer")
}

func TestTimer_StopAndRestart(t *testing.T) {
	feed := NewFeed()
	tm, clk, rec := newTimer(t, Config{Timeout: time.Minute}, feed)
	tm.Start()
	tm.Start()
	tm.Stop()
	assert.Zero(t, tm.RemainingSeconds())

	clk.Advance(time.Hour)
	assert.Zero(t, rec.idles())

	tm.Start()
	clk.Advance(time.Minute)
	assert.Equal(t, 1, rec.idles())
}

func TestTimer_ZeroTimeoutNeverArms(t *testing.T) {
	tm, clk, rec := newTimer(t, Config{}, nil)
	tm.Start()
	assert.False(t, tm.Running())
	clk.Advance(time.Hour)
	assert.Zero(t, rec.idles())
}

func TestTimer_UpdateConfig(t *testing.T) {
	t.Run("same timeout keeps the countdown", func(t *testing.T) {
		tm, clk, rec := newTimer(t, Config{Timeout: time.Minute}, nil)
		tm.Start()
		clk.Advance(40 * time.Second)

		tm.UpdateConfig(Config{Timeout: time.Minute, WarningSeconds: 10, EnableWarning: true})
		assert.Equal(t, 20, tm.RemainingSeconds())

		clk.Advance(10 * time.Second)
		assert.Equal(t, []int{10}, rec.warned())
		clk.Advance(10 * time.Second)
		assert.Equal(t, 1, rec.idles())
	})

	t.Run("new timeout restarts the window", func(t *testing.T) {
		tm, clk, _ := newTimer(t, Config{Timeout: time.Minute}, nil)
		tm.Start()
		clk.Advance(40 * time.Second)

		tm.UpdateConfig(Config{Timeout: 5 * time.Minute})
		assert.Equal(t, 300, tm.RemainingSeconds())
		assert.True(t, tm.Running())
	})

	t.Run("zero timeout stops", func(t *testing.T) {
		tm, _, _ := newTimer(t, Config{Timeout: time.Minute}, nil)
		tm.Start()
		tm.UpdateConfig(Config{})
		assert.False(t, tm.Running())
	})

	t.Run("stopped timer stays stopped", func(t *testing.T) {
		tm, _, _ := newTimer(t, Config{Timeout: time.Minute}, nil)
		tm.UpdateConfig(Config{Timeout: 2 * time.Minute})
		assert.False(t, tm.Running())
		assert.Equal(t, 2*time.Minute, tm.Config().Timeout)
	})
}

func TestTimer_UnsubscribesOnIdle(t *testing.T) {
	feed := NewFeed()
	tm, clk, _ := newTimer(t, Config{Timeout: time.Second}, feed)
	tm.Start()
	require.Len(t, feed.subs, 1)

	clk.Advance(time.Second)
	assert.Empty(t, feed.subs)
}

func TestTimer_RealClock(t *testing.T) {
	done := make(chan struct{})
	tm := New(Config{Timeout: 20 * time.Millisecond, Debounce: -1}, nil, Callbacks{OnIdle: func() { close(done) }})
	tm.Start()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle never fired")
	}
}
