package clockx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestFake_FiresInOrder(t *testing.T) {
	c := NewFake(start)
	var got []string
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })
	c.AfterFunc(time.Second, func() { got = append(got, "a") })
	c.AfterFunc(5*time.Second, func() { got = append(got, "c") })

	c.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, start.Add(3*time.Second), c.Now())
	assert.Equal(t, 1, c.Pending())

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFake_CallbackSeesDeadlineTime(t *testing.T) {
	c := NewFake(start)
	var at time.Time
	c.AfterFunc(time.Minute, func() { at = c.Now() })
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Minute), at)
}

func TestFake_Stop(t *testing.T) {
	c := NewFake(start)
	var fired atomic.Bool
	tm := c.AfterFunc(time.Second, func() { fired.Store(true) })

	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired.Load())
}

func TestFake_RescheduleFromCallback(t *testing.T) {
	c := NewFake(start)
	n := 0
	var tick func()
	tick = func() {
		n++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(5 * time.Second)
	assert.Equal(t, 5, n)
}

func TestReal_AfterFunc(t *testing.T) {
	done := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("real timer did not fire")
	}
	assert.False(t, Real().Now().IsZero())
}
