package idle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeed_SubscribeEmitUnsubscribe(t *testing.T) {
	f := NewFeed()
	var a, b []string
	unsubA := f.Subscribe(func(e string) { a = append(a, e) })
	f.Subscribe(func(e string) { b = append(b, e) })

	f.Emit("click")
	unsubA()
	unsubA()
	f.Emit("scroll")

	assert.Equal(t, []string{"click"}, a)
	assert.Equal(t, []string{"click", "scroll"}, b)
}

func TestFeed_UnsubscribeFromCallback(t *testing.T) {
	f := NewFeed()
	n := 0
	var unsub func()
	unsub = f.Subscribe(func(string) {
		n++
		unsub()
	})
	f.Emit("x")
	f.Emit("x")
	assert.Equal(t, 1, n)
}
