package idle

import "sync"

// ActivitySource delivers discrete activity ticks named by event, such as
// "keypress" or "mousemove". The host application implements it on top of
// its own input system.
type ActivitySource interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(event string)) (unsubscribe func())
}

// Feed is an in-process ActivitySource fed by Emit.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]func(string)
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(string))}
}

func (f *Feed) Subscribe(fn func(event string)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Emit delivers event to every subscriber. Subscribers run without the
// feed's lock held, so they may unsubscribe from inside the callback.
func (f *Feed) Emit(event string) {
	f.mu.Lock()
	subs := make([]func(string), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
}
