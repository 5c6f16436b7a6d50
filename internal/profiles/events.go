package profiles

import "slices"

// EventType names a lifecycle transition.
type EventType string

const (
	EventCreated  EventType = "created"
	EventSwitched EventType = "switched"
	EventLocked   EventType = "locked"
	EventDeleted  EventType = "deleted"
	EventUpdated  EventType = "updated"
	// EventGuestEnded is sent instead of EventLocked when a guest session
	// ends and its data is erased.
	EventGuestEnded EventType = "guest_ended"
)

// Event is delivered to subscribers after the transition is committed and
// the manager lock is released, so handlers may call back into the manager.
type Event struct {
	Type            EventType
	ProfileID       string
	IsGuest         bool
	AutoLockMinutes int
}

// Subscribe registers fn for every future event and returns a function that
// removes it.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.subsMu.Lock()
		delete(m.subs, id)
		m.subsMu.Unlock()
	}
}

func (m *Manager) emit(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	m.subsMu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	fns := make([]func(Event), 0, len(ids))
	// Deliver in subscription order.
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.subsMu.Unlock()

	for _, ev := range evs {
		for _, fn := range fns {
			fn(ev)
		}
	}
}
