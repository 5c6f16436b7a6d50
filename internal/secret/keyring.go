package secret

import "sync"

// Destroyer is anything holding secrets that can be wiped: keys, or a store
// with decrypted values cached.
type Destroyer interface {
	Destroy()
}

// Keyring tracks every live secret owned by a component so that an
// emergency path can wipe them all without going through that component's
// own locks.
type Keyring struct {
	mu   sync.Mutex
	live map[Destroyer]struct{}
}

func NewKeyring() *Keyring {
	return &Keyring{live: make(map[Destroyer]struct{})}
}

// Add registers secrets. Nil values are ignored.
func (r *Keyring) Add(ds ...Destroyer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range ds {
		if !isNil(d) {
			r.live[d] = struct{}{}
		}
	}
}

// Release destroys each secret and forgets it.
func (r *Keyring) Release(ds ...Destroyer) {
	for _, d := range ds {
		if isNil(d) {
			continue
		}
		d.Destroy()
		r.mu.Lock()
		delete(r.live, d)
		r.mu.Unlock()
	}
}

// DestroyAll wipes every registered secret and returns how many there were.
func (r *Keyring) DestroyAll() int {
	r.mu.Lock()
	live := r.live
	r.live = make(map[Destroyer]struct{})
	r.mu.Unlock()

	for d := range live {
		d.Destroy()
	}
	return len(live)
}

// Len reports the number of registered secrets.
func (r *Keyring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func isNil(d Destroyer) bool {
	if d == nil {
		return true
	}
	k, ok := d.(*Key)
	return ok && k == nil
}
