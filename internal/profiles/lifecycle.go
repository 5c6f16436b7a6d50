package profiles

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
	"github.com/dmitrijs2005/profilekeeper/internal/securestore"
)

const guestPasswordSize = 32

// CreateProfile registers a new profile protected by password and returns
// its id. The new profile is not unlocked.
func (m *Manager) CreateProfile(ctx context.Context, name string, password []byte, opts models.ProfileOptions) (string, error) {
	var id string
	err := m.run("create", func() ([]Event, error) {
		rec, err := m.createRecord(ctx, name, password, opts, false)
		if err != nil {
			return nil, err
		}
		id = rec.ID
		return []Event{{Type: EventCreated, ProfileID: rec.ID, AutoLockMinutes: rec.AutoLockMinutes}}, nil
	})
	return id, err
}

// createRecord makes the container and persists a new record. For regular
// profiles the store is closed again; for guests it is returned open.
func (m *Manager) createRecord(ctx context.Context, name string, password []byte, opts models.ProfileOptions, guest bool) (*models.ProfileRecord, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("%w: password is empty", common.ErrInvalidArgument)
	}

	o := opts.WithDefaults(m.cfg.defaults())
	if err := o.KDF.Validate(); err != nil {
		return nil, err
	}
	if *o.AutoLockMinutes < 0 {
		return nil, fmt.Errorf("%w: auto-lock minutes must not be negative", common.ErrInvalidArgument)
	}
	storeOpts, err := m.storeOptions(o.Suite, false)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	rec := &models.ProfileRecord{
		ID:              m.newID(),
		Name:            name,
		IsGuest:         guest,
		CreatedAt:       now,
		AutoLockMinutes: *o.AutoLockMinutes,
		Theme:           o.Theme,
		Language:        o.Language,
		Salt:            cryptox.GenerateSalt(),
		KDF:             *o.KDF,
		Suite:           storeOpts.Cipher.Suite(),
	}
	if _, exists := m.current().Get(rec.ID); exists || m.current().IsQuarantined(rec.ID) {
		return nil, fmt.Errorf("%w: profile id %q already in use", common.ErrInvalidArgument, rec.ID)
	}

	key, err := m.deriveKey(ctx, password, rec.Salt, rec.KDF)
	if err != nil {
		return nil, err
	}
	store, err := securestore.Create(ctx, m.repo, rec.ID, key, storeOpts)
	if err != nil {
		key.Destroy()
		return nil, err
	}

	if guest {
		rec.LastLoginAt = now
	}
	next := m.current().Clone()
	next.Put(rec.Clone())
	if guest {
		// Cannot fail: the record was just added.
		_ = next.SetActive(rec.ID)
	}
	if err := m.persist(ctx, next); err != nil {
		m.discardStore(ctx, store)
		key.Destroy()
		return nil, err
	}

	if guest {
		m.ring.Add(key)
		m.setActive(&activeSession{id: rec.ID, isGuest: true, key: key, store: store})
	} else {
		store.Close()
		key.Destroy()
	}
	m.log.Info(ctx, "profile created", "profile_id", rec.ID, "guest", guest)
	return rec, nil
}

// discardStore erases a container whose record never made it to disk.
func (m *Manager) discardStore(ctx context.Context, store *securestore.Store) {
	if err := store.DeleteAll(ctx); err != nil {
		m.log.Error(ctx, "failed to erase unindexed container", "container_id", store.ID(), "error", err)
		store.Close()
	}
}

// CreateGuestProfile locks the current profile and starts an ephemeral
// guest session under a random password nobody knows. The guest is erased
// as soon as it locks.
func (m *Manager) CreateGuestProfile(ctx context.Context) (string, error) {
	var id string
	err := m.run("create_guest", func() ([]Event, error) {
		evs, err := m.lockActive(ctx)
		if err != nil {
			return evs, err
		}

		password := common.GenerateRandByteArray(guestPasswordSize)
		defer common.WipeByteArray(password)

		rec, err := m.createRecord(ctx, m.cfg.GuestName, password, models.ProfileOptions{AutoLockMinutes: models.Ptr(0)}, true)
		if err != nil {
			return evs, err
		}
		id = rec.ID
		return append(evs,
			Event{Type: EventCreated, ProfileID: rec.ID, IsGuest: true},
			Event{Type: EventSwitched, ProfileID: rec.ID, IsGuest: true},
		), nil
	})
	return id, err
}

// SwitchProfile unlocks id with password and makes it the active profile.
//
// An unknown id costs the same key derivation as a wrong password and
// leaves the current session untouched. For a known id the current profile
// is locked before authentication starts, so a failed attempt leaves no
// profile active. Switching to the already active profile only verifies
// the password.
func (m *Manager) SwitchProfile(ctx context.Context, id string, password []byte) error {
	return m.run("switch", func() ([]Event, error) {
		rec, ok := m.current().Get(id)
		if !ok {
			m.dummyDerive(ctx, password)
			return nil, fmt.Errorf("%w: profile %q", common.ErrNotFound, id)
		}
		rec = rec.Clone()

		if m.active != nil && m.active.id == id {
			return nil, m.verifyActive(ctx, rec, password)
		}

		evs, err := m.lockActive(ctx)
		if err != nil {
			return evs, err
		}

		m.setAuthenticating(id)
		defer m.setAuthenticating("")

		key, err := m.deriveKey(ctx, password, rec.Salt, rec.KDF)
		if err != nil {
			return evs, err
		}
		storeOpts, err := m.storeOptions(rec.Suite, m.cfg.PreloadCache && !rec.IsGuest)
		if err != nil {
			key.Destroy()
			return evs, err
		}
		store, err := securestore.Open(ctx, m.repo, id, key, storeOpts)
		if err != nil {
			key.Destroy()
			if errors.Is(err, common.ErrAuthentication) {
				m.log.Warn(ctx, "profile authentication failed", "profile_id", id)
			}
			return evs, err
		}

		next := m.current().Clone()
		if err := next.SetActive(id); err != nil {
			store.Close()
			key.Destroy()
			return evs, err
		}
		r, _ := next.Get(id)
		r.LastLoginAt = m.now().UTC()
		if err := m.persist(ctx, next); err != nil {
			store.Close()
			key.Destroy()
			return evs, err
		}

		m.ring.Add(key)
		m.setActive(&activeSession{id: id, isGuest: rec.IsGuest, key: key, store: store})
		m.log.Info(ctx, "profile unlocked", "profile_id", id)
		return append(evs, Event{Type: EventSwitched, ProfileID: id, IsGuest: rec.IsGuest, AutoLockMinutes: rec.AutoLockMinutes}), nil
	})
}

// verifyActive checks password against the already unlocked profile.
func (m *Manager) verifyActive(ctx context.Context, rec *models.ProfileRecord, password []byte) error {
	candidate, err := m.deriveKey(ctx, password, rec.Salt, rec.KDF)
	if err != nil {
		return err
	}
	defer candidate.Destroy()
	return m.active.store.Verify(ctx, candidate)
}

// dummyDerive spends one key derivation so that unknown ids and wrong
// passwords take the same time.
func (m *Manager) dummyDerive(ctx context.Context, password []byte) {
	key, err := m.deriveKey(ctx, password, cryptox.GenerateSalt(), m.cfg.KDF)
	if err == nil {
		key.Destroy()
	}
}

// LockProfile locks the active profile. Its store is closed, its cache wiped
// and its key destroyed. Locking a guest ends the guest session and erases
// its data. With no active profile it does nothing.
func (m *Manager) LockProfile(ctx context.Context) error {
	return m.run("lock", func() ([]Event, error) {
		return m.lockActive(ctx)
	})
}

// lockActive tears the active session down. If persisting the index fails
// the session is still gone and the cleared index is published in memory;
// the stale active flag on disk is cleared by the next Initialize.
func (m *Manager) lockActive(ctx context.Context) ([]Event, error) {
	a := m.active
	if a == nil {
		return nil, nil
	}
	m.setActive(nil)

	next := m.current().Clone()
	ev := Event{Type: EventLocked, ProfileID: a.id, IsGuest: a.isGuest}
	var dropErr error
	if a.isGuest {
		ev.Type = EventGuestEnded
		if dropErr = a.store.DeleteAll(ctx); dropErr != nil {
			a.store.Close()
			next.ClearActive()
		} else {
			next.Remove(a.id)
			m.markDeleted(a.id)
		}
	} else {
		a.store.Close()
		next.ClearActive()
	}
	m.ring.Release(a.key)

	if err := m.persist(ctx, next); err != nil {
		m.publish(next)
		return []Event{ev}, err
	}
	if dropErr != nil {
		return []Event{ev}, fmt.Errorf("erase guest profile: %w", dropErr)
	}
	m.log.Info(ctx, "profile locked", "profile_id", a.id, "guest", a.isGuest)
	return []Event{ev}, nil
}

// DeleteProfile permanently removes id and all of its entries, locking it
// first if it is active.
func (m *Manager) DeleteProfile(ctx context.Context, id string) error {
	return m.run("delete", func() ([]Event, error) {
		rec, ok := m.current().Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: profile %q", common.ErrNotFound, id)
		}
		isGuest := rec.IsGuest

		var evs []Event
		if m.active != nil && m.active.id == id {
			var err error
			if evs, err = m.lockActive(ctx); err != nil {
				return evs, err
			}
		}

		next := m.current().Clone()
		if _, still := next.Get(id); still {
			next.Remove(id)
			if err := m.persist(ctx, next); err != nil {
				return evs, err
			}
		}
		// A container left behind by a failure here is dropped as an orphan
		// by the next Initialize.
		if err := m.repo.DropContainer(ctx, id); err != nil {
			return evs, err
		}

		m.markDeleted(id)
		m.log.Info(ctx, "profile deleted", "profile_id", id)
		return append(evs, Event{Type: EventDeleted, ProfileID: id, IsGuest: isGuest}), nil
	})
}

// UpdateProfile changes a profile's name or settings. Settings belong to the
// session, so changing them requires id to be the active profile; renaming
// does not.
func (m *Manager) UpdateProfile(ctx context.Context, id string, u models.ProfileUpdate) (models.ProfileRecord, error) {
	var out models.ProfileRecord
	err := m.run("update", func() ([]Event, error) {
		rec, ok := m.current().Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: profile %q", common.ErrNotFound, id)
		}
		if u.TouchesSettings() && (m.active == nil || m.active.id != id) {
			return nil, fmt.Errorf("%w: settings of profile %q can only be changed while it is active", common.ErrPermission, id)
		}
		if u.Name != nil {
			name, err := validateName(*u.Name)
			if err != nil {
				return nil, err
			}
			u.Name = &name
		}
		if u.AutoLockMinutes != nil && *u.AutoLockMinutes < 0 {
			return nil, fmt.Errorf("%w: auto-lock minutes must not be negative", common.ErrInvalidArgument)
		}
		if u.IsEmpty() {
			out = *rec.Clone()
			return nil, nil
		}

		next := m.current().Clone()
		r, _ := next.Get(id)
		u.Apply(r)
		if err := m.persist(ctx, next); err != nil {
			return nil, err
		}
		out = *r.Clone()
		return []Event{{Type: EventUpdated, ProfileID: id, IsGuest: r.IsGuest, AutoLockMinutes: r.AutoLockMinutes}}, nil
	})
	return out, err
}

func (m *Manager) markDeleted(id string) {
	m.viewMu.Lock()
	m.deleted[id] = struct{}{}
	m.viewMu.Unlock()
}

// Quarantined returns the containers kept from an index that was rebuilt
// under the rebuild corruption policy.
func (m *Manager) Quarantined() []string {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.ix == nil {
		return nil
	}
	return slices.Clone(m.ix.Quarantined)
}

// PurgeQuarantined irrecoverably drops every quarantined container and
// returns how many were dropped.
func (m *Manager) PurgeQuarantined(ctx context.Context) (int, error) {
	var n int
	err := m.run("purge_quarantined", func() ([]Event, error) {
		held := m.current().Quarantined
		if len(held) == 0 {
			return nil, nil
		}
		next := m.current().Clone()
		next.Quarantined = nil
		if err := m.persist(ctx, next); err != nil {
			return nil, err
		}
		for _, id := range held {
			if err := m.repo.DropContainer(ctx, id); err != nil {
				// left as an orphan for the next Initialize
				m.log.Error(ctx, "failed to drop quarantined container", "container_id", id, "error", err)
				continue
			}
			n++
		}
		m.log.Info(ctx, "purged quarantined containers", "dropped", n)
		return nil, nil
	})
	return n, err
}
