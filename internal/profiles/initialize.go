package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/index"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
)

// Initialize derives the master key and loads the profile index, creating
// an empty one on first run. It must succeed before any other operation.
//
// On load it repairs what an unclean shutdown may have left behind: a stale
// active flag, leftover guest profiles and containers no profile owns.
func (m *Manager) Initialize(ctx context.Context, masterPassword []byte) error {
	m.mu.Lock()
	err := m.initialize(ctx, masterPassword)
	regular, guests := m.counts()
	m.mu.Unlock()

	m.obs.LifecycleOp("initialize", err)
	m.obs.ProfileCount(regular, guests)
	return err
}

func (m *Manager) initialize(ctx context.Context, masterPassword []byte) error {
	if m.dead.Load() {
		return fmt.Errorf("%w: manager was wiped", common.ErrInitialization)
	}
	if m.isInitialized() {
		return common.ErrAlreadyInitialized
	}
	if len(masterPassword) == 0 {
		return fmt.Errorf("%w: %w: master password is empty", common.ErrInitialization, common.ErrInvalidArgument)
	}

	h, err := m.index.LoadHeader(ctx)
	if err != nil {
		if !errors.Is(err, common.ErrIntegrity) {
			return fmt.Errorf("%w: %w", common.ErrInitialization, err)
		}
		return m.corrupted(ctx, masterPassword, err)
	}
	if h == nil {
		return m.bootstrap(ctx, masterPassword, nil)
	}

	key, err := m.deriveKey(ctx, masterPassword, h.Salt, h.KDF)
	if err != nil {
		return fmt.Errorf("%w: derive master key: %w", common.ErrInitialization, err)
	}
	ix, err := m.index.Load(ctx, key)
	if err != nil {
		key.Destroy()
		if !errors.Is(err, common.ErrIntegrity) {
			return fmt.Errorf("%w: %w", common.ErrInitialization, err)
		}
		return m.corrupted(ctx, masterPassword, err)
	}

	m.header = h
	m.masterKey = key
	m.ring.Add(key)
	m.viewMu.Lock()
	m.ix = ix
	m.viewMu.Unlock()

	if err := m.recover(ctx); err != nil {
		m.abortInit()
		return fmt.Errorf("%w: recover index: %w", common.ErrInitialization, err)
	}
	m.markInitialized()
	m.log.Info(ctx, "profile index loaded", "profiles", len(ix.Profiles))
	return nil
}

// corrupted applies the corruption policy to an index that failed to load.
// A rebuild keeps every existing container, quarantined in the new index, so
// the backed-up index can still be restored; a mistyped master password is
// indistinguishable from corruption.
func (m *Manager) corrupted(ctx context.Context, masterPassword []byte, cause error) error {
	if m.cfg.CorruptionPolicy != PolicyRebuild {
		return fmt.Errorf("%w: profile index cannot be opened (wrong master password or corrupted data): %w",
			common.ErrInitialization, cause)
	}

	backup, err := m.index.Backup(ctx, m.now())
	if err != nil {
		return fmt.Errorf("%w: back up corrupted index: %w", common.ErrInitialization, err)
	}
	held, err := m.repo.ListContainers(ctx)
	if err != nil {
		return fmt.Errorf("%w: list containers: %w", common.ErrInitialization, err)
	}
	m.log.Warn(ctx, "profile index unreadable, starting with an empty one",
		"backup_key", backup, "quarantined", len(held), "error", cause)
	return m.bootstrap(ctx, masterPassword, held)
}

// bootstrap writes a fresh, empty index under a new master key.
func (m *Manager) bootstrap(ctx context.Context, masterPassword []byte, quarantined []string) error {
	salt := cryptox.GenerateSalt()
	h := index.NewHeader(m.cfg.KDF, salt)
	key, err := m.deriveKey(ctx, masterPassword, salt, h.KDF)
	if err != nil {
		return fmt.Errorf("%w: derive master key: %w", common.ErrInitialization, err)
	}

	ix := models.NewProfileIndex(salt)
	ix.Quarantined = quarantined
	if err := m.index.Save(ctx, h, key, ix); err != nil {
		key.Destroy()
		return fmt.Errorf("%w: write new index: %w", common.ErrInitialization, err)
	}

	m.header = h
	m.masterKey = key
	m.ring.Add(key)
	m.viewMu.Lock()
	m.ix = ix
	m.viewMu.Unlock()
	m.markInitialized()
	m.log.Info(ctx, "created new profile index")
	return nil
}

// recover clears state that cannot be valid at startup. Nothing has been
// unlocked yet, so no record may be active, no guest may survive, and every
// container must belong to an indexed profile or be quarantined.
func (m *Manager) recover(ctx context.Context) error {
	next := m.current().Clone()
	changed := false

	if next.ActiveProfileID != "" {
		next.ClearActive()
		changed = true
	}
	for id, r := range next.Profiles {
		if !r.IsGuest {
			continue
		}
		if err := m.repo.DropContainer(ctx, id); err != nil {
			return err
		}
		next.Remove(id)
		changed = true
		m.log.Info(ctx, "erased leftover guest profile", "profile_id", id)
	}

	if changed {
		if err := m.persist(ctx, next); err != nil {
			return err
		}
	}

	ids, err := m.repo.ListContainers(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := next.Get(id); ok || next.IsQuarantined(id) {
			continue
		}
		if err := m.repo.DropContainer(ctx, id); err != nil {
			return err
		}
		m.log.Info(ctx, "dropped orphaned container", "container_id", id)
	}
	return nil
}

func (m *Manager) markInitialized() {
	m.viewMu.Lock()
	m.initialized = true
	m.viewMu.Unlock()
}

func (m *Manager) abortInit() {
	m.ring.Release(m.masterKey)
	m.masterKey = nil
	m.header = nil
	m.viewMu.Lock()
	m.ix = nil
	m.viewMu.Unlock()
}
