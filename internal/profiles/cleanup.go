package profiles

import (
	"context"
	"fmt"
)

// Cleanup is the orderly shutdown: the active profile is locked (a guest is
// erased), the index is persisted and the master key destroyed. The manager
// can be initialized again afterwards.
func (m *Manager) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	evs, err := m.cleanup(ctx)
	m.mu.Unlock()

	m.emit(evs...)
	m.obs.LifecycleOp("cleanup", err)
	return err
}

func (m *Manager) cleanup(ctx context.Context) ([]Event, error) {
	if m.dead.Load() || !m.isInitialized() {
		return nil, nil
	}
	evs, err := m.lockActive(ctx)

	m.ring.Release(m.masterKey)
	m.masterKey = nil
	m.header = nil
	m.viewMu.Lock()
	m.initialized = false
	m.ix = nil
	m.viewMu.Unlock()

	if err != nil {
		return evs, fmt.Errorf("lock active profile: %w", err)
	}
	m.log.Info(ctx, "profile manager shut down")
	return evs, nil
}

// EmergencyCleanup wipes every key and cached plaintext held by the manager
// without taking the manager lock and without touching storage. It is meant
// for crash and signal paths: it never fails or panics, and the manager is
// unusable afterwards.
func (m *Manager) EmergencyCleanup() {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error(context.Background(), "panic during emergency cleanup", "panic", r)
		}
	}()

	m.dead.Store(true)
	n := m.ring.DestroyAll()

	m.viewMu.Lock()
	m.activeStore = nil
	m.initialized = false
	m.viewMu.Unlock()

	m.log.Warn(context.Background(), "emergency cleanup wiped key material", "secrets", n)
	m.obs.EmergencyCleanup()
}
