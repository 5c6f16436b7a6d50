// Package profiles implements the profile lifecycle: creating, unlocking,
// locking and deleting password-protected profiles, plus ephemeral guest
// sessions.
//
// At most one profile is active at a time. Its key and opened SecureStore
// live only in memory and are destroyed on lock. Every index mutation is
// applied to a clone first, persisted, and only then committed, so a failed
// write never leaves the in-memory catalog ahead of the disk.
package profiles

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/index"
	"github.com/dmitrijs2005/profilekeeper/internal/logging"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
	"github.com/dmitrijs2005/profilekeeper/internal/repositories/entries"
	"github.com/dmitrijs2005/profilekeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/profilekeeper/internal/secret"
	"github.com/dmitrijs2005/profilekeeper/internal/securestore"
	"github.com/google/uuid"
)

// CorruptionPolicy decides what Initialize does with an index it cannot
// authenticate.
type CorruptionPolicy string

const (
	// PolicyFail refuses to start and leaves the data untouched. It is the
	// default instead of a fresh rebuild: a wrong master password is
	// indistinguishable from a damaged index.
	PolicyFail CorruptionPolicy = "fail"
	// PolicyRebuild backs the old blob up and starts with an empty index.
	// Existing containers are quarantined in the new index, not dropped,
	// until PurgeQuarantined.
	PolicyRebuild CorruptionPolicy = "rebuild"
)

// Config holds the manager's crypto choices and profile defaults.
type Config struct {
	KDF              cryptox.KDFParams
	Suite            cryptox.Suite
	CorruptionPolicy CorruptionPolicy

	AutoLockMinutes int
	Theme           string
	Language        string
	GuestName       string

	// PreloadCache decrypts a regular profile's entries on switch-in.
	// Guest stores are never preloaded.
	PreloadCache bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		KDF:              cryptox.DefaultKDFParams(),
		Suite:            cryptox.SuiteAES256GCM,
		CorruptionPolicy: PolicyFail,
		AutoLockMinutes:  15,
		Theme:            "system",
		Language:         "en",
		GuestName:        "Guest",
	}
}

func (c Config) defaults() models.ProfileOptions {
	kdf := c.KDF
	return models.ProfileOptions{
		AutoLockMinutes: models.Ptr(c.AutoLockMinutes),
		Theme:           c.Theme,
		Language:        c.Language,
		KDF:             &kdf,
		Suite:           c.Suite,
	}
}

// Option customizes a Manager.
type Option func(*Manager)

func WithLogger(l logging.Logger) Option { return func(m *Manager) { m.log = l } }

func WithObserver(o Observer) Option { return func(m *Manager) { m.obs = o } }

// WithClock overrides the wall clock used for CreatedAt and LastLoginAt.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithIDGenerator overrides the profile id source (uuid by default).
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }

// activeSession is the unlocked profile.
type activeSession struct {
	id      string
	isGuest bool
	key     *secret.Key
	store   *securestore.Store
}

// Manager owns the profile index and the active session.
type Manager struct {
	// mu serializes lifecycle operations. It is held across key derivation.
	mu sync.Mutex

	cfg    Config
	meta   metadata.Repository
	repo   entries.Repository
	index  *index.Store
	log    logging.Logger
	obs    Observer
	now    func() time.Time
	newID  func() string
	ring   *secret.Keyring
	header *index.Header

	masterKey *secret.Key
	active    *activeSession

	// viewMu guards the fields read by the query methods, which therefore
	// never wait for a running key derivation. ix is replaced, never
	// mutated, once published.
	viewMu         sync.RWMutex
	initialized    bool
	ix             *models.ProfileIndex
	activeStore    *securestore.Store
	authenticating string
	deleted        map[string]struct{}

	dead atomic.Bool

	subsMu  sync.Mutex
	subs    map[int]func(Event)
	nextSub int
}

// NewManager returns an uninitialized manager over the given repositories.
func NewManager(meta metadata.Repository, repo entries.Repository, cfg Config, opts ...Option) (*Manager, error) {
	if meta == nil || repo == nil {
		return nil, fmt.Errorf("%w: repositories are required", common.ErrInvalidArgument)
	}
	if err := cfg.KDF.Validate(); err != nil {
		return nil, err
	}
	if _, err := cryptox.NewCipher(cfg.Suite); err != nil {
		return nil, err
	}
	switch cfg.CorruptionPolicy {
	case "":
		cfg.CorruptionPolicy = PolicyFail
	case PolicyFail, PolicyRebuild:
	default:
		return nil, fmt.Errorf("%w: corruption policy %q", common.ErrInvalidArgument, cfg.CorruptionPolicy)
	}
	if cfg.GuestName == "" {
		cfg.GuestName = "Guest"
	}

	m := &Manager{
		cfg:     cfg,
		meta:    meta,
		repo:    repo,
		log:     logging.Nop(),
		obs:     nopObserver{},
		now:     time.Now,
		newID:   uuid.NewString,
		ring:    secret.NewKeyring(),
		deleted: make(map[string]struct{}),
		subs:    make(map[int]func(Event)),
	}
	for _, o := range opts {
		o(m)
	}

	indexCipher, err := cryptox.NewCipher(cfg.Suite)
	if err != nil {
		return nil, err
	}
	m.index = index.NewStore(meta, indexCipher)
	return m, nil
}

// run executes one lifecycle operation under the manager lock, then
// dispatches its events and reports it to the observer.
func (m *Manager) run(op string, fn func() ([]Event, error)) error {
	m.mu.Lock()
	evs, err := m.guard(fn)
	regular, guests := m.counts()
	m.mu.Unlock()

	m.emit(evs...)
	m.obs.LifecycleOp(op, err)
	m.obs.ProfileCount(regular, guests)
	return err
}

func (m *Manager) guard(fn func() ([]Event, error)) ([]Event, error) {
	if m.dead.Load() {
		return nil, fmt.Errorf("%w: manager was wiped", common.ErrNotInitialized)
	}
	if !m.isInitialized() {
		return nil, common.ErrNotInitialized
	}
	return fn()
}

func (m *Manager) isInitialized() bool {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.initialized
}

func (m *Manager) counts() (regular, guests int) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.ix == nil {
		return 0, 0
	}
	for _, r := range m.ix.Profiles {
		if r.IsGuest {
			guests++
		} else {
			regular++
		}
	}
	return regular, guests
}

// persist writes next and, on success, publishes it.
func (m *Manager) persist(ctx context.Context, next *models.ProfileIndex) error {
	if err := m.index.Save(ctx, m.header, m.masterKey, next); err != nil {
		return err
	}
	m.publish(next)
	return nil
}

// publish replaces the index queries see without writing it.
func (m *Manager) publish(next *models.ProfileIndex) {
	m.viewMu.Lock()
	m.ix = next
	m.viewMu.Unlock()
}

// current returns the committed index. Callers hold mu.
func (m *Manager) current() *models.ProfileIndex {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.ix
}

func (m *Manager) setActive(a *activeSession) {
	m.active = a
	m.viewMu.Lock()
	defer m.viewMu.Unlock()
	if a == nil {
		m.activeStore = nil
	} else {
		m.activeStore = a.store
	}
}

func (m *Manager) setAuthenticating(id string) {
	m.viewMu.Lock()
	m.authenticating = id
	m.viewMu.Unlock()
}

// deriveKey runs the KDF and wraps the result in a protected key.
func (m *Manager) deriveKey(ctx context.Context, password, salt []byte, p cryptox.KDFParams) (*secret.Key, error) {
	start := time.Now()
	raw, err := cryptox.DeriveKeyContext(ctx, password, salt, p)
	m.obs.KDFDuration(time.Since(start))
	if err != nil {
		return nil, err
	}
	return secret.NewKey(raw)
}

func (m *Manager) storeOptions(suite cryptox.Suite, preload bool) (securestore.Options, error) {
	c, err := cryptox.NewCipher(suite)
	if err != nil {
		return securestore.Options{}, err
	}
	return securestore.Options{
		Cipher:  c,
		Preload: preload,
		Keyring: m.ring,
		Logger:  m.log,
		Now:     m.now,
	}, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: profile name is empty", common.ErrInvalidArgument)
	}
	return name, nil
}

// GetProfiles lists all profiles ordered by creation time. It returns nil
// before Initialize.
func (m *Manager) GetProfiles() []models.ProfileRecord {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.ix == nil {
		return nil
	}
	return m.ix.Sorted()
}

// GetProfile returns one profile's metadata.
func (m *Manager) GetProfile(id string) (models.ProfileRecord, error) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.ix == nil {
		return models.ProfileRecord{}, common.ErrNotInitialized
	}
	r, ok := m.ix.Get(id)
	if !ok {
		return models.ProfileRecord{}, fmt.Errorf("%w: profile %q", common.ErrNotFound, id)
	}
	return *r.Clone(), nil
}

// GetActiveProfile returns the active profile, if any.
func (m *Manager) GetActiveProfile() (models.ProfileRecord, bool) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.ix == nil {
		return models.ProfileRecord{}, false
	}
	r, ok := m.ix.Active()
	if !ok {
		return models.ProfileRecord{}, false
	}
	return *r.Clone(), true
}

// ActiveStore returns the active profile's store. The store is closed when
// the profile locks, after which its methods fail with common.ErrLocked.
func (m *Manager) ActiveStore() (*securestore.Store, error) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.activeStore == nil {
		return nil, common.ErrNoActiveProfile
	}
	return m.activeStore, nil
}

// State reports the lifecycle state of id.
func (m *Manager) State(id string) State {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	if m.authenticating == id && id != "" {
		return StateAuthenticating
	}
	if m.ix != nil {
		if r, ok := m.ix.Get(id); ok {
			if r.IsActive {
				return StateActive
			}
			return StateRegistered
		}
	}
	if _, ok := m.deleted[id]; ok {
		return StateDeleted
	}
	return StateUnknown
}

// Initialized reports whether Initialize has succeeded and Cleanup has not
// run since.
func (m *Manager) Initialized() bool {
	return m.isInitialized() && !m.dead.Load()
}
