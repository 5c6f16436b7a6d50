// Package securestore implements the per-profile encrypted key-value store.
//
// Each store lives in its own storage container (named by the profile id)
// and works only with subkeys derived from that profile's key:
//
//   - values and names are sealed with the "entries/value" subkey, bound to
//     container id, key id and field as associated data;
//   - key names are looked up by HMAC under the "entries/name" subkey, so they
//     never reach disk in the clear.
//
// A random canary sealed at creation lets Open tell a wrong key apart from a
// right one by trial decryption.
package securestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/logging"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
	"github.com/dmitrijs2005/profilekeeper/internal/repositories/entries"
	"github.com/dmitrijs2005/profilekeeper/internal/secret"
)

const (
	valueLabel = "entries/value"
	nameLabel  = "entries/name"
	canarySize = 32
)

// Options tune a store. The zero value is usable.
type Options struct {
	// Cipher seals new values. Defaults to AES-256-GCM.
	Cipher *cryptox.Cipher
	// Preload decrypts every entry into the cache on open.
	Preload bool
	// Keyring, if set, tracks the store's subkeys and cache for emergency
	// wiping.
	Keyring *secret.Keyring
	Logger  logging.Logger
	Now     func() time.Time
}

func (o Options) withDefaults() (Options, error) {
	if o.Cipher == nil {
		c, err := cryptox.NewCipher(cryptox.SuiteAES256GCM)
		if err != nil {
			return o, err
		}
		o.Cipher = c
	}
	if o.Keyring == nil {
		o.Keyring = secret.NewKeyring()
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}

// Store is one profile's open storage. All methods are safe for concurrent
// use; Close and DeleteAll wait for in-flight operations to finish.
type Store struct {
	id     string
	repo   entries.Repository
	cipher *cryptox.Cipher
	ring   *secret.Keyring
	log    logging.Logger

	valueKey *secret.Key
	nameKey  *secret.Key

	mu     sync.RWMutex
	closed bool
	wiper  *wiper

	// wmu orders writers so the cache follows the repository.
	wmu sync.Mutex

	cacheMu sync.Mutex
	cache   map[string][]byte
	// gen counts cache mutations; Retrieve fills only if it is unchanged.
	gen     uint64
}

func aad(containerID, keyID, field string) []byte {
	return []byte(containerID + "\x00" + keyID + "\x00" + field)
}

func deriveKeys(profileKey *secret.Key) (value, name *secret.Key, err error) {
	value, err = profileKey.Derive(func(k []byte) ([]byte, error) { return cryptox.DeriveSubkey(k, valueLabel) })
	if err != nil {
		return nil, nil, err
	}
	name, err = profileKey.Derive(func(k []byte) ([]byte, error) { return cryptox.DeriveSubkey(k, nameLabel) })
	if err != nil {
		value.Destroy()
		return nil, nil, err
	}
	return value, name, nil
}

// Create makes a new container id under profileKey and opens it.
func Create(ctx context.Context, repo entries.Repository, id string, profileKey *secret.Key, opts Options) (*Store, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	valueKey, nameKey, err := deriveKeys(profileKey)
	if err != nil {
		return nil, err
	}

	canary := common.GenerateRandByteArray(canarySize)
	defer common.WipeByteArray(canary)

	var sealed []byte
	err = valueKey.Use(func(k []byte) error {
		sealed, err = opts.Cipher.Seal(k, canary, aad(id, "", "canary"))
		return err
	})
	if err == nil {
		err = repo.CreateContainer(ctx, models.Container{ID: id, Canary: sealed, CreatedAt: opts.Now().UTC()})
	}
	if err != nil {
		valueKey.Destroy()
		nameKey.Destroy()
		return nil, fmt.Errorf("create container: %w", err)
	}

	return newStore(id, repo, valueKey, nameKey, opts), nil
}

// Open authenticates profileKey against container id and opens it. A wrong
// key yields common.ErrAuthentication.
func Open(ctx context.Context, repo entries.Repository, id string, profileKey *secret.Key, opts Options) (*Store, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	valueKey, nameKey, err := deriveKeys(profileKey)
	if err != nil {
		return nil, err
	}

	if err := verifyValueKey(ctx, repo, opts.Cipher, id, valueKey); err != nil {
		valueKey.Destroy()
		nameKey.Destroy()
		return nil, err
	}

	s := newStore(id, repo, valueKey, nameKey, opts)
	if opts.Preload {
		if err := s.preload(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func newStore(id string, repo entries.Repository, valueKey, nameKey *secret.Key, opts Options) *Store {
	s := &Store{
		id:       id,
		repo:     repo,
		cipher:   opts.Cipher,
		ring:     opts.Keyring,
		log:      opts.Logger.With("container_id", id),
		valueKey: valueKey,
		nameKey:  nameKey,
		cache:    make(map[string][]byte),
	}
	s.wiper = &wiper{s: s}
	s.ring.Add(s.wiper)
	return s
}

// wiper wipes a store's secrets without waiting for in-flight operations.
// Those fail with common.ErrLocked once the keys are gone.
type wiper struct{ s *Store }

func (w *wiper) Destroy() {
	w.s.wipeCache()
	w.s.valueKey.Destroy()
	w.s.nameKey.Destroy()
}

// verifyValueKey trial-decrypts the container canary and then runs a fresh
// encrypt/decrypt round trip with the same key.
func verifyValueKey(ctx context.Context, repo entries.Repository, c *cryptox.Cipher, id string, valueKey *secret.Key) error {
	cont, err := repo.GetContainer(ctx, id)
	if err != nil {
		return err
	}

	return valueKey.Use(func(k []byte) error {
		canary, err := cryptox.Unseal(k, cont.Canary, aad(id, "", "canary"))
		if err != nil {
			if errors.Is(err, common.ErrIntegrity) {
				return fmt.Errorf("%w: key does not open container %q", common.ErrAuthentication, id)
			}
			return err
		}
		common.WipeByteArray(canary)

		probe := common.GenerateRandByteArray(canarySize)
		defer common.WipeByteArray(probe)
		blob, err := c.Seal(k, probe, aad(id, "", "probe"))
		if err != nil {
			return err
		}
		back, err := cryptox.Unseal(k, blob, aad(id, "", "probe"))
		if err != nil || !bytes.Equal(back, probe) {
			return fmt.Errorf("%w: trial round trip failed", common.ErrAuthentication)
		}
		common.WipeByteArray(back)
		return nil
	})
}

// ID returns the container id, which equals the profile id.
func (s *Store) ID() string { return s.id }

// Verify reports whether candidate is the key this store was opened with,
// by trial decryption against the container canary.
func (s *Store) Verify(ctx context.Context, candidate *secret.Key) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	valueKey, err := candidate.Derive(func(k []byte) ([]byte, error) { return cryptox.DeriveSubkey(k, valueLabel) })
	if err != nil {
		return err
	}
	defer valueKey.Destroy()
	return verifyValueKey(ctx, s.repo, s.cipher, s.id, valueKey)
}

func (s *Store) acquire() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("%w: store %q is closed", common.ErrLocked, s.id)
	}
	return nil
}

func (s *Store) keyID(name string) (string, error) {
	var id string
	err := s.nameKey.Use(func(k []byte) error {
		id = cryptox.KeyID(k, name)
		return nil
	})
	return id, err
}

// Store encrypts value and saves it under name, replacing any previous value.
func (s *Store) Store(ctx context.Context, name string, value []byte) error {
	if name == "" {
		return fmt.Errorf("%w: empty key", common.ErrInvalidArgument)
	}
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	keyID, err := s.keyID(name)
	if err != nil {
		return err
	}

	e := models.SecureEntry{ContainerID: s.id, KeyID: keyID}
	err = s.valueKey.Use(func(k []byte) error {
		var err error
		if e.Name, err = s.cipher.Seal(k, []byte(name), aad(s.id, keyID, "name")); err != nil {
			return err
		}
		e.Value, err = s.cipher.Seal(k, value, aad(s.id, keyID, "value"))
		return err
	})
	if err != nil {
		return fmt.Errorf("seal entry: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.repo.Put(ctx, e); err != nil {
		s.cacheDelete(name)
		return err
	}
	s.cachePut(name, value)
	return nil
}

// Retrieve returns the value stored under name, or (nil, nil) if there is
// none. A value that fails authentication yields common.ErrIntegrity.
func (s *Store) Retrieve(ctx context.Context, name string) ([]byte, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	v, ok, gen := s.cacheGet(name)
	if ok {
		return v, nil
	}

	keyID, err := s.keyID(name)
	if err != nil {
		return nil, err
	}
	e, err := s.repo.Get(ctx, s.id, keyID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var value []byte
	err = s.valueKey.Use(func(k []byte) error {
		var err error
		value, err = cryptox.Unseal(k, e.Value, aad(s.id, keyID, "value"))
		return err
	})
	if err != nil {
		s.log.Warn(ctx, "stored value failed authentication")
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}

	s.cacheFill(name, value, gen)
	return value, nil
}

// Delete removes name. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	keyID, err := s.keyID(name)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.repo.Delete(ctx, s.id, keyID); err != nil {
		return err
	}
	s.cacheDelete(name)
	return nil
}

// ListKeys returns every stored key name in ascending order.
func (s *Store) ListKeys(ctx context.Context) ([]string, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	list, err := s.repo.List(ctx, s.id)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(list))
	err = s.valueKey.Use(func(k []byte) error {
		for _, e := range list {
			n, err := cryptox.Unseal(k, e.Name, aad(s.id, e.KeyID, "name"))
			if err != nil {
				return err
			}
			names = append(names, string(n))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Len returns the number of stored entries.
func (s *Store) Len(ctx context.Context) (int, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.mu.RUnlock()
	return s.repo.Count(ctx, s.id)
}

// Clear removes every entry but keeps the container and the store open.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.mu.RUnlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.repo.Clear(ctx, s.id); err != nil {
		return err
	}
	s.wipeCache()
	return nil
}

// DeleteAll irrecoverably drops the container with all its entries and
// closes the store. If the drop fails the store stays open.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: store %q is closed", common.ErrLocked, s.id)
	}
	if err := s.repo.DropContainer(ctx, s.id); err != nil {
		return err
	}
	s.closeLocked()
	return nil
}

// Close waits for running operations, wipes the cache and destroys the
// store's subkeys. Later calls do nothing.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Store) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	s.ring.Release(s.wiper)
}

// Closed reports whether the store has been closed.
func (s *Store) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Store) preload(ctx context.Context) error {
	list, err := s.repo.List(ctx, s.id)
	if err != nil {
		return err
	}
	return s.valueKey.Use(func(k []byte) error {
		for _, e := range list {
			n, err := cryptox.Unseal(k, e.Name, aad(s.id, e.KeyID, "name"))
			if err != nil {
				return err
			}
			v, err := cryptox.Unseal(k, e.Value, aad(s.id, e.KeyID, "value"))
			if err != nil {
				return err
			}
			s.cachePut(string(n), v)
			common.WipeByteArray(v)
		}
		return nil
	})
}
