package securestore

import (
	"bytes"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
)

// The cache holds private copies; callers always get their own clone.
// Every mutation bumps gen, so a Retrieve that raced a writer or a wipe
// does not put its value back.

func (s *Store) cachePut(name string, value []byte) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	s.setLocked(name, value)
}

// cacheFill caches a value read from the repository, unless the cache
// changed since gen was taken.
func (s *Store) cacheFill(name string, value []byte, gen uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen != gen {
		return
	}
	s.setLocked(name, value)
}

func (s *Store) setLocked(name string, value []byte) {
	if old, ok := s.cache[name]; ok {
		common.WipeByteArray(old)
	}
	s.cache[name] = bytes.Clone(value)
}

func (s *Store) cacheGet(name string) (value []byte, ok bool, gen uint64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	v, ok := s.cache[name]
	if !ok {
		return nil, false, s.gen
	}
	return bytes.Clone(v), true, s.gen
}

func (s *Store) cacheDelete(name string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	if old, ok := s.cache[name]; ok {
		common.WipeByteArray(old)
		delete(s.cache, name)
	}
}

func (s *Store) wipeCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	for k, v := range s.cache {
		common.WipeByteArray(v)
		delete(s.cache, k)
	}
}

// cacheLen is used by tests.
func (s *Store) cacheLen() int {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return len(s.cache)
}
