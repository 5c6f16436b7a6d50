package models

import (
	"bytes"
	"fmt"
	"slices"
	"sort"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
)

// IndexVersion is the current ProfileIndex schema version.
const IndexVersion = 1

// ProfileIndex is the catalog of all profiles. It is persisted as a single
// sealed blob under the master key.
type ProfileIndex struct {
	Version         int                       `json:"version"`
	MasterKeySalt   []byte                    `json:"master_key_salt"`
	ActiveProfileID string                    `json:"active_profile_id,omitempty"`
	Profiles        map[string]*ProfileRecord `json:"profiles"`
	// Quarantined lists containers left by an index that was rebuilt. They
	// belong to no record but are kept until the old index is restored or
	// they are purged.
	Quarantined     []string                  `json:"quarantined,omitempty"`
}

func NewProfileIndex(masterKeySalt []byte) *ProfileIndex {
	return &ProfileIndex{
		Version:       IndexVersion,
		MasterKeySalt: bytes.Clone(masterKeySalt),
		Profiles:      make(map[string]*ProfileRecord),
	}
}

// Validate checks the structural invariants: records are keyed by their own
// id, at most one record is active, and ActiveProfileID points at it.
func (ix *ProfileIndex) Validate() error {
	if ix.Version != IndexVersion {
		return fmt.Errorf("%w: unsupported index version %d", common.ErrIntegrity, ix.Version)
	}

	active := ""
	for id, r := range ix.Profiles {
		if r == nil || r.ID != id {
			return fmt.Errorf("%w: index entry %q does not match its record", common.ErrIntegrity, id)
		}
		if r.IsActive {
			if active != "" {
				return fmt.Errorf("%w: profiles %q and %q are both active", common.ErrIntegrity, active, id)
			}
			active = id
		}
	}
	for _, id := range ix.Quarantined {
		if _, ok := ix.Profiles[id]; ok {
			return fmt.Errorf("%w: quarantined container %q has a record", common.ErrIntegrity, id)
		}
	}
	if ix.ActiveProfileID != active {
		return fmt.Errorf("%w: active profile id %q disagrees with records (%q)", common.ErrIntegrity, ix.ActiveProfileID, active)
	}
	return nil
}

func (ix *ProfileIndex) Get(id string) (*ProfileRecord, bool) {
	r, ok := ix.Profiles[id]
	return r, ok
}

// Put inserts or replaces r.
func (ix *ProfileIndex) Put(r *ProfileRecord) {
	if ix.Profiles == nil {
		ix.Profiles = make(map[string]*ProfileRecord)
	}
	ix.Profiles[r.ID] = r
}

// Remove deletes id, clearing the active pointer if it referenced it.
func (ix *ProfileIndex) Remove(id string) {
	if ix.ActiveProfileID == id {
		ix.ActiveProfileID = ""
	}
	delete(ix.Profiles, id)
}

// SetActive makes id the only active profile.
func (ix *ProfileIndex) SetActive(id string) error {
	target, ok := ix.Profiles[id]
	if !ok {
		return fmt.Errorf("%w: profile %q", common.ErrNotFound, id)
	}
	ix.ClearActive()
	target.IsActive = true
	ix.ActiveProfileID = id
	return nil
}

// ClearActive deactivates every record.
func (ix *ProfileIndex) ClearActive() {
	for _, r := range ix.Profiles {
		r.IsActive = false
	}
	ix.ActiveProfileID = ""
}

// IsQuarantined reports whether container id is held back from cleanup.
func (ix *ProfileIndex) IsQuarantined(id string) bool {
	return slices.Contains(ix.Quarantined, id)
}

// Active returns the active record, if any.
func (ix *ProfileIndex) Active() (*ProfileRecord, bool) {
	if ix.ActiveProfileID == "" {
		return nil, false
	}
	return ix.Get(ix.ActiveProfileID)
}

// Clone returns a deep copy, so a mutation can be staged and discarded if
// persisting it fails.
func (ix *ProfileIndex) Clone() *ProfileIndex {
	c := &ProfileIndex{
		Version:         ix.Version,
		MasterKeySalt:   bytes.Clone(ix.MasterKeySalt),
		ActiveProfileID: ix.ActiveProfileID,
		Profiles:        make(map[string]*ProfileRecord, len(ix.Profiles)),
		Quarantined:     slices.Clone(ix.Quarantined),
	}
	for id, r := range ix.Profiles {
		c.Profiles[id] = r.Clone()
	}
	return c
}

// Sorted returns copies of all records ordered by creation time, then id.
func (ix *ProfileIndex) Sorted() []ProfileRecord {
	out := make([]ProfileRecord, 0, len(ix.Profiles))
	for _, r := range ix.Profiles {
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
