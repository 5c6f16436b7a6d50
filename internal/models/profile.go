// Package models defines the profile catalog types and the rows persisted by
// the repositories.
package models

import (
	"bytes"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
)

// ProfileRecord is the metadata of one profile. It never holds secrets: the
// salt and KDF parameters are public inputs to key derivation.
type ProfileRecord struct {
	// ID is assigned at creation and never changes. It also names the
	// profile's storage container.
	ID string `json:"id"`

	Name    string `json:"name"`
	IsGuest bool   `json:"is_guest"`

	CreatedAt time.Time `json:"created_at"`
	// LastLoginAt is zero until the first successful switch-in.
	LastLoginAt time.Time `json:"last_login_at"`

	// IsActive is true only for the currently unlocked profile.
	IsActive bool `json:"is_active"`

	// AutoLockMinutes of 0 disables auto-lock for the profile.
	AutoLockMinutes int    `json:"auto_lock_minutes"`
	Theme           string `json:"theme"`
	Language        string `json:"language"`

	Salt  []byte            `json:"salt"`
	KDF   cryptox.KDFParams `json:"kdf"`
	Suite cryptox.Suite     `json:"suite"`
}

// Clone returns a deep copy.
func (r *ProfileRecord) Clone() *ProfileRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Salt = bytes.Clone(r.Salt)
	return &c
}

// ProfileOptions are the optional settings accepted when creating a profile.
// Zero fields are filled from the configured defaults (see WithDefaults).
type ProfileOptions struct {
	// AutoLockMinutes nil means "use the default"; a pointer to 0 disables
	// auto-lock.
	AutoLockMinutes *int
	Theme           string
	Language        string

	// KDF and Suite override the configured crypto for this profile only.
	KDF   *cryptox.KDFParams
	Suite cryptox.Suite
}

// WithDefaults returns o with every unset field taken from d.
func (o ProfileOptions) WithDefaults(d ProfileOptions) ProfileOptions {
	if o.AutoLockMinutes == nil {
		o.AutoLockMinutes = d.AutoLockMinutes
	}
	if o.Theme == "" {
		o.Theme = d.Theme
	}
	if o.Language == "" {
		o.Language = d.Language
	}
	if o.KDF == nil {
		o.KDF = d.KDF
	}
	if o.Suite == "" {
		o.Suite = d.Suite
	}
	return o
}

// ProfileUpdate carries a partial update. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name            *string
	AutoLockMinutes *int
	Theme           *string
	Language        *string
}

// TouchesSettings reports whether u changes a session-owned setting.
func (u ProfileUpdate) TouchesSettings() bool {
	return u.AutoLockMinutes != nil || u.Theme != nil || u.Language != nil
}

// IsEmpty reports whether u changes nothing.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && !u.TouchesSettings()
}

// Apply merges u into r.
func (u ProfileUpdate) Apply(r *ProfileRecord) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.AutoLockMinutes != nil {
		r.AutoLockMinutes = *u.AutoLockMinutes
	}
	if u.Theme != nil {
		r.Theme = *u.Theme
	}
	if u.Language != nil {
		r.Language = *u.Language
	}
}

// Ptr returns a pointer to v. Handy for ProfileUpdate and ProfileOptions literals.
func Ptr[T any](v T) *T { return &v }
