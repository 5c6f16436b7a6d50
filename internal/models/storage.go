package models

import "time"

// Container is the storage unit owning one profile's entries. Its ID equals
// the profile id.
type Container struct {
	ID string
	// Canary is a sealed random value used to check a candidate key.
	Canary    []byte
	CreatedAt time.Time
}

// SecureEntry is one persisted key-value pair. KeyID is an HMAC of the key
// name, Name and Value are sealed envelopes.
type SecureEntry struct {
	ContainerID string
	KeyID       string
	Name        []byte
	Value       []byte
}
