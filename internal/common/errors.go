// Package common defines shared constants and sentinel errors used across
// the storage, crypto and lifecycle layers. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Lifecycle taxonomy.
	ErrInitialization = errors.New("initialization failed")
	ErrNotFound       = errors.New("not found")
	ErrAuthentication = errors.New("authentication failed")
	ErrIntegrity      = errors.New("integrity check failed")
	ErrStorageIO      = errors.New("storage i/o failed")

	// State errors.
	ErrLocked             = errors.New("store is locked")
	ErrNoActiveProfile    = errors.New("no active profile")
	ErrNotInitialized     = errors.New("manager is not initialized")
	ErrAlreadyInitialized = errors.New("manager is already initialized")

	// Validation errors.
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPermission      = errors.New("operation not permitted for this session")
)
