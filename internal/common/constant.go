// Package common contains shared constants and sentinel errors used across
// profilekeeper components.
package common

// AppName prefixes domain-separation labels (HKDF info strings, AAD tags)
// and names the default data directory.
const AppName = "profilekeeper"
