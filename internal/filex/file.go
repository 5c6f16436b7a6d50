// Package filex has filesystem helpers for the data directory.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and parents) readable only by the owner and returns
// its absolute path. A relative dir is resolved against the working directory.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}

	if err := os.MkdirAll(abs, 0o700); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}

	return abs, nil
}

// DefaultDataDir returns <user config dir>/<app>, falling back to ./.<app>
// when the platform has no config dir.
func DefaultDataDir(app string) string {
	base, err := os.UserConfigDir()
	if err != nil {
		return "." + app
	}
	return filepath.Join(base, app)
}
