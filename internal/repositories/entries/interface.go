// Package entries persists profile storage containers and their sealed
// key-value entries. A container is dropped as one atomic operation, so a
// deleted profile leaves no partial entries behind.
package entries

import (
	"context"

	"github.com/dmitrijs2005/profilekeeper/internal/models"
)

// Repository is implemented by the SQLite and bbolt backends. Unknown
// containers or entries are reported with common.ErrNotFound, driver
// failures with common.ErrStorageIO.
type Repository interface {
	CreateContainer(ctx context.Context, c models.Container) error
	GetContainer(ctx context.Context, id string) (*models.Container, error)
	// ListContainers returns container ids in ascending order.
	ListContainers(ctx context.Context) ([]string, error)
	// DropContainer removes the container with all of its entries. Dropping
	// an unknown container is not an error.
	DropContainer(ctx context.Context, id string) error

	// Put inserts or replaces an entry in an existing container.
	Put(ctx context.Context, e models.SecureEntry) error
	Get(ctx context.Context, containerID, keyID string) (*models.SecureEntry, error)
	Delete(ctx context.Context, containerID, keyID string) error
	// List returns the container's entries ordered by key id.
	List(ctx context.Context, containerID string) ([]models.SecureEntry, error)
	// Clear removes every entry but keeps the container.
	Clear(ctx context.Context, containerID string) error
	Count(ctx context.Context, containerID string) (int, error)
}
