package store

import (
	"context"
	"errors"

	"saldo/internal/core"
)

// ErrVersionConflict is returned by Save when the stored document changed
// since it was loaded. Callers reload and retry.
var ErrVersionConflict = errors.New("user document version conflict")

// Ports for outbound adapters. One document holds one user aggregate.
type (
	UserLoader interface {
		// Load returns the stored aggregate or an error wrapping core.ErrNotFound.
		Load(ctx context.Context, userID string) (*core.User, error)
		// GetOrCreate is Load, except an absent user yields an empty
		// version-0 aggregate that the first Save will insert.
		GetOrCreate(ctx context.Context, userID string) (*core.User, error)
	}

	UserSaver interface {
		// Save writes u if the stored version still equals u.Version, then
		// bumps u.Version. Version 0 means insert-if-absent.
		Save(ctx context.Context, u *core.User) error
	}

	UserLister interface {
		ListUserIDs(ctx context.Context) ([]string, error)
	}

	// Repository is what every backend implements.
	Repository interface {
		UserLoader
		UserSaver
		UserLister
		Close() error
	}
)
