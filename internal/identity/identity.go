// Package identity resolves user ids to profile data held by an external
// identity service. Lookups have no effect on the ledger.
package identity

import (
	"context"
	"errors"
)

// Profile is the public part of an identity record.
type Profile struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// ErrUnavailable wraps transport failures and unexpected upstream statuses.
var ErrUnavailable = errors.New("identity provider unavailable")

type Provider interface {
	// Lookup returns the profile for userID, or an error wrapping
	// core.ErrNotFound when the provider has no such user.
	Lookup(ctx context.Context, userID string) (Profile, error)
}

// Static answers every lookup with a bare profile. Used when no identity
// service is configured.
type Static struct{}

func (Static) Lookup(_ context.Context, userID string) (Profile, error) {
	return Profile{ID: userID}, nil
}
