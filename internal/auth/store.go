package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Identities(ctx context.Context) IdentityStore
	RefreshTokens(ctx context.Context) RefreshTokenStore
	Ping(ctx context.Context) error
}

// IdentityStore manages identities. Lookups return ErrNotFound when absent.
type IdentityStore interface {
	Create(ctx context.Context, ident *Identity) error
	Find(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

// RefreshTokenStore manages the refresh-record set of each identity.
type RefreshTokenStore interface {
	Create(ctx context.Context, identityID string, rec RefreshRecord) error
	// Rotate removes oldToken and inserts next as one conditional write.
	// It returns ErrTokenRevoked, and changes nothing, when oldToken is absent.
	Rotate(ctx context.Context, identityID, oldToken string, next RefreshRecord) error
	// Remove is a no-op when the token is absent.
	Remove(ctx context.Context, identityID, token string) error
	RemoveAll(ctx context.Context, identityID string) error
	// PurgeCreatedBefore drops records created before cutoff and reports how many.
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
