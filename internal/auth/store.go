package auth

import (
	"context"
	"time"
)

// UserStore persists user accounts.
//
// Implementations must enforce uniqueness of username and email atomically in
// Create and report a violation as ErrConflict; lookups report a missing user
// as ErrNotFound.
//
// FindByUsername matches exactly and case-sensitively. Service trims
// surrounding whitespace from usernames at both Register and Login, so stored
// usernames never carry it and the store does no normalization of its own.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	List(ctx context.Context) ([]*User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}
