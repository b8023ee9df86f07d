package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
)

const defaultTouchTimeout = 2 * time.Second

// Verifier checks a username and secret against the user store.
//
// Every failed attempt costs one full password verification, whether the
// user is missing, inactive or supplied the wrong secret.
type Verifier struct {
	users        UserStore
	hasher       Hasher
	dummyDigest  string
	now          func() time.Time
	touchTimeout time.Duration
	log          *zap.Logger
	retries      sync.WaitGroup
}

// VerifierOption configures Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock overrides time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// WithTouchTimeout bounds each last-login update attempt.
func WithTouchTimeout(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.touchTimeout = d
		}
	}
}

// WithVerifierLogger sets the logger for best-effort failures.
func WithVerifierLogger(l *zap.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.log = l
		}
	}
}

// NewVerifier precomputes a digest used to equalize work when no user matches.
func NewVerifier(users UserStore, hasher Hasher, opts ...VerifierOption) (*Verifier, error) {
	dummy, err := hasher.Hash("timing-equalization-placeholder")
	if err != nil {
		return nil, fmt.Errorf("auth: precompute dummy digest: %w", err)
	}
	v := &Verifier{
		users:        users,
		hasher:       hasher,
		dummyDigest:  dummy,
		now:          time.Now,
		touchTimeout: defaultTouchTimeout,
		log:          obs.Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Authenticate returns the user with LastLoginAt refreshed, or
// ErrInvalidCredentials. Store failures other than not-found wrap ErrStorage.
func (v *Verifier) Authenticate(ctx context.Context, username, secret string) (*User, error) {
	user, err := v.users.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		v.hasher.Verify(secret, v.dummyDigest)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("%w: find user: %w", ErrStorage, err)
	}

	ok := v.hasher.Verify(secret, user.PasswordHash)
	if !ok || !user.Active {
		return nil, ErrInvalidCredentials
	}

	at := v.now().UTC()
	v.touchLastLogin(ctx, user.ID, at)
	user.LastLoginAt = &at
	return user, nil
}

// touchLastLogin never fails the login. The first attempt runs inline; a
// failed attempt is retried once in the background so a slow store delays the
// response by at most one touchTimeout.
func (v *Verifier) touchLastLogin(ctx context.Context, userID string, at time.Time) {
	ctx = context.WithoutCancel(ctx)
	if err := v.touch(ctx, userID, at); err == nil {
		return
	}
	v.retries.Add(1)
	go func() {
		defer v.retries.Done()
		if err := v.touch(ctx, userID, at); err != nil {
			v.log.Warn("last login update failed",
				zap.String("user_id", userID),
				zap.Int("attempts", 2),
				zap.Error(err),
			)
		}
	}()
}

func (v *Verifier) touch(ctx context.Context, userID string, at time.Time) error {
	tctx, cancel := context.WithTimeout(ctx, v.touchTimeout)
	defer cancel()
	return v.users.TouchLastLogin(tctx, userID, at)
}

// Wait blocks until background last-login retries finish or ctx ends.
func (v *Verifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		v.retries.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
