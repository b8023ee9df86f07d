package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretLength is the shortest accepted signing secret, in bytes.
const MinSecretLength = 32

// Claims are the verified contents of a bearer token.
type Claims struct {
	Subject   string
	Role      Role
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Role Role `json:"role"`

	// ExpiresAtNano is the exact expiry in Unix nanoseconds. The registered
	// exp claim is rounded up to the next second and only bounds it.
	ExpiresAtNano int64 `json:"exp_ns"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 bearer tokens. It holds no mutable state
// and is safe for concurrent use.
//
// A token issued at t with lifetime ttl verifies at u iff t <= u < t+ttl
// (nanosecond resolution; u before t is not rejected).
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// TokenOption configures a TokenCodec.
type TokenOption func(*TokenCodec)

// WithTokenIssuer sets the iss claim written on issue and required on verify.
func WithTokenIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

// NewTokenCodec copies secret; later changes to the caller's slice have no effect.
func NewTokenCodec(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenCodec, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", MinSecretLength)
	}
	if ttl < time.Second {
		return nil, errors.New("auth: token ttl must be at least one second")
	}
	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a token for subject carrying role, valid from now for the codec TTL.
func (c *TokenCodec) Issue(subject string, role Role, now time.Time) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: invalid role", ErrInvalidInput)
	}

	iat := now.UTC()
	exp := iat.Add(c.ttl)
	claims := tokenClaims{
		Role:          role,
		ExpiresAtNano: exp.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(exp)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry at now. Every failure
// is reported as ErrInvalidToken.
func (c *TokenCodec) Verify(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrInvalidToken
	}

	at := now.UTC()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return at }),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || !claims.Role.Valid() || claims.IssuedAt == nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.ExpiresAtNano <= 0 || at.UnixNano() >= claims.ExpiresAtNano {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		Subject:   claims.Subject,
		Role:      claims.Role,
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: time.Unix(0, claims.ExpiresAtNano).UTC(),
	}, nil
}

func ceilSecond(t time.Time) time.Time {
	if f := t.Truncate(time.Second); !f.Equal(t) {
		return f.Add(time.Second)
	}
	return t
}
