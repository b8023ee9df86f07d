package auth

import "time"

// User is a persisted account. PasswordHash never leaves the service.
type User struct {
	ID           string     `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	Email        string     `json:"email" db:"email"`
	Name         string     `json:"name" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Role         Role       `json:"role" db:"role"`
	Active       bool       `json:"active" db:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Profile is the registration input.
type Profile struct {
	Email    string
	Username string
	Password string
	Name     string
	// Role is optional; empty means DefaultRole.
	Role string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// Outcome classifies an authorization decision.
type Outcome int

const (
	Unauthenticated Outcome = iota
	Forbidden
	Allowed
)

func (o Outcome) String() string {
	switch o {
	case Allowed:
		return "allowed"
	case Forbidden:
		return "forbidden"
	default:
		return "unauthenticated"
	}
}

// Decision is the result of authorizing a token for an action. Subject and
// Role are set whenever the token verified, including Forbidden decisions.
type Decision struct {
	Outcome Outcome
	Subject string
	Role    Role
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.Outcome == Allowed }
