package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Hasher produces and checks one-way password digests.
// Verify never errors: a malformed or foreign digest simply does not match.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
}

const (
	AlgoBcrypt   = "bcrypt"
	AlgoArgon2id = "argon2id"
)

// NewHasher selects a hasher by algorithm name. cost only applies to bcrypt.
func NewHasher(algo string, cost int) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algo)) {
	case "", AlgoBcrypt:
		return NewBcryptHasher(cost)
	case AlgoArgon2id:
		return NewArgon2Hasher(), nil
	default:
		return nil, fmt.Errorf("auth: unsupported password algorithm %q", algo)
	}
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher validates cost against bcrypt's supported range.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range [%d,%d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &BcryptHasher{cost: cost}, nil
}

func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(secret, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret)) == nil
}

const (
	argon2Memory      = 64 * 1024
	argon2Iterations  = 2
	argon2Parallelism = 1
	argon2KeyLength   = 32
	argon2SaltLength  = 16

	// upper bounds accepted when parsing a stored digest
	argon2MaxMemory  = 1024 * 1024
	argon2MaxTime    = 16
	argon2MaxKeySize = 128
)

// Argon2Hasher hashes with argon2id in the PHC string format.
type Argon2Hasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
}

func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{
		memory:      argon2Memory,
		iterations:  argon2Iterations,
		parallelism: argon2Parallelism,
	}
}

func (h *Argon2Hasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, argon2SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.iterations, h.memory, h.parallelism, argon2KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2Hasher) Verify(secret, digest string) bool {
	p, salt, key, err := parseArgon2Digest(digest)
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(secret), salt, p.iterations, p.memory, p.parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1
}

var errMalformedDigest = errors.New("malformed argon2 digest")

func parseArgon2Digest(digest string) (Argon2Hasher, []byte, []byte, error) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2Hasher{}, nil, nil, errMalformedDigest
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Argon2Hasher{}, nil, nil, errMalformedDigest
	}
	var p Argon2Hasher
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return Argon2Hasher{}, nil, nil, errMalformedDigest
	}
	if p.memory == 0 || p.memory > argon2MaxMemory || p.iterations == 0 || p.iterations > argon2MaxTime || p.parallelism == 0 {
		return Argon2Hasher{}, nil, nil, errMalformedDigest
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Argon2Hasher{}, nil, nil, errMalformedDigest
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 || len(key) > argon2MaxKeySize {
		return Argon2Hasher{}, nil, nil, errMalformedDigest
	}
	return p, salt, key, nil
}
