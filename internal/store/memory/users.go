// Package memory holds process-local stores used in development mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
)

var _ auth.UserStore = (*UserStore)(nil)

// UserStore keeps users in maps guarded by a single mutex, which makes the
// username/email uniqueness check and the insert one atomic step.
type UserStore struct {
	mu         sync.RWMutex
	byID       map[string]*auth.User
	byUsername map[string]string
	byEmail    map[string]string
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:       make(map[string]*auth.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

func (s *UserStore) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[u.ID]; ok {
		return auth.ErrConflict
	}
	if _, ok := s.byUsername[u.Username]; ok {
		return auth.ErrConflict
	}
	if _, ok := s.byEmail[u.Email]; ok {
		return auth.ErrConflict
	}
	stored := cloneUser(u)
	s.byID[u.ID] = stored
	s.byUsername[u.Username] = u.ID
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *UserStore) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *UserStore) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *UserStore) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, byName := s.byUsername[username]
	_, byMail := s.byEmail[email]
	return byName || byMail, nil
}

// List returns users ordered by creation time, then id.
func (s *UserStore) List(_ context.Context) ([]*auth.User, error) {
	s.mu.RLock()
	out := make([]*auth.User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, cloneUser(u))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *UserStore) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	return nil
}

func (s *UserStore) SetActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	u.Active = active
	return nil
}

func cloneUser(u *auth.User) *auth.User {
	c := *u
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}
