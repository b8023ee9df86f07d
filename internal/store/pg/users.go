package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/auth"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, username, email, name, password_hash, role, active, last_login_at, created_at`

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	_, err := s.db.NamedExecContext(ctx, `
		insert into users (`+userColumns+`)
		values (:id, :username, :email, :name, :password_hash, :role, :active, :last_login_at, :created_at)
	`, u)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	var u auth.User
	err := s.db.GetContext(ctx, &u, `select `+userColumns+` from users where username = $1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*auth.User, error) {
	var u auth.User
	err := s.db.GetContext(ctx, &u, `select `+userColumns+` from users where id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`select exists(select 1 from users where username = $1 or email = $2)`, username, email)
	return exists, err
}

func (s *Store) List(ctx context.Context) ([]*auth.User, error) {
	users := []*auth.User{}
	if err := s.db.SelectContext(ctx, &users, `select `+userColumns+` from users order by created_at, id`); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `update users set active = $2 where id = $1`, id, active)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
