package sqlrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gearguard/internal/errs"
	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/store"
)

const userColumns = `id, email, password_hash, first_name, last_name, organization_id, role, is_active, last_login_at, created_at, updated_at`

// UserRepo implements repository.UserRepository.
type UserRepo struct {
	db  DB
	now func() time.Time
}

// NewUserRepo constructs a user repository.
func NewUserRepo(db DB) *UserRepo { return &UserRepo{db: db, now: utcNow} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	return r.insert(ctx, r.db, u)
}

// CreateAccount inserts org (when non-nil) and u in one transaction.
func (r *UserRepo) CreateAccount(ctx context.Context, org *model.Organization, u *model.User) error {
	return r.db.InTx(ctx, func(ctx context.Context, q store.Querier) error {
		if org != nil {
			if err := insertOrganization(ctx, q, org, r.now()); err != nil {
				return err
			}
		}
		return r.insert(ctx, q, u)
	})
}

func (r *UserRepo) insert(ctx context.Context, q store.Querier, u *model.User) error {
	now := r.now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	const stmt = `
INSERT INTO users (id, email, password_hash, first_name, last_name, organization_id, role, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := q.Exec(ctx, stmt, u.ID.String(), u.Email, u.PasswordHash, u.FirstName, u.LastName,
		u.OrganizationID.String(), u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id.String()))
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// UpdatePassword stores a new password hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error {
	return r.update(ctx, `UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`, hash, r.now(), id.String())
}

// UpdateProfile writes the non-nil fields of p. An empty update only checks
// that the user exists.
func (r *UserRepo) UpdateProfile(ctx context.Context, id uuid.UUID, p model.ProfileUpdate) error {
	if p.Empty() {
		_, err := r.IsActive(ctx, id)
		return err
	}
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.FirstName != nil {
		set("first_name", *p.FirstName)
	}
	if p.LastName != nil {
		set("last_name", *p.LastName)
	}
	set("updated_at", r.now())
	args = append(args, id.String())
	stmt := fmt.Sprintf("UPDATE users SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))
	return r.update(ctx, stmt, args...)
}

// UpdateRole changes the role of a user.
func (r *UserRepo) UpdateRole(ctx context.Context, id uuid.UUID, role string) error {
	return r.update(ctx, `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`, role, r.now(), id.String())
}

// TouchLastLogin sets last_login_at to now.
func (r *UserRepo) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	now := r.now()
	return r.update(ctx, `UPDATE users SET last_login_at = $1, updated_at = $2 WHERE id = $3`, now, now, id.String())
}

// IsActive reads the account active flag.
func (r *UserRepo) IsActive(ctx context.Context, id uuid.UUID) (bool, error) {
	var active bool
	err := r.db.QueryRow(ctx, `SELECT is_active FROM users WHERE id = $1`, id.String()).Scan(&active)
	return active, mapErr(err)
}

func (r *UserRepo) update(ctx context.Context, stmt string, args ...any) error {
	n, err := r.db.Exec(ctx, stmt, args...)
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanUser(row store.Row) (*model.User, error) {
	var (
		u       model.User
		id, org string
	)
	err := row.Scan(&id, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &org,
		&u.Role, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if u.ID, err = parseID(id); err != nil {
		return nil, err
	}
	if u.OrganizationID, err = parseID(org); err != nil {
		return nil, err
	}
	return &u, nil
}
