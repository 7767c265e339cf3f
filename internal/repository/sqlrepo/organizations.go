package sqlrepo

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/gearguard/internal/model"
	"github.com/and161185/gearguard/internal/store"
)

// OrganizationRepo implements repository.OrganizationRepository.
type OrganizationRepo struct {
	db  DB
	now func() time.Time
}

// NewOrganizationRepo constructs an organization repository.
func NewOrganizationRepo(db DB) *OrganizationRepo { return &OrganizationRepo{db: db, now: utcNow} }

// Create inserts a tenant.
func (r *OrganizationRepo) Create(ctx context.Context, o *model.Organization) error {
	return insertOrganization(ctx, r.db, o, r.now())
}

// Exists reports whether a tenant with id exists.
func (r *OrganizationRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM organizations WHERE id = $1`, id.String()).Scan(&n); err != nil {
		return false, mapErr(err)
	}
	return n > 0, nil
}

func insertOrganization(ctx context.Context, q store.Querier, o *model.Organization, now time.Time) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	_, err := q.Exec(ctx, `INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`,
		o.ID.String(), o.Name, o.CreatedAt)
	return mapErr(err)
}
