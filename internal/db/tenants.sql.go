package db

import (
	"context"

	"github.com/google/uuid"
)

type CreateTenantParams struct {
	ID   uuid.UUID
	Slug string
	Name string
	Type string
}

const createTenant = `
INSERT INTO tenants (id, slug, name, type)
VALUES ($1, $2, $3, $4)
RETURNING id, slug, name, type, created_at, updated_at, default_api_key_rate_limit_per_minute
`

func (q *Queries) CreateTenant(ctx context.Context, arg CreateTenantParams) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, createTenant, arg.ID, arg.Slug, arg.Name, arg.Type)
	return scanTenant(row)
}

const getTenantByID = `
SELECT id, slug, name, type, created_at, updated_at, default_api_key_rate_limit_per_minute
FROM tenants WHERE id = $1
`

func (q *Queries) GetTenantByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, getTenantByID, id)
	return scanTenant(row)
}

const getTenantBySlug = `
SELECT id, slug, name, type, created_at, updated_at, default_api_key_rate_limit_per_minute
FROM tenants WHERE slug = $1
`

func (q *Queries) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	row := q.db.QueryRowContext(ctx, getTenantBySlug, slug)
	return scanTenant(row)
}

const listAllTenantIDs = `SELECT id FROM tenants`

// ListAllTenantIDs returns every tenant id, used by the admission
// Promoter to know which teams to sweep for deferred jobs without
// scanning Redis for every possible team ID.
func (q *Queries) ListAllTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, listAllTenantIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row rowScanner) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Type, &t.CreatedAt, &t.UpdatedAt,
		&t.DefaultApiKeyRateLimitPerMinute)
	return t, err
}
