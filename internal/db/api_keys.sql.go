package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type InsertAPIKeyParams struct {
	ID                 uuid.UUID
	KeyHash            string
	Label              string
	IsAdmin            bool
	RateLimitPerMinute sql.NullInt32
	TenantID           sql.NullString
}

const insertAPIKey = `
INSERT INTO api_keys (id, key_hash, label, is_admin, rate_limit_per_minute, tenant_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, key_hash, label, is_admin, rate_limit_per_minute, tenant_id, created_at, revoked_at
`

func (q *Queries) InsertAPIKey(ctx context.Context, arg InsertAPIKeyParams) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, insertAPIKey,
		arg.ID, arg.KeyHash, arg.Label, arg.IsAdmin, arg.RateLimitPerMinute, arg.TenantID)
	var k ApiKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.Label, &k.IsAdmin, &k.RateLimitPerMinute, &k.TenantID,
		&k.CreatedAt, &k.RevokedAt)
	return k, err
}

const getAPIKeyByHash = `
SELECT id, key_hash, label, is_admin, rate_limit_per_minute, tenant_id, created_at, revoked_at
FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL
`

func (q *Queries) GetAPIKeyByHash(ctx context.Context, hash string) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, getAPIKeyByHash, hash)
	var k ApiKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.Label, &k.IsAdmin, &k.RateLimitPerMinute, &k.TenantID,
		&k.CreatedAt, &k.RevokedAt)
	return k, err
}

const adminRevokeAPIKey = `
UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL
RETURNING id, key_hash, label, is_admin, rate_limit_per_minute, tenant_id, created_at, revoked_at
`

func (q *Queries) AdminRevokeAPIKey(ctx context.Context, id uuid.UUID) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, adminRevokeAPIKey, id)
	var k ApiKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.Label, &k.IsAdmin, &k.RateLimitPerMinute, &k.TenantID,
		&k.CreatedAt, &k.RevokedAt)
	return k, err
}

type AdminCountAPIKeysParams struct {
	Column1 string
	Column2 bool
}

const adminCountAPIKeys = `
SELECT COUNT(*) FROM api_keys k
LEFT JOIN tenants t ON t.id::text = k.tenant_id
WHERE ($1 = '' OR k.label ILIKE '%' || $1 || '%' OR t.name ILIKE '%' || $1 || '%')
  AND ($2 OR k.revoked_at IS NULL)
`

func (q *Queries) AdminCountAPIKeys(ctx context.Context, arg AdminCountAPIKeysParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, adminCountAPIKeys, arg.Column1, arg.Column2)
	var total int64
	err := row.Scan(&total)
	return total, err
}

type AdminListAPIKeysParams struct {
	Column1 string
	Column2 bool
	Limit   int32
	Offset  int32
}

const adminListAPIKeys = `
SELECT k.id, k.label, k.is_admin, k.rate_limit_per_minute, k.tenant_id,
       t.name, t.slug, k.created_at, k.revoked_at
FROM api_keys k
LEFT JOIN tenants t ON t.id::text = k.tenant_id
WHERE ($1 = '' OR k.label ILIKE '%' || $1 || '%' OR t.name ILIKE '%' || $1 || '%')
  AND ($2 OR k.revoked_at IS NULL)
ORDER BY k.created_at DESC
LIMIT $3 OFFSET $4
`

func (q *Queries) AdminListAPIKeys(ctx context.Context, arg AdminListAPIKeysParams) ([]AdminAPIKeyRow, error) {
	rows, err := q.db.QueryContext(ctx, adminListAPIKeys, arg.Column1, arg.Column2, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdminAPIKeyRow
	for rows.Next() {
		var r AdminAPIKeyRow
		if err := rows.Scan(&r.ID, &r.Label, &r.IsAdmin, &r.RateLimitPerMinute, &r.TenantID,
			&r.TenantName, &r.TenantSlug, &r.CreatedAt, &r.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
