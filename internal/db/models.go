package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ApiKey is a row of the api_keys table.
type ApiKey struct {
	ID                 uuid.UUID
	KeyHash            string
	Label              string
	IsAdmin            bool
	RateLimitPerMinute sql.NullInt32
	TenantID           sql.NullString
	CreatedAt          time.Time
	RevokedAt          sql.NullTime
}

// AdminAPIKeyRow is the joined projection used by the admin API key
// listing endpoint (api_keys left-joined to tenants).
type AdminAPIKeyRow struct {
	ID                 uuid.UUID
	Label              string
	IsAdmin            bool
	RateLimitPerMinute sql.NullInt32
	TenantID           sql.NullString
	TenantName         sql.NullString
	TenantSlug         sql.NullString
	CreatedAt          time.Time
	RevokedAt          sql.NullTime
}

// Tenant is a row of the tenants table. In this service a tenant is a
// billing team: the team id used by admission and billing is the
// tenant id.
type Tenant struct {
	ID                              uuid.UUID
	Slug                            string
	Name                            string
	Type                            string
	CreatedAt                       time.Time
	UpdatedAt                       time.Time
	DefaultApiKeyRateLimitPerMinute sql.NullInt32
}
