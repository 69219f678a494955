package http

import (
	"github.com/google/uuid"

	"raito/internal/db"
)

// Principal represents the authenticated identity for a request: the
// API key that authenticated it, the team (tenant) it acts on behalf
// of, and whether it carries admin privileges. There is no user/session
// concept here — every caller is an API-key-authenticated automation
// client, and identity is keyed by team alone.
type Principal struct {
	APIKeyID *uuid.UUID
	TenantID *uuid.UUID
	IsAdmin  bool
}

// principalFromAPIKey builds a Principal from a db.ApiKey row.
func principalFromAPIKey(k db.ApiKey) Principal {
	p := Principal{IsAdmin: k.IsAdmin}

	id := k.ID
	p.APIKeyID = &id

	if k.TenantID.Valid {
		if parsed, err := uuid.Parse(k.TenantID.String); err == nil {
			p.TenantID = &parsed
		}
	}

	return p
}
