package http

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"

	"raito/internal/db"
)

func TestPrincipalFromAPIKey_PopulatesFields(t *testing.T) {
	tenantUUID := uuid.New()

	apiKey := db.ApiKey{
		ID:      uuid.New(),
		IsAdmin: true,
		TenantID: sql.NullString{
			String: tenantUUID.String(),
			Valid:  true,
		},
	}

	p := principalFromAPIKey(apiKey)

	if p.APIKeyID == nil || *p.APIKeyID != apiKey.ID {
		t.Fatalf("expected APIKeyID %v, got %#v", apiKey.ID, p.APIKeyID)
	}
	if !p.IsAdmin {
		t.Fatalf("expected IsAdmin=true")
	}
	if p.TenantID == nil || *p.TenantID != tenantUUID {
		t.Fatalf("expected TenantID %v, got %#v", tenantUUID, p.TenantID)
	}
}

func TestPrincipalFromAPIKey_NoTenant(t *testing.T) {
	apiKey := db.ApiKey{ID: uuid.New()}
	p := principalFromAPIKey(apiKey)
	if p.TenantID != nil {
		t.Fatalf("expected nil TenantID, got %#v", p.TenantID)
	}
	if p.IsAdmin {
		t.Fatalf("expected IsAdmin=false")
	}
}
