package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"raito/internal/db"
	"raito/internal/store"
)

// Admin endpoints provision the two things operators manage by hand:
// teams (tenants) and the API keys that authenticate against them.
// Everything else an operator needs to see — queue depth, admission
// usage, engine fallback counts — is already exposed at GET
// /admin/metrics via internal/metrics and the admission/queue
// renderers, not a bespoke CRUD surface.

type createAPIKeyRequest struct {
	Label              string `json:"label"`
	TenantID           string `json:"tenantId,omitempty"`
	IsAdmin            bool   `json:"isAdmin,omitempty"`
	RateLimitPerMinute *int   `json:"rateLimitPerMinute,omitempty"`
}

type createAPIKeyResponse struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
}

// adminCreateAPIKeyHandler creates a new API key and returns the raw
// key once; only the SHA-256 hash is persisted.
func adminCreateAPIKeyHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	var req createAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	if strings.TrimSpace(req.Label) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "label is required",
		})
	}

	var tenantID *string
	if req.TenantID != "" {
		tenantID = &req.TenantID
	}

	rawKey, _, err := st.CreateRandomAPIKey(c.Context(), req.Label, req.IsAdmin, req.RateLimitPerMinute, tenantID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "API_KEY_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(createAPIKeyResponse{
		Success: true,
		Key:     rawKey,
	})
}

type adminAPIKeyItem struct {
	ID                 string     `json:"id"`
	Label              string     `json:"label"`
	IsAdmin            bool       `json:"isAdmin"`
	RateLimitPerMinute *int       `json:"rateLimitPerMinute,omitempty"`
	TenantID           *string    `json:"tenantId,omitempty"`
	TenantName         *string    `json:"tenantName,omitempty"`
	TenantSlug         *string    `json:"tenantSlug,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	RevokedAt          *time.Time `json:"revokedAt,omitempty"`
}

type adminAPIKeysResponse struct {
	Success bool              `json:"success"`
	Total   int64             `json:"total"`
	Keys    []adminAPIKeyItem `json:"keys"`
}

// adminListAPIKeysHandler lists API keys, optionally filtered by a
// label/tenant-name substring query and whether revoked keys are
// included.
func adminListAPIKeysHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)
	q := db.New(st.DB)

	query := c.Query("query")

	includeRevoked := false
	if v := c.Query("includeRevoked"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid includeRevoked value; expected true or false",
			})
		}
		includeRevoked = parsed
	}

	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid limit value",
			})
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}

	offset := 0
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "BAD_REQUEST",
				Error:   "invalid offset value",
			})
		}
		offset = n
	}

	total, err := q.AdminCountAPIKeys(c.Context(), db.AdminCountAPIKeysParams{
		Column1: query,
		Column2: includeRevoked,
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "ADMIN_API_KEYS_COUNT_FAILED",
			Error:   err.Error(),
		})
	}

	rows, err := q.AdminListAPIKeys(c.Context(), db.AdminListAPIKeysParams{
		Column1: query,
		Column2: includeRevoked,
		Limit:   int32(limit),
		Offset:  int32(offset),
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "ADMIN_API_KEYS_LIST_FAILED",
			Error:   err.Error(),
		})
	}

	keys := make([]adminAPIKeyItem, 0, len(rows))
	for _, row := range rows {
		item := adminAPIKeyItem{
			ID:        row.ID.String(),
			Label:     row.Label,
			IsAdmin:   row.IsAdmin,
			CreatedAt: row.CreatedAt,
		}
		if row.RateLimitPerMinute.Valid {
			v := int(row.RateLimitPerMinute.Int32)
			item.RateLimitPerMinute = &v
		}
		if row.TenantID.Valid {
			v := row.TenantID.String
			item.TenantID = &v
		}
		if row.RevokedAt.Valid {
			v := row.RevokedAt.Time
			item.RevokedAt = &v
		}
		if row.TenantName.Valid {
			v := row.TenantName.String
			item.TenantName = &v
		}
		if row.TenantSlug.Valid {
			v := row.TenantSlug.String
			item.TenantSlug = &v
		}
		keys = append(keys, item)
	}

	return c.Status(fiber.StatusOK).JSON(adminAPIKeysResponse{
		Success: true,
		Total:   total,
		Keys:    keys,
	})
}

type adminRevokeAPIKeyResponse struct {
	Success   bool      `json:"success"`
	ID        string    `json:"id"`
	RevokedAt time.Time `json:"revokedAt"`
}

func adminRevokeAPIKeyHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)
	q := db.New(st.DB)

	rawID := c.Params("id")
	keyID, err := uuid.Parse(rawID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "invalid api key id",
		})
	}

	row, err := q.AdminRevokeAPIKey(c.Context(), keyID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Success: false,
			Code:    "NOT_FOUND",
			Error:   "api key not found or already revoked",
		})
	}

	if !row.RevokedAt.Valid {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "ADMIN_API_KEY_REVOKE_FAILED",
			Error:   "api key revoked timestamp missing",
		})
	}

	return c.Status(fiber.StatusOK).JSON(adminRevokeAPIKeyResponse{
		Success:   true,
		ID:        row.ID.String(),
		RevokedAt: row.RevokedAt.Time,
	})
}

type adminCreateTenantRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

type adminTenantItem struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type adminTenantResponse struct {
	Success bool             `json:"success"`
	Tenant  *adminTenantItem `json:"tenant,omitempty"`
}

// adminCreateTenantHandler creates a new team (tenant). A team is
// identified in admission/billing by its tenant UUID — registering one
// here only makes it visible to the promoter's sweep and admin
// listings, it does not itself grant concurrency or credits (those
// live in the in-memory identity provider, which this handler does not
// update).
func adminCreateTenantHandler(c *fiber.Ctx) error {
	st := c.Locals("store").(*store.Store)

	var req adminCreateTenantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST_INVALID_JSON",
			Error:   "Bad request, malformed JSON",
		})
	}

	req.Slug = strings.TrimSpace(strings.ToLower(req.Slug))
	req.Name = strings.TrimSpace(req.Name)
	if req.Slug == "" || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Success: false,
			Code:    "BAD_REQUEST",
			Error:   "slug and name are required",
		})
	}

	typeVal := strings.TrimSpace(strings.ToLower(req.Type))
	if typeVal == "" {
		typeVal = "org"
	}

	tenant, err := st.CreateTenant(c.Context(), req.Slug, req.Name, typeVal)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Success: false,
				Code:    "CONFLICT",
				Error:   "tenant slug already exists",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Success: false,
			Code:    "TENANT_CREATE_FAILED",
			Error:   err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(adminTenantResponse{
		Success: true,
		Tenant: &adminTenantItem{
			ID:        tenant.ID.String(),
			Slug:      tenant.Slug,
			Name:      tenant.Name,
			Type:      tenant.Type,
			CreatedAt: tenant.CreatedAt,
		},
	})
}
