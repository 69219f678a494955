package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"raito/internal/db"
)

// Store wraps access to the database via sqlc-generated Queries. The
// schema it fronts is deliberately small: tenants (billing teams) and
// the API keys that authenticate against them. Everything else this
// service tracks — crawl frontiers, queued scrape jobs, documents — is
// NuQ/Redis state owned by internal/queue and internal/kv, not SQL.
type Store struct {
	DB *sql.DB
}

// hashAPIKey hashes a raw API key string using SHA-256 and returns a hex string.
func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// New creates a new Store that uses a shared *sql.DB with pooling.
func New(database *sql.DB) *Store {
	return &Store{DB: database}
}

// withQueries constructs a sqlc Queries wrapper on the shared *sql.DB and
// executes the callback.
func (s *Store) withQueries(ctx context.Context, fn func(ctx context.Context, q *db.Queries) error) error {
	q := db.New(s.DB)
	return fn(ctx, q)
}

// ListTenantIDs returns every tenant's ID as a string, used by the
// admission Promoter to know which teams to sweep for deferred jobs
// without scanning Redis for every possible team ID.
func (s *Store) ListTenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.withQueries(ctx, func(ctx context.Context, q *db.Queries) error {
		tenantIDs, err := q.ListAllTenantIDs(ctx)
		if err != nil {
			return err
		}
		ids = make([]string, len(tenantIDs))
		for i, id := range tenantIDs {
			ids[i] = id.String()
		}
		return nil
	})
	return ids, err
}

// GetAPIKeyByRawKey looks up an API key by its raw value.
func (s *Store) GetAPIKeyByRawKey(ctx context.Context, rawKey string) (db.ApiKey, error) {
	hash := hashAPIKey(rawKey)
	var key db.ApiKey

	err := s.withQueries(ctx, func(ctx context.Context, q *db.Queries) error {
		var err error
		key, err = q.GetAPIKeyByHash(ctx, hash)
		return err
	})

	return key, err
}

// EnsureAdminAPIKey ensures that there is an admin API key for the given raw key and label.
// If it already exists, it is returned; otherwise, it is created.
func (s *Store) EnsureAdminAPIKey(ctx context.Context, rawKey, label string) (db.ApiKey, error) {
	hash := hashAPIKey(rawKey)
	var out db.ApiKey

	err := s.withQueries(ctx, func(ctx context.Context, q *db.Queries) error {
		key, err := q.GetAPIKeyByHash(ctx, hash)
		if err == nil {
			out = key
			return nil
		}
		if err != nil && err != sql.ErrNoRows {
			return err
		}

		id := uuid.New()
		key, err = q.InsertAPIKey(ctx, db.InsertAPIKeyParams{
			ID:                 id,
			KeyHash:            hash,
			Label:              label,
			IsAdmin:            true,
			RateLimitPerMinute: sql.NullInt32{},
			TenantID:           sql.NullString{},
		})
		if err != nil {
			return err
		}
		out = key
		return nil
	})

	return out, err
}

// CreateRandomAPIKey creates a new random API key (with raito_ prefix).
// It returns the raw key plus the stored record.
func (s *Store) CreateRandomAPIKey(ctx context.Context, label string, isAdmin bool, rateLimitPerMinute *int, tenantID *string) (string, db.ApiKey, error) {
	raw := "raito_" + uuid.New().String()
	hash := hashAPIKey(raw)
	var out db.ApiKey

	err := s.withQueries(ctx, func(ctx context.Context, q *db.Queries) error {
		var rl sql.NullInt32
		if rateLimitPerMinute != nil && *rateLimitPerMinute > 0 {
			rl = sql.NullInt32{Int32: int32(*rateLimitPerMinute), Valid: true}
		}
		var tenant sql.NullString
		if tenantID != nil && *tenantID != "" {
			tenant = sql.NullString{String: *tenantID, Valid: true}
		}

		id := uuid.New()
		key, err := q.InsertAPIKey(ctx, db.InsertAPIKeyParams{
			ID:                 id,
			KeyHash:            hash,
			Label:              label,
			IsAdmin:            isAdmin,
			RateLimitPerMinute: rl,
			TenantID:           tenant,
		})
		if err != nil {
			return err
		}
		out = key
		return nil
	})

	return raw, out, err
}

// CreateTenant creates a new team (tenant) row.
func (s *Store) CreateTenant(ctx context.Context, slug, name, tenantType string) (db.Tenant, error) {
	var out db.Tenant
	err := s.withQueries(ctx, func(ctx context.Context, q *db.Queries) error {
		var err error
		out, err = q.CreateTenant(ctx, db.CreateTenantParams{
			ID:   uuid.New(),
			Slug: slug,
			Name: name,
			Type: tenantType,
		})
		return err
	})
	return out, err
}
