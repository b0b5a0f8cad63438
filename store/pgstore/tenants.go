package pgstore

import (
	"context"
	"errors"
	"strings"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/google/uuid"
)

// PutTenant inserts or replaces a tenant. An empty ID is assigned a random
// UUID.
func (s *Store) PutTenant(ctx context.Context, tenant *goSentinel.Tenant) error {
	if tenant == nil || tenant.Domain == "" {
		return errors.New("pgstore: tenant domain is required")
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, domain, is_active, max_concurrent_sessions)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			domain = EXCLUDED.domain,
			is_active = EXCLUDED.is_active,
			max_concurrent_sessions = EXCLUDED.max_concurrent_sessions`,
		tenant.ID, strings.ToLower(strings.TrimSpace(tenant.Domain)), tenant.IsActive, tenant.MaxConcurrentSessions,
	)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) TenantByDomain(ctx context.Context, domain string) (*goSentinel.Tenant, error) {
	return s.tenant(ctx, `WHERE domain = $1`, strings.ToLower(strings.TrimSpace(domain)))
}

func (s *Store) TenantByID(ctx context.Context, id string) (*goSentinel.Tenant, error) {
	return s.tenant(ctx, `WHERE id = $1`, id)
}

func (s *Store) tenant(ctx context.Context, where string, arg string) (*goSentinel.Tenant, error) {
	var t goSentinel.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, domain, is_active, max_concurrent_sessions FROM tenants `+where, arg,
	).Scan(&t.ID, &t.Domain, &t.IsActive, &t.MaxConcurrentSessions)
	if err != nil {
		if isNoRows(err) {
			return nil, goSentinel.ErrTenantNotResolved
		}
		return nil, unavailable(err)
	}
	return &t, nil
}
