package redisstore

import (
	"context"
	"errors"
	"strconv"
	"strings"

	goSentinel "github.com/MrEthical07/goSentinel"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// PutTenant creates or replaces a tenant and its domain mapping. An empty ID
// is assigned a random UUID.
func (s *Store) PutTenant(ctx context.Context, tenant *goSentinel.Tenant) error {
	if tenant == nil || tenant.Domain == "" {
		return errors.New("redisstore: tenant domain is required")
	}
	if tenant.ID == "" {
		tenant.ID = uuid.NewString()
	}
	domain := strings.ToLower(strings.TrimSpace(tenant.Domain))

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.tenantKey(tenant.ID),
			"domain", domain,
			"active", boolField(tenant.IsActive),
			"maxsess", strconv.Itoa(tenant.MaxConcurrentSessions),
		)
		pipe.Set(ctx, s.domainKey(domain), tenant.ID, 0)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) TenantByDomain(ctx context.Context, domain string) (*goSentinel.Tenant, error) {
	id, err := s.redis.Get(ctx, s.domainKey(strings.ToLower(strings.TrimSpace(domain)))).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, goSentinel.ErrTenantNotResolved
		}
		return nil, unavailable(err)
	}
	return s.TenantByID(ctx, id)
}

func (s *Store) TenantByID(ctx context.Context, id string) (*goSentinel.Tenant, error) {
	h, err := s.redis.HGetAll(ctx, s.tenantKey(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(h) == 0 {
		return nil, goSentinel.ErrTenantNotResolved
	}
	maxSess, _ := strconv.Atoi(h["maxsess"])
	return &goSentinel.Tenant{
		ID:                    id,
		Domain:                h["domain"],
		IsActive:              h["active"] == "1",
		MaxConcurrentSessions: maxSess,
	}, nil
}
