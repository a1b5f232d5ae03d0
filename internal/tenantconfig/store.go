// Package tenantconfig resolves per-store branding and persona records from
// the parameter store. Adding a new store is adding one parameter; no code
// changes.
package tenantconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"budtender-agent/internal/domain"
	"budtender-agent/internal/integrations/paramstore"
)

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

type Lister interface {
	ListByPath(ctx context.Context, path string) (map[string]string, error)
}

// Store loads tenant configuration documents stored as JSON under
// <prefix>/tenants/<tenantId> and caches them per tenant for the process
// lifetime.
type Store struct {
	params Getter
	lister Lister
	prefix string

	mu    sync.RWMutex
	cache map[string]domain.TenantConfig
}

func New(params Getter, lister Lister, prefix string) (*Store, error) {
	if params == nil {
		return nil, errors.New("tenantconfig: param getter must not be nil")
	}
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("tenantconfig: parameter prefix must not be empty")
	}
	return &Store{
		params: params,
		lister: lister,
		prefix: prefix,
		cache:  make(map[string]domain.TenantConfig),
	}, nil
}

func (s *Store) tenantParameterName(tenantID string) string {
	return s.prefix + "/tenants/" + tenantID
}

// GetTenant returns the configuration for one tenant. A missing parameter is
// reported as domain.ErrUnknownTenant so callers can surface it as a
// client-correctable error.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (domain.TenantConfig, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return domain.TenantConfig{}, errors.New("tenantconfig: tenant id is required")
	}

	s.mu.RLock()
	cached, ok := s.cache[tenantID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	raw, err := s.params.GetParameter(ctx, s.tenantParameterName(tenantID))
	if err != nil {
		if errors.Is(err, paramstore.ErrParameterNotFound) {
			return domain.TenantConfig{}, fmt.Errorf("%w: %s", domain.ErrUnknownTenant, tenantID)
		}
		return domain.TenantConfig{}, fmt.Errorf("tenantconfig: load tenant %q: %w", tenantID, err)
	}

	cfg, err := decodeTenant(tenantID, raw)
	if err != nil {
		return domain.TenantConfig{}, err
	}

	s.mu.Lock()
	s.cache[tenantID] = cfg
	s.mu.Unlock()
	return cfg, nil
}

// ListTenants returns every configured tenant, ordered by tenant id. Used by
// the admin listing endpoint; results are not cached since the listing is
// rare and should reflect newly added stores.
func (s *Store) ListTenants(ctx context.Context) ([]domain.TenantConfig, error) {
	if s.lister == nil {
		return nil, errors.New("tenantconfig: lister not configured")
	}

	values, err := s.lister.ListByPath(ctx, s.prefix+"/tenants")
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: list tenants: %w", err)
	}

	tenants := make([]domain.TenantConfig, 0, len(values))
	for name, raw := range values {
		id := name[strings.LastIndex(name, "/")+1:]
		cfg, err := decodeTenant(id, raw)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, cfg)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].TenantID < tenants[j].TenantID })
	return tenants, nil
}

func decodeTenant(tenantID, raw string) (domain.TenantConfig, error) {
	var cfg domain.TenantConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return domain.TenantConfig{}, fmt.Errorf("tenantconfig: decode tenant %q: %w", tenantID, err)
	}
	if cfg.SystemPrompt == "" {
		return domain.TenantConfig{}, fmt.Errorf("tenantconfig: tenant %q has no system prompt", tenantID)
	}
	cfg.TenantID = tenantID
	return cfg, nil
}
