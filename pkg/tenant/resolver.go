// Package tenant resolves tenant identifiers to connection descriptors and
// allow-lists. Tenant CRUD and credential storage live outside the core;
// this package defines the collaborator interfaces and ships a static
// YAML-backed resolver for single-binary deployments and tests.
package tenant

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/askdb-inc/askdb-engine/pkg/models"
)

// Resolver maps a tenant ID to its connection descriptor and table filter.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (*models.ConnectionDescriptor, models.AllowList, error)
}

// Credentials are the resolved secret material for one credential reference.
type Credentials struct {
	User     string
	Password string
}

// CredentialResolver turns an opaque credential reference into credentials.
// The core never stores or logs the resolved values.
type CredentialResolver interface {
	Resolve(ref string) (Credentials, error)
}

// tenantEntry is the YAML shape of one configured tenant.
type tenantEntry struct {
	Descriptor     models.ConnectionDescriptor `yaml:",inline"`
	AllowedTables  []string                    `yaml:"allowed_tables"`
	ExcludedTables []string                    `yaml:"excluded_tables"`
}

type tenantsFile struct {
	Tenants []tenantEntry `yaml:"tenants"`
}

// StaticResolver serves descriptors loaded once from a YAML file.
type StaticResolver struct {
	mu      sync.RWMutex
	entries map[string]tenantEntry
}

// LoadStatic reads tenant descriptors from a YAML file.
func LoadStatic(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	return ParseStatic(data)
}

// ParseStatic builds a resolver from YAML bytes.
func ParseStatic(data []byte) (*StaticResolver, error) {
	var f tenantsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tenants file: %w", err)
	}

	entries := make(map[string]tenantEntry, len(f.Tenants))
	for _, e := range f.Tenants {
		if e.Descriptor.TenantID == "" {
			return nil, fmt.Errorf("tenant entry missing tenant_id")
		}
		if e.Descriptor.ReadOnlyRole == "" {
			return nil, fmt.Errorf("tenant %s missing read_only_role", e.Descriptor.TenantID)
		}
		if e.Descriptor.MaxRows <= 0 {
			e.Descriptor.MaxRows = 500
		}
		if e.Descriptor.MaxStatementSeconds <= 0 {
			e.Descriptor.MaxStatementSeconds = 30
		}
		entries[e.Descriptor.TenantID] = e
	}

	return &StaticResolver{entries: entries}, nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, tenantID string) (*models.ConnectionDescriptor, models.AllowList, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[tenantID]
	if !ok {
		return nil, models.AllowList{}, fmt.Errorf("unknown tenant %q", tenantID)
	}
	desc := e.Descriptor
	return &desc, models.NewAllowList(e.AllowedTables, e.ExcludedTables), nil
}

var _ Resolver = (*StaticResolver)(nil)

// EnvCredentialResolver resolves credential references of the form
// "env:PREFIX", reading PREFIX_USER and PREFIX_PASSWORD from the process
// environment.
type EnvCredentialResolver struct{}

// Resolve implements CredentialResolver.
func (EnvCredentialResolver) Resolve(ref string) (Credentials, error) {
	const scheme = "env:"
	if len(ref) <= len(scheme) || ref[:len(scheme)] != scheme {
		return Credentials{}, fmt.Errorf("unsupported credential reference")
	}
	prefix := ref[len(scheme):]
	user := os.Getenv(prefix + "_USER")
	password := os.Getenv(prefix + "_PASSWORD")
	if user == "" {
		return Credentials{}, fmt.Errorf("credential reference resolved to empty user")
	}
	return Credentials{User: user, Password: password}, nil
}

var _ CredentialResolver = EnvCredentialResolver{}
