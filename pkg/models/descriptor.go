package models

import (
	"strings"
	"time"
)

// ConnectionDescriptor identifies a tenant's database and the execution
// bounds that apply to it. It is owned by the tenant configuration
// collaborator and borrowed read-only by the core; never mutate one after
// resolution.
type ConnectionDescriptor struct {
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Schema   string `json:"schema" yaml:"schema"`

	// CredentialRef is an opaque reference resolved by the external
	// credential collaborator. The core never sees raw credentials.
	CredentialRef string `json:"credential_ref" yaml:"credential_ref"`

	// ReadOnlyRole is the session role switched to on every checkout.
	ReadOnlyRole string `json:"read_only_role" yaml:"read_only_role"`

	// MaxRows caps rows returned per query (enforced by LIMIT injection
	// and by the row collector).
	MaxRows int `json:"max_rows" yaml:"max_rows"`

	// MaxStatementSeconds bounds server-side statement execution time.
	MaxStatementSeconds int `json:"max_statement_seconds" yaml:"max_statement_seconds"`
}

// StatementTimeout returns the statement timeout as a duration.
func (d *ConnectionDescriptor) StatementTimeout() time.Duration {
	return time.Duration(d.MaxStatementSeconds) * time.Second
}

// AllowList is a per-tenant table filter used by the statement validator.
// An empty allowed set means all tables are allowed; the excluded set always
// wins over the allowed set. Lookups are case-insensitive.
type AllowList struct {
	allowed  map[string]struct{}
	excluded map[string]struct{}
}

// NewAllowList builds an AllowList from allowed and excluded table names.
func NewAllowList(allowed, excluded []string) AllowList {
	al := AllowList{
		allowed:  make(map[string]struct{}, len(allowed)),
		excluded: make(map[string]struct{}, len(excluded)),
	}
	for _, t := range allowed {
		al.allowed[normalizeTable(t)] = struct{}{}
	}
	for _, t := range excluded {
		al.excluded[normalizeTable(t)] = struct{}{}
	}
	return al
}

// Permits reports whether the table may be referenced. Both the qualified
// name and the bare table name are checked, so "public.orders" matches an
// entry for either "public.orders" or "orders".
func (al AllowList) Permits(table string) bool {
	qualified := normalizeTable(table)
	bare := qualified
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		bare = qualified[idx+1:]
	}

	if al.contains(al.excluded, qualified, bare) {
		return false
	}
	if len(al.allowed) == 0 {
		return true
	}
	return al.contains(al.allowed, qualified, bare)
}

// Restricted reports whether the allow-list constrains table access at all.
func (al AllowList) Restricted() bool {
	return len(al.allowed) > 0 || len(al.excluded) > 0
}

func (al AllowList) contains(set map[string]struct{}, names ...string) bool {
	for _, n := range names {
		if _, ok := set[n]; ok {
			return true
		}
	}
	return false
}

func normalizeTable(name string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(name), `"`))
}
