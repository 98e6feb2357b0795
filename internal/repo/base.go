package repo

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// localIDPrefix marks client-generated identifiers for rows that have
// not completed their first sync yet.
const localIDPrefix = "local-"

// Base provides a shared foundation for entity cache repositories.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// Scope restricts cache queries to one tenant and owning church. Every
// cached row belongs to exactly one of each; queries apply whichever
// parts are provided.
type Scope struct {
	TenantID string
	ChurchID string
}

// Apply adds the scope's WHERE clauses to the query.
func (s Scope) Apply(q *gorm.DB) *gorm.DB {
	if s.TenantID != "" {
		q = q.Where("tenant_id = ?", s.TenantID)
	}
	if s.ChurchID != "" {
		q = q.Where("church_id = ?", s.ChurchID)
	}
	return q
}

// NewLocalID generates a temporary identifier for an optimistic row
// awaiting its first successful sync.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether the identifier is a client-generated
// temporary one rather than a server-issued id.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}
