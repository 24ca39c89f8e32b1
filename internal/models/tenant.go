package models

import "time"

type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "active"
	TenantStatusInactive TenantStatus = "inactive"
	TenantStatusRevoked  TenantStatus = "revoked"
)

// Tenant is an API client that owns sessions and webhooks. Tenants are
// created by an admin or seed process and are never hard-deleted.
type Tenant struct {
	ID        int64        `db:"id" json:"id"`
	Name      string       `db:"name" json:"name"`
	Token     string       `db:"token" json:"-"`
	Status    TenantStatus `db:"status" json:"status"`
	CreatedAt time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time    `db:"updated_at" json:"updatedAt"`
}

func (t *Tenant) Active() bool {
	return t.Status == TenantStatusActive
}
