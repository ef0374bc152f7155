package queue

import "time"

// Queue is a routing target for tickets. Exactly one default queue per
// tenant is guaranteed; it is provisioned lazily on first inbound message.
type Queue struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Name      string    `json:"name"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
