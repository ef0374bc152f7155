package instance

import "time"

type Status string

const (
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusProvisioning Status = "provisioning"
)

// Instance is a WhatsApp session owned by a tenant and bound to the
// external broker. BrokerID is unique across the whole table; the pair
// (tenant_id, broker_id) is the canonical lookup key.
type Instance struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	BrokerID  string    `json:"broker_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
