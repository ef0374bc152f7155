package contact

import "time"

// Contact is a person addressable by phone or by a deterministic
// identifier derived from the broker payload when no phone is available.
type Contact struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Identifier   string    `json:"identifier"`
	DisplayName  string    `json:"display_name"`
	PrimaryPhone string    `json:"primary_phone,omitempty"`
	Document     string    `json:"document,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Attributes are the merge candidates applied on every sighting of a
// contact. Empty fields never overwrite stored values.
type Attributes struct {
	DisplayName  string
	PrimaryPhone string
	Document     string
}
