package lead

import "time"

// Lead mirrors a contact on the sales side, upserted once per
// (tenant_id, contact_id) and refreshed on every inbound message.
type Lead struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	ContactID     string     `json:"contact_id"`
	DisplayName   string     `json:"display_name,omitempty"`
	PrimaryPhone  string     `json:"primary_phone,omitempty"`
	LastContactAt *time.Time `json:"last_contact_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Activity is an audit entry on a lead's timeline, appended at most once
// per provider message id.
type Activity struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	LeadID    string         `json:"lead_id"`
	TicketID  string         `json:"ticket_id,omitempty"`
	MessageID string         `json:"message_id"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

const ActivityKindMessage = "LEAD_ACTIVITY"

// Campaign is an active outreach campaign an inbound lead may be
// allocated to.
type Campaign struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	AgreementID string    `json:"agreement_id,omitempty"`
	InstanceID  string    `json:"instance_id,omitempty"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Allocation links a lead to a campaign (or to the bare instance when no
// campaign is active). DedupeKey carries the idempotency key that guards
// against double allocation.
type Allocation struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	LeadID     string    `json:"lead_id"`
	CampaignID string    `json:"campaign_id,omitempty"`
	InstanceID string    `json:"instance_id,omitempty"`
	DedupeKey  string    `json:"dedupe_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllocationSummary is the roll-up returned after an allocation batch.
type AllocationSummary struct {
	Requested int `json:"requested"`
	Created   int `json:"created"`
	Skipped   int `json:"skipped"`
}
