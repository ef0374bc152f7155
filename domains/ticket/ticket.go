package ticket

import "time"

type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusPending Status = "PENDING"
	StatusClosed  Status = "CLOSED"
)

// Ticket is an open conversation with a contact. At most one OPEN ticket
// exists per (tenant_id, chat_id); closed tickets are reopened by creating
// a fresh row through FindOrCreateOpenTicketByChat.
type Ticket struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenant_id"`
	ContactID          string         `json:"contact_id"`
	QueueID            string         `json:"queue_id"`
	ChatID             string         `json:"chat_id"`
	Status             Status         `json:"status"`
	AgreementID        string         `json:"agreement_id,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
	LastMessageAt      *time.Time     `json:"last_message_at,omitempty"`
	LastMessagePreview string         `json:"last_message_preview,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}
