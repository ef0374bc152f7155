package message

import "time"

// Direction of a message on a ticket timeline.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// Type classifies a message by its dominant content record.
type Type string

const (
	TypeText       Type = "TEXT"
	TypeImage      Type = "IMAGE"
	TypeVideo      Type = "VIDEO"
	TypeAudio      Type = "AUDIO"
	TypeDocument   Type = "DOCUMENT"
	TypeLocation   Type = "LOCATION"
	TypeContact    Type = "CONTACT"
	TypeTemplate   Type = "TEMPLATE"
	TypePoll       Type = "POLL"
	TypePollChoice Type = "POLL_CHOICE"
	TypeMedia      Type = "MEDIA"
	TypeUnknown    Type = "UNKNOWN"
)

// Status is the delivery state of a message. Broker ACKs move outbound
// messages through SENT -> DELIVERED -> READ monotonically.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// StatusRank orders ACK states. FAILED is terminal and orthogonal to the
// rank ladder, so it shares the floor with PENDING.
func StatusRank(s Status) int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// IsMediaType reports whether a message type carries a downloadable body.
func IsMediaType(t Type) bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return true
	}
	return false
}

// Message is one event on a ticket's timeline. Metadata is an opaque,
// broker-shaped JSON envelope; it evolves with the broker and is only
// interpreted structurally by the poll reconciler.
type Message struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"`
	TicketID    string         `json:"ticket_id"`
	Direction   Direction      `json:"direction"`
	Type        Type           `json:"type"`
	Content     string         `json:"content"`
	MediaURL    string         `json:"media_url,omitempty"`
	MimeType    string         `json:"mime_type,omitempty"`
	FileSize    int64          `json:"file_size,omitempty"`
	FileName    string         `json:"file_name,omitempty"`
	ExternalID  string         `json:"external_id,omitempty"`
	InstanceID  string         `json:"instance_id,omitempty"`
	Status      Status         `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
}

// AckUpdate is one broker delivery receipt applied to a stored outbound
// message.
type AckUpdate struct {
	Status     Status
	ReceivedAt time.Time
	InstanceID string
	Metadata   map[string]any
}
