package usecase

import (
	"context"
	"time"

	"github.com/leadengine/whatsapp-ingest/domains/contact"
	"github.com/leadengine/whatsapp-ingest/domains/instance"
	"github.com/leadengine/whatsapp-ingest/domains/lead"
	"github.com/leadengine/whatsapp-ingest/domains/media"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/domains/poll"
	"github.com/leadengine/whatsapp-ingest/domains/queue"
	"github.com/leadengine/whatsapp-ingest/domains/ticket"
)

// Store is the persistence boundary of the ingestion core. Production
// code wires the gorm implementation from infrastructure/storage; tests
// use the same implementation against sqlite.
type Store interface {
	// Instances
	FindInstanceByID(ctx context.Context, id string) (*instance.Instance, error)
	FindInstanceByBrokerID(ctx context.Context, brokerID string) (*instance.Instance, error)
	FindInstanceByTenantBroker(ctx context.Context, tenantID, brokerID string) (*instance.Instance, error)
	FindFirstInstanceByTenant(ctx context.Context, tenantID string) (*instance.Instance, error)
	CreateInstance(ctx context.Context, inst *instance.Instance) (*instance.Instance, error)

	// Queues
	FindDefaultQueue(ctx context.Context, tenantID string) (*queue.Queue, error)
	CreateQueue(ctx context.Context, q *queue.Queue) (*queue.Queue, error)

	// Contacts
	FindOrCreateContact(ctx context.Context, tenantID, identifier string, attrs contact.Attributes) (*contact.Contact, error)

	// Tickets
	FindOrCreateOpenTicketByChat(ctx context.Context, tenantID, contactID, queueID, chatID string) (*ticket.Ticket, bool, error)
	FindTicketByID(ctx context.Context, tenantID, ticketID string) (*ticket.Ticket, error)

	// Messages
	CreateMessage(ctx context.Context, msg *message.Message) (*message.Message, bool, error)
	FindMessageByID(ctx context.Context, tenantID, id string) (*message.Message, error)
	FindMessageByExternalID(ctx context.Context, tenantID, externalID string) (*message.Message, error)
	UpdateMessage(ctx context.Context, msg *message.Message) error
	ApplyBrokerAck(ctx context.Context, tenantID, messageID string, upd message.AckUpdate) (*message.Message, error)
	FindPollVoteMessageCandidate(ctx context.Context, tenantID, pollID, chatID string, identifiers []string) (*message.Message, error)

	// Polls
	UpsertPollMetadata(ctx context.Context, meta *poll.Metadata) error
	GetPollMetadata(ctx context.Context, pollID string) (*poll.Metadata, error)
	UpsertProcessedEvent(ctx context.Context, key string, payload any) error
	GetProcessedEvent(ctx context.Context, key string, out any) error

	// Media jobs
	EnqueueMediaJob(ctx context.Context, job *media.Job) error
	FindPendingInboundMediaJobs(ctx context.Context, limit int, now time.Time) ([]media.Job, error)
	MarkInboundMediaJobProcessing(ctx context.Context, id string) (bool, error)
	CompleteInboundMediaJob(ctx context.Context, id string) error
	FailInboundMediaJob(ctx context.Context, id, reason string) error
	RescheduleInboundMediaJob(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error

	// Leads
	UpsertLeadByContact(ctx context.Context, tenantID, contactID string, attrs contact.Attributes) (*lead.Lead, error)
	AppendLeadActivity(ctx context.Context, activity *lead.Activity) (bool, error)
	ListActiveCampaigns(ctx context.Context, tenantID, instanceID string) ([]lead.Campaign, error)
	AddAllocations(ctx context.Context, tenantID string, allocs []lead.Allocation) (*lead.AllocationSummary, error)

	// DLQ
	SaveFailedEvent(ctx context.Context, tenantID, reason string, payload map[string]any) error
}

// Broker reaches the external WhatsApp gateway for media the webhook did
// not carry inline.
type Broker interface {
	// DownloadDirect fetches a broker-announced media URL (first chance,
	// short deadline).
	DownloadDirect(ctx context.Context, url string) (*MediaPayload, error)
	// DownloadMedia asks the broker to re-download by key/path (second
	// chance, longer deadline).
	DownloadMedia(ctx context.Context, req MediaDownloadRequest) (*MediaPayload, error)
}

// MediaDownloadRequest identifies media to the broker.
type MediaDownloadRequest struct {
	InstanceID string
	BrokerID   string
	MessageID  string
	MediaType  string
	MediaKey   string
	DirectPath string
}

// MediaPayload is one downloaded media body.
type MediaPayload struct {
	Data     []byte
	MimeType string
	FileName string
}

// MediaStore persists media bodies and issues (possibly signed) URLs.
type MediaStore interface {
	Put(ctx context.Context, tenantID, messageID, fileName, mimeType string, data []byte) (*media.Object, error)
}

// Provisioner creates the tenant-scoped records the pipeline depends on
// when they do not exist yet.
type Provisioner interface {
	EnsureInboundQueue(ctx context.Context, tenantID string) (*queue.Queue, error)
	InvalidateQueue(tenantID string)
	AutoProvisionInstance(ctx context.Context, tenantID, brokerID string) (*instance.Instance, error)
}

// FailedMessageDLQ receives payloads whose persistence failed terminally.
type FailedMessageDLQ interface {
	Send(ctx context.Context, tenantID, reason string, payload map[string]any) error
}
