package storage

import (
	"database/sql"
	"encoding/json"
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

// --- Persistence Models ---

type instanceModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	TenantID  string    `gorm:"column:tenant_id;not null;index;uniqueIndex:idx_instance_tenant_broker"`
	BrokerID  string    `gorm:"column:broker_id;not null;index;uniqueIndex:idx_instance_tenant_broker"`
	Name      string    `gorm:"column:name;not null"`
	Status    string    `gorm:"column:status;default:'DISCONNECTED'"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (instanceModel) TableName() string { return "whatsapp_instances" }

type queueModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	TenantID  string    `gorm:"column:tenant_id;not null;index;uniqueIndex:idx_queue_tenant_name"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:idx_queue_tenant_name"`
	IsDefault bool      `gorm:"column:is_default;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (queueModel) TableName() string { return "queues" }

type contactModel struct {
	ID           string         `gorm:"primaryKey;column:id"`
	TenantID     string         `gorm:"column:tenant_id;not null;index;uniqueIndex:idx_contact_tenant_identifier"`
	Identifier   string         `gorm:"column:identifier;not null;uniqueIndex:idx_contact_tenant_identifier"`
	DisplayName  sql.NullString `gorm:"column:display_name"`
	PrimaryPhone sql.NullString `gorm:"column:primary_phone"`
	Document     sql.NullString `gorm:"column:document"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;not null"`
}

func (contactModel) TableName() string { return "contacts" }

type ticketModel struct {
	ID                 string         `gorm:"primaryKey;column:id"`
	TenantID           string         `gorm:"column:tenant_id;not null;index:idx_ticket_tenant_chat"`
	ContactID          string         `gorm:"column:contact_id;not null;index"`
	QueueID            string         `gorm:"column:queue_id;not null"`
	ChatID             string         `gorm:"column:chat_id;not null;index:idx_ticket_tenant_chat"`
	Status             string         `gorm:"column:status;default:'OPEN';index"`
	AgreementID        sql.NullString `gorm:"column:agreement_id"`
	Metadata           sql.NullString `gorm:"column:metadata"` // JSON
	LastMessageAt      *time.Time     `gorm:"column:last_message_at"`
	LastMessagePreview sql.NullString `gorm:"column:last_message_preview"`
	CreatedAt          time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time      `gorm:"column:updated_at;not null"`
}

func (ticketModel) TableName() string { return "tickets" }

type messageModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	TenantID    string         `gorm:"column:tenant_id;not null;index;uniqueIndex:idx_message_tenant_external"`
	TicketID    string         `gorm:"column:ticket_id;not null;index"`
	Direction   string         `gorm:"column:direction;not null"`
	Type        string         `gorm:"column:type;not null"`
	Content     string         `gorm:"column:content"`
	MediaURL    sql.NullString `gorm:"column:media_url"`
	MimeType    sql.NullString `gorm:"column:mime_type"`
	FileSize    int64          `gorm:"column:file_size;default:0"`
	FileName    sql.NullString `gorm:"column:file_name"`
	ExternalID  *string        `gorm:"column:external_id;uniqueIndex:idx_message_tenant_external"`
	InstanceID  sql.NullString `gorm:"column:instance_id"`
	Status      string         `gorm:"column:status;default:'PENDING'"`
	Metadata    sql.NullString `gorm:"column:metadata"` // JSON
	CreatedAt   time.Time      `gorm:"column:created_at;not null;index"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null"`
	DeliveredAt *time.Time     `gorm:"column:delivered_at"`
	ReadAt      *time.Time     `gorm:"column:read_at"`
}

func (messageModel) TableName() string { return "messages" }

type pollMetadataModel struct {
	PollID               string         `gorm:"primaryKey;column:poll_id"`
	TenantID             string         `gorm:"column:tenant_id;not null;index"`
	InstanceID           sql.NullString `gorm:"column:instance_id"`
	Question             string         `gorm:"column:question"`
	Options              sql.NullString `gorm:"column:options"` // JSON
	AllowMultipleAnswers bool           `gorm:"column:allow_multiple_answers;default:false"`
	CreationMessageID    sql.NullString `gorm:"column:creation_message_id"`
	CreationMessageKey   sql.NullString `gorm:"column:creation_message_key"`
	MessageSecret        sql.NullString `gorm:"column:message_secret"`
	MessageSecretVersion int            `gorm:"column:message_secret_version;default:0"`
	CreatedAt            time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;not null"`
}

func (pollMetadataModel) TableName() string { return "poll_metadata" }

type processedEventModel struct {
	Key       string    `gorm:"primaryKey;column:key"`
	Payload   string    `gorm:"column:payload;type:text"` // JSON
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (processedEventModel) TableName() string { return "processed_integration_events" }

type mediaJobModel struct {
	ID                string         `gorm:"primaryKey;column:id"`
	TenantID          string         `gorm:"column:tenant_id;not null;index"`
	MessageID         string         `gorm:"column:message_id;not null;index"`
	MessageExternalID sql.NullString `gorm:"column:message_external_id"`
	InstanceID        sql.NullString `gorm:"column:instance_id"`
	BrokerID          sql.NullString `gorm:"column:broker_id"`
	MediaType         string         `gorm:"column:media_type;not null"`
	MediaKey          sql.NullString `gorm:"column:media_key"`
	DirectPath        sql.NullString `gorm:"column:direct_path"`
	Metadata          sql.NullString `gorm:"column:metadata"` // JSON
	Attempts          int            `gorm:"column:attempts;default:0"`
	NextRetryAt       time.Time      `gorm:"column:next_retry_at;not null;index"`
	State             string         `gorm:"column:state;default:'PENDING';index"`
	LastError         sql.NullString `gorm:"column:last_error"`
	CreatedAt         time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;not null"`
}

func (mediaJobModel) TableName() string { return "inbound_media_jobs" }

type leadModel struct {
	ID            string         `gorm:"primaryKey;column:id"`
	TenantID      string         `gorm:"column:tenant_id;not null;index;uniqueIndex:idx_lead_tenant_contact"`
	ContactID     string         `gorm:"column:contact_id;not null;uniqueIndex:idx_lead_tenant_contact"`
	DisplayName   sql.NullString `gorm:"column:display_name"`
	PrimaryPhone  sql.NullString `gorm:"column:primary_phone"`
	LastContactAt *time.Time     `gorm:"column:last_contact_at"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;not null"`
}

func (leadModel) TableName() string { return "leads" }

type leadActivityModel struct {
	ID        string         `gorm:"primaryKey;column:id"`
	TenantID  string         `gorm:"column:tenant_id;not null;index;uniqueIndex:idx_activity_tenant_message"`
	LeadID    string         `gorm:"column:lead_id;not null;index"`
	TicketID  sql.NullString `gorm:"column:ticket_id"`
	MessageID string         `gorm:"column:message_id;not null;uniqueIndex:idx_activity_tenant_message"`
	Kind      string         `gorm:"column:kind;not null"`
	Payload   sql.NullString `gorm:"column:payload"` // JSON
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

func (leadActivityModel) TableName() string { return "lead_activities" }

type campaignModel struct {
	ID          string         `gorm:"primaryKey;column:id"`
	TenantID    string         `gorm:"column:tenant_id;not null;index"`
	AgreementID sql.NullString `gorm:"column:agreement_id"`
	InstanceID  sql.NullString `gorm:"column:instance_id"`
	Name        string         `gorm:"column:name;not null"`
	Status      string         `gorm:"column:status;default:'ACTIVE';index"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
}

func (campaignModel) TableName() string { return "campaigns" }

type allocationModel struct {
	ID         string         `gorm:"primaryKey;column:id"`
	TenantID   string         `gorm:"column:tenant_id;not null;index"`
	LeadID     string         `gorm:"column:lead_id;not null;index"`
	CampaignID sql.NullString `gorm:"column:campaign_id"`
	InstanceID sql.NullString `gorm:"column:instance_id"`
	DedupeKey  string         `gorm:"column:dedupe_key;not null;uniqueIndex"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null"`
}

func (allocationModel) TableName() string { return "lead_allocations" }

type failedEventModel struct {
	ID        string    `gorm:"primaryKey;column:id"`
	TenantID  string    `gorm:"column:tenant_id;index"`
	Reason    string    `gorm:"column:reason;not null"`
	Payload   string    `gorm:"column:payload;type:text"` // JSON
	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (failedEventModel) TableName() string { return "failed_webhook_events" }

// --- Mappers ---

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func jsonString(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func jsonMap(ns sql.NullString) map[string]any {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

func toInstanceModel(in *instance.Instance) instanceModel {
	return instanceModel{
		ID:        in.ID,
		TenantID:  in.TenantID,
		BrokerID:  in.BrokerID,
		Name:      in.Name,
		Status:    string(in.Status),
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}
}

func fromInstanceModel(m instanceModel) *instance.Instance {
	return &instance.Instance{
		ID:        m.ID,
		TenantID:  m.TenantID,
		BrokerID:  m.BrokerID,
		Name:      m.Name,
		Status:    instance.Status(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func toQueueModel(q *queue.Queue) queueModel {
	return queueModel{
		ID:        q.ID,
		TenantID:  q.TenantID,
		Name:      q.Name,
		IsDefault: q.IsDefault,
		CreatedAt: q.CreatedAt,
		UpdatedAt: q.UpdatedAt,
	}
}

func fromQueueModel(m queueModel) *queue.Queue {
	return &queue.Queue{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		IsDefault: m.IsDefault,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func fromContactModel(m contactModel) *contact.Contact {
	return &contact.Contact{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Identifier:   m.Identifier,
		DisplayName:  nullStringValue(m.DisplayName),
		PrimaryPhone: nullStringValue(m.PrimaryPhone),
		Document:     nullStringValue(m.Document),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func fromTicketModel(m ticketModel) *ticket.Ticket {
	return &ticket.Ticket{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		ContactID:          m.ContactID,
		QueueID:            m.QueueID,
		ChatID:             m.ChatID,
		Status:             ticket.Status(m.Status),
		AgreementID:        nullStringValue(m.AgreementID),
		Metadata:           jsonMap(m.Metadata),
		LastMessageAt:      m.LastMessageAt,
		LastMessagePreview: nullStringValue(m.LastMessagePreview),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func toMessageModel(msg *message.Message) messageModel {
	var externalID *string
	if msg.ExternalID != "" {
		id := msg.ExternalID
		externalID = &id
	}
	return messageModel{
		ID:          msg.ID,
		TenantID:    msg.TenantID,
		TicketID:    msg.TicketID,
		Direction:   string(msg.Direction),
		Type:        string(msg.Type),
		Content:     msg.Content,
		MediaURL:    nullString(msg.MediaURL),
		MimeType:    nullString(msg.MimeType),
		FileSize:    msg.FileSize,
		FileName:    nullString(msg.FileName),
		ExternalID:  externalID,
		InstanceID:  nullString(msg.InstanceID),
		Status:      string(msg.Status),
		Metadata:    jsonString(msg.Metadata),
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
		DeliveredAt: msg.DeliveredAt,
		ReadAt:      msg.ReadAt,
	}
}

func fromMessageModel(m messageModel) *message.Message {
	externalID := ""
	if m.ExternalID != nil {
		externalID = *m.ExternalID
	}
	return &message.Message{
		ID:          m.ID,
		TenantID:    m.TenantID,
		TicketID:    m.TicketID,
		Direction:   message.Direction(m.Direction),
		Type:        message.Type(m.Type),
		Content:     m.Content,
		MediaURL:    nullStringValue(m.MediaURL),
		MimeType:    nullStringValue(m.MimeType),
		FileSize:    m.FileSize,
		FileName:    nullStringValue(m.FileName),
		ExternalID:  externalID,
		InstanceID:  nullStringValue(m.InstanceID),
		Status:      message.Status(m.Status),
		Metadata:    jsonMap(m.Metadata),
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		DeliveredAt: m.DeliveredAt,
		ReadAt:      m.ReadAt,
	}
}

func toPollMetadataModel(meta *poll.Metadata) pollMetadataModel {
	return pollMetadataModel{
		PollID:               meta.PollID,
		TenantID:             meta.TenantID,
		InstanceID:           nullString(meta.InstanceID),
		Question:             meta.Question,
		Options:              jsonString(meta.Options),
		AllowMultipleAnswers: meta.AllowMultipleAnswers,
		CreationMessageID:    nullString(meta.CreationMessageID),
		CreationMessageKey:   nullString(meta.CreationMessageKey),
		MessageSecret:        nullString(meta.MessageSecret),
		MessageSecretVersion: meta.MessageSecretVersion,
		CreatedAt:            meta.CreatedAt,
		UpdatedAt:            meta.UpdatedAt,
	}
}

func fromPollMetadataModel(m pollMetadataModel) *poll.Metadata {
	meta := &poll.Metadata{
		PollID:               m.PollID,
		TenantID:             m.TenantID,
		InstanceID:           nullStringValue(m.InstanceID),
		Question:             m.Question,
		AllowMultipleAnswers: m.AllowMultipleAnswers,
		CreationMessageID:    nullStringValue(m.CreationMessageID),
		CreationMessageKey:   nullStringValue(m.CreationMessageKey),
		MessageSecret:        nullStringValue(m.MessageSecret),
		MessageSecretVersion: m.MessageSecretVersion,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if m.Options.Valid && m.Options.String != "" {
		_ = json.Unmarshal([]byte(m.Options.String), &meta.Options)
	}
	return meta
}

func toMediaJobModel(job *media.Job) mediaJobModel {
	return mediaJobModel{
		ID:                job.ID,
		TenantID:          job.TenantID,
		MessageID:         job.MessageID,
		MessageExternalID: nullString(job.MessageExternalID),
		InstanceID:        nullString(job.InstanceID),
		BrokerID:          nullString(job.BrokerID),
		MediaType:         job.MediaType,
		MediaKey:          nullString(job.MediaKey),
		DirectPath:        nullString(job.DirectPath),
		Metadata:          jsonString(job.Metadata),
		Attempts:          job.Attempts,
		NextRetryAt:       job.NextRetryAt,
		State:             string(job.State),
		LastError:         nullString(job.LastError),
		CreatedAt:         job.CreatedAt,
		UpdatedAt:         job.UpdatedAt,
	}
}

func fromMediaJobModel(m mediaJobModel) media.Job {
	return media.Job{
		ID:                m.ID,
		TenantID:          m.TenantID,
		MessageID:         m.MessageID,
		MessageExternalID: nullStringValue(m.MessageExternalID),
		InstanceID:        nullStringValue(m.InstanceID),
		BrokerID:          nullStringValue(m.BrokerID),
		MediaType:         m.MediaType,
		MediaKey:          nullStringValue(m.MediaKey),
		DirectPath:        nullStringValue(m.DirectPath),
		Metadata:          jsonMap(m.Metadata),
		Attempts:          m.Attempts,
		NextRetryAt:       m.NextRetryAt,
		State:             media.JobState(m.State),
		LastError:         nullStringValue(m.LastError),
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func fromLeadModel(m leadModel) *lead.Lead {
	return &lead.Lead{
		ID:            m.ID,
		TenantID:      m.TenantID,
		ContactID:     m.ContactID,
		DisplayName:   nullStringValue(m.DisplayName),
		PrimaryPhone:  nullStringValue(m.PrimaryPhone),
		LastContactAt: m.LastContactAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromCampaignModel(m campaignModel) lead.Campaign {
	return lead.Campaign{
		ID:          m.ID,
		TenantID:    m.TenantID,
		AgreementID: nullStringValue(m.AgreementID),
		InstanceID:  nullStringValue(m.InstanceID),
		Name:        m.Name,
		Status:      m.Status,
		CreatedAt:   m.CreatedAt,
	}
}
