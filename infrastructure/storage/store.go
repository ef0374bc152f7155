// Package storage is the gorm-backed persistence layer of the ingestion
// core. One Store implements every usecase port against postgres in
// production and sqlite in tests and degraded mode.
package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leadengine/whatsapp-ingest/core/database"
	"github.com/leadengine/whatsapp-ingest/domains/contact"
	"github.com/leadengine/whatsapp-ingest/domains/instance"
	"github.com/leadengine/whatsapp-ingest/domains/lead"
	"github.com/leadengine/whatsapp-ingest/domains/media"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/domains/poll"
	"github.com/leadengine/whatsapp-ingest/domains/queue"
	"github.com/leadengine/whatsapp-ingest/domains/ticket"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
	"github.com/leadengine/whatsapp-ingest/usecase"
)

type Store struct {
	db       *gorm.DB
	degraded bool
}

func New(conn *database.Connection) *Store {
	return &Store{db: conn.DB, degraded: conn.Degraded}
}

// Init migrates the schema. The partial unique index on open tickets is
// created with raw SQL since gorm tags cannot express it; postgres and
// sqlite both support it.
func (s *Store) Init(ctx context.Context) error {
	err := s.db.WithContext(ctx).AutoMigrate(
		&instanceModel{},
		&queueModel{},
		&contactModel{},
		&ticketModel{},
		&messageModel{},
		&pollMetadataModel{},
		&processedEventModel{},
		&mediaJobModel{},
		&leadModel{},
		&leadActivityModel{},
		&campaignModel{},
		&allocationModel{},
		&failedEventModel{},
	)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_open_chat ON tickets (tenant_id, chat_id) WHERE status = 'OPEN'`,
	).Error
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// Degraded reports whether the store runs without persistent storage.
func (s *Store) Degraded() bool {
	return s.degraded
}

func (s *Store) writable() error {
	if s.degraded {
		return apperror.StorageDisabledError("storage is disabled, DATABASE_URL is not configured")
	}
	return nil
}

// --- Instances ---

func (s *Store) FindInstanceByID(ctx context.Context, id string) (*instance.Instance, error) {
	var m instanceModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("instance not found")
		}
		return nil, err
	}
	return fromInstanceModel(m), nil
}

func (s *Store) FindInstanceByBrokerID(ctx context.Context, brokerID string) (*instance.Instance, error) {
	var m instanceModel
	if err := s.db.WithContext(ctx).Where("broker_id = ?", brokerID).Order("created_at").First(&m).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("instance not found")
		}
		return nil, err
	}
	return fromInstanceModel(m), nil
}

func (s *Store) FindInstanceByTenantBroker(ctx context.Context, tenantID, brokerID string) (*instance.Instance, error) {
	var m instanceModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND broker_id = ?", tenantID, brokerID).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("instance not found")
		}
		return nil, err
	}
	return fromInstanceModel(m), nil
}

func (s *Store) FindFirstInstanceByTenant(ctx context.Context, tenantID string) (*instance.Instance, error) {
	var m instanceModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("instance not found")
		}
		return nil, err
	}
	return fromInstanceModel(m), nil
}

func (s *Store) CreateInstance(ctx context.Context, inst *instance.Instance) (*instance.Instance, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	m := toInstanceModel(inst)
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.ConflictError{Message: "instance already exists for this broker"}
		}
		return nil, err
	}
	return fromInstanceModel(m), nil
}

// --- Queues ---

func (s *Store) FindDefaultQueue(ctx context.Context, tenantID string) (*queue.Queue, error) {
	var m queueModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_default = ?", tenantID, true).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("default queue not found")
		}
		return nil, err
	}
	return fromQueueModel(m), nil
}

func (s *Store) CreateQueue(ctx context.Context, q *queue.Queue) (*queue.Queue, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	m := toQueueModel(q)
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.ConflictError{Message: "queue already exists"}
		}
		return nil, err
	}
	return fromQueueModel(m), nil
}

// --- Contacts ---

// FindOrCreateContact merges the attributes on every sighting; empty
// candidates never overwrite stored values.
func (s *Store) FindOrCreateContact(ctx context.Context, tenantID, identifier string, attrs contact.Attributes) (*contact.Contact, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	var out *contact.Contact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m contactModel
		err := tx.Where("tenant_id = ? AND identifier = ?", tenantID, identifier).First(&m).Error
		if err == nil {
			changed := false
			if attrs.DisplayName != "" && !m.DisplayName.Valid {
				m.DisplayName = nullString(attrs.DisplayName)
				changed = true
			}
			if attrs.PrimaryPhone != "" && !m.PrimaryPhone.Valid {
				m.PrimaryPhone = nullString(attrs.PrimaryPhone)
				changed = true
			}
			if attrs.Document != "" && !m.Document.Valid {
				m.Document = nullString(attrs.Document)
				changed = true
			}
			if changed {
				m.UpdatedAt = time.Now().UTC()
				if err := tx.Save(&m).Error; err != nil {
					return err
				}
			}
			out = fromContactModel(m)
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		now := time.Now().UTC()
		m = contactModel{
			ID:           uuid.NewString(),
			TenantID:     tenantID,
			Identifier:   identifier,
			DisplayName:  nullString(attrs.DisplayName),
			PrimaryPhone: nullString(attrs.PrimaryPhone),
			Document:     nullString(attrs.Document),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				// Concurrent insert won; re-read the winner.
				if err := tx.Where("tenant_id = ? AND identifier = ?", tenantID, identifier).First(&m).Error; err != nil {
					return err
				}
				out = fromContactModel(m)
				return nil
			}
			return err
		}
		out = fromContactModel(m)
		return nil
	})
	return out, err
}

// --- Tickets ---

func (s *Store) FindOrCreateOpenTicketByChat(ctx context.Context, tenantID, contactID, queueID, chatID string) (*ticket.Ticket, bool, error) {
	if err := s.writable(); err != nil {
		return nil, false, err
	}
	var (
		out     *ticket.Ticket
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m ticketModel
		err := tx.Where("tenant_id = ? AND chat_id = ? AND status = ?", tenantID, chatID, string(ticket.StatusOpen)).
			First(&m).Error
		if err == nil {
			out = fromTicketModel(m)
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		var q queueModel
		if err := tx.First(&q, "id = ?", queueID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperror.NotFoundError("queue not found")
			}
			return err
		}

		now := time.Now().UTC()
		m = ticketModel{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			ContactID: contactID,
			QueueID:   queueID,
			ChatID:    chatID,
			Status:    string(ticket.StatusOpen),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				var existing ticketModel
				findErr := tx.Where("tenant_id = ? AND chat_id = ? AND status = ?", tenantID, chatID, string(ticket.StatusOpen)).
					First(&existing).Error
				if findErr == nil {
					return apperror.ConflictError{
						Message:          "open ticket already exists for chat",
						ExistingTicketID: existing.ID,
					}
				}
				return apperror.ConflictError{Message: "open ticket already exists for chat"}
			}
			return err
		}
		out = fromTicketModel(m)
		created = true
		return nil
	})
	return out, created, err
}

func (s *Store) FindTicketByID(ctx context.Context, tenantID, ticketID string) (*ticket.Ticket, error) {
	var m ticketModel
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, ticketID).First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("ticket not found")
		}
		return nil, err
	}
	return fromTicketModel(m), nil
}

// --- Messages ---

// CreateMessage persists the message and bumps the ticket's last-message
// pointer in one transaction. A duplicate external id returns the
// existing row with created=false.
func (s *Store) CreateMessage(ctx context.Context, msg *message.Message) (*message.Message, bool, error) {
	if err := s.writable(); err != nil {
		return nil, false, err
	}
	var (
		out     *message.Message
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m := toMessageModel(msg)
		now := time.Now().UTC()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now

		if err := tx.Create(&m).Error; err != nil {
			if isUniqueViolation(err) && msg.ExternalID != "" {
				var existing messageModel
				findErr := tx.Where("tenant_id = ? AND external_id = ?", msg.TenantID, msg.ExternalID).
					First(&existing).Error
				if findErr != nil {
					return findErr
				}
				out = fromMessageModel(existing)
				return nil
			}
			return err
		}

		updates := map[string]any{
			"last_message_at":      m.CreatedAt,
			"last_message_preview": msg.Content,
			"updated_at":           now,
		}
		if err := tx.Model(&ticketModel{}).Where("id = ?", msg.TicketID).Updates(updates).Error; err != nil {
			return err
		}

		out = fromMessageModel(m)
		created = true
		return nil
	})
	return out, created, err
}

func (s *Store) FindMessageByID(ctx context.Context, tenantID, id string) (*message.Message, error) {
	var m messageModel
	err := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("message not found")
		}
		return nil, err
	}
	return fromMessageModel(m), nil
}

func (s *Store) FindMessageByExternalID(ctx context.Context, tenantID, externalID string) (*message.Message, error) {
	var m messageModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("message not found")
		}
		return nil, err
	}
	return fromMessageModel(m), nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg *message.Message) error {
	if err := s.writable(); err != nil {
		return err
	}
	m := toMessageModel(msg)
	m.UpdatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Save(&m).Error
}

// ApplyBrokerAck re-checks monotonicity inside the transaction so a race
// between two ack deliveries cannot move the status backwards.
func (s *Store) ApplyBrokerAck(ctx context.Context, tenantID, messageID string, upd message.AckUpdate) (*message.Message, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	var out *message.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m messageModel
		err := tx.Where("tenant_id = ? AND external_id = ?", tenantID, messageID).
			First(&m).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperror.NotFoundError("message not found")
			}
			return err
		}
		if message.StatusRank(upd.Status) < message.StatusRank(message.Status(m.Status)) {
			return usecase.ErrAckRegression
		}

		meta := jsonMap(m.Metadata)
		if meta == nil {
			meta = make(map[string]any)
		}
		lastAck := map[string]any{
			"status":     string(upd.Status),
			"receivedAt": upd.ReceivedAt.Format(time.RFC3339),
		}
		if upd.InstanceID != "" {
			lastAck["instanceId"] = upd.InstanceID
		}
		for k, v := range upd.Metadata {
			lastAck[k] = v
		}
		meta["lastAck"] = lastAck

		now := time.Now().UTC()
		m.Status = string(upd.Status)
		m.Metadata = jsonString(meta)
		m.UpdatedAt = now
		switch upd.Status {
		case message.StatusDelivered:
			at := upd.ReceivedAt
			m.DeliveredAt = &at
		case message.StatusRead:
			at := upd.ReceivedAt
			m.ReadAt = &at
			if m.DeliveredAt == nil {
				m.DeliveredAt = &at
			}
		}
		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		out = fromMessageModel(m)
		return nil
	})
	return out, err
}

// FindPollVoteMessageCandidate looks the creation message up by any known
// identifier, falling back to the newest poll message whose metadata
// mentions the poll id.
func (s *Store) FindPollVoteMessageCandidate(ctx context.Context, tenantID, pollID, chatID string, identifiers []string) (*message.Message, error) {
	ids := make([]string, 0, len(identifiers))
	for _, id := range identifiers {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		var m messageModel
		err := s.db.WithContext(ctx).
			Where("tenant_id = ? AND external_id IN ?", tenantID, ids).
			Order("created_at DESC").
			First(&m).Error
		if err == nil {
			return fromMessageModel(m), nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, err
		}
	}

	var m messageModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND type = ? AND metadata LIKE ?", tenantID, string(message.TypePoll), "%"+pollID+"%").
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("poll message not found")
		}
		return nil, err
	}
	return fromMessageModel(m), nil
}

// --- Polls ---

func (s *Store) UpsertPollMetadata(ctx context.Context, meta *poll.Metadata) error {
	if err := s.writable(); err != nil {
		return err
	}
	m := toPollMetadataModel(meta)
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "poll_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"question", "options", "allow_multiple_answers",
			"creation_message_id", "creation_message_key",
			"message_secret", "message_secret_version", "updated_at",
		}),
	}).Create(&m).Error
}

func (s *Store) GetPollMetadata(ctx context.Context, pollID string) (*poll.Metadata, error) {
	var m pollMetadataModel
	if err := s.db.WithContext(ctx).First(&m, "poll_id = ?", pollID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperror.NotFoundError("poll metadata not found")
		}
		return nil, err
	}
	return fromPollMetadataModel(m), nil
}

func (s *Store) UpsertProcessedEvent(ctx context.Context, key string, payload any) error {
	if err := s.writable(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m := processedEventModel{Key: key, Payload: string(raw), CreatedAt: now, UpdatedAt: now}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&m).Error
}

func (s *Store) GetProcessedEvent(ctx context.Context, key string, out any) error {
	var m processedEventModel
	if err := s.db.WithContext(ctx).First(&m, "key = ?", key).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperror.NotFoundError("processed event not found")
		}
		return err
	}
	return json.Unmarshal([]byte(m.Payload), out)
}

// --- Media jobs ---

func (s *Store) EnqueueMediaJob(ctx context.Context, job *media.Job) error {
	if err := s.writable(); err != nil {
		return err
	}
	m := toMediaJobModel(job)
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.NextRetryAt.IsZero() {
		m.NextRetryAt = now
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) FindPendingInboundMediaJobs(ctx context.Context, limit int, now time.Time) ([]media.Job, error) {
	var models []mediaJobModel
	err := s.db.WithContext(ctx).
		Where("state = ? AND next_retry_at <= ?", string(media.JobPending), now).
		Order("next_retry_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]media.Job, len(models))
	for i, m := range models {
		out[i] = fromMediaJobModel(m)
	}
	return out, nil
}

// MarkInboundMediaJobProcessing takes the lease with a conditional
// update; a zero rows-affected means another worker got there first.
func (s *Store) MarkInboundMediaJobProcessing(ctx context.Context, id string) (bool, error) {
	if err := s.writable(); err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Model(&mediaJobModel{}).
		Where("id = ? AND state = ?", id, string(media.JobPending)).
		Updates(map[string]any{
			"state":      string(media.JobProcessing),
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) CompleteInboundMediaJob(ctx context.Context, id string) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&mediaJobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      string(media.JobDone),
			"last_error": "",
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) FailInboundMediaJob(ctx context.Context, id, reason string) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&mediaJobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      string(media.JobFailed),
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (s *Store) RescheduleInboundMediaJob(ctx context.Context, id string, nextRetryAt time.Time, lastError string) error {
	if err := s.writable(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&mediaJobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":         string(media.JobPending),
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// --- Leads ---

func (s *Store) UpsertLeadByContact(ctx context.Context, tenantID, contactID string, attrs contact.Attributes) (*lead.Lead, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	var out *lead.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		var m leadModel
		err := tx.Where("tenant_id = ? AND contact_id = ?", tenantID, contactID).First(&m).Error
		if err == nil {
			if attrs.DisplayName != "" && !m.DisplayName.Valid {
				m.DisplayName = nullString(attrs.DisplayName)
			}
			if attrs.PrimaryPhone != "" && !m.PrimaryPhone.Valid {
				m.PrimaryPhone = nullString(attrs.PrimaryPhone)
			}
			m.LastContactAt = &now
			m.UpdatedAt = now
			if err := tx.Save(&m).Error; err != nil {
				return err
			}
			out = fromLeadModel(m)
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		m = leadModel{
			ID:            uuid.NewString(),
			TenantID:      tenantID,
			ContactID:     contactID,
			DisplayName:   nullString(attrs.DisplayName),
			PrimaryPhone:  nullString(attrs.PrimaryPhone),
			LastContactAt: &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				if err := tx.Where("tenant_id = ? AND contact_id = ?", tenantID, contactID).First(&m).Error; err != nil {
					return err
				}
				out = fromLeadModel(m)
				return nil
			}
			return err
		}
		out = fromLeadModel(m)
		return nil
	})
	return out, err
}

// AppendLeadActivity relies on the unique (tenant_id, message_id) index
// for at-most-once semantics.
func (s *Store) AppendLeadActivity(ctx context.Context, activity *lead.Activity) (bool, error) {
	if err := s.writable(); err != nil {
		return false, err
	}
	m := leadActivityModel{
		ID:        activity.ID,
		TenantID:  activity.TenantID,
		LeadID:    activity.LeadID,
		TicketID:  nullString(activity.TicketID),
		MessageID: activity.MessageID,
		Kind:      activity.Kind,
		Payload:   jsonString(activity.Payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ListActiveCampaigns(ctx context.Context, tenantID, instanceID string) ([]lead.Campaign, error) {
	var models []campaignModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, "ACTIVE").
		Where("instance_id IS NULL OR instance_id = '' OR instance_id = ?", instanceID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]lead.Campaign, len(models))
	for i, m := range models {
		out[i] = fromCampaignModel(m)
	}
	return out, nil
}

func (s *Store) AddAllocations(ctx context.Context, tenantID string, allocs []lead.Allocation) (*lead.AllocationSummary, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	summary := &lead.AllocationSummary{Requested: len(allocs)}
	for _, a := range allocs {
		m := allocationModel{
			ID:         a.ID,
			TenantID:   tenantID,
			LeadID:     a.LeadID,
			CampaignID: nullString(a.CampaignID),
			InstanceID: nullString(a.InstanceID),
			DedupeKey:  a.DedupeKey,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
			if isUniqueViolation(err) {
				summary.Skipped++
				continue
			}
			return nil, err
		}
		summary.Created++
	}
	return summary, nil
}

// --- DLQ ---

func (s *Store) SaveFailedEvent(ctx context.Context, tenantID, reason string, payload map[string]any) error {
	if err := s.writable(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	m := failedEventModel{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Reason:    reason,
		Payload:   string(raw),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		logrus.WithError(err).Error("[STORAGE] Failed saving dead-lettered event")
		return err
	}
	return nil
}
