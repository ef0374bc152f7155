package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leadengine/whatsapp-ingest/domains/contact"
	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/domains/instance"
	"github.com/leadengine/whatsapp-ingest/domains/lead"
	"github.com/leadengine/whatsapp-ingest/domains/media"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/domains/realtime"
	"github.com/leadengine/whatsapp-ingest/domains/ticket"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
	"github.com/leadengine/whatsapp-ingest/pkg/dedupe"
	"github.com/leadengine/whatsapp-ingest/pkg/idempotency"
	"github.com/leadengine/whatsapp-ingest/pkg/metrics"
	"github.com/leadengine/whatsapp-ingest/pkg/rawmap"
)

// InboundConfig carries the policy knobs of the inbound pipeline.
type InboundConfig struct {
	AutoProvisionInstances   bool
	DefaultTenantID          string
	EmitTicketRealtimeEvents bool
	DirectDownloadTimeout    time.Duration
	BrokerDownloadTimeout    time.Duration
}

// InboundService persists normalized messages: resolve instance, tenant
// and queue, ensure contact and ticket, handle media, dedupe, persist,
// emit realtime events and sync the lead side.
type InboundService struct {
	store       Store
	dedupe      *dedupe.Cache
	provisioner Provisioner
	broker      Broker
	mediaStore  MediaStore
	emitter     realtime.Emitter
	polls       *PollService
	dlq         FailedMessageDLQ
	cfg         InboundConfig
}

func NewInboundService(
	store Store,
	dd *dedupe.Cache,
	provisioner Provisioner,
	broker Broker,
	mediaStore MediaStore,
	emitter realtime.Emitter,
	polls *PollService,
	dlq FailedMessageDLQ,
	cfg InboundConfig,
) *InboundService {
	if cfg.DirectDownloadTimeout <= 0 {
		cfg.DirectDownloadTimeout = 5 * time.Second
	}
	if cfg.BrokerDownloadTimeout <= 0 {
		cfg.BrokerDownloadTimeout = 8 * time.Second
	}
	return &InboundService{
		store:       store,
		dedupe:      dd,
		provisioner: provisioner,
		broker:      broker,
		mediaStore:  mediaStore,
		emitter:     emitter,
		polls:       polls,
		dlq:         dlq,
		cfg:         cfg,
	}
}

// Process runs the full pipeline for one normalized message. The boolean
// reports whether the message ended up persisted (a suppressed duplicate
// counts as persisted).
func (s *InboundService) Process(ctx context.Context, nm ingest.NormalizedMessage) bool {
	log := logrus.WithFields(logrus.Fields{
		"tenant_id":   nm.TenantID,
		"instance_id": nm.InstanceID,
		"message_id":  nm.MessageID,
	})

	// 1-2. Instance then tenant resolution.
	inst := s.resolveInstance(ctx, &nm)
	if inst == nil {
		log.Warn("[INBOUND] No instance resolved, parking message")
		metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultIgnored, ingest.ReasonNoInstance)
		return false
	}
	nm.InstanceID = inst.ID
	if inst.TenantID != "" {
		nm.TenantID = inst.TenantID
	}
	if nm.TenantID == "" {
		nm.TenantID = s.cfg.DefaultTenantID
	}
	if nm.TenantID == "" {
		log.Warn("[INBOUND] No tenant resolved, parking message")
		metrics.CountEvent("webhook", "", nm.InstanceID, ingest.ResultIgnored, "tenant_not_found")
		return false
	}
	// Keep the audit metadata consistent with the resolved identity.
	if nm.Metadata == nil {
		nm.Metadata = make(map[string]any)
	}
	nm.Metadata["tenantId"] = nm.TenantID
	nm.Metadata["tenant"] = map[string]any{"id": nm.TenantID}

	// 3. Queue resolution (cached, auto-provisioned).
	q, err := s.provisioner.EnsureInboundQueue(ctx, nm.TenantID)
	if err != nil {
		log.WithError(err).Warn("[INBOUND] Queue unavailable, parking message")
		metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultIgnored, ingest.ReasonNoQueue)
		return false
	}

	// 4. Contact.
	ct, err := s.store.FindOrCreateContact(ctx, nm.TenantID, contactIdentifier(nm), contact.Attributes{
		DisplayName:  displayName(nm),
		PrimaryPhone: phoneOf(nm),
	})
	if err != nil {
		log.WithError(err).Error("[INBOUND] Failed resolving contact")
		metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultFailed, "contact_error")
		return false
	}

	// 5. Ticket, retrying once after re-provisioning on a missing queue.
	tk, created, err := s.store.FindOrCreateOpenTicketByChat(ctx, nm.TenantID, ct.ID, q.ID, nm.ChatID)
	if err != nil {
		var conflict apperror.ConflictError
		switch {
		case errors.As(err, &conflict) && conflict.ExistingTicketID != "":
			tk, err = s.store.FindTicketByID(ctx, nm.TenantID, conflict.ExistingTicketID)
		default:
			var nf apperror.NotFoundError
			if errors.As(err, &nf) {
				s.provisioner.InvalidateQueue(nm.TenantID)
				if q, err = s.provisioner.EnsureInboundQueue(ctx, nm.TenantID); err == nil {
					tk, created, err = s.store.FindOrCreateOpenTicketByChat(ctx, nm.TenantID, ct.ID, q.ID, nm.ChatID)
				}
			}
		}
		if err != nil {
			log.WithError(err).Error("[INBOUND] Failed resolving ticket")
			metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultFailed, "ticket_error")
			return false
		}
	}

	// 6. Poll creation side effect.
	if nm.Poll != nil && s.polls != nil {
		if err := s.polls.RegisterCreation(ctx, nm); err != nil {
			log.WithError(err).Warn("[INBOUND] Failed registering poll creation")
		}
	}

	// 7. Media download, deferred to a retry job on failure.
	s.handleMedia(ctx, &nm, log)

	// 8. Dedupe gate.
	key := idempotency.MessageKey(nm.TenantID, nm.InstanceID, nm.MessageID, nm.Index)
	now := time.Now().UTC()
	if s.dedupe.Skip(ctx, key, now) {
		metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultIgnored, ingest.ReasonDuplicate)
		return true
	}

	// 9. Persist.
	msg := s.buildMessage(nm, tk.ID)
	stored, createdMsg, err := s.store.CreateMessage(ctx, msg)
	if err != nil {
		log.WithError(err).Error("[INBOUND] Persistence failed, routing to DLQ")
		if s.dlq != nil {
			if dlqErr := s.dlq.Send(ctx, nm.TenantID, "persistence_error", nm.Raw); dlqErr != nil {
				log.WithError(dlqErr).Error("[INBOUND] DLQ send failed")
			}
		}
		metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultFailed, "persistence_error")
		return false
	}
	if !createdMsg {
		// externalId unique conflict: the message already exists.
		metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultIgnored, ingest.ReasonDuplicate)
		s.dedupe.Register(ctx, key, now, dedupe.DefaultTTL)
		return true
	}

	// If a media job was deferred it referenced a provisional message id;
	// enqueue now that the definitive row exists.
	if nm.Media != nil && pendingMedia(stored) {
		s.enqueueMediaJob(ctx, nm, stored, log)
	}

	// 10. Realtime.
	s.emitRealtime(nm, tk, stored, created)

	// 11. Lead sync (inbound only).
	var ld *lead.Lead
	if stored.Direction == message.DirectionInbound {
		ld, _ = s.syncLead(ctx, nm, ct, tk, stored, log)
	}

	// 12. Register dedupe only after successful persistence.
	s.dedupe.Register(ctx, key, now, dedupe.DefaultTTL)

	// 13. Allocations.
	if ld != nil {
		s.allocate(ctx, nm, tk, stored, ld, log)
	}

	metrics.CountEvent("webhook", nm.TenantID, nm.InstanceID, ingest.ResultAccepted, "persisted")
	return true
}

// resolveInstance walks the lookup cascade: id, broker id, tenant+broker,
// tenant, then auto-provision when policy allows.
func (s *InboundService) resolveInstance(ctx context.Context, nm *ingest.NormalizedMessage) *instance.Instance {
	if nm.InstanceID != "" {
		if inst, err := s.store.FindInstanceByID(ctx, nm.InstanceID); err == nil {
			return inst
		}
	}
	brokerID := firstNonEmpty(nm.BrokerID, nm.InstanceID)
	if brokerID != "" {
		if inst, err := s.store.FindInstanceByBrokerID(ctx, brokerID); err == nil {
			return inst
		}
		if nm.TenantID != "" {
			if inst, err := s.store.FindInstanceByTenantBroker(ctx, nm.TenantID, brokerID); err == nil {
				return inst
			}
		}
	}
	if nm.TenantID != "" {
		if inst, err := s.store.FindFirstInstanceByTenant(ctx, nm.TenantID); err == nil {
			return inst
		}
	}

	if !s.cfg.AutoProvisionInstances {
		return nil
	}
	tenantID := firstNonEmpty(nm.TenantID, s.cfg.DefaultTenantID)
	if tenantID == "" || brokerID == "" {
		return nil
	}
	inst, err := s.provisioner.AutoProvisionInstance(ctx, tenantID, brokerID)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"broker_id": brokerID,
		}).Error("[INBOUND] Instance auto-provision failed")
		return nil
	}
	return inst
}

// handleMedia tries the direct download then the broker fallback. On a
// double miss with retryable identifiers it flags the message pending so
// a MediaJob gets enqueued after persistence.
func (s *InboundService) handleMedia(ctx context.Context, nm *ingest.NormalizedMessage, log *logrus.Entry) {
	if nm.Media == nil || !message.IsMediaType(nm.Type) {
		return
	}
	if strings.HasPrefix(nm.Media.URL, "http://") || strings.HasPrefix(nm.Media.URL, "https://") {
		return
	}

	payload := s.downloadMedia(ctx, nm)
	if payload != nil {
		obj, err := s.mediaStore.Put(ctx, nm.TenantID, nm.MessageID, nm.Media.FileName, payload.MimeType, payload.Data)
		if err != nil {
			log.WithError(err).Warn("[INBOUND] Media store write failed")
		} else {
			nm.Media.URL = obj.URL
			if payload.MimeType != "" {
				nm.Media.MimeType = payload.MimeType
			}
			nm.Media.FileLength = int64(len(payload.Data))
			if obj.ExpiresAt != nil {
				nm.Metadata["mediaUrlExpiresAt"] = obj.ExpiresAt.Format(time.RFC3339)
			}
			log.WithField("size", humanize.Bytes(uint64(len(payload.Data)))).Info("[INBOUND] Media downloaded inline")
			return
		}
	}

	if nm.Media.DirectPath != "" || nm.Media.MediaKey != "" {
		nm.Metadata["media_pending"] = true
	}
}

func (s *InboundService) downloadMedia(ctx context.Context, nm *ingest.NormalizedMessage) *MediaPayload {
	if s.broker == nil {
		return nil
	}
	if nm.Media.URL != "" {
		directCtx, cancel := context.WithTimeout(ctx, s.cfg.DirectDownloadTimeout)
		payload, err := s.broker.DownloadDirect(directCtx, nm.Media.URL)
		cancel()
		if err == nil {
			return payload
		}
		logrus.WithError(err).Debug("[INBOUND] Direct media download failed, trying broker")
	}
	if nm.Media.DirectPath == "" && nm.Media.MediaKey == "" {
		return nil
	}
	brokerCtx, cancel := context.WithTimeout(ctx, s.cfg.BrokerDownloadTimeout)
	defer cancel()
	payload, err := s.broker.DownloadMedia(brokerCtx, MediaDownloadRequest{
		InstanceID: nm.InstanceID,
		BrokerID:   nm.BrokerID,
		MessageID:  nm.MessageID,
		MediaType:  string(nm.Type),
		MediaKey:   nm.Media.MediaKey,
		DirectPath: nm.Media.DirectPath,
	})
	if err != nil {
		logrus.WithError(err).Debug("[INBOUND] Broker media download failed")
		return nil
	}
	return payload
}

func (s *InboundService) enqueueMediaJob(ctx context.Context, nm ingest.NormalizedMessage, stored *message.Message, log *logrus.Entry) {
	job := &media.Job{
		ID:                uuid.NewString(),
		TenantID:          nm.TenantID,
		MessageID:         stored.ID,
		MessageExternalID: stored.ExternalID,
		InstanceID:        nm.InstanceID,
		BrokerID:          nm.BrokerID,
		MediaType:         string(nm.Type),
		MediaKey:          nm.Media.MediaKey,
		DirectPath:        nm.Media.DirectPath,
		Metadata: map[string]any{
			"mimeType": nm.Media.MimeType,
			"fileName": nm.Media.FileName,
		},
		State:       media.JobPending,
		NextRetryAt: time.Now().UTC(),
	}
	if err := s.store.EnqueueMediaJob(ctx, job); err != nil {
		log.WithError(err).Error("[INBOUND] Failed enqueueing media retry job")
		return
	}
	log.WithField("job_id", job.ID).Info("[INBOUND] Media download deferred to retry worker")
}

func (s *InboundService) buildMessage(nm ingest.NormalizedMessage, ticketID string) *message.Message {
	direction := message.DirectionInbound
	if rawmap.String(nm.Metadata, "direction") == string(message.DirectionOutbound) {
		direction = message.DirectionOutbound
	}
	status := message.StatusDelivered
	if direction == message.DirectionOutbound {
		status = message.StatusSent
	}

	msg := &message.Message{
		ID:         uuid.NewString(),
		TenantID:   nm.TenantID,
		TicketID:   ticketID,
		Direction:  direction,
		Type:       nm.Type,
		Content:    nm.Text,
		ExternalID: nm.MessageID,
		InstanceID: nm.InstanceID,
		Status:     status,
		Metadata:   nm.Metadata,
		CreatedAt:  nm.Timestamp,
	}
	if nm.Media != nil {
		msg.MediaURL = nm.Media.URL
		msg.MimeType = nm.Media.MimeType
		msg.FileSize = nm.Media.FileLength
		msg.FileName = nm.Media.FileName
		if !strings.HasPrefix(msg.MediaURL, "http://") && !strings.HasPrefix(msg.MediaURL, "https://") {
			msg.MediaURL = ""
		}
	}
	return msg
}

func (s *InboundService) emitRealtime(nm ingest.NormalizedMessage, tk *ticket.Ticket, stored *message.Message, ticketCreated bool) {
	payload := map[string]any{
		"tenantId":          nm.TenantID,
		"ticket":            map[string]any{"id": tk.ID, "agreementId": tk.AgreementID},
		"message":           stored,
		"providerMessageId": nm.MessageID,
		"instanceId":        nm.InstanceID,
	}
	s.emitter.EmitToTicket(tk.ID, realtime.EventTicketMessagesNew, payload)
	s.emitter.EmitToTenant(nm.TenantID, realtime.EventTicketMessagesNew, payload)
	// Passthrough for subscribers that only want the raw record.
	s.emitter.EmitToTenant(nm.TenantID, realtime.EventMessagesNew, stored)
	metrics.RealtimeEmits.WithLabelValues(realtime.EventTicketMessagesNew, "ticket").Inc()
	metrics.RealtimeEmits.WithLabelValues(realtime.EventTicketMessagesNew, "tenant").Inc()

	if s.cfg.EmitTicketRealtimeEvents {
		event := realtime.EventTicketsUpdated
		if ticketCreated {
			event = realtime.EventTicketsNew
		}
		ticketPayload := map[string]any{
			"tenantId":          nm.TenantID,
			"ticketId":          tk.ID,
			"agreementId":       tk.AgreementID,
			"instanceId":        nm.InstanceID,
			"messageId":         stored.ID,
			"providerMessageId": nm.MessageID,
			"ticketStatus":      tk.Status,
			"ticketUpdatedAt":   tk.UpdatedAt,
			"ticket":            tk,
		}
		s.emitter.EmitToTenant(nm.TenantID, event, ticketPayload)
		if tk.AgreementID != "" {
			s.emitter.EmitToAgreement(tk.AgreementID, event, ticketPayload)
		}
		metrics.RealtimeEmits.WithLabelValues(event, "tenant").Inc()
	}
}

// syncLead mirrors the contact onto the lead side and appends at most one
// timeline activity per provider message id. Failures here are logged and
// never fail the already-persisted message.
func (s *InboundService) syncLead(ctx context.Context, nm ingest.NormalizedMessage, ct *contact.Contact, tk *ticket.Ticket, stored *message.Message, log *logrus.Entry) (*lead.Lead, *lead.Activity) {
	ld, err := s.store.UpsertLeadByContact(ctx, nm.TenantID, ct.ID, contact.Attributes{
		DisplayName:  displayName(nm),
		PrimaryPhone: phoneOf(nm),
	})
	if err != nil {
		log.WithError(err).Warn("[LEAD] Lead upsert failed")
		return nil, nil
	}

	activity := &lead.Activity{
		ID:        uuid.NewString(),
		TenantID:  nm.TenantID,
		LeadID:    ld.ID,
		TicketID:  tk.ID,
		MessageID: nm.MessageID,
		Kind:      lead.ActivityKindMessage,
		Payload: map[string]any{
			"type":    string(stored.Type),
			"preview": stored.Content,
		},
	}
	created, err := s.store.AppendLeadActivity(ctx, activity)
	if err != nil {
		log.WithError(err).Warn("[LEAD] Activity append failed")
		activity = nil
	}

	payload := map[string]any{
		"tenantId":          nm.TenantID,
		"ticketId":          tk.ID,
		"instanceId":        nm.InstanceID,
		"providerMessageId": nm.MessageID,
		"message":           stored,
		"lead":              ld,
		"leadActivity":      activity,
	}
	if activity != nil && created {
		s.emitter.EmitToTenant(nm.TenantID, realtime.EventLeadActivitiesNew, payload)
		s.emitter.EmitToTicket(tk.ID, realtime.EventLeadActivitiesNew, payload)
	}
	s.emitter.EmitToTenant(nm.TenantID, realtime.EventLeadsUpdated, payload)
	return ld, activity
}

// allocate links the lead to every active campaign of the instance.
// Duplicate allocations are suppressed by the per-campaign dedupe key.
func (s *InboundService) allocate(ctx context.Context, nm ingest.NormalizedMessage, tk *ticket.Ticket, stored *message.Message, ld *lead.Lead, log *logrus.Entry) {
	campaigns, err := s.store.ListActiveCampaigns(ctx, nm.TenantID, nm.InstanceID)
	if err != nil {
		log.WithError(err).Warn("[LEAD] Campaign lookup failed, skipping allocations")
		return
	}
	if len(campaigns) == 0 {
		return
	}

	for _, c := range campaigns {
		alloc := lead.Allocation{
			ID:         uuid.NewString(),
			TenantID:   nm.TenantID,
			LeadID:     ld.ID,
			CampaignID: c.ID,
			InstanceID: nm.InstanceID,
			DedupeKey:  idempotency.AllocationKey(nm.TenantID, c.ID, ld.ID, nm.MessageID),
		}
		summary, err := s.store.AddAllocations(ctx, nm.TenantID, []lead.Allocation{alloc})
		if err != nil {
			log.WithError(err).WithField("campaign_id", c.ID).Warn("[LEAD] Allocation failed")
			continue
		}
		if summary.Created == 0 {
			continue
		}
		s.emitter.EmitToTenant(nm.TenantID, realtime.EventLeadAllocationsNew, map[string]any{
			"tenantId":    nm.TenantID,
			"campaignId":  c.ID,
			"agreementId": c.AgreementID,
			"instanceId":  nm.InstanceID,
			"allocation":  alloc,
			"summary":     summary,
		})
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func contactIdentifier(nm ingest.NormalizedMessage) string {
	if phone := phoneOf(nm); phone != "" {
		return "phone:" + phone
	}
	return "jid:" + firstNonEmpty(nm.Sender, nm.ChatID, nm.SessionID, nm.InstanceID)
}

func phoneOf(nm ingest.NormalizedMessage) string {
	sender := firstNonEmpty(nm.Sender, nm.ChatID)
	if len(sender) >= 8 {
		for i := 0; i < len(sender); i++ {
			if sender[i] < '0' || sender[i] > '9' {
				return ""
			}
		}
		return sender
	}
	return ""
}

func displayName(nm ingest.NormalizedMessage) string {
	if nm.PushName != "" {
		return nm.PushName
	}
	if contactMeta := rawmap.Map(nm.Metadata, "contact"); contactMeta != nil {
		if name := rawmap.FirstString(contactMeta, "name", "pushName"); name != "" {
			return name
		}
	}
	return phoneOf(nm)
}

func pendingMedia(msg *message.Message) bool {
	return msg.Metadata != nil && rawmap.Bool(msg.Metadata, "media_pending")
}
