package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/domains/realtime"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
	"github.com/leadengine/whatsapp-ingest/pkg/dedupe"
	"github.com/leadengine/whatsapp-ingest/pkg/idempotency"
	"github.com/leadengine/whatsapp-ingest/pkg/metrics"
	"github.com/leadengine/whatsapp-ingest/pkg/rawmap"
)

// ErrAckRegression is returned by the store when a lower-ranked status
// would overwrite a higher one. The transition is simply dropped.
var ErrAckRegression = errors.New("ack status regression")

// DefaultAckLateThreshold drops ACKs arriving this much earlier than the
// last applied one.
const DefaultAckLateThreshold = 10 * time.Minute

// AckService applies monotone delivery-status transitions to stored
// outbound messages.
type AckService struct {
	store         Store
	dedupe        *dedupe.Cache
	emitter       realtime.Emitter
	lateThreshold time.Duration
}

func NewAckService(store Store, dd *dedupe.Cache, emitter realtime.Emitter, lateThreshold time.Duration) *AckService {
	if lateThreshold <= 0 {
		lateThreshold = DefaultAckLateThreshold
	}
	return &AckService{
		store:         store,
		dedupe:        dd,
		emitter:       emitter,
		lateThreshold: lateThreshold,
	}
}

// ProcessUpdateEvent walks every ACK entry of a WHATSAPP_MESSAGES_UPDATE
// payload. Entry failures are counted and logged, never re-raised.
func (s *AckService) ProcessUpdateEvent(ctx context.Context, env ingest.Envelope, ov ingest.Overrides) {
	entries := rawmap.Maps(env.Payload, "messages")
	if entries == nil {
		entries = rawmap.Maps(env.Payload, "updates")
	}
	tenantID := firstNonEmpty(env.TenantID, ov.TenantID)
	instanceID := firstNonEmpty(env.InstanceID, ov.InstanceID)

	for _, entry := range entries {
		result, reason := s.applyEntry(ctx, tenantID, instanceID, entry)
		metrics.CountEvent("webhook", tenantID, instanceID, result, reason)
	}
}

func (s *AckService) applyEntry(ctx context.Context, tenantID, instanceID string, entry map[string]any) (result, reason string) {
	key := rawmap.Map(entry, "key")
	messageID := rawmap.String(key, "id")
	if messageID == "" {
		messageID = rawmap.FirstString(entry, "messageId", "message_id", "id")
	}
	if messageID == "" {
		return ingest.ResultIgnored, "missing_message_id"
	}

	// ACKs only exist for our own outbound messages.
	if key != nil && !rawmap.Bool(key, "fromMe") {
		return ingest.ResultIgnored, "not_from_me"
	}

	status := parseAckStatus(entry)
	if status == "" {
		return ingest.ResultIgnored, "unknown_status"
	}

	receivedAt := rawmap.Time(entry, "timestamp")
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	applied, reason, err := s.Apply(ctx, tenantID, instanceID, messageID, message.AckUpdate{
		Status:     status,
		ReceivedAt: receivedAt,
		InstanceID: instanceID,
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"tenant_id":  tenantID,
			"message_id": messageID,
			"status":     status,
		}).Error("[ACK] Failed applying broker ack")
		return ingest.ResultFailed, "ack_error"
	}
	if !applied {
		return ingest.ResultIgnored, reason
	}
	return ingest.ResultAccepted, "ack_applied"
}

// Apply runs the state machine for one ACK. Returns whether the
// transition was applied and, when dropped, the reason.
func (s *AckService) Apply(ctx context.Context, tenantID, instanceID, messageID string, upd message.AckUpdate) (bool, string, error) {
	ackKey := idempotency.AckKey(tenantID, instanceID, messageID+":"+string(upd.Status))
	now := time.Now().UTC()
	if s.dedupe != nil && s.dedupe.Skip(ctx, ackKey, now) {
		return false, ingest.ReasonDuplicate, nil
	}

	stored, err := s.store.FindMessageByExternalID(ctx, tenantID, messageID)
	if err != nil {
		var nf apperror.NotFoundError
		if errors.As(err, &nf) {
			return false, "message_not_found", nil
		}
		return false, "", err
	}
	if stored.Direction != message.DirectionOutbound {
		return false, "not_outbound", nil
	}

	if lastAck := lastAckReceivedAt(stored); !lastAck.IsZero() &&
		upd.ReceivedAt.Before(lastAck.Add(-s.lateThreshold)) {
		logrus.WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"message_id":  messageID,
			"received_at": upd.ReceivedAt,
			"last_ack_at": lastAck,
		}).Debug("[ACK] Dropping late ack")
		return false, ingest.ReasonAckLate, nil
	}

	if message.StatusRank(upd.Status) < message.StatusRank(stored.Status) {
		return false, ingest.ReasonAckRegression, nil
	}

	updated, err := s.store.ApplyBrokerAck(ctx, tenantID, messageID, upd)
	if err != nil {
		// A concurrent higher-ranked ack won the race; treat as dropped.
		if errors.Is(err, ErrAckRegression) {
			return false, ingest.ReasonAckRegression, nil
		}
		return false, "", err
	}

	if s.dedupe != nil {
		s.dedupe.Register(ctx, ackKey, now, dedupe.DefaultTTL)
	}

	payload := map[string]any{
		"tenantId":    tenantID,
		"ticketId":    updated.TicketID,
		"message":     updated,
		"priorStatus": string(stored.Status),
	}
	s.emitter.EmitToTicket(updated.TicketID, realtime.EventMessageUpdated, payload)
	s.emitter.EmitToTenant(tenantID, realtime.EventMessageUpdated, payload)
	return true, "", nil
}

func lastAckReceivedAt(msg *message.Message) time.Time {
	if msg.Metadata == nil {
		return time.Time{}
	}
	return rawmap.Time(rawmap.Map(msg.Metadata, "lastAck"), "receivedAt")
}

// parseAckStatus accepts both Baileys numeric acks and symbolic names.
func parseAckStatus(entry map[string]any) message.Status {
	update := rawmap.Map(entry, "update")
	if update == nil {
		update = entry
	}
	switch rawmap.String(update, "status") {
	case "1", "PENDING", "pending":
		return message.StatusPending
	case "2", "SENT", "sent", "SERVER_ACK":
		return message.StatusSent
	case "3", "DELIVERED", "delivered", "DELIVERY_ACK":
		return message.StatusDelivered
	case "4", "5", "READ", "read", "PLAYED", "played":
		return message.StatusRead
	case "0", "FAILED", "failed", "ERROR":
		return message.StatusFailed
	}
	return ""
}
