package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadengine/whatsapp-ingest/domains/contact"
	"github.com/leadengine/whatsapp-ingest/domains/instance"
	"github.com/leadengine/whatsapp-ingest/domains/lead"
	"github.com/leadengine/whatsapp-ingest/domains/media"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/domains/poll"
	"github.com/leadengine/whatsapp-ingest/domains/queue"
	"github.com/leadengine/whatsapp-ingest/domains/ticket"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
)

// memStore is an in-memory Store for the service tests. It mirrors the
// uniqueness rules the gorm implementation enforces with constraints.
type memStore struct {
	mu sync.Mutex

	instances   map[string]*instance.Instance
	queues      map[string]*queue.Queue
	contacts    map[string]*contact.Contact
	tickets     map[string]*ticket.Ticket
	messages    map[string]*message.Message
	pollMeta    map[string]*poll.Metadata
	processed   map[string][]byte
	mediaJobs   map[string]*media.Job
	leads       map[string]*lead.Lead
	activities  map[string]*lead.Activity
	campaigns   []lead.Campaign
	allocations map[string]lead.Allocation
	failed      []map[string]any

	createMessageErr error
	queueErr         error
}

func newMemStore() *memStore {
	return &memStore{
		instances:   make(map[string]*instance.Instance),
		queues:      make(map[string]*queue.Queue),
		contacts:    make(map[string]*contact.Contact),
		tickets:     make(map[string]*ticket.Ticket),
		messages:    make(map[string]*message.Message),
		pollMeta:    make(map[string]*poll.Metadata),
		processed:   make(map[string][]byte),
		mediaJobs:   make(map[string]*media.Job),
		leads:       make(map[string]*lead.Lead),
		activities:  make(map[string]*lead.Activity),
		allocations: make(map[string]lead.Allocation),
	}
}

func notFound(msg string) error { return apperror.NotFoundError(msg) }

func (s *memStore) FindInstanceByID(_ context.Context, id string) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inst, ok := s.instances[id]; ok {
		return inst, nil
	}
	return nil, notFound("instance not found")
}

func (s *memStore) FindInstanceByBrokerID(_ context.Context, brokerID string) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.BrokerID == brokerID {
			return inst, nil
		}
	}
	return nil, notFound("instance not found")
}

func (s *memStore) FindInstanceByTenantBroker(_ context.Context, tenantID, brokerID string) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.TenantID == tenantID && inst.BrokerID == brokerID {
			return inst, nil
		}
	}
	return nil, notFound("instance not found")
}

func (s *memStore) FindFirstInstanceByTenant(_ context.Context, tenantID string) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inst := range s.instances {
		if inst.TenantID == tenantID {
			return inst, nil
		}
	}
	return nil, notFound("instance not found")
}

func (s *memStore) CreateInstance(_ context.Context, inst *instance.Instance) (*instance.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.instances {
		if existing.TenantID == inst.TenantID && existing.BrokerID == inst.BrokerID {
			return nil, apperror.ConflictError{Message: "instance exists"}
		}
	}
	s.instances[inst.ID] = inst
	return inst, nil
}

func (s *memStore) FindDefaultQueue(_ context.Context, tenantID string) (*queue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queueErr != nil {
		return nil, s.queueErr
	}
	for _, q := range s.queues {
		if q.TenantID == tenantID && q.IsDefault {
			return q, nil
		}
	}
	return nil, notFound("queue not found")
}

func (s *memStore) CreateQueue(_ context.Context, q *queue.Queue) (*queue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.queues {
		if existing.TenantID == q.TenantID && existing.IsDefault && q.IsDefault {
			return nil, apperror.ConflictError{Message: "default queue exists"}
		}
	}
	s.queues[q.ID] = q
	return q, nil
}

func (s *memStore) FindOrCreateContact(_ context.Context, tenantID, identifier string, attrs contact.Attributes) (*contact.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ct := range s.contacts {
		if ct.TenantID == tenantID && ct.Identifier == identifier {
			if ct.DisplayName == "" {
				ct.DisplayName = attrs.DisplayName
			}
			return ct, nil
		}
	}
	ct := &contact.Contact{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Identifier:   identifier,
		DisplayName:  attrs.DisplayName,
		PrimaryPhone: attrs.PrimaryPhone,
		CreatedAt:    time.Now().UTC(),
	}
	s.contacts[ct.ID] = ct
	return ct, nil
}

func (s *memStore) FindOrCreateOpenTicketByChat(_ context.Context, tenantID, contactID, queueID, chatID string) (*ticket.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tk := range s.tickets {
		if tk.TenantID == tenantID && tk.ChatID == chatID && tk.Status == ticket.StatusOpen {
			return tk, false, nil
		}
	}
	if _, ok := s.queues[queueID]; !ok {
		return nil, false, notFound("queue not found")
	}
	tk := &ticket.Ticket{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		ContactID: contactID,
		QueueID:   queueID,
		ChatID:    chatID,
		Status:    ticket.StatusOpen,
		CreatedAt: time.Now().UTC(),
	}
	s.tickets[tk.ID] = tk
	return tk, true, nil
}

func (s *memStore) FindTicketByID(_ context.Context, tenantID, ticketID string) (*ticket.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tk, ok := s.tickets[ticketID]; ok && tk.TenantID == tenantID {
		return tk, nil
	}
	return nil, notFound("ticket not found")
}

func (s *memStore) CreateMessage(_ context.Context, msg *message.Message) (*message.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createMessageErr != nil {
		return nil, false, s.createMessageErr
	}
	if msg.ExternalID != "" {
		for _, existing := range s.messages {
			if existing.TenantID == msg.TenantID && existing.ExternalID == msg.ExternalID {
				return existing, false, nil
			}
		}
	}
	stored := *msg
	s.messages[stored.ID] = &stored
	if tk, ok := s.tickets[stored.TicketID]; ok {
		at := stored.CreatedAt
		tk.LastMessageAt = &at
		tk.LastMessagePreview = stored.Content
	}
	return &stored, true, nil
}

func (s *memStore) FindMessageByID(_ context.Context, tenantID, id string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.messages[id]; ok && msg.TenantID == tenantID {
		return msg, nil
	}
	return nil, notFound("message not found")
}

func (s *memStore) FindMessageByExternalID(_ context.Context, tenantID, externalID string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.TenantID == tenantID && msg.ExternalID == externalID {
			return msg, nil
		}
	}
	return nil, notFound("message not found")
}

func (s *memStore) UpdateMessage(_ context.Context, msg *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return notFound("message not found")
	}
	s.messages[msg.ID] = msg
	return nil
}

func (s *memStore) ApplyBrokerAck(_ context.Context, tenantID, messageID string, upd message.AckUpdate) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.TenantID != tenantID || msg.ExternalID != messageID {
			continue
		}
		if message.StatusRank(upd.Status) < message.StatusRank(msg.Status) {
			return nil, ErrAckRegression
		}
		msg.Status = upd.Status
		if msg.Metadata == nil {
			msg.Metadata = make(map[string]any)
		}
		msg.Metadata["lastAck"] = map[string]any{
			"status":     string(upd.Status),
			"receivedAt": upd.ReceivedAt.Format(time.RFC3339),
		}
		now := upd.ReceivedAt
		switch upd.Status {
		case message.StatusDelivered:
			msg.DeliveredAt = &now
		case message.StatusRead:
			msg.ReadAt = &now
		}
		return msg, nil
	}
	return nil, notFound("message not found")
}

func (s *memStore) FindPollVoteMessageCandidate(_ context.Context, tenantID, pollID, chatID string, identifiers []string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.TenantID != tenantID {
			continue
		}
		for _, id := range identifiers {
			if id != "" && msg.ExternalID == id {
				return msg, nil
			}
		}
	}
	return nil, notFound("message not found")
}

func (s *memStore) UpsertPollMetadata(_ context.Context, meta *poll.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollMeta[meta.PollID] = meta
	return nil
}

func (s *memStore) GetPollMetadata(_ context.Context, pollID string) (*poll.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if meta, ok := s.pollMeta[pollID]; ok {
		return meta, nil
	}
	return nil, notFound("poll metadata not found")
}

func (s *memStore) UpsertProcessedEvent(_ context.Context, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[key] = raw
	return nil
}

func (s *memStore) GetProcessedEvent(_ context.Context, key string, out any) error {
	s.mu.Lock()
	raw, ok := s.processed[key]
	s.mu.Unlock()
	if !ok {
		return notFound("processed event not found")
	}
	return json.Unmarshal(raw, out)
}

func (s *memStore) EnqueueMediaJob(_ context.Context, job *media.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaJobs[job.ID] = job
	return nil
}

func (s *memStore) FindPendingInboundMediaJobs(_ context.Context, limit int, now time.Time) ([]media.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]media.Job, 0, limit)
	for _, job := range s.mediaJobs {
		if job.State == media.JobPending && !job.NextRetryAt.After(now) {
			out = append(out, *job)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) MarkInboundMediaJobProcessing(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.mediaJobs[id]
	if !ok || job.State != media.JobPending {
		return false, nil
	}
	job.State = media.JobProcessing
	job.Attempts++
	return true, nil
}

func (s *memStore) CompleteInboundMediaJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.mediaJobs[id]; ok {
		job.State = media.JobDone
		return nil
	}
	return notFound("job not found")
}

func (s *memStore) FailInboundMediaJob(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.mediaJobs[id]; ok {
		job.State = media.JobFailed
		job.LastError = reason
		return nil
	}
	return notFound("job not found")
}

func (s *memStore) RescheduleInboundMediaJob(_ context.Context, id string, nextRetryAt time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.mediaJobs[id]; ok {
		job.State = media.JobPending
		job.NextRetryAt = nextRetryAt
		job.LastError = lastError
		return nil
	}
	return notFound("job not found")
}

func (s *memStore) UpsertLeadByContact(_ context.Context, tenantID, contactID string, attrs contact.Attributes) (*lead.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ld := range s.leads {
		if ld.TenantID == tenantID && ld.ContactID == contactID {
			return ld, nil
		}
	}
	ld := &lead.Lead{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ContactID:    contactID,
		DisplayName:  attrs.DisplayName,
		PrimaryPhone: attrs.PrimaryPhone,
		CreatedAt:    time.Now().UTC(),
	}
	s.leads[ld.ID] = ld
	return ld, nil
}

func (s *memStore) AppendLeadActivity(_ context.Context, activity *lead.Activity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.activities {
		if existing.TenantID == activity.TenantID && existing.MessageID == activity.MessageID {
			return false, nil
		}
	}
	s.activities[activity.ID] = activity
	return true, nil
}

func (s *memStore) ListActiveCampaigns(_ context.Context, tenantID, instanceID string) ([]lead.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lead.Campaign, 0)
	for _, c := range s.campaigns {
		if c.TenantID == tenantID && (c.InstanceID == "" || c.InstanceID == instanceID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) AddAllocations(_ context.Context, tenantID string, allocs []lead.Allocation) (*lead.AllocationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary := &lead.AllocationSummary{Requested: len(allocs)}
	for _, a := range allocs {
		if _, ok := s.allocations[a.DedupeKey]; ok {
			summary.Skipped++
			continue
		}
		s.allocations[a.DedupeKey] = a
		summary.Created++
	}
	return summary, nil
}

func (s *memStore) SaveFailedEvent(_ context.Context, tenantID, reason string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, map[string]any{
		"tenantId": tenantID,
		"reason":   reason,
		"payload":  payload,
	})
	return nil
}

// fakeBroker scripts download outcomes.
type fakeBroker struct {
	mu          sync.Mutex
	directErr   error
	brokerErr   error
	payload     *MediaPayload
	directCalls int
	brokerCalls int
	lastRequest MediaDownloadRequest
}

func (b *fakeBroker) DownloadDirect(_ context.Context, url string) (*MediaPayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.directCalls++
	if b.directErr != nil {
		return nil, b.directErr
	}
	return b.payload, nil
}

func (b *fakeBroker) DownloadMedia(_ context.Context, req MediaDownloadRequest) (*MediaPayload, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.brokerCalls++
	b.lastRequest = req
	if b.brokerErr != nil {
		return nil, b.brokerErr
	}
	return b.payload, nil
}

// fakeMediaStore records puts and answers with a deterministic URL.
type fakeMediaStore struct {
	mu   sync.Mutex
	puts int
	err  error
}

func (m *fakeMediaStore) Put(_ context.Context, tenantID, messageID, fileName, mimeType string, data []byte) (*media.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.puts++
	return &media.Object{
		URL:      "https://media.local/" + tenantID + "/" + messageID,
		MimeType: mimeType,
		FileName: fileName,
		Size:     int64(len(data)),
	}, nil
}

// recordingEmitter captures every emission for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

type emitted struct {
	channel string
	target  string
	event   string
	payload any
}

func (e *recordingEmitter) EmitToTenant(tenantID, event string, payload any) {
	e.record("tenant", tenantID, event, payload)
}

func (e *recordingEmitter) EmitToTicket(ticketID, event string, payload any) {
	e.record("ticket", ticketID, event, payload)
}

func (e *recordingEmitter) EmitToAgreement(agreementID, event string, payload any) {
	e.record("agreement", agreementID, event, payload)
}

func (e *recordingEmitter) record(channel, target, event string, payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{channel: channel, target: target, event: event, payload: payload})
}

func (e *recordingEmitter) byEvent(event string) []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []emitted
	for _, ev := range e.events {
		if ev.event == event {
			out = append(out, ev)
		}
	}
	return out
}

func (e *recordingEmitter) count(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.event == event {
			n++
		}
	}
	return n
}

var errDown = errors.New("backend down")
