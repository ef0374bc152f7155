package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/domains/instance"
	"github.com/leadengine/whatsapp-ingest/domains/lead"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/pkg/dedupe"
)

type inboundEnv struct {
	store      *memStore
	emitter    *recordingEmitter
	broker     *fakeBroker
	mediaStore *fakeMediaStore
	svc        *InboundService
}

func newInboundEnv(cfg InboundConfig) *inboundEnv {
	store := newMemStore()
	emitter := &recordingEmitter{}
	broker := &fakeBroker{}
	mediaStore := &fakeMediaStore{}
	polls := NewPollService(store, emitter)
	svc := NewInboundService(store, dedupe.New(), NewProvisionerService(store),
		broker, mediaStore, emitter, polls, dlqFunc(store.SaveFailedEvent), cfg)
	return &inboundEnv{store: store, emitter: emitter, broker: broker, mediaStore: mediaStore, svc: svc}
}

type dlqFunc func(ctx context.Context, tenantID, reason string, payload map[string]any) error

func (f dlqFunc) Send(ctx context.Context, tenantID, reason string, payload map[string]any) error {
	return f(ctx, tenantID, reason, payload)
}

func (e *inboundEnv) seedInstance() {
	e.store.instances["inst-1"] = &instance.Instance{
		ID:       "inst-1",
		TenantID: "t1",
		BrokerID: "broker-1",
		Status:   instance.StatusActive,
	}
}

func textMessage(id string) ingest.NormalizedMessage {
	return ingest.NormalizedMessage{
		MessageID:  id,
		InstanceID: "inst-1",
		ChatID:     "5511999990000",
		Sender:     "5511999990000",
		PushName:   "Maria",
		Type:       message.TypeText,
		Text:       "oi",
		HasText:    true,
		Timestamp:  time.Now().UTC(),
		Metadata:   map[string]any{"direction": "INBOUND"},
		Raw:        map[string]any{"key": map[string]any{"id": id}},
	}
}

func TestInboundPersistsMessage(t *testing.T) {
	env := newInboundEnv(InboundConfig{EmitTicketRealtimeEvents: true})
	env.seedInstance()

	if !env.svc.Process(context.Background(), textMessage("wamid-1")) {
		t.Fatal("expected message to persist")
	}

	if len(env.store.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(env.store.messages))
	}
	var stored *message.Message
	for _, m := range env.store.messages {
		stored = m
	}
	if stored.TenantID != "t1" || stored.Direction != message.DirectionInbound {
		t.Fatalf("unexpected message: %+v", stored)
	}
	if stored.Status != message.StatusDelivered {
		t.Fatalf("inbound messages persist DELIVERED, got %s", stored.Status)
	}

	if len(env.store.tickets) != 1 {
		t.Fatalf("expected 1 ticket, got %d", len(env.store.tickets))
	}
	for _, tk := range env.store.tickets {
		if tk.LastMessagePreview != "oi" {
			t.Fatalf("expected preview update, got %q", tk.LastMessagePreview)
		}
	}

	if n := env.emitter.count("ticketMessages.new"); n != 2 {
		t.Fatalf("expected ticketMessages.new on ticket and tenant channels, got %d", n)
	}
	if n := env.emitter.count("tickets.new"); n != 1 {
		t.Fatalf("expected 1 tickets.new for a fresh ticket, got %d", n)
	}

	// Inbound messages sync the lead side too.
	if len(env.store.leads) != 1 || len(env.store.activities) != 1 {
		t.Fatalf("expected lead+activity, got %d/%d", len(env.store.leads), len(env.store.activities))
	}
}

func TestInboundRealtimeFanout(t *testing.T) {
	env := newInboundEnv(InboundConfig{EmitTicketRealtimeEvents: true})
	env.seedInstance()
	env.store.campaigns = []lead.Campaign{
		{ID: "camp-1", TenantID: "t1", AgreementID: "agr-1", Status: "ACTIVE"},
	}

	if !env.svc.Process(context.Background(), textMessage("wamid-rt")) {
		t.Fatal("expected persist")
	}

	requireChannels := func(event string, want ...string) map[string]any {
		t.Helper()
		got := map[string]bool{}
		var payload map[string]any
		for _, ev := range env.emitter.byEvent(event) {
			got[ev.channel] = true
			payload = ev.payload.(map[string]any)
		}
		for _, ch := range want {
			if !got[ch] {
				t.Fatalf("%s never emitted on the %s channel, got %v", event, ch, got)
			}
		}
		return payload
	}
	requireKeys := func(event string, payload map[string]any, keys ...string) {
		t.Helper()
		for _, key := range keys {
			if _, ok := payload[key]; !ok {
				t.Fatalf("%s payload missing %q, keys %v", event, key, payload)
			}
		}
	}

	tm := requireChannels("ticketMessages.new", "tenant", "ticket")
	requireKeys("ticketMessages.new", tm, "tenantId", "ticket", "message", "providerMessageId", "instanceId")
	tkRef, ok := tm["ticket"].(map[string]any)
	if !ok {
		t.Fatalf("ticketMessages.new ticket field must be an object, got %T", tm["ticket"])
	}
	requireKeys("ticketMessages.new", tkRef, "id", "agreementId")
	if tm["providerMessageId"] != "wamid-rt" || tm["instanceId"] != "inst-1" {
		t.Fatalf("unexpected identifiers in payload: %v", tm)
	}

	la := requireChannels("leadActivities.new", "tenant", "ticket")
	requireKeys("leadActivities.new", la, "tenantId", "ticketId", "instanceId",
		"providerMessageId", "message", "lead", "leadActivity")

	lu := requireChannels("leads.updated", "tenant")
	requireKeys("leads.updated", lu, "tenantId", "ticketId", "instanceId",
		"providerMessageId", "message", "lead", "leadActivity")

	al := requireChannels("leadAllocations.new", "tenant")
	requireKeys("leadAllocations.new", al, "tenantId", "campaignId", "agreementId",
		"instanceId", "allocation", "summary")
	if al["campaignId"] != "camp-1" || al["agreementId"] != "agr-1" {
		t.Fatalf("allocation event must carry the campaign, got %v", al)
	}
}

func TestInboundDuplicateSuppressed(t *testing.T) {
	env := newInboundEnv(InboundConfig{})
	env.seedInstance()

	nm := textMessage("wamid-1")
	if !env.svc.Process(context.Background(), nm) {
		t.Fatal("first delivery must persist")
	}
	if !env.svc.Process(context.Background(), nm) {
		t.Fatal("replay must report success")
	}
	if len(env.store.messages) != 1 {
		t.Fatalf("replay must not duplicate, got %d messages", len(env.store.messages))
	}
}

func TestInboundExternalIDConflict(t *testing.T) {
	env := newInboundEnv(InboundConfig{})
	env.seedInstance()

	nm := textMessage("wamid-1")
	if !env.svc.Process(context.Background(), nm) {
		t.Fatal("first delivery must persist")
	}

	// A second pod with a cold dedupe cache sees the same payload; the
	// store-level unique external id still suppresses the duplicate.
	coldCache := NewInboundService(env.store, dedupe.New(), NewProvisionerService(env.store),
		env.broker, env.mediaStore, env.emitter, nil, nil, InboundConfig{})
	if !coldCache.Process(context.Background(), nm) {
		t.Fatal("conflict on external id must report success")
	}
	if len(env.store.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(env.store.messages))
	}
}

func TestInboundParksWithoutInstance(t *testing.T) {
	env := newInboundEnv(InboundConfig{})

	if env.svc.Process(context.Background(), textMessage("wamid-1")) {
		t.Fatal("message without instance must be parked")
	}
	if len(env.store.messages) != 0 {
		t.Fatal("parked message must not persist")
	}
}

func TestInboundAutoProvisionsInstance(t *testing.T) {
	env := newInboundEnv(InboundConfig{
		AutoProvisionInstances: true,
		DefaultTenantID:        "t1",
	})

	nm := textMessage("wamid-1")
	nm.InstanceID = ""
	nm.BrokerID = "broker-new"
	if !env.svc.Process(context.Background(), nm) {
		t.Fatal("expected auto-provision + persist")
	}

	inst, err := env.store.FindInstanceByBrokerID(context.Background(), "broker-new")
	if err != nil {
		t.Fatalf("expected provisioned instance: %v", err)
	}
	if inst.Status != instance.StatusProvisioning {
		t.Fatalf("expected PROVISIONING placeholder, got %s", inst.Status)
	}
	if len(env.store.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(env.store.messages))
	}
}

func TestInboundOutboundEchoSkipsLeadSync(t *testing.T) {
	env := newInboundEnv(InboundConfig{})
	env.seedInstance()

	nm := textMessage("wamid-1")
	nm.Metadata["direction"] = "OUTBOUND"
	if !env.svc.Process(context.Background(), nm) {
		t.Fatal("outbound echo must persist")
	}
	var stored *message.Message
	for _, m := range env.store.messages {
		stored = m
	}
	if stored.Direction != message.DirectionOutbound || stored.Status != message.StatusSent {
		t.Fatalf("unexpected echo message: %+v", stored)
	}
	if len(env.store.leads) != 0 {
		t.Fatal("outbound echo must not create leads")
	}
}

func TestInboundMediaInlineDownload(t *testing.T) {
	env := newInboundEnv(InboundConfig{})
	env.seedInstance()
	env.broker.payload = &MediaPayload{Data: []byte("jpegjpeg"), MimeType: "image/jpeg"}

	nm := textMessage("wamid-1")
	nm.Type = message.TypeImage
	nm.Text = "[Mensagem recebida via WhatsApp]"
	nm.Media = &ingest.MediaInfo{MediaKey: "k1", DirectPath: "/v/t62", MimeType: "image/jpeg"}

	if !env.svc.Process(context.Background(), nm) {
		t.Fatal("expected persist with inline media")
	}
	var stored *message.Message
	for _, m := range env.store.messages {
		stored = m
	}
	if stored.MediaURL == "" {
		t.Fatal("expected media url from the media store")
	}
	if env.mediaStore.puts != 1 {
		t.Fatalf("expected 1 media store write, got %d", env.mediaStore.puts)
	}
	if len(env.store.mediaJobs) != 0 {
		t.Fatal("successful download must not enqueue a retry job")
	}
}

func TestInboundMediaDeferredToRetryJob(t *testing.T) {
	env := newInboundEnv(InboundConfig{})
	env.seedInstance()
	env.broker.directErr = errDown
	env.broker.brokerErr = errDown

	nm := textMessage("wamid-1")
	nm.Type = message.TypeImage
	nm.Media = &ingest.MediaInfo{MediaKey: "k1", DirectPath: "/v/t62"}

	if !env.svc.Process(context.Background(), nm) {
		t.Fatal("message must persist even when media download fails")
	}
	var stored *message.Message
	for _, m := range env.store.messages {
		stored = m
	}
	if stored.MediaURL != "" {
		t.Fatal("failed download must leave media url empty")
	}
	if !pendingMedia(stored) {
		t.Fatal("expected media_pending flag")
	}
	if len(env.store.mediaJobs) != 1 {
		t.Fatalf("expected 1 retry job, got %d", len(env.store.mediaJobs))
	}
}

func TestInboundPersistFailureRoutesToDLQ(t *testing.T) {
	env := newInboundEnv(InboundConfig{})
	env.seedInstance()
	env.store.createMessageErr = errDown

	if env.svc.Process(context.Background(), textMessage("wamid-1")) {
		t.Fatal("persistence failure must report false")
	}
	if len(env.store.failed) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(env.store.failed))
	}
	// The dedupe entry must not exist; a redelivery should retry.
	env.store.createMessageErr = nil
	if !env.svc.Process(context.Background(), textMessage("wamid-1")) {
		t.Fatal("redelivery after failure must persist")
	}
}

func TestInboundAllocatesToActiveCampaigns(t *testing.T) {
	env := newInboundEnv(InboundConfig{})
	env.seedInstance()
	env.store.campaigns = []lead.Campaign{
		{ID: "camp-1", TenantID: "t1", Status: "ACTIVE"},
		{ID: "camp-2", TenantID: "t1", InstanceID: "inst-1", Status: "ACTIVE"},
	}

	if !env.svc.Process(context.Background(), textMessage("wamid-1")) {
		t.Fatal("expected persist")
	}
	if len(env.store.allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(env.store.allocations))
	}
	if n := env.emitter.count("leadAllocations.new"); n != 2 {
		t.Fatalf("expected one leadAllocations.new per campaign, got %d", n)
	}

	// Same message replayed through a cold cache allocates nothing new.
	coldCache := NewInboundService(env.store, dedupe.New(), NewProvisionerService(env.store),
		env.broker, env.mediaStore, env.emitter, nil, nil, InboundConfig{})
	coldCache.Process(context.Background(), textMessage("wamid-1"))
	if len(env.store.allocations) != 2 {
		t.Fatalf("replay must not re-allocate, got %d", len(env.store.allocations))
	}
}
