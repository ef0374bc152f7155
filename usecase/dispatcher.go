package usecase

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/infrastructure/whatsapp"
	"github.com/leadengine/whatsapp-ingest/pkg/metrics"
	"github.com/leadengine/whatsapp-ingest/pkg/rawmap"
)

// DispatchResult summarizes one webhook request after every entry was
// classified.
type DispatchResult struct {
	Received  int `json:"received"`
	Persisted int `json:"persisted"`
	Ignored   int `json:"ignored"`
}

// Dispatcher routes unwrapped webhook envelopes to the ack, poll and
// inbound services. It never re-raises entry failures; the webhook always
// answers quickly and the counters carry the story.
type Dispatcher struct {
	inbound *InboundService
	acks    *AckService
	polls   *PollService
}

func NewDispatcher(inbound *InboundService, acks *AckService, polls *PollService) *Dispatcher {
	return &Dispatcher{inbound: inbound, acks: acks, polls: polls}
}

// Dispatch handles one decoded webhook body. Bodies may be a single event
// object or an array of them; each unwraps to an Envelope and is routed
// independently.
func (d *Dispatcher) Dispatch(ctx context.Context, body any, ov ingest.Overrides) DispatchResult {
	var res DispatchResult
	for _, event := range eventsOf(body) {
		d.dispatchOne(ctx, event, ov, &res)
	}
	return res
}

func eventsOf(body any) []map[string]any {
	switch v := body.(type) {
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{v}
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, event map[string]any, ov ingest.Overrides, res *DispatchResult) {
	env := unwrap(event, ov)
	res.Received++

	switch strings.ToUpper(env.Type) {
	case ingest.EventMessagesUpdate:
		d.acks.ProcessUpdateEvent(ctx, env, ov)

	case ingest.EventPollChoice:
		d.polls.ProcessChoiceEvent(ctx, env, ov)

	case ingest.EventInbound, ingest.EventOutbound:
		normalized := whatsapp.NormalizeContract(env.Type, env.Payload, overridesFor(env, ov))
		d.runInbound(ctx, env, normalized, nil, res)

	case ingest.EventMessagesUpsert, "":
		// Bare Baileys payloads arrive without an event field.
		normalized, ignored := whatsapp.Normalize(env.Raw, overridesFor(env, ov))
		d.runInbound(ctx, env, normalized, ignored, res)

	default:
		logrus.WithField("event", env.Type).Debug("[DISPATCH] Unsupported event type")
		metrics.CountEvent("webhook", env.TenantID, env.InstanceID, ingest.ResultIgnored, ingest.ReasonUnsupportedEvent)
		res.Ignored++
	}
}

func (d *Dispatcher) runInbound(ctx context.Context, env ingest.Envelope, normalized []ingest.NormalizedMessage, ignored []ingest.Ignored, res *DispatchResult) {
	for _, ig := range ignored {
		metrics.CountEvent("webhook", env.TenantID, env.InstanceID, ingest.ResultIgnored, ig.Reason)
		res.Ignored++
	}
	for _, nm := range normalized {
		if d.inbound.Process(ctx, nm) {
			res.Persisted++
		} else {
			res.Ignored++
		}
	}
}

// unwrap folds the broker's envelope variants onto one shape. The event
// name may live under event or type; the body under payload, data or the
// event object itself.
func unwrap(event map[string]any, ov ingest.Overrides) ingest.Envelope {
	payload := rawmap.Map(event, "payload")
	if payload == nil {
		payload = rawmap.Map(event, "data")
	}
	if payload == nil {
		payload = event
	}

	env := ingest.Envelope{
		Type:       rawmap.FirstString(event, "event", "type"),
		InstanceID: rawmap.FirstString(event, "instanceId", "instance_id", "sessionId", "session_id"),
		BrokerID:   rawmap.FirstString(event, "brokerId", "broker_id"),
		TenantID:   rawmap.FirstString(event, "tenantId", "tenant_id"),
		Payload:    payload,
		Raw:        event,
	}
	if env.InstanceID == "" {
		env.InstanceID = rawmap.FirstString(payload, "instanceId", "instance_id")
	}
	if env.TenantID == "" {
		env.TenantID = rawmap.FirstString(payload, "tenantId", "tenant_id")
	}
	if env.InstanceID == "" {
		env.InstanceID = ov.InstanceID
	}
	if env.TenantID == "" {
		env.TenantID = ov.TenantID
	}
	if env.BrokerID == "" {
		env.BrokerID = ov.BrokerID
	}
	return env
}

func overridesFor(env ingest.Envelope, ov ingest.Overrides) ingest.Overrides {
	out := ov
	out.InstanceID = firstNonEmpty(env.InstanceID, ov.InstanceID)
	out.TenantID = firstNonEmpty(env.TenantID, ov.TenantID)
	out.BrokerID = firstNonEmpty(env.BrokerID, ov.BrokerID)
	return out
}
