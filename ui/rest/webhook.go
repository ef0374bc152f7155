package rest

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/leadengine/whatsapp-ingest/core/config"
	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
	"github.com/leadengine/whatsapp-ingest/ui/rest/middleware"
	"github.com/leadengine/whatsapp-ingest/usecase"
)

// WebhookDispatcher is the slice of the dispatcher the handler needs.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, body any, ov ingest.Overrides) usecase.DispatchResult
}

type Webhook struct {
	dispatcher WebhookDispatcher
	cfg        config.WebhookConfig
}

// InitRestWebhook mounts the webhook endpoints. Both paths answer the
// same pipeline; brokers in the field post to either.
func InitRestWebhook(app fiber.Router, dispatcher WebhookDispatcher, cfg config.WebhookConfig) Webhook {
	rest := Webhook{dispatcher: dispatcher, cfg: cfg}

	for _, path := range []string{"/integrations/whatsapp/webhook", "/webhooks/whatsapp"} {
		app.Get(path, rest.Handshake)
		app.Post(path, rest.Receive)
	}

	return rest
}

// Handshake answers the provider's GET verification probe with the
// Meta-style hub.challenge echo. A token mismatch gets the plain banner,
// never an error, so probes cannot fingerprint the token.
func (handler *Webhook) Handshake(c *fiber.Ctx) error {
	if handler.cfg.VerifyToken != "" &&
		c.Query("hub.mode") == "subscribe" &&
		c.Query("hub.verify_token") == handler.cfg.VerifyToken {
		if challenge := c.Query("hub.challenge"); challenge != "" {
			return c.SendString(challenge)
		}
	}
	return c.SendString("LeadEngine WhatsApp webhook")
}

func (handler *Webhook) Receive(c *fiber.Ctx) error {
	raw := c.Body()
	if len(raw) == 0 {
		panic(apperror.InvalidJSONError("empty webhook body"))
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		panic(apperror.InvalidJSONError("webhook body is not valid JSON"))
	}

	ov := ingest.Overrides{
		TenantID:   middleware.TenantID(c),
		InstanceID: c.Get("X-Instance-Id"),
		BrokerID:   c.Get("X-Broker-Id"),
	}

	result := handler.dispatcher.Dispatch(c.UserContext(), body, ov)

	logrus.WithFields(logrus.Fields{
		"tenant_id": ov.TenantID,
		"received":  result.Received,
		"persisted": result.Persisted,
		"ignored":   result.Ignored,
	}).Debug("[REST] Webhook batch dispatched")

	return c.JSON(successResponse(middleware.TraceID(c), result))
}
