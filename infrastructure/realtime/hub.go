// Package realtime fans entity updates out to websocket subscribers.
// Connections subscribe to channels (tenant:<id>, ticket:<id>,
// agreement:<id>); with valkey configured, emissions propagate to the
// other server instances over pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"

	domain "github.com/leadengine/whatsapp-ingest/domains/realtime"
	"github.com/leadengine/whatsapp-ingest/infrastructure/valkey"
	"github.com/leadengine/whatsapp-ingest/pkg/metrics"
)

const sendBuffer = 64

// Envelope is the wire format of one emission.
type Envelope struct {
	Channel  string    `json:"channel"`
	Event    string    `json:"event"`
	Payload  any       `json:"payload"`
	SenderID string    `json:"sender_id,omitempty"`
	At       time.Time `json:"at"`
}

type subscribeRequest struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type client struct {
	send     chan []byte
	channels map[string]struct{}
}

// Hub implements the realtime emitter port. Emissions never block: a
// client that cannot keep up has its messages dropped, not the pipeline.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	vk      *valkey.Client
	pubChan string
	localID string
}

var _ domain.Emitter = (*Hub)(nil)

func NewHub(vk *valkey.Client) *Hub {
	h := &Hub{
		clients: make(map[*websocket.Conn]*client),
		vk:      vk,
		localID: uuid.NewString(),
	}
	if vk != nil {
		h.pubChan = vk.Key("realtime")
		h.startSubscriber()
	}
	return h
}

func (h *Hub) EmitToTenant(tenantID, event string, payload any) {
	h.emit("tenant:"+tenantID, event, payload)
}

func (h *Hub) EmitToTicket(ticketID, event string, payload any) {
	h.emit("ticket:"+ticketID, event, payload)
}

func (h *Hub) EmitToAgreement(agreementID, event string, payload any) {
	h.emit("agreement:"+agreementID, event, payload)
}

func (h *Hub) emit(channel, event string, payload any) {
	env := Envelope{
		Channel: channel,
		Event:   event,
		Payload: payload,
		At:      time.Now().UTC(),
	}
	h.deliverLocal(env)
	h.publish(env)
	metrics.RealtimeEmits.WithLabelValues(event, channelKind(channel)).Inc()
}

func (h *Hub) deliverLocal(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logrus.WithError(err).Error("[REALTIME] Marshal failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		if _, ok := cl.channels[env.Channel]; !ok {
			continue
		}
		select {
		case cl.send <- data:
		default:
			logrus.WithField("channel", env.Channel).Warn("[REALTIME] Slow subscriber, dropping event")
		}
	}
}

func (h *Hub) publish(env Envelope) {
	if h.vk == nil {
		return
	}
	env.SenderID = h.localID
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	inner := h.vk.Inner()
	cmd := inner.B().Publish().Channel(h.pubChan).Message(string(data)).Build()
	if err := inner.Do(context.Background(), cmd).Error(); err != nil {
		logrus.WithError(err).Error("[REALTIME] Valkey publish failed")
	}
}

func (h *Hub) startSubscriber() {
	go func() {
		inner := h.vk.Inner()
		err := inner.Receive(context.Background(),
			inner.B().Subscribe().Channel(h.pubChan).Build(),
			func(msg valkeylib.PubSubMessage) {
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Message), &env); err != nil {
					return
				}
				// Ignore our own emissions looping back.
				if env.SenderID == h.localID {
					return
				}
				h.deliverLocal(env)
			})
		if err != nil {
			logrus.WithError(err).Error("[REALTIME] Valkey subscriber failed")
		}
	}()
}

// RegisterRoutes mounts the websocket endpoint. Clients drive their own
// channel membership with subscribe/unsubscribe messages.
func (h *Hub) RegisterRoutes(app fiber.Router, path string) {
	app.Use(path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return c.SendStatus(fiber.StatusUpgradeRequired)
	})

	app.Get(path, websocket.New(func(conn *websocket.Conn) {
		cl := &client{
			send:     make(chan []byte, sendBuffer),
			channels: make(map[string]struct{}),
		}
		h.mu.Lock()
		h.clients[conn] = cl
		h.mu.Unlock()
		logrus.Debug("[REALTIME] Connection registered")

		done := make(chan struct{})
		go func() {
			for {
				select {
				case data := <-cl.send:
					if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		defer func() {
			close(done)
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			_ = conn.Close()
			logrus.Debug("[REALTIME] Connection unregistered")
		}()

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.WithError(err).Debug("[REALTIME] Read error")
				}
				return
			}
			if msgType != websocket.TextMessage {
				continue
			}
			var req subscribeRequest
			if err := json.Unmarshal(msg, &req); err != nil {
				continue
			}
			h.mu.Lock()
			switch req.Action {
			case "subscribe":
				cl.channels[req.Channel] = struct{}{}
			case "unsubscribe":
				delete(cl.channels, req.Channel)
			}
			h.mu.Unlock()
		}
	}))
}

func channelKind(channel string) string {
	for i := 0; i < len(channel); i++ {
		if channel[i] == ':' {
			return channel[:i]
		}
	}
	return "unknown"
}
