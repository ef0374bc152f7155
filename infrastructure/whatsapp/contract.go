package whatsapp

import (
	"time"

	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/pkg/rawmap"
)

// NormalizeContract converts a contract event (MESSAGE_INBOUND /
// MESSAGE_OUTBOUND) into the same canonical form raw upserts are folded
// into, so both shapes share one pipeline downstream.
func NormalizeContract(evType string, payload map[string]any, ov ingest.Overrides) []ingest.NormalizedMessage {
	if payload == nil {
		return nil
	}

	entries := rawmap.Maps(payload, "messages")
	if entries == nil {
		entries = []map[string]any{payload}
	}

	direction := message.DirectionInbound
	if evType == ingest.EventOutbound {
		direction = message.DirectionOutbound
	}

	out := make([]ingest.NormalizedMessage, 0, len(entries))
	for idx, entry := range entries {
		nm := contractEntry(entry, idx, direction, ov)
		if nm == nil {
			continue
		}
		out = append(out, *nm)
	}
	return out
}

func contractEntry(entry map[string]any, index int, direction message.Direction, ov ingest.Overrides) *ingest.NormalizedMessage {
	chat := normalizeJid(rawmap.FirstString(entry, "chatId", "from", "remoteJid", "phone"))
	if chat == "" {
		return nil
	}

	nm := &ingest.NormalizedMessage{
		Index:      index,
		InstanceID: firstNonEmpty(rawmap.FirstString(entry, "instanceId", "instance_id"), ov.InstanceID),
		TenantID:   firstNonEmpty(rawmap.FirstString(entry, "tenantId", "tenant_id"), ov.TenantID),
		BrokerID:   firstNonEmpty(rawmap.FirstString(entry, "brokerId", "broker_id"), ov.BrokerID),
		SessionID:  ov.SessionID,
		ChatID:     chat,
		Sender:     chat,
		PushName:   rawmap.FirstString(entry, "pushName", "name", "senderName"),
		Raw:        entry,
	}
	if nm.InstanceID == "" {
		return nil
	}

	nm.Type = contractType(rawmap.String(entry, "type"))
	if text := rawmap.FirstString(entry, "content", "text", "body", "caption"); text != "" {
		nm.Text = text
		nm.HasText = true
	} else if message.IsMediaType(nm.Type) {
		nm.Text = MediaFallbackText
		nm.HasText = true
	}

	if url := rawmap.FirstString(entry, "mediaUrl", "media_url"); url != "" || message.IsMediaType(nm.Type) {
		nm.Media = &ingest.MediaInfo{
			URL:        url,
			MimeType:   rawmap.FirstString(entry, "mimeType", "mime_type", "mimetype"),
			FileName:   rawmap.FirstString(entry, "fileName", "file_name"),
			FileLength: rawmap.Int64(entry, "fileSize"),
			MediaKey:   rawmap.FirstString(entry, "mediaKey", "media_key"),
			DirectPath: rawmap.FirstString(entry, "directPath", "direct_path"),
		}
	}

	nm.Timestamp = rawmap.Time(entry, "timestamp")
	if nm.Timestamp.IsZero() {
		nm.Timestamp = ov.FallbackTimestamp
	}
	if nm.Timestamp.IsZero() {
		nm.Timestamp = time.Now().UTC()
	}

	nm.MessageID = rawmap.FirstString(entry, "id", "messageId", "message_id", "externalId")
	if nm.MessageID == "" {
		nm.MessageID = syntheticMessageID(entry)
	}

	nm.Metadata = map[string]any{
		"broker": map[string]any{
			"id": nm.BrokerID,
		},
		"source":    firstNonEmpty(ov.Source, "contract"),
		"direction": string(direction),
		"contact": map[string]any{
			"chatId":   nm.ChatID,
			"pushName": nm.PushName,
		},
		"messageIndex": nm.Index,
	}
	if nm.TenantID != "" {
		nm.Metadata["tenantId"] = nm.TenantID
	}
	return nm
}

func contractType(raw string) message.Type {
	switch raw {
	case "text", "chat", "":
		return message.TypeText
	case "image", "sticker":
		return message.TypeImage
	case "video":
		return message.TypeVideo
	case "audio", "ptt", "voice":
		return message.TypeAudio
	case "document", "file":
		return message.TypeDocument
	case "location":
		return message.TypeLocation
	case "contact", "vcard":
		return message.TypeContact
	case "template":
		return message.TypeTemplate
	case "poll":
		return message.TypePoll
	default:
		return message.TypeUnknown
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
