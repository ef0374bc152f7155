// Package whatsapp folds heterogeneous Baileys-style broker payloads into
// the canonical message model. Everything here is a pure function of its
// inputs; the fallback message id is derived from a hash of the raw entry
// so normalization stays reproducible.
package whatsapp

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/domains/message"
	"github.com/leadengine/whatsapp-ingest/pkg/rawmap"
)

// MediaFallbackText is used when a media message carries no caption.
const MediaFallbackText = "[Mensagem recebida via WhatsApp]"

const groupSuffix = "@g.us"

// Normalize folds one upsert event into an ordered list of normalized
// messages plus the entries that were ignored, with reasons. Events whose
// type is present and not WHATSAPP_MESSAGES_UPSERT yield an empty result.
func Normalize(event map[string]any, ov ingest.Overrides) ([]ingest.NormalizedMessage, []ingest.Ignored) {
	if event == nil {
		return nil, nil
	}
	evType := rawmap.FirstString(event, "event", "type")
	if evType != "" && evType != ingest.EventMessagesUpsert {
		return nil, nil
	}

	payload := rawmap.Map(event, "payload")
	if payload == nil {
		payload = event
	}
	metadata := rawmap.Map(event, "metadata")
	brokerMeta := rawmap.Map(event, "broker")
	if brokerMeta == nil {
		brokerMeta = rawmap.Map(metadata, "broker")
	}

	resolve := func(override string, keys ...string) string {
		if override != "" {
			return override
		}
		for _, scope := range []map[string]any{payload, event, metadata, brokerMeta} {
			if v := rawmap.FirstString(scope, keys...); v != "" {
				return v
			}
		}
		return ""
	}

	instanceID := resolve(ov.InstanceID, "instanceId", "instance_id", "instance")
	if instanceID == "" {
		return nil, nil
	}
	tenantID := resolve(ov.TenantID, "tenantId", "tenant_id", "tenant")
	brokerID := resolve(ov.BrokerID, "brokerId", "broker_id", "sessionName")
	sessionID := resolve(ov.SessionID, "sessionId", "session_id")
	owner := resolve(ov.Owner, "owner", "ownerJid", "wid")
	source := resolve(ov.Source, "source", "origin")

	fallbackTS := ov.FallbackTimestamp
	if fallbackTS.IsZero() {
		for _, scope := range []map[string]any{payload, event, metadata} {
			if ts := rawmap.Time(scope, "timestamp"); !ts.IsZero() {
				fallbackTS = ts
				break
			}
		}
	}
	if fallbackTS.IsZero() {
		fallbackTS = time.Now().UTC()
	}

	entries := rawmap.Maps(payload, "messages")
	if entries == nil {
		entries = rawmap.Maps(rawmap.Map(payload, "raw"), "messages")
	}
	if entries == nil {
		entries = rawmap.Maps(rawmap.Map(event, "raw"), "messages")
	}

	var (
		out     []ingest.NormalizedMessage
		ignored []ingest.Ignored
	)
	for idx, entry := range entries {
		nm, reason := normalizeEntry(entry, idx, fallbackTS)
		if reason != "" {
			ignored = append(ignored, ingest.Ignored{
				Index:     idx,
				MessageID: rawmap.String(rawmap.Map(entry, "key"), "id"),
				Reason:    reason,
			})
			continue
		}
		nm.InstanceID = instanceID
		nm.TenantID = tenantID
		nm.BrokerID = brokerID
		nm.SessionID = sessionID
		nm.Metadata = metadataEnvelope(nm, entry, brokerID, source, owner, tenantID, sessionID)
		out = append(out, *nm)
	}
	return out, ignored
}

func normalizeEntry(entry map[string]any, index int, fallbackTS time.Time) (*ingest.NormalizedMessage, string) {
	key := rawmap.Map(entry, "key")
	if rawmap.Bool(key, "fromMe") {
		return nil, ingest.ReasonFromMe
	}

	content := unwrapContent(rawmap.Map(entry, "message"))
	switch {
	case len(content) == 0:
		return nil, ingest.ReasonEmptyMessage
	case rawmap.Map(content, "protocolMessage") != nil:
		return nil, ingest.ReasonProtocolMessage
	case rawmap.Map(content, "historySyncNotification") != nil,
		rawmap.Dig(content, "protocolMessage", "historySyncNotification") != nil:
		return nil, ingest.ReasonHistorySync
	case rawmap.String(entry, "messageStubType") != "":
		return nil, ingest.ReasonMessageStub
	}

	nm := &ingest.NormalizedMessage{
		Index: index,
		Raw:   entry,
	}

	remoteJid := rawmap.String(key, "remoteJid")
	nm.IsGroup = strings.HasSuffix(remoteJid, groupSuffix)
	nm.ChatID = normalizeJid(remoteJid)
	nm.Sender = nm.ChatID
	if participant := rawmap.FirstString(key, "participant", "participantAlt"); participant != "" {
		nm.Participant = normalizeJid(participant)
		if nm.IsGroup {
			nm.Sender = nm.Participant
		}
	}
	nm.PushName = rawmap.FirstString(entry, "pushName", "verifiedBizName")

	nm.Timestamp = rawmap.Time(entry, "messageTimestamp")
	if nm.Timestamp.IsZero() {
		nm.Timestamp = fallbackTS
	}

	nm.Type = classify(content)
	nm.Media = extractMedia(content)
	nm.Quoted = extractQuoted(content)
	nm.Interactive = extractInteractive(content)
	if nm.Type == message.TypePoll {
		nm.Poll = extractPollCreation(entry, content)
	}
	nm.Text, nm.HasText = deriveText(content, nm.Type, nm.Media, nm.Interactive)

	nm.MessageID = rawmap.FirstString(entry, "id")
	if nm.MessageID == "" {
		nm.MessageID = rawmap.String(key, "id")
	}
	if nm.MessageID == "" {
		nm.MessageID = syntheticMessageID(entry)
	}
	return nm, ""
}

// unwrapContent peels nested ephemeral / view-once wrappers until a leaf
// content record is reached.
func unwrapContent(content map[string]any) map[string]any {
	for i := 0; i < 8 && content != nil; i++ {
		switch {
		case rawmap.Dig(content, "ephemeralMessage", "message") != nil:
			content = rawmap.Dig(content, "ephemeralMessage", "message")
		case rawmap.Dig(content, "viewOnceMessage", "message") != nil:
			content = rawmap.Dig(content, "viewOnceMessage", "message")
		case rawmap.Dig(content, "viewOnceMessageV2", "message") != nil:
			content = rawmap.Dig(content, "viewOnceMessageV2", "message")
		case rawmap.Dig(content, "viewOnceMessageV2Extension", "message") != nil:
			content = rawmap.Dig(content, "viewOnceMessageV2Extension", "message")
		case rawmap.Dig(content, "documentWithCaptionMessage", "message") != nil:
			content = rawmap.Dig(content, "documentWithCaptionMessage", "message")
		default:
			return content
		}
	}
	return content
}

// classify determines the message type by sub-record presence, in strict
// priority order.
func classify(content map[string]any) message.Type {
	switch {
	case rawmap.Map(content, "pollCreationMessage") != nil,
		rawmap.Map(content, "pollCreationMessageV2") != nil,
		rawmap.Map(content, "pollCreationMessageV3") != nil:
		return message.TypePoll
	case rawmap.Map(content, "pollUpdateMessage") != nil:
		return message.TypePollChoice
	case rawmap.Map(content, "listResponseMessage") != nil,
		rawmap.Map(content, "buttonsResponseMessage") != nil,
		rawmap.Map(content, "templateButtonReplyMessage") != nil:
		return message.TypeTemplate
	case rawmap.Map(content, "imageMessage") != nil,
		rawmap.Map(content, "stickerMessage") != nil:
		return message.TypeImage
	case rawmap.Map(content, "videoMessage") != nil:
		return message.TypeVideo
	case rawmap.Map(content, "audioMessage") != nil:
		return message.TypeAudio
	case rawmap.Map(content, "documentMessage") != nil:
		return message.TypeDocument
	case rawmap.Map(content, "locationMessage") != nil:
		return message.TypeLocation
	case rawmap.Map(content, "contactMessage") != nil,
		rawmap.Map(content, "contactsArrayMessage") != nil:
		return message.TypeContact
	default:
		return message.TypeText
	}
}

var mediaRecords = []string{
	"imageMessage", "stickerMessage", "videoMessage", "audioMessage", "documentMessage",
}

func extractMedia(content map[string]any) *ingest.MediaInfo {
	for _, record := range mediaRecords {
		m := rawmap.Map(content, record)
		if m == nil {
			continue
		}
		return &ingest.MediaInfo{
			MimeType:   rawmap.String(m, "mimetype"),
			FileLength: rawmap.Int64(m, "fileLength"),
			FileName:   rawmap.String(m, "fileName"),
			MediaKey:   rawmap.String(m, "mediaKey"),
			DirectPath: rawmap.String(m, "directPath"),
			Caption:    rawmap.String(m, "caption"),
			URL:        rawmap.String(m, "url"),
		}
	}
	return nil
}

func extractQuoted(content map[string]any) *ingest.QuotedInfo {
	for _, record := range append([]string{"extendedTextMessage"}, mediaRecords...) {
		ctxInfo := rawmap.Dig(content, record, "contextInfo")
		if ctxInfo == nil {
			continue
		}
		quoted := rawmap.Map(ctxInfo, "quotedMessage")
		stanzaID := rawmap.String(ctxInfo, "stanzaId")
		if quoted == nil && stanzaID == "" {
			continue
		}
		return &ingest.QuotedInfo{
			QuotedMessageID:   stanzaID,
			QuotedParticipant: normalizeJid(rawmap.String(ctxInfo, "participant")),
			QuotedText:        quotedText(quoted),
		}
	}
	return nil
}

func quotedText(quoted map[string]any) string {
	if quoted == nil {
		return ""
	}
	if s := rawmap.String(quoted, "conversation"); s != "" {
		return s
	}
	if s := rawmap.String(rawmap.Map(quoted, "extendedTextMessage"), "text"); s != "" {
		return s
	}
	for _, record := range mediaRecords {
		if s := rawmap.String(rawmap.Map(quoted, record), "caption"); s != "" {
			return s
		}
	}
	return ""
}

func extractInteractive(content map[string]any) *ingest.InteractiveInfo {
	if list := rawmap.Map(content, "listResponseMessage"); list != nil {
		return &ingest.InteractiveInfo{
			Kind:        "list_response",
			SelectionID: rawmap.String(rawmap.Map(list, "singleSelectReply"), "selectedRowId"),
			Display:     rawmap.String(list, "title"),
		}
	}
	if btn := rawmap.Map(content, "buttonsResponseMessage"); btn != nil {
		return &ingest.InteractiveInfo{
			Kind:        "buttons_response",
			SelectionID: rawmap.String(btn, "selectedButtonId"),
			Display:     rawmap.String(btn, "selectedDisplayText"),
		}
	}
	if tpl := rawmap.Map(content, "templateButtonReplyMessage"); tpl != nil {
		return &ingest.InteractiveInfo{
			Kind:        "template_reply",
			SelectionID: rawmap.String(tpl, "selectedId"),
			Display:     rawmap.String(tpl, "selectedDisplayText"),
		}
	}
	return nil
}

func extractPollCreation(entry, content map[string]any) *ingest.PollCreation {
	var pollMsg map[string]any
	for _, record := range []string{"pollCreationMessage", "pollCreationMessageV2", "pollCreationMessageV3"} {
		if pollMsg = rawmap.Map(content, record); pollMsg != nil {
			break
		}
	}
	if pollMsg == nil {
		return nil
	}
	pc := &ingest.PollCreation{
		Name:            rawmap.String(pollMsg, "name"),
		SelectableCount: int(rawmap.Int64(pollMsg, "selectableOptionsCount")),
	}
	for _, opt := range rawmap.Maps(pollMsg, "options") {
		if title := rawmap.FirstString(opt, "optionName", "name", "title"); title != "" {
			pc.OptionTitles = append(pc.OptionTitles, title)
		}
	}
	if msgCtx := rawmap.Map(content, "messageContextInfo"); msgCtx != nil {
		pc.MessageSecret = rawmap.String(msgCtx, "messageSecret")
		pc.MessageSecretVersion = int(rawmap.Int64(msgCtx, "messageSecretVersion"))
	}
	if pc.MessageSecret == "" {
		pc.MessageSecret = rawmap.String(rawmap.Map(entry, "messageContextInfo"), "messageSecret")
	}
	return pc
}

// deriveText resolves the message body through the documented cascade.
// Media without caption falls back to a placeholder; a non-media message
// without text yields HasText=false.
func deriveText(content map[string]any, msgType message.Type, media *ingest.MediaInfo, interactive *ingest.InteractiveInfo) (string, bool) {
	if s := rawmap.String(content, "conversation"); s != "" {
		return s, true
	}
	if s := rawmap.String(rawmap.Map(content, "extendedTextMessage"), "text"); s != "" {
		return s, true
	}
	if interactive != nil && interactive.Display != "" {
		return interactive.Display, true
	}
	if media != nil && media.Caption != "" {
		return media.Caption, true
	}
	if interactive != nil && interactive.SelectionID != "" {
		return interactive.SelectionID, true
	}
	for _, record := range []string{"pollCreationMessage", "pollCreationMessageV2", "pollCreationMessageV3"} {
		if s := rawmap.String(rawmap.Map(content, record), "name"); s != "" {
			return s, true
		}
	}
	if message.IsMediaType(msgType) {
		return MediaFallbackText, true
	}
	return "", false
}

// normalizeJid reduces a WhatsApp address to its digits when it looks
// like a phone number (>= 8 digits); otherwise it keeps the pre-@ user
// portion untouched.
func normalizeJid(jid string) string {
	jid = strings.TrimSpace(jid)
	if jid == "" {
		return ""
	}
	user := jid
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		user = jid[:at]
	}
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		user = user[:colon]
	}
	digits := make([]byte, 0, len(user))
	for i := 0; i < len(user); i++ {
		if user[i] >= '0' && user[i] <= '9' {
			digits = append(digits, user[i])
		}
	}
	if len(digits) >= 8 {
		return string(digits)
	}
	return user
}

// syntheticMessageID derives a reproducible id for entries that carry
// none. json.Marshal sorts map keys, so equal entries hash equally.
func syntheticMessageID(entry map[string]any) string {
	raw, err := json.Marshal(entry)
	if err != nil {
		raw = []byte(time.Now().String())
	}
	sum := sha1.Sum(raw)
	return "wamid-" + hex.EncodeToString(sum[:8])
}

func metadataEnvelope(nm *ingest.NormalizedMessage, entry map[string]any, brokerID, source, owner, tenantID, sessionID string) map[string]any {
	env := map[string]any{
		"broker": map[string]any{
			"id":    brokerID,
			"owner": owner,
		},
		"source":    source,
		"direction": string(message.DirectionInbound),
		"rawKey":    rawmap.Map(entry, "key"),
		"contact": map[string]any{
			"chatId":      nm.ChatID,
			"sender":      nm.Sender,
			"participant": nm.Participant,
			"isGroup":     nm.IsGroup,
			"pushName":    nm.PushName,
		},
		"messageIndex": nm.Index,
	}
	if tenantID != "" {
		env["tenantId"] = tenantID
	}
	if sessionID != "" {
		env["sessionId"] = sessionID
	}
	if nm.Quoted != nil {
		env["quoted"] = map[string]any{
			"quotedMessageId":   nm.Quoted.QuotedMessageID,
			"quotedParticipant": nm.Quoted.QuotedParticipant,
			"quotedText":        nm.Quoted.QuotedText,
		}
	}
	if nm.Interactive != nil {
		env["interactive"] = map[string]any{
			"kind":        nm.Interactive.Kind,
			"selectionId": nm.Interactive.SelectionID,
			"display":     nm.Interactive.Display,
		}
	}
	return env
}
