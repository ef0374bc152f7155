package ingest

import (
	"time"

	"github.com/leadengine/whatsapp-ingest/domains/message"
)

// Event types accepted on the webhook surface. Anything else is counted
// as unsupported and dropped without failing the request.
const (
	EventMessagesUpsert = "WHATSAPP_MESSAGES_UPSERT"
	EventMessagesUpdate = "WHATSAPP_MESSAGES_UPDATE"
	EventPollChoice     = "POLL_CHOICE"
	EventInbound        = "MESSAGE_INBOUND"
	EventOutbound       = "MESSAGE_OUTBOUND"
)

// Classification results and ignore reasons, used as counter labels.
const (
	ResultAccepted = "accepted"
	ResultIgnored  = "ignored"
	ResultRejected = "rejected"
	ResultFailed   = "failed"

	ReasonFromMe           = "from_me"
	ReasonEmptyMessage     = "empty_message"
	ReasonProtocolMessage  = "protocol_message"
	ReasonHistorySync      = "history_sync"
	ReasonMessageStub      = "message_stub"
	ReasonUnsupportedEvent = "unsupported_event"
	ReasonDuplicate        = "message_duplicate"
	ReasonNoInstance       = "instance_not_found"
	ReasonNoQueue          = "queue_unavailable"
	ReasonAckRegression    = "ack_regression"
	ReasonAckLate          = "ack_late"
)

// Envelope is one unwrapped webhook entry. Payload and Raw keep the
// broker's free-form shape; the normalizer and the dispatcher read from
// them through the rawmap helpers.
type Envelope struct {
	Type       string
	InstanceID string
	BrokerID   string
	TenantID   string
	Payload    map[string]any
	Raw        map[string]any
}

// Overrides seed the resolution cascade of the normalizer with values the
// dispatcher already knows (request headers, envelope fields).
type Overrides struct {
	InstanceID        string
	TenantID          string
	BrokerID          string
	SessionID         string
	Owner             string
	Source            string
	FallbackTimestamp time.Time
}

// MediaInfo is the downloadable body of a media message as announced by
// the broker. MediaKey/DirectPath enable the deferred download path.
type MediaInfo struct {
	MimeType   string `json:"mime_type,omitempty"`
	FileLength int64  `json:"file_length,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	MediaKey   string `json:"media_key,omitempty"`
	DirectPath string `json:"direct_path,omitempty"`
	Caption    string `json:"caption,omitempty"`
	URL        string `json:"url,omitempty"`
}

// QuotedInfo is the reply context extracted from contextInfo.
type QuotedInfo struct {
	QuotedMessageID   string `json:"quoted_message_id"`
	QuotedParticipant string `json:"quoted_participant,omitempty"`
	QuotedText        string `json:"quoted_text,omitempty"`
}

// InteractiveInfo captures list/button reply selections.
type InteractiveInfo struct {
	Kind        string `json:"kind"`
	SelectionID string `json:"selection_id,omitempty"`
	Display     string `json:"display,omitempty"`
}

// PollCreation is the poll payload attached to a poll creation message.
type PollCreation struct {
	Name                 string
	OptionTitles         []string
	SelectableCount      int
	MessageSecret        string
	MessageSecretVersion int
}

// NormalizedMessage is the canonical form every accepted upsert entry is
// folded into before it enters the inbound pipeline.
type NormalizedMessage struct {
	MessageID   string
	Index       int
	InstanceID  string
	TenantID    string
	BrokerID    string
	SessionID   string
	ChatID      string
	Sender      string
	Participant string
	IsGroup     bool
	PushName    string
	Type        message.Type
	Text        string
	HasText     bool
	Media       *MediaInfo
	Quoted      *QuotedInfo
	Interactive *InteractiveInfo
	Poll        *PollCreation
	Timestamp   time.Time
	Metadata    map[string]any
	Raw         map[string]any
}

// Ignored records one upsert entry that produced no normalized message.
type Ignored struct {
	Index     int    `json:"index"`
	MessageID string `json:"message_id,omitempty"`
	Reason    string `json:"reason"`
}
