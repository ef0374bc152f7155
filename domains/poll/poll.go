package poll

import "time"

// Option is one selectable answer of a poll.
type Option struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Title string `json:"title"`
}

// Metadata is the static description of a poll captured from its creation
// message. MessageSecret is required to decrypt vote payloads and may
// arrive later than the creation event.
type Metadata struct {
	PollID               string    `json:"poll_id"`
	TenantID             string    `json:"tenant_id"`
	InstanceID           string    `json:"instance_id,omitempty"`
	Question             string    `json:"question"`
	Options              []Option  `json:"options"`
	AllowMultipleAnswers bool      `json:"allow_multiple_answers"`
	CreationMessageID    string    `json:"creation_message_id"`
	CreationMessageKey   string    `json:"creation_message_key,omitempty"`
	MessageSecret        string    `json:"message_secret,omitempty"`
	MessageSecretVersion int       `json:"message_secret_version,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Vote is one voter's current selection. A later vote from the same JID
// replaces the earlier one entirely.
type Vote struct {
	OptionIDs []string  `json:"option_ids"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Encrypted bool      `json:"encrypted,omitempty"`
}

// Aggregates are derived from Votes; per-vote data stays authoritative
// when the two disagree.
type Aggregates struct {
	TotalVoters  int            `json:"total_voters"`
	TotalVotes   int            `json:"total_votes"`
	OptionTotals map[string]int `json:"option_totals"`
}

// Context carries the tenant scoping and creation identifiers so that a
// later webhook lacking them can recover the full state.
type Context struct {
	TenantID           string `json:"tenant_id"`
	CreationMessageID  string `json:"creation_message_id,omitempty"`
	CreationMessageKey string `json:"creation_message_key,omitempty"`
	Question           string `json:"question,omitempty"`
}

// ChoiceState is the dynamic tally of a poll, persisted idempotently under
// the key "poll-state:<pollId>".
type ChoiceState struct {
	PollID     string          `json:"poll_id"`
	Options    []Option        `json:"options"`
	Votes      map[string]Vote `json:"votes"`
	Aggregates Aggregates      `json:"aggregates"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Context    Context         `json:"context"`
}

// StateKey is the processed-event key a ChoiceState is persisted under.
func StateKey(pollID string) string {
	return "poll-state:" + pollID
}

// Recount rebuilds the aggregates from the per-vote map.
func (s *ChoiceState) Recount() {
	agg := Aggregates{OptionTotals: make(map[string]int, len(s.Options))}
	for _, opt := range s.Options {
		agg.OptionTotals[opt.ID] = 0
	}
	for _, vote := range s.Votes {
		if len(vote.OptionIDs) == 0 {
			continue
		}
		agg.TotalVoters++
		for _, id := range vote.OptionIDs {
			agg.TotalVotes++
			agg.OptionTotals[id]++
		}
	}
	s.Aggregates = agg
}
