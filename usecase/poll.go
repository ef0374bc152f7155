package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/leadengine/whatsapp-ingest/domains/ingest"
	"github.com/leadengine/whatsapp-ingest/domains/poll"
	"github.com/leadengine/whatsapp-ingest/domains/realtime"
	"github.com/leadengine/whatsapp-ingest/pkg/apperror"
	"github.com/leadengine/whatsapp-ingest/pkg/metrics"
	"github.com/leadengine/whatsapp-ingest/pkg/rawmap"
)

// PollService reconciles poll metadata and vote state into the poll's
// creation message.
type PollService struct {
	store   Store
	emitter realtime.Emitter
}

func NewPollService(store Store, emitter realtime.Emitter) *PollService {
	return &PollService{store: store, emitter: emitter}
}

// RegisterCreation upserts the static poll description captured from a
// poll creation message. Called by the inbound pipeline as a side effect
// of persisting the creation message.
func (s *PollService) RegisterCreation(ctx context.Context, nm ingest.NormalizedMessage) error {
	if nm.Poll == nil {
		return nil
	}
	options := make([]poll.Option, 0, len(nm.Poll.OptionTitles))
	for i, title := range nm.Poll.OptionTitles {
		options = append(options, poll.Option{
			ID:    optionID(nm.MessageID, i),
			Index: i,
			Title: title,
		})
	}
	meta := &poll.Metadata{
		PollID:               nm.MessageID,
		TenantID:             nm.TenantID,
		InstanceID:           nm.InstanceID,
		Question:             nm.Poll.Name,
		Options:              options,
		AllowMultipleAnswers: nm.Poll.SelectableCount != 1,
		CreationMessageID:    nm.MessageID,
		CreationMessageKey:   creationKey(nm),
		MessageSecret:        nm.Poll.MessageSecret,
		MessageSecretVersion: nm.Poll.MessageSecretVersion,
	}
	if err := s.store.UpsertPollMetadata(ctx, meta); err != nil {
		return fmt.Errorf("upsert poll metadata: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"tenant_id": nm.TenantID,
		"poll_id":   nm.MessageID,
		"options":   len(options),
	}).Info("[POLL] Registered poll creation")
	return nil
}

// ProcessChoiceEvent applies one POLL_CHOICE event: merge the vote into
// the persisted ChoiceState, rebuild the creation message's poll
// metadata, and emit messageUpdated.
func (s *PollService) ProcessChoiceEvent(ctx context.Context, env ingest.Envelope, ov ingest.Overrides) {
	tenantID := firstNonEmpty(env.TenantID, ov.TenantID)
	instanceID := firstNonEmpty(env.InstanceID, ov.InstanceID)

	if err := s.applyChoice(ctx, tenantID, env.Payload); err != nil {
		logrus.WithError(err).WithField("tenant_id", tenantID).Error("[POLL] Failed applying poll choice")
		metrics.CountEvent("webhook", tenantID, instanceID, ingest.ResultFailed, "poll_choice_error")
		return
	}
	metrics.CountEvent("webhook", tenantID, instanceID, ingest.ResultAccepted, "poll_choice")
}

func (s *PollService) applyChoice(ctx context.Context, tenantID string, payload map[string]any) error {
	pollID := rawmap.FirstString(payload, "pollId", "poll_id", "pollCreationMessageId")
	if pollID == "" {
		return errors.New("poll choice without pollId")
	}
	voter := rawmap.FirstString(payload, "voterJid", "voter", "participant")
	if voter == "" {
		return errors.New("poll choice without voter")
	}

	state, err := s.loadState(ctx, pollID)
	if err != nil {
		return err
	}

	// Recover tenant scoping and creation identifiers from whatever this
	// webhook or the stored metadata still knows.
	if state.Context.TenantID == "" {
		state.Context.TenantID = tenantID
	}
	if tenantID == "" {
		tenantID = state.Context.TenantID
	}
	meta, metaErr := s.store.GetPollMetadata(ctx, pollID)
	if metaErr == nil && meta != nil {
		if state.Context.Question == "" {
			state.Context.Question = meta.Question
		}
		if state.Context.CreationMessageID == "" {
			state.Context.CreationMessageID = meta.CreationMessageID
		}
		if state.Context.CreationMessageKey == "" {
			state.Context.CreationMessageKey = meta.CreationMessageKey
		}
		if len(state.Options) == 0 {
			state.Options = meta.Options
		}
	}
	if len(state.Options) == 0 {
		state.Options = optionsFromPayload(payload)
	}

	vote := poll.Vote{
		OptionIDs: selectedOptionIDs(payload, state.Options),
		MessageID: rawmap.FirstString(payload, "messageId", "message_id"),
		Timestamp: rawmap.Time(payload, "timestamp"),
		Encrypted: rawmap.Bool(payload, "encrypted"),
	}
	if vote.Timestamp.IsZero() {
		vote.Timestamp = time.Now().UTC()
	}
	if state.Votes == nil {
		state.Votes = make(map[string]poll.Vote)
	}
	state.Votes[normalizeVoter(voter)] = vote
	state.Recount()
	state.UpdatedAt = time.Now().UTC()

	if err := s.store.UpsertProcessedEvent(ctx, poll.StateKey(pollID), state); err != nil {
		return fmt.Errorf("persist poll state: %w", err)
	}

	return s.reconcileMessage(ctx, tenantID, pollID, rawmap.FirstString(payload, "chatId", "chat_id", "remoteJid"), state, meta)
}

func (s *PollService) loadState(ctx context.Context, pollID string) (*poll.ChoiceState, error) {
	state := &poll.ChoiceState{PollID: pollID}
	err := s.store.GetProcessedEvent(ctx, poll.StateKey(pollID), state)
	if err != nil {
		var nf apperror.NotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("load poll state: %w", err)
		}
	}
	state.PollID = pollID
	return state, nil
}

// reconcileMessage merges the tally into the creation message's
// metadata.poll. A missing message is logged and tolerated.
func (s *PollService) reconcileMessage(ctx context.Context, tenantID, pollID, chatID string, state *poll.ChoiceState, meta *poll.Metadata) error {
	identifiers := []string{pollID, state.Context.CreationMessageID, state.Context.CreationMessageKey}
	msg, err := s.store.FindPollVoteMessageCandidate(ctx, tenantID, pollID, chatID, identifiers)
	if err != nil {
		var nf apperror.NotFoundError
		if errors.As(err, &nf) {
			logrus.WithFields(logrus.Fields{
				"tenant_id": tenantID,
				"poll_id":   pollID,
			}).Warn("[POLL] No candidate message for poll choice, skipping reconcile")
			return nil
		}
		return err
	}

	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	existing := rawmap.Map(msg.Metadata, "poll")

	question := rawmap.FirstString(existing, "question", "title", "name")
	if question == "" {
		question = state.Context.Question
	}
	if question == "" && meta != nil {
		question = meta.Question
	}

	sum := 0
	for _, n := range state.Aggregates.OptionTotals {
		sum += n
	}
	if sum != state.Aggregates.TotalVotes {
		logrus.WithFields(logrus.Fields{
			"poll_id":       pollID,
			"total_votes":   state.Aggregates.TotalVotes,
			"option_totals": sum,
		}).Warn("[POLL] Aggregates mismatch, favouring per-vote data")
	}

	options := make([]map[string]any, 0, len(state.Options))
	for _, opt := range state.Options {
		options = append(options, map[string]any{
			"id":    opt.ID,
			"index": opt.Index,
			"title": opt.Title,
			"votes": state.Aggregates.OptionTotals[opt.ID],
		})
	}

	msg.Metadata["poll"] = map[string]any{
		"pollId":      pollID,
		"question":    question,
		"options":     options,
		"totalVotes":  state.Aggregates.TotalVotes,
		"totalVoters": state.Aggregates.TotalVoters,
		"updatedAt":   state.UpdatedAt.Format(time.RFC3339),
	}

	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("update poll message: %w", err)
	}

	payload := map[string]any{
		"tenantId": tenantID,
		"ticketId": msg.TicketID,
		"message":  msg,
	}
	s.emitter.EmitToTicket(msg.TicketID, realtime.EventMessageUpdated, payload)
	s.emitter.EmitToTenant(tenantID, realtime.EventMessageUpdated, payload)
	return nil
}

func optionsFromPayload(payload map[string]any) []poll.Option {
	raw := rawmap.Maps(payload, "options")
	out := make([]poll.Option, 0, len(raw))
	for i, opt := range raw {
		id := rawmap.FirstString(opt, "id", "optionId")
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, poll.Option{
			ID:    id,
			Index: i,
			Title: rawmap.FirstString(opt, "title", "name", "optionName"),
		})
	}
	return out
}

// selectedOptionIDs maps the payload's selection (ids, indexes or titles)
// onto known option ids.
func selectedOptionIDs(payload map[string]any, options []poll.Option) []string {
	selected := rawmap.Strings(payload, "optionIds")
	if selected == nil {
		selected = rawmap.Strings(payload, "selectedOptions")
	}
	if selected == nil {
		if one := rawmap.FirstString(payload, "optionId", "selectedOption"); one != "" {
			selected = []string{one}
		}
	}

	byTitle := make(map[string]string, len(options))
	known := make(map[string]bool, len(options))
	for _, opt := range options {
		byTitle[opt.Title] = opt.ID
		known[opt.ID] = true
	}

	out := make([]string, 0, len(selected))
	for _, sel := range selected {
		switch {
		case known[sel]:
			out = append(out, sel)
		case byTitle[sel] != "":
			out = append(out, byTitle[sel])
		default:
			out = append(out, sel)
		}
	}
	return out
}

func normalizeVoter(voter string) string {
	// Voter arrives as a full JID; fold to the same shape chat ids use.
	if i := len(voter); i > 0 {
		for j := 0; j < i; j++ {
			if voter[j] == '@' {
				return voter[:j]
			}
		}
	}
	return voter
}

func optionID(pollID string, index int) string {
	return fmt.Sprintf("%s-opt-%d", pollID, index)
}

func creationKey(nm ingest.NormalizedMessage) string {
	if nm.Raw == nil {
		return ""
	}
	key := rawmap.Map(nm.Raw, "key")
	if key == nil {
		return ""
	}
	return rawmap.String(key, "id")
}
