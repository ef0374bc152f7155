package realtime

// Event names emitted by the ingestion pipeline. This is a closed set;
// subscribers key their routing on these strings.
const (
	EventTicketMessagesNew  = "ticketMessages.new"
	EventTicketsNew         = "tickets.new"
	EventTicketsUpdated     = "tickets.updated"
	EventMessagesNew        = "messages.new"
	EventMessageUpdated     = "messageUpdated"
	EventLeadActivitiesNew  = "leadActivities.new"
	EventLeadAllocationsNew = "leadAllocations.new"
	EventLeadsUpdated       = "leads.updated"
)

// Emitter fans out entity updates to interested subscribers. Emissions
// are best-effort and must never block pipeline progress beyond a bounded
// interval.
type Emitter interface {
	EmitToTenant(tenantID, event string, payload any)
	EmitToTicket(ticketID, event string, payload any)
	EmitToAgreement(agreementID, event string, payload any)
}

// NopEmitter discards every emission. Used in the media worker CLI and in
// tests that do not assert on fan-out.
type NopEmitter struct{}

func (NopEmitter) EmitToTenant(string, string, any)    {}
func (NopEmitter) EmitToTicket(string, string, any)    {}
func (NopEmitter) EmitToAgreement(string, string, any) {}
