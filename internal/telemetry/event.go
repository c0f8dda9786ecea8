package telemetry

import "time"

// Event is an observability record for a verification or issuance outcome.
// It mirrors the audit log's shape but is serialized as JSON for transport
// to the telemetry backends (OTel logs, Kafka, Loki).
type Event struct {
	EventRef   string    `json:"event_ref"`
	CardID     string    `json:"card_id,omitempty"`
	IssuerID   string    `json:"issuer_id,omitempty"`
	MemberID   string    `json:"member_id,omitempty"`
	Result     string    `json:"result"`
	Context    string    `json:"context,omitempty"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
