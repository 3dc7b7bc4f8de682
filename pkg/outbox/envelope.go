package outbox

import (
	"encoding/json"
	"time"
)

// Event sources recorded on ActorRef.
const (
	SourceBillingEngine = "billing-engine"
	SourceAdminAPI      = "admin-api"
	SourceWebhook       = "webhook"
)

// ActorRef identifies who produced the event. Most billing events are produced
// by the engine itself, in which case Source is SourceBillingEngine and AdminID is nil.
type ActorRef struct {
	AdminID *string `json:"adminId,omitempty"`
	Source  string  `json:"source"`
}

// PayloadEnvelope is the stable payload structure stored in outbox_events.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}
