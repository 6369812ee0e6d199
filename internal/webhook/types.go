package webhook

// Presence records who is inside a loaded world.
type Presence interface {
	Join(identity, who string) error
	Leave(identity, who string)
	Occupants(identity string) int
}

// Publisher receives occupancy changes. *events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

const (
	EventJoin  = "join"
	EventLeave = "leave"
)

// PresenceEvent is the body the host posts.
type PresenceEvent struct {
	Event  string `json:"event"`
	World  string `json:"world"`
	Player string `json:"player"`
}

// PresenceResponse acknowledges an applied event.
type PresenceResponse struct {
	World     string `json:"world"`
	Occupants int    `json:"occupants"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// DefaultMaxBodySize bounds a presence body when no size is configured.
const DefaultMaxBodySize = 64 * 1024
