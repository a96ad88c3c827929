package collab

type EventType string

const (
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventOperationApplied  EventType = "operation-applied"
	EventConflictDetected  EventType = "conflict-detected"
	EventConflictResolved  EventType = "conflict-resolved"
	EventCursorMoved       EventType = "cursor-moved"
	EventSelectionChanged  EventType = "selection-changed"
)

// Event is the envelope fanned out to a session's participants. Only the
// fields relevant to the event type are set.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`

	// Exclude names a participant the event must not be delivered to
	// (usually the originator, who gets a direct reply instead).
	Exclude string `json:"-"`

	Participant   *Participant `json:"participant,omitempty"`
	ParticipantID string       `json:"participant_id,omitempty"`
	Op            *Operation   `json:"operation,omitempty"`
	Conflict      *Conflict    `json:"conflict,omitempty"`
	Snapshot      *Snapshot    `json:"snapshot,omitempty"`
	Position      *Position    `json:"position,omitempty"`
	Selection     *Range       `json:"selection,omitempty"`
}

// Broadcaster is any transport that can fan an event out to the
// participants of a session.
type Broadcaster interface {
	Publish(event Event)
}
