package wstransport

import "github.com/trezcool/darasa/core/collab"

// Client message types.
const (
	msgCreateSession   = "create-session"
	msgJoinSession     = "join-session"
	msgLeaveSession    = "leave-session"
	msgSubmitOperation = "submit-operation"
	msgAckOperation    = "ack-operation"
	msgUpdateCursor    = "update-cursor"
	msgUpdateSelection = "update-selection"
	msgResolveConflict = "resolve-conflict"
)

// Server reply types (session events reuse collab.EventType values).
const (
	replySessionCreated      = "session-created"
	replySessionJoined       = "session-joined"
	replySessionLeft         = "session-left"
	replyOperationApplied    = "operation-applied"
	replyOperationConflicted = "operation-conflicted"
	replyConflictResolved    = "conflict-resolved"
	replyError               = "error"
)

// Error codes surfaced to clients.
const (
	codeSessionNotFound         = "SessionNotFound"
	codeSessionFull             = "SessionFull"
	codeParticipantNotInSession = "ParticipantNotInSession"
	codeTransformConflict       = "TransformConflict"
	codeValidationError         = "ValidationError"
	codeConflictNotFound        = "ConflictNotFound"
	codeMalformedOperation      = "MalformedOperation"
	codeBadMessage              = "BadMessage"
	codeInternal                = "Internal"
)

// clientMessage is the envelope for everything a client sends; only the
// fields relevant to the message type are set.
type clientMessage struct {
	Type            string                 `json:"type"`
	SessionID       string                 `json:"session_id,omitempty"`
	Title           string                 `json:"title,omitempty"`
	Language        string                 `json:"language,omitempty"`
	MaxParticipants int                    `json:"max_participants,omitempty"`
	Participant     *collab.NewParticipant `json:"participant,omitempty"`
	ParticipantID   string                 `json:"participant_id,omitempty"`
	Op              *collab.Operation      `json:"operation,omitempty"`
	OpID            string                 `json:"operation_id,omitempty"`
	Position        *collab.Position       `json:"position,omitempty"`
	Selection       *collab.Range          `json:"selection,omitempty"`
	ConflictID      string                 `json:"conflict_id,omitempty"`
	Resolution      *collab.Resolution     `json:"resolution,omitempty"`
}

// serverMessage is the envelope for direct replies to the issuing client
// (fan-out to the other participants goes through the Hub as
// collab.Event JSON).
type serverMessage struct {
	Type    string      `json:"type"`
	Code    string      `json:"code,omitempty"`
	Message interface{} `json:"message,omitempty"`

	SessionID   string              `json:"session_id,omitempty"`
	Session     *collab.Session     `json:"session,omitempty"`
	Participant *collab.Participant `json:"participant,omitempty"`
	Snapshot    *collab.Snapshot    `json:"snapshot,omitempty"`
	Op          *collab.Operation   `json:"operation,omitempty"`
	Conflict    *collab.Conflict    `json:"conflict,omitempty"`
}
