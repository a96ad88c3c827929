package collab

import (
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/darasa/core"
)

// Conflict wraps an operation that could not be transformed safely
// against concurrent edits. It is held in the session's conflict queue
// until explicitly resolved.
type Conflict struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Op        Operation `json:"operation"`
	Reason    string    `json:"reason"`
	// Diff previews, as a unified diff against the current text, what
	// accepting the operation verbatim would change.
	Diff       string    `json:"diff,omitempty"`
	DetectedAt time.Time `json:"detected_at"` // UTC
}

func newConflict(sessionID string, op Operation, reason, currentText string) Conflict {
	return Conflict{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Op:         op,
		Reason:     reason,
		Diff:       conflictDiff(currentText, op),
		DetectedAt: time.Now().UTC(),
	}
}

// conflictDiff renders what accepting op at its (clamped) original
// position would do to the current text.
func conflictDiff(current string, op Operation) string {
	preview := NewDocument(current)
	if err := preview.ApplyClamped(op); err != nil {
		return ""
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(preview.Text()),
		FromFile: "current",
		ToFile:   "incoming",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return diff
}

type ResolutionStrategy string

const (
	ResolutionAccept ResolutionStrategy = "accept"
	ResolutionReject ResolutionStrategy = "reject"
	ResolutionMerge  ResolutionStrategy = "merge"
)

// Resolution settles a queued Conflict. Merge carries the
// externally-reconciled text that replaces the document wholesale.
type Resolution struct {
	Strategy   ResolutionStrategy `json:"strategy" validate:"required,oneof=accept reject merge"`
	MergedText string             `json:"merged_text,omitempty"`
}

func (r *Resolution) Validate() error {
	return core.Validate.Struct(r)
}

// ConflictError is returned by BroadcastOperation when the submitted
// operation was routed to the conflict queue instead of being applied.
// It is a resolution request, not a hard failure.
type ConflictError struct {
	Conflict Conflict
}

func (e *ConflictError) Error() string {
	return "operation conflicted: " + e.Conflict.Reason
}
