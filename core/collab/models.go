package collab

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
)

// Position locates a point in a document. Columns are counted in UTF-16
// code units to match editor conventions.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"column"`
}

// Before reports whether p comes before o in document order (line, then column).
func (p Position) Before(o Position) bool {
	return comparePositions(p, o) < 0
}

func comparePositions(a, b Position) int {
	if a.Line != b.Line {
		if a.Line < b.Line {
			return -1
		}
		return 1
	}
	if a.Col != b.Col {
		if a.Col < b.Col {
			return -1
		}
		return 1
	}
	return 0
}

// Range is a selection span, Start inclusive and End exclusive.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Normalize returns the range with Start and End in document order.
func (r Range) Normalize() Range {
	if r.End.Before(r.Start) {
		r.Start, r.End = r.End, r.Start
	}
	return r
}

type OpKind string

const (
	OpInsert  OpKind = "insert"
	OpDelete  OpKind = "delete"
	OpReplace OpKind = "replace"
)

func (k OpKind) Valid() bool {
	switch k {
	case OpInsert, OpDelete, OpReplace:
		return true
	}
	return false
}

// Operation is a single edit issued by a participant. Operations are
// immutable once created; Transform returns adjusted copies.
type Operation struct {
	ID       string    `json:"id"`
	Kind     OpKind    `json:"type"`
	Pos      Position  `json:"position"`
	Content  string    `json:"content,omitempty"`
	Length   int       `json:"length,omitempty"`
	AuthorID string    `json:"author_id"`
	IssuedAt time.Time `json:"issued_at"` // UTC
}

func newOpID(authorID string) string {
	return fmt.Sprintf("%s:%d:%s", authorID, time.Now().UTC().UnixNano(), uuid.NewString())
}

func NewInsert(pos Position, text, authorID string) Operation {
	return Operation{
		ID:       newOpID(authorID),
		Kind:     OpInsert,
		Pos:      pos,
		Content:  text,
		AuthorID: authorID,
		IssuedAt: time.Now().UTC(),
	}
}

func NewDelete(pos Position, length int, authorID string) Operation {
	return Operation{
		ID:       newOpID(authorID),
		Kind:     OpDelete,
		Pos:      pos,
		Length:   length,
		AuthorID: authorID,
		IssuedAt: time.Now().UTC(),
	}
}

func NewReplace(pos Position, length int, text, authorID string) Operation {
	return Operation{
		ID:       newOpID(authorID),
		Kind:     OpReplace,
		Pos:      pos,
		Content:  text,
		Length:   length,
		AuthorID: authorID,
		IssuedAt: time.Now().UTC(),
	}
}

// Equal reports operation identity; operations are compared by ID only.
func (op Operation) Equal(o Operation) bool { return op.ID == o.ID }

// noop reports whether the operation no longer changes the document
// (a delete or replace fully subsumed by a concurrent edit).
func (op Operation) noop() bool {
	switch op.Kind {
	case OpDelete:
		return op.Length == 0
	case OpReplace:
		return op.Length == 0 && op.Content == ""
	}
	return false
}

// Validate checks an operation received from the wire.
func (op Operation) Validate() error {
	switch {
	case op.ID == "":
		return core.NewValidationError(ErrMalformedOperation, core.FieldError{Field: "id", Error: "this field is required"})
	case op.AuthorID == "":
		return core.NewValidationError(ErrMalformedOperation, core.FieldError{Field: "author_id", Error: "this field is required"})
	case !op.Kind.Valid():
		return core.NewValidationError(ErrMalformedOperation, core.FieldError{Field: "type", Error: "unknown operation type"})
	case op.Pos.Line < 0 || op.Pos.Col < 0:
		return core.NewValidationError(ErrMalformedOperation, core.FieldError{Field: "position", Error: "position must not be negative"})
	case op.Length < 0:
		return core.NewValidationError(ErrMalformedOperation, core.FieldError{Field: "length", Error: "length must not be negative"})
	case op.Kind != OpInsert && op.Length == 0 && op.Content == "":
		return core.NewValidationError(ErrMalformedOperation, core.FieldError{Field: "length", Error: "this field is required"})
	}
	return nil
}

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Session is the public view of a collaborative editing session.
type Session struct {
	ID              string        `json:"id"`
	Title           string        `json:"title"`
	Language        string        `json:"language"`
	MaxParticipants int           `json:"max_participants"`
	Status          SessionStatus `json:"status"`
	Participants    []Participant `json:"participants"`
	CreatedAt       time.Time     `json:"created_at"`   // UTC
	CompletedAt     time.Time     `json:"completed_at"` // UTC; zero while Active
}

// Participant is a session member. Cursor and Selection belong exclusively
// to the participant and are only ever mutated by their own updates.
type Participant struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color"`
	Cursor      *Position `json:"cursor,omitempty"`
	Selection   *Range    `json:"selection,omitempty"`
	Connected   bool      `json:"connected"`
	JoinedAt    time.Time `json:"joined_at"` // UTC
}

// participantPalette is assigned cyclically by join order.
var participantPalette = []string{
	"#e6194b", // red
	"#3cb44b", // green
	"#4363d8", // blue
	"#f58231", // orange
	"#911eb4", // purple
	"#46b5d1", // cyan
	"#f032e6", // magenta
	"#808000", // olive
}

// NewSession contains information needed to create a new Session.
type NewSession struct {
	Title           string `json:"title" validate:"required,max=120"`
	Language        string `json:"language" validate:"required,langcode"`
	MaxParticipants int    `json:"max_participants" validate:"omitempty,min=1,max=16"`
}

func (ns *NewSession) Validate(conf *core.Config) error {
	ns.Title = core.CleanString(ns.Title)
	ns.Language = core.CleanString(ns.Language, true /* lower */)
	if ns.MaxParticipants == 0 {
		ns.MaxParticipants = conf.Collab.DefaultMaxParticipants
	}
	return core.Validate.Struct(ns)
}

// NewParticipant contains information needed to join a Session.
// ID is assigned when empty.
type NewParticipant struct {
	ID          string `json:"id" validate:"omitempty,max=64"`
	DisplayName string `json:"display_name" validate:"required,max=80"`
}

func (np *NewParticipant) Validate() error {
	np.ID = core.CleanString(np.ID)
	np.DisplayName = core.CleanString(np.DisplayName)
	return core.Validate.Struct(np)
}
