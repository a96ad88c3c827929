package collab

import (
	"errors"
	"sort"
)

var (
	ErrMalformedOperation = errors.New("malformed operation")
	ErrPositionOutOfRange = errors.New("position out of document range")
)

// Document is the authoritative in-memory text buffer of a session. It is
// not safe for concurrent use; the session registry serializes access.
type Document struct {
	text    string
	applied map[string]struct{}
}

func NewDocument(text string) *Document {
	return &Document{
		text:    text,
		applied: make(map[string]struct{}),
	}
}

func (d *Document) Text() string { return d.text }

// Applied reports whether the operation with the given id has already
// been applied to the document.
func (d *Document) Applied(id string) bool {
	_, ok := d.applied[id]
	return ok
}

// Snapshot returns the current text and applied-operation high-water
// state, used to bootstrap late joiners without replaying history.
type Snapshot struct {
	Text         string   `json:"text"`
	AppliedOpIDs []string `json:"applied_op_ids"`
}

func (d *Document) Snapshot() Snapshot {
	ids := make([]string, 0, len(d.applied))
	for id := range d.applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Snapshot{Text: d.text, AppliedOpIDs: ids}
}

// Apply splices the operation into the text. Re-delivery of an already
// applied operation is silently absorbed. Delete and replace spans are
// clamped at the end of their line, so over-long lengths degrade instead
// of faulting; a position outside the document is an error and leaves the
// text unchanged.
func (d *Document) Apply(op Operation) error {
	if d.Applied(op.ID) {
		return nil // duplicate delivery
	}
	if op.noop() {
		// a transform degraded the operation to nothing; record it so
		// re-delivery is still absorbed
		d.applied[op.ID] = struct{}{}
		return nil
	}
	if err := op.Validate(); err != nil {
		return err
	}

	start, err := byteOffset(d.text, op.Pos)
	if err != nil {
		return err
	}

	switch op.Kind {
	case OpInsert:
		d.text = d.text[:start] + op.Content + d.text[start:]
	case OpDelete:
		end := spanEnd(d.text, start, op.Length)
		d.text = d.text[:start] + d.text[end:]
	case OpReplace:
		end := spanEnd(d.text, start, op.Length)
		d.text = d.text[:start] + op.Content + d.text[end:]
	default:
		return ErrMalformedOperation
	}

	d.applied[op.ID] = struct{}{}
	return nil
}

// ApplyClamped applies the operation at its position clamped to the
// current document bounds. Used by conflict resolution (Accept), where
// the untransformed position may no longer exist.
func (d *Document) ApplyClamped(op Operation) error {
	op.Pos = clampPosition(d.text, op.Pos)
	return d.Apply(op)
}

// Overwrite replaces the text wholesale with externally-reconciled
// content (conflict resolution by merge) and records the given operation
// ids as applied so their re-delivery is absorbed.
func (d *Document) Overwrite(text string, absorbedOpIDs ...string) {
	d.text = text
	for _, id := range absorbedOpIDs {
		d.applied[id] = struct{}{}
	}
}
