package collab

import "fmt"

// TransformConflict is raised when two concurrent operations overlap in a
// way that has no safe adjustment (e.g. an insert inside a concurrently
// deleted range). The offending operation is routed to the conflict queue
// for explicit resolution instead of being silently dropped or kept.
type TransformConflict struct {
	Base   Operation
	Op     Operation
	Reason string
}

func (e *TransformConflict) Error() string {
	return fmt.Sprintf("transform conflict: %s (op %s against %s)", e.Reason, e.Op.ID, e.Base.ID)
}

// Transform returns a copy of `concurrent` adjusted so that applying
// `base` followed by the result yields the same document as applying the
// two operations in the opposite order (with `base` equivalently
// adjusted). Neither argument is mutated.
//
// Delete and replace spans are single-line ranges: multi-line edits are
// decomposed into per-line operations upstream by the editor. Anything
// the rule table cannot resolve under that model raises TransformConflict.
func Transform(base, concurrent Operation) (Operation, error) {
	switch base.Kind {
	case OpInsert:
		switch concurrent.Kind {
		case OpInsert:
			return transformInsertInsert(base, concurrent), nil
		case OpDelete, OpReplace:
			return transformInsertSpan(base, concurrent)
		}
	case OpDelete, OpReplace:
		switch concurrent.Kind {
		case OpInsert:
			return transformSpanInsert(base, concurrent)
		case OpDelete, OpReplace:
			return transformSpanSpan(base, concurrent)
		}
	}
	return Operation{}, &TransformConflict{Base: base, Op: concurrent, Reason: "unknown operation type"}
}

// shiftAfterInsert shifts position p to account for `content` having been
// inserted at `at`. Positions before the insertion point are untouched;
// positions on later lines shift down by the inserted line breaks; and a
// position on the same line at or past the insertion point shifts right —
// onto the insertion's last line when the content spans several.
func shiftAfterInsert(at Position, content string, p Position) Position {
	nl := lineBreaks(content)
	switch {
	case p.Line < at.Line || (p.Line == at.Line && p.Col < at.Col):
		return p
	case p.Line > at.Line:
		p.Line += nl
		return p
	default: // same line, p.Col >= at.Col
		if nl == 0 {
			p.Col += utf16Len(content)
			return p
		}
		return Position{Line: p.Line + nl, Col: p.Col - at.Col + lastLineLen(content)}
	}
}

func transformInsertInsert(base, concurrent Operation) Operation {
	switch cmp := comparePositions(base.Pos, concurrent.Pos); {
	case cmp > 0:
		return concurrent
	case cmp == 0 && !shiftsAfter(base, concurrent):
		return concurrent
	}
	concurrent.Pos = shiftAfterInsert(base.Pos, base.Content, concurrent.Pos)
	return concurrent
}

// shiftsAfter breaks ties between equal insert positions: the operation
// whose author sorts lexicographically larger lands after the other. The
// order is arbitrary but total (author, then timestamp, then id), so every
// replica resolves the tie the same way and converges.
func shiftsAfter(base, concurrent Operation) bool {
	if concurrent.AuthorID != base.AuthorID {
		return concurrent.AuthorID > base.AuthorID
	}
	if !concurrent.IssuedAt.Equal(base.IssuedAt) {
		return concurrent.IssuedAt.After(base.IssuedAt)
	}
	return concurrent.ID > base.ID
}

// transformInsertSpan adjusts a delete/replace against a concurrent insert.
func transformInsertSpan(base, concurrent Operation) (Operation, error) {
	s := concurrent.Pos
	if base.Pos.Line == s.Line && base.Pos.Col > s.Col && base.Pos.Col < s.Col+concurrent.Length {
		return Operation{}, &TransformConflict{Base: base, Op: concurrent, Reason: "concurrent insert inside deleted range"}
	}
	if base.Pos.Line < s.Line || (base.Pos.Line == s.Line && base.Pos.Col <= s.Col) {
		concurrent.Pos = shiftAfterInsert(base.Pos, base.Content, concurrent.Pos)
	}
	// an insert at or past the end of the span leaves it untouched
	return concurrent, nil
}

// transformSpanInsert adjusts an insert against a concurrent delete/replace.
// An insert exactly at the span start stays put, landing before the
// replacement content; only inserts strictly past the start shift over it.
func transformSpanInsert(base, concurrent Operation) (Operation, error) {
	s := base.Pos
	p := concurrent.Pos
	if p.Line == s.Line && p.Col > s.Col && p.Col < s.Col+base.Length {
		return Operation{}, &TransformConflict{Base: base, Op: concurrent, Reason: "insert inside concurrently deleted range"}
	}
	pastStart := p.Line > s.Line || (p.Line == s.Line && p.Col > s.Col)
	if p.Line == s.Line && p.Col >= s.Col+base.Length {
		p.Col -= base.Length
	}
	if base.Kind == OpReplace && pastStart {
		p = shiftAfterInsert(s, base.Content, p)
	}
	concurrent.Pos = p
	return concurrent, nil
}

// transformSpanSpan adjusts a delete/replace against a concurrent
// delete/replace. Overlapping deletes reduce to the non-overlapping
// remainder of concurrent's range, with a fully-subsumed range degrading
// to a no-op. An overlap involving a replace means both sides rewrote the
// same text with different content: no reduction converges there, so it
// is raised as a conflict.
func transformSpanSpan(base, concurrent Operation) (Operation, error) {
	b, c := base.Pos, concurrent.Pos
	if b.Line == c.Line {
		bEnd, cEnd := b.Col+base.Length, c.Col+concurrent.Length
		switch {
		case cEnd <= b.Col: // entirely before base
		case bEnd <= c.Col: // entirely after: shift left over the removed span
			concurrent.Pos.Col -= base.Length
		default:
			if base.Kind == OpReplace || concurrent.Kind == OpReplace {
				return Operation{}, &TransformConflict{Base: base, Op: concurrent, Reason: "concurrent edits overlap a replaced range"}
			}
			overlap := min(bEnd, cEnd) - max(b.Col, c.Col)
			concurrent.Pos.Col = min(b.Col, c.Col)
			concurrent.Length -= overlap
		}
	}
	if base.Kind == OpReplace {
		concurrent.Pos = shiftAfterInsert(base.Pos, base.Content, concurrent.Pos)
	}
	return concurrent, nil
}
