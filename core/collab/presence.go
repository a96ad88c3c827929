package collab

// Presence updates bypass the operation log entirely: cursors and
// selections belong exclusively to the issuing participant, so they are
// last-write-wins and never transformed. They may land out of order
// relative to text operations.

// UpdateCursor records the participant's cursor position and broadcasts
// it to the other participants.
func (svc *Service) UpdateCursor(sessionID, participantID string, pos Position) error {
	var uErr error
	err := svc.withSession(sessionID, func(s *session) {
		p := s.findParticipant(participantID)
		if p == nil {
			uErr = ErrParticipantNotInSession
			return
		}
		cur := pos
		p.Cursor = &cur
		svc.broadcaster.Publish(Event{
			Type:          EventCursorMoved,
			SessionID:     s.id,
			Exclude:       participantID,
			ParticipantID: participantID,
			Position:      &cur,
		})
	})
	if err != nil {
		return err
	}
	return uErr
}

// UpdateSelection records the participant's selection (normalized to
// document order) and broadcasts it to the other participants.
func (svc *Service) UpdateSelection(sessionID, participantID string, sel Range) error {
	var uErr error
	err := svc.withSession(sessionID, func(s *session) {
		p := s.findParticipant(participantID)
		if p == nil {
			uErr = ErrParticipantNotInSession
			return
		}
		norm := sel.Normalize()
		p.Selection = &norm
		svc.broadcaster.Publish(Event{
			Type:          EventSelectionChanged,
			SessionID:     s.id,
			Exclude:       participantID,
			ParticipantID: participantID,
			Selection:     &norm,
		})
	})
	if err != nil {
		return err
	}
	return uErr
}
