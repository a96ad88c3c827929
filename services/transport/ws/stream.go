package wstransport

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/collab"
)

// stream is one websocket connection speaking the transport contract.
// A stream is bound to at most one (session, participant) pair at a time;
// all writes to the connection go through the send channel. The current
// subscription record is only ever replaced, never mutated, since the
// hub's run loop reads it concurrently.
type stream struct {
	hub  *Hub
	svc  *collab.Service
	conn *websocket.Conn
	send chan []byte
	cl   *client // nil until joined; stream goroutine only
}

// HandleConn drives a websocket connection until it closes. The
// participant is removed from their session on disconnect.
func (h *Hub) HandleConn(svc *collab.Service, conn *websocket.Conn) {
	s := &stream{
		hub:  h,
		svc:  svc,
		conn: conn,
		send: make(chan []byte, 32),
	}

	writerDone := make(chan struct{})
	go s.writeLoop(writerDone)

	s.readLoop()

	// disconnect: leave the session and tear the stream down
	if s.cl != nil {
		if err := svc.LeaveSession(s.cl.sessionID, s.cl.participantID); err != nil &&
			!errors.Is(err, collab.ErrSessionNotFound) && !errors.Is(err, collab.ErrParticipantNotInSession) {
			h.logger.Error(fmt.Sprintf("leaving session %s on disconnect: %v", s.cl.sessionID, err), err)
		}
		h.unsubscribe <- s.cl
	}
	close(s.send)
	<-writerDone
	_ = conn.Close()
}

func (s *stream) writeLoop(done chan<- struct{}) {
	defer close(done)
	for data := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *stream) readLoop() {
	for {
		_, buf, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(buf, &msg); err != nil {
			s.replyError(errBadMessage("malformed message: " + err.Error()))
			continue
		}
		s.dispatch(&msg)
	}
}

func (s *stream) dispatch(msg *clientMessage) {
	switch msg.Type {
	case msgCreateSession:
		sess, err := s.svc.CreateSession(collab.NewSession{
			Title:           msg.Title,
			Language:        msg.Language,
			MaxParticipants: msg.MaxParticipants,
		})
		if err != nil {
			s.replyError(err)
			return
		}
		s.reply(serverMessage{Type: replySessionCreated, SessionID: sess.ID, Session: &sess})

	case msgJoinSession:
		if msg.Participant == nil {
			s.replyError(errBadMessage("participant is required"))
			return
		}
		snap, part, err := s.svc.JoinSession(msg.SessionID, *msg.Participant)
		if err != nil {
			s.replyError(err)
			return
		}
		if s.cl != nil {
			s.hub.unsubscribe <- s.cl
		}
		s.cl = &client{sessionID: msg.SessionID, participantID: part.ID, send: s.send}
		s.hub.subscribe <- s.cl
		s.reply(serverMessage{Type: replySessionJoined, SessionID: msg.SessionID, Participant: &part, Snapshot: &snap})

	case msgLeaveSession:
		if err := s.svc.LeaveSession(msg.SessionID, s.participantID(msg)); err != nil {
			s.replyError(err)
			return
		}
		if s.cl != nil && msg.SessionID == s.cl.sessionID {
			s.hub.unsubscribe <- s.cl
			s.cl = nil
		}
		s.reply(serverMessage{Type: replySessionLeft, SessionID: msg.SessionID})

	case msgSubmitOperation:
		if msg.Op == nil {
			s.replyError(errBadMessage("operation is required"))
			return
		}
		applied, err := s.svc.BroadcastOperation(msg.SessionID, *msg.Op)
		if err != nil {
			var confErr *collab.ConflictError
			if errors.As(err, &confErr) {
				// a resolution request, not a hard failure
				s.reply(serverMessage{
					Type:      replyOperationConflicted,
					Code:      codeTransformConflict,
					SessionID: msg.SessionID,
					Conflict:  &confErr.Conflict,
				})
				return
			}
			s.replyError(err)
			return
		}
		s.reply(serverMessage{Type: replyOperationApplied, SessionID: msg.SessionID, Op: &applied})

	case msgAckOperation:
		if err := s.svc.AckOperation(msg.SessionID, msg.OpID, s.participantID(msg)); err != nil {
			s.replyError(err)
		}

	case msgUpdateCursor:
		if msg.Position == nil {
			s.replyError(errBadMessage("position is required"))
			return
		}
		if err := s.svc.UpdateCursor(msg.SessionID, s.participantID(msg), *msg.Position); err != nil {
			s.replyError(err)
		}

	case msgUpdateSelection:
		if msg.Selection == nil {
			s.replyError(errBadMessage("selection is required"))
			return
		}
		if err := s.svc.UpdateSelection(msg.SessionID, s.participantID(msg), *msg.Selection); err != nil {
			s.replyError(err)
		}

	case msgResolveConflict:
		if msg.Resolution == nil {
			s.replyError(errBadMessage("resolution is required"))
			return
		}
		snap, err := s.svc.ResolveConflict(msg.SessionID, msg.ConflictID, *msg.Resolution)
		if err != nil {
			s.replyError(err)
			return
		}
		s.reply(serverMessage{Type: replyConflictResolved, SessionID: msg.SessionID, Snapshot: &snap})

	default:
		s.replyError(errBadMessage("unknown message type: " + msg.Type))
	}
}

// participantID defaults to the stream's bound participant so joined
// clients need not repeat themselves.
func (s *stream) participantID(msg *clientMessage) string {
	if msg.ParticipantID != "" {
		return msg.ParticipantID
	}
	if s.cl != nil {
		return s.cl.participantID
	}
	return ""
}

func (s *stream) reply(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.hub.logger.Error(fmt.Sprintf("marshalling %s reply: %v", msg.Type, err), err)
		return
	}
	select {
	case s.send <- data:
	default:
		s.hub.logger.Warn(fmt.Sprintf("dropping %s reply", msg.Type))
	}
}

type badMessageError struct{ msg string }

func (e *badMessageError) Error() string { return e.msg }

func errBadMessage(msg string) error { return &badMessageError{msg} }

func (s *stream) replyError(err error) {
	code, message := errorCodeMessage(err)
	s.reply(serverMessage{Type: replyError, Code: code, Message: message})
}

// errorCodeMessage maps domain errors to the wire error codes.
func errorCodeMessage(err error) (string, interface{}) {
	switch origErr := errors.Cause(err).(type) {
	case validator.ValidationErrors:
		fldErrs := make(map[string]string, len(origErr))
		for _, vErr := range origErr {
			fldErrs[vErr.Field()] = vErr.Translate(core.Translator)
		}
		return codeValidationError, fldErrs
	case *core.ValidationError:
		if origErr.Fields != nil {
			fldErrs := make(map[string]string, len(origErr.Fields))
			for _, fErr := range origErr.Fields {
				fldErrs[fErr.Field] = fErr.Error
			}
			return codeValidationError, fldErrs
		}
		return codeValidationError, origErr.Error()
	case *badMessageError:
		return codeBadMessage, origErr.Error()
	}

	switch {
	case errors.Is(err, collab.ErrSessionNotFound):
		return codeSessionNotFound, err.Error()
	case errors.Is(err, collab.ErrSessionFull):
		return codeSessionFull, err.Error()
	case errors.Is(err, collab.ErrParticipantNotInSession):
		return codeParticipantNotInSession, err.Error()
	case errors.Is(err, collab.ErrConflictNotFound):
		return codeConflictNotFound, err.Error()
	case errors.Is(err, collab.ErrMalformedOperation), errors.Is(err, collab.ErrPositionOutOfRange):
		return codeMalformedOperation, err.Error()
	}
	return codeInternal, err.Error()
}
