package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/darasa/core"
)

var (
	// errors
	ErrSessionNotFound         = errors.New("session not found")
	ErrSessionFull             = errors.New("session is full")
	ErrParticipantNotInSession = errors.New("participant not in session")
	ErrConflictNotFound        = errors.New("conflict not found")
)

var nowFunc = time.Now // mockable

type (
	// ArchiveRepository persists final snapshots of completed sessions for
	// the configured retention period. Edit history is never persisted.
	ArchiveRepository interface {
		ArchiveSession(ctx context.Context, arch ArchivedSession) error
		GetArchivedSession(ctx context.Context, sessionID string) (ArchivedSession, error)
		// DeleteArchivesBefore removes snapshots of sessions completed
		// before the cutoff and returns how many were removed.
		DeleteArchivesBefore(ctx context.Context, cutoff time.Time) (int, error)
	}

	// Service is the session registry: it owns every live session and is
	// the only holder of their documents. Constructed once per process
	// and passed by reference; there is no ambient global state.
	Service struct {
		conf        *core.Config
		logger      core.Logger
		broadcaster Broadcaster
		archive     ArchiveRepository // optional

		mu       sync.RWMutex
		sessions map[string]*session
	}
)

// ArchivedSession is the snapshot row retained after a session completes.
type ArchivedSession struct {
	SessionID    string    `db:"session_id" json:"session_id"`
	Title        string    `db:"title" json:"title"`
	Language     string    `db:"language" json:"language"`
	Text         string    `db:"text" json:"text"`
	Participants int       `db:"participants" json:"participants"`
	CompletedAt  time.Time `db:"completed_at" json:"completed_at"` // UTC
}

func NewService(conf *core.Config, logger core.Logger, broadcaster Broadcaster, archive ArchiveRepository) *Service {
	return &Service{
		conf:        conf,
		logger:      logger,
		broadcaster: broadcaster,
		archive:     archive,
		sessions:    make(map[string]*session),
	}
}

// session is the registry-internal state of one live session. All fields
// below the mailbox are owned by the session's actor goroutine: they are
// only read or written from jobs executed by run(), which serializes
// document access without locking the document itself.
type session struct {
	jobs    chan func()
	stopped chan struct{}
	once    sync.Once

	id              string
	title           string
	language        string
	maxParticipants int
	status          SessionStatus
	createdAt       time.Time
	completedAt     time.Time
	reaped          bool

	doc          *Document
	participants []*Participant // ordered by join
	joinSeq      int
	pending      []*pendingOp
	conflicts    []Conflict
}

// pendingOp is an applied operation still in flight: not yet acknowledged
// by every participant other than its author. Incoming concurrent
// operations are transformed against it.
type pendingOp struct {
	op    Operation
	acked map[string]struct{}
}

func (s *session) run() {
	for {
		select {
		case <-s.stopped:
			return
		case job := <-s.jobs:
			job()
		}
	}
}

func (s *session) stop() {
	s.once.Do(func() { close(s.stopped) })
}

// do executes fn on the session's actor, serializing it with every other
// session mutation, and waits for it to finish.
func (s *session) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.jobs <- func() { fn(); close(done) }:
	case <-s.stopped:
		return ErrSessionNotFound
	}
	<-done
	return nil
}

func (s *session) view() Session {
	parts := make([]Participant, len(s.participants))
	for i, p := range s.participants {
		parts[i] = *p
	}
	return Session{
		ID:              s.id,
		Title:           s.title,
		Language:        s.language,
		MaxParticipants: s.maxParticipants,
		Status:          s.status,
		Participants:    parts,
		CreatedAt:       s.createdAt,
		CompletedAt:     s.completedAt,
	}
}

func (s *session) findParticipant(id string) *Participant {
	for _, p := range s.participants {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (s *session) fullyAcked(p *pendingOp) bool {
	for _, part := range s.participants {
		if part.ID == p.op.AuthorID {
			continue
		}
		if _, ok := p.acked[part.ID]; !ok {
			return false
		}
	}
	return true
}

func (s *session) prunePending() {
	keep := s.pending[:0]
	for _, p := range s.pending {
		if !s.fullyAcked(p) {
			keep = append(keep, p)
		}
	}
	s.pending = keep
}

// withSession runs fn on the session's actor. Sessions that were reaped
// while the caller held a reference report ErrSessionNotFound.
func (svc *Service) withSession(id string, fn func(s *session)) error {
	svc.mu.RLock()
	s, ok := svc.sessions[id]
	svc.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	var reaped bool
	if err := s.do(func() {
		if s.reaped {
			reaped = true
			return
		}
		fn(s)
	}); err != nil {
		return err
	}
	if reaped {
		return ErrSessionNotFound
	}
	return nil
}

func (svc *Service) CreateSession(ns NewSession) (Session, error) {
	if err := ns.Validate(svc.conf); err != nil {
		return Session{}, err
	}

	s := &session{
		jobs:            make(chan func()),
		stopped:         make(chan struct{}),
		id:              uuid.NewString(),
		title:           ns.Title,
		language:        ns.Language,
		maxParticipants: ns.MaxParticipants,
		status:          StatusActive,
		createdAt:       nowFunc().UTC(),
		doc:             NewDocument(""),
	}
	view := s.view() // before the session is reachable by anyone else
	go s.run()

	svc.mu.Lock()
	svc.sessions[s.id] = s
	svc.mu.Unlock()

	svc.logger.Info(fmt.Sprintf("session %s created (%q, %s)", s.id, s.title, s.language))
	return view, nil
}

func (svc *Service) GetSession(sessionID string) (Session, error) {
	var sess Session
	err := svc.withSession(sessionID, func(s *session) {
		sess = s.view()
	})
	return sess, err
}

// Snapshot returns the session document's current state.
func (svc *Service) Snapshot(sessionID string) (Snapshot, error) {
	var snap Snapshot
	err := svc.withSession(sessionID, func(s *session) {
		snap = s.doc.Snapshot()
	})
	return snap, err
}

// JoinSession adds the participant to the session's roster and returns
// the document snapshot bootstrapping them, plus their registry entry
// (with id and color assigned). Rejoining with a known participant id
// reconnects instead of consuming a seat; joining a Completed session
// within its grace period reactivates it.
func (svc *Service) JoinSession(sessionID string, np NewParticipant) (Snapshot, Participant, error) {
	if err := np.Validate(); err != nil {
		return Snapshot{}, Participant{}, err
	}

	var (
		snap Snapshot
		part Participant
		jErr error
	)
	err := svc.withSession(sessionID, func(s *session) {
		if p := s.findParticipant(np.ID); p != nil {
			p.Connected = true
			s.reactivate()
			snap, part = s.doc.Snapshot(), *p
			return
		}
		if len(s.participants) >= s.maxParticipants {
			jErr = ErrSessionFull
			return
		}

		p := &Participant{
			ID:          np.ID,
			DisplayName: np.DisplayName,
			Color:       participantPalette[s.joinSeq%len(participantPalette)],
			Connected:   true,
			JoinedAt:    nowFunc().UTC(),
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		s.joinSeq++
		s.participants = append(s.participants, p)
		s.reactivate()

		snap, part = s.doc.Snapshot(), *p
		svc.broadcaster.Publish(Event{
			Type:        EventParticipantJoined,
			SessionID:   s.id,
			Exclude:     p.ID,
			Participant: &part,
		})
	})
	if err != nil {
		return Snapshot{}, Participant{}, err
	}
	if jErr != nil {
		return Snapshot{}, Participant{}, jErr
	}
	return snap, part, nil
}

func (s *session) reactivate() {
	if s.status == StatusCompleted {
		s.status = StatusActive
		s.completedAt = time.Time{}
	}
}

// LeaveSession removes the participant, clearing their presence. Further
// operations on their behalf are rejected; anything already queued still
// applies. When the roster empties, the session transitions to Completed
// and its final snapshot is archived.
func (svc *Service) LeaveSession(sessionID, participantID string) error {
	var lErr error
	err := svc.withSession(sessionID, func(s *session) {
		idx := -1
		for i, p := range s.participants {
			if p.ID == participantID {
				idx = i
				break
			}
		}
		if idx < 0 {
			lErr = ErrParticipantNotInSession
			return
		}
		s.participants = append(s.participants[:idx], s.participants[idx+1:]...)
		s.prunePending()

		svc.broadcaster.Publish(Event{
			Type:          EventParticipantLeft,
			SessionID:     s.id,
			Exclude:       participantID,
			ParticipantID: participantID,
		})

		if len(s.participants) == 0 {
			s.status = StatusCompleted
			s.completedAt = nowFunc().UTC()
			svc.archiveSession(s)
		}
	})
	if err != nil {
		return err
	}
	return lErr
}

func (svc *Service) archiveSession(s *session) {
	if svc.archive == nil {
		return
	}
	arch := ArchivedSession{
		SessionID:    s.id,
		Title:        s.title,
		Language:     s.language,
		Text:         s.doc.Text(),
		Participants: s.joinSeq,
		CompletedAt:  s.completedAt,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.archive.ArchiveSession(ctx, arch); err != nil {
			svc.logger.Error(fmt.Sprintf("archiving session %s: %v", arch.SessionID, err), err)
		}
	}()
}

// BroadcastOperation is the integration point with the transport: the
// incoming operation is transformed against the session's in-flight
// operations from other authors, applied to the document, recorded as
// in-flight itself and fanned out to the other participants. The returned
// operation is the transformed one actually applied.
//
// A *ConflictError return means the operation was queued for explicit
// resolution (and ConflictDetected was broadcast); any other error is a
// rejection surfaced to the issuing participant only.
func (svc *Service) BroadcastOperation(sessionID string, op Operation) (Operation, error) {
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}

	var (
		applied Operation
		bErr    error
	)
	err := svc.withSession(sessionID, func(s *session) {
		if s.findParticipant(op.AuthorID) == nil {
			bErr = ErrParticipantNotInSession
			return
		}
		if s.doc.Applied(op.ID) {
			applied = op // duplicate delivery: absorbed, nothing re-emitted
			return
		}

		transformed := op
		for _, p := range s.pending {
			if p.op.AuthorID == op.AuthorID {
				continue // the author issued it after their own earlier ops
			}
			var tErr error
			transformed, tErr = Transform(p.op, transformed)
			if tErr != nil {
				conflict := newConflict(s.id, op, tErr.Error(), s.doc.Text())
				s.conflicts = append(s.conflicts, conflict)
				svc.broadcaster.Publish(Event{
					Type:      EventConflictDetected,
					SessionID: s.id,
					Exclude:   op.AuthorID,
					Conflict:  &conflict,
				})
				svc.logger.Warn(fmt.Sprintf("session %s: operation %s conflicted: %v", s.id, op.ID, tErr))
				bErr = &ConflictError{Conflict: conflict}
				return
			}
		}

		if aErr := s.doc.Apply(transformed); aErr != nil {
			bErr = aErr // malformed: rejected, surfaced to the author only
			return
		}

		s.pending = append(s.pending, &pendingOp{op: transformed, acked: make(map[string]struct{})})
		svc.broadcaster.Publish(Event{
			Type:      EventOperationApplied,
			SessionID: s.id,
			Exclude:   op.AuthorID,
			Op:        &transformed,
		})
		applied = transformed
	})
	if err != nil {
		return Operation{}, err
	}
	if bErr != nil {
		return Operation{}, bErr
	}
	return applied, nil
}

// AckOperation records that a participant has received the operation.
// Operations acknowledged by every participant besides their author are
// no longer in flight and stop being transform bases. Acking an unknown
// (already retired) operation is not an error.
func (svc *Service) AckOperation(sessionID, opID, participantID string) error {
	var aErr error
	err := svc.withSession(sessionID, func(s *session) {
		if s.findParticipant(participantID) == nil {
			aErr = ErrParticipantNotInSession
			return
		}
		for _, p := range s.pending {
			if p.op.ID == opID {
				p.acked[participantID] = struct{}{}
				break
			}
		}
		s.prunePending()
	})
	if err != nil {
		return err
	}
	return aErr
}

// Conflicts returns the session's unresolved conflict queue.
func (svc *Service) Conflicts(sessionID string) ([]Conflict, error) {
	var conflicts []Conflict
	err := svc.withSession(sessionID, func(s *session) {
		conflicts = append([]Conflict(nil), s.conflicts...)
	})
	return conflicts, err
}

// ResolveConflict settles a queued conflict and broadcasts the resulting
// document snapshot. Accept applies the operation verbatim at its
// original position clamped to the current bounds; Reject discards it;
// Merge replaces the text wholesale with the caller-reconciled content.
func (svc *Service) ResolveConflict(sessionID, conflictID string, res Resolution) (Snapshot, error) {
	if err := res.Validate(); err != nil {
		return Snapshot{}, err
	}

	var (
		snap Snapshot
		rErr error
	)
	err := svc.withSession(sessionID, func(s *session) {
		idx := -1
		for i, c := range s.conflicts {
			if c.ID == conflictID {
				idx = i
				break
			}
		}
		if idx < 0 {
			rErr = ErrConflictNotFound
			return
		}
		conflict := s.conflicts[idx]
		s.conflicts = append(s.conflicts[:idx], s.conflicts[idx+1:]...)

		switch res.Strategy {
		case ResolutionAccept:
			if aErr := s.doc.ApplyClamped(conflict.Op); aErr != nil {
				svc.logger.Warn(fmt.Sprintf("session %s: accepting conflict %s: %v", s.id, conflictID, aErr))
			}
		case ResolutionReject:
			// document unaffected
		case ResolutionMerge:
			s.doc.Overwrite(res.MergedText, conflict.Op.ID)
		}

		snap = s.doc.Snapshot()
		svc.broadcaster.Publish(Event{
			Type:      EventConflictResolved,
			SessionID: s.id,
			Snapshot:  &snap,
		})
	})
	if err != nil {
		return Snapshot{}, err
	}
	if rErr != nil {
		return Snapshot{}, rErr
	}
	return snap, nil
}

// Reap drops Completed sessions whose grace period has elapsed and
// expired rows from the archive. Meant to be driven by an external
// scheduler; there is no core-level timeout.
func (svc *Service) Reap(ctx context.Context) (int, error) {
	now := nowFunc().UTC()

	svc.mu.RLock()
	live := make([]*session, 0, len(svc.sessions))
	for _, s := range svc.sessions {
		live = append(live, s)
	}
	svc.mu.RUnlock()

	var reaped int
	for _, s := range live {
		var expired bool
		_ = s.do(func() {
			if s.reaped {
				return
			}
			if s.status == StatusCompleted && now.Sub(s.completedAt) >= svc.conf.Collab.SessionGracePeriod {
				s.reaped = true
				expired = true
			}
		})
		if expired {
			svc.mu.Lock()
			delete(svc.sessions, s.id)
			svc.mu.Unlock()
			s.stop()
			reaped++
			svc.logger.Info(fmt.Sprintf("session %s reaped", s.id))
		}
	}

	if svc.archive != nil {
		cutoff := now.Add(-svc.conf.Collab.SnapshotRetention)
		n, err := svc.archive.DeleteArchivesBefore(ctx, cutoff)
		if err != nil {
			return reaped, err
		}
		if n > 0 {
			svc.logger.Info(fmt.Sprintf("%d expired session archives deleted", n))
		}
	}
	return reaped, nil
}
