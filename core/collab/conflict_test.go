package collab_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/trezcool/darasa/core/collab"
	testutil "github.com/trezcool/darasa/tests"
)

// conflictingSession seeds a session where bob's insert landed inside
// alice's in-flight delete and now sits in the conflict queue.
func conflictingSession(t *testing.T, svc *collab.Service) (sessionID string, conflict collab.Conflict, bobOp collab.Operation) {
	t.Helper()

	sess := testutil.CreateSession(t, svc, "Pairing", "go", 0)
	alice := testutil.JoinSession(t, svc, sess.ID, "alice")
	bob := testutil.JoinSession(t, svc, sess.ID, "bob")

	seed, err := svc.BroadcastOperation(sess.ID, collab.NewInsert(collab.Position{}, "abcdef", alice.ID))
	if err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}
	if err = svc.AckOperation(sess.ID, seed.ID, bob.ID); err != nil {
		t.Fatalf("AckOperation() failed: %v", err)
	}
	if _, err = svc.BroadcastOperation(sess.ID, collab.NewDelete(collab.Position{Line: 0, Col: 1}, 3, alice.ID)); err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}

	bobOp = collab.NewInsert(collab.Position{Line: 0, Col: 2}, "ZZ", bob.ID)
	var conflictErr *collab.ConflictError
	if _, err = svc.BroadcastOperation(sess.ID, bobOp); !errors.As(err, &conflictErr) {
		t.Fatalf("BroadcastOperation() error = %v, want *ConflictError", err)
	}
	return sess.ID, conflictErr.Conflict, bobOp
}

func TestService_conflictDetection(t *testing.T) {
	svc, broadcaster, _ := setup(t)
	sessionID, conflict, bobOp := conflictingSession(t, svc)

	// the queue holds the original, untransformed operation
	if !conflict.Op.Equal(bobOp) {
		t.Errorf("queued op = %s, want %s", conflict.Op.ID, bobOp.ID)
	}
	if conflict.Op.Pos != bobOp.Pos {
		t.Errorf("queued op position = %+v, want untransformed %+v", conflict.Op.Pos, bobOp.Pos)
	}
	if conflict.Reason == "" {
		t.Error("conflict reason is empty")
	}
	// the diff previews accepting the insert into the current text
	if !strings.Contains(conflict.Diff, "+aeZZf") {
		t.Errorf("diff preview = %q, want it to contain %q", conflict.Diff, "+aeZZf")
	}

	// the document is untouched while the conflict is queued
	snap, err := svc.Snapshot(sessionID)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if snap.Text != "aef" {
		t.Errorf("text = %q, want %q", snap.Text, "aef")
	}

	conflicts, err := svc.Conflicts(sessionID)
	if err != nil {
		t.Fatalf("Conflicts() failed: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].ID != conflict.ID {
		t.Fatalf("Conflicts() = %+v, want the queued conflict", conflicts)
	}

	// everyone but the author was notified
	evs := broadcaster.EventsOfType(collab.EventConflictDetected)
	if len(evs) != 1 || evs[0].Exclude != bobOp.AuthorID {
		t.Fatalf("conflict events = %+v, want one excluding the author", evs)
	}
	if evs[0].Conflict == nil || evs[0].Conflict.ID != conflict.ID {
		t.Error("conflict event does not carry the queued conflict")
	}
}

func TestService_ResolveConflict(t *testing.T) {
	tests := []struct {
		name string
		res  collab.Resolution
		want string
	}{
		{name: "accept applies at the clamped original position", res: collab.Resolution{Strategy: collab.ResolutionAccept}, want: "aeZZf"},
		{name: "reject leaves the document unchanged", res: collab.Resolution{Strategy: collab.ResolutionReject}, want: "aef"},
		{name: "merge replaces the text wholesale", res: collab.Resolution{Strategy: collab.ResolutionMerge, MergedText: "reconciled"}, want: "reconciled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, broadcaster, _ := setup(t)
			sessionID, conflict, _ := conflictingSession(t, svc)
			broadcaster.Reset()

			snap, err := svc.ResolveConflict(sessionID, conflict.ID, tt.res)
			if err != nil {
				t.Fatalf("ResolveConflict() failed: %v", err)
			}
			if snap.Text != tt.want {
				t.Errorf("text = %q, want %q", snap.Text, tt.want)
			}

			// resolution empties the queue
			conflicts, err := svc.Conflicts(sessionID)
			if err != nil {
				t.Fatalf("Conflicts() failed: %v", err)
			}
			if len(conflicts) != 0 {
				t.Errorf("conflict queue = %+v, want empty", conflicts)
			}

			// everyone converges on the broadcast snapshot
			evs := broadcaster.EventsOfType(collab.EventConflictResolved)
			if len(evs) != 1 || evs[0].Snapshot == nil || evs[0].Snapshot.Text != tt.want {
				t.Fatalf("resolved events = %+v, want one carrying the snapshot", evs)
			}

			// a resolved conflict cannot be settled twice
			if _, err = svc.ResolveConflict(sessionID, conflict.ID, tt.res); !errors.Is(err, collab.ErrConflictNotFound) {
				t.Errorf("ResolveConflict() error = %v, want %v", err, collab.ErrConflictNotFound)
			}
		})
	}
}

func TestService_ResolveConflict_validation(t *testing.T) {
	svc, _, _ := setup(t)
	sessionID, conflict, _ := conflictingSession(t, svc)

	if _, err := svc.ResolveConflict(sessionID, conflict.ID, collab.Resolution{Strategy: "compromise"}); err == nil {
		t.Error("ResolveConflict() expected a validation error")
	}
	if _, err := svc.ResolveConflict(sessionID, "nope", collab.Resolution{Strategy: collab.ResolutionReject}); !errors.Is(err, collab.ErrConflictNotFound) {
		t.Errorf("ResolveConflict() error = %v, want %v", err, collab.ErrConflictNotFound)
	}
}
