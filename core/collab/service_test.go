package collab_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trezcool/darasa/core/collab"
	dummytransport "github.com/trezcool/darasa/services/transport/dummy"
	inmemdb "github.com/trezcool/darasa/storage/database/inmem"
	testutil "github.com/trezcool/darasa/tests"
)

func setup(t *testing.T) (*collab.Service, *dummytransport.Broadcaster, collab.ArchiveRepository) {
	t.Helper()
	testutil.InitValidators()

	broadcaster := dummytransport.NewBroadcaster()
	archive := inmemdb.NewArchiveRepository()
	svc := collab.NewService(testutil.NewTestConfig(), testutil.NewTestLogger(), broadcaster, archive)
	return svc, broadcaster, archive
}

func TestService_CreateSession(t *testing.T) {
	svc, _, _ := setup(t)

	tests := []struct {
		name    string
		ns      collab.NewSession
		wantErr bool
	}{
		{name: "ok", ns: collab.NewSession{Title: "Recursion 101", Language: "go"}},
		{name: "explicit max participants", ns: collab.NewSession{Title: "Pairing", Language: "python", MaxParticipants: 2}},
		{name: "missing title", ns: collab.NewSession{Language: "go"}, wantErr: true},
		{name: "missing language", ns: collab.NewSession{Title: "Pairing"}, wantErr: true},
		{name: "unsupported language", ns: collab.NewSession{Title: "Pairing", Language: "cobol"}, wantErr: true},
		{name: "too many participants", ns: collab.NewSession{Title: "Pairing", Language: "go", MaxParticipants: 42}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := svc.CreateSession(tt.ns)
			if tt.wantErr {
				if err == nil {
					t.Fatal("CreateSession() expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateSession() failed: %v", err)
			}
			if sess.ID == "" {
				t.Error("session id not assigned")
			}
			if sess.Status != collab.StatusActive {
				t.Errorf("status = %s, want %s", sess.Status, collab.StatusActive)
			}
			wantMax := tt.ns.MaxParticipants
			if wantMax == 0 {
				wantMax = 4 // registry default
			}
			if sess.MaxParticipants != wantMax {
				t.Errorf("max participants = %d, want %d", sess.MaxParticipants, wantMax)
			}
		})
	}
}

func TestService_JoinSession(t *testing.T) {
	svc, broadcaster, _ := setup(t)
	sess := testutil.CreateSession(t, svc, "Pairing", "go", 0)

	// fill the roster to its default capacity
	parts := make([]collab.Participant, 4)
	for i, name := range []string{"alice", "bob", "carol", "dave"} {
		parts[i] = testutil.JoinSession(t, svc, sess.ID, name)
	}

	// colors follow join order
	for i := 1; i < len(parts); i++ {
		if parts[i].Color == parts[0].Color {
			t.Errorf("participant %d shares a color with participant 0", i)
		}
	}

	// join events exclude the joiner
	joins := broadcaster.EventsOfType(collab.EventParticipantJoined)
	if len(joins) != 4 {
		t.Fatalf("got %d join events, want 4", len(joins))
	}
	for i, ev := range joins {
		if ev.Exclude != parts[i].ID {
			t.Errorf("join event %d excludes %s, want %s", i, ev.Exclude, parts[i].ID)
		}
	}

	// a fifth seat does not exist
	if _, _, err := svc.JoinSession(sess.ID, collab.NewParticipant{DisplayName: "eve"}); !errors.Is(err, collab.ErrSessionFull) {
		t.Errorf("JoinSession() error = %v, want %v", err, collab.ErrSessionFull)
	}

	// rejoining with a known id reconnects instead of consuming a seat
	snap, rejoined, err := svc.JoinSession(sess.ID, collab.NewParticipant{ID: parts[0].ID, DisplayName: "alice"})
	if err != nil {
		t.Fatalf("JoinSession() rejoin failed: %v", err)
	}
	if rejoined.ID != parts[0].ID {
		t.Errorf("rejoined id = %s, want %s", rejoined.ID, parts[0].ID)
	}
	if !rejoined.Connected {
		t.Error("rejoined participant not connected")
	}
	if snap.Text != "" {
		t.Errorf("bootstrap snapshot text = %q, want empty", snap.Text)
	}

	if _, _, err = svc.JoinSession("nope", collab.NewParticipant{DisplayName: "eve"}); !errors.Is(err, collab.ErrSessionNotFound) {
		t.Errorf("JoinSession() error = %v, want %v", err, collab.ErrSessionNotFound)
	}
}

func TestService_LeaveSession(t *testing.T) {
	svc, broadcaster, archive := setup(t)
	sess := testutil.CreateSession(t, svc, "Pairing", "go", 2)
	alice := testutil.JoinSession(t, svc, sess.ID, "alice")
	bob := testutil.JoinSession(t, svc, sess.ID, "bob")

	if err := svc.LeaveSession(sess.ID, "stranger"); !errors.Is(err, collab.ErrParticipantNotInSession) {
		t.Errorf("LeaveSession() error = %v, want %v", err, collab.ErrParticipantNotInSession)
	}

	if _, err := svc.BroadcastOperation(sess.ID, collab.NewInsert(collab.Position{}, "x := 1", alice.ID)); err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}

	if err := svc.LeaveSession(sess.ID, alice.ID); err != nil {
		t.Fatalf("LeaveSession() failed: %v", err)
	}
	left := broadcaster.EventsOfType(collab.EventParticipantLeft)
	if len(left) != 1 || left[0].ParticipantID != alice.ID {
		t.Fatalf("left events = %+v, want one for %s", left, alice.ID)
	}

	got, err := svc.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got.Status != collab.StatusActive {
		t.Errorf("status = %s, want %s while the roster is non-empty", got.Status, collab.StatusActive)
	}

	// last leaver completes the session and archives its snapshot
	if err = svc.LeaveSession(sess.ID, bob.ID); err != nil {
		t.Fatalf("LeaveSession() failed: %v", err)
	}
	got, err = svc.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	if got.Status != collab.StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, collab.StatusCompleted)
	}

	arch := waitForArchive(t, archive, sess.ID)
	if arch.Text != "x := 1" {
		t.Errorf("archived text = %q, want %q", arch.Text, "x := 1")
	}
	if arch.Participants != 2 {
		t.Errorf("archived participants = %d, want 2", arch.Participants)
	}

	// rejoining within the grace period reactivates the session
	if _, _, err = svc.JoinSession(sess.ID, collab.NewParticipant{DisplayName: "carol"}); err != nil {
		t.Fatalf("JoinSession() after completion failed: %v", err)
	}
	got, _ = svc.GetSession(sess.ID)
	if got.Status != collab.StatusActive {
		t.Errorf("status = %s, want %s after rejoin", got.Status, collab.StatusActive)
	}
}

// waitForArchive polls for the asynchronous archive write.
func waitForArchive(t *testing.T, archive collab.ArchiveRepository, sessionID string) collab.ArchivedSession {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		arch, err := archive.GetArchivedSession(context.Background(), sessionID)
		if err == nil {
			return arch
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s never archived", sessionID)
	return collab.ArchivedSession{}
}

func TestService_BroadcastOperation(t *testing.T) {
	svc, broadcaster, _ := setup(t)
	sess := testutil.CreateSession(t, svc, "Pairing", "go", 0)
	alice := testutil.JoinSession(t, svc, sess.ID, "alice")
	bob := testutil.JoinSession(t, svc, sess.ID, "bob")

	if _, err := svc.BroadcastOperation(sess.ID, collab.NewInsert(collab.Position{}, "x", "stranger")); !errors.Is(err, collab.ErrParticipantNotInSession) {
		t.Fatalf("BroadcastOperation() error = %v, want %v", err, collab.ErrParticipantNotInSession)
	}

	// seed text both participants have seen and acked
	seed, err := svc.BroadcastOperation(sess.ID, collab.NewInsert(collab.Position{}, "hello", alice.ID))
	if err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}
	if err = svc.AckOperation(sess.ID, seed.ID, bob.ID); err != nil {
		t.Fatalf("AckOperation() failed: %v", err)
	}

	// alice's insert applies verbatim
	aliceOp := collab.NewInsert(collab.Position{}, "foo", alice.ID)
	applied, err := svc.BroadcastOperation(sess.ID, aliceOp)
	if err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}
	if applied.Pos != (collab.Position{}) {
		t.Errorf("applied position = %+v, want origin", applied.Pos)
	}

	// bob issued his insert against "hello"; it is shifted past alice's
	// in-flight insert before applying
	bobOp := collab.NewInsert(collab.Position{Line: 0, Col: 5}, "bar", bob.ID)
	applied, err = svc.BroadcastOperation(sess.ID, bobOp)
	if err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}
	if want := (collab.Position{Line: 0, Col: 8}); applied.Pos != want {
		t.Errorf("transformed position = %+v, want %+v", applied.Pos, want)
	}

	snap, err := svc.Snapshot(sess.ID)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if snap.Text != "foohellobar" {
		t.Errorf("text = %q, want %q", snap.Text, "foohellobar")
	}

	// fan-out excludes each author
	evs := broadcaster.EventsOfType(collab.EventOperationApplied)
	if len(evs) != 3 {
		t.Fatalf("got %d operation events, want 3", len(evs))
	}
	for i, want := range []string{alice.ID, alice.ID, bob.ID} {
		if evs[i].Exclude != want {
			t.Errorf("event %d excludes %s, want %s", i, evs[i].Exclude, want)
		}
	}

	// duplicate delivery is absorbed without re-emitting
	if _, err = svc.BroadcastOperation(sess.ID, aliceOp); err != nil {
		t.Fatalf("BroadcastOperation() duplicate failed: %v", err)
	}
	if got := len(broadcaster.EventsOfType(collab.EventOperationApplied)); got != 3 {
		t.Errorf("duplicate delivery re-emitted: %d events", got)
	}
	if snap, _ = svc.Snapshot(sess.ID); snap.Text != "foohellobar" {
		t.Errorf("text = %q after duplicate, want %q", snap.Text, "foohellobar")
	}
}

func TestService_AckOperation(t *testing.T) {
	svc, _, _ := setup(t)
	sess := testutil.CreateSession(t, svc, "Pairing", "go", 0)
	alice := testutil.JoinSession(t, svc, sess.ID, "alice")
	bob := testutil.JoinSession(t, svc, sess.ID, "bob")

	if err := svc.AckOperation(sess.ID, "whatever", "stranger"); !errors.Is(err, collab.ErrParticipantNotInSession) {
		t.Fatalf("AckOperation() error = %v, want %v", err, collab.ErrParticipantNotInSession)
	}

	// seed text and retire the insert by acking it: an op acked by every
	// non-author stops being a transform base
	seed, err := svc.BroadcastOperation(sess.ID, collab.NewInsert(collab.Position{}, "abcdef", alice.ID))
	if err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}
	if err = svc.AckOperation(sess.ID, "retired-long-ago", bob.ID); err != nil {
		t.Fatalf("AckOperation() of an unknown op failed: %v", err)
	}
	if err = svc.AckOperation(sess.ID, seed.ID, bob.ID); err != nil {
		t.Fatalf("AckOperation() failed: %v", err)
	}

	// alice's delete is now the only in-flight transform base, so bob's
	// insert inside that range conflicts
	del := collab.NewDelete(collab.Position{Line: 0, Col: 1}, 3, alice.ID)
	if _, err := svc.BroadcastOperation(sess.ID, del); err != nil {
		t.Fatalf("BroadcastOperation() failed: %v", err)
	}

	inside := collab.NewInsert(collab.Position{Line: 0, Col: 2}, "Z", bob.ID)
	var conflictErr *collab.ConflictError
	if _, err = svc.BroadcastOperation(sess.ID, inside); !errors.As(err, &conflictErr) {
		t.Fatalf("BroadcastOperation() error = %v, want *ConflictError", err)
	}

	// once bob acks the delete too, nothing is left to transform against
	// and the same coordinates are just an in-bounds insert
	if err = svc.AckOperation(sess.ID, del.ID, bob.ID); err != nil {
		t.Fatalf("AckOperation() failed: %v", err)
	}
	after := collab.NewInsert(collab.Position{Line: 0, Col: 2}, "Z", bob.ID)
	if _, err = svc.BroadcastOperation(sess.ID, after); err != nil {
		t.Fatalf("BroadcastOperation() after acks failed: %v", err)
	}
	if snap, _ := svc.Snapshot(sess.ID); snap.Text != "aeZf" {
		t.Errorf("text = %q, want %q", snap.Text, "aeZf")
	}
}

func TestService_Presence(t *testing.T) {
	svc, broadcaster, _ := setup(t)
	sess := testutil.CreateSession(t, svc, "Pairing", "go", 0)
	alice := testutil.JoinSession(t, svc, sess.ID, "alice")
	bob := testutil.JoinSession(t, svc, sess.ID, "bob")

	if err := svc.UpdateCursor(sess.ID, "stranger", collab.Position{}); !errors.Is(err, collab.ErrParticipantNotInSession) {
		t.Fatalf("UpdateCursor() error = %v, want %v", err, collab.ErrParticipantNotInSession)
	}

	pos := collab.Position{Line: 2, Col: 7}
	if err := svc.UpdateCursor(sess.ID, alice.ID, pos); err != nil {
		t.Fatalf("UpdateCursor() failed: %v", err)
	}
	// selections are normalized to document order
	sel := collab.Range{Start: collab.Position{Line: 3, Col: 0}, End: collab.Position{Line: 1, Col: 2}}
	if err := svc.UpdateSelection(sess.ID, alice.ID, sel); err != nil {
		t.Fatalf("UpdateSelection() failed: %v", err)
	}

	got, err := svc.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}
	for _, p := range got.Participants {
		switch p.ID {
		case alice.ID:
			if p.Cursor == nil || *p.Cursor != pos {
				t.Errorf("alice cursor = %+v, want %+v", p.Cursor, pos)
			}
			if p.Selection == nil || p.Selection.Start != sel.End || p.Selection.End != sel.Start {
				t.Errorf("alice selection = %+v, want normalized %+v", p.Selection, sel)
			}
		case bob.ID:
			if p.Cursor != nil || p.Selection != nil {
				t.Error("presence leaked onto bob's entry")
			}
		}
	}

	moved := broadcaster.EventsOfType(collab.EventCursorMoved)
	if len(moved) != 1 || moved[0].Exclude != alice.ID || moved[0].ParticipantID != alice.ID {
		t.Errorf("cursor events = %+v, want one from alice excluding alice", moved)
	}
}

func TestService_Reap(t *testing.T) {
	svc, _, archive := setup(t)
	conf := testutil.NewTestConfig()

	now := time.Now().UTC()
	reset := collab.SetNowFunc(func() time.Time { return now })
	defer reset()

	sess := testutil.CreateSession(t, svc, "Pairing", "go", 0)
	alice := testutil.JoinSession(t, svc, sess.ID, "alice")
	if err := svc.LeaveSession(sess.ID, alice.ID); err != nil {
		t.Fatalf("LeaveSession() failed: %v", err)
	}
	waitForArchive(t, archive, sess.ID)

	// within the grace period the session survives
	n, err := svc.Reap(context.Background())
	if err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("Reap() = %d, want 0", n)
	}
	if _, err = svc.GetSession(sess.ID); err != nil {
		t.Fatalf("GetSession() failed: %v", err)
	}

	now = now.Add(conf.Collab.SessionGracePeriod)
	if n, err = svc.Reap(context.Background()); err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("Reap() = %d, want 1", n)
	}
	if _, err = svc.GetSession(sess.ID); !errors.Is(err, collab.ErrSessionNotFound) {
		t.Errorf("GetSession() error = %v, want %v", err, collab.ErrSessionNotFound)
	}

	// the archived snapshot outlives the session until retention expires
	if _, err = archive.GetArchivedSession(context.Background(), sess.ID); err != nil {
		t.Fatalf("GetArchivedSession() failed: %v", err)
	}
	now = now.Add(conf.Collab.SnapshotRetention)
	if _, err = svc.Reap(context.Background()); err != nil {
		t.Fatalf("Reap() failed: %v", err)
	}
	if _, err = archive.GetArchivedSession(context.Background(), sess.ID); !errors.Is(err, collab.ErrSessionNotFound) {
		t.Errorf("GetArchivedSession() error = %v, want %v", err, collab.ErrSessionNotFound)
	}
}
