package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/lowroll/dicehall/domain/room"
	"github.com/lowroll/dicehall/pkg/storage/file"
	"github.com/lowroll/dicehall/services/rooms"
)

func newTestServices(t *testing.T) (*Service, *rooms.Service) {
	t.Helper()
	store, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	roomSvc := rooms.New(store, nil, nil)
	return New(store, roomSvc, nil, nil), roomSvc
}

func newTestRoom(t *testing.T, roomSvc *rooms.Service, maxPlayers int) *room.Room {
	t.Helper()
	r, err := roomSvc.CreateRoom(context.Background(), rooms.CreateOptions{
		MaxPlayers: maxPlayers,
		Difficulty: room.DifficultyNormal,
		Visibility: room.VisibilityPrivate,
	})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return r
}

func TestJoin_CreatesSessionAndSeatsFirstComer(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 4)

	sess, p, ticket, err := s.Join(ctx, r, JoinRequest{PlayerID: "p1", DisplayName: "Ann"})
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if sess.RoomID != r.ID {
		t.Fatalf("session.RoomID = %q, want %q", sess.RoomID, r.ID)
	}
	if !p.IsSeated || p.SeatIndex == nil || *p.SeatIndex != 0 {
		t.Fatalf("expected participant seated at index 0, got %+v", p)
	}
	if ticket == "" {
		t.Fatal("expected non-empty stream ticket")
	}
}

func TestJoin_RejectsBannedPlayer(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 4)
	r.Ban("p1")

	_, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p1"})
	if err == nil {
		t.Fatal("expected banned player to be rejected")
	}
}

func TestJoin_SecondJoinAttachesToSameSession(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 4)

	sess1, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p1"})
	if err != nil {
		t.Fatalf("Join p1: %v", err)
	}
	sess2, p2, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p2"})
	if err != nil {
		t.Fatalf("Join p2: %v", err)
	}
	if sess1.ID != sess2.ID {
		t.Fatalf("sessions diverged: %q vs %q", sess1.ID, sess2.ID)
	}
	if p2.SeatIndex == nil || *p2.SeatIndex != 1 {
		t.Fatalf("expected p2 at seat 1, got %+v", p2.SeatIndex)
	}
}

func TestJoin_BeyondCapacityJoinsUnseated(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 2)

	for _, id := range []string{"p1", "p2"} {
		if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: id}); err != nil {
			t.Fatalf("Join %s: %v", id, err)
		}
	}
	_, p3, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p3"})
	if err != nil {
		t.Fatalf("Join p3: %v", err)
	}
	if p3.IsSeated {
		t.Fatal("expected p3 to join unseated once the room is full")
	}
}

func TestUpdateParticipantState_ReadyRequiresSeated(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 2)

	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p1"}); err != nil {
		t.Fatalf("Join p1: %v", err)
	}
	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p2"}); err != nil {
		t.Fatalf("Join p2: %v", err)
	}
	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p3"}); err != nil {
		t.Fatalf("Join p3: %v", err)
	}
	sess, err := s.Get(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	_ = sess

	if err := s.UpdateParticipantState(ctx, r.SessionID, "p3", ActionReady); err == nil {
		t.Fatal("expected ready-without-seat to be rejected")
	}
}

func TestUpdateParticipantState_SitThenReady(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 4)

	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p1"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.UpdateParticipantState(ctx, r.SessionID, "p1", ActionReady); err != nil {
		t.Fatalf("ready: %v", err)
	}
	rec, err := s.Get(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Participants["p1"].IsReady {
		t.Fatal("expected p1 ready")
	}

	if err := s.UpdateParticipantState(ctx, r.SessionID, "p1", ActionStand); err != nil {
		t.Fatalf("stand: %v", err)
	}
	rec, err = s.Get(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Participants["p1"].IsReady || rec.Participants["p1"].IsSeated {
		t.Fatal("expected stand to clear seated and ready")
	}
}

func TestLeave_RemovesParticipantAndFreesSeat(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 4)

	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p1"}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := s.Leave(ctx, r.SessionID, "p1", "client_disconnect"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	rec, err := s.Get(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := rec.Participants["p1"]; ok {
		t.Fatal("expected p1 removed after leave")
	}

	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p2"}); err != nil {
		t.Fatalf("Join p2: %v", err)
	}
	rec, err = s.Get(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Participants["p2"].SeatIndex == nil || *rec.Participants["p2"].SeatIndex != 0 {
		t.Fatalf("expected p2 to reclaim freed seat 0, got %+v", rec.Participants["p2"].SeatIndex)
	}
}

func TestPruneExpiredHeartbeats_RemovesStaleHumansOnly(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 4)

	now := time.Now()
	s.SetClock(func() time.Time { return now })
	s.SetLivenessThreshold(time.Second)

	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "p1"}); err != nil {
		t.Fatalf("Join p1: %v", err)
	}
	if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: "bot1", IsBot: true}); err != nil {
		t.Fatalf("Join bot: %v", err)
	}

	now = now.Add(10 * time.Second)
	pruned, err := s.PruneExpiredHeartbeats(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("PruneExpiredHeartbeats: %v", err)
	}
	if len(pruned) != 1 || pruned[0] != "p1" {
		t.Fatalf("pruned = %v, want [p1]", pruned)
	}

	rec, err := s.Get(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := rec.Participants["bot1"]; !ok {
		t.Fatal("expected bot participant to survive the prune")
	}
}

func TestTurnOrderMembers_OnlySeatedAndReadyInSeatOrder(t *testing.T) {
	s, roomSvc := newTestServices(t)
	ctx := context.Background()
	r := newTestRoom(t, roomSvc, 4)

	for _, id := range []string{"p1", "p2", "p3"} {
		if _, _, _, err := s.Join(ctx, r, JoinRequest{PlayerID: id}); err != nil {
			t.Fatalf("Join %s: %v", id, err)
		}
	}
	if err := s.UpdateParticipantState(ctx, r.SessionID, "p1", ActionReady); err != nil {
		t.Fatalf("ready p1: %v", err)
	}
	if err := s.UpdateParticipantState(ctx, r.SessionID, "p3", ActionReady); err != nil {
		t.Fatalf("ready p3: %v", err)
	}

	members, err := s.TurnOrderMembers(ctx, r.SessionID)
	if err != nil {
		t.Fatalf("TurnOrderMembers: %v", err)
	}
	if len(members) != 2 || members[0] != "p1" || members[1] != "p3" {
		t.Fatalf("members = %v, want [p1 p3]", members)
	}
}
