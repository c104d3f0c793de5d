package rooms

import (
	"context"
	"testing"
	"time"

	"github.com/lowroll/dicehall/domain/room"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/pkg/storage/file"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	return New(store, nil, nil)
}

func TestCreateRoom_RejectsInvalidMaxPlayers(t *testing.T) {
	s := newTestService(t)
	_, err := s.CreateRoom(context.Background(), CreateOptions{MaxPlayers: 1, Difficulty: room.DifficultyEasy})
	if err == nil {
		t.Fatal("expected maxPlayers=1 to be rejected")
	}
}

func TestCreateRoom_AssignsShortCode(t *testing.T) {
	s := newTestService(t)
	r, err := s.CreateRoom(context.Background(), CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyNormal, Visibility: room.VisibilityPublic})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(r.ID) != codeLength {
		t.Fatalf("room ID = %q, want length %d", r.ID, codeLength)
	}
	if r.Status != room.StatusLobby {
		t.Fatalf("Status = %v, want lobby", r.Status)
	}
}

func TestListRooms_FiltersByDifficultyAndExcludesPrivate(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPublic})
	s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyHard, Visibility: room.VisibilityPublic})
	s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPrivate})

	page, err := s.ListRooms(ctx, ListFilter{Difficulty: room.DifficultyEasy}, 0, 10)
	if err != nil {
		t.Fatalf("ListRooms: %v", err)
	}
	if len(page.Rooms) != 1 {
		t.Fatalf("ListRooms returned %d rooms, want 1 public easy room", len(page.Rooms))
	}
}

func TestJoinByCode_NotFound(t *testing.T) {
	s := newTestService(t)
	_, err := s.JoinByCode(context.Background(), "ZZZZZZ", "p1")
	if !internalerrors.Is(err, internalerrors.ErrCodeNotFound) {
		t.Fatalf("JoinByCode unknown code = %v, want ENotFound", err)
	}
}

func TestJoinByCode_RejectsBannedPlayer(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPrivate})
	loaded, _ := s.Get(ctx, r.ID)
	loaded.Ban("p1")
	s.persist(ctx, loaded)

	_, err := s.JoinByCode(ctx, r.ID, "p1")
	if !internalerrors.Is(err, internalerrors.ErrCodeRoomBanned) {
		t.Fatalf("JoinByCode banned player = %v, want ERoomBanned", err)
	}
}

func TestJoinByCode_RejectsFullRoom(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRoom(ctx, CreateOptions{MaxPlayers: 2, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPrivate})
	s.SetSeatedHumans(ctx, r.ID, 2)

	_, err := s.JoinByCode(ctx, r.ID, "p1")
	if !internalerrors.Is(err, internalerrors.ErrCodeRoomFull) {
		t.Fatalf("JoinByCode full room = %v, want ERoomFull", err)
	}
}

func TestBanPlayer_RejectsFutureJoin(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPrivate})

	if err := s.BanPlayer(ctx, r.ID, "p1"); err != nil {
		t.Fatalf("BanPlayer: %v", err)
	}

	_, err := s.JoinByCode(ctx, r.ID, "p1")
	if !internalerrors.Is(err, internalerrors.ErrCodeRoomBanned) {
		t.Fatalf("JoinByCode after BanPlayer = %v, want ERoomBanned", err)
	}
}

func TestExpireRoom_NeverReopens(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPublic})

	if err := s.ExpireRoom(ctx, r.ID, "test"); err != nil {
		t.Fatalf("ExpireRoom: %v", err)
	}
	_, err := s.JoinByCode(ctx, r.ID, "p1")
	if !internalerrors.Is(err, internalerrors.ErrCodeRoomClosed) {
		t.Fatalf("JoinByCode closed room = %v, want ERoomClosed", err)
	}

	page, _ := s.ListRooms(ctx, ListFilter{Difficulty: room.DifficultyEasy}, 0, 10)
	for _, listed := range page.Rooms {
		if listed.ID == r.ID {
			t.Fatal("closed room must not appear in the public listing")
		}
	}
}

func TestEnsurePublicSeed_CreatesOneRoomPerDifficulty(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	if err := s.EnsurePublicSeed(ctx); err != nil {
		t.Fatalf("EnsurePublicSeed: %v", err)
	}
	for _, d := range []room.Difficulty{room.DifficultyEasy, room.DifficultyNormal, room.DifficultyHard} {
		page, err := s.ListRooms(ctx, ListFilter{Difficulty: d}, 0, 10)
		if err != nil {
			t.Fatalf("ListRooms(%s): %v", d, err)
		}
		if len(page.Rooms) != 1 {
			t.Fatalf("difficulty %s has %d public rooms, want 1 after seeding", d, len(page.Rooms))
		}
	}
}

func TestUpdateActivity_BumpsTimestamp(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	base := time.Now()
	s.SetClock(func() time.Time { return base })
	r, _ := s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPrivate})

	later := base.Add(time.Minute)
	s.SetClock(func() time.Time { return later })
	if err := s.UpdateActivity(ctx, r.ID); err != nil {
		t.Fatalf("UpdateActivity: %v", err)
	}

	loaded, _ := s.Get(ctx, r.ID)
	if !loaded.LastActivityAt.Equal(later) {
		t.Fatalf("LastActivityAt = %v, want %v", loaded.LastActivityAt, later)
	}
}

func TestSweepInactive_ExpiresOnlyEmptyStaleRooms(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	base := time.Now()
	s.SetClock(func() time.Time { return base })
	s.SetInactivityThreshold(time.Minute)

	stale, _ := s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPublic})
	occupied, _ := s.CreateRoom(ctx, CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPublic})
	s.SetSeatedHumans(ctx, occupied.ID, 1)

	s.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	expired, err := s.SweepInactive(ctx)
	if err != nil {
		t.Fatalf("SweepInactive: %v", err)
	}
	if len(expired) != 1 || expired[0] != stale.ID {
		t.Fatalf("SweepInactive expired %v, want only %q", expired, stale.ID)
	}

	loadedOccupied, _ := s.Get(ctx, occupied.ID)
	if loadedOccupied.Status == room.StatusClosed {
		t.Fatal("occupied room should not have been expired")
	}
}
