package admin

import (
	"context"
	"testing"

	"github.com/lowroll/dicehall/domain/room"
	internalerrors "github.com/lowroll/dicehall/infrastructure/errors"
	"github.com/lowroll/dicehall/pkg/storage/file"
	auditsvc "github.com/lowroll/dicehall/services/audit"
	"github.com/lowroll/dicehall/services/moderation"
	"github.com/lowroll/dicehall/services/rooms"
)

func newTestService(t *testing.T) (*Service, *rooms.Service) {
	t.Helper()
	store, err := file.New(t.TempDir())
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	roomSvc := rooms.New(store, nil, nil)
	modSvc := moderation.New(store, []string{"badword"}, nil, nil)
	auditSvc := auditsvc.New(store, nil, nil)
	return New(roomSvc, nil, modSvc, auditSvc, store, nil), roomSvc
}

func TestOverview_ReportsBackendAndSectionCounts(t *testing.T) {
	s, roomSvc := newTestService(t)
	ctx := context.Background()
	roomSvc.CreateRoom(ctx, rooms.CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPublic})

	overview, err := s.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.StorageBackend != "file" {
		t.Fatalf("StorageBackend = %q, want file", overview.StorageBackend)
	}
	if overview.SectionCounts["rooms"] != 1 {
		t.Fatalf("SectionCounts[rooms] = %d, want 1", overview.SectionCounts["rooms"])
	}
}

func TestExpireRoom_RejectsViewerRole(t *testing.T) {
	s, roomSvc := newTestService(t)
	ctx := context.Background()
	r, _ := roomSvc.CreateRoom(ctx, rooms.CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPublic})

	err := s.ExpireRoom(ctx, "admin1", "viewer", r.ID, "test")
	if !internalerrors.Is(err, internalerrors.ErrCodeForbidden) {
		t.Fatalf("ExpireRoom as viewer = %v, want Forbidden", err)
	}
}

func TestExpireRoom_OperatorSucceedsAndAudits(t *testing.T) {
	s, roomSvc := newTestService(t)
	ctx := context.Background()
	r, _ := roomSvc.CreateRoom(ctx, rooms.CreateOptions{MaxPlayers: 4, Difficulty: room.DifficultyEasy, Visibility: room.VisibilityPublic})

	if err := s.ExpireRoom(ctx, "admin1", "operator", r.ID, "cleanup"); err != nil {
		t.Fatalf("ExpireRoom: %v", err)
	}

	page, err := s.Audit(ctx, "", 10)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Action != "expire_room" {
		t.Fatalf("Audit records = %+v, want one expire_room entry", page.Records)
	}
}

func TestAssignRole_RequiresOwner(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if err := s.AssignRole(ctx, "admin1", "operator", "target", "owner"); !internalerrors.Is(err, internalerrors.ErrCodeForbidden) {
		t.Fatalf("AssignRole as operator = %v, want Forbidden", err)
	}
	if err := s.AssignRole(ctx, "admin1", "owner", "target", "operator"); err != nil {
		t.Fatalf("AssignRole as owner: %v", err)
	}
}

func TestAssignRole_RejectsUnknownRole(t *testing.T) {
	s, _ := newTestService(t)
	err := s.AssignRole(context.Background(), "admin1", "owner", "target", "superadmin")
	if !internalerrors.Is(err, internalerrors.ErrCodeBadRequest) {
		t.Fatalf("AssignRole with unknown role = %v, want BadRequest", err)
	}
}

func TestAddTermAndClearConduct_OperatorAllowed(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	if err := s.AddTerm(ctx, "admin1", "operator", "newbadword"); err != nil {
		t.Fatalf("AddTerm: %v", err)
	}
	terms, err := s.ListTerms()
	if err != nil {
		t.Fatalf("ListTerms: %v", err)
	}
	found := false
	for _, term := range terms {
		if term == "newbadword" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ListTerms = %v, want newbadword present", terms)
	}

	if err := s.ClearConduct(ctx, "admin1", "operator", "player1"); err != nil {
		t.Fatalf("ClearConduct: %v", err)
	}
}

func TestRolesList_IsOrderedLeastToMostPrivileged(t *testing.T) {
	s, _ := newTestService(t)
	got := s.RolesList()
	want := []string{"viewer", "operator", "owner"}
	if len(got) != len(want) {
		t.Fatalf("RolesList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("RolesList = %v, want %v", got, want)
		}
	}
}
