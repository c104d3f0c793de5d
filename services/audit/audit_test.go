package audit

import (
	"context"
	"testing"
	"time"

	"github.com/lowroll/dicehall/domain/audit"
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

func TestRecordAndList_NewestFirst(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	s.SetClock(func() time.Time { return tick })

	for i := 0; i < 3; i++ {
		if err := s.Record(ctx, "admin1", audit.ActorAdmin, "expire_room", "room"+string(rune('A'+i)), nil, nil, ""); err != nil {
			t.Fatalf("Record: %v", err)
		}
		tick = tick.Add(time.Second)
	}

	page, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Records) != 3 {
		t.Fatalf("List returned %d records, want 3", len(page.Records))
	}
	if page.Records[0].Subject != "roomC" || page.Records[2].Subject != "roomA" {
		t.Fatalf("List order = %v, want newest-first (roomC, roomB, roomA)", page.Records)
	}
	if page.HasMore {
		t.Fatal("HasMore = true, want false for a page covering every record")
	}
}

func TestList_CursorPagesForward(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	s.SetClock(func() time.Time { return tick })
	for i := 0; i < 5; i++ {
		s.Record(ctx, "admin1", audit.ActorAdmin, "clear_conduct", "p1", nil, nil, "")
		tick = tick.Add(time.Millisecond)
	}

	first, err := s.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first.Records) != 2 || !first.HasMore {
		t.Fatalf("first page = %+v, want 2 records and HasMore=true", first)
	}

	second, err := s.List(ctx, first.NextCursor, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(second.Records) != 2 {
		t.Fatalf("second page = %d records, want 2", len(second.Records))
	}
	if second.Records[0].At.Equal(first.Records[0].At) || second.Records[0].At.Equal(first.Records[1].At) {
		t.Fatal("second page overlaps with the first page")
	}
}

func TestTruncate_RemovesOlderThanRetention(t *testing.T) {
	s := newTestService(t)
	s.SetRetention(time.Hour)
	ctx := context.Background()

	old := time.Now().Add(-2 * time.Hour)
	s.SetClock(func() time.Time { return old })
	s.Record(ctx, "sys", audit.ActorSystem, "room_swept", "room1", nil, nil, "inactivity")

	recent := time.Now()
	s.SetClock(func() time.Time { return recent })
	s.Record(ctx, "sys", audit.ActorSystem, "room_swept", "room2", nil, nil, "inactivity")

	removed, err := s.Truncate(ctx)
	if err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if removed != 1 {
		t.Fatalf("Truncate removed %d, want 1", removed)
	}

	page, err := s.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].Subject != "room2" {
		t.Fatalf("List after Truncate = %+v, want only room2 to survive", page.Records)
	}
}
