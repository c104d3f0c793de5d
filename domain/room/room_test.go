package room

import (
	"testing"
	"time"
)

func TestValidateMaxPlayers(t *testing.T) {
	if _, ok := ValidateMaxPlayers(1); ok {
		t.Error("1 should be rejected (below MinPlayers)")
	}
	if _, ok := ValidateMaxPlayers(9); ok {
		t.Error("9 should be rejected (above MaxPlayers)")
	}
	if n, ok := ValidateMaxPlayers(4); !ok || n != 4 {
		t.Errorf("4 should be accepted, got n=%d ok=%v", n, ok)
	}
}

func TestRoom_BanAndIsBanned(t *testing.T) {
	r := &Room{ID: "ABC123"}
	if r.IsBanned("p1") {
		t.Fatal("fresh room should have no bans")
	}
	r.Ban("p1")
	if !r.IsBanned("p1") {
		t.Fatal("p1 should be banned after Ban")
	}
}

func TestRoom_TouchActivityNeverDecreases(t *testing.T) {
	base := time.Now()
	r := &Room{LastActivityAt: base}

	r.TouchActivity(base.Add(-time.Minute))
	if r.LastActivityAt.Before(base) {
		t.Fatal("TouchActivity must not move LastActivityAt backwards")
	}

	later := base.Add(time.Minute)
	r.TouchActivity(later)
	if !r.LastActivityAt.Equal(later) {
		t.Fatalf("LastActivityAt = %v, want %v", r.LastActivityAt, later)
	}
}

func TestRoom_HasCapacity(t *testing.T) {
	r := &Room{MaxPlayers: 2, SeatedHumans: 1}
	if !r.HasCapacity() {
		t.Fatal("1/2 seated should still have capacity")
	}
	r.SeatedHumans = 2
	if r.HasCapacity() {
		t.Fatal("2/2 seated should report no capacity")
	}
}

func TestRoom_CanReopen(t *testing.T) {
	r := &Room{Status: StatusLobby}
	if !r.CanReopen() {
		t.Error("lobby room should report CanReopen")
	}
	r.Status = StatusClosed
	if r.CanReopen() {
		t.Error("closed room must never report CanReopen")
	}
}
