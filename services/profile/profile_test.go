package profile

import (
	"context"
	"testing"

	domainprofile "github.com/lowroll/dicehall/domain/profile"
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

func TestGetProfile_CreatesAnonymousOnFirstAccess(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	p, err := s.GetProfile(ctx, "player1", domainprofile.IdentityAnonymous, "Guest")
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if p.IdentityKind != domainprofile.IdentityAnonymous {
		t.Fatalf("IdentityKind = %v, want anonymous", p.IdentityKind)
	}

	again, err := s.GetProfile(ctx, "player1", domainprofile.IdentityAnonymous, "ignored")
	if err != nil {
		t.Fatalf("GetProfile second call: %v", err)
	}
	if again.DisplayName != "Guest" {
		t.Fatalf("second GetProfile created a new profile, DisplayName = %q", again.DisplayName)
	}
}

func TestUpsertProfile_RejectsSettingsFromAnonymous(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.GetProfile(ctx, "player1", domainprofile.IdentityAnonymous, "Guest")

	_, err := s.UpsertProfile(ctx, "player1", domainprofile.IdentityAnonymous, domainprofile.Patch{
		Settings: map[string]interface{}{"sound": false},
	})
	if err == nil {
		t.Fatal("UpsertProfile should reject settings writes from an anonymous caller")
	}
}

func TestUpsertProfile_AllowsSettingsFromFederated(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.GetProfile(ctx, "player1", domainprofile.IdentityFederated, "Real Name")

	name := "New Name"
	p, err := s.UpsertProfile(ctx, "player1", domainprofile.IdentityFederated, domainprofile.Patch{
		DisplayName: &name,
		Settings:    map[string]interface{}{"sound": false},
	})
	if err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if p.DisplayName != "New Name" {
		t.Fatalf("DisplayName = %q, want New Name", p.DisplayName)
	}
	if p.Settings["sound"] != false {
		t.Fatalf("Settings[sound] = %v, want false", p.Settings["sound"])
	}
}

func TestUpgradeToFederated_IsOnceOnly(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.GetProfile(ctx, "player1", domainprofile.IdentityAnonymous, "Guest")

	p, err := s.UpgradeToFederated(ctx, "player1")
	if err != nil {
		t.Fatalf("UpgradeToFederated: %v", err)
	}
	if p.IdentityKind != domainprofile.IdentityFederated {
		t.Fatalf("IdentityKind = %v, want federated", p.IdentityKind)
	}

	p2, err := s.UpgradeToFederated(ctx, "player1")
	if err != nil {
		t.Fatalf("UpgradeToFederated second call: %v", err)
	}
	if p2.UpdatedAt.After(p.UpdatedAt) {
		t.Fatal("second UpgradeToFederated should be a no-op and not bump UpdatedAt")
	}
}

func TestBlockAndUnblock_RoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	s.GetProfile(ctx, "victim", domainprofile.IdentityAnonymous, "Victim")

	if err := s.Block(ctx, "victim", "troll1"); err != nil {
		t.Fatalf("Block: %v", err)
	}
	blocked, err := s.HasBlocked(ctx, "victim", "troll1")
	if err != nil {
		t.Fatalf("HasBlocked: %v", err)
	}
	if !blocked {
		t.Fatal("HasBlocked = false, want true after Block")
	}

	if err := s.Unblock(ctx, "victim", "troll1"); err != nil {
		t.Fatalf("Unblock: %v", err)
	}
	blocked, err = s.HasBlocked(ctx, "victim", "troll1")
	if err != nil {
		t.Fatalf("HasBlocked: %v", err)
	}
	if blocked {
		t.Fatal("HasBlocked = true, want false after Unblock")
	}
}

func TestHasBlocked_MissingProfileHasBlockedNobody(t *testing.T) {
	s := newTestService(t)
	blocked, err := s.HasBlocked(context.Background(), "ghost", "troll1")
	if err != nil {
		t.Fatalf("HasBlocked: %v", err)
	}
	if blocked {
		t.Fatal("HasBlocked = true for a nonexistent profile, want false")
	}
}
