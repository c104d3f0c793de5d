package profile

import (
	"testing"
	"time"
)

func TestProfile_BlockUnblock(t *testing.T) {
	p := &Profile{PlayerID: "p1"}
	if p.HasBlocked("p2") {
		t.Fatal("fresh profile should have no blocks")
	}
	p.Block("p2")
	if !p.HasBlocked("p2") {
		t.Fatal("p2 should be blocked")
	}
	p.Unblock("p2")
	if p.HasBlocked("p2") {
		t.Fatal("p2 should no longer be blocked")
	}
}

func TestProfile_UpgradeToFederatedOnce(t *testing.T) {
	p := &Profile{PlayerID: "p1", IdentityKind: IdentityAnonymous}
	now := time.Now()

	if !p.UpgradeToFederated(now) {
		t.Fatal("first upgrade should succeed")
	}
	if p.IdentityKind != IdentityFederated {
		t.Fatal("identity kind should be federated after upgrade")
	}
	if p.UpgradeToFederated(now) {
		t.Fatal("second upgrade should fail; upgrade is one-time")
	}
}

func TestProfile_ApplyPatch(t *testing.T) {
	p := &Profile{PlayerID: "p1"}
	name := "Alice"
	changed := p.Apply(Patch{DisplayName: &name, Settings: map[string]interface{}{"theme": "dark"}}, time.Now())

	if !changed {
		t.Fatal("expected Apply to report a change")
	}
	if p.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", p.DisplayName)
	}
	if p.Settings["theme"] != "dark" {
		t.Errorf("Settings[theme] = %v, want dark", p.Settings["theme"])
	}
}

func TestProfile_ApplyNoopReportsNoChange(t *testing.T) {
	p := &Profile{PlayerID: "p1", DisplayName: "Alice"}
	name := "Alice"
	if changed := p.Apply(Patch{DisplayName: &name}, time.Now()); changed {
		t.Fatal("applying an identical value should report no change")
	}
}
