package moderation

import (
	"testing"
	"time"
)

func TestTermSet_EvaluateWithLeetSubstitution(t *testing.T) {
	ts := NewTermSet([]string{"badword"})
	if hit, term := ts.Evaluate("this is a b4dw0rd right here"); !hit || term != "badword" {
		t.Errorf("Evaluate = hit=%v term=%q, want hit on badword", hit, term)
	}
}

func TestTermSet_EvaluateWithDiacritics(t *testing.T) {
	ts := NewTermSet([]string{"naive"})
	if hit, term := ts.Evaluate("don't be so naïve about it"); !hit || term != "naive" {
		t.Errorf("Evaluate = hit=%v term=%q, want hit on naive via the accented variant", hit, term)
	}
}

func TestTermSet_EvaluateCaseInsensitive(t *testing.T) {
	ts := NewTermSet([]string{"shout"})
	if hit, _ := ts.Evaluate("Please Don't SHOUT at me"); !hit {
		t.Error("Evaluate should be case-insensitive")
	}
}

func TestTermSet_ManagedTermLifecycle(t *testing.T) {
	ts := NewTermSet(nil)
	ts.AddManagedTerm("newterm")
	if hit, _ := ts.Evaluate("contains newterm here"); !hit {
		t.Fatal("managed term should be matched")
	}
	ts.RemoveManagedTerm("newterm")
	if hit, _ := ts.Evaluate("contains newterm here"); hit {
		t.Fatal("removed managed term should no longer match")
	}
}

func TestRecord_StrikeLadder_WarningThenMuteThenBan(t *testing.T) {
	th := Thresholds{MuteThreshold: 2, BanThreshold: 3, MuteWindow: time.Minute}
	r := &Record{PlayerID: "p1"}
	now := time.Now()

	if a := r.ApplyHit(now, "room1", th); a != ActionDeliverWarning {
		t.Fatalf("1st hit = %v, want warning", a)
	}
	if a := r.ApplyHit(now, "room1", th); a != ActionRejectedMuted {
		t.Fatalf("2nd hit = %v, want muted", a)
	}
	if !r.IsMuted(now) {
		t.Fatal("record should be muted after reaching mute threshold")
	}

	// A 3rd hit while already muted is rejected as muted regardless of ban threshold math.
	if a := r.ApplyHit(now, "room1", th); a != ActionRejectedMuted {
		t.Fatalf("3rd hit while muted = %v, want muted", a)
	}
}

func TestRecord_BanThreshold(t *testing.T) {
	th := Thresholds{MuteThreshold: 100, BanThreshold: 2, MuteWindow: time.Minute}
	r := &Record{PlayerID: "p1"}
	now := time.Now()

	r.ApplyHit(now, "room1", th)
	action := r.ApplyHit(now, "room1", th)
	if action != ActionBanned {
		t.Fatalf("2nd hit at ban threshold 2 = %v, want banned", action)
	}
	if !r.IsBannedFrom("room1") {
		t.Fatal("record should be banned from room1")
	}
}

func TestRecord_MuteExpiresAndClearConductResets(t *testing.T) {
	th := DefaultThresholds()
	r := &Record{PlayerID: "p1"}
	now := time.Now()
	for i := 0; i < th.MuteThreshold; i++ {
		r.ApplyHit(now, "room1", th)
	}
	if !r.IsMuted(now) {
		t.Fatal("expected mute after reaching threshold")
	}
	if r.IsMuted(now.Add(th.MuteWindow + time.Second)) {
		t.Fatal("mute should expire after MuteWindow")
	}

	r.ClearConduct(now)
	if r.Strikes != 0 || r.IsMuted(now) {
		t.Fatal("ClearConduct should reset strikes and mute")
	}
}
