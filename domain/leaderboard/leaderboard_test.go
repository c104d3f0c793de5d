package leaderboard

import (
	"testing"
	"time"
)

func TestEntryID_IsStableAndDistinct(t *testing.T) {
	a := EntryID("p1", "sess1", 3)
	b := EntryID("p1", "sess1", 3)
	if a != b {
		t.Fatal("EntryID should be deterministic for the same inputs")
	}
	if a == EntryID("p1", "sess1", 4) {
		t.Fatal("EntryID should differ across round indexes")
	}
}

func TestLess_OrdersByScoreThenBustsThenRolls(t *testing.T) {
	now := time.Now()
	low := Entry{Score: 10, Busts: 2, RollsTaken: 5, SubmittedAt: now}
	high := Entry{Score: 20, Busts: 0, RollsTaken: 1, SubmittedAt: now}
	if !Less(low, high) {
		t.Fatal("lower score should rank ahead regardless of busts/rolls")
	}

	tieScore := Entry{Score: 10, Busts: 1, RollsTaken: 9, SubmittedAt: now}
	tieScoreMoreBusts := Entry{Score: 10, Busts: 3, RollsTaken: 1, SubmittedAt: now}
	if !Less(tieScore, tieScoreMoreBusts) {
		t.Fatal("fewer busts should break a score tie")
	}

	tieBusts := Entry{Score: 10, Busts: 1, RollsTaken: 2, SubmittedAt: now}
	tieBustsMoreRolls := Entry{Score: 10, Busts: 1, RollsTaken: 4, SubmittedAt: now}
	if !Less(tieBusts, tieBustsMoreRolls) {
		t.Fatal("fewer rolls should break a score and busts tie")
	}
}

func TestRank_SortsStably(t *testing.T) {
	now := time.Now()
	entries := []Entry{
		{PlayerID: "b", Score: 10, SubmittedAt: now},
		{PlayerID: "a", Score: 5, SubmittedAt: now},
		{PlayerID: "c", Score: 10, SubmittedAt: now.Add(time.Second)},
	}
	ranked := Rank(entries)
	if ranked[0].PlayerID != "a" || ranked[1].PlayerID != "b" || ranked[2].PlayerID != "c" {
		t.Fatalf("Rank order = %v, want a, b, c", ranked)
	}
}

func TestWindow_SinceAllTimeHasNoCutoff(t *testing.T) {
	if !WindowAllTime.Since(time.Now()).IsZero() {
		t.Fatal("WindowAllTime should have a zero-value cutoff")
	}
	if WindowDaily.Since(time.Now()).IsZero() {
		t.Fatal("WindowDaily should have a non-zero cutoff")
	}
}
