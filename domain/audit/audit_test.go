package audit

import (
	"testing"
	"time"
)

func TestRecord_KeyIsMonotonicWithTime(t *testing.T) {
	base := time.Now()
	r1 := Record{At: base}
	r2 := Record{At: base.Add(time.Second)}

	if r1.Key() >= r2.Key() {
		t.Fatalf("Key() should sort by time: %q should be < %q", r1.Key(), r2.Key())
	}
}

func TestRetainAfter_DropsOlderRecords(t *testing.T) {
	now := time.Now()
	records := []Record{
		{At: now.Add(-2 * time.Hour), Action: "old"},
		{At: now.Add(-30 * time.Minute), Action: "recent"},
	}

	kept := RetainAfter(records, now.Add(-time.Hour))
	if len(kept) != 1 || kept[0].Action != "recent" {
		t.Fatalf("RetainAfter kept %+v, want only the recent record", kept)
	}
}
