package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNew(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}
	if m.RequestsTotal == nil {
		t.Error("RequestsTotal should not be nil")
	}
	if m.RequestDuration == nil {
		t.Error("RequestDuration should not be nil")
	}
	if m.ErrorsTotal == nil {
		t.Error("ErrorsTotal should not be nil")
	}
	if m.RoomsActive == nil {
		t.Error("RoomsActive should not be nil")
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordHTTPRequest("test-service", "GET", "/api/multiplayer/rooms", "200", 100*time.Millisecond)
	m.RecordHTTPRequest("test-service", "POST", "/api/multiplayer/rooms", "201", 200*time.Millisecond)
	m.RecordHTTPRequest("test-service", "GET", "/api/multiplayer/rooms", "404", 50*time.Millisecond)
}

func TestRecordError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordError("test-service", "validation", "join_room")
	m.RecordError("test-service", "store", "put")
}

func TestSetRoomsActive(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.SetRoomsActive("lobby", "easy", 3)
	m.SetRoomsActive("active", "hard", 1)
}

func TestRecordTurnTimeout(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordTurnTimeout("preRoll")
	m.RecordTurnTimeout("postRoll")
}

func TestRecordBotAdvance(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordBotAdvance("easy", "roll")
	m.RecordBotAdvance("hard", "score")
}

func TestRecordJoinFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordJoinFailure("room_full")
	m.RecordJoinFailure("room_banned")
}

func TestRecordModerationAction(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordModerationAction("mute")
	m.RecordModerationAction("ban")
}

func TestRecordStoreOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.RecordStoreOperation("file", "put", "ok")
	m.RecordStoreOperation("document", "get", "error")
}

func TestUpdateUptime(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)
	startTime := time.Now().Add(-1 * time.Hour)

	m.UpdateUptime(startTime)
}

func TestInFlightCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	m.IncrementInFlight()
	m.IncrementInFlight()
	m.DecrementInFlight()
	m.DecrementInFlight()
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry("test-service", reg)

	if m == nil {
		t.Fatal("Expected metrics instance, got nil")
	}

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(metricFamilies) == 0 {
		t.Error("Expected metrics to be registered")
	}
}
