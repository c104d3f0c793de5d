package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lowroll/dicehall/infrastructure/logging"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"hello": "world"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["hello"] != "world" {
		t.Fatalf("body = %v", body)
	}
}

func TestWriteErrorResponse_DefaultsCodeAndPropagatesTraceID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/rooms/ABC123", nil)
	req.Header.Set("X-Trace-ID", "trace-xyz")

	rec := httptest.NewRecorder()
	WriteErrorResponse(rec, req, http.StatusBadRequest, "", "bad input", nil)

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Code != "HTTP_400" {
		t.Errorf("Code = %q, want HTTP_400", resp.Code)
	}
	if resp.TraceID != "trace-xyz" {
		t.Errorf("TraceID = %q, want trace-xyz", resp.TraceID)
	}
	if rec.Header().Get("X-Trace-ID") != "trace-xyz" {
		t.Errorf("response X-Trace-ID header not propagated")
	}
}

func TestDecodeJSON_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	var v struct{}
	if ok := DecodeJSON(rec, req, &v); ok {
		t.Fatal("DecodeJSON should return false for invalid body")
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestDecodeJSONOptional_EmptyBodyIsOK(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()

	var v struct{}
	if ok := DecodeJSONOptional(rec, req, &v); !ok {
		t.Fatal("DecodeJSONOptional should return true for an empty body")
	}
}

func TestQueryHelpers(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25&active=true&name=lobby", nil)

	if got := QueryInt(req, "limit", 10); got != 25 {
		t.Errorf("QueryInt = %d, want 25", got)
	}
	if got := QueryInt(req, "missing", 10); got != 10 {
		t.Errorf("QueryInt default = %d, want 10", got)
	}
	if got := QueryBool(req, "active", false); !got {
		t.Errorf("QueryBool = %v, want true", got)
	}
	if got := QueryString(req, "name", "fallback"); got != "lobby" {
		t.Errorf("QueryString = %q, want lobby", got)
	}
}

func TestPaginationParams_ClampsToMaxLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?offset=-5&limit=500", nil)

	offset, limit := PaginationParams(req, 20, 100)
	if offset != 0 {
		t.Errorf("offset = %d, want 0", offset)
	}
	if limit != 100 {
		t.Errorf("limit = %d, want 100 (clamped)", limit)
	}
}

func TestPathParamAt(t *testing.T) {
	if got := PathParamAt("/rooms/ABC123/participants/p1", 1); got != "ABC123" {
		t.Errorf("PathParamAt = %q, want ABC123", got)
	}
	if got := PathParamAt("/rooms/ABC123", 5); got != "" {
		t.Errorf("PathParamAt out of range = %q, want empty", got)
	}
}

func TestClientIP_TrustsForwardedHeadersFromPrivatePeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got := ClientIP(req); got != "1.2.3.4" {
		t.Fatalf("ClientIP() = %q, want %q", got, "1.2.3.4")
	}
}

func TestClientIP_IgnoresForwardedHeadersFromPublicPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.10:1234"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	req.Header.Set("X-Real-IP", "9.9.9.9")

	if got := ClientIP(req); got != "203.0.113.10" {
		t.Fatalf("ClientIP() = %q, want %q", got, "203.0.113.10")
	}
}

func TestGetPlayerID_PrefersContextThenHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(PlayerIDHeader, "p-header")
	ctx := logging.WithUserID(req.Context(), "p-context")
	req = req.WithContext(ctx)

	if got := GetPlayerID(req); got != "p-context" {
		t.Errorf("GetPlayerID = %q, want p-context", got)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set(PlayerIDHeader, "p-header")
	if got := GetPlayerID(req2); got != "p-header" {
		t.Errorf("GetPlayerID fallback = %q, want p-header", got)
	}
}

func TestRequireAdminRole(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := logging.WithRole(req.Context(), "admin")
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	if ok := RequireAdminRole(rec, req); !ok {
		t.Fatal("RequireAdminRole should succeed for admin role")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	rec2 := httptest.NewRecorder()
	if ok := RequireAdminRole(rec2, req2); ok {
		t.Fatal("RequireAdminRole should fail without a role")
	}
	if rec2.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec2.Code, http.StatusForbidden)
	}
}
