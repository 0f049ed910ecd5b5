package net

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sightline/server/internal/interest"
	"sightline/server/internal/observability"
	"sightline/server/internal/session"
	"sightline/server/internal/telemetry"
	"sightline/server/logging"
)

func newTestHandler(t *testing.T, cfg HTTPHandlerConfig) (http.Handler, *session.Registry, *telemetry.Counters) {
	t.Helper()
	sessions := session.NewRegistry(func() time.Time { return time.Unix(10, 0) })
	counters := telemetry.NewCounters()
	handler := NewHTTPHandler(HTTPDeps{
		Sessions: sessions,
		Counters: counters,
		Tick:     func() uint64 { return 77 },
		Entities: func() int { return 3 },
		Logging:  func() logging.RouterStats { return logging.RouterStats{Events: 5, Dropped: 1} },
	}, cfg)
	return handler, sessions, counters
}

func TestHealth(t *testing.T) {
	handler, _, _ := newTestHandler(t, HTTPHandlerConfig{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}
}

func TestJoinIssuesSession(t *testing.T) {
	handler, sessions, _ := newTestHandler(t, HTTPHandlerConfig{TickRate: 15, Compression: "lz4"})

	req := httptest.NewRequest(http.MethodPost, "/join", bytes.NewBufferString(`{"name":" alice "}`))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
	if contentType := resp.Header().Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected Content-Type application/json, got %q", contentType)
	}
	var payload map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode join payload: %v", err)
	}
	if payload["name"] != "alice" || payload["tickRate"] != float64(15) || payload["compression"] != "lz4" {
		t.Fatalf("unexpected join payload %v", payload)
	}
	id, _ := payload["id"].(string)
	if _, ok := sessions.Lookup(interest.PlayerID(id)); !ok {
		t.Fatalf("expected session %q to be registered", id)
	}
}

func TestJoinAcceptsEmptyBody(t *testing.T) {
	handler, _, _ := newTestHandler(t, HTTPHandlerConfig{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/join", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}
}

func TestJoinRejectsInvalidPayload(t *testing.T) {
	handler, _, _ := newTestHandler(t, HTTPHandlerConfig{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/join", bytes.NewBufferString("{")))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 Bad Request, got %d", resp.Code)
	}
}

func TestJoinRejectsWrongMethod(t *testing.T) {
	handler, _, _ := newTestHandler(t, HTTPHandlerConfig{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/join", nil))
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405 Method Not Allowed, got %d", resp.Code)
	}
}

func TestDiagnosticsReportsCountersAndPlayers(t *testing.T) {
	handler, sessions, counters := newTestHandler(t, HTTPHandlerConfig{
		TickRate:      15,
		Systems:       []string{"zone", "grid"},
		Observability: observability.Config{EnableDiagnostics: true},
	})
	sessions.Issue("bob")
	counters.Add("interest_sends_total", 4)

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200 OK, got %d", resp.Code)
	}

	var payload struct {
		Tick      uint64            `json:"tick"`
		Systems   []string          `json:"systems"`
		Entities  int               `json:"entities"`
		Players   []session.Player  `json:"players"`
		Telemetry map[string]uint64 `json:"telemetry"`
		Logging   struct {
			Events  uint64 `json:"events"`
			Dropped uint64 `json:"dropped"`
		} `json:"logging"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode diagnostics payload: %v", err)
	}
	if payload.Tick != 77 || payload.Entities != 3 {
		t.Fatalf("unexpected tick/entities %+v", payload)
	}
	if len(payload.Systems) != 2 || payload.Systems[0] != "zone" {
		t.Fatalf("unexpected systems %v", payload.Systems)
	}
	if len(payload.Players) != 1 || payload.Players[0].Name != "bob" {
		t.Fatalf("unexpected players %+v", payload.Players)
	}
	if payload.Logging.Events != 5 || payload.Logging.Dropped != 1 {
		t.Fatalf("unexpected logging stats %+v", payload.Logging)
	}
	if payload.Telemetry["interest_sends_total"] != 4 {
		t.Fatalf("unexpected telemetry %+v", payload.Telemetry)
	}
}

func TestDiagnosticsDisabled(t *testing.T) {
	handler, _, _ := newTestHandler(t, HTTPHandlerConfig{})
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/diagnostics", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected diagnostics to be unmounted, got %d", resp.Code)
	}
}
