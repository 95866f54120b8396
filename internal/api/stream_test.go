//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/readiness-wizard/internal/identity"
	"github.com/coder/websocket"
)

func dialStream(t *testing.T, s *testServer, tab string) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	header := http.Header{}
	header.Set("Cookie", identity.AnonCookieName+"="+testDevice)
	header.Set(identity.SessionHeaderName, tab)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws, ctx
}

func readState(t *testing.T, ctx context.Context, ws *websocket.Conn) sessionResponse {
	t.Helper()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp sessionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return resp
}

func TestStream_SendsCurrentStateFirst(t *testing.T) {
	s := newTestServer(t, nil)
	live := decodeSession(t, s.do(http.MethodPut, "/api/wizard/session/steps/0", "tab-1", validBasics))

	ws, ctx := dialStream(t, s, "tab-1")
	first := readState(t, ctx, ws)
	if first.Session.ID != live.Session.ID || first.Session.Steps[0].Data["companyName"] != "Acme" {
		t.Errorf("expected the live session first, got %+v", first.Session)
	}
}

func TestStream_PushesCommittedChanges(t *testing.T) {
	s := newTestServer(t, nil)
	ws, ctx := dialStream(t, s, "tab-1")
	readState(t, ctx, ws)

	decodeSession(t, s.do(http.MethodPut, "/api/wizard/session/steps/0", "tab-1", validBasics))

	for {
		resp := readState(t, ctx, ws)
		if resp.Session.Steps[0].Data["companyName"] == "Acme" {
			return
		}
	}
}

func TestStream_AcceptsCommands(t *testing.T) {
	s := newTestServer(t, nil)
	ws, ctx := dialStream(t, s, "tab-1")
	readState(t, ctx, ws)

	cmd := `{"type":"setStepData","stepIndex":6,"data":{"hourlyRate":85}}`
	if err := ws.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		t.Fatalf("write: %v", err)
	}

	for {
		resp := readState(t, ctx, ws)
		if resp.Session.Steps[6].Data["hourlyRate"] == float64(85) {
			break
		}
	}

	if err := ws.Write(ctx, websocket.MessageText, []byte(`{"type":"flush"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		resp := readState(t, ctx, ws)
		if resp.Session.LastSaved != nil {
			return
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	h := NewSessionHandler(NewHandler(nil, nil, nil, Options{AllowedOrigins: []string{"https://wizard.example.com"}}))

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://wizard.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(req); got != tt.want {
			t.Errorf("origin %q: expected %v, got %v", tt.origin, tt.want, got)
		}
	}

	h.opts.IsDev = true
	req := httptest.NewRequest(http.MethodGet, "/ws/session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	if !h.checkOrigin(req) {
		t.Error("expected any origin in development")
	}
}
