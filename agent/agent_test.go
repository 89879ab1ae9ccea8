package agent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/activitykit/activity"
	"github.com/vinayprograms/activitykit/delivery"
)

type harness struct {
	server *Server
	http   *httptest.Server
	sent   chan delivery.Payload
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{sent: make(chan delivery.Payload, 16)}
	sender := delivery.SenderFunc(func(_ context.Context, p delivery.Payload) error {
		h.sent <- p
		return nil
	})

	s, err := New(cfg, Options{Sender: sender})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	h.server = s
	h.http = httptest.NewServer(s.Handler())
	t.Cleanup(h.http.Close)
	return h
}

func (h *harness) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws?page=/tasks/1"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	waitFor(t, func() bool { return h.server.Sessions() == 1 })
	return conn
}

func (h *harness) nextBatch(t *testing.T) []activity.Event {
	t.Helper()
	select {
	case p := <-h.sent:
		b, err := activity.DecodeBatch(p.Body)
		if err != nil {
			t.Fatalf("DecodeBatch error: %v", err)
		}
		return b.Events
	case <-time.After(3 * time.Second):
		t.Fatal("no batch sent")
	}
	return nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func notify(t *testing.T, conn *websocket.Conn, method, params string) {
	t.Helper()
	msg := `{"jsonrpc":"2.0","method":"` + method + `","params":` + params + `}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

func types(events []activity.Event) string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = string(e.Type)
	}
	return strings.Join(names, ",")
}

func TestNew_RequiresSender(t *testing.T) {
	if _, err := New(DefaultConfig(), Options{}); err == nil {
		t.Fatal("expected error without sender")
	}
}

func TestSession_UnloadSendsOneExitBatch(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, http.Header{"User-Agent": []string{"test-browser"}})

	notify(t, conn, "signal", `{"kind":"copy","selection":"hello"}`)
	notify(t, conn, "signal", `{"kind":"unload"}`)

	events := h.nextBatch(t)
	if got := types(events); got != "copy,exit" {
		t.Fatalf("types = %s, want copy,exit", got)
	}
	if events[0].Payload["length"] != float64(5) {
		t.Errorf("copy payload = %v", events[0].Payload)
	}
	if events[0].Page != "/tasks/1" || events[0].UserAgent != "test-browser" {
		t.Errorf("page/ua = %q/%q", events[0].Page, events[0].UserAgent)
	}

	conn.Close()
	waitFor(t, func() bool { return h.server.Sessions() == 0 })

	select {
	case p := <-h.sent:
		t.Fatalf("unexpected second batch: %s", p.Body)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSession_DisconnectRecordsExit(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, nil)

	notify(t, conn, "setContext", `{"sessionId":"S1","taskId":"T1"}`)
	conn.Close()

	events := h.nextBatch(t)
	if got := types(events); got != "task_switch,exit" {
		t.Fatalf("types = %s, want task_switch,exit", got)
	}
	if events[1].SessionID != "S1" || events[1].TaskID != "T1" {
		t.Errorf("exit ids = %q/%q", events[1].SessionID, events[1].TaskID)
	}
	waitFor(t, func() bool { return h.server.Sessions() == 0 })
}

func TestCloseSessions(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, nil)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.server.CloseSessions(ctx); err != nil {
		t.Fatalf("CloseSessions error: %v", err)
	}

	if got := types(h.nextBatch(t)); got != "exit" {
		t.Errorf("types = %s, want exit", got)
	}
	if h.server.Sessions() != 0 {
		t.Errorf("sessions = %d after close", h.server.Sessions())
	}

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail after CloseSessions")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response = %+v, want 503", resp)
	}
}

func TestOriginRejected(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.AllowedOrigins = []string{"https://portal.example"}
	})

	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatal("expected dial from foreign origin to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %+v, want 403", resp)
	}
	if h.server.Sessions() != 0 {
		t.Error("refused connection should not open a session")
	}
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, nil)
	conn := h.dial(t, nil)
	defer conn.Close()

	resp, err := http.Get(h.http.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(h.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"activity_agent_sessions_active 1", "activity_agent_sessions_total 1"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
