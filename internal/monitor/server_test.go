package monitor

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"uartlink/internal/session"
)

type fakeController struct {
	mu      sync.Mutex
	sent    []string
	logins  []string
	retries int
}

func (f *fakeController) Send(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeController) Login(password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, password)
	return nil
}

func (f *fakeController) RetryLogin() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	return nil
}

func (f *fakeController) Status() session.Info {
	return session.Info{Device: "/dev/ttyACM0", Baud: 115200, LoginState: "unauthenticated"}
}

func (f *fakeController) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestServer(t *testing.T, hash string) (*httptest.Server, *fakeController, *session.Hub) {
	t.Helper()
	hub := session.NewHub(16)
	ctrl := &fakeController{}
	srv := New(Config{
		Controller:   ctrl,
		Hub:          hub,
		PasswordHash: hash,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv, ctrl, hub
}

func dialWS(t *testing.T, httpURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func writeMsg(t *testing.T, ws *websocket.Conn, msgType string, payload interface{}) {
	t.Helper()
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		t.Fatalf("build %s: %v", msgType, err)
	}
	data, _ := json.Marshal(msg)
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

func readUntil(t *testing.T, ws *websocket.Conn, msgType string) Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", msgType, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("bad envelope %q: %v", data, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestServerStatusEndpoint(t *testing.T) {
	httpSrv, _, _ := newTestServer(t, "")

	resp, err := http.Get(httpSrv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var info session.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Device != "/dev/ttyACM0" || info.Baud != 115200 {
		t.Errorf("info = %+v", info)
	}
}

func TestServerCORSHeaders(t *testing.T) {
	httpSrv, _, _ := newTestServer(t, "")

	req, _ := http.NewRequest(http.MethodOptions, httpSrv.URL+"/api/status", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS Allow-Origin header")
	}
}

func TestServerStreamsEvents(t *testing.T) {
	httpSrv, _, hub := newTestServer(t, "")
	ws := dialWS(t, httpSrv.URL)

	// Attach always begins with a status snapshot.
	readUntil(t, ws, TypeSessionStatus)

	hub.Publish(session.Event{Kind: session.EventLog, Text: "<inf> link up", Timestamp: time.Now()})

	msg := readUntil(t, ws, TypeConsoleLine)
	var p LinePayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Kind != "log" || p.Text != "<inf> link up" {
		t.Errorf("line payload = %+v", p)
	}
}

func TestServerReplaysHistory(t *testing.T) {
	httpSrv, _, hub := newTestServer(t, "")

	hub.Publish(session.Event{Kind: session.EventLog, Text: "one", Timestamp: time.Now()})
	hub.Publish(session.Event{Kind: session.EventCommand, Text: "two", Timestamp: time.Now()})

	ws := dialWS(t, httpSrv.URL)

	first := readUntil(t, ws, TypeConsoleLine)
	var p LinePayload
	json.Unmarshal(first.Payload, &p)
	if p.Text != "one" {
		t.Errorf("first replayed line = %q, want one", p.Text)
	}

	second := readUntil(t, ws, TypeConsoleLine)
	json.Unmarshal(second.Payload, &p)
	if p.Text != "two" {
		t.Errorf("second replayed line = %q, want two", p.Text)
	}
}

func TestServerConsoleSend(t *testing.T) {
	httpSrv, ctrl, _ := newTestServer(t, "")
	ws := dialWS(t, httpSrv.URL)

	writeMsg(t, ws, TypeConsoleSend, SendPayload{Command: "device info"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, cmd := range ctrl.sentCommands() {
			if cmd == "device info" {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("command never reached the controller: %q", ctrl.sentCommands())
}

func TestServerInvalidMessage(t *testing.T) {
	httpSrv, _, _ := newTestServer(t, "")
	ws := dialWS(t, httpSrv.URL)

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := readUntil(t, ws, TypeSessionError)
	var p ErrorPayload
	json.Unmarshal(msg.Payload, &p)
	if p.Code != ErrInvalidMessage {
		t.Errorf("error code = %q", p.Code)
	}
}

func TestServerAuthGate(t *testing.T) {
	hash, err := HashPassword("sesame")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	httpSrv, ctrl, _ := newTestServer(t, hash)
	ws := dialWS(t, httpSrv.URL)

	// Anything before auth is rejected.
	writeMsg(t, ws, TypeConsoleSend, SendPayload{Command: "help"})
	msg := readUntil(t, ws, TypeSessionError)
	var ep ErrorPayload
	json.Unmarshal(msg.Payload, &ep)
	if ep.Code != ErrUnauthorized {
		t.Fatalf("pre-auth error code = %q", ep.Code)
	}

	// Wrong password is refused but the connection survives.
	writeMsg(t, ws, TypeAuth, AuthPayload{Password: "wrong"})
	msg = readUntil(t, ws, TypeAuthResult)
	var ar AuthResultPayload
	json.Unmarshal(msg.Payload, &ar)
	if ar.OK {
		t.Fatal("wrong password accepted")
	}

	// Correct password opens the gate and attaches the feed.
	writeMsg(t, ws, TypeAuth, AuthPayload{Password: "sesame"})
	msg = readUntil(t, ws, TypeAuthResult)
	json.Unmarshal(msg.Payload, &ar)
	if !ar.OK {
		t.Fatal("correct password rejected")
	}
	readUntil(t, ws, TypeSessionStatus)

	writeMsg(t, ws, TypeConsoleSend, SendPayload{Command: "help"})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, cmd := range ctrl.sentCommands() {
			if cmd == "help" {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("post-auth command never reached the controller")
}
