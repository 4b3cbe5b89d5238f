package web

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/zphocus/internal/panel"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) Message {
	t.Helper()
	for i := 0; i < 10; i++ {
		if msg := readMessage(t, conn); msg.Type == typ {
			return msg
		}
	}
	t.Fatalf("no %s message", typ)
	return Message{}
}

func waitCalls(t *testing.T, ctrl *fakeCtrl, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if calls := ctrl.Calls(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("calls = %v, want %d", ctrl.Calls(), n)
	return nil
}

func TestHub_HelloAndInitialState(t *testing.T) {
	ctrl := newFakeCtrl()
	conn := dialHub(t, NewHub(ctrl, rate.Inf, 1))

	hello := readMessage(t, conn)
	if hello.Type != TypeHello {
		t.Fatalf("first message = %q, want hello", hello.Type)
	}
	var hp HelloPayload
	if err := hello.ParsePayload(&hp); err != nil || hp.ClientID == "" {
		t.Errorf("hello payload = %+v, %v", hp, err)
	}

	msg := readMessage(t, conn)
	if msg.Type != TypeState {
		t.Fatalf("second message = %q, want state", msg.Type)
	}
	var s panel.State
	if err := msg.ParsePayload(&s); err != nil {
		t.Fatalf("state payload: %v", err)
	}
	if s.Tier != 1 || s.Overlay.Text != "init" {
		t.Errorf("state = %+v", s)
	}
}

func TestHub_IntentsReachController(t *testing.T) {
	ctrl := newFakeCtrl()
	conn := dialHub(t, NewHub(ctrl, rate.Inf, 1))
	readUntil(t, conn, TypeState)

	frames := []string{
		`{"type":"set"}`,
		`{"type":"set","payload":{"f64":12.5}}`,
		`{"type":"jog","payload":{"int":-1}}`,
		`{"type":"speed","payload":{"int":3}}`,
		`{"type":"input","payload":{"f64":20}}`,
		`{"type":"update"}`,
		`{"type":"stop"}`,
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	got := waitCalls(t, ctrl, len(frames))
	want := []string{"set", "goto 12.5", "jog -1", "speed 3", "input 20", "update", "stop"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHub_InvalidMessages(t *testing.T) {
	ctrl := newFakeCtrl()
	conn := dialHub(t, NewHub(ctrl, rate.Inf, 1))
	readUntil(t, conn, TypeState)

	for _, f := range []string{
		`not json`,
		`{"type":"dance"}`,
		`{"type":"jog","payload":{"int":5}}`,
		`{"type":"speed"}`,
	} {
		conn.WriteMessage(websocket.TextMessage, []byte(f))
		msg := readUntil(t, conn, TypeError)
		var ep ErrorPayload
		msg.ParsePayload(&ep)
		if ep.Code != ErrInvalidMessage {
			t.Errorf("frame %s: code = %q", f, ep.Code)
		}
	}
	if calls := ctrl.Calls(); len(calls) != 0 {
		t.Errorf("invalid frames reached the panel: %v", calls)
	}
}

func TestHub_RateLimit(t *testing.T) {
	ctrl := newFakeCtrl()
	conn := dialHub(t, NewHub(ctrl, rate.Every(time.Hour), 1))
	readUntil(t, conn, TypeState)

	conn.WriteJSON(Message{Type: TypeJog, Payload: json.RawMessage(`{"int":1}`)})
	conn.WriteJSON(Message{Type: TypeJog, Payload: json.RawMessage(`{"int":1}`)})
	msg := readUntil(t, conn, TypeError)
	var ep ErrorPayload
	msg.ParsePayload(&ep)
	if ep.Code != ErrRateLimited {
		t.Errorf("code = %q, want %q", ep.Code, ErrRateLimited)
	}

	// stop always goes through
	conn.WriteJSON(Message{Type: TypeStop})
	got := waitCalls(t, ctrl, 2)
	if got[0] != "jog 1" || got[1] != "stop" {
		t.Errorf("calls = %v", got)
	}
}

func TestHub_PublishAlertAndState(t *testing.T) {
	ctrl := newFakeCtrl()
	hub := NewHub(ctrl, rate.Inf, 1)
	conn := dialHub(t, hub)
	readUntil(t, conn, TypeState)

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.PublishAlert("Wrong focus value")
	msg := readUntil(t, conn, TypeAlert)
	var ap AlertPayload
	msg.ParsePayload(&ap)
	if ap.Text != "Wrong focus value" {
		t.Errorf("alert = %q", ap.Text)
	}

	s := panel.DefaultState()
	s.ApplyStatus("moving")
	hub.PublishState(s)
	hub.PublishState(s) // duplicate, skipped
	s.SetTier(4)
	hub.PublishState(s)

	first := readUntil(t, conn, TypeState)
	second := readUntil(t, conn, TypeState)
	var a, b panel.State
	first.ParsePayload(&a)
	second.ParsePayload(&b)
	if a.Status != "moving" || a.Tier != 1 {
		t.Errorf("first state = %+v", a)
	}
	if b.Tier != 4 {
		t.Errorf("second state tier = %d, want 4 (duplicate not skipped?)", b.Tier)
	}
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(newFakeCtrl(), rate.Inf, 1)
	conn := dialHub(t, hub)
	readUntil(t, conn, TypeState)

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.Count(); n != 0 {
		t.Errorf("clients = %d after Close", n)
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(TypeAlert, AlertPayload{Text: "x"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(data) != `{"type":"alert","payload":{"text":"x"}}` {
		t.Errorf("frame = %s", data)
	}
	if err := (Message{Type: TypeJog}).ParsePayload(&IntT{}); err == nil {
		t.Error("missing payload should fail to parse")
	}
}
