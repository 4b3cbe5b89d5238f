package web

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func receive(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return StatusEvent{}
}

func TestBroadcaster_SubscribeAndReceive(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("info", "hello")

	evt := receive(t, ch)
	if evt.Msg != "hello" {
		t.Errorf("msg = %q, want \"hello\"", evt.Msg)
	}
	if evt.Level != "info" {
		t.Errorf("level = %q, want \"info\"", evt.Level)
	}
	if evt.Time == "" {
		t.Error("event should have a timestamp")
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()

	b.Broadcast("info", "multi")

	for i, ch := range []<-chan string{ch1, ch2} {
		if evt := receive(t, ch); evt.Msg != "multi" {
			t.Errorf("subscriber %d: msg = %q, want \"multi\"", i, evt.Msg)
		}
	}
}

func TestBroadcaster_HistoryReplay(t *testing.T) {
	b := NewStatusBroadcaster()
	for i := 0; i < historySize+10; i++ {
		b.Broadcast("info", fmt.Sprintf("line %d", i))
	}

	ch, unsub := b.Subscribe()
	defer unsub()

	first := receive(t, ch)
	if first.Msg != "line 10" {
		t.Errorf("oldest replayed = %q, want \"line 10\"", first.Msg)
	}
	for i := 1; i < historySize; i++ {
		receive(t, ch)
	}
	select {
	case msg := <-ch:
		t.Errorf("unexpected extra message %s", msg)
	default:
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	// Broadcasting after unsubscribe should not panic
	b.Broadcast("info", "after unsub")
}

func TestBroadcaster_FullChannelDropsMessage(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	capacity := cap(ch)
	for i := 0; i < capacity; i++ {
		b.Broadcast("info", "fill")
	}
	// must not block
	b.Broadcast("info", "overflow")

	count := 0
	for {
		select {
		case <-ch:
			count++
		default:
			if count != capacity {
				t.Errorf("expected %d buffered messages, got %d", capacity, count)
			}
			return
		}
	}
}

func TestBroadcastWriter_Write(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	in := "[zphocus] 12:00:00 [ERROR] Request timeout\n[zphocus] 12:00:01 [HTTP] abc POST focus\n"
	n, err := w.Write([]byte(in))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(in) {
		t.Errorf("n = %d, want %d", n, len(in))
	}

	first := receive(t, ch)
	if first.Level != "error" || first.Msg != "[zphocus] 12:00:00 [ERROR] Request timeout" {
		t.Errorf("first = %+v", first)
	}
	if second := receive(t, ch); second.Level != "trace" {
		t.Errorf("second level = %q, want trace", second.Level)
	}
}

func TestBroadcastWriter_EmptyWriteIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("   \n\n"))

	select {
	case <-ch:
		t.Error("expected no message for whitespace-only write")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLevelOf(t *testing.T) {
	cases := map[string]string{
		"[INFO] panel started":  "info",
		"[ERROR] Request Error": "error",
		"[TRACE] raw":           "trace",
		"[GPIO] ReadPin pin=23": "trace",
		"[LIVE] speed tier 2":   "debug",
		"plain text":            "debug",
	}
	for in, want := range cases {
		if got := levelOf(in); got != want {
			t.Errorf("levelOf(%q) = %q, want %q", in, got, want)
		}
	}
}
