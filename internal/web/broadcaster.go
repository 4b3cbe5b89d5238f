package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// historySize is the number of past log lines replayed to a new subscriber.
const historySize = 50

// StatusEvent is one log line sent over SSE.
type StatusEvent struct {
	Time  string `json:"t"`
	Level string `json:"l,omitempty"`
	Msg   string `json:"msg"`
}

// StatusBroadcaster fans log lines out to SSE clients and keeps the most
// recent ones for late subscribers.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	history []string
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The channel starts with the recent history. The caller must call the
// returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64+historySize)
	b.mu.Lock()
	for _, msg := range b.history {
		ch <- msg
	}
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Broadcast sends a message to all subscribed clients.
// Messages are sent as JSON: {"t":"...","l":"info","msg":"..."}
// Slow clients may miss messages (non-blocking, buffered).
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	evt := StatusEvent{
		Time:  time.Now().Format(time.RFC3339),
		Level: level,
		Msg:   msg,
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = append(b.history, payload)
	if len(b.history) > historySize {
		b.history = b.history[len(b.history)-historySize:]
	}
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		msg := strings.TrimSpace(line)
		if msg != "" {
			w.b.Broadcast(levelOf(msg), msg)
		}
	}
	return len(p), nil
}

// levelOf maps the debug tag of a log line to an SSE level.
func levelOf(msg string) string {
	switch {
	case strings.Contains(msg, "[ERROR]"):
		return "error"
	case strings.Contains(msg, "[TRACE]"), strings.Contains(msg, "[HTTP]"), strings.Contains(msg, "[GPIO]"):
		return "trace"
	case strings.Contains(msg, "[INFO]"):
		return "info"
	}
	return "debug"
}
