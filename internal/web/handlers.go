package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/cjeanneret/zphocus/internal/debug"
	"github.com/cjeanneret/zphocus/internal/logic/motion"
)

// maxBody bounds REST request bodies.
const maxBody = 1 << 20

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Panel       Controller
	limiter     *rate.Limiter
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// A nil limiter lets every command through.
func NewHandlers(broadcaster *StatusBroadcaster, ctrl Controller, limiter *rate.Limiter, staticFS fs.FS) *Handlers {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Handlers{
		Broadcaster: broadcaster,
		Panel:       ctrl,
		limiter:     limiter,
		staticFS:    staticFS,
	}
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// Throttle answers 429 once the command rate is exceeded.
func (h *Handlers) Throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow() {
			http.Error(w, "too many commands", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleState returns the panel state as JSON.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Panel.Snapshot())
}

// HandleGoto handles POST /api/goto {"f64": position}.
func (h *Handlers) HandleGoto(w http.ResponseWriter, r *http.Request) {
	var req FloatT
	if !decode(w, r, &req) {
		return
	}
	if _, err := motion.GotoCommand(req.F64, h.Panel.Snapshot().Bounds); err != nil {
		http.Error(w, motion.ErrOutOfRange.Error(), http.StatusBadRequest)
		return
	}
	h.Panel.Goto(req.F64)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// HandleJog handles POST /api/jog {"int": 1 or -1}.
func (h *Handlers) HandleJog(w http.ResponseWriter, r *http.Request) {
	var req IntT
	if !decode(w, r, &req) {
		return
	}
	if req.Int != 1 && req.Int != -1 {
		http.Error(w, "direction must be 1 or -1", http.StatusBadRequest)
		return
	}
	h.Panel.Jog(req.Int)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// HandleStop handles POST /api/stop.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.Panel.Stop()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// HandleSpeed handles POST /api/speed {"int": tier} and answers with the
// tier actually selected.
func (h *Handlers) HandleSpeed(w http.ResponseWriter, r *http.Request) {
	var req IntT
	if !decode(w, r, &req) {
		return
	}
	h.Panel.ChangeSpeed(req.Int)
	respondJSON(w, http.StatusOK, IntT{Int: motion.ClampTier(req.Int)})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			http.Error(w, "request body too large", http.StatusBadRequest)
			return false
		}
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		debug.Error(fmt.Errorf("encode response: %w", err))
		http.Error(w, "cannot encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}
