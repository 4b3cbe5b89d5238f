package device

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/zphocus/internal/debug"
)

// SimLimits holds the hardware limits of the simulated focuser.
type SimLimits struct {
	FocMin   float64
	FocMax   float64
	MinSpeed int
	MaxSpeed int
}

// DefaultSimLimits are the limits of the Z1000 focuser.
var DefaultSimLimits = SimLimits{FocMin: 2.75, FocMax: 76, MinSpeed: 350, MaxSpeed: 1200}

const (
	// simGotoRate is the simulated speed of an absolute move, mm/s.
	simGotoRate = 5.0
	// simJogScale converts raw jog speed to mm/s.
	simJogScale = 100.0
)

// Simulator is an in-memory focuser endpoint for development and tests.
// It speaks the same plain text protocol as the real device.
type Simulator struct {
	mu     sync.Mutex
	limits SimLimits
	pos    float64
	vel    float64  // mm/s, signed; 0 when idle
	target *float64 // nil while jogging
	fault  string
	last   time.Time
	now    func() time.Time
}

// NewSimulator creates a simulator resting at pos.
func NewSimulator(limits SimLimits, pos float64) *Simulator {
	return &Simulator{
		limits: limits,
		pos:    pos,
		now:    time.Now,
		last:   time.Now(),
	}
}

// SetClock replaces the time source (tests).
func (s *Simulator) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.last = now()
}

// SetFault makes status answer with text. An empty text clears the fault.
func (s *Simulator) SetFault(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = text
}

// Position returns the current simulated position.
func (s *Simulator) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.pos
}

// Moving reports whether the simulated motor runs.
func (s *Simulator) Moving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.vel != 0
}

// advance integrates the motion since the last call. Caller holds mu.
func (s *Simulator) advance() {
	t := s.now()
	dt := t.Sub(s.last).Seconds()
	s.last = t
	if s.vel == 0 || dt <= 0 {
		return
	}
	next := s.pos + s.vel*dt
	if s.target != nil {
		if (s.vel > 0 && next >= *s.target) || (s.vel < 0 && next <= *s.target) {
			next = *s.target
			s.halt()
		}
	}
	// end-switches
	if next <= s.limits.FocMin {
		next = s.limits.FocMin
		s.halt()
	} else if next >= s.limits.FocMax {
		next = s.limits.FocMax
		s.halt()
	}
	s.pos = next
}

func (s *Simulator) halt() {
	s.vel = 0
	s.target = nil
}

// Handle executes one command and returns the answer.
func (s *Simulator) Handle(cmd string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()

	name, value := ParseCommand(cmd)
	switch name {
	case "", CmdFocus:
		return fmt.Sprintf("%.03f", s.pos)
	case CmdLimits:
		return fmt.Sprintf("%s=%g\n%s=%g\n%s=%d\n%s=%d\n",
			KeyFocMin, s.limits.FocMin, KeyFocMax, s.limits.FocMax,
			KeyMinSpeed, s.limits.MinSpeed, KeyMaxSpeed, s.limits.MaxSpeed)
	case CmdStatus:
		switch {
		case s.fault != "":
			return s.fault
		case s.vel != 0:
			return AnsMoving
		default:
			return AnsOK
		}
	case CmdStop:
		s.halt()
		debug.Live("simulator: stop @ %.03f", s.pos)
		return AnsOK
	case CmdTargSpeed:
		if s.target != nil {
			return AnsMoving
		}
		spd, err := strconv.ParseFloat(value, 64)
		if err != nil || math.Abs(spd) < float64(s.limits.MinSpeed) || math.Abs(spd) > float64(s.limits.MaxSpeed) {
			return AnsError
		}
		s.vel = spd / simJogScale
		debug.Live("simulator: move with speed %g", spd)
		return AnsOK
	case CmdGoto:
		pos, err := strconv.ParseFloat(value, 64)
		if err != nil || pos < s.limits.FocMin || pos > s.limits.FocMax {
			return AnsError
		}
		if s.vel != 0 {
			return AnsMoving
		}
		if pos == s.pos {
			return AnsOK
		}
		s.target = &pos
		s.vel = simGotoRate
		if pos < s.pos {
			s.vel = -simGotoRate
		}
		debug.Live("simulator: move to %.03f", pos)
		return AnsOK
	}
	return AnsError
}

// ServeHTTP answers POST and GET requests whose path or body is a command.
func (s *Simulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cmd := strings.TrimPrefix(r.URL.Path, "/")
	if cmd == "" && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1024))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		cmd = string(body)
	}
	w.Header().Set("Content-Type", "text/plain")
	io.WriteString(w, s.Handle(cmd))
}
