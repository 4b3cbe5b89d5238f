package device

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time      { return c.t }
func (c *fakeClock) add(d time.Duration) { c.t = c.t.Add(d) }

func newTestSimulator(pos float64) (*Simulator, *fakeClock) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	s := NewSimulator(DefaultSimLimits, pos)
	s.SetClock(clk.now)
	return s, clk
}

func TestSimulator_FocusAndLimits(t *testing.T) {
	s, _ := newTestSimulator(10)
	if got := s.Handle(CmdFocus); got != "10.000" {
		t.Errorf("focus = %q", got)
	}
	if got := s.Handle(""); got != "10.000" {
		t.Errorf("empty command = %q, want position", got)
	}
	l := ParseLimits(s.Handle(CmdLimits))
	if *l.FocMin != 2.75 || *l.FocMax != 76 || *l.MinSpeed != 350 || *l.MaxSpeed != 1200 {
		t.Errorf("limits = %s", l)
	}
}

func TestSimulator_Goto(t *testing.T) {
	s, clk := newTestSimulator(10)

	if got := s.Handle(Goto(100)); got != AnsError {
		t.Errorf("goto out of range = %q, want error", got)
	}
	if got := s.Handle("goto=abc"); got != AnsError {
		t.Errorf("goto garbage = %q, want error", got)
	}
	if got := s.Handle(Goto(20)); got != AnsOK {
		t.Fatalf("goto = %q, want OK", got)
	}
	if got := s.Handle(CmdStatus); got != AnsMoving {
		t.Errorf("status = %q, want moving", got)
	}
	if got := s.Handle(Goto(30)); got != AnsMoving {
		t.Errorf("second goto while moving = %q, want moving", got)
	}

	clk.add(time.Second)
	if p := s.Position(); p != 10+simGotoRate {
		t.Errorf("position after 1s = %g", p)
	}
	clk.add(time.Minute)
	if p := s.Position(); p != 20 {
		t.Errorf("position after arrival = %g, want 20", p)
	}
	if got := s.Handle(CmdStatus); got != AnsOK {
		t.Errorf("status after arrival = %q, want OK", got)
	}
}

func TestSimulator_JogAndStop(t *testing.T) {
	s, clk := newTestSimulator(10)

	if got := s.Handle(TargSpeed(100)); got != AnsError {
		t.Errorf("too slow jog = %q, want error", got)
	}
	if got := s.Handle(TargSpeed(-5000)); got != AnsError {
		t.Errorf("too fast jog = %q, want error", got)
	}
	if got := s.Handle(TargSpeed(-400)); got != AnsOK {
		t.Fatalf("jog = %q, want OK", got)
	}
	clk.add(time.Second)
	if p := s.Position(); p != 6 {
		t.Errorf("position after jog = %g, want 6", p)
	}
	if got := s.Handle(CmdStop); got != AnsOK {
		t.Errorf("stop = %q", got)
	}
	clk.add(time.Second)
	if s.Moving() {
		t.Error("still moving after stop")
	}
	if p := s.Position(); p != 6 {
		t.Errorf("position after stop = %g, want 6", p)
	}
}

func TestSimulator_EndSwitch(t *testing.T) {
	s, clk := newTestSimulator(10)
	s.Handle(TargSpeed(-1200))
	clk.add(time.Hour)
	if p := s.Position(); p != DefaultSimLimits.FocMin {
		t.Errorf("position = %g, want stop at %g", p, DefaultSimLimits.FocMin)
	}
	if s.Moving() {
		t.Error("motor must stop at the end-switch")
	}
}

func TestSimulator_Fault(t *testing.T) {
	s, _ := newTestSimulator(10)
	s.SetFault("End-switch active")
	if got := s.Handle(CmdStatus); got != "End-switch active" {
		t.Errorf("status = %q", got)
	}
	s.SetFault("")
	if got := s.Handle(CmdStatus); got != AnsOK {
		t.Errorf("status = %q, want OK", got)
	}
	if got := s.Handle("dance"); got != AnsError {
		t.Errorf("unknown command = %q, want error", got)
	}
}

func TestSimulator_OverHTTP(t *testing.T) {
	s, _ := newTestSimulator(42.5)
	srv := httptest.NewServer(s)
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got, err := c.Do(context.Background(), CmdFocus)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "42.500" {
		t.Errorf("focus = %q", got)
	}
	got, err = c.Do(context.Background(), CmdLimits)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ParseLimits(got).HasSpeeds() {
		t.Errorf("limits = %q", got)
	}
}
