package panel

import (
	"encoding/json"
	"testing"

	"github.com/cjeanneret/zphocus/internal/device"
	"github.com/cjeanneret/zphocus/internal/logic/motion"
)

func TestDefaultState(t *testing.T) {
	s := DefaultState()
	if s.Bounds != (motion.Bounds{Min: 0.01, Max: 76.5}) {
		t.Errorf("Bounds = %+v", s.Bounds)
	}
	if s.CurVal != 3 || s.Input != 3 || s.Seeded {
		t.Errorf("CurVal/Input/Seeded = %v/%v/%v", s.CurVal, s.Input, s.Seeded)
	}
	if s.Tier != 1 || s.Speeds != [motion.NumTiers]int{130, 400, 800, 1200} {
		t.Errorf("Tier/Speeds = %d/%v", s.Tier, s.Speeds)
	}
	if !s.Overlay.Shown || s.Overlay.Text != "init" {
		t.Errorf("Overlay = %+v, want init shown", s.Overlay)
	}
}

func TestApplyFocus_SeedsOnce(t *testing.T) {
	s := DefaultState()

	if err := s.ApplyFocus("5.25"); err != nil {
		t.Fatalf("ApplyFocus: %v", err)
	}
	if s.Input != 5.25 || !s.Seeded {
		t.Errorf("after first answer Input = %v, Seeded = %v", s.Input, s.Seeded)
	}

	if err := s.ApplyFocus("6.00"); err != nil {
		t.Fatalf("ApplyFocus: %v", err)
	}
	if s.Input != 5.25 {
		t.Errorf("second answer changed Input to %v", s.Input)
	}
	if s.CurVal != 6 || s.Display != 6 {
		t.Errorf("CurVal/Display = %v/%v, want 6", s.CurVal, s.Display)
	}
}

func TestApplyFocus_Rounding(t *testing.T) {
	s := DefaultState()
	s.ApplyFocus("12.3456")
	if s.Display != 12.35 {
		t.Errorf("Display = %v, want 12.35", s.Display)
	}
	if s.CurVal != 12.3456 {
		t.Errorf("CurVal = %v, want unrounded value", s.CurVal)
	}
}

func TestApplyFocus_NotANumber(t *testing.T) {
	s := DefaultState()
	before := s
	if err := s.ApplyFocus("error"); err == nil {
		t.Fatal("expected parse error")
	}
	if s != before {
		t.Errorf("state changed on bad answer: %+v", s)
	}
}

func TestApplyFocus_NonFinite(t *testing.T) {
	for _, body := range []string{"nan", "-nan", "inf", "-inf"} {
		s := DefaultState()
		before := s
		if err := s.ApplyFocus(body); err == nil {
			t.Errorf("ApplyFocus(%q) should fail", body)
		}
		if s != before {
			t.Errorf("ApplyFocus(%q) changed the state: %+v", body, s)
		}
		if _, err := json.Marshal(s); err != nil {
			t.Errorf("state no longer encodes after %q: %v", body, err)
		}
	}
}

func TestApplyStatus(t *testing.T) {
	s := DefaultState()

	s.ApplyStatus("moving")
	if s.Overlay.Shown {
		t.Error("moving must clear the overlay")
	}
	want := Controls{Set: false, JogPlus: false, JogMinus: false, Stop: true}
	if s.Controls != want {
		t.Errorf("moving controls = %+v, want %+v", s.Controls, want)
	}

	s.ApplyStatus("OK")
	want = Controls{Set: true, JogPlus: true, JogMinus: true, Stop: false}
	if s.Controls != want {
		t.Errorf("OK controls = %+v, want %+v", s.Controls, want)
	}

	s.ApplyStatus("End-switch active")
	if !s.Overlay.Shown || s.Overlay.Text != "End-switch active" {
		t.Errorf("fault overlay = %+v", s.Overlay)
	}
	if s.Controls != want {
		t.Errorf("fault changed controls to %+v", s.Controls)
	}
	if s.Status != "End-switch active" {
		t.Errorf("Status = %q", s.Status)
	}

	s.ApplyStatus("OK")
	if s.Overlay.Shown {
		t.Error("OK must clear the fault overlay")
	}
}

func TestApplyLimits(t *testing.T) {
	s := DefaultState()
	s.ApplyLimits(device.ParseLimits("focmin=2.75\nfocmax=76\nminspeed=350\nmaxspeed=1200"))
	if s.Bounds != (motion.Bounds{Min: 2.75, Max: 76}) {
		t.Errorf("Bounds = %+v", s.Bounds)
	}
	if s.Speeds != [motion.NumTiers]int{350, 633, 917, 1200} {
		t.Errorf("Speeds = %v", s.Speeds)
	}
}

func TestApplyLimits_Partial(t *testing.T) {
	s := DefaultState()
	s.ApplyLimits(device.ParseLimits("focmax=70\nminspeed=100"))
	if s.Bounds != (motion.Bounds{Min: 0.01, Max: 70}) {
		t.Errorf("Bounds = %+v", s.Bounds)
	}
	if s.Speeds != DefaultSpeeds {
		t.Errorf("Speeds changed with one speed bound only: %v", s.Speeds)
	}
}

func TestSetTier(t *testing.T) {
	s := DefaultState()
	for in, want := range map[int]int{0: 1, 2: 2, 4: 4, 9: 4, -1: 1} {
		if got := s.SetTier(in); got != want || s.Tier != want {
			t.Errorf("SetTier(%d) = %d (Tier %d), want %d", in, got, s.Tier, want)
		}
	}
	s.SetTier(3)
	if s.Speed() != 800 {
		t.Errorf("Speed = %d, want 800", s.Speed())
	}
}

func TestSetAndResetInput(t *testing.T) {
	s := DefaultState()
	if got := s.SetInput(100); got != 76.5 {
		t.Errorf("SetInput(100) = %v, want 76.5", got)
	}
	if got := s.SetInput(-5); got != 0.01 {
		t.Errorf("SetInput(-5) = %v, want 0.01", got)
	}
	s.ApplyFocus("42")
	s.SetInput(10)
	s.ResetInput()
	if s.Input != 42 {
		t.Errorf("ResetInput: Input = %v, want 42", s.Input)
	}
}
