package panel

import (
	"math"

	"github.com/cjeanneret/zphocus/internal/device"
	"github.com/cjeanneret/zphocus/internal/logic/motion"
)

// Built-in values, used until the device reports its limits.
var (
	DefaultBounds = motion.Bounds{Min: 0.01, Max: 76.5}
	DefaultSpeeds = [motion.NumTiers]int{130, 400, 800, 1200}
)

const (
	DefaultPosition = 3.0
	DefaultTier     = 1

	// initText is shown until the first healthy status.
	initText = "init"
)

// Overlay is the blocking message covering the panel.
type Overlay struct {
	Shown bool   `json:"shown"`
	Text  string `json:"text"`
}

// Controls holds the enabled state of the panel buttons.
type Controls struct {
	Set      bool `json:"set"`
	JogPlus  bool `json:"jog_plus"`
	JogMinus bool `json:"jog_minus"`
	Stop     bool `json:"stop"`
}

// State is everything the panel shows. It is owned by the Panel loop;
// other goroutines only ever see copies.
type State struct {
	Bounds motion.Bounds `json:"bounds"`

	// CurVal is the last position reported by the device and Display the
	// same value rounded for showing.
	CurVal  float64 `json:"cur_val"`
	Display float64 `json:"display"`

	// Input is the goto target being edited. Seeded is set once the first
	// position answer has been copied into it.
	Input  float64 `json:"input"`
	Seeded bool    `json:"seeded"`

	Tier   int                  `json:"tier"`
	Speeds [motion.NumTiers]int `json:"speeds"`

	Status   string   `json:"status"`
	Overlay  Overlay  `json:"overlay"`
	Controls Controls `json:"controls"`
}

// NewState returns the start-up state. The init overlay is raised and all
// controls are enabled.
func NewState(bounds motion.Bounds, position float64, speeds [motion.NumTiers]int, tier int) State {
	return State{
		Bounds:   bounds,
		CurVal:   position,
		Display:  round2(position),
		Input:    position,
		Tier:     motion.ClampTier(tier),
		Speeds:   speeds,
		Overlay:  Overlay{Shown: true, Text: initText},
		Controls: Controls{Set: true, JogPlus: true, JogMinus: true, Stop: true},
	}
}

// DefaultState is NewState with the built-in values.
func DefaultState() State {
	return NewState(DefaultBounds, DefaultPosition, DefaultSpeeds, DefaultTier)
}

// ApplyFocus handles a position answer. An answer that is not a number
// leaves the state untouched and is returned as an error.
func (s *State) ApplyFocus(body string) error {
	v, err := device.ParsePosition(body)
	if err != nil {
		return err
	}
	s.CurVal = v
	s.Display = round2(v)
	if !s.Seeded {
		s.Input = v
		s.Seeded = true
	}
	return nil
}

// ApplyStatus handles a status answer. "OK" and "moving" clear the overlay
// and switch the controls; any other text is a fault shown in the overlay,
// with the controls left as they were.
func (s *State) ApplyStatus(body string) {
	s.Status = body
	switch body {
	case device.AnsOK:
		s.clearOverlay()
		s.Controls = Controls{Set: true, JogPlus: true, JogMinus: true, Stop: false}
	case device.AnsMoving:
		s.clearOverlay()
		s.Controls = Controls{Set: false, JogPlus: false, JogMinus: false, Stop: true}
	default:
		s.RaiseOverlay(body)
	}
}

// ApplyLimits overrides the bounds and speeds the device reported.
// Absent fields keep their current value. Speeds are only recomputed when
// both ends are known.
func (s *State) ApplyLimits(l device.Limits) {
	if l.FocMin != nil {
		s.Bounds.Min = *l.FocMin
	}
	if l.FocMax != nil {
		s.Bounds.Max = *l.FocMax
	}
	if l.HasSpeeds() {
		s.Speeds = motion.Tiers(*l.MinSpeed, *l.MaxSpeed)
	}
}

// RaiseOverlay blocks the panel with text.
func (s *State) RaiseOverlay(text string) {
	s.Overlay = Overlay{Shown: true, Text: text}
}

func (s *State) clearOverlay() {
	s.Overlay = Overlay{}
}

// SetTier stores the clamped tier and returns it.
func (s *State) SetTier(t int) int {
	s.Tier = motion.ClampTier(t)
	return s.Tier
}

// SetInput stores v clamped to the bounds and returns it.
func (s *State) SetInput(v float64) float64 {
	s.Input = motion.ClampPosition(v, s.Bounds)
	return s.Input
}

// ResetInput copies the current position into the input.
func (s *State) ResetInput() {
	s.Input = s.CurVal
}

// Speed returns the raw jog speed of the selected tier.
func (s *State) Speed() int {
	return s.Speeds[motion.ClampTier(s.Tier)-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
