package motion

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/cjeanneret/zphocus/internal/debug"
	"github.com/cjeanneret/zphocus/internal/device"
)

// Number of selectable jog speeds.
const (
	MinTier  = 1
	MaxTier  = 4
	NumTiers = MaxTier - MinTier + 1
)

// ErrOutOfRange is returned for a goto target outside the focus bounds.
var ErrOutOfRange = errors.New("Wrong focus value")

// Bounds is the allowed focus range, inclusive.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within b. NaN is never contained.
func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Rejection is a command answer other than "OK". The text is the device's
// answer, verbatim.
type Rejection struct {
	Command string
	Answer  string
}

func (r *Rejection) Error() string {
	return r.Answer
}

// GotoCommand validates pos against b and builds the absolute move command.
func GotoCommand(pos float64, b Bounds) (string, error) {
	if !b.Contains(pos) {
		return "", fmt.Errorf("%w: %g not in [%g, %g]", ErrOutOfRange, pos, b.Min, b.Max)
	}
	return device.Goto(pos), nil
}

// JogCommand builds the constant speed command for the selected tier.
// A negative dir moves toward the minimum, a positive one toward the
// maximum. Zero stops the motor.
func JogCommand(dir, tier int, tiers [NumTiers]int) string {
	if dir == 0 {
		return StopCommand()
	}
	speed := tiers[ClampTier(tier)-1]
	if dir < 0 {
		speed = -speed
	}
	return device.TargSpeed(speed)
}

// StopCommand halts the motor.
func StopCommand() string {
	return device.CmdStop
}

// ClampTier limits t to the selectable tiers.
func ClampTier(t int) int {
	switch {
	case t < MinTier:
		return MinTier
	case t > MaxTier:
		return MaxTier
	}
	return t
}

// ClampPosition limits v to b. NaN is mapped to the minimum.
func ClampPosition(v float64, b Bounds) float64 {
	switch {
	case math.IsNaN(v), v < b.Min:
		return b.Min
	case v > b.Max:
		return b.Max
	}
	return v
}

// Tiers interpolates the jog speeds linearly between min and max.
func Tiers(min, max int) [NumTiers]int {
	var t [NumTiers]int
	step := float64(max-min) / float64(NumTiers-1)
	for i := range t {
		t[i] = int(math.Round(float64(min) + float64(i)*step))
	}
	return t
}

// CheckAnswer returns nil iff answer is exactly "OK".
func CheckAnswer(cmd, answer string) error {
	if answer == device.AnsOK {
		return nil
	}
	return &Rejection{Command: cmd, Answer: answer}
}

// Sender performs one device request.
type Sender interface {
	Do(ctx context.Context, cmd string) (string, error)
}

// Controller sends validated motion commands synchronously. It is the
// blocking counterpart of the panel's dispatcher, for one-shot callers.
type Controller struct {
	dev    Sender
	bounds Bounds
}

func NewController(dev Sender, bounds Bounds) *Controller {
	return &Controller{dev: dev, bounds: bounds}
}

// SetBounds replaces the focus range used by Goto.
func (c *Controller) SetBounds(b Bounds) {
	c.bounds = b
}

func (c *Controller) Bounds() Bounds {
	return c.bounds
}

// Goto moves to an absolute position. Out of range targets are rejected
// without contacting the device.
func (c *Controller) Goto(ctx context.Context, pos float64) error {
	cmd, err := GotoCommand(pos, c.bounds)
	if err != nil {
		return err
	}
	return c.exec(ctx, cmd)
}

// Move starts a constant speed move with a raw, signed speed.
func (c *Controller) Move(ctx context.Context, speed int) error {
	return c.exec(ctx, device.TargSpeed(speed))
}

func (c *Controller) Stop(ctx context.Context) error {
	return c.exec(ctx, StopCommand())
}

func (c *Controller) exec(ctx context.Context, cmd string) error {
	debug.Command(cmd)
	answer, err := c.dev.Do(ctx, cmd)
	if err != nil {
		return err
	}
	debug.Answer(cmd, answer)
	return CheckAnswer(cmd, answer)
}
