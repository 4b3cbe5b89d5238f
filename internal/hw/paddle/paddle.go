// Package paddle reads a push-button hand controller wired to GPIO inputs.
//
// Buttons short the pin to ground, so a pressed button reads Low. Holding a
// jog button moves the focuser, releasing it stops the motor.
package paddle

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/zphocus/internal/debug"
	"github.com/cjeanneret/zphocus/internal/hw/gpio"
)

// Pins maps buttons to BCM pin numbers. Zero means not wired.
type Pins struct {
	JogPlus  int
	JogMinus int
	Stop     int
}

// Target receives the button intents.
type Target interface {
	Jog(dir int)
	Stop()
}

type button struct {
	name    string
	pin     int
	jog     bool
	pressed bool
	press   func()
}

// Paddle polls the button pins and forwards edges to a Target.
type Paddle struct {
	drv     gpio.Driver
	period  time.Duration
	target  Target
	buttons []*button
}

// New creates a paddle sampling the pins every period.
func New(drv gpio.Driver, pins Pins, period time.Duration, target Target) *Paddle {
	p := &Paddle{drv: drv, period: period, target: target}
	p.add("jog+", pins.JogPlus, true, func() { target.Jog(+1) })
	p.add("jog-", pins.JogMinus, true, func() { target.Jog(-1) })
	p.add("stop", pins.Stop, false, target.Stop)
	return p
}

func (p *Paddle) add(name string, pin int, jog bool, press func()) {
	if pin <= 0 {
		return
	}
	p.buttons = append(p.buttons, &button{name: name, pin: pin, jog: jog, press: press})
}

// Setup configures every wired pin as a pulled-up input.
func (p *Paddle) Setup() error {
	labeler, _ := p.drv.(gpio.Labeler)
	for _, b := range p.buttons {
		if labeler != nil {
			labeler.Label(b.pin, b.name)
		}
		if err := p.drv.SetupPin(b.pin, gpio.InputPullUp); err != nil {
			return fmt.Errorf("paddle %s on pin %d: %w", b.name, b.pin, err)
		}
	}
	return nil
}

// Poll samples all buttons once and acts on those that changed since the
// previous sample. Releasing a jog button stops the motor unless the other
// jog button is still held, in which case its move is resumed.
func (p *Paddle) Poll() error {
	var pressed []*button
	jogReleased := false
	for _, b := range p.buttons {
		level, err := p.drv.ReadPin(b.pin)
		if err != nil {
			return fmt.Errorf("paddle %s: %w", b.name, err)
		}
		down := level == gpio.Low
		if down == b.pressed {
			continue
		}
		b.pressed = down
		if down {
			pressed = append(pressed, b)
			continue
		}
		debug.Live("paddle: %s released", b.name)
		if b.jog {
			jogReleased = true
		}
	}

	if jogReleased && len(pressed) == 0 {
		if held := p.heldJog(); held != nil {
			debug.Live("paddle: %s still held", held.name)
			held.press()
		} else {
			p.target.Stop()
		}
	}
	for _, b := range pressed {
		debug.Live("paddle: %s pressed", b.name)
		b.press()
	}
	return nil
}

func (p *Paddle) heldJog() *button {
	for _, b := range p.buttons {
		if b.jog && b.pressed {
			return b
		}
	}
	return nil
}

// Run sets the pins up and polls them until ctx is cancelled.
func (p *Paddle) Run(ctx context.Context) error {
	if len(p.buttons) == 0 {
		return nil
	}
	if err := p.Setup(); err != nil {
		return err
	}
	debug.Info("paddle ready, %d buttons sampled every %v", len(p.buttons), p.period)

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Poll(); err != nil {
				return err
			}
		}
	}
}
