package gpio

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"github.com/cjeanneret/zphocus/internal/debug"
)

// PiDriver drives the Raspberry Pi header through /dev/gpiomem.
// Reads are traced only when a pin changes level, so a paddle sampled
// every few milliseconds stays quiet while idle.
type PiDriver struct {
	mu     sync.Mutex
	pins   map[int]rpio.Pin
	modes  map[int]PinMode
	labels map[int]string
	last   map[int]Level
}

// NewPiDriver maps the GPIO registers. It fails off a Pi or without
// access to /dev/gpiomem.
func NewPiDriver() (*PiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	debug.Info("GPIO: go-rpio driver ready")
	return &PiDriver{
		pins:   make(map[int]rpio.Pin),
		modes:  make(map[int]PinMode),
		labels: make(map[int]string),
		last:   make(map[int]Level),
	}, nil
}

// Label names pin in traces, e.g. "jog+".
func (d *PiDriver) Label(pin int, name string) {
	d.mu.Lock()
	d.labels[pin] = name
	d.mu.Unlock()
}

func (d *PiDriver) SetupPin(pin int, mode PinMode) error {
	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
		p.PullOff()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("pin %d: unknown mode %d", pin, mode)
	}

	d.mu.Lock()
	d.pins[pin] = p
	d.modes[pin] = mode
	delete(d.last, pin)
	name := d.name(pin)
	d.mu.Unlock()
	debug.GPIO("setup "+name, pin, mode)
	return nil
}

// WritePin drives an output. The pin must have been set up as Output.
func (d *PiDriver) WritePin(pin int, level Level) error {
	d.mu.Lock()
	p, ok := d.pins[pin]
	mode := d.modes[pin]
	d.mu.Unlock()
	if !ok || mode != Output {
		return fmt.Errorf("pin %d is not an output", pin)
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	debug.GPIO("write", pin, level)
	return nil
}

// ReadPin samples an input set up with SetupPin.
func (d *PiDriver) ReadPin(pin int) (Level, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pins[pin]
	if !ok {
		return Low, fmt.Errorf("pin %d is not set up", pin)
	}
	level := Low
	if p.Read() == rpio.High {
		level = High
	}
	if prev, seen := d.last[pin]; !seen || prev != level {
		d.last[pin] = level
		debug.GPIO("read "+d.name(pin), pin, level)
	}
	return level, nil
}

func (d *PiDriver) name(pin int) string {
	if n, ok := d.labels[pin]; ok {
		return n
	}
	return fmt.Sprintf("gpio%d", pin)
}

// Close leaves every used pin a floating input and unmaps the registers.
func (d *PiDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for pin, p := range d.pins {
		p.Input()
		p.PullOff()
		delete(d.pins, pin)
	}
	debug.Trace("GPIO: pins released")
	return rpio.Close()
}
