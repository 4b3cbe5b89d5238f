package gpio

import (
	"sync"

	"github.com/cjeanneret/zphocus/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	// InputPullUp is an input with the internal pull-up enabled, for
	// switches wired to ground.
	InputPullUp
)

func (m PinMode) String() string {
	switch m {
	case Input:
		return "input"
	case Output:
		return "output"
	case InputPullUp:
		return "input+pullup"
	}
	return "unknown"
}

// Driver defines the abstract interface for controlling GPIOs.
// This allows plugging in a real Raspberry Pi implementation
// or a mock for development on PC.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// Labeler is implemented by drivers that name pins in their traces.
type Labeler interface {
	Label(pin int, name string)
}

// MockDriver keeps pin levels in memory. Inputs set up with a pull-up
// read High unless a level was already forced with SetLevel.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
	labels map[int]string
}

// NewDriver returns a MockDriver when mock is set, the go-rpio driver
// otherwise.
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("GPIO: mock driver, no hardware")
		return &MockDriver{}, nil
	}
	return NewPiDriver()
}

// Label names pin.
func (m *MockDriver) Label(pin int, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.labels == nil {
		m.labels = make(map[int]string)
	}
	m.labels[pin] = name
}

// LabelOf returns the name given to pin, or "".
func (m *MockDriver) LabelOf(pin int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labels[pin]
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	if mode == InputPullUp {
		m.mu.Lock()
		if m.levels == nil {
			m.levels = make(map[int]Level)
		}
		if _, ok := m.levels[pin]; !ok {
			m.levels[pin] = High
		}
		m.mu.Unlock()
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.SetLevel(pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin], nil
}

// SetLevel forces the level read back from pin.
func (m *MockDriver) SetLevel(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
