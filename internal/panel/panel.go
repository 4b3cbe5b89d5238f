// Package panel keeps the focuser control panel state up to date.
//
// A single goroutine, started by Run, owns the State. Device answers, timer
// firings and user intents are all posted to it as events and handled one at
// a time, so handlers never need locks. Requests themselves run in their own
// goroutines and are never joined: a slow answer from an earlier poll may
// still land after a newer one.
package panel

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/zphocus/internal/debug"
	"github.com/cjeanneret/zphocus/internal/device"
	"github.com/cjeanneret/zphocus/internal/logic/motion"
)

// DefaultInterval is the poll period.
const DefaultInterval = 1000 * time.Millisecond

const eventQueue = 64

// Panel runs the status poller and dispatches user intents to the device.
type Panel struct {
	dev      motion.Sender
	interval time.Duration
	events   chan func()
	done     chan struct{}

	// owned by the loop goroutine
	ctx   context.Context
	state State
	timer *time.Timer
	ticks uint64

	mu       sync.RWMutex
	snap     State
	onChange []func(State)
	onAlert  []func(string)
}

// New creates a panel talking to dev, starting from initial.
// A zero interval selects DefaultInterval.
func New(dev motion.Sender, initial State, interval time.Duration) *Panel {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Panel{
		dev:      dev,
		interval: interval,
		events:   make(chan func(), eventQueue),
		done:     make(chan struct{}),
		state:    initial,
		snap:     initial,
	}
}

// OnChange registers fn to receive a copy of the state after every event.
// Callbacks run on the loop goroutine and must not block.
func (p *Panel) OnChange(fn func(State)) {
	p.mu.Lock()
	p.onChange = append(p.onChange, fn)
	p.mu.Unlock()
}

// OnAlert registers fn to receive alert messages: command rejections and
// invalid goto targets.
func (p *Panel) OnAlert(fn func(string)) {
	p.mu.Lock()
	p.onAlert = append(p.onAlert, fn)
	p.mu.Unlock()
}

// Snapshot returns a copy of the current state. Safe from any goroutine.
func (p *Panel) Snapshot() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Run fetches the device limits, then polls until ctx is cancelled.
func (p *Panel) Run(ctx context.Context) error {
	p.ctx = ctx
	defer close(p.done)

	debug.Section("Panel")
	debug.Value("Interval", p.interval)
	p.bootstrap()

	for {
		select {
		case fn := <-p.events:
			fn()
			p.publish()
		case <-ctx.Done():
			if p.timer != nil {
				p.timer.Stop()
			}
			debug.Info("panel stopped after %d ticks", p.ticks)
			return nil
		}
	}
}

// post queues fn for the loop. It is dropped once the loop has stopped.
func (p *Panel) post(fn func()) {
	select {
	case p.events <- fn:
	case <-p.done:
	}
}

func (p *Panel) publish() {
	p.mu.Lock()
	p.snap = p.state
	observers := p.onChange
	p.mu.Unlock()
	for _, fn := range observers {
		fn(p.state)
	}
}

func (p *Panel) alert(text string) {
	debug.Info("alert: %s", text)
	p.mu.RLock()
	observers := p.onAlert
	p.mu.RUnlock()
	for _, fn := range observers {
		fn(text)
	}
}

// request sends cmd in the background. A transport failure raises the
// overlay; otherwise onOK runs on the loop with the answer.
func (p *Panel) request(cmd string, onOK func(body string)) {
	ctx := p.ctx
	go func() {
		body, err := p.dev.Do(ctx, cmd)
		p.post(func() {
			if err != nil {
				debug.Error(err)
				p.state.RaiseOverlay(device.Message(err))
				return
			}
			debug.Answer(cmd, body)
			onOK(body)
		})
	}()
}

func (p *Panel) bootstrap() {
	debug.Command(device.CmdLimits)
	ctx := p.ctx
	go func() {
		body, err := p.dev.Do(ctx, device.CmdLimits)
		p.post(func() {
			if err != nil {
				debug.Error(err)
				p.state.RaiseOverlay(device.Message(err))
			} else {
				debug.Answer(device.CmdLimits, body)
				p.state.ApplyLimits(device.ParseLimits(body))
				debug.PrintStruct("Limits", p.state.Bounds)
				debug.Value("Speeds", p.state.Speeds)
			}
			p.tick()
		})
	}()
}

// tick polls position and status and re-arms itself. The next tick is
// scheduled whether or not the answers arrived; only one timer is armed.
func (p *Panel) tick() {
	if p.timer != nil {
		p.timer.Stop()
	}
	p.ticks++
	debug.Tick(p.ticks)

	p.request(device.CmdFocus, func(body string) {
		if err := p.state.ApplyFocus(body); err != nil {
			debug.Info("ignoring position answer %q: %v", body, err)
		}
	})
	p.request(device.CmdStatus, p.state.ApplyStatus)

	p.timer = time.AfterFunc(p.interval, func() { p.post(p.tick) })
}

// command sends a motion command and alerts on any answer but "OK".
func (p *Panel) command(cmd string) {
	debug.Command(cmd)
	p.request(cmd, func(body string) {
		if err := motion.CheckAnswer(cmd, body); err != nil {
			p.alert(err.Error())
		}
	})
}

// SetFocus moves to the position held in the input. Out of range targets
// raise an alert and send nothing.
func (p *Panel) SetFocus() {
	p.post(p.setFocus)
}

// Goto moves to pos and keeps it as the input. An out of range target
// raises an alert and leaves the input as it was.
func (p *Panel) Goto(pos float64) {
	p.post(func() {
		if p.gotoTarget(pos) {
			p.state.Input = pos
		}
	})
}

func (p *Panel) setFocus() {
	p.gotoTarget(p.state.Input)
}

// gotoTarget sends the move to pos and reports whether it was in range.
func (p *Panel) gotoTarget(pos float64) bool {
	cmd, err := motion.GotoCommand(pos, p.state.Bounds)
	if err != nil {
		debug.Info("refusing goto: %v", err)
		p.alert(motion.ErrOutOfRange.Error())
		return false
	}
	p.command(cmd)
	return true
}

// Jog starts a constant speed move at the selected tier. dir > 0 moves up.
func (p *Panel) Jog(dir int) {
	p.post(func() {
		p.command(motion.JogCommand(dir, p.state.Tier, p.state.Speeds))
	})
}

// Stop halts the motor.
func (p *Panel) Stop() {
	p.post(func() {
		p.command(motion.StopCommand())
	})
}

// ChangeSpeed selects a jog speed tier, clamped to the valid range.
func (p *Panel) ChangeSpeed(tier int) {
	p.post(func() {
		debug.Live("speed tier %d", p.state.SetTier(tier))
	})
}

// ChangeInput edits the goto target, clamped to the bounds.
func (p *Panel) ChangeInput(v float64) {
	p.post(func() {
		debug.Live("input %g", p.state.SetInput(v))
	})
}

// ResetInput copies the current position into the goto target.
func (p *Panel) ResetInput() {
	p.post(p.state.ResetInput)
}
