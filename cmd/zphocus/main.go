package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/fatih/color"
	"github.com/theckman/yacspin"

	"github.com/cjeanneret/zphocus/internal/config"
	"github.com/cjeanneret/zphocus/internal/debug"
	"github.com/cjeanneret/zphocus/internal/device"
	"github.com/cjeanneret/zphocus/internal/hw/gpio"
	"github.com/cjeanneret/zphocus/internal/hw/paddle"
	"github.com/cjeanneret/zphocus/internal/logic/motion"
	"github.com/cjeanneret/zphocus/internal/panel"
	"github.com/cjeanneret/zphocus/internal/web"
)

// maxWait bounds -wait, the focuser's own moving timeout.
const maxWait = 300 * time.Second

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start the panel web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	url := flag.String("url", "", "focuser endpoint, overrides device.url")
	var req request
	flag.Var(&req.gotoPos, "goto", "move to absolute focus position (mm)")
	flag.Var(&req.targSpeed, "targspeed", "move with constant raw speed, signed")
	flag.BoolVar(&req.stop, "stop", false, "stop the motor")
	flag.BoolVar(&req.status, "status", false, "print the focuser status")
	flag.BoolVar(&req.limits, "limits", false, "print the focuser limits")
	flag.BoolVar(&req.wait, "wait", false, "with -goto, wait until the motor stops")
	mkconf := flag.Bool("mkconf", false, "print the effective configuration as YAML and exit")
	simulate := flag.Bool("simulate", false, "serve a simulated focuser and talk to it")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *url != "" {
		cfg.Device.URL = *url
	}
	if *mkconf {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			log.Fatalf("dump config failed: %v", err)
		}
		return
	}
	if err := req.validate(); err != nil {
		log.Fatalf("invalid arguments: %v", err)
	}

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *simulate {
		addr, err := startSimulator(cfg.Focus.Initial)
		if err != nil {
			log.Fatalf("simulator: %v", err)
		}
		cfg.Device.URL = addr
	}
	debug.Value("Device", cfg.Device.URL)
	client := device.NewClient(cfg.Device.URL, cfg.RequestTimeout())

	if port := webPort.port(); port > 0 {
		if err := runPanel(ctx, cfg, client, port); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	c := &cli{
		dev:     client,
		out:     os.Stdout,
		bounds:  motion.Bounds{Min: cfg.Focus.Min, Max: cfg.Focus.Max},
		backoff: newWaitBackOff,
	}
	if req.wait {
		if sp, err := newSpinner(os.Stderr); err == nil {
			c.spin = sp
		} else {
			debug.Error(err)
		}
	}
	if err := c.run(ctx, req); err != nil {
		log.Fatalf("%v", err)
	}
}

// runPanel serves the web panel, with the hand paddle when enabled, until
// ctx is cancelled.
func runPanel(ctx context.Context, cfg *config.Config, dev motion.Sender, port int) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	state := panel.NewState(
		motion.Bounds{Min: cfg.Focus.Min, Max: cfg.Focus.Max},
		cfg.Focus.Initial,
		cfg.SpeedTiers(),
		cfg.Speed.DefaultTier,
	)
	p := panel.New(dev, state, cfg.PollInterval())

	srv, err := web.NewServer(web.Options{
		Addr:         fmt.Sprintf(":%d", port),
		CommandRate:  cfg.Web.CommandRate,
		CommandBurst: cfg.Web.CommandBurst,
	}, p, broadcaster)
	if err != nil {
		return err
	}
	p.OnChange(srv.Hub().PublishState)
	p.OnAlert(srv.Hub().PublishAlert)
	go p.Run(ctx)

	if cfg.Paddle.Enabled {
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		drv, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return fmt.Errorf("init GPIO failed: %w", err)
		}
		defer func() {
			if err := drv.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		pad := paddle.New(drv, paddle.Pins{
			JogPlus:  cfg.Paddle.JogPlusPin,
			JogMinus: cfg.Paddle.JogMinusPin,
			Stop:     cfg.Paddle.StopPin,
		}, cfg.PaddlePoll(), p)
		go func() {
			if err := pad.Run(ctx); err != nil {
				debug.Error(err)
			}
		}()
	}

	return srv.Run(ctx)
}

// startSimulator serves a simulated focuser on a free local port and
// returns its address.
func startSimulator(position float64) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	sim := device.NewSimulator(device.DefaultSimLimits, position)
	go http.Serve(ln, sim)
	addr := "http://" + ln.Addr().String() + "/"
	debug.Info("simulated focuser on %s", addr)
	return addr, nil
}

// request is what the one-shot client was asked to do.
type request struct {
	gotoPos   floatFlag
	targSpeed intFlag
	stop      bool
	status    bool
	limits    bool
	wait      bool
}

func (r *request) validate() error {
	if r.gotoPos.set && r.targSpeed.set {
		return errors.New("-goto and -targspeed are mutually exclusive")
	}
	if r.gotoPos.set && (math.IsNaN(r.gotoPos.val) || math.IsInf(r.gotoPos.val, 0)) {
		return fmt.Errorf("-goto needs a finite position, got %g", r.gotoPos.val)
	}
	if r.wait && !r.gotoPos.set {
		return errors.New("-wait needs -goto")
	}
	return nil
}

// spinner is the part of yacspin used while waiting.
type spinner interface {
	Start() error
	Message(string)
	Stop() error
	StopFail() error
}

// cli runs one-shot commands against the focuser.
type cli struct {
	dev     motion.Sender
	out     io.Writer
	bounds  motion.Bounds
	backoff func() backoff.BackOff
	spin    spinner
}

// run executes r: stop first, then a move, then the queries. With nothing
// else to do it prints the position.
func (c *cli) run(ctx context.Context, r request) error {
	ctrl := motion.NewController(c.dev, c.bounds)

	if r.stop {
		if err := ctrl.Stop(ctx); err != nil {
			return fmt.Errorf("stop: %w", err)
		}
	}
	switch {
	case r.gotoPos.set:
		b, err := c.deviceBounds(ctx)
		if err != nil {
			return err
		}
		ctrl.SetBounds(b)
		if err := ctrl.Goto(ctx, r.gotoPos.val); err != nil {
			return fmt.Errorf("goto: %w", err)
		}
		if r.wait {
			if err := c.waitStopped(ctx); err != nil {
				return err
			}
		}
	case r.targSpeed.set:
		if err := ctrl.Move(ctx, r.targSpeed.val); err != nil {
			return fmt.Errorf("targspeed: %w", err)
		}
	}

	if r.status {
		answer, err := c.dev.Do(ctx, device.CmdStatus)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		fmt.Fprintln(c.out, colorStatus(answer))
	}
	if r.limits {
		answer, err := c.dev.Do(ctx, device.CmdLimits)
		if err != nil {
			return fmt.Errorf("limits: %w", err)
		}
		fmt.Fprint(c.out, device.ParseLimits(answer))
	}
	if r.status || r.limits {
		return nil
	}
	if r.stop || r.targSpeed.set || (r.gotoPos.set && !r.wait) {
		return nil
	}
	return c.printPosition(ctx)
}

func (c *cli) printPosition(ctx context.Context) error {
	answer, err := c.dev.Do(ctx, device.CmdFocus)
	if err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	pos, err := device.ParsePosition(answer)
	if err != nil {
		return fmt.Errorf("focus: unexpected answer %q", answer)
	}
	fmt.Fprintf(c.out, "%.03f\n", pos)
	return nil
}

// deviceBounds asks the focuser for its range, keeping the configured
// bounds for any end it does not report.
func (c *cli) deviceBounds(ctx context.Context) (motion.Bounds, error) {
	b := c.bounds
	answer, err := c.dev.Do(ctx, device.CmdLimits)
	if err != nil {
		return b, fmt.Errorf("limits: %w", err)
	}
	l := device.ParseLimits(answer)
	if l.FocMin != nil {
		b.Min = *l.FocMin
	}
	if l.FocMax != nil {
		b.Max = *l.FocMax
	}
	debug.PrintStruct("Bounds", b)
	return b, nil
}

var errMoving = errors.New("still moving")

// waitStopped polls status with a growing delay until the motor is idle.
// A fault reported by the focuser ends the wait at once.
func (c *cli) waitStopped(ctx context.Context) error {
	if c.spin != nil {
		c.spin.Start()
	}
	op := func() error {
		answer, err := c.dev.Do(ctx, device.CmdStatus)
		if err != nil {
			return err
		}
		if c.spin != nil {
			c.spin.Message(answer)
		}
		switch answer {
		case device.AnsOK:
			return nil
		case device.AnsMoving:
			return errMoving
		}
		return backoff.Permanent(&motion.Rejection{Command: device.CmdStatus, Answer: answer})
	}
	err := backoff.Retry(op, backoff.WithContext(c.backoff(), ctx))
	if c.spin != nil {
		if err != nil {
			c.spin.StopFail()
		} else {
			c.spin.Stop()
		}
	}
	if err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return nil
}

func newWaitBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          1.5,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      maxWait,
		Clock:               backoff.SystemClock,
	}
}

func newSpinner(w io.Writer) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Writer:            w,
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " focuser",
		SuffixAutoColon:   true,
		Message:           device.AnsMoving,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
}

// colorStatus paints a status answer: green when idle, yellow while
// moving, red for anything else.
func colorStatus(answer string) string {
	switch answer {
	case device.AnsOK:
		return color.GreenString(answer)
	case device.AnsMoving:
		return color.YellowString(answer)
	}
	return color.RedString(answer)
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// floatFlag remembers whether it was given.
type floatFlag struct {
	val float64
	set bool
}

func (f *floatFlag) String() string {
	if !f.set {
		return ""
	}
	return strconv.FormatFloat(f.val, 'f', -1, 64)
}

func (f *floatFlag) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.val, f.set = v, true
	return nil
}

// intFlag remembers whether it was given.
type intFlag struct {
	val int
	set bool
}

func (f *intFlag) String() string {
	if !f.set {
		return ""
	}
	return strconv.Itoa(f.val)
}

func (f *intFlag) Set(s string) error {
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	f.val, f.set = v, true
	return nil
}
