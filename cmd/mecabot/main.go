package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/mecabot/mecabot/internal/config"
	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/hw/encoder"
	"github.com/mecabot/mecabot/internal/hw/gpio"
	"github.com/mecabot/mecabot/internal/hw/sim"
	"github.com/mecabot/mecabot/internal/logic/motion"
)

type Options struct {
	Config string `short:"c" long:"config" description:"Path to config file" default:"configs/default.yaml"`
	Mock   bool   `long:"mock" description:"Use the mock GPIO driver and simulated encoders"`
	Debug  int    `short:"d" long:"debug" description:"Debug level 0-4 (overrides config)" default:"-1"`

	Drive DriveCommand `command:"drive" description:"Run a single move"`
	Route RouteCommand `command:"route" description:"Run a YAML route or the wiring check"`
	Ticks TicksCommand `command:"ticks" description:"Print the encoder counters"`
	Serve ServeCommand `command:"serve" description:"Start the web control page and MQTT bridge"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "mecabot - motion control for a four-wheel mecanum base"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// loadConfig reads the config file and applies the global flags on top.
func loadConfig(o *Options) (*config.Config, error) {
	if err := config.ValidateConfigPath(o.Config); err != nil {
		return nil, err
	}
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyGlobals(cfg, o)
	return cfg, nil
}

// applyGlobals mutates cfg with the global flags. Debug < 0 keeps the config value.
func applyGlobals(cfg *config.Config, o *Options) {
	if o.Mock {
		cfg.Defaults.MockGPIO = true
	}
	if o.Debug >= 0 {
		cfg.Defaults.DebugLevel = min(o.Debug, debug.LevelTrace)
	}
}

// robot bundles the hardware of one process run.
type robot struct {
	cfg *config.Config
	drv gpio.Driver
	enc *encoder.Encoder
	eng *motion.Engine
	sim *sim.Simulator // mock mode only
}

// openRobot brings up GPIO, encoders and motors in that order.
// On failure everything already claimed is released.
func openRobot(cfg *config.Config) (r *robot, err error) {
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)

	r = &robot{cfg: cfg}
	defer func() {
		if err != nil {
			if cerr := r.Close(); cerr != nil {
				log.Printf("cleanup after failed init: %v", cerr)
			}
			r = nil
		}
	}()

	debug.Step(1, "Initializing GPIO driver")
	r.drv, err = gpio.NewDriver(cfg.Defaults.MockGPIO, cfg.Encoder.GPIOChip)
	if err != nil {
		return r, fmt.Errorf("init GPIO: %w", err)
	}

	debug.Step(2, "Initializing encoders")
	edge, err := cfg.Edge()
	if err != nil {
		return r, err
	}
	enc := encoder.New(r.drv, encoder.Config{Pins: cfg.EncoderPins(), Edge: edge})
	if err := enc.Setup(); err != nil {
		return r, fmt.Errorf("init encoders: %w", err)
	}
	r.enc = enc
	debug.PrintStruct("Encoder pins", cfg.EncoderPins())

	debug.Step(3, "Initializing motors")
	mc, err := motion.ConfigFrom(cfg)
	if err != nil {
		return r, err
	}
	eng := motion.NewEngine(r.drv, enc, mc, &motion.Latch{})
	if err := eng.Setup(cfg.Motor.PWMFrequencyHz); err != nil {
		return r, fmt.Errorf("init motors: %w", err)
	}
	r.eng = eng
	debug.PrintStruct("Motor config", cfg.Motor)

	if mock, ok := r.drv.(*gpio.MockDriver); ok {
		debug.Step(4, "Starting encoder simulator")
		r.sim = sim.FromConfig(mock, cfg)
		debug.Value("Simulated ticks/s", cfg.Defaults.SimTicksPerSecond)
	}
	return r, nil
}

// simulate runs the encoder simulator until ctx is done. No-op on hardware.
func (r *robot) simulate(ctx context.Context) func() {
	if r.sim == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.sim.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Close stops the motors, then releases every line and the driver.
func (r *robot) Close() error {
	var errs []error
	if r.eng != nil {
		errs = append(errs, r.eng.Shutdown())
	}
	if r.enc != nil {
		errs = append(errs, r.enc.Shutdown())
	}
	if r.drv != nil {
		errs = append(errs, r.drv.Close())
	}
	return errors.Join(errs...)
}
