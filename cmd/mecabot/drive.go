package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/logic/route"
)

type DriveCommand struct {
	Cm      float64 `long:"cm" description:"Distance in centimetres (translations)"`
	Degrees float64 `long:"degrees" description:"Angle in degrees (rotations)"`
	Ms      int     `long:"ms" description:"Duration in milliseconds"`
	Ticks   uint64  `long:"ticks" description:"Encoder ticks on the reference wheel"`

	Args struct {
		Motion string `positional-arg-name:"motion" description:"forward, backward, left, right, forward_left, ..., rotate_left, rotate_right"`
	} `positional-args:"yes" required:"yes"`
}

// step turns the flags into a validated route step.
func (c *DriveCommand) step() (route.Step, error) {
	s := route.Step{
		Motion:  c.Args.Motion,
		Cm:      c.Cm,
		Degrees: c.Degrees,
		Ms:      c.Ms,
		Ticks:   c.Ticks,
	}
	if s.Cm == 0 && s.Degrees == 0 && s.Ms == 0 && s.Ticks == 0 {
		return s, errors.New("one of --cm, --degrees, --ms or --ticks is required")
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (c *DriveCommand) Execute(args []string) error {
	s, err := c.step()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}
	r, err := openRobot(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, cancel := signalContext()
	defer cancel()
	stopSim := r.simulate(ctx)
	defer stopSim()

	start := time.Now()
	err = route.NewRunner(r.eng).Run(ctx, &route.Route{Name: "drive", Steps: []route.Step{s}})
	if err != nil {
		return err
	}
	debug.Summary(fmt.Sprintf("%s done in %s", s, time.Since(start).Round(time.Millisecond)))
	return nil
}
