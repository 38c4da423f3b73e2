package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mecabot/mecabot/internal/logic/route"
)

type RouteCommand struct {
	Translations bool          `long:"translations" description:"Drive each translation pattern in turn (wiring check)"`
	Duration     time.Duration `long:"duration" description:"Move duration for --translations" default:"1s"`
	Pause        time.Duration `long:"pause" description:"Pause between moves for --translations" default:"500ms"`

	Args struct {
		File string `positional-arg-name:"file" description:"Route file; bare names are read from configs/routes"`
	} `positional-args:"yes"`
}

// defaultRouteDir is where route files are looked up when given without a directory.
var defaultRouteDir = filepath.Join("configs", "routes")

// resolveRoutePath maps a bare route name to configs/routes/<name>.yaml.
func resolveRoutePath(name string) string {
	if strings.ContainsRune(name, filepath.Separator) || strings.Contains(name, "/") {
		return name
	}
	if filepath.Ext(name) == "" {
		name += ".yaml"
	}
	return filepath.Join(defaultRouteDir, name)
}

// load returns the route selected by the flags.
func (c *RouteCommand) load() (*route.Route, error) {
	switch {
	case c.Translations && c.Args.File != "":
		return nil, errors.New("give either a route file or --translations, not both")
	case c.Translations:
		if c.Duration <= 0 || c.Pause < 0 {
			return nil, fmt.Errorf("invalid --duration %s or --pause %s", c.Duration, c.Pause)
		}
		return route.Translations(c.Duration, c.Pause), nil
	case c.Args.File != "":
		return route.Load(resolveRoutePath(c.Args.File))
	}
	return nil, errors.New("a route file or --translations is required")
}

func (c *RouteCommand) Execute(args []string) error {
	rt, err := c.load()
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

	return route.NewRunner(r.eng).Run(ctx, rt)
}
