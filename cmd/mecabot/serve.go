package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/mecabot/mecabot/internal/config"
	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/logic/geometry"
	"github.com/mecabot/mecabot/internal/telemetry"
	"github.com/mecabot/mecabot/internal/web"
)

type ServeCommand struct {
	Port   int  `short:"p" long:"port" description:"Web server port (overrides config)"`
	NoMQTT bool `long:"no-mqtt" description:"Do not connect to the MQTT broker"`
}

// webInfo is the page configuration shown by GET /config.
func webInfo(cfg *config.Config) web.ConfigInfo {
	return web.ConfigInfo{
		DutyPercent:  cfg.Motor.DutyPercent,
		TicksPerCm:   geometry.NewTicksCalculator(cfg).TicksPerCm(),
		BusyPolicy:   cfg.Motor.BusyPolicy,
		TickStrategy: cfg.Motor.TickStrategy,
	}
}

// listenAddr picks the web port: the flag when set, else the config.
func (c *ServeCommand) listenAddr(cfg *config.Config) (string, error) {
	port := cfg.Web.Port
	if c.Port != 0 {
		port = c.Port
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("port must be 1-65535, got %d", port)
	}
	return fmt.Sprintf(":%d", port), nil
}

func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}
	addr, err := c.listenAddr(cfg)
	if err != nil {
		return err
	}
	r, err := openRobot(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	ctx, cancel := signalContext()
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if r.sim != nil {
		g.Go(func() error { return r.sim.Run(ctx) })
	}

	srv := web.NewServer(addr, broadcaster, r.eng, r.enc, webInfo(cfg))
	g.Go(func() error { return srv.Run(ctx) })

	if cfg.MQTT.Broker != "" && !c.NoMQTT {
		client, err := telemetry.Connect(cfg.MQTT)
		if err != nil {
			cancel()
			g.Wait()
			return err
		}
		defer client.Disconnect(250)
		bridge := telemetry.NewBridge(client, cfg.MQTT.TopicPrefix, cfg.PublishInterval(), r.eng, r.enc)
		g.Go(func() error { return bridge.Run(ctx) })
		log.Printf("MQTT bridge publishing under %s/", cfg.MQTT.TopicPrefix)
	}

	return g.Wait()
}
