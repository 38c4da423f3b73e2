package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mecabot/mecabot/internal/hw/wheel"
)

type TicksCommand struct {
	Watch time.Duration `long:"watch" description:"Print the counters at this interval until interrupted"`
	Reset bool          `long:"reset" description:"Zero the counters before reading"`
}

// formatTicks renders the counters on one line in wheel order.
func formatTicks(counts map[wheel.ID]uint64, avg uint64) string {
	var b strings.Builder
	for _, w := range wheel.All() {
		fmt.Fprintf(&b, "%s=%d ", w, counts[w])
	}
	fmt.Fprintf(&b, "average=%d", avg)
	return b.String()
}

func (c *TicksCommand) Execute(args []string) error {
	cfg, err := loadConfig(&opts)
	if err != nil {
		return err
	}
	r, err := openRobot(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	if c.Reset {
		r.enc.ResetAll()
	}
	return c.print(os.Stdout, r)
}

func (c *TicksCommand) print(w io.Writer, r *robot) error {
	fmt.Fprintln(w, formatTicks(r.enc.Counts(), r.enc.Average()))
	if c.Watch <= 0 {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	ticker := time.NewTicker(c.Watch)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprintln(w, formatTicks(r.enc.Counts(), r.enc.Average()))
		}
	}
}
