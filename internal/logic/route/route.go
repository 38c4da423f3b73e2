package route

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mecabot/mecabot/internal/debug"
	"github.com/mecabot/mecabot/internal/logic/motion"
	"github.com/mecabot/mecabot/internal/logic/pattern"
)

// MaxRouteFileBytes bounds the size of a route file read by Load.
const MaxRouteFileBytes = 256 * 1024

// Step is one move of a route. Exactly one of Cm, Degrees, Ms or Ticks
// sets its extent.
type Step struct {
	Motion  string  `yaml:"motion" json:"motion"`
	Cm      float64 `yaml:"cm,omitempty" json:"cm,omitempty"`
	Degrees float64 `yaml:"degrees,omitempty" json:"degrees,omitempty"`
	Ms      int     `yaml:"ms,omitempty" json:"ms,omitempty"`
	Ticks   uint64  `yaml:"ticks,omitempty" json:"ticks,omitempty"`
	PauseMs int     `yaml:"pause_ms,omitempty" json:"pause_ms,omitempty"` // wait after the move
}

func (s Step) String() string {
	switch {
	case s.Cm != 0:
		return fmt.Sprintf("%s %.1f cm", s.Motion, s.Cm)
	case s.Degrees != 0:
		return fmt.Sprintf("%s %.1f°", s.Motion, s.Degrees)
	case s.Ticks != 0:
		return fmt.Sprintf("%s %d ticks", s.Motion, s.Ticks)
	}
	return fmt.Sprintf("%s %d ms", s.Motion, s.Ms)
}

// Route is a named sequence of moves.
type Route struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load reads and validates a YAML route file.
func Load(path string) (*Route, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read route file: %w", err)
	}
	if info.Size() > MaxRouteFileBytes {
		return nil, fmt.Errorf("route file is %d bytes, limit is %d", info.Size(), MaxRouteFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read route file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML route document.
func Parse(data []byte) (*Route, error) {
	var r Route
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks every step.
func (r *Route) Validate() error {
	if len(r.Steps) == 0 {
		return errors.New("route has no steps")
	}
	for i, s := range r.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Validate checks the motion name and the extent fields.
func (s Step) Validate() error {
	m, err := pattern.ParseMotion(s.Motion)
	if err != nil {
		return err
	}
	set := 0
	for _, nonzero := range []bool{s.Cm != 0, s.Degrees != 0, s.Ms != 0, s.Ticks != 0} {
		if nonzero {
			set++
		}
	}
	if set > 1 {
		return errors.New("set only one of cm, degrees, ms or ticks")
	}
	if s.Cm < 0 || s.Degrees < 0 || s.Ms < 0 || s.PauseMs < 0 {
		return errors.New("extents and pauses must not be negative")
	}
	if s.Cm != 0 && m.Rotation() {
		return fmt.Errorf("%s takes degrees, not cm", m)
	}
	if s.Degrees != 0 && !m.Rotation() {
		return fmt.Errorf("%s takes cm, not degrees", m)
	}
	return nil
}

// Translations returns a route driving each of the eight translation
// patterns for d, pausing between moves. Used to check motor wiring on a
// new chassis.
func Translations(d time.Duration, pause time.Duration) *Route {
	r := &Route{Name: "translations"}
	for _, m := range pattern.Motions() {
		if m.Rotation() {
			continue
		}
		r.Steps = append(r.Steps, Step{
			Motion:  m.String(),
			Ms:      int(d / time.Millisecond),
			PauseMs: int(pause / time.Millisecond),
		})
	}
	return r
}

// Mover is the part of the drive engine a route needs.
type Mover interface {
	Drive(ctx context.Context, m pattern.Motion, cond motion.StopCondition) error
	DriveDistance(ctx context.Context, m pattern.Motion, cm float64) error
	Rotate(ctx context.Context, m pattern.Motion, degrees float64) error
	TickCondition(m pattern.Motion, target uint64) motion.StopCondition
}

// Runner executes routes one step at a time.
type Runner struct {
	mover Mover
}

func NewRunner(m Mover) *Runner {
	return &Runner{mover: m}
}

// Run executes every step of r in order. It stops at the first failing step
// or when ctx is done, between or during moves.
func (rn *Runner) Run(ctx context.Context, r *Route) error {
	if err := r.Validate(); err != nil {
		return err
	}

	debug.Section("Route " + r.Name)
	start := time.Now()

	for i, s := range r.Steps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		debug.Step(i+1, s.String())
		if err := rn.runStep(ctx, s); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, s, err)
		}

		if s.PauseMs > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(s.PauseMs) * time.Millisecond):
			}
		}
	}

	debug.Summary(fmt.Sprintf("Route %s: %d steps in %s", r.Name, len(r.Steps), time.Since(start).Round(time.Millisecond)))
	return nil
}

func (rn *Runner) runStep(ctx context.Context, s Step) error {
	m, err := pattern.ParseMotion(s.Motion)
	if err != nil {
		return err
	}
	switch {
	case s.Cm != 0:
		return rn.mover.DriveDistance(ctx, m, s.Cm)
	case s.Degrees != 0:
		return rn.mover.Rotate(ctx, m, s.Degrees)
	case s.Ticks != 0:
		return rn.mover.Drive(ctx, m, rn.mover.TickCondition(m, s.Ticks))
	}
	return rn.mover.Drive(ctx, m, motion.Timed(time.Duration(s.Ms)*time.Millisecond))
}
