// Package pattern maps named base motions to per-wheel drive states.
//
// A mecanum base translates by spinning opposite-diagonal wheel pairs together
// and rotates in place by spinning the left and right sides against each other.
// States here are expressed relative to the robot: Forward means the wheel
// pushes the base forward. Translating that into H-bridge line levels (and
// compensating for mirrored motor mounting) is the motor driver's job.
package pattern

import (
	"fmt"
	"strings"

	"github.com/mecabot/mecabot/internal/hw/wheel"
)

// State is the drive state of one wheel.
type State int

const (
	BrakeLow State = iota // both lines low
	Forward
	Reverse
	BrakeHigh // both lines high; no canonical motion uses it
)

func (s State) String() string {
	switch s {
	case BrakeLow:
		return "brake_low"
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	case BrakeHigh:
		return "brake_high"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Opposite swaps Forward and Reverse; brake states are unchanged.
func (s State) Opposite() State {
	switch s {
	case Forward:
		return Reverse
	case Reverse:
		return Forward
	}
	return s
}

// Motion names one of the canonical base motions.
type Motion int

const (
	DriveForward Motion = iota
	DriveBackward
	DriveLeft
	DriveRight
	DriveForwardLeft
	DriveForwardRight
	DriveBackwardLeft
	DriveBackwardRight
	RotateLeft
	RotateRight
)

var motionNames = map[Motion]string{
	DriveForward:       "forward",
	DriveBackward:      "backward",
	DriveLeft:          "left",
	DriveRight:         "right",
	DriveForwardLeft:   "forward_left",
	DriveForwardRight:  "forward_right",
	DriveBackwardLeft:  "backward_left",
	DriveBackwardRight: "backward_right",
	RotateLeft:         "rotate_left",
	RotateRight:        "rotate_right",
}

// Motions returns the ten canonical motions.
func Motions() []Motion {
	return []Motion{
		DriveForward, DriveBackward, DriveLeft, DriveRight,
		DriveForwardLeft, DriveForwardRight, DriveBackwardLeft, DriveBackwardRight,
		RotateLeft, RotateRight,
	}
}

func (m Motion) String() string {
	if name, ok := motionNames[m]; ok {
		return name
	}
	return fmt.Sprintf("motion(%d)", int(m))
}

// Rotation reports whether m turns the base in place.
func (m Motion) Rotation() bool {
	return m == RotateLeft || m == RotateRight
}

// InvalidMotionError is returned for a motion outside the canonical set.
type InvalidMotionError struct {
	Value string
}

func (err InvalidMotionError) Error() string {
	return fmt.Sprintf("invalid motion %q", err.Value)
}

// ParseMotion converts a motion name into a Motion. "strafe_left" and
// "strafe_right" are accepted for the sideways moves.
func ParseMotion(s string) (Motion, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "strafe_left":
		return DriveLeft, nil
	case "strafe_right":
		return DriveRight, nil
	}
	for m, n := range motionNames {
		if n == name {
			return m, nil
		}
	}
	return 0, InvalidMotionError{Value: s}
}

// MarshalText implements encoding.TextMarshaler.
func (m Motion) MarshalText() ([]byte, error) {
	if _, ok := motionNames[m]; !ok {
		return nil, InvalidMotionError{Value: m.String()}
	}
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Motion) UnmarshalText(text []byte) error {
	v, err := ParseMotion(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Pattern is the state of every wheel for one motion, indexed by wheel.ID.
// It is a value type; copies never alias.
type Pattern [wheel.Count]State

// Stop is the all-brake-low pattern.
var Stop = Pattern{BrakeLow, BrakeLow, BrakeLow, BrakeLow}

// Of returns the state of wheel w.
func (p Pattern) Of(w wheel.ID) State {
	return p[w]
}

// Complement swaps Forward and Reverse on every wheel.
func (p Pattern) Complement() Pattern {
	var out Pattern
	for i, s := range p {
		out[i] = s.Opposite()
	}
	return out
}

func (p Pattern) String() string {
	parts := make([]string, 0, wheel.Count)
	for _, w := range wheel.All() {
		parts = append(parts, w.String()+"="+p[w].String())
	}
	return strings.Join(parts, " ")
}

const (
	fr = wheel.FrontRight
	fl = wheel.FrontLeft
	bl = wheel.BackLeft
	br = wheel.BackRight
)

var table = map[Motion]Pattern{
	DriveForward:  {fr: Forward, fl: Forward, bl: Forward, br: Forward},
	DriveBackward: {fr: Reverse, fl: Reverse, bl: Reverse, br: Reverse},

	// Sideways: diagonal pairs (FL,BR) and (FR,BL) oppose each other.
	DriveRight: {fr: Reverse, fl: Forward, bl: Reverse, br: Forward},
	DriveLeft:  {fr: Forward, fl: Reverse, bl: Forward, br: Reverse},

	// Diagonals: one diagonal pair drives, the other brakes.
	DriveForwardLeft:   {fr: Forward, fl: BrakeLow, bl: Forward, br: BrakeLow},
	DriveForwardRight:  {fr: BrakeLow, fl: Forward, bl: BrakeLow, br: Forward},
	DriveBackwardLeft:  {fr: BrakeLow, fl: Reverse, bl: BrakeLow, br: Reverse},
	DriveBackwardRight: {fr: Reverse, fl: BrakeLow, bl: Reverse, br: BrakeLow},

	// In place: left side against right side. Seen from above every wheel
	// then turns the same way.
	RotateRight: {fr: Reverse, fl: Forward, bl: Forward, br: Reverse},
	RotateLeft:  {fr: Forward, fl: Reverse, bl: Reverse, br: Forward},
}

// For returns the pattern of motion m.
func For(m Motion) (Pattern, error) {
	p, ok := table[m]
	if !ok {
		return Stop, InvalidMotionError{Value: m.String()}
	}
	return p, nil
}
