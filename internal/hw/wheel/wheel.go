// Package wheel identifies the four mecanum wheels of the base.
package wheel

import (
	"fmt"
	"strings"
)

// ID identifies one wheel. The set is fixed at four.
type ID int

// Wheel identifiers, ordered as the motor driver boards are numbered (1-4).
const (
	FrontRight ID = iota
	FrontLeft
	BackLeft
	BackRight
)

// Count is the number of wheels on the base.
const Count = 4

// All returns every wheel in driver order.
func All() []ID {
	return []ID{FrontRight, FrontLeft, BackLeft, BackRight}
}

var names = [Count]string{
	FrontRight: "front_right",
	FrontLeft:  "front_left",
	BackLeft:   "back_left",
	BackRight:  "back_right",
}

// Valid reports whether id is one of the four wheels.
func (id ID) Valid() bool {
	return id >= FrontRight && id <= BackRight
}

func (id ID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("wheel(%d)", int(id))
	}
	return names[id]
}

// Left reports whether the wheel is on the left side of the base.
func (id ID) Left() bool {
	return id == FrontLeft || id == BackLeft
}

// InvalidError is returned when a wheel identifier is outside the fixed set.
type InvalidError struct {
	Value string
}

func (err InvalidError) Error() string {
	return fmt.Sprintf("invalid wheel %q: choose one of front_right, front_left, back_left, back_right", err.Value)
}

// Check returns an InvalidError if id is not a known wheel.
func Check(id ID) error {
	if !id.Valid() {
		return InvalidError{Value: id.String()}
	}
	return nil
}

// Parse converts a wheel name ("front_right", "fr", ...) into an ID.
func Parse(s string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front_right", "fr":
		return FrontRight, nil
	case "front_left", "fl":
		return FrontLeft, nil
	case "back_left", "bl":
		return BackLeft, nil
	case "back_right", "br":
		return BackRight, nil
	}
	return 0, InvalidError{Value: s}
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if err := Check(id); err != nil {
		return nil, err
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, so wheel names can be
// used directly in YAML and JSON documents.
func (id *ID) UnmarshalText(text []byte) error {
	v, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
