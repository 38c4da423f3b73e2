package motion

import (
	"errors"
	"fmt"

	"github.com/mecabot/mecabot/internal/logic/pattern"
)

var (
	// ErrBusy matches every BusyError.
	ErrBusy = errors.New("motion: drive already in progress")
	// ErrEmergencyStop is returned by a drive refused or aborted by the latch.
	ErrEmergencyStop = errors.New("motion: emergency stop asserted")
	// ErrStopped is returned by a drive aborted by Stop or Shutdown.
	ErrStopped = errors.New("motion: drive stopped")
	// ErrNotReady is returned before Setup, after a failed Setup, or after Shutdown.
	ErrNotReady = errors.New("motion: engine not set up")
	// ErrInvalidSpeed is returned for a duty cycle outside 0..100.
	ErrInvalidSpeed = errors.New("motion: duty cycle must be between 0 and 100")
)

// BusyError reports a drive rejected because another one holds the engine.
type BusyError struct {
	Active pattern.Motion
}

func (err *BusyError) Error() string {
	return fmt.Sprintf("motion: drive already in progress (%s)", err.Active)
}

func (err *BusyError) Is(target error) bool { return target == ErrBusy }

// IdleReferenceError reports a tick target on a wheel the motion brakes;
// such a drive could never finish.
type IdleReferenceError struct {
	Motion    pattern.Motion
	Reference string
}

func (err *IdleReferenceError) Error() string {
	return fmt.Sprintf("motion: %s brakes reference wheel %s", err.Motion, err.Reference)
}
