package motion

import (
	"fmt"
	"time"

	"github.com/mecabot/mecabot/internal/hw/wheel"
)

type conditionKind int

const (
	untilElapsed conditionKind = iota
	untilReference
	untilAverage
)

// StopCondition decides when a drive ends.
type StopCondition struct {
	kind      conditionKind
	duration  time.Duration
	reference wheel.ID
	target    uint64
}

// Timed ends a drive once d has elapsed. d <= 0 stops immediately.
func Timed(d time.Duration) StopCondition {
	return StopCondition{kind: untilElapsed, duration: d}
}

// Ticks ends a drive once the reference wheel has counted target ticks.
// The reference counter is reset before the drive and again after it.
func Ticks(reference wheel.ID, target uint64) StopCondition {
	return StopCondition{kind: untilReference, reference: reference, target: target}
}

// AverageTicks ends a drive once the mean count of the wheels the motion
// actually drives reaches target. All four counters are reset before and
// after the drive.
func AverageTicks(target uint64) StopCondition {
	return StopCondition{kind: untilAverage, target: target}
}

// TickTargeted reports whether the condition polls encoder counters.
func (c StopCondition) TickTargeted() bool {
	return c.kind != untilElapsed
}

// Duration returns the duration of a timed condition.
func (c StopCondition) Duration() time.Duration {
	return c.duration
}

// Target returns the tick target of a tick condition.
func (c StopCondition) Target() uint64 {
	return c.target
}

// Reference returns the polled wheel of a reference condition.
func (c StopCondition) Reference() wheel.ID {
	return c.reference
}

func (c StopCondition) String() string {
	switch c.kind {
	case untilReference:
		return fmt.Sprintf("%d ticks on %s", c.target, c.reference)
	case untilAverage:
		return fmt.Sprintf("%d ticks (average)", c.target)
	}
	return c.duration.String()
}
