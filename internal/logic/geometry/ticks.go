package geometry

import (
	"math"

	"github.com/mecabot/mecabot/internal/config"
)

// TicksCalculator converts linear distances and in-place rotation angles to
// encoder tick targets.
type TicksCalculator struct {
	ticksPerCm     float64
	ticksPerDegree float64
}

// NewTicksCalculator creates a tick calculator from configuration.
// Zero ratios in the calibration section are derived from the wheel and
// chassis dimensions.
func NewTicksCalculator(cfg *config.Config) *TicksCalculator {
	cal := cfg.Calibration

	ticksPerCm := cal.TicksPerCm
	if ticksPerCm == 0 {
		circumferenceCm := 2 * math.Pi * cal.WheelRadiusMm / 10.0
		if circumferenceCm > 0 {
			ticksPerCm = float64(cal.TicksPerRev) / circumferenceCm
		}
	}

	ticksPerDegree := cal.TicksPerDegree
	if ticksPerDegree == 0 {
		// Spinning in place, each mecanum wheel travels on an arc whose
		// effective radius is half the wheelbase plus half the track width.
		radiusCm := (cal.WheelbaseMm + cal.TrackWidthMm) / 2.0 / 10.0
		ticksPerDegree = radiusCm * math.Pi / 180.0 * ticksPerCm
	}

	return &TicksCalculator{
		ticksPerCm:     ticksPerCm,
		ticksPerDegree: ticksPerDegree,
	}
}

// TicksPerCm returns the effective linear calibration.
func (t *TicksCalculator) TicksPerCm() float64 {
	return t.ticksPerCm
}

// TicksPerDegree returns the effective rotation calibration.
func (t *TicksCalculator) TicksPerDegree() float64 {
	return t.ticksPerDegree
}

// TicksForDistance converts a distance in centimeters to a tick target.
// The sign is ignored: direction comes from the motion pattern.
func (t *TicksCalculator) TicksForDistance(cm float64) uint64 {
	return toTicks(cm * t.ticksPerCm)
}

// TicksForRotation converts an in-place rotation in degrees to a tick target.
func (t *TicksCalculator) TicksForRotation(degrees float64) uint64 {
	return toTicks(degrees * t.ticksPerDegree)
}

// DistanceForTicks converts a tick count back to centimeters.
func (t *TicksCalculator) DistanceForTicks(ticks uint64) float64 {
	if t.ticksPerCm == 0 {
		return 0
	}
	return float64(ticks) / t.ticksPerCm
}

func toTicks(v float64) uint64 {
	v = math.Round(math.Abs(v))
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return uint64(v)
}
