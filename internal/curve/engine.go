// Package curve evaluates the adaptive lighting curves and computes the
// discrete dimming steps along them.
//
// A day is split at solar noon into two asymmetric logistic halves: the
// morning half rises over solar time [0,12), the evening half falls over
// [12,24). Each half has an independent midpoint and steepness per channel.
// Both halves clamp to the configured bounds, which keeps the curve
// continuous at noon and across the midnight wrap.
package curve

import (
	"math"
	"sync"
)

// Direction of a manual dimming step.
type Direction int

const (
	StepDown Direction = -1
	StepUp   Direction = 1
)

func (d Direction) String() string {
	if d == StepUp {
		return "up"
	}
	return "down"
}

// Values is the curve output for a single instant.
type Values struct {
	Brightness float64
	CCT        float64
	SolarTime  float64
}

// StepResult describes one discrete step along the curve.
type StepResult struct {
	Values
	// TargetSolarTime is where on the curve the step landed.
	TargetSolarTime float64
	// DeltaHours is the solar-time displacement of the step. Negative
	// values move the offset backward.
	DeltaHours float64
	// Moved is false when the step was a no-op because the curve was
	// already clamped at its plateau.
	Moved bool
}

// Sampling resolution (solar hours) for the inverse brightness search.
const sampleStep = 0.05

// Tolerance for plateau detection, matching the original designer math.
const plateauTol = 0.1

// Engine evaluates curves for the currently configured parameters.
// Parameters can be swapped at runtime; evaluation takes a consistent
// snapshot under a read lock.
type Engine struct {
	mu     sync.RWMutex
	params Params
}

// NewEngine creates an engine with the given parameters.
func NewEngine(p Params) *Engine {
	return &Engine{params: p}
}

// Params returns the current parameter snapshot.
func (e *Engine) Params() Params {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

// SetParams replaces the curve parameters. Takes effect on the next
// evaluation; callers validate before saving.
func (e *Engine) SetParams(p Params) {
	e.mu.Lock()
	e.params = p
	e.mu.Unlock()
}

// PositionToSolarTime converts a normalized sun position in [-1,1] (-1
// solar midnight, 0 solar noon, +1 the following midnight) to solar hours.
func PositionToSolarTime(pos float64) float64 {
	pos = math.Max(-1, math.Min(1, pos))
	st := (pos + 1) * 12
	if st >= 24 {
		st = 0
	}
	return st
}

// SolarTimeToPosition is the inverse of PositionToSolarTime.
func SolarTimeToPosition(solarTime float64) float64 {
	return solarTime/12 - 1
}

// mapHalf evaluates one logistic half.
//
//	value = min + (max-min) * sigmoid(+/- k * (t' - m))
//
// where t' is solar time for the morning half and solar time minus 12 for
// the evening half. The result is clamped to [min,max].
func mapHalf(t, mid, steep, outMin, outMax float64, rising bool) float64 {
	te := t
	if !rising {
		te = t - 12
	}

	var base float64
	if rising {
		base = 1 / (1 + math.Exp(-steep*(te-mid)))
	} else {
		base = 1 - 1/(1+math.Exp(-steep*(te-mid)))
	}

	v := outMin + (outMax-outMin)*base
	return math.Max(outMin, math.Min(outMax, v))
}

// Evaluate computes brightness and color temperature for a solar time.
func (e *Engine) Evaluate(solarTime float64) Values {
	p := e.Params()
	return evaluate(p, solarTime)
}

func evaluate(p Params, solarTime float64) Values {
	morning := solarTime < 12

	var bri, cct float64
	if morning {
		bri = mapHalf(solarTime, p.MidBriUp, p.SteepBriUp, p.MinBrightness, p.MaxBrightness, true)
		cct = mapHalf(solarTime, p.effMidCCTUp(), p.effSteepCCTUp(), p.MinColorTemp, p.MaxColorTemp, true)
	} else {
		bri = mapHalf(solarTime, p.MidBriDn, p.SteepBriDn, p.MinBrightness, p.MaxBrightness, false)
		cct = mapHalf(solarTime, p.effMidCCTDn(), p.effSteepCCTDn(), p.MinColorTemp, p.MaxColorTemp, false)
	}

	return Values{Brightness: bri, CCT: cct, SolarTime: solarTime}
}

// Boundaries are the solar times where the brightness curve reaches its
// plateaus. Stepping never moves past them.
type Boundaries struct {
	MinBriMorning float64
	MaxBriMorning float64
	MinBriEvening float64
	MaxBriEvening float64
}

// Boundaries locates the plateau points for the current parameters.
func (e *Engine) Boundaries() Boundaries {
	return findBoundaries(e.Params())
}

func findBoundaries(p Params) Boundaries {
	b := Boundaries{
		MinBriMorning: 0,
		MaxBriMorning: 12,
		MinBriEvening: 24,
		MaxBriEvening: 12,
	}
	if t, ok := findSolarTimeForBrightness(p, p.MinBrightness+plateauTol, true, 0); ok {
		b.MinBriMorning = t
	}
	if t, ok := findSolarTimeForBrightness(p, p.MaxBrightness-plateauTol, true, 0); ok {
		b.MaxBriMorning = t
	}
	if t, ok := findSolarTimeForBrightness(p, p.MinBrightness+plateauTol, false, 0); ok {
		b.MinBriEvening = t
	}
	if t, ok := findSolarTimeForBrightness(p, p.MaxBrightness-plateauTol, false, 0); ok {
		b.MaxBriEvening = t
	}
	return b
}

// findSolarTimeForBrightness inverts the brightness curve on one half by
// fine sampling and linear interpolation. The logistic is monotone on each
// half, so the bracketing segment found first is the unique, smallest-delta
// solution. When the target sits outside the curve's reachable range the
// endpoint matching the step direction is returned.
func findSolarTimeForBrightness(p Params, target float64, morning bool, dir Direction) (float64, bool) {
	var start, mid, steep float64
	rising := morning
	if morning {
		start = 0
		mid, steep = p.MidBriUp, p.SteepBriUp
	} else {
		start = 12
		mid, steep = p.MidBriDn, p.SteepBriDn
	}

	n := int(12/sampleStep) + 1
	prevT := start
	prevB := mapHalf(start, mid, steep, p.MinBrightness, p.MaxBrightness, rising)
	endT, endB := prevT, prevB

	for i := 1; i < n; i++ {
		t := start + float64(i)*sampleStep
		b := mapHalf(t, mid, steep, p.MinBrightness, p.MaxBrightness, rising)

		between := (prevB <= b && prevB <= target && target <= b) ||
			(prevB > b && b <= target && target <= prevB)
		if between && math.Abs(b-prevB) > 1e-9 {
			interp := (target - prevB) / (b - prevB)
			return prevT + interp*(t-prevT), true
		}
		prevT, prevB = t, b
		endT, endB = t, b
	}

	// Target not reachable on this half; pick the endpoint the step is
	// heading toward. Morning starts dark, evening starts bright.
	startT := start
	switch {
	case dir == StepDown && morning:
		return startT, false
	case dir == StepDown && !morning:
		return endT, false
	case dir == StepUp && morning:
		return endT, false
	case dir == StepUp && !morning:
		return startT, false
	}
	// No direction: closest endpoint by brightness.
	startB := mapHalf(startT, mid, steep, p.MinBrightness, p.MaxBrightness, rising)
	if math.Abs(target-startB) < math.Abs(target-endB) {
		return startT, false
	}
	return endT, false
}

// StepTarget computes one discrete dimming step from the given solar time.
//
// The step size is uniform in the brightness domain, (max-min)/steps. The
// returned DeltaHours is the solar-time move that lands on that brightness.
// Note the direction flip at noon: stepping up means moving forward in time
// on the morning half but backward on the evening half, so a step always
// heads toward peak brightness the fastest way. That flip is intentional UX,
// not a math artifact.
func (e *Engine) StepTarget(solarTime float64, dir Direction) StepResult {
	p := e.Params()
	morning := solarTime < 12

	cur := evaluate(p, solarTime)
	bounds := findBoundaries(p)

	noMove := StepResult{Values: cur, TargetSolarTime: solarTime, Moved: false}

	// Plateau checks: when both channels are already pinned to the bound,
	// or solar time is past the plateau point, a further step is a no-op.
	if dir == StepDown {
		atMinBri := cur.Brightness <= p.MinBrightness+plateauTol
		atMinCCT := cur.CCT <= p.MinColorTemp+plateauTol
		var pastBoundary bool
		if morning {
			pastBoundary = solarTime <= bounds.MinBriMorning+plateauTol
		} else {
			pastBoundary = solarTime >= bounds.MinBriEvening-plateauTol
		}
		if (atMinBri && atMinCCT) || pastBoundary {
			return noMove
		}
	} else {
		atMaxBri := cur.Brightness >= p.MaxBrightness-plateauTol
		atMaxCCT := cur.CCT >= p.MaxColorTemp-plateauTol
		var pastBoundary bool
		if morning {
			pastBoundary = solarTime >= bounds.MaxBriMorning-plateauTol
		} else {
			pastBoundary = solarTime <= bounds.MaxBriEvening+plateauTol
		}
		if (atMaxBri && atMaxCCT) || pastBoundary {
			return noMove
		}
	}

	targetBri := cur.Brightness + float64(dir)*p.StepSize()
	targetBri = math.Max(p.MinBrightness, math.Min(p.MaxBrightness, targetBri))

	targetST, _ := findSolarTimeForBrightness(p, targetBri, morning, dir)

	// Never step past the plateau.
	if dir == StepDown {
		if morning {
			targetST = math.Max(targetST, bounds.MinBriMorning)
		} else {
			targetST = math.Min(targetST, bounds.MinBriEvening)
		}
	} else {
		if morning {
			targetST = math.Min(targetST, bounds.MaxBriMorning)
		} else {
			targetST = math.Max(targetST, bounds.MaxBriEvening)
		}
	}

	// Color temperature follows the half the target landed on.
	var targetCCT float64
	if targetST < 12 {
		targetCCT = mapHalf(targetST, p.effMidCCTUp(), p.effSteepCCTUp(), p.MinColorTemp, p.MaxColorTemp, true)
	} else {
		targetCCT = mapHalf(targetST, p.effMidCCTDn(), p.effSteepCCTDn(), p.MinColorTemp, p.MaxColorTemp, false)
	}
	targetCCT = math.Max(p.MinColorTemp, math.Min(p.MaxColorTemp, targetCCT))

	return StepResult{
		Values: Values{
			Brightness: targetBri,
			CCT:        targetCCT,
			SolarTime:  targetST,
		},
		TargetSolarTime: targetST,
		DeltaHours:      targetST - solarTime,
		Moved:           true,
	}
}
