// Package orchestrator drives the adaptive lighting pipeline: switch events
// and the periodic tick both resolve an area, read its state, evaluate the
// curve and dispatch the result through the router.
package orchestrator

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/glowlab/glowd/internal/area"
	"github.com/glowlab/glowd/internal/color"
	"github.com/glowlab/glowd/internal/curve"
	"github.com/glowlab/glowd/internal/light"
	"github.com/glowlab/glowd/internal/router"
)

// Default transitions, matching the switch feel of the original firmware
// blueprints: slow fade on activation, snappy fade while dimming.
const (
	DefaultTickInterval   = time.Minute
	DefaultTransitionOn   = time.Second
	DefaultTransitionStep = 200 * time.Millisecond
)

// ErrAreaOff is returned when a step is requested for an area whose lights
// are off; stepping never turns lights on or off.
var ErrAreaOff = errors.New("area is off")

// SunClock is the solar time source. *solar.Clock satisfies it.
type SunClock interface {
	Now() time.Time
	SolarTimeAt(t time.Time) float64
	CrossedMidnightSince(last, now time.Time) bool
}

// Dispatcher is the routing surface the orchestrator drives.
// *router.Router satisfies it.
type Dispatcher interface {
	Resolve(ctx context.Context, areaID string) (router.Decision, error)
	Dispatch(ctx context.Context, d router.Decision, v light.Value, transition time.Duration) error
	DispatchRGB(ctx context.Context, d router.Decision, rgb light.RGB, brightness int, transition time.Duration) error
	TurnOff(ctx context.Context, d router.Decision, transition time.Duration) error
	Acknowledge(ctx context.Context, d router.Decision) error
	AreaForDevice(ctx context.Context, deviceID string) (string, error)
}

// Options tunes the orchestrator.
type Options struct {
	TickInterval   time.Duration
	TransitionOn   time.Duration
	TransitionStep time.Duration
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = DefaultTickInterval
	}
	if o.TransitionOn <= 0 {
		o.TransitionOn = DefaultTransitionOn
	}
	if o.TransitionStep <= 0 {
		o.TransitionStep = DefaultTransitionStep
	}
	return o
}

// Orchestrator owns the event and tick pipelines. A single mutex serializes
// passes so a tick never interleaves with a switch event; per-area sequence
// numbers let a fresh event supersede the tick's pending pass for that area.
type Orchestrator struct {
	mu sync.Mutex

	clock  SunClock
	engine *curve.Engine
	areas  *area.Manager
	router Dispatcher
	opts   Options

	seqMu sync.Mutex
	seq   map[string]uint64

	// tickMu serializes whole Tick runs. Run's ticker and forced
	// refreshes (curve updates) call Tick from different goroutines.
	tickMu sync.Mutex
	// lastMidnightCheck anchors the solar-midnight crossing detector.
	// Guarded by tickMu.
	lastMidnightCheck time.Time
}

// New creates an orchestrator.
func New(clock SunClock, engine *curve.Engine, areas *area.Manager, r Dispatcher, opts Options) *Orchestrator {
	return &Orchestrator{
		clock:  clock,
		engine: engine,
		areas:  areas,
		router: r,
		opts:   opts.withDefaults(),
		seq:    make(map[string]uint64),
	}
}

// bumpSeq marks the area as having fresher input than any pending tick.
func (o *Orchestrator) bumpSeq(areaID string) {
	o.seqMu.Lock()
	o.seq[areaID]++
	o.seqMu.Unlock()
}

func (o *Orchestrator) seqOf(areaID string) uint64 {
	o.seqMu.Lock()
	defer o.seqMu.Unlock()
	return o.seq[areaID]
}

// valuesFor evaluates the curve for the area's offset-shifted "now".
func (o *Orchestrator) valuesFor(areaID string) light.Value {
	offset := o.areas.Offset(areaID)
	t := o.clock.Now().Add(offset)
	return materialize(o.engine.Evaluate(o.clock.SolarTimeAt(t)))
}

// materialize turns raw curve output into a full lighting value with all
// derived color representations.
func materialize(v curve.Values) light.Value {
	bri := int(math.Round(v.Brightness))
	if bri < 1 {
		bri = 1
	} else if bri > 100 {
		bri = 100
	}
	kelvin := int(math.Round(v.CCT))

	xy := color.CCTToXY(v.CCT)
	return light.Value{
		Kelvin:     kelvin,
		Brightness: bri,
		RGB:        color.XYToRGB(xy),
		XY:         xy,
		SolarTime:  v.SolarTime,
	}
}

// Compute evaluates and applies lighting for the area at its current
// offset-shifted time. Dispatch failures are recoverable: the computed
// value is still returned and the next tick resends.
func (o *Orchestrator) Compute(ctx context.Context, areaID string) (light.Value, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.apply(ctx, areaID, o.valuesFor(areaID), o.opts.TransitionOn)
}

// ComputeAt evaluates and applies lighting for an explicit normalized sun
// position in [-1,1] instead of the clock.
func (o *Orchestrator) ComputeAt(ctx context.Context, areaID string, position float64) (light.Value, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := materialize(o.engine.Evaluate(curve.PositionToSolarTime(position)))
	return o.apply(ctx, areaID, v, o.opts.TransitionOn)
}

// Step moves the area one discrete step along the curve and applies the
// result. Valid in magic and manual modes; never changes the mode.
func (o *Orchestrator) Step(ctx context.Context, areaID string, dir curve.Direction) (light.Value, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bumpSeq(areaID)

	if o.areas.Mode(areaID) == area.ModeOff {
		return light.Value{}, ErrAreaOff
	}

	offset := o.areas.Offset(areaID)
	st := o.clock.SolarTimeAt(o.clock.Now().Add(offset))
	res := o.engine.StepTarget(st, dir)

	if res.Moved {
		delta := time.Duration(res.DeltaHours * float64(time.Hour))
		newOffset := o.areas.AdjustOffset(areaID, delta)
		log.Info().
			Str("area", areaID).
			Str("direction", dir.String()).
			Dur("offset", newOffset).
			Float64("solar_time", res.TargetSolarTime).
			Msg("Stepped along curve")
	} else {
		log.Debug().Str("area", areaID).Str("direction", dir.String()).Msg("Step clamped at curve bound")
	}

	return o.apply(ctx, areaID, materialize(res.Values), o.opts.TransitionStep)
}

// SetMode transitions the area's state machine and performs the associated
// side effects. The transition is applied before dispatching: the external
// light state may have partially changed even when the command fails, and
// the next tick reconciles.
func (o *Orchestrator) SetMode(ctx context.Context, areaID string, mode area.Mode) (light.Value, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bumpSeq(areaID)

	prev := o.areas.SetMode(areaID, mode)

	switch mode {
	case area.ModeMagic:
		// Offset is whatever was persisted; lighting resumes from there.
		return o.apply(ctx, areaID, o.valuesFor(areaID), o.opts.TransitionOn)

	case area.ModeManual:
		// Lights stay as they are. Leaving magic mode gets a visual
		// acknowledgment so the press is distinguishable from a dud.
		if prev == area.ModeMagic {
			if err := o.ackFlash(ctx, areaID); err != nil {
				return light.Value{}, err
			}
		}
		return light.Value{}, nil

	default: // area.ModeOff
		d, err := o.router.Resolve(ctx, areaID)
		if err != nil {
			return light.Value{}, o.demoteNothingToControl(areaID, err)
		}
		if err := o.router.TurnOff(ctx, d, o.opts.TransitionOn); err != nil {
			return light.Value{}, err
		}
		return light.Value{}, nil
	}
}

// apply resolves the area and dispatches the value. A missing target is a
// logged no-op, not a failure.
func (o *Orchestrator) apply(ctx context.Context, areaID string, v light.Value, transition time.Duration) (light.Value, error) {
	d, err := o.router.Resolve(ctx, areaID)
	if err != nil {
		return v, o.demoteNothingToControl(areaID, err)
	}
	if err := o.router.Dispatch(ctx, d, v, transition); err != nil {
		return v, err
	}

	log.Debug().
		Str("area", areaID).
		Stringer("value", v).
		Str("target", d.TargetID).
		Msg("Applied lighting")
	return v, nil
}

func (o *Orchestrator) demoteNothingToControl(areaID string, err error) error {
	if errors.Is(err, router.ErrNothingToControl) {
		log.Warn().Str("area", areaID).Msg("Nothing to control in area")
		return nil
	}
	return err
}

func (o *Orchestrator) ackFlash(ctx context.Context, areaID string) error {
	d, err := o.router.Resolve(ctx, areaID)
	if err != nil {
		return o.demoteNothingToControl(areaID, err)
	}
	return o.router.Acknowledge(ctx, d)
}

// Run executes the periodic tick until the context is cancelled. One
// goroutine, sequential area passes: ticks can never overlap each other.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", o.opts.TickInterval).Msg("Periodic light updater started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Periodic light updater stopped")
			return ctx.Err()
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// Tick runs one periodic pass: solar-midnight bookkeeping, then one
// pipeline pass per magic-mode area. Exported for the tests and for a
// forced refresh after configuration changes.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.tickMu.Lock()
	defer o.tickMu.Unlock()

	now := o.clock.Now()
	if o.clock.CrossedMidnightSince(o.lastMidnightCheck, now) {
		// Offsets reset silently; the per-area pass below recomputes with
		// offset zero, no mode changes involved.
		reset := o.areas.ResetOffsets()
		if len(reset) > 0 {
			log.Info().Strs("areas", reset).Msg("Solar midnight crossed, offsets reset")
		}
	}
	o.lastMidnightCheck = now

	magic := o.areas.AreasInMode(area.ModeMagic)
	if len(magic) == 0 {
		return
	}

	// Capture per-area sequence numbers: if a switch event lands while this
	// tick is mid-pass, the event's fresher computation wins and the tick
	// skips that area.
	startSeq := make(map[string]uint64, len(magic))
	for _, id := range magic {
		startSeq[id] = o.seqOf(id)
	}

	for _, areaID := range magic {
		o.mu.Lock()
		if o.seqOf(areaID) != startSeq[areaID] {
			o.mu.Unlock()
			log.Debug().Str("area", areaID).Msg("Tick superseded by switch event")
			continue
		}
		if o.areas.Mode(areaID) != area.ModeMagic {
			o.mu.Unlock()
			continue
		}
		_, err := o.apply(ctx, areaID, o.valuesFor(areaID), o.opts.TransitionOn)
		o.mu.Unlock()

		if err != nil {
			log.Error().Err(err).Str("area", areaID).Msg("Tick pass failed, will retry next interval")
		}
	}
}
