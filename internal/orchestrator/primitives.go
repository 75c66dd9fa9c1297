package orchestrator

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"

	"github.com/glowlab/glowd/internal/area"
	"github.com/glowlab/glowd/internal/curve"
	"github.com/glowlab/glowd/internal/light"
)

// Switch button commands as delivered by the transport.
const (
	CmdOnPress        = "on_press"
	CmdOffPress       = "off_press"
	CmdUpPress        = "up_press"
	CmdDownPress      = "down_press"
	CmdOffTriplePress = "off_triple_press"
)

// HandleButton maps a physical switch press to a primitive. The device is
// resolved to its area through the routing cache; presses from unmapped
// devices are ignored with a warning.
func (o *Orchestrator) HandleButton(ctx context.Context, deviceID, command string) error {
	areaID, err := o.router.AreaForDevice(ctx, deviceID)
	if err != nil {
		log.Warn().Str("device", deviceID).Str("command", command).Err(err).Msg("No area mapping for switch")
		return nil
	}

	log.Info().
		Str("device", deviceID).
		Str("area", areaID).
		Str("command", command).
		Msg("Switch press")

	switch command {
	case CmdOnPress:
		return o.Toggle(ctx, areaID)
	case CmdOffPress:
		return o.Reset(ctx, areaID)
	case CmdUpPress:
		_, err := o.Step(ctx, areaID, curve.StepUp)
		return o.demoteAreaOff(areaID, err)
	case CmdDownPress:
		_, err := o.Step(ctx, areaID, curve.StepDown)
		return o.demoteAreaOff(areaID, err)
	case CmdOffTriplePress:
		return o.RandomColor(ctx, areaID)
	default:
		log.Debug().Str("command", command).Msg("Unhandled switch command")
		return nil
	}
}

func (o *Orchestrator) demoteAreaOff(areaID string, err error) error {
	if err == ErrAreaOff {
		log.Debug().Str("area", areaID).Msg("Step ignored, area is off")
		return nil
	}
	return err
}

// Toggle turns the area's magic lighting on or off depending on its mode.
// The area's own mode stands in for the external light state.
func (o *Orchestrator) Toggle(ctx context.Context, areaID string) error {
	if o.areas.Mode(areaID) == area.ModeOff {
		_, err := o.SetMode(ctx, areaID, area.ModeMagic)
		return err
	}
	_, err := o.SetMode(ctx, areaID, area.ModeOff)
	return err
}

// Reset zeroes the area's offset, enables magic mode and applies lighting
// for the actual current time.
func (o *Orchestrator) Reset(ctx context.Context, areaID string) error {
	o.areas.SetOffset(areaID, 0)
	_, err := o.SetMode(ctx, areaID, area.ModeMagic)
	if err != nil {
		return fmt.Errorf("reset %s: %w", areaID, err)
	}
	return nil
}

// RandomColor leaves the curve entirely: magic mode is disabled (lights
// stay on, manual) and the area is painted a random color.
func (o *Orchestrator) RandomColor(ctx context.Context, areaID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bumpSeq(areaID)

	o.areas.SetMode(areaID, area.ModeManual)

	rgb := light.RGB{
		R: uint8(rand.Intn(256)),
		G: uint8(rand.Intn(256)),
		B: uint8(rand.Intn(256)),
	}

	d, err := o.router.Resolve(ctx, areaID)
	if err != nil {
		return o.demoteNothingToControl(areaID, err)
	}
	if err := o.router.DispatchRGB(ctx, d, rgb, 80, o.opts.TransitionStep); err != nil {
		return err
	}

	log.Info().Str("area", areaID).Uint8("r", rgb.R).Uint8("g", rgb.G).Uint8("b", rgb.B).Msg("Random color applied")
	return nil
}
