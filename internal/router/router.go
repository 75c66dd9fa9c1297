// Package router decides where a lighting command for an area is addressed
// and serializes every outbound command over the single platform channel.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/glowlab/glowd/internal/light"
	"github.com/glowlab/glowd/internal/registry"
)

// TargetKind selects how a command is addressed.
type TargetKind string

const (
	// TargetGroup addresses the pre-synchronized device group, one radio
	// broadcast for the whole area.
	TargetGroup TargetKind = "group"
	// TargetAreaBroadcast addresses the area itself; the platform fans the
	// command out to individual lights.
	TargetAreaBroadcast TargetKind = "area"
)

// Decision is a resolved command target for one area.
type Decision struct {
	AreaID   string
	Kind     TargetKind
	TargetID string
}

// ErrNothingToControl is reported when an area has no lights, no group and
// no registry entry. It is a no-op condition, not a failure.
var ErrNothingToControl = errors.New("nothing to control in area")

// Command is one outbound light command. Exactly one color representation
// is populated, selected by the configured color mode.
type Command struct {
	ID         string     `json:"id"`
	Kind       TargetKind `json:"target_kind"`
	TargetID   string     `json:"target"`
	On         bool       `json:"on"`
	Brightness int        `json:"brightness_pct,omitempty"`
	Kelvin     int        `json:"kelvin,omitempty"`
	RGB        *light.RGB `json:"rgb,omitempty"`
	XY         *light.XY  `json:"xy,omitempty"`
	Flash      bool       `json:"flash,omitempty"`
	Transition float64    `json:"transition"`
}

// Commander delivers commands to the platform. Send blocks until the
// command is acknowledged or the context expires; the router guarantees it
// is never called concurrently.
type Commander interface {
	Send(ctx context.Context, cmd Command) error
}

// parityEntry is the cached routing input for one area.
type parityEntry struct {
	parity      bool
	groupEntity string
	hasLights   bool
}

// Router resolves targets from a parity cache and dispatches commands.
//
// The cache is rebuilt only when Invalidate is called (registry-change
// notifications), never per command: mid-command registry queries would
// both waste round trips and risk overlapping requests on the single
// channel. The in-flight mutex covers the registry refresh and every Send
// so at most one request awaits a response at a time.
type Router struct {
	provider registry.Provider
	cmd      Commander
	mode     light.ColorMode

	// inflight is the single-slot guard for the command channel.
	inflight sync.Mutex

	cacheMu sync.RWMutex
	cache   map[string]parityEntry
	valid   bool
}

// New creates a router. mode selects which color representation commands
// carry.
func New(provider registry.Provider, cmd Commander, mode light.ColorMode) *Router {
	return &Router{
		provider: provider,
		cmd:      cmd,
		mode:     mode,
		cache:    make(map[string]parityEntry),
	}
}

// Invalidate drops the parity cache. Called from the registry-change
// listener; the next Resolve rebuilds it.
func (r *Router) Invalidate() {
	r.cacheMu.Lock()
	r.valid = false
	r.cacheMu.Unlock()
	log.Debug().Msg("Routing parity cache invalidated")
}

// Resolve returns the command target for an area.
func (r *Router) Resolve(ctx context.Context, areaID string) (Decision, error) {
	entry, ok, err := r.lookup(ctx, areaID)
	if err != nil {
		return Decision{}, err
	}
	if !ok || !entry.hasLights {
		return Decision{}, fmt.Errorf("%w: %s", ErrNothingToControl, areaID)
	}

	if entry.parity && entry.groupEntity != "" {
		return Decision{AreaID: areaID, Kind: TargetGroup, TargetID: entry.groupEntity}, nil
	}
	return Decision{AreaID: areaID, Kind: TargetAreaBroadcast, TargetID: areaID}, nil
}

// AreaForDevice maps a switch device to its area using the same cached
// snapshot routing uses.
func (r *Router) AreaForDevice(ctx context.Context, deviceID string) (string, error) {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return "", err
	}
	areaID, ok := snap.AreaForDevice(deviceID)
	if !ok {
		return "", fmt.Errorf("no area mapping for device %s", deviceID)
	}
	return areaID, nil
}

// Dispatch issues exactly one turn-on command for the decision. The color
// payload carries only the representation matching the configured mode;
// redundant color fields in one command make some lights flicker between
// interpretations.
func (r *Router) Dispatch(ctx context.Context, d Decision, v light.Value, transition time.Duration) error {
	cmd := Command{
		ID:         uuid.NewString(),
		Kind:       d.Kind,
		TargetID:   d.TargetID,
		On:         true,
		Brightness: v.Brightness,
		Transition: transition.Seconds(),
	}

	switch r.mode {
	case light.ColorModeRGB:
		rgb := v.RGB
		cmd.RGB = &rgb
	case light.ColorModeXY:
		xy := v.XY
		cmd.XY = &xy
	default:
		cmd.Kelvin = v.Kelvin
	}

	return r.send(ctx, cmd)
}

// DispatchRGB issues a turn-on command with an explicit RGB color,
// regardless of the configured mode. Used by the random-color primitive.
func (r *Router) DispatchRGB(ctx context.Context, d Decision, rgb light.RGB, brightness int, transition time.Duration) error {
	cmd := Command{
		ID:         uuid.NewString(),
		Kind:       d.Kind,
		TargetID:   d.TargetID,
		On:         true,
		Brightness: brightness,
		RGB:        &rgb,
		Transition: transition.Seconds(),
	}
	return r.send(ctx, cmd)
}

// TurnOff issues a single off command for the decision.
func (r *Router) TurnOff(ctx context.Context, d Decision, transition time.Duration) error {
	cmd := Command{
		ID:         uuid.NewString(),
		Kind:       d.Kind,
		TargetID:   d.TargetID,
		On:         false,
		Transition: transition.Seconds(),
	}
	return r.send(ctx, cmd)
}

// Acknowledge flashes the area's lights briefly as a visual confirmation.
func (r *Router) Acknowledge(ctx context.Context, d Decision) error {
	cmd := Command{
		ID:       uuid.NewString(),
		Kind:     d.Kind,
		TargetID: d.TargetID,
		On:       true,
		Flash:    true,
	}
	return r.send(ctx, cmd)
}

func (r *Router) send(ctx context.Context, cmd Command) error {
	r.inflight.Lock()
	defer r.inflight.Unlock()

	log.Debug().
		Str("command_id", cmd.ID).
		Str("target_kind", string(cmd.Kind)).
		Str("target", cmd.TargetID).
		Bool("on", cmd.On).
		Msg("Dispatching light command")

	if err := r.cmd.Send(ctx, cmd); err != nil {
		return fmt.Errorf("dispatch to %s %s: %w", cmd.Kind, cmd.TargetID, err)
	}
	return nil
}

// lookup serves the parity entry for an area, rebuilding the cache when it
// has been invalidated.
func (r *Router) lookup(ctx context.Context, areaID string) (parityEntry, bool, error) {
	r.cacheMu.RLock()
	if r.valid {
		entry, ok := r.cache[areaID]
		r.cacheMu.RUnlock()
		return entry, ok, nil
	}
	r.cacheMu.RUnlock()

	if err := r.refresh(ctx); err != nil {
		return parityEntry{}, false, err
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	entry, ok := r.cache[areaID]
	return entry, ok, nil
}

func (r *Router) snapshot(ctx context.Context) (*registry.Snapshot, error) {
	// Registry queries share the command channel, so they take the same
	// single-slot guard as dispatches.
	r.inflight.Lock()
	defer r.inflight.Unlock()
	return r.provider.Snapshot(ctx)
}

// refresh rebuilds the parity cache from a fresh registry snapshot.
func (r *Router) refresh(ctx context.Context) error {
	snap, err := r.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("refresh parity cache: %w", err)
	}

	cache := make(map[string]parityEntry, len(snap.Areas))
	for id, a := range snap.Areas {
		group := a.GroupEntity
		if group == "" && a.Name != "" {
			group = registry.GroupEntityFor(a.Name)
		}
		entry := parityEntry{
			parity:      a.HasGroupParity(),
			groupEntity: group,
			hasLights:   len(a.Lights()) > 0,
		}
		cache[id] = entry

		if entry.parity {
			log.Debug().Str("area", a.Name).Str("group", group).Msg("Area has group parity")
		}
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.valid = true
	r.cacheMu.Unlock()

	log.Info().Int("areas", len(cache)).Msg("Routing parity cache refreshed")
	return nil
}
