// Package registry models the area/device registry supplied by the host
// platform. The daemon never populates it itself: snapshots arrive through
// the transport and are served from a cache until the platform reports a
// change.
package registry

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Protocol tags a device with the integration it is reachable through.
type Protocol string

const (
	ProtocolZigbee Protocol = "zigbee"
	ProtocolWiFi   Protocol = "wifi"
	ProtocolZWave  Protocol = "zwave"
)

// GroupPrefix names the pre-synchronized device group entity for an area,
// e.g. "Magic_living_room".
const GroupPrefix = "Magic_"

// Device is a single registry entry.
type Device struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	AreaID   string   `json:"area_id"`
	Protocol Protocol `json:"protocol"`
	IsLight  bool     `json:"is_light"`
}

// Area groups devices plus the optional pre-synchronized group entity.
type Area struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	GroupEntity string   `json:"group_entity,omitempty"`
	Devices     []Device `json:"devices"`
}

// Lights returns the controllable lights of the area.
func (a Area) Lights() []Device {
	var out []Device
	for _, d := range a.Devices {
		if d.IsLight {
			out = append(out, d)
		}
	}
	return out
}

// HasGroupParity reports whether every light in the area shares the
// group-capable protocol, making the pre-synchronized group a complete
// stand-in for the area.
func (a Area) HasGroupParity() bool {
	lights := a.Lights()
	if len(lights) == 0 {
		return false
	}
	for _, d := range lights {
		if d.Protocol != ProtocolZigbee {
			return false
		}
	}
	return true
}

// GroupEntityFor derives the conventional group entity id for an area name.
func GroupEntityFor(areaName string) string {
	return GroupPrefix + strings.ReplaceAll(areaName, " ", "_")
}

// Snapshot is one consistent view of the registry.
type Snapshot struct {
	Areas map[string]Area `json:"areas"`
}

// AreaForDevice finds the area containing the device.
func (s *Snapshot) AreaForDevice(deviceID string) (string, bool) {
	for id, a := range s.Areas {
		for _, d := range a.Devices {
			if d.ID == deviceID {
				return id, true
			}
		}
	}
	return "", false
}

// Provider serves registry snapshots on demand.
type Provider interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// ErrNotReady is returned before the first snapshot has arrived.
var ErrNotReady = errors.New("registry snapshot not yet available")

// Cache is a Provider fed externally (by the transport) and read by the
// router. Change listeners fire after every update so routing caches can
// invalidate without polling.
type Cache struct {
	mu        sync.RWMutex
	snap      *Snapshot
	listeners []func()
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Snapshot returns the latest snapshot or ErrNotReady.
func (c *Cache) Snapshot(_ context.Context) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snap == nil {
		return nil, ErrNotReady
	}
	return c.snap, nil
}

// Update replaces the snapshot and notifies change listeners.
func (c *Cache) Update(snap *Snapshot) {
	c.mu.Lock()
	c.snap = snap
	listeners := c.listeners
	c.mu.Unlock()

	log.Debug().Int("areas", len(snap.Areas)).Msg("Registry snapshot updated")
	for _, fn := range listeners {
		fn()
	}
}

// OnChange registers a listener invoked after every snapshot update.
func (c *Cache) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}
