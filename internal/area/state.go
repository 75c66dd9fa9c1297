// Package area owns the per-area control state: magic mode and the manual
// time offset along the curve.
//
// Every area has its own record and every operation addresses exactly one
// area. There is no shared mode flag: one area's state can never leak into
// another's.
package area

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Mode is the control state of an area.
type Mode int

const (
	// ModeOff - lights off, the engine leaves the area alone.
	ModeOff Mode = iota
	// ModeMagic - lights on, values recomputed on every tick.
	ModeMagic
	// ModeManual - lights on at a frozen value, no automatic updates.
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeMagic:
		return "magic_on"
	case ModeManual:
		return "manual_on"
	default:
		return "off"
	}
}

// ParseMode parses a mode name as used in transport payloads.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "magic_on":
		return ModeMagic, nil
	case "manual_on":
		return ModeManual, nil
	}
	return ModeOff, fmt.Errorf("unknown mode %q", s)
}

// MaxOffset bounds the manual time offset in either direction.
const MaxOffset = 12 * time.Hour

// Record is the state of a single area.
type Record struct {
	AreaID    string
	Mode      Mode
	Offset    time.Duration
	UpdatedAt time.Time
}

// Store persists offsets across restarts. Mode is deliberately not
// persisted: the actual light state lives outside the process.
type Store interface {
	SaveOffset(areaID string, offset time.Duration) error
	LoadOffsets() (map[string]time.Duration, error)
}

// Manager holds all area records. Records are created lazily on first
// reference; offsets are written through to the store on every mutation.
type Manager struct {
	mu      sync.Mutex
	records map[string]*Record
	store   Store
}

// NewManager creates a manager and restores persisted offsets. Restored
// areas start in ModeOff with their saved offset.
func NewManager(store Store) (*Manager, error) {
	m := &Manager{
		records: make(map[string]*Record),
		store:   store,
	}

	offsets, err := store.LoadOffsets()
	if err != nil {
		return nil, fmt.Errorf("restore offsets: %w", err)
	}
	for areaID, offset := range offsets {
		m.records[areaID] = &Record{
			AreaID:    areaID,
			Mode:      ModeOff,
			Offset:    clampOffset(offset),
			UpdatedAt: time.Now(),
		}
	}
	if len(offsets) > 0 {
		log.Info().Int("areas", len(offsets)).Msg("Restored persisted area offsets")
	}

	return m, nil
}

// record returns the record for an area, creating it on first use.
// Callers hold m.mu.
func (m *Manager) record(areaID string) *Record {
	r, ok := m.records[areaID]
	if !ok {
		r = &Record{AreaID: areaID}
		m.records[areaID] = r
	}
	return r
}

// Get returns a copy of the area's record.
func (m *Manager) Get(areaID string) Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.record(areaID)
}

// Mode returns the area's current mode.
func (m *Manager) Mode(areaID string) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(areaID).Mode
}

// SetMode transitions the area and returns the previous mode. Turning an
// area off keeps its offset, persisted as-is for the next activation.
func (m *Manager) SetMode(areaID string, mode Mode) Mode {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.record(areaID)
	prev := r.Mode
	r.Mode = mode
	r.UpdatedAt = time.Now()

	if prev != mode {
		log.Debug().
			Str("area", areaID).
			Stringer("from", prev).
			Stringer("to", mode).
			Msg("Area mode transition")
	}
	return prev
}

// Offset returns the area's manual time offset.
func (m *Manager) Offset(areaID string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(areaID).Offset
}

// SetOffset replaces the offset, clamped to +/-MaxOffset, and persists it.
func (m *Manager) SetOffset(areaID string, offset time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setOffsetLocked(m.record(areaID), offset)
}

// AdjustOffset adds delta to the offset, clamped, and persists the result.
func (m *Manager) AdjustOffset(areaID string, delta time.Duration) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.record(areaID)
	return m.setOffsetLocked(r, r.Offset+delta)
}

func (m *Manager) setOffsetLocked(r *Record, offset time.Duration) time.Duration {
	r.Offset = clampOffset(offset)
	r.UpdatedAt = time.Now()
	if err := m.store.SaveOffset(r.AreaID, r.Offset); err != nil {
		log.Error().Err(err).Str("area", r.AreaID).Msg("Failed to persist offset")
	}
	return r.Offset
}

// ResetOffsets zeroes every nonzero offset, persisting each, and returns
// the affected area ids. Modes are untouched; this is the silent
// solar-midnight reset.
func (m *Manager) ResetOffsets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reset []string
	for _, r := range m.records {
		if r.Offset == 0 {
			continue
		}
		log.Info().
			Str("area", r.AreaID).
			Dur("old_offset", r.Offset).
			Msg("Resetting offset at solar midnight")
		m.setOffsetLocked(r, 0)
		reset = append(reset, r.AreaID)
	}
	sort.Strings(reset)
	return reset
}

// AreasInMode returns the sorted ids of all areas currently in mode.
func (m *Manager) AreasInMode(mode Mode) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for id, r := range m.records {
		if r.Mode == mode {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func clampOffset(d time.Duration) time.Duration {
	if d > MaxOffset {
		return MaxOffset
	}
	if d < -MaxOffset {
		return -MaxOffset
	}
	return d
}
