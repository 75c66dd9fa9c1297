// Package solar maps wall-clock time to a normalized sun position.
//
// The position is a pure function of local solar time: a cosine wave that is
// -1 at solar midnight, 0 at sunrise/sunset-ish quarter points and +1 at
// solar noon. It deliberately ignores season and elevation so the daily
// lighting cycle is identical year round.
package solar

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sixdouglas/suncalc"
)

const hoursPerDay = 24.0

// Clock computes sun positions for a fixed location.
type Clock struct {
	lat float64
	lon float64
	tz  *time.Location

	nowFn func() time.Time
}

// New creates a clock for the given location. Invalid coordinates fall back
// to the equator/Greenwich and an unknown timezone falls back to UTC; the
// clock itself never errors.
func New(lat, lon float64, timezone string) *Clock {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 || (lat == 0 && lon == 0) {
		log.Warn().
			Float64("lat", lat).
			Float64("lon", lon).
			Msg("Invalid or missing coordinates, falling back to 0,0")
		lat, lon = 0, 0
	}

	tz, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn().Str("timezone", timezone).Msg("Failed to load timezone, using UTC")
		tz = time.UTC
	}

	return &Clock{lat: lat, lon: lon, tz: tz, nowFn: time.Now}
}

// Now returns the current time in the clock's timezone.
func (c *Clock) Now() time.Time {
	return c.nowFn().In(c.tz)
}

// SolarNoon returns the solar noon of t's day at the clock's location.
func (c *Clock) SolarNoon(t time.Time) time.Time {
	times := suncalc.GetTimes(t.In(c.tz), c.lat, c.lon)
	return times[suncalc.SolarNoon].Value.In(c.tz)
}

// SolarMidnight returns the solar midnight belonging to t's civil day: noon
// shifted by 12h into the same day.
func (c *Clock) SolarMidnight(t time.Time) time.Time {
	noon := c.SolarNoon(t)
	if noon.Hour() >= 12 {
		return noon.Add(-12 * time.Hour)
	}
	return noon.Add(12 * time.Hour)
}

// SolarTimeAt returns t expressed in solar hours: [0,24) with 0 at solar
// midnight and 12 at solar noon.
func (c *Clock) SolarTimeAt(t time.Time) float64 {
	hoursFromNoon := t.Sub(c.SolarNoon(t)).Hours()
	solar := math.Mod(hoursFromNoon+12, hoursPerDay)
	if solar < 0 {
		solar += hoursPerDay
	}
	return solar
}

// PositionAt returns the normalized sun position for t: -1 at solar
// midnight, +1 at solar noon, smooth cosine in between.
func (c *Clock) PositionAt(t time.Time) float64 {
	return -math.Cos(2 * math.Pi * c.SolarTimeAt(t) / hoursPerDay)
}

// Position returns the sun position for the current time plus offset.
func (c *Clock) Position(offset time.Duration) float64 {
	return c.PositionAt(c.Now().Add(offset))
}

// CrossedMidnightSince reports whether solar midnight occurred in the
// half-open interval (last, now]. A zero last never reports a crossing.
func (c *Clock) CrossedMidnightSince(last, now time.Time) bool {
	if last.IsZero() || !now.After(last) {
		return false
	}
	midnight := c.SolarMidnight(now)
	if last.Before(midnight) && !now.Before(midnight) {
		return true
	}
	// The interval may span a civil-day edge, so the crossing can belong to
	// the previous day's solar midnight.
	prev := c.SolarMidnight(now.AddDate(0, 0, -1))
	return last.Before(prev) && !now.Before(prev)
}
