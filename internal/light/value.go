// Package light defines the value types shared between the curve engine,
// the router and the transport layer.
package light

import "fmt"

// ColorMode selects which color representation is sent to lights.
// Exactly one representation is authoritative per command; the others are
// derived for display and compatibility only.
type ColorMode string

const (
	ColorModeKelvin ColorMode = "kelvin"
	ColorModeRGB    ColorMode = "rgb"
	ColorModeXY     ColorMode = "xy"
)

// ParseColorMode parses a color mode string, defaulting to kelvin for
// unknown values.
func ParseColorMode(s string) (ColorMode, error) {
	switch ColorMode(s) {
	case ColorModeKelvin, ColorModeRGB, ColorModeXY:
		return ColorMode(s), nil
	case "":
		return ColorModeKelvin, nil
	}
	return ColorModeKelvin, fmt.Errorf("invalid color mode %q", s)
}

// RGB is an 8-bit display color.
type RGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// XY is a CIE 1931 chromaticity coordinate.
type XY struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Value is a fully computed lighting target. Brightness is a percentage in
// [1,100] - never 0 while the lights are considered on.
type Value struct {
	Kelvin     int     `json:"kelvin"`
	Brightness int     `json:"brightness"`
	RGB        RGB     `json:"rgb"`
	XY         XY      `json:"xy"`
	SolarTime  float64 `json:"solar_time"`
}

func (v Value) String() string {
	return fmt.Sprintf("%dK/%d%%", v.Kelvin, v.Brightness)
}
