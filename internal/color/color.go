// Package color converts between correlated color temperature, CIE 1931 xy
// chromaticity and 8-bit sRGB. All conversions are pure functions.
//
// The CCT to xy conversion uses the Krystek & Moritz polynomial
// approximations of the Planckian locus (Krystek 1985), valid from 1000K to
// 25000K. The pipeline is forward-only: cct -> xy -> rgb is accurate against
// the reference coefficients, the reverse direction is approximate.
package color

import (
	"math"

	"github.com/glowlab/glowd/internal/light"
)

// Polynomial breakpoints for the Krystek approximation.
const (
	xBreakpointK  = 4000.0
	yBreakpoint1K = 2222.0
	yBreakpoint2K = 4000.0

	minKelvin = 1000.0
	maxKelvin = 25000.0
)

// CCTToXY converts a color temperature in Kelvin to CIE 1931 xy.
// Input is clamped to [1000K, 25000K].
func CCTToXY(kelvin float64) light.XY {
	t := math.Max(minKelvin, math.Min(kelvin, maxKelvin))

	// Reciprocal temperature in thousands of Kelvin keeps the polynomial
	// numerically stable.
	invT := 1000.0 / t

	var x float64
	if t <= xBreakpointK {
		x = -0.2661239*invT*invT*invT -
			0.2343589*invT*invT +
			0.8776956*invT +
			0.179910
	} else {
		x = -3.0258469*invT*invT*invT +
			2.1070379*invT*invT +
			0.2226347*invT +
			0.240390
	}

	var y float64
	switch {
	case t <= yBreakpoint1K:
		y = -1.1063814*x*x*x -
			1.34811020*x*x +
			2.18555832*x -
			0.20219683
	case t <= yBreakpoint2K:
		y = -0.9549476*x*x*x -
			1.37418593*x*x +
			2.09137015*x -
			0.16748867
	default:
		y = 3.0817580*x*x*x -
			5.87338670*x*x +
			3.75112997*x -
			0.37001483
	}

	return light.XY{X: x, Y: y}
}

// XYToRGB converts an xy chromaticity (relative luminance Y=1) to 8-bit
// sRGB. Out-of-gamut inputs are clamped, never wrapped.
func XYToRGB(xy light.XY) light.RGB {
	// xy -> XYZ with Y=1.
	bigY := 1.0
	var bigX, bigZ float64
	if xy.Y != 0 {
		bigX = (xy.X * bigY) / xy.Y
		bigZ = ((1 - xy.X - xy.Y) * bigY) / xy.Y
	}

	// XYZ -> linear sRGB.
	r := 3.2404542*bigX - 1.5371385*bigY - 0.4985314*bigZ
	g := -0.9692660*bigX + 1.8760108*bigY + 0.0415560*bigZ
	b := 0.0556434*bigX - 0.2040259*bigY + 1.0572252*bigZ

	r = math.Max(0, r)
	g = math.Max(0, g)
	b = math.Max(0, b)

	// Normalize instead of clipping so the hue survives out-of-gamut inputs.
	if maxc := math.Max(r, math.Max(g, b)); maxc > 1 {
		r /= maxc
		g /= maxc
		b /= maxc
	}

	return light.RGB{
		R: encodeChannel(r),
		G: encodeChannel(g),
		B: encodeChannel(b),
	}
}

// CCTToRGB converts a color temperature to 8-bit sRGB.
func CCTToRGB(kelvin float64) light.RGB {
	return XYToRGB(CCTToXY(kelvin))
}

// RGBToXY converts an 8-bit sRGB color back to xy chromaticity. This is the
// approximate reverse direction; round trips through CCTToRGB are not exact.
func RGBToXY(rgb light.RGB) light.XY {
	r := decodeChannel(float64(rgb.R) / 255.0)
	g := decodeChannel(float64(rgb.G) / 255.0)
	b := decodeChannel(float64(rgb.B) / 255.0)

	bigX := r*0.4124564 + g*0.3575761 + b*0.1804375
	bigY := r*0.2126729 + g*0.7151522 + b*0.0721750
	bigZ := r*0.0193339 + g*0.1191920 + b*0.9503041

	sum := bigX + bigY + bigZ
	if sum == 0 {
		return light.XY{}
	}
	return light.XY{X: bigX / sum, Y: bigY / sum}
}

// encodeChannel applies the piecewise sRGB gamma and quantizes to 8 bits.
func encodeChannel(c float64) uint8 {
	var enc float64
	if c <= 0.0031308 {
		enc = 12.92 * c
	} else {
		enc = 1.055*math.Pow(c, 1.0/2.4) - 0.055
	}
	v := math.Round(enc * 255.0)
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return uint8(v)
}

// decodeChannel removes the sRGB gamma from a [0,1] channel value.
func decodeChannel(c float64) float64 {
	if c > 0.04045 {
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return c / 12.92
}
