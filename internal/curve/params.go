package curve

import "fmt"

// Default parameter values. Midpoints are hours from solar midnight (morning
// half) or from solar noon (evening half).
const (
	DefaultMinBrightness = 1.0
	DefaultMaxBrightness = 100.0
	DefaultMinColorTemp  = 500.0
	DefaultMaxColorTemp  = 6500.0

	DefaultMidBriUp   = 6.0
	DefaultSteepBriUp = 1.5
	DefaultMidBriDn   = 8.0
	DefaultSteepBriDn = 1.3

	DefaultSteps = 10
	MaxSteps     = 500
)

// Params describes the morning/evening logistic curves for both channels.
// The engine assumes validated parameters; Validate is called by whatever
// surface saves them, not on every evaluation.
type Params struct {
	MinBrightness float64 `yaml:"min_brightness" json:"min_brightness"`
	MaxBrightness float64 `yaml:"max_brightness" json:"max_brightness"`
	MinColorTemp  float64 `yaml:"min_color_temp" json:"min_color_temp"`
	MaxColorTemp  float64 `yaml:"max_color_temp" json:"max_color_temp"`

	// Morning (rising) segment.
	MidBriUp   float64 `yaml:"mid_bri_up" json:"mid_bri_up"`
	SteepBriUp float64 `yaml:"steep_bri_up" json:"steep_bri_up"`
	MidCCTUp   float64 `yaml:"mid_cct_up" json:"mid_cct_up"`
	SteepCCTUp float64 `yaml:"steep_cct_up" json:"steep_cct_up"`

	// Evening (falling) segment.
	MidBriDn   float64 `yaml:"mid_bri_dn" json:"mid_bri_dn"`
	SteepBriDn float64 `yaml:"steep_bri_dn" json:"steep_bri_dn"`
	MidCCTDn   float64 `yaml:"mid_cct_dn" json:"mid_cct_dn"`
	SteepCCTDn float64 `yaml:"steep_cct_dn" json:"steep_cct_dn"`

	// When set, the CCT channel reuses the brightness channel's parameters
	// for the respective half.
	MirrorUp bool `yaml:"mirror_up" json:"mirror_up"`
	MirrorDn bool `yaml:"mirror_dn" json:"mirror_dn"`

	// Number of uniform dimming steps from min to max brightness.
	Steps int `yaml:"steps" json:"steps"`
}

// DefaultParams returns the stock curve configuration.
func DefaultParams() Params {
	return Params{
		MinBrightness: DefaultMinBrightness,
		MaxBrightness: DefaultMaxBrightness,
		MinColorTemp:  DefaultMinColorTemp,
		MaxColorTemp:  DefaultMaxColorTemp,
		MidBriUp:      DefaultMidBriUp,
		SteepBriUp:    DefaultSteepBriUp,
		MidCCTUp:      DefaultMidBriUp,
		SteepCCTUp:    DefaultSteepBriUp,
		MidBriDn:      DefaultMidBriDn,
		SteepBriDn:    DefaultSteepBriDn,
		MidCCTDn:      DefaultMidBriDn,
		SteepCCTDn:    DefaultSteepBriDn,
		MirrorUp:      true,
		MirrorDn:      true,
		Steps:         DefaultSteps,
	}
}

// Validate checks the structural invariants: min < max for every bound,
// strictly positive steepness, sane step count.
func (p Params) Validate() error {
	if p.MinBrightness >= p.MaxBrightness {
		return fmt.Errorf("min_brightness %.1f must be below max_brightness %.1f", p.MinBrightness, p.MaxBrightness)
	}
	if p.MinBrightness < 1 || p.MaxBrightness > 100 {
		return fmt.Errorf("brightness bounds %.1f..%.1f outside 1..100", p.MinBrightness, p.MaxBrightness)
	}
	if p.MinColorTemp >= p.MaxColorTemp {
		return fmt.Errorf("min_color_temp %.0f must be below max_color_temp %.0f", p.MinColorTemp, p.MaxColorTemp)
	}
	for name, k := range map[string]float64{
		"steep_bri_up": p.SteepBriUp,
		"steep_bri_dn": p.SteepBriDn,
		"steep_cct_up": p.effSteepCCTUp(),
		"steep_cct_dn": p.effSteepCCTDn(),
	} {
		if k <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, k)
		}
	}
	if p.Steps < 1 || p.Steps > MaxSteps {
		return fmt.Errorf("steps %d outside 1..%d", p.Steps, MaxSteps)
	}
	return nil
}

// effMidCCTUp and friends resolve the mirror flags.
func (p Params) effMidCCTUp() float64 {
	if p.MirrorUp {
		return p.MidBriUp
	}
	return p.MidCCTUp
}

func (p Params) effSteepCCTUp() float64 {
	if p.MirrorUp {
		return p.SteepBriUp
	}
	return p.SteepCCTUp
}

func (p Params) effMidCCTDn() float64 {
	if p.MirrorDn {
		return p.MidBriDn
	}
	return p.MidCCTDn
}

func (p Params) effSteepCCTDn() float64 {
	if p.MirrorDn {
		return p.SteepBriDn
	}
	return p.SteepCCTDn
}

// StepSize is the uniform step in the brightness domain.
func (p Params) StepSize() float64 {
	steps := p.Steps
	if steps < 1 {
		steps = 1
	} else if steps > MaxSteps {
		steps = MaxSteps
	}
	return (p.MaxBrightness - p.MinBrightness) / float64(steps)
}
