// Package fan implements the stateless piecewise-linear PWM duty -> fan
// performance mapping. Three independent curves (CFM, power,
// RPM) are each defined over the fixed anchor points 0,10,...,100 and
// scaled by the configured maxima; efficiency is derived, not curved.
package fan

import "sort"

// Curve is a small, composable piecewise-linear lookup: Anchors[i] maps to
// Fractions[i] (0..1 of the configured maximum for that metric), and values
// between anchors are linearly interpolated.
type Curve struct {
	Anchors []float64
	Fractions []float64
}

// defaultAnchors are the fixed 0,10,...,100 points specifies.
var defaultAnchors = []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewCurve builds a Curve over the default anchors from a same-length
// fraction table (each entry in [0,1], expressing the fraction of the
// metric's configured maximum reached at that PWM duty).
func NewCurve(fractions []float64) Curve {
	return Curve{Anchors: defaultAnchors, Fractions: fractions}
}

// At returns the interpolated fraction at pwm (clamped to [0,100]).
func (c Curve) At(pwm float64) float64 {
	pwm = clamp(pwm, 0, 100)
	i := sort.SearchFloat64s(c.Anchors, pwm)
	if i < len(c.Anchors) && c.Anchors[i] == pwm {
		return c.Fractions[i]
	}
	// i is the index of the first anchor >= pwm; interpolate between i-1 and i.
	if i == 0 {
		return c.Fractions[0]
	}
	if i >= len(c.Anchors) {
		return c.Fractions[len(c.Fractions)-1]
	}
	x0, x1 := c.Anchors[i-1], c.Anchors[i]
	y0, y1 := c.Fractions[i-1], c.Fractions[i]
	t := (pwm - x0) / (x1 - x0)
	return y0 + t*(y1-y0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Curves bundles the three independent metric curves plus the maxima they
// scale against.
type Curves struct {
	CFM Curve
	Power Curve
	RPM Curve

	MaxCFM float64
	MaxPower float64
	MaxRPM float64
}

// DefaultCurves returns a representative fixed curve set for a small
// single-board-computer-driven exhaust fan: airflow and RPM rise roughly
// linearly with duty, power rises slightly super-linearly at the top end
// (fan motor efficiency drops near max speed).
func DefaultCurves(maxCFM, maxPower, maxRPM float64) Curves {
	return Curves{
		CFM: NewCurve([]float64{0, 0.09, 0.19, 0.29, 0.39, 0.50, 0.61, 0.72, 0.83, 0.92, 1.0}),
		Power: NewCurve([]float64{0, 0.05, 0.11, 0.18, 0.27, 0.37, 0.49, 0.62, 0.76, 0.88, 1.0}),
		RPM: NewCurve([]float64{0, 0.10, 0.20, 0.30, 0.40, 0.50, 0.60, 0.70, 0.80, 0.90, 1.0}),
		MaxCFM: maxCFM,
		MaxPower: maxPower,
		MaxRPM: maxRPM,
	}
}

// Metrics is the {cfm,rpm,power_w,efficiency_cfm_w} result.
type Metrics struct {
	CFM float64
	RPM float64
	PowerW float64
	EfficiencyCFMW float64
}

// Interpolate computes Metrics for a PWM duty percentage, clamped to [0,100].
func Interpolate(curves Curves, pwmPercent float64) Metrics {
	pwm := clamp(pwmPercent, 0, 100)
	cfm := curves.CFM.At(pwm) * curves.MaxCFM
	power := curves.Power.At(pwm) * curves.MaxPower
	rpm := curves.RPM.At(pwm) * curves.MaxRPM

	var efficiency float64
	if power > 0 {
		efficiency = cfm / power
	}

	return Metrics{CFM: cfm, RPM: rpm, PowerW: power, EfficiencyCFMW: efficiency}
}
