package fan

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpolate_ClampsInput(t *testing.T) {
	curves := DefaultCurves(400, 40, 2000)
	below := Interpolate(curves, -20)
	zero := Interpolate(curves, 0)
	require.Equal(t, zero, below)

	above := Interpolate(curves, 150)
	full := Interpolate(curves, 100)
	require.Equal(t, full, above)
}

func TestInterpolate_ZeroPowerZeroEfficiency(t *testing.T) {
	curves := DefaultCurves(400, 40, 2000)
	m := Interpolate(curves, 0)
	require.Equal(t, 0.0, m.PowerW)
	require.Equal(t, 0.0, m.EfficiencyCFMW)
}

func TestInterpolate_Monotonic(t *testing.T) {
	curves := DefaultCurves(400, 40, 2000)
	prevCFM := -1.0
	for pwm := 0.0; pwm <= 100; pwm += 5 {
		m := Interpolate(curves, pwm)
		require.GreaterOrEqual(t, m.CFM, prevCFM)
		prevCFM = m.CFM
	}
}

func TestInterpolate_ExactAnchor(t *testing.T) {
	curves := DefaultCurves(400, 40, 2000)
	m := Interpolate(curves, 50)
	require.InDelta(t, 0.50*400, m.CFM, 1e-9)
}
