package anomaly

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btfi/collector/model"
)

func baseSample(seq uint64, ts time.Time) model.Sample {
	return model.Sample{
		Timestamp: ts.Format(time.RFC3339),
		SequenceNumber: seq,
		DeviceID: "btfi-test",
		Fan: model.Fan{CFM: 250, RPM: 1500, PowerW: 28},
		Environment: model.Environment{
			TVOCPpb: 150, ECO2Ppm: 600, TempC: 22, HumidityPct: 45, DPPa: 10,
		},
	}
}

func hashFor(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}

// TestDetector_ReplayDetection is S5: feeding an identical sample a
// second time yields exactly one Replay report, severity Critical.
func TestDetector_ReplayDetection(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	a := baseSample(1, base)
	hashA := hashFor("sample-A")

	summary, err := d.Check(a, hashA)
	require.NoError(t, err)
	require.Nil(t, summary)

	aPrime := baseSample(2, base.Add(time.Minute))
	summary, err = d.Check(aPrime, hashA)
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Equal(t, "Critical", summary.HighestSeverity)

	var replays int
	for _, r := range summary.Reports {
		if r.Rule == "replay" {
			replays++
		}
	}
	require.Equal(t, 1, replays)
}

func TestDetector_ImpossibleValue(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	s := baseSample(1, time.Now())
	s.Fan.CFM = -5
	summary, err := d.Check(s, hashFor("x"))
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Equal(t, "impossible_value", summary.Reports[0].Rule)
	require.Equal(t, "Critical", summary.Reports[0].Severity)
}

func TestDetector_TimestampViolation(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	_, err = d.Check(baseSample(1, base), hashFor("a"))
	require.NoError(t, err)

	summary, err := d.Check(baseSample(2, base.Add(-time.Second)), hashFor("b"))
	require.NoError(t, err)
	require.NotNil(t, summary)

	var found bool
	for _, r := range summary.Reports {
		if r.Rule == "timestamp_violation" {
			found = true
		}
	}
	require.True(t, found)
}

func TestDetector_CrossSensorMismatch(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	s := baseSample(1, time.Now())
	s.Fan.CFM = 200
	s.Fan.PowerW = 0.5
	summary, err := d.Check(s, hashFor("y"))
	require.NoError(t, err)
	require.NotNil(t, summary)

	var found bool
	for _, r := range summary.Reports {
		if r.Rule == "cross_sensor_mismatch" {
			found = true
		}
	}
	require.True(t, found)
}

func TestDetector_FlatlineAfterTenIdenticalSamples(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	var last *model.AnomalySummary
	for i := 0; i < 11; i++ {
		s := baseSample(uint64(i+1), base.Add(time.Duration(i)*time.Minute))
		summary, err := d.Check(s, hashFor(string(rune('a'+i))))
		require.NoError(t, err)
		last = summary
	}
	require.NotNil(t, last)

	var found bool
	for _, r := range last.Reports {
		if r.Rule == "flatline" {
			found = true
		}
	}
	require.True(t, found)
}
