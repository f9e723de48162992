// Package anomaly implements the single-threaded online anomaly detector:
// per-field Welford statistics, bounded recency windows, a Bloom-backed
// replay prefilter, and a timestamp watermark, all mutated only after a
// sample has been fully evaluated so one outlier cannot poison the baseline
// it was checked against.
package anomaly

import (
	"fmt"
	"time"

	"github.com/btfi/collector/internal/bloom"
	"github.com/btfi/collector/model"
)

// Config holds the detector's tunable thresholds, all defaulted sensibly.
type Config struct {
	SigmaThreshold float64
	JumpThreshold float64
	WindowSize int
	FlatlineCount int
	FlatlineEps float64
	ReplayCapacity uint64
	BaselineMinCount int64
}

// DefaultConfig returns defaults.
func DefaultConfig() Config {
	return Config{
		SigmaThreshold: 3,
		JumpThreshold: 5,
		WindowSize: 20,
		FlatlineCount: 10,
		FlatlineEps: 1e-3,
		ReplayCapacity: 1000,
		BaselineMinCount: 50,
	}
}

type limit struct{ min, max float64 }

// hardLimits is rule 1's per-field impossible-value bounds.
var hardLimits = map[string]limit{
	"cfm": {0, 1000},
	"rpm": {0, 5000},
	"power_w": {0, 200},
	"tvoc_ppb": {0, 10000},
	"eco2_ppm": {200, 10000},
	"temp_c": {-20, 60},
	"humidity_pct": {0, 100},
	"dp_pa": {-500, 500},
}

// trackedFields fixes iteration order so reports are deterministic in tests.
var trackedFields = []string{"cfm", "rpm", "power_w", "tvoc_ppb", "eco2_ppm", "temp_c", "humidity_pct", "dp_pa"}

// Detector is not safe for concurrent use; the orchestrator's single tick
// loop is its only caller.
type Detector struct {
	cfg Config

	baselines map[string]*model.BaselineStats
	windows map[string]*window
	replay *bloom.ReplaySet

	haveWatermark bool
	watermark time.Time
	watermarkSeq uint64
}

// New constructs a Detector with its Bloom-backed replay prefilter sized to
// cfg.ReplayCapacity (10 bits/element, 5 hash functions, about a 0.9%
// false-positive rate at that fill level). The filter is never cleared, so
// the rate rises once more hashes than that have been recorded; every
// positive is resolved against the exact ring.
func New(cfg Config) (*Detector, error) {
	replay, err := bloom.NewReplaySet(cfg.ReplayCapacity, 10, 5)
	if err != nil {
		return nil, fmt.Errorf("anomaly: replay set: %w", err)
	}

	d := &Detector{
		cfg: cfg,
		baselines: make(map[string]*model.BaselineStats, len(trackedFields)),
		windows: make(map[string]*window, len(trackedFields)),
		replay: replay,
	}
	for _, f := range trackedFields {
		d.baselines[f] = &model.BaselineStats{}
		d.windows[f] = newWindow(cfg.WindowSize)
	}
	return d, nil
}

// Baseline returns an immutable snapshot of field's running statistics.
func (d *Detector) Baseline(field string) model.BaselineStats {
	if b, ok := d.baselines[field]; ok {
		return *b
	}
	return model.BaselineStats{}
}

// Snapshot returns every tracked field's current BaselineStats, keyed by
// field name, for the orchestrator to persist across restarts.
func (d *Detector) Snapshot() map[string]model.BaselineStats {
	out := make(map[string]model.BaselineStats, len(d.baselines))
	for f, b := range d.baselines {
		out[f] = *b
	}
	return out
}

// Restore seeds baseline statistics from a prior Snapshot. It does not
// touch the recency windows, replay set, or watermark — those are
// intentionally not persisted, so a restart starts detecting sudden-jump
// and flatline conditions fresh while out-of-range detection resumes
// immediately against the restored baseline.
func (d *Detector) Restore(snapshot map[string]model.BaselineStats) {
	for f, b := range snapshot {
		if _, ok := d.baselines[f]; ok {
			cp := b
			d.baselines[f] = &cp
		}
	}
}

func fieldValues(s model.Sample) map[string]float64 {
	return map[string]float64{
		"cfm": s.Fan.CFM,
		"rpm": s.Fan.RPM,
		"power_w": s.Fan.PowerW,
		"tvoc_ppb": s.Environment.TVOCPpb,
		"eco2_ppm": s.Environment.ECO2Ppm,
		"temp_c": s.Environment.TempC,
		"humidity_pct": s.Environment.HumidityPct,
		"dp_pa": s.Environment.DPPa,
	}
}

// Check evaluates sample against all seven detection rules in order and
// returns the resulting summary (nil if nothing fired). payloadHash is the
// caller's canonical SHA-256 of the sample (the orchestrator hashes the
// unsigned sample before anomalies are attached), passed in so the detector
// stays free of a canon dependency.
func (d *Detector) Check(sample model.Sample, payloadHash []byte) (*model.AnomalySummary, error) {
	values := fieldValues(sample)
	var reports []model.AnomalyReport

	// Rule 1: impossible value.
	for _, f := range trackedFields {
		lim := hardLimits[f]
		x := values[f]
		if x < lim.min || x > lim.max {
			reports = append(reports, model.AnomalyReport{
				Rule: "impossible_value", Field: f, Severity: "Critical",
				Detail: fmt.Sprintf("%s=%g outside [%g,%g]", f, x, lim.min, lim.max),
			})
		}
	}

	// Rule 2: out of range (requires warmed-up baseline).
	for _, f := range trackedFields {
		b := d.baselines[f]
		if b.Count < d.cfg.BaselineMinCount {
			continue
		}
		sd := b.StdDev()
		if sd == 0 {
			continue
		}
		x := values[f]
		z := abs(x-b.Mean) / sd
		if z > d.cfg.SigmaThreshold {
			sev := "Warning"
			if z > 2*d.cfg.SigmaThreshold {
				sev = "Critical"
			}
			reports = append(reports, model.AnomalyReport{
				Rule: "out_of_range", Field: f, Severity: sev,
				Detail: fmt.Sprintf("%s=%g is %.2f stddev from mean %.2f", f, x, z, b.Mean),
			})
		}
	}

	// Rule 3: sudden jump.
	for _, f := range trackedFields {
		w := d.windows[f]
		last, ok := w.last()
		if !ok {
			continue
		}
		sd := d.baselines[f].StdDev()
		if sd == 0 {
			continue
		}
		x := values[f]
		if abs(x-last)/sd > d.cfg.JumpThreshold {
			reports = append(reports, model.AnomalyReport{
				Rule: "sudden_jump", Field: f, Severity: "Warning",
				Detail: fmt.Sprintf("%s jumped from %g to %g", f, last, x),
			})
		}
	}

	// Rule 4: flatline.
	for _, f := range trackedFields {
		if d.windows[f].flatlined(d.cfg.FlatlineCount, d.cfg.FlatlineEps) {
			reports = append(reports, model.AnomalyReport{
				Rule: "flatline", Field: f, Severity: "Warning",
				Detail: fmt.Sprintf("%s unchanged for %d samples", f, d.cfg.FlatlineCount),
			})
		}
	}

	// Rule 5: timestamp violation.
	ts, tsErr := time.Parse(time.RFC3339, sample.Timestamp)
	if tsErr == nil && d.haveWatermark {
		if ts.Before(d.watermark) || (ts.Equal(d.watermark) && sample.SequenceNumber <= d.watermarkSeq) {
			reports = append(reports, model.AnomalyReport{
				Rule: "timestamp_violation", Severity: "Critical",
				Detail: fmt.Sprintf("timestamp %s (seq %d) does not advance past watermark %s (seq %d)",
					sample.Timestamp, sample.SequenceNumber, d.watermark.Format(time.RFC3339), d.watermarkSeq),
			})
		}
	}

	// Rule 6: replay.
	if len(payloadHash) > 0 {
		seen, err := d.replay.Seen(payloadHash)
		if err != nil {
			return nil, fmt.Errorf("anomaly: replay check: %w", err)
		}
		if seen {
			reports = append(reports, model.AnomalyReport{
				Rule: "replay", Severity: "Critical",
				Detail: "payload_hash already seen in the recent-hash window",
			})
		}
	}

	// Rule 7: cross-sensor mismatch.
	cfm, power, rpm := values["cfm"], values["power_w"], values["rpm"]
	switch {
	case cfm > 10 && power < 1:
		reports = append(reports, crossSensorReport("cfm>10 with power_w<1"))
	case cfm > 10 && rpm < 100:
		reports = append(reports, crossSensorReport("cfm>10 with rpm<100"))
	case power > 5 && rpm < 100:
		reports = append(reports, crossSensorReport("power_w>5 with rpm<100"))
	case power > 5 && cfm/power > 20:
		reports = append(reports, crossSensorReport("cfm/power_w>20"))
	}

	// Post-detection state update.
	for _, f := range trackedFields {
		d.baselines[f].Update(values[f])
		d.windows[f].push(values[f])
	}
	if tsErr == nil {
		if !d.haveWatermark || ts.After(d.watermark) {
			d.watermark, d.watermarkSeq, d.haveWatermark = ts, sample.SequenceNumber, true
		} else if ts.Equal(d.watermark) && sample.SequenceNumber > d.watermarkSeq {
			d.watermarkSeq = sample.SequenceNumber
		}
	}
	if len(payloadHash) > 0 {
		if err := d.replay.Record(payloadHash); err != nil {
			return nil, fmt.Errorf("anomaly: replay record: %w", err)
		}
	}

	if len(reports) == 0 {
		return nil, nil
	}
	summary := &model.AnomalySummary{Reports: reports}
	for _, r := range reports {
		if severityRank(r.Severity) > severityRank(summary.HighestSeverity) {
			summary.HighestSeverity = r.Severity
		}
	}
	return summary, nil
}

func crossSensorReport(detail string) model.AnomalyReport {
	return model.AnomalyReport{Rule: "cross_sensor_mismatch", Severity: "Warning", Detail: detail}
}

func severityRank(s string) int {
	switch s {
	case "Critical":
		return 3
	case "Warning":
		return 2
	case "Info":
		return 1
	default:
		return 0
	}
}
