package sensor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/btfi/collector/model"
)

// SimConfig parameterizes Simulated the way original_source/sensors/simulator.py's
// module-level SIMULATION table does: baseline + noise + spike knobs per
// channel, plus the fan's configured maximum CFM for the reduction-rate
// calculation.
type SimConfig struct {
	VOCBaselinePpb float64
	VOCNoisePpb float64
	VOCSpikeProbability float64
	VOCSpikeMagnitude float64

	TempBaselineC float64
	TempNoiseC float64

	HumidityBaselinePct float64
	HumidityNoisePct float64

	CO2BaselinePpm float64
	CO2NoisePpm float64

	PM25BaselineUgm3 float64
	PM25NoiseUgm3 float64

	MaxCFM float64

	// DriftEnabled gates a supplemental slow sinusoidal baseline drift;
	// off by default to match the original simulator's readings exactly.
	DriftEnabled bool
	// DriftPeriod is the drift cycle length (original source uses ~15min).
	DriftPeriod time.Duration
}

// DefaultSimConfig mirrors original_source/sensors/simulator.py's SIMULATION
// defaults (voc_baseline_ppb, voc_noise_ppb, voc_spike_probability,
// voc_spike_magnitude, temp/humidity/co2 baselines and noise bands).
func DefaultSimConfig(maxCFM float64) SimConfig {
	return SimConfig{
		VOCBaselinePpb: 150,
		VOCNoisePpb: 10,
		VOCSpikeProbability: 0.02,
		VOCSpikeMagnitude: 400,

		TempBaselineC: 22,
		TempNoiseC: 0.3,

		HumidityBaselinePct: 45,
		HumidityNoisePct: 2,

		CO2BaselinePpm: 600,
		CO2NoisePpm: 15,

		PM25BaselineUgm3: 8,
		PM25NoiseUgm3: 1.5,

		MaxCFM: maxCFM,

		DriftEnabled: false,
		DriftPeriod: 15 * time.Minute,
	}
}

// Simulated generates realistic environmental readings without any hardware
// dependency, grounded on original_source/sensors/simulator.py's
// SimulatedSensors: a VOC baseline subject to configurable Gaussian noise and
// rare spike events, decaying toward baseline at a rate proportional to
// cfm/max_cfm, plus correlated temperature/humidity/CO2/PM2.5 channels.
type Simulated struct {
	cfg SimConfig
	rng *rand.Rand

	mu sync.Mutex
	startedAt time.Time
	vocLevel float64
	co2Level float64
	inSpike bool
	spikeTicks int
}

// NewSimulated seeds the simulator's internal VOC/CO2 state at their
// configured baselines, as the original constructor does.
func NewSimulated(cfg SimConfig, seed int64) *Simulated {
	return &Simulated{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		startedAt: time.Now(),
		vocLevel: cfg.VOCBaselinePpb,
		co2Level: cfg.CO2BaselinePpm,
	}
}

// ReadAll never actually fails, but still satisfies Source's fallback
// contract: Debug is always returned with every field fresh since there is
// nothing to degrade in the simulator.
func (s *Simulated) ReadAll(_ context.Context, pwmPercent int) (model.Environment, Debug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfm := 0.0
	if s.cfg.MaxCFM > 0 {
		cfm = (float64(pwmPercent) / 100) * s.cfg.MaxCFM
	}

	env := model.Environment{
		TVOCPpb: s.simulateVOC(cfm),
		ECO2Ppm: s.simulateCO2(cfm),
		PM25Ugm3: s.simulatePM25(cfm),
		TempC: s.simulateTemp(),
		HumidityPct: s.simulateHumidity(),
		DPPa: s.simulatePressure(cfm),
	}
	return env, Debug{Stale: map[string]bool{}}, nil
}

func (s *Simulated) gauss(mean, noiseRange float64) float64 {
	return mean + s.rng.NormFloat64()*(noiseRange/2)
}

// simulateVOC reproduces simulator.py's _simulate_voc: spike onset is a
// per-tick Bernoulli draw, decaying over a randomized 3-10 tick duration;
// ventilation reduces the level toward baseline at 0.02*(cfm/max_cfm) per
// tick, with a slower 0.005 natural decay applied regardless of airflow.
func (s *Simulated) simulateVOC(cfm float64) float64 {
	baseline := s.vocBaseline()

	if !s.inSpike && s.rng.Float64() < s.cfg.VOCSpikeProbability {
		s.inSpike = true
		s.spikeTicks = 3 + s.rng.Intn(8) // 3..10
		s.vocLevel += s.cfg.VOCSpikeMagnitude * (0.5 + s.rng.Float64())
	}
	if s.inSpike {
		s.spikeTicks--
		if s.spikeTicks <= 0 {
			s.inSpike = false
		}
	}

	if cfm > 0 && s.cfg.MaxCFM > 0 {
		rate := 0.02 * (cfm / s.cfg.MaxCFM)
		s.vocLevel -= (s.vocLevel - baseline) * rate
	}
	s.vocLevel -= (s.vocLevel - baseline) * 0.005

	voc := s.gauss(s.vocLevel, s.cfg.VOCNoisePpb)
	if voc < 0 {
		voc = 0
	}
	return round1(voc)
}

// vocBaseline returns the configured baseline, optionally modulated by the
// supplemental slow sinusoidal drift (disabled unless DriftEnabled, so
// readings are unaffected by default).
func (s *Simulated) vocBaseline() float64 {
	if !s.cfg.DriftEnabled || s.cfg.DriftPeriod <= 0 {
		return s.cfg.VOCBaselinePpb
	}
	elapsed := time.Since(s.startedAt).Seconds()
	period := s.cfg.DriftPeriod.Seconds()
	cycle := math.Sin(elapsed/period*2*math.Pi) * (s.cfg.VOCBaselinePpb * 0.1)
	return s.cfg.VOCBaselinePpb + cycle
}

// simulateTemp mirrors the ~15 minute HVAC sine cycle in the original source.
func (s *Simulated) simulateTemp() float64 {
	elapsed := time.Since(s.startedAt).Seconds()
	cycle := math.Sin(elapsed/900*2*math.Pi) * 1.5
	temp := s.cfg.TempBaselineC + cycle
	return round1(s.gauss(temp, s.cfg.TempNoiseC))
}

func (s *Simulated) simulateHumidity() float64 {
	h := s.gauss(s.cfg.HumidityBaselinePct, s.cfg.HumidityNoisePct)
	if h < 0 {
		h = 0
	}
	if h > 100 {
		h = 100
	}
	return round1(h)
}

// simulateCO2 mirrors _simulate_co2: an exponential approach to a
// ventilation-dependent target (lower with airflow, rising without it).
func (s *Simulated) simulateCO2(cfm float64) float64 {
	target := s.cfg.CO2BaselinePpm + 100
	if cfm > 0 && s.cfg.MaxCFM > 0 {
		target = s.cfg.CO2BaselinePpm - (cfm/s.cfg.MaxCFM)*50
	}
	s.co2Level += (target - s.co2Level) * 0.05
	co2 := s.gauss(s.co2Level, s.cfg.CO2NoisePpm)
	if co2 < 350 {
		co2 = 350
	}
	return math.Round(co2)
}

// simulatePM25 has no original-source analogue; it follows the same
// ventilation-reduces-pollutant shape as VOC/CO2 at a smaller magnitude.
func (s *Simulated) simulatePM25(cfm float64) float64 {
	target := s.cfg.PM25BaselineUgm3
	if cfm > 0 && s.cfg.MaxCFM > 0 {
		target -= (cfm / s.cfg.MaxCFM) * s.cfg.PM25BaselineUgm3 * 0.3
	}
	pm := s.gauss(target, s.cfg.PM25NoiseUgm3)
	if pm < 0 {
		pm = 0
	}
	return round1(pm)
}

// simulatePressure mirrors _simulate_pressure's squared-CFM duct model:
// ~50 Pa differential is assumed at the configured maximum CFM.
func (s *Simulated) simulatePressure(cfm float64) float64 {
	if cfm <= 0 || s.cfg.MaxCFM <= 0 {
		return 0
	}
	const maxDP = 50.0
	dp := maxDP * math.Pow(cfm/s.cfg.MaxCFM, 2)
	dp = s.gauss(dp, 2)
	if dp < 0 {
		dp = 0
	}
	return round1(dp)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
