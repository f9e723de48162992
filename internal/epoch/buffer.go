// Package epoch owns the in-progress epoch buffer and the sealing sequence
// that turns a finished window of samples into a signed, issuance-priced
// Epoch document.
package epoch

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btfi/collector/internal/canon"
	"github.com/btfi/collector/internal/issuance"
	"github.com/btfi/collector/internal/merkle"
	"github.com/btfi/collector/model"
)

// Config controls epoch windowing and epoch-id generation.
type Config struct {
	Duration time.Duration
	NewID func() string
}

// Buffer accumulates samples for one open epoch window. Not safe for
// concurrent use — the orchestrator tick is its only caller.
type Buffer struct {
	cfg Config
	open bool
	start time.Time
	samples []model.Sample
}

func NewBuffer(cfg Config) *Buffer {
	return &Buffer{cfg: cfg}
}

// Add appends sample to the open epoch, opening one first if none is open.
// It reports whether the epoch duration has now been reached and should be
// closed.
func (b *Buffer) Add(sample model.Sample) (shouldClose bool, err error) {
	ts, err := time.Parse(time.RFC3339, sample.Timestamp)
	if err != nil {
		return false, fmt.Errorf("epoch: parse sample timestamp: %w", err)
	}

	if !b.open {
		b.start = ts
		b.open = true
		b.samples = nil
	}
	b.samples = append(b.samples, sample)

	return ts.Sub(b.start) >= b.cfg.Duration, nil
}

// Len reports how many samples are buffered in the currently open epoch.
func (b *Buffer) Len() int {
	return len(b.samples)
}

// IsOpen reports whether an epoch is currently accumulating samples.
func (b *Buffer) IsOpen() bool {
	return b.open
}

// Close seals the buffered samples into a signed Epoch: aggregate, leaf-hash
// each sample, compute the Merkle root, price issuance, and sign, so the
// signature covers the embedded issuance record. Persisting
// the result, packing it into an evidence archive, uploading, and forwarding
// to the verifier are the orchestrator's responsibility, since those steps
// span other components. The buffer is reset before sealing starts, so when
// Close returns an error the samples it held are no longer buffered. The buffered
// samples are returned alongside the epoch since the orchestrator's
// evidence-pack step needs them and they are gone from the buffer once this
// returns.
func (b *Buffer) Close(signer canon.Signer, issuanceCfg issuance.Config, ledger *issuance.Ledger, now time.Time) (model.Epoch, []model.Sample, error) {
	samples := b.samples
	start := b.start
	b.open = false
	b.samples = nil

	if len(samples) == 0 {
		return model.Epoch{}, nil, fmt.Errorf("epoch: close called with no buffered samples")
	}

	end, err := time.Parse(time.RFC3339, samples[len(samples)-1].Timestamp)
	if err != nil {
		return model.Epoch{}, nil, fmt.Errorf("epoch: parse last sample timestamp: %w", err)
	}

	leafHashes := make([][]byte, len(samples))
	leafHex := make([]string, len(samples))
	for i, s := range samples {
		h, err := canon.LeafHash(s)
		if err != nil {
			return model.Epoch{}, nil, fmt.Errorf("epoch: leaf hash %d: %w", i, err)
		}
		leafHashes[i] = h
		leafHex[i] = hex.EncodeToString(h)
	}
	root := merkle.Root(leafHashes)

	ep := model.Epoch{
		EpochID: b.cfg.NewID(),
		Time: model.EpochTime{
			Start: start.UTC().Format(time.RFC3339),
			End: end.UTC().Format(time.RFC3339),
			DurationMinutes: int(end.Sub(start).Minutes()),
		},
		SampleCount: len(samples),
		Summary: summarize(samples),
		MerkleRoot: hex.EncodeToString(root),
		LeafHashes: leafHex,
	}

	iss := ledger.Compute(issuanceCfg, samples)
	ep.Issuance = &iss

	signed, err := canon.SignEpoch(ep, signer, now)
	if err != nil {
		return model.Epoch{}, nil, fmt.Errorf("epoch: sign: %w", err)
	}

	return signed, samples, nil
}

// summarize computes the v1 nested aggregate shape.
func summarize(samples []model.Sample) model.EpochSummary {
	var s model.EpochSummary
	n := float64(len(samples))
	if n == 0 {
		return s
	}

	var cfm, rpm, power, energy, tvoc, eco2, pm25, temp, humidity, tar, vocReduction float64
	for _, sample := range samples {
		cfm += sample.Fan.CFM
		rpm += sample.Fan.RPM
		power += sample.Fan.PowerW
		energy += sample.Derived.EnergyWh
		tvoc += sample.Environment.TVOCPpb
		eco2 += sample.Environment.ECO2Ppm
		pm25 += sample.Environment.PM25Ugm3
		temp += sample.Environment.TempC
		humidity += sample.Environment.HumidityPct
		tar += sample.Derived.TarCFMMin
		vocReduction += sample.Derived.VOCReductionPct
	}

	avgPower := power / n
	s.FanPerformance = model.FanPerformance{
		AvgCFM: cfm / n,
		AvgRPM: rpm / n,
		AvgPowerW: avgPower,
		TotalEnergyWh: energy,
	}
	if avgPower > 0 {
		s.FanPerformance.AvgEfficiency = (cfm / n) / avgPower
	}
	s.AirQuality = model.AirQuality{
		AvgTVOCPpb: tvoc / n,
		AvgECO2Ppm: eco2 / n,
		AvgPM25Ugm3: pm25 / n,
		AvgTempC: temp / n,
		AvgHumidityPct: humidity / n,
	}
	s.Mitigation = model.Mitigation{
		TotalTarCFMMin: tar,
		AvgVOCReductionPct: vocReduction / n,
	}
	return s
}
