// Package issuance computes the deterministic token-issuance figure for a
// closed epoch: a pure function of the epoch's buffered samples
// and fixed configuration, with no failure modes of its own. Config is used
// as given: nothing checks that the split fractions sum to 1.
package issuance

import (
	"github.com/btfi/collector/model"
)

// Config is the fixed set of issuance parameters (defaults are
// given in Default()). VOC gating is optional: a device with no reliable
// VOC sensor can disable it at config load.
type Config struct {
	SamplesPerEvent int
	SampleInterval float64 // seconds

	CFMMin float64

	VOCGatingEnabled bool
	VOCMinPpb float64
	VOCMaxPpb float64

	BaselineEfficiency float64
	EIMin float64
	EIMax float64

	BaseRate float64
	BCAIScalar float64

	Split model.IssuanceSplit
	TeamCap float64
}

// Default returns S3's reference configuration.
func Default() Config {
	return Config{
		SamplesPerEvent: 60,
		SampleInterval: 60,
		CFMMin: 10,
		VOCGatingEnabled: false,
		VOCMinPpb: 0,
		VOCMaxPpb: 10000,
		BaselineEfficiency: 9.0,
		EIMin: 0.8,
		EIMax: 1.2,
		BaseRate: 0.001,
		BCAIScalar: 1.0,
		Split: model.IssuanceSplit{Facilities: 0.75, Verifiers: 0.05, Treasury: 0.10, Team: 0.10},
		TeamCap: 1e12,
	}
}

// Ledger tracks the running total of team tokens issued across epochs, so
// Compute can apply team cap without the caller threading state
// through every call.
type Ledger struct {
	teamIssued float64
}

// Compute groups samples into fixed-size events, scores each for validity,
// and derives the epoch-level issuance record. samples must be in the
// epoch's insertion order.
func (l *Ledger) Compute(cfg Config, samples []model.Sample) model.Issuance {
	events := groupEvents(cfg, samples)

	var totalTar float64
	var validEvents int
	var efficiencySum float64
	var efficiencyCount int

	for _, e := range events {
		if e.Valid {
			validEvents++
			totalTar += e.Tar
			if e.Efficiency > 0 {
				efficiencySum += e.Efficiency
				efficiencyCount++
			}
		}
	}

	qualityFactor := 0.0
	if len(events) > 0 {
		qualityFactor = float64(validEvents) / float64(len(events))
	}

	avgEfficiency := 0.0
	if efficiencyCount > 0 {
		avgEfficiency = efficiencySum / float64(efficiencyCount)
	}

	ei, tokensBase, tokensAfterQuality, tokensIssued := deriveTokens(cfg, totalTar, qualityFactor, avgEfficiency)

	split, capReached := l.split(cfg, tokensIssued)

	return model.Issuance{
		Events: events,
		TotalTar: totalTar,
		QualityFactor: qualityFactor,
		AvgEfficiency: avgEfficiency,
		EnergyInputFactor: ei,
		TokensBase: tokensBase,
		TokensAfterQuality: tokensAfterQuality,
		TokensIssued: tokensIssued,
		Split: split,
		TeamCapReached: capReached,
	}
}

// split applies the configured fractions, then enforces the team cap:
// overflow beyond the remaining team allowance is added to treasury instead.
func (l *Ledger) split(cfg Config, tokensIssued float64) (model.IssuanceSplit, bool) {
	s := model.IssuanceSplit{
		Facilities: tokensIssued * cfg.Split.Facilities,
		Verifiers: tokensIssued * cfg.Split.Verifiers,
		Treasury: tokensIssued * cfg.Split.Treasury,
		Team: tokensIssued * cfg.Split.Team,
	}

	remaining := cfg.TeamCap - l.teamIssued
	if remaining < 0 {
		remaining = 0
	}
	if s.Team <= remaining {
		l.teamIssued += s.Team
		return s, false
	}

	overflow := s.Team - remaining
	s.Team = remaining
	s.Treasury += overflow
	l.teamIssued += s.Team
	return s, true
}

// deriveTokens applies epoch-level formula: clamp the
// efficiency-energy factor, then scale total_tar by rate, ei, and quality.
func deriveTokens(cfg Config, totalTar, qualityFactor, avgEfficiency float64) (ei, tokensBase, tokensAfterQuality, tokensIssued float64) {
	eef := 0.0
	if cfg.BaselineEfficiency > 0 {
		eef = avgEfficiency / cfg.BaselineEfficiency
	}
	ei = clamp(eef, cfg.EIMin, cfg.EIMax)

	tokensBase = cfg.BaseRate * ei * totalTar
	tokensAfterQuality = tokensBase * qualityFactor
	tokensIssued = tokensAfterQuality
	if cfg.BCAIScalar != 0 {
		tokensIssued = tokensAfterQuality / cfg.BCAIScalar
	}
	return ei, tokensBase, tokensAfterQuality, tokensIssued
}

func groupEvents(cfg Config, samples []model.Sample) []model.IssuanceEvent {
	if len(samples) == 0 {
		return nil
	}

	var events []model.IssuanceEvent
	for start := 0; start < len(samples); start += cfg.SamplesPerEvent {
		end := start + cfg.SamplesPerEvent
		if end > len(samples) {
			end = len(samples)
		}
		events = append(events, computeEvent(cfg, len(events), samples[start:end]))
	}
	return events
}

func computeEvent(cfg Config, index int, group []model.Sample) model.IssuanceEvent {
	if len(group) == 0 {
		return model.IssuanceEvent{Index: index, Valid: false, InvalidReason: "InvalidData"}
	}

	var cfmSum, powerSum, vocSum float64
	for _, s := range group {
		cfmSum += s.Fan.CFM
		powerSum += s.Fan.PowerW
		vocSum += s.Environment.TVOCPpb
	}
	n := float64(len(group))
	cfmAvg, powerAvg, vocAvg := cfmSum/n, powerSum/n, vocSum/n

	minutes := n * cfg.SampleInterval / 60
	tar := cfmAvg * minutes
	energy := powerAvg * (minutes / 60)
	efficiency := 0.0
	if powerAvg > 0 {
		efficiency = cfmAvg / powerAvg
	}

	e := model.IssuanceEvent{
		Index: index,
		SampleCount: len(group),
		AvgCFM: cfmAvg,
		AvgPowerW: powerAvg,
		AvgTVOCPpb: vocAvg,
		Minutes: minutes,
		Tar: tar,
		Energy: energy,
		Efficiency: efficiency,
		Valid: true,
	}

	switch {
	case cfmAvg < cfg.CFMMin:
		e.Valid = false
		e.InvalidReason = "InvalidFanOff"
	case cfg.VOCGatingEnabled && vocAvg < cfg.VOCMinPpb:
		e.Valid = false
		e.InvalidReason = "InvalidVocLow"
	case cfg.VOCGatingEnabled && vocAvg > cfg.VOCMaxPpb:
		e.Valid = false
		e.InvalidReason = "InvalidVocHigh"
	}

	return e
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
