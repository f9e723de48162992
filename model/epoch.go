package model

// EpochTime records the wall-clock window an epoch spans.
type EpochTime struct {
	Start string `json:"start"`
	End string `json:"end"`
	DurationMinutes int `json:"duration_minutes"`
}

// FanPerformance aggregates fan metrics over an epoch (v1 nested summary
// shape, open question — legacy flat shape is not implemented).
type FanPerformance struct {
	AvgCFM float64 `json:"avg_cfm"`
	AvgRPM float64 `json:"avg_rpm"`
	AvgPowerW float64 `json:"avg_power_w"`
	AvgEfficiency float64 `json:"avg_efficiency_cfm_w"`
	TotalEnergyWh float64 `json:"total_energy_wh"`
}

// AirQuality aggregates environmental metrics over an epoch.
type AirQuality struct {
	AvgTVOCPpb float64 `json:"avg_tvoc_ppb"`
	AvgECO2Ppm float64 `json:"avg_eco2_ppm"`
	AvgPM25Ugm3 float64 `json:"avg_pm25_ugm3"`
	AvgTempC float64 `json:"avg_temp_c"`
	AvgHumidityPct float64 `json:"avg_humidity_pct"`
}

// Mitigation aggregates the epoch's toxic-air-removal contribution.
type Mitigation struct {
	TotalTarCFMMin float64 `json:"total_tar_cfm_min"`
	AvgVOCReductionPct float64 `json:"avg_voc_reduction_pct"`
}

// EpochSummary is the v1 nested aggregate shape.
type EpochSummary struct {
	FanPerformance FanPerformance `json:"fan_performance"`
	AirQuality AirQuality `json:"air_quality"`
	Mitigation Mitigation `json:"mitigation"`
}

// Epoch is a sealed, signed batch of samples.
type Epoch struct {
	EpochID string `json:"epoch_id"`
	Time EpochTime `json:"time"`
	SampleCount int `json:"sample_count"`
	Summary EpochSummary `json:"summary"`
	MerkleRoot string `json:"merkle_root"`
	LeafHashes []string `json:"leaf_hashes"`
	Issuance *Issuance `json:"issuance,omitempty"`
	Signing *Signing `json:"signing,omitempty"`
}

func (e Epoch) Clone() Epoch {
	out := e
	out.LeafHashes = append([]string(nil), e.LeafHashes...)
	if e.Issuance != nil {
		iss := *e.Issuance
		iss.Events = append([]IssuanceEvent(nil), e.Issuance.Events...)
		out.Issuance = &iss
	}
	out.Signing = nil
	return out
}
