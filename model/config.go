package model

// LogLevel is one of the levels internal/obslog recognizes.
type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo LogLevel = "INFO"
	LogWarning LogLevel = "WARNING"
	LogError LogLevel = "ERROR"
)

// Configuration is the device's full set of operator-tunable options.
// Version increments on every accepted mutation (local or remote) so a
// remote update can be expressed as a diff against a known base version,
// letting a stale update be rejected rather than silently reapplied out of
// order.
type Configuration struct {
	Version int `json:"version" yaml:"version"`

	SampleIntervalSeconds int `json:"sample_interval_seconds" yaml:"sample_interval_seconds"`
	EpochDurationMinutes int `json:"epoch_duration_minutes" yaml:"epoch_duration_minutes"`

	VerifierURL string `json:"verifier_url" yaml:"verifier_url"`
	SyncIntervalSeconds int `json:"sync_interval_seconds" yaml:"sync_interval_seconds"`
	EnableVerifierSync bool `json:"enable_verifier_sync" yaml:"enable_verifier_sync"`

	DefaultFanSpeed int `json:"default_fan_speed" yaml:"default_fan_speed"`
	MaxFanSpeed int `json:"max_fan_speed" yaml:"max_fan_speed"`
	SimulationMode bool `json:"simulation_mode" yaml:"simulation_mode"`

	VOCAlertThresholdPpb float64 `json:"voc_alert_threshold_ppb" yaml:"voc_alert_threshold_ppb"`
	VOCCriticalThresholdPpb float64 `json:"voc_critical_threshold_ppb" yaml:"voc_critical_threshold_ppb"`

	AnomalySigmaThreshold float64 `json:"anomaly_sigma_threshold" yaml:"anomaly_sigma_threshold"`
	EnableAnomalyDetection bool `json:"enable_anomaly_detection" yaml:"enable_anomaly_detection"`

	LogLevel LogLevel `json:"log_level" yaml:"log_level"`
}

// RemoteConfigUpdate is the signed wire envelope an operator (or the
// verifier on an operator's behalf) submits to change one configuration
// key. BaseVersion must match the device's current Configuration.Version or
// the update is rejected as stale.
type RemoteConfigUpdate struct {
	Key string `json:"key"`
	Value any `json:"value"`
	BaseVersion int `json:"base_version"`
	Signing *Signing `json:"signing,omitempty"`
}

// ConfigSource identifies who originated a config mutation.
type ConfigSource string

const (
	SourceLocal ConfigSource = "local"
	SourceRemote ConfigSource = "remote"
	SourceAPI ConfigSource = "api"
	SourceReset ConfigSource = "reset"
)

// ConfigHistoryRecord is appended on every accepted config mutation.
type ConfigHistoryRecord struct {
	ID string `json:"id"`
	Key string `json:"key"`
	Old any `json:"old"`
	New any `json:"new"`
	Source ConfigSource `json:"source"`
	ChangedAt string `json:"changed_at"`
}
