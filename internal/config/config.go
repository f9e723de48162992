// Package config owns the device's typed, validated configuration: local
// file persistence, remote Ed25519-signed updates checked against a trusted
// operator key fixed at Load, and the append-only history of
// every accepted mutation.
package config

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/internal/obslog"
	"github.com/btfi/collector/model"
)

// Default returns the device's out-of-box configuration.
func Default() model.Configuration {
	return model.Configuration{
		Version: 1,
		SampleIntervalSeconds: 60,
		EpochDurationMinutes: 60,
		VerifierURL: "",
		SyncIntervalSeconds: 30,
		EnableVerifierSync: false,
		DefaultFanSpeed: 50,
		MaxFanSpeed: 100,
		SimulationMode: true,
		VOCAlertThresholdPpb: 400,
		VOCCriticalThresholdPpb: 550,
		AnomalySigmaThreshold: 3,
		EnableAnomalyDetection: true,
		LogLevel: model.LogInfo,
	}
}

// Validate checks cfg against every recognized option's allowed range.
func Validate(cfg model.Configuration) error {
	switch {
	case cfg.SampleIntervalSeconds < 5 || cfg.SampleIntervalSeconds > 300:
		return errs.ConfigRejected("sample_interval_seconds out of range [5,300]")
	case cfg.EpochDurationMinutes < 15 || cfg.EpochDurationMinutes > 1440:
		return errs.ConfigRejected("epoch_duration_minutes out of range [15,1440]")
	case cfg.SyncIntervalSeconds < 10 || cfg.SyncIntervalSeconds > 600:
		return errs.ConfigRejected("sync_interval_seconds out of range [10,600]")
	case cfg.DefaultFanSpeed < 0 || cfg.DefaultFanSpeed > 100:
		return errs.ConfigRejected("default_fan_speed out of range [0,100]")
	case cfg.MaxFanSpeed < 0 || cfg.MaxFanSpeed > 100:
		return errs.ConfigRejected("max_fan_speed out of range [0,100]")
	case cfg.DefaultFanSpeed > cfg.MaxFanSpeed:
		return errs.ConfigRejected("default_fan_speed exceeds max_fan_speed")
	case cfg.AnomalySigmaThreshold < 2.0 || cfg.AnomalySigmaThreshold > 5.0:
		return errs.ConfigRejected("anomaly_sigma_threshold out of range [2.0,5.0]")
	case !validLogLevel(cfg.LogLevel):
		return errs.ConfigRejected(fmt.Sprintf("log_level %q not recognized", cfg.LogLevel))
	}
	return nil
}

func validLogLevel(l model.LogLevel) bool {
	switch l {
	case model.LogDebug, model.LogInfo, model.LogWarning, model.LogError:
		return true
	default:
		return false
	}
}

// mutableFields lists the Configuration keys SetLocal/ApplyRemote accept,
// and how to read/write them on a *model.Configuration. Kept as a table
// rather than a long switch so adding a recognized option is one line.
var mutableFields = map[string]struct {
	get func(*model.Configuration) any
	set func(*model.Configuration, any) error
}{
	"sample_interval_seconds": {
		get: func(c *model.Configuration) any { return c.SampleIntervalSeconds },
		set: func(c *model.Configuration, v any) error { return setInt(&c.SampleIntervalSeconds, v) },
	},
	"epoch_duration_minutes": {
		get: func(c *model.Configuration) any { return c.EpochDurationMinutes },
		set: func(c *model.Configuration, v any) error { return setInt(&c.EpochDurationMinutes, v) },
	},
	"verifier_url": {
		get: func(c *model.Configuration) any { return c.VerifierURL },
		set: func(c *model.Configuration, v any) error { return setString(&c.VerifierURL, v) },
	},
	"sync_interval_seconds": {
		get: func(c *model.Configuration) any { return c.SyncIntervalSeconds },
		set: func(c *model.Configuration, v any) error { return setInt(&c.SyncIntervalSeconds, v) },
	},
	"enable_verifier_sync": {
		get: func(c *model.Configuration) any { return c.EnableVerifierSync },
		set: func(c *model.Configuration, v any) error { return setBool(&c.EnableVerifierSync, v) },
	},
	"default_fan_speed": {
		get: func(c *model.Configuration) any { return c.DefaultFanSpeed },
		set: func(c *model.Configuration, v any) error { return setInt(&c.DefaultFanSpeed, v) },
	},
	"max_fan_speed": {
		get: func(c *model.Configuration) any { return c.MaxFanSpeed },
		set: func(c *model.Configuration, v any) error { return setInt(&c.MaxFanSpeed, v) },
	},
	"simulation_mode": {
		get: func(c *model.Configuration) any { return c.SimulationMode },
		set: func(c *model.Configuration, v any) error { return setBool(&c.SimulationMode, v) },
	},
	"voc_alert_threshold_ppb": {
		get: func(c *model.Configuration) any { return c.VOCAlertThresholdPpb },
		set: func(c *model.Configuration, v any) error { return setFloat(&c.VOCAlertThresholdPpb, v) },
	},
	"voc_critical_threshold_ppb": {
		get: func(c *model.Configuration) any { return c.VOCCriticalThresholdPpb },
		set: func(c *model.Configuration, v any) error { return setFloat(&c.VOCCriticalThresholdPpb, v) },
	},
	"anomaly_sigma_threshold": {
		get: func(c *model.Configuration) any { return c.AnomalySigmaThreshold },
		set: func(c *model.Configuration, v any) error { return setFloat(&c.AnomalySigmaThreshold, v) },
	},
	"enable_anomaly_detection": {
		get: func(c *model.Configuration) any { return c.EnableAnomalyDetection },
		set: func(c *model.Configuration, v any) error { return setBool(&c.EnableAnomalyDetection, v) },
	},
	"log_level": {
		get: func(c *model.Configuration) any { return c.LogLevel },
		set: func(c *model.Configuration, v any) error {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("log_level must be a string")
			}
			c.LogLevel = model.LogLevel(s)
			return nil
		},
	},
}

func setInt(dst *int, v any) error {
	switch n := v.(type) {
	case int:
		*dst = n
	case float64:
		*dst = int(n)
	default:
		return fmt.Errorf("expected a number, got %T", v)
	}
	return nil
}

func setFloat(dst *float64, v any) error {
	switch n := v.(type) {
	case float64:
		*dst = n
	case int:
		*dst = float64(n)
	default:
		return fmt.Errorf("expected a number, got %T", v)
	}
	return nil
}

func setBool(dst *bool, v any) error {
	b, ok := v.(bool)
	if !ok {
		return fmt.Errorf("expected a boolean, got %T", v)
	}
	*dst = b
	return nil
}

func setString(dst *string, v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected a string, got %T", v)
	}
	*dst = s
	return nil
}

// Manager owns the live Configuration, its on-disk YAML persistence, its
// mutation history, and the trusted operator key remote updates are
// checked against. Not safe for concurrent use outside its own locking.
type Manager struct {
	log *obslog.Logger

	configPath string

	mu sync.RWMutex
	cfg model.Configuration
	history []model.ConfigHistoryRecord

	trustedKey ed25519.PublicKey
}

// Load reads configPath (creating it with Default() if absent) and returns
// a ready Manager. trustedKey may be nil if remote updates are not in use.
func Load(configPath string, trustedKey ed25519.PublicKey) (*Manager, error) {
	log := obslog.With("config")
	m := &Manager{log: log, configPath: configPath, trustedKey: trustedKey}

	b, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		m.cfg = Default()
		if err := m.persist(); err != nil {
			return nil, err
		}
		log.Infof("wrote default configuration to %s", configPath)
		return m, nil
	} else if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var cfg model.Configuration
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s fails validation: %w", configPath, err)
	}
	m.cfg = cfg
	log.Infof("loaded configuration version %d from %s", cfg.Version, configPath)
	return m, nil
}

// Current returns a copy of the live configuration.
func (m *Manager) Current() model.Configuration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// History returns every accepted mutation so far, oldest first.
func (m *Manager) History() []model.ConfigHistoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.ConfigHistoryRecord(nil), m.history...)
}

// SetLocal applies a single key/value change from an operator acting
// directly on the device (CLI, local admin surface).
func (m *Manager) SetLocal(key string, value any) error {
	return m.apply(key, value, model.SourceLocal, m.cfg.Version)
}

// ApplyRemote verifies update's signature under the trusted operator key,
// rejects it if BaseVersion is stale, and applies it with SourceRemote.
func (m *Manager) ApplyRemote(update model.RemoteConfigUpdate) error {
	if m.trustedKey == nil {
		return errs.ConfigRejected("no trusted operator key configured")
	}
	if err := verifyUpdateSignature(update, m.trustedKey); err != nil {
		return err
	}
	m.mu.RLock()
	current := m.cfg.Version
	m.mu.RUnlock()
	if update.BaseVersion != current {
		return errs.ConfigRejected("stale_version")
	}
	return m.apply(update.Key, update.Value, model.SourceRemote, update.BaseVersion)
}

func (m *Manager) apply(key string, value any, source model.ConfigSource, baseVersion int) error {
	field, ok := mutableFields[key]
	if !ok {
		return errs.ConfigRejected(fmt.Sprintf("unrecognized option %q", key))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.Version != baseVersion {
		return errs.ConfigRejected("stale_version")
	}

	candidate := m.cfg
	oldValue := field.get(&candidate)
	if err := field.set(&candidate, value); err != nil {
		return errs.ConfigRejected(err.Error())
	}
	if err := Validate(candidate); err != nil {
		return err
	}

	newValue := field.get(&candidate)
	if oldValue == newValue {
		m.log.Infof("config %q unchanged at %v (source=%s), no history recorded", key, oldValue, source)
		return nil
	}

	candidate.Version++

	rec := model.ConfigHistoryRecord{
		ID: uuid.NewString(),
		Key: key,
		Old: oldValue,
		New: newValue,
		Source: source,
		ChangedAt: time.Now().UTC().Format(time.RFC3339),
	}

	m.cfg = candidate
	m.history = append(m.history, rec)
	if err := m.persist(); err != nil {
		return err
	}
	m.log.Infof("config %q changed %v -> %v (source=%s, version=%d)", key, oldValue, newValue, source, candidate.Version)
	return nil
}

func (m *Manager) persist() error {
	b, err := yaml.Marshal(m.cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(m.configPath, b, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", m.configPath, err)
	}
	return nil
}
