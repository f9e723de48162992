package config

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btfi/collector/internal/canon"
	"github.com/btfi/collector/model"
)

func TestDefault_PassesValidate(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestValidate_RejectsOutOfRangeOptions(t *testing.T) {
	base := Default()

	cases := map[string]func(*model.Configuration){
		"sample_interval_seconds too low": func(c *model.Configuration) { c.SampleIntervalSeconds = 1 },
		"epoch_duration_minutes too high": func(c *model.Configuration) { c.EpochDurationMinutes = 100000 },
		"default exceeds max fan speed": func(c *model.Configuration) {
			c.DefaultFanSpeed = 90
			c.MaxFanSpeed = 50
		},
		"anomaly sigma too low": func(c *model.Configuration) { c.AnomalySigmaThreshold = 0.5 },
		"unrecognized log level": func(c *model.Configuration) { c.LogLevel = "VERBOSE" },
	}

	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		require.Error(t, Validate(cfg), name)
	}
}

func TestManager_SetLocal_AppliesAndRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), nil)
	require.NoError(t, err)

	startVersion := m.Current().Version
	require.NoError(t, m.SetLocal("default_fan_speed", 75))

	cfg := m.Current()
	require.Equal(t, 75, cfg.DefaultFanSpeed)
	require.Equal(t, startVersion+1, cfg.Version)

	hist := m.History()
	require.Len(t, hist, 1)
	require.Equal(t, "default_fan_speed", hist[0].Key)
	require.Equal(t, model.SourceLocal, hist[0].Source)
}

func TestManager_SetLocal_NoopUpdateRecordsNoHistoryAndDoesNotBumpVersion(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), nil)
	require.NoError(t, err)

	startVersion := m.Current().Version
	require.NoError(t, m.SetLocal("default_fan_speed", Default().DefaultFanSpeed))

	require.Equal(t, startVersion, m.Current().Version)
	require.Empty(t, m.History())
}

func TestManager_SetLocal_RejectsUnrecognizedKey(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), nil)
	require.NoError(t, err)
	require.Error(t, m.SetLocal("not_a_real_option", 1))
}

func TestManager_SetLocal_RejectsValueThatFailsValidate(t *testing.T) {
	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), nil)
	require.NoError(t, err)
	require.Error(t, m.SetLocal("default_fan_speed", 500))
	require.Equal(t, Default().DefaultFanSpeed, m.Current().DefaultFanSpeed)
}

func TestManager_Load_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	m1, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, m1.SetLocal("sync_interval_seconds", 45))

	m2, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, 45, m2.Current().SyncIntervalSeconds)
}

func signUpdate(t *testing.T, priv ed25519.PrivateKey, update model.RemoteConfigUpdate) model.RemoteConfigUpdate {
	t.Helper()
	h, err := canon.HashDocument(update)
	require.NoError(t, err)
	sig := ed25519.Sign(priv, h)
	update.Signing = &model.Signing{
		DeviceID: "operator",
		PublicKey: "ed25519:" + hex.EncodeToString(priv.Public().(ed25519.PublicKey)),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		PayloadHash: hex.EncodeToString(h),
		Signature: "ed25519:" + hex.EncodeToString(sig),
	}
	return update
}

func TestManager_ApplyRemote_HappyPath(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), pub)
	require.NoError(t, err)

	update := signUpdate(t, priv, model.RemoteConfigUpdate{
		Key: "voc_alert_threshold_ppb",
		Value: 420.0,
		BaseVersion: m.Current().Version,
	})

	require.NoError(t, m.ApplyRemote(update))
	require.InDelta(t, 420.0, m.Current().VOCAlertThresholdPpb, 1e-9)
}

func TestManager_ApplyRemote_RejectsStaleBaseVersion(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), pub)
	require.NoError(t, err)

	update := signUpdate(t, priv, model.RemoteConfigUpdate{
		Key: "sync_interval_seconds",
		Value: 50.0,
		BaseVersion: m.Current().Version + 1,
	})

	err = m.ApplyRemote(update)
	require.Error(t, err)
	require.Equal(t, Default().SyncIntervalSeconds, m.Current().SyncIntervalSeconds)
}

func TestManager_ApplyRemote_RejectsWrongSigner(t *testing.T) {
	trustedPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_, attackerPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), trustedPub)
	require.NoError(t, err)

	update := signUpdate(t, attackerPriv, model.RemoteConfigUpdate{
		Key: "sync_interval_seconds",
		Value: 50.0,
		BaseVersion: m.Current().Version,
	})

	require.Error(t, m.ApplyRemote(update))
}

func TestManager_ApplyRemote_RejectsTamperedValue(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), pub)
	require.NoError(t, err)

	update := signUpdate(t, priv, model.RemoteConfigUpdate{
		Key: "sync_interval_seconds",
		Value: 50.0,
		BaseVersion: m.Current().Version,
	})
	update.Value = 600.0 // tampered after signing

	require.Error(t, m.ApplyRemote(update))
}

func TestManager_ApplyRemote_NoTrustedKeyConfigured(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	dir := t.TempDir()
	m, err := Load(filepath.Join(dir, "config.yaml"), nil)
	require.NoError(t, err)

	update := signUpdate(t, priv, model.RemoteConfigUpdate{
		Key: "sync_interval_seconds",
		Value: 50.0,
		BaseVersion: m.Current().Version,
	})
	require.Error(t, m.ApplyRemote(update))
}

func TestValidateUpdateShape(t *testing.T) {
	valid := []byte(`{
		"key": "sync_interval_seconds",
		"value": 45,
		"base_version": 1,
		"signing": {
			"device_id": "operator",
			"public_key": "ed25519:aa",
			"timestamp": "2026-07-30T00:00:00Z",
			"payload_hash": "bb",
			"signature": "ed25519:cc"
		}
	}`)
	require.NoError(t, ValidateUpdateShape(valid))

	require.Error(t, ValidateUpdateShape([]byte(`{"key": "x"}`)))
	require.Error(t, ValidateUpdateShape([]byte(`not json`)))
}

func TestWatchTrustedKey_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "operator.key")

	pub1, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, []byte(hex.EncodeToString(pub1)), 0o600))

	kw, err := WatchTrustedKey(keyPath)
	require.NoError(t, err)
	require.Equal(t, pub1, kw.Key())

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- kw.Run(ctx) }()

	pub2, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyPath, []byte(hex.EncodeToString(pub2)), 0o600))

	require.Eventually(t, func() bool {
		return kw.Key().Equal(pub2)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
