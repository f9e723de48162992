package orchestrator

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btfi/collector/internal/anomaly"
	"github.com/btfi/collector/internal/fan"
	"github.com/btfi/collector/internal/issuance"
	"github.com/btfi/collector/internal/sensor"
	"github.com/btfi/collector/internal/store"
	"github.com/btfi/collector/model"
)

type fakeIdentity struct {
	pub ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newFakeIdentity(t *testing.T) *fakeIdentity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return &fakeIdentity{pub: pub, priv: priv}
}

func (f *fakeIdentity) DeviceID() string { return "btfi-test" }
func (f *fakeIdentity) PublicKeyHex() string { return hex.EncodeToString(f.pub) }
func (f *fakeIdentity) CreatedAt() string { return "2026-01-01T00:00:00Z" }
func (f *fakeIdentity) Sign(hash []byte) []byte {
	return ed25519.Sign(f.priv, hash)
}

func newTestOrchestrator(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	id := newFakeIdentity(t)

	simCfg := sensor.DefaultSimConfig(500)
	src := sensor.NewSimulated(simCfg, 1)
	curves := fan.DefaultCurves(500, 80, 2500)

	detector, err := anomaly.New(anomaly.DefaultConfig())
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "collector.db"), 1000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var ledger issuance.Ledger
	return New(cfg, id, id, src, curves, detector, st, issuance.Default(), &ledger, func() int { return 50 }, Evidence{})
}

// TestOrchestrator_EpochClosesOnTick: with a 1-minute epoch window and a
// 15s tick spacing, the 5th tick (at t=60s) lands exactly on the boundary
// and closes the epoch with all 5 buffered samples.
func TestOrchestrator_EpochClosesOnTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EpochDuration = time.Minute
	cfg.SampleInterval = 15 * time.Second
	o := newTestOrchestrator(t, cfg)

	var closed []model.Epoch
	o.SubscribeEpochs(func(e model.Epoch) { closed = append(closed, e) })

	var sampled []model.Sample
	o.Subscribe(func(s model.Sample) { sampled = append(sampled, s) })

	base := time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, o.Tick(ctx, base.Add(time.Duration(i)*15*time.Second)))
	}

	require.Len(t, sampled, 5)
	require.Len(t, closed, 1)
	require.Equal(t, 5, closed[0].SampleCount)
	require.Len(t, closed[0].LeafHashes, 5)
	require.NotEmpty(t, closed[0].MerkleRoot)
	require.NotNil(t, closed[0].Signing)
	require.NotNil(t, closed[0].Issuance)
}

func TestOrchestrator_TickSignsAndPersistsSample(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EpochDuration = time.Hour
	o := newTestOrchestrator(t, cfg)

	require.NoError(t, o.Tick(context.Background(), time.Now()))

	samples, err := o.st.RecentSamples(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.NotNil(t, samples[0].Signing)
}

func TestOrchestrator_ShutdownFinalizesOpenEpoch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EpochDuration = time.Hour
	cfg.ShutdownGrace = time.Second
	o := newTestOrchestrator(t, cfg)

	var closed []model.Epoch
	o.SubscribeEpochs(func(e model.Epoch) { closed = append(closed, e) })

	require.NoError(t, o.Tick(context.Background(), time.Now()))
	require.True(t, o.buf.IsOpen())

	require.NoError(t, o.shutdown())
	require.Len(t, closed, 1)
	require.False(t, o.buf.IsOpen())
}

func TestOrchestrator_BaselinesRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	o := newTestOrchestrator(t, cfg)

	require.NoError(t, o.Tick(context.Background(), time.Now()))
	snap := o.Baselines()
	require.NotEmpty(t, snap)

	o2 := newTestOrchestrator(t, cfg)
	o2.RestoreBaselines(snap)
	require.Equal(t, snap["cfm"], o2.detector.Baseline("cfm"))
}
