// Package orchestrator drives the tick loop that owns the current epoch
// buffer and the sample/epoch fan-out, reading the fan-speed target through
// an injected PWMGetter. It is the
// only writer of the live epoch buffer, the anomaly baselines, and the
// sample/epoch table.
package orchestrator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/btfi/collector/internal/anomaly"
	"github.com/btfi/collector/internal/canon"
	"github.com/btfi/collector/internal/epoch"
	"github.com/btfi/collector/internal/evidencepack"
	"github.com/btfi/collector/internal/fan"
	"github.com/btfi/collector/internal/issuance"
	"github.com/btfi/collector/internal/obslog"
	"github.com/btfi/collector/internal/sensor"
	"github.com/btfi/collector/internal/store"
	"github.com/btfi/collector/model"
)

// Config controls tick pacing, the VOC reduction reference point, and the
// bounded grace period shutdown gets to finalize an open epoch.
type Config struct {
	SampleInterval time.Duration
	EpochDuration time.Duration
	VOCPotentialMaxPpb float64
	ShutdownGrace time.Duration
	Platform string
}

// DefaultConfig matches stated defaults (60s tick, 60min epoch)
// and original_source/sensors/simulator.py's voc_baseline_ppb+voc_spike_magnitude
// as the "no ventilation" reference VOC level for voc_reduction_pct.
func DefaultConfig() Config {
	return Config{
		SampleInterval: 60 * time.Second,
		EpochDuration: 60 * time.Minute,
		VOCPotentialMaxPpb: 550,
		ShutdownGrace: 5 * time.Second,
		Platform: "simulated",
	}
}

// PWMGetter returns the current fan duty target, 0-100 (owned by the
// command listener's set_speed state).
type PWMGetter func() int

// Sample/EpochSubscriber are the orchestrator's in-process fan-out hooks,
// used to push a freshly signed sample or sealed epoch out to subscribers
// such as the verifier uplink.
type SampleSubscriber func(model.Sample)
type EpochSubscriber func(model.Epoch)

// Evidence bundles the evidence-pack config and uploader so the
// orchestrator can pack and ship a sealed epoch without owning object
// storage details itself.
type Evidence struct {
	Enabled bool
	Config evidencepack.Config
	Uploader evidencepack.Uploader
}

// Orchestrator owns the tick timer, the in-progress epoch buffer, and the
// sensor source.
type Orchestrator struct {
	cfg Config
	log *obslog.Logger

	signer canon.Signer
	identity identitySnapshotSource
	source sensor.Source
	curves fan.Curves
	detector *anomaly.Detector
	st *store.Store
	buf *epoch.Buffer

	issuanceCfg issuance.Config
	ledger *issuance.Ledger

	pwm PWMGetter
	evidence Evidence

	mu sync.Mutex
	sequence uint64
	sampleSubs []SampleSubscriber
	epochSubs []EpochSubscriber
}

// identitySnapshotSource is the narrow slice of internal/identity.Identity
// the orchestrator needs to build an evidence pack's device_identity.json,
// kept separate from canon.Signer so the orchestrator does not depend on
// the concrete identity package.
type identitySnapshotSource interface {
	DeviceID() string
	PublicKeyHex() string
	CreatedAt() string
}

// New constructs an Orchestrator. pwm, detector, st, and evidence.Uploader
// may be nil/zero to run a reduced pipeline (e.g. in tests).
func New(
	cfg Config,
	signer canon.Signer,
	identity identitySnapshotSource,
	source sensor.Source,
	curves fan.Curves,
	detector *anomaly.Detector,
	st *store.Store,
	issuanceCfg issuance.Config,
	ledger *issuance.Ledger,
	pwm PWMGetter,
	evidence Evidence,
) *Orchestrator {
	return &Orchestrator{
		cfg: cfg,
		log: obslog.With("orchestrator"),
		signer: signer,
		identity: identity,
		source: source,
		curves: curves,
		detector: detector,
		st: st,
		buf: epoch.NewBuffer(epoch.Config{Duration: cfg.EpochDuration, NewID: newEpochID(signer.DeviceID())}),
		issuanceCfg: issuanceCfg,
		ledger: ledger,
		pwm: pwm,
		evidence: evidence,
	}
}

// newEpochID derives epoch_id from the device and the epoch's start hour,
// matching "derived from start-hour and device_id".
func newEpochID(deviceID string) func() string {
	return func() string {
		return fmt.Sprintf("%s-%s", deviceID, time.Now().UTC().Format("2006010215"))
	}
}

// Subscribe registers a per-sample fan-out hook.
func (o *Orchestrator) Subscribe(s SampleSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sampleSubs = append(o.sampleSubs, s)
}

// SubscribeEpochs registers a per-epoch-close fan-out hook.
func (o *Orchestrator) SubscribeEpochs(s EpochSubscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epochSubs = append(o.epochSubs, s)
}

// Tick executes one full pipeline pass: sensor-read, anomaly-check, sign,
// persist, assemble (possibly closing an epoch), then fan out.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) error {
	pwmPercent := 0
	if o.pwm != nil {
		pwmPercent = o.pwm()
	}

	env, _, err := o.source.ReadAll(ctx, pwmPercent)
	if err != nil {
		return fmt.Errorf("orchestrator: sensor read: %w", err)
	}

	metrics := fan.Interpolate(o.curves, float64(pwmPercent))

	o.mu.Lock()
	o.sequence++
	seq := o.sequence
	o.mu.Unlock()

	sample := model.Sample{
		Timestamp: now.UTC().Format(time.RFC3339),
		SequenceNumber: seq,
		DeviceID: o.signer.DeviceID(),
		PWMPercent: pwmPercent,
		Fan: model.Fan{
			CFM: metrics.CFM, RPM: metrics.RPM, PowerW: metrics.PowerW,
			EfficiencyCFMW: metrics.EfficiencyCFMW,
		},
		Environment: env,
	}
	sample.Derived = deriveMetrics(sample, o.cfg.VOCPotentialMaxPpb, o.cfg.SampleInterval)

	if o.detector != nil {
		h, err := canon.HashDocument(sample)
		if err != nil {
			return fmt.Errorf("orchestrator: hash for anomaly check: %w", err)
		}
		summary, err := o.detector.Check(sample, h)
		if err != nil {
			return fmt.Errorf("orchestrator: anomaly check: %w", err)
		}
		sample.Anomalies = summary
	}

	signed, err := canon.SignSample(sample, o.signer, now)
	if err != nil {
		return fmt.Errorf("orchestrator: sign sample: %w", err)
	}

	if o.st != nil {
		if err := o.st.InsertSample(ctx, signed); err != nil {
			return fmt.Errorf("orchestrator: persist sample: %w", err)
		}
	}

	shouldClose, err := o.buf.Add(signed)
	if err != nil {
		return fmt.Errorf("orchestrator: assemble epoch: %w", err)
	}

	if shouldClose {
		if err := o.closeEpoch(ctx, now); err != nil {
			return err
		}
	}

	o.mu.Lock()
	subs := append([]SampleSubscriber(nil), o.sampleSubs...)
	o.mu.Unlock()
	for _, sub := range subs {
		sub(signed)
	}
	return nil
}

// closeEpoch runs step 7: persist, pack, upload, forward, and
// fan out to epoch subscribers.
func (o *Orchestrator) closeEpoch(ctx context.Context, now time.Time) error {
	ep, samples, err := o.buf.Close(o.signer, o.issuanceCfg, o.ledger, now)
	if err != nil {
		return fmt.Errorf("orchestrator: close epoch: %w", err)
	}

	if o.st != nil {
		if err := o.st.UpsertEpoch(ctx, ep); err != nil {
			return fmt.Errorf("orchestrator: persist epoch: %w", err)
		}
	}

	if o.evidence.Enabled && o.evidence.Uploader != nil && o.identity != nil {
		if err := o.packAndUpload(ctx, ep, samples, now); err != nil {
			o.log.Errorf("evidence pack failed for %s: %v", ep.EpochID, err)
		}
	}

	o.mu.Lock()
	subs := append([]EpochSubscriber(nil), o.epochSubs...)
	o.mu.Unlock()
	for _, sub := range subs {
		sub(ep)
	}
	return nil
}

func (o *Orchestrator) packAndUpload(ctx context.Context, ep model.Epoch, samples []model.Sample, now time.Time) error {
	snapshot := model.IdentitySnapshot{
		DeviceID: o.identity.DeviceID(),
		Hardware: model.HardwareBlock{Platform: o.cfg.Platform},
		Crypto: model.CryptoBlock{
			KeyAlgorithm: "Ed25519",
			PublicKeyHex: o.identity.PublicKeyHex(),
		},
		Registration: model.RegistrationBlock{CreatedAt: o.identity.CreatedAt()},
	}

	pack, archive, err := evidencepack.Build(o.evidence.Config, ep, samples, snapshot, now)
	if err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if err := evidencepack.Upload(ctx, o.evidence.Uploader, pack, archive, now); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	return nil
}

// deriveMetrics computes derived block, grounded on
// original_source/sensors/simulator.py's per-sample tar_cfm_min (cfm scaled
// to the sample interval), energy_wh (power scaled to the sample interval),
// and voc_reduction_pct (percent reduction from a fixed no-ventilation
// reference level).
func deriveMetrics(s model.Sample, vocPotentialMaxPpb float64, interval time.Duration) model.Derived {
	d := model.Derived{
		TarCFMMin: round(s.Fan.CFM*interval.Minutes(), 2),
		EnergyWh: round(s.Fan.PowerW*interval.Hours(), 3),
	}
	if s.Fan.CFM > 0 && vocPotentialMaxPpb > 0 && s.Environment.TVOCPpb < vocPotentialMaxPpb {
		pct := (vocPotentialMaxPpb - s.Environment.TVOCPpb) / vocPotentialMaxPpb * 100
		if pct > 0 {
			d.VOCReductionPct = round(pct, 1)
		}
	}
	return d
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}

// Run drives the tick loop at cfg.SampleInterval until ctx is canceled.
// Tick pacing never catches up on an overrun tick: the ticker holds at most
// one pending tick, so the next tick starts immediately, any further missed
// ticks are dropped rather than run in a burst, and the overrun is logged.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.shutdown()
		case t := <-ticker.C:
			start := time.Now()
			if err := o.Tick(ctx, t); err != nil {
				o.log.Errorf("tick failed: %v", err)
			}
			if elapsed := time.Since(start); elapsed > o.cfg.SampleInterval {
				o.log.Warnf("tick overran interval by %s", elapsed-o.cfg.SampleInterval)
			}
		}
	}
}

// shutdown finalizes any open epoch within the configured grace period,
// giving the process a bounded window to finish the current tick and seal
// whatever samples are already buffered rather than discard them.
func (o *Orchestrator) shutdown() error {
	if !o.buf.IsOpen() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownGrace)
	defer cancel()
	if err := o.closeEpoch(ctx, time.Now()); err != nil {
		o.log.Errorf("shutdown: failed to finalize open epoch: %v", err)
		return err
	}
	return nil
}

// Baselines returns the anomaly detector's current per-field statistics for
// the caller to persist, or nil if anomaly detection is disabled.
func (o *Orchestrator) Baselines() map[string]model.BaselineStats {
	if o.detector == nil {
		return nil
	}
	return o.detector.Snapshot()
}

// RestoreBaselines seeds the anomaly detector from a prior Baselines()
// snapshot.
func (o *Orchestrator) RestoreBaselines(snapshot map[string]model.BaselineStats) {
	if o.detector != nil {
		o.detector.Restore(snapshot)
	}
}
