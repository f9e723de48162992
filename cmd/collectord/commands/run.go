package commands

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/btfi/collector/internal/anomaly"
	"github.com/btfi/collector/internal/commands"
	"github.com/btfi/collector/internal/config"
	"github.com/btfi/collector/internal/evidencepack"
	"github.com/btfi/collector/internal/fan"
	"github.com/btfi/collector/internal/identity"
	"github.com/btfi/collector/internal/issuance"
	"github.com/btfi/collector/internal/metrics"
	"github.com/btfi/collector/internal/obslog"
	"github.com/btfi/collector/internal/orchestrator"
	"github.com/btfi/collector/internal/sensor"
	"github.com/btfi/collector/internal/store"
	"github.com/btfi/collector/internal/uplink"
	"github.com/btfi/collector/model"
)

// NewRunCmd starts the full collection pipeline: identity, config, sensor
// source, anomaly detector, durable store, epoch sealing, evidence
// packaging, verifier uplink, and the command listener, all driven by the
// orchestrator's tick loop until the process receives SIGINT/SIGTERM.
func NewRunCmd() *cobra.Command {
	var operatorKeyPath string
	var platform string
	var evidenceConnectionString string
	var evidenceContainer string

	cmd := &cobra.Command{
		Use: "run",
		Short: "Run the collector daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := cmd.Flags().GetString("data-dir")
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), dataDir, operatorKeyPath, platform, evidenceConnectionString, evidenceContainer)
		},
	}
	cmd.Flags().StringVar(&operatorKeyPath, "operator-key", "", "Path to the trusted operator public key (hex-encoded Ed25519), enables remote config updates; the key is read at startup")
	cmd.Flags().StringVar(&platform, "platform", "simulated", "Hardware platform identifier recorded in evidence packs")
	cmd.Flags().StringVar(&evidenceConnectionString, "evidence-connection-string", "", "Azure Blob Storage connection string for evidence pack upload; leave empty to build no evidence packs")
	cmd.Flags().StringVar(&evidenceContainer, "evidence-container", "evidence-packs", "Azure Blob Storage container name for evidence pack upload")
	return cmd
}

func runDaemon(parentCtx context.Context, dataDir, operatorKeyPath, platform, evidenceConnectionString, evidenceContainer string) error {
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	id, err := identity.Load(filepath.Join(dataDir, "identity"))
	if err != nil {
		return err
	}

	var trustedKey ed25519.PublicKey
	var keyWatcher *config.KeyWatcher
	if operatorKeyPath != "" {
		keyWatcher, err = config.WatchTrustedKey(operatorKeyPath)
		if err != nil {
			return fmt.Errorf("watch operator key: %w", err)
		}
		trustedKey = keyWatcher.Key()
	}

	cfgMgr, err := config.Load(filepath.Join(dataDir, "config.yaml"), trustedKey)
	if err != nil {
		return err
	}
	cfg := cfgMgr.Current()

	if err := obslog.New(string(cfg.LogLevel)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer obslog.Sync()
	log := obslog.With("collectord")
	log.Infof("starting device %s (config version %d)", id.DeviceID(), cfg.Version)

	st, err := store.Open(filepath.Join(dataDir, "collectord.db"), 10000)
	if err != nil {
		return err
	}
	defer st.Close()

	var source sensor.Source
	curves := fan.DefaultCurves(float64(cfg.MaxFanSpeed)*2, 30, 3000)
	if cfg.SimulationMode {
		source = sensor.NewSimulated(sensor.DefaultSimConfig(curves.MaxCFM), time.Now().UnixNano())
	} else {
		return fmt.Errorf("platform %q: physical sensor bus wiring is board-specific and not provided by this build", platform)
	}

	var detector *anomaly.Detector
	if cfg.EnableAnomalyDetection {
		anomalyCfg := anomaly.DefaultConfig()
		anomalyCfg.SigmaThreshold = cfg.AnomalySigmaThreshold
		detector, err = anomaly.New(anomalyCfg)
		if err != nil {
			return err
		}
	}

	ledger := &issuance.Ledger{}
	issuanceCfg := issuance.Default()

	speed := commands.NewSpeedTarget(cfg.DefaultFanSpeed)

	metricsProvider, _ := metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{})
	samplesTotal := metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Name: "samples_processed_total", Help: "samples processed by the tick loop",
	}})
	epochsTotal := metricsProvider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Name: "epochs_sealed_total", Help: "epochs sealed and persisted",
	}})

	var evidence orchestrator.Evidence
	if cfg.EnableVerifierSync {
		evidence = orchestrator.Evidence{
			Config: evidencepack.Config{
				RetainLocal: true,
				SampleInterval: cfg.SampleIntervalSeconds,
				Issuance: model.IssuanceModelSettings{
					BaseRate: issuanceCfg.BaseRate,
					BaselineEfficiency: issuanceCfg.BaselineEfficiency,
					EIMin: issuanceCfg.EIMin,
					EIMax: issuanceCfg.EIMax,
					BCAIScalar: issuanceCfg.BCAIScalar,
					SamplesPerEvent: issuanceCfg.SamplesPerEvent,
				},
			},
		}

		if evidenceConnectionString != "" {
			azClient, err := azblob.NewClientFromConnectionString(evidenceConnectionString, nil)
			if err != nil {
				return fmt.Errorf("connect evidence pack storage: %w", err)
			}
			evidence.Uploader = evidencepack.NewAzureUploader(azClient, evidenceContainer)
			evidence.Enabled = true
		} else {
			log.Infof("evidence pack upload disabled: no --evidence-connection-string supplied, no evidence packs are built")
		}
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.SampleInterval = time.Duration(cfg.SampleIntervalSeconds) * time.Second
	orchCfg.EpochDuration = time.Duration(cfg.EpochDurationMinutes) * time.Minute
	orchCfg.Platform = platform

	orch := orchestrator.New(
		orchCfg,
		id,
		id,
		source,
		curves,
		detector,
		st,
		issuanceCfg,
		ledger,
		speed.Get,
		evidence,
	)
	orch.Subscribe(func(model.Sample) { samplesTotal.Inc(1) })
	orch.SubscribeEpochs(func(model.Epoch) { epochsTotal.Inc(1) })

	g, ctx := errgroup.WithContext(ctx)

	if keyWatcher != nil {
		g.Go(func() error { return keyWatcher.Run(ctx) })
	}

	var up *uplink.Uplink
	var cmdListener *commands.Listener
	if cfg.EnableVerifierSync && cfg.VerifierURL != "" {
		client := &http.Client{}
		up = uplink.New(uplink.DefaultConfig(cfg.VerifierURL), client, id.DeviceID(), nil)
		orch.Subscribe(func(s model.Sample) { up.SubmitSample(ctx, s) })
		orch.SubscribeEpochs(func(e model.Epoch) { up.SubmitEpoch(ctx, e) })
		g.Go(func() error { return up.Run(ctx) })

		cmdListener = commands.New(commands.DefaultConfig(cfg.VerifierURL), client, speed, cfgMgr)
		g.Go(func() error { return cmdListener.Run(ctx) })
	}

	g.Go(func() error { return orch.Run(ctx) })

	return g.Wait()
}
