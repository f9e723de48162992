package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/btfi/collector/internal/config"
	"github.com/btfi/collector/internal/identity"
	"github.com/btfi/collector/internal/store"
)

// statusOutput is what `collectord status` prints: a point-in-time read of
// the on-disk state, independent of whether the daemon is currently
// running (there is no local RPC surface to query a live process through).
type statusOutput struct {
	DeviceID string `json:"device_id"`
	ConfigVersion int `json:"config_version"`
	SampleCount int `json:"recent_sample_count"`
	LatestEpochID string `json:"latest_epoch_id,omitempty"`
	LatestEpochStart string `json:"latest_epoch_start,omitempty"`
}

// NewStatusCmd reports the device's last known state from disk.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use: "status",
		Short: "Report the device's identity, config version, and recent store contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := cmd.Flags().GetString("data-dir")
			if err != nil {
				return err
			}

			id, err := identity.Load(filepath.Join(dataDir, "identity"))
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}

			mgr, err := config.Load(filepath.Join(dataDir, "config.yaml"), nil)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.Open(filepath.Join(dataDir, "collectord.db"), 10000)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := context.Background()
			samples, err := st.RecentSamples(ctx, 100)
			if err != nil {
				return fmt.Errorf("read recent samples: %w", err)
			}
			epochs, err := st.RecentEpochs(ctx, 1)
			if err != nil {
				return fmt.Errorf("read recent epochs: %w", err)
			}

			out := statusOutput{
				DeviceID: id.DeviceID(),
				ConfigVersion: mgr.Current().Version,
				SampleCount: len(samples),
			}
			if len(epochs) > 0 {
				out.LatestEpochID = epochs[0].EpochID
				out.LatestEpochStart = epochs[0].Time.Start
			}

			b, err := json.MarshalIndent(out, "", " ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
}
