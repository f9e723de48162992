package commands

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/btfi/collector/internal/identity"
)

// NewIdentityCmd groups identity-related subcommands.
func NewIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "identity",
		Short: "Inspect the device's signing identity",
	}
	cmd.AddCommand(newIdentityShowCmd())
	return cmd
}

func newIdentityShowCmd() *cobra.Command {
	return &cobra.Command{
		Use: "show",
		Short: "Print the device's identity record as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, err := cmd.Flags().GetString("data-dir")
			if err != nil {
				return err
			}

			id, err := identity.Load(filepath.Join(dataDir, "identity"))
			if err != nil {
				return fmt.Errorf("load identity: %w", err)
			}

			out := map[string]string{
				"device_id": id.DeviceID(),
				"public_key_hex": id.PublicKeyHex(),
				"created_at": id.CreatedAt(),
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
