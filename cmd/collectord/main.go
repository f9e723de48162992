package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/btfi/collector/cmd/collectord/commands"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use: "collectord",
	Short: "Air-quality/ventilation appliance collector daemon",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/collectord", "Directory for identity, config, and the sample/epoch store")
	rootCmd.AddCommand(commands.NewRunCmd())
	rootCmd.AddCommand(commands.NewStatusCmd())
	rootCmd.AddCommand(commands.NewIdentityCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
