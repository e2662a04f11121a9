package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd is agentcored's entire CLI surface: a single long-running daemon,
// not the many-subcommand management tool the sibling agentcli is. Flags
// select the config file; everything else lives in that file per
// spec.md's §4 module set.
var rootCmd = &cobra.Command{
	Use:   "agentcored",
	Short: "Run an agent core as a long-lived service",
	Long: `agentcored loads an agent definition from a TOML config file, wires its
kernel, storage backend, provider, planner, rate limiter and pipeline
runner, then serves inbound messages until terminated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "agentcored.toml", "path to the agent's TOML config file")
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
