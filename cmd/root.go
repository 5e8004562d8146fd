// Package cmd implements the gateway daemon's command-line surface: the
// default run command plus doctor (environment/config health check) and
// version.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via
// -ldflags "-X github.com/nextlevelbuilder/gatewaycore/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatewaycore",
	Short: "gatewaycore — multi-channel agent gateway",
	Long:  "gatewaycore: a local daemon bridging chat channels and companion nodes to LLM providers and MCP tool servers over an authenticated WebSocket RPC surface.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $OPENCLAW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(versionCmd())
}

// resolveConfigPath applies the --config / $OPENCLAW_CONFIG / ./config.json
// resolution order.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("OPENCLAW_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
