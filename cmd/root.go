package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/nanoroom/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "nanoroom",
	Short: "nanoroom — multi-agent chat rooms",
	Long: "nanoroom runs a gateway of chat rooms where a leader bot and specialist bots " +
		"collaborate over Telegram, Discord, or the local CLI, with per-room message " +
		"queues, smart model routing, and a long-term memory store.",
	Run: func(cmd *cobra.Command, args []string) {
		runGateway()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $NANOROOM_CONFIG or ~/.nanoroom/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(configureCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(memoryCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nanoroom %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("NANOROOM_CONFIG"); v != "" {
		return v
	}
	return config.DefaultPath()
}

// Execute runs the root cobra command.
//
// Exit codes: 0 on success, 1 on runtime failure, 2 on usage errors.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
