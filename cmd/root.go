package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "owliabot",
	Short: "OwliaBot — a multi-channel LLM agent gateway",
	Long: `OwliaBot connects chat channels (Telegram, Discord) to an LLM
agent runtime with a tool-calling executor, session memory, and an
HTTP control plane for paired companion devices.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.json (default $OWLIABOT_CONFIG or ./config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the --config flag value, the OWLIABOT_CONFIG
// env var, or "config.json" in that order.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("OWLIABOT_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the OwliaBot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("owliabot", Version)
	},
}
