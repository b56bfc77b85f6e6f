package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/owliabot/owliabot/internal/config"
	"github.com/owliabot/owliabot/internal/providers"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage provider credentials",
}

var authSetupCmd = &cobra.Command{
	Use:   "setup [provider-id]",
	Short: "Interactively store an API key for a provider entry",
	Long: `Prompts for an API key and prints the environment variable to
export it under. Run this once per provider entry named in
providers.entries; the key itself is never written to config.json.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runAuthSetup(args[0])
	},
}

func init() {
	authCmd.AddCommand(authSetupCmd)
}

func runAuthSetup(providerID string) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	found := false
	for _, e := range cfg.Providers.Entries {
		if e.ID == providerID {
			found = true
			break
		}
	}
	if !found {
		fmt.Printf("warning: %q is not listed under providers.entries in %s\n", providerID, cfgPath)
	}

	envVar := providers.EnvVarFor(providerID)
	fmt.Printf("Enter API key for %q (input hidden not supported in this terminal, paste and press enter): ", providerID)
	reader := bufio.NewReader(os.Stdin)
	key, _ := reader.ReadString('\n')
	key = strings.TrimSpace(key)
	if key == "" {
		fmt.Fprintln(os.Stderr, "no key entered, aborting")
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("Key received. OwliaBot never writes API keys to config.json.")
	fmt.Printf("Export it before starting the gateway:\n\n  export %s=%s\n\n", envVar, key)
	fmt.Println("Add that line to your shell profile or .env.local to persist it.")
}
