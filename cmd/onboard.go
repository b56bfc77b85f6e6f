package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/owliabot/owliabot/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Generate a starter config.json from a few prompts",
	Long: `Walks through the minimum set of choices needed to run OwliaBot
(which channels to enable, which provider to use) and writes both a
human-readable YAML summary and the config.json the gateway reads.`,
	Run: func(cmd *cobra.Command, args []string) {
		runOnboard()
	},
}

// onboardSummary is the human-editable record of onboarding answers,
// written alongside config.json as a YAML record a user can read or
// hand-edit; no command reads it back (neither `start` nor `onboard`).
type onboardSummary struct {
	Telegram struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telegram"`
	Discord struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"discord"`
	Provider struct {
		ID    string `yaml:"id"`
		Kind  string `yaml:"kind"`
		Model string `yaml:"model"`
	} `yaml:"provider"`
	Workspace string `yaml:"workspace"`
}

func runOnboard() {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("OwliaBot setup")
	fmt.Println("--------------")

	summary := onboardSummary{}
	summary.Telegram.Enabled = promptYesNo(reader, "Enable Telegram?", false)
	summary.Discord.Enabled = promptYesNo(reader, "Enable Discord?", false)
	summary.Provider.ID = promptString(reader, "Provider id", "anthropic")
	summary.Provider.Kind = promptString(reader, "Provider kind (native/openai-compatible/cli)", "native")
	summary.Provider.Model = promptString(reader, "Model", "claude-sonnet-4-5-20250929")
	summary.Workspace = promptString(reader, "Workspace directory", "~/.owliabot/workspace")

	cfg := config.Default()
	cfg.Channels.Telegram.Enabled = summary.Telegram.Enabled
	cfg.Channels.Discord.Enabled = summary.Discord.Enabled
	cfg.Agents.Defaults.Workspace = summary.Workspace
	cfg.Providers.Entries = []config.ProviderEntry{{
		ID:       summary.Provider.ID,
		Kind:     summary.Provider.Kind,
		Model:    summary.Provider.Model,
		Priority: 0,
	}}

	cfgPath := resolveConfigPath()
	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "failed to write config:", err)
		os.Exit(1)
	}

	yamlPath := cfgPath + ".onboard.yaml"
	data, err := yaml.Marshal(summary)
	if err == nil {
		_ = os.WriteFile(yamlPath, data, 0o644)
	}

	fmt.Println()
	fmt.Printf("Wrote %s\n", cfgPath)
	fmt.Printf("Wrote onboarding summary to %s\n", yamlPath)
	if summary.Provider.Kind == "native" || summary.Provider.Kind == "openai-compatible" {
		fmt.Printf("\nRun `owliabot auth setup %s` to store the API key, then `owliabot start`.\n", summary.Provider.ID)
	} else {
		fmt.Println("\nRun `owliabot start` when ready.")
	}
}

func promptYesNo(r *bufio.Reader, question string, def bool) bool {
	suffix := "y/N"
	if def {
		suffix = "Y/n"
	}
	fmt.Printf("%s [%s]: ", question, suffix)
	line, _ := r.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	if line == "" {
		return def
	}
	return line == "y" || line == "yes"
}

func promptString(r *bufio.Reader, question, def string) string {
	fmt.Printf("%s [%s]: ", question, def)
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
