package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

// providerEnvKeys maps provider names to the env var carrying their key,
// in auto-detection priority order.
var providerEnvKeys = []struct {
	name   string
	envKey string
	model  string
}{
	{"anthropic", "NANOROOM_ANTHROPIC_API_KEY", "claude-sonnet-4-5"},
	{"openai", "NANOROOM_OPENAI_API_KEY", "gpt-4o"},
	{"openrouter", "NANOROOM_OPENROUTER_API_KEY", "anthropic/claude-sonnet-4.5"},
	{"groq", "NANOROOM_GROQ_API_KEY", "llama-3.3-70b-versatile"},
	{"deepseek", "NANOROOM_DEEPSEEK_API_KEY", "deepseek-chat"},
}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive first-run setup",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard()
		},
	}
}

// canAutoOnboard reports whether any provider API key is present in the
// environment, indicating non-interactive setup (Docker, CI).
func canAutoOnboard() bool {
	for _, p := range providerEnvKeys {
		if os.Getenv(p.envKey) != "" {
			return true
		}
	}
	return false
}

// runAutoOnboard performs non-interactive setup from environment
// variables. Returns true on success.
func runAutoOnboard(cfgPath string) bool {
	fmt.Println("Auto-onboard: provider API key detected in environment.")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config error: %v\n", err)
		return false
	}

	for _, p := range providerEnvKeys {
		if os.Getenv(p.envKey) == "" {
			continue
		}
		cfg.Agents.Defaults.Provider = p.name
		if cfg.Agents.Defaults.Model == config.Default().Agents.Defaults.Model && p.name != "anthropic" {
			cfg.Agents.Defaults.Model = p.model
		}
		fmt.Printf("  Provider: %s (model: %s)\n", p.name, cfg.Agents.Defaults.Model)
		break
	}

	if err := cfg.Save(cfgPath); err != nil {
		fmt.Printf("  Warning: could not save config: %v\n", err)
		return false
	}
	fmt.Printf("  Config saved to %s\n", cfgPath)
	return true
}

// runOnboard walks the interactive wizard and writes the config.
func runOnboard() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}

	provider := cfg.Agents.Defaults.Provider
	apiKey := ""
	leader := cfg.Rooms.LeaderBot
	enableTelegram := cfg.Channels.Telegram.Enabled
	enableDiscord := cfg.Channels.Discord.Enabled

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM provider").
				Description("Which provider should bots use by default?").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("Groq", "groq"),
					huh.NewOption("DeepSeek", "deepseek"),
				).
				Value(&provider),
			huh.NewInput().
				Title("API key").
				Description("Stored only in your shell environment, never in the config file.").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Leader bot name").
				Value(&leader),
			huh.NewConfirm().
				Title("Enable Telegram?").
				Description("Requires NANOROOM_TELEGRAM_TOKEN in the environment.").
				Value(&enableTelegram),
			huh.NewConfirm().
				Title("Enable Discord?").
				Description("Requires NANOROOM_DISCORD_TOKEN in the environment.").
				Value(&enableDiscord),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Printf("Setup cancelled: %v\n", err)
		os.Exit(1)
	}

	cfg.Agents.Defaults.Provider = provider
	if leader != "" {
		cfg.Rooms.LeaderBot = leader
	}
	cfg.Channels.Telegram.Enabled = enableTelegram
	cfg.Channels.Discord.Enabled = enableDiscord

	if err := cfg.Save(cfgPath); err != nil {
		fmt.Printf("Could not save config: %v\n", err)
		os.Exit(1)
	}

	envKey := ""
	for _, p := range providerEnvKeys {
		if p.name == provider {
			envKey = p.envKey
		}
	}
	fmt.Println()
	fmt.Printf("Config saved to %s\n", cfgPath)
	if apiKey != "" && envKey != "" {
		fmt.Println()
		fmt.Println("Add the API key to your shell profile:")
		fmt.Printf("  export %s=%s\n", envKey, apiKey)
	}
	fmt.Println()
	fmt.Println("Start the gateway with:  nanoroom gateway")
}
