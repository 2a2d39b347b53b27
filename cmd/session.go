package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoroom/internal/agent"
	"github.com/nextlevelbuilder/nanoroom/internal/config"
	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/memory"
	"github.com/nextlevelbuilder/nanoroom/internal/providers"
	"github.com/nextlevelbuilder/nanoroom/internal/sessions"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and compact room conversations",
	}
	cmd.AddCommand(sessionStatusCmd(), sessionCompactCmd(), sessionResetCmd())
	return cmd
}

func openSessions() (*config.Config, *sessions.Manager) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	sm, err := sessions.NewManager(cfg.SessionsDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sessions error: %v\n", err)
		os.Exit(1)
	}
	return cfg, sm
}

func sessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [key]",
		Short: "Show session sizes and compaction state",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, sm := openSessions()

			keys := sm.List()
			if len(args) == 1 {
				keys = []string{args[0]}
			}
			if len(keys) == 0 {
				fmt.Println("no sessions yet")
				return
			}

			compactor := agent.NewCompactor(sm, nil, embed.NewLocalEmbedder(),
				cfg.Agents.Defaults.MaxContextTokens)
			for _, key := range keys {
				count := sm.MessageCount(key)
				due, tokens := compactor.ShouldCompact(key)
				line := fmt.Sprintf("  %-32s %4d messages, ~%d tokens", key, count, tokens)
				if due {
					line += " (compaction due)"
				}
				if meta := sm.Metadata(key); meta["compacted_at"] != nil {
					line += fmt.Sprintf(", last compacted %v", meta["compacted_at"])
				}
				fmt.Println(line)
			}
		},
	}
}

func sessionCompactCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "compact [key]",
		Short: "Compact sessions that crossed the context threshold",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, sm := openSessions()

			var store *memory.Store
			if cfg.Memory.Enabled {
				s, err := memory.Open(cfg.MemoryDBPath())
				if err != nil {
					fmt.Fprintf(os.Stderr, "memory store unavailable: %v\n", err)
				} else {
					store = s
					defer store.Close()
				}
			}

			compactor := agent.NewCompactor(sm, store, embed.NewLocalEmbedder(),
				cfg.Agents.Defaults.MaxContextTokens)
			if p := summarizerProvider(cfg); p != nil {
				compactor = compactor.WithSummarizer(p, cfg.Agents.Defaults.Model)
			}

			keys := sm.List()
			if len(args) == 1 {
				keys = []string{args[0]}
			}

			compacted := 0
			for _, key := range keys {
				if due, _ := compactor.ShouldCompact(key); !due && !force {
					continue
				}
				res, err := compactor.Compact(context.Background(), key)
				if err != nil {
					fmt.Fprintf(os.Stderr, "  %s: %v\n", key, err)
					continue
				}
				compacted++
				fmt.Printf("  %-32s %d -> %d messages (~%d -> ~%d tokens, %s)\n",
					key, res.OriginalCount, res.CompactedCount,
					res.TokensBefore, res.TokensAfter, res.Mode)
			}
			if compacted == 0 {
				fmt.Println("nothing to compact (use --force to compact anyway)")
			}
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "compact even below the trigger threshold")
	return cmd
}

func sessionResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <key>",
		Short: "Clear one session's history",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			_, sm := openSessions()
			if err := sm.Clear(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "reset failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("cleared %s\n", args[0])
		},
	}
}

// summarizerProvider mirrors the gateway's provider selection so offline
// compaction produces the same summaries the running service would.
func summarizerProvider(cfg *config.Config) providers.Provider {
	name := cfg.Agents.Defaults.Provider
	if name == "" {
		name = "anthropic"
	}
	pc, ok := cfg.Provider(name)
	if !ok || pc.APIKey == "" {
		for n, p := range cfg.Providers {
			if p.APIKey != "" {
				name, pc = n, p
				break
			}
		}
	}
	if pc.APIKey == "" {
		return nil
	}
	if name == "anthropic" {
		return providers.NewAnthropicProvider(pc.APIKey,
			providers.WithAnthropicModel(cfg.Agents.Defaults.Model),
			providers.WithAnthropicBaseURL(pc.APIBase))
	}
	return providers.NewOpenAIProvider(name, pc.APIKey, pc.APIBase, cfg.Agents.Defaults.Model)
}
