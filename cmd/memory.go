package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
	"github.com/nextlevelbuilder/nanoroom/internal/embed"
	"github.com/nextlevelbuilder/nanoroom/internal/memory"
)

func memoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and maintain the memory store",
	}
	cmd.AddCommand(
		memoryInitCmd(), memoryStatusCmd(), memorySearchCmd(),
		memoryEntitiesCmd(), memoryEntityCmd(), memoryForgetCmd(),
		memoryDoctorCmd(),
	)
	return cmd
}

func openMemoryStore() *memory.Store {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	store, err := memory.Open(cfg.MemoryDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "memory store error: %v\n", err)
		os.Exit(1)
	}
	return store
}

func memoryInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the memory database and schema",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "config error: %v\n", err)
				os.Exit(1)
			}
			store, err := memory.Open(cfg.MemoryDBPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
				os.Exit(1)
			}
			store.Close()
			fmt.Printf("memory database ready at %s\n", cfg.MemoryDBPath())
		},
	}
}

func memoryStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store sizes and extraction backlog",
		Run: func(cmd *cobra.Command, args []string) {
			store := openMemoryStore()
			defer store.Close()
			stats, err := store.GetStats()
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("  %-22s %d\n", "events:", stats.Events)
			fmt.Printf("  %-22s %d\n", "entities:", stats.Entities)
			fmt.Printf("  %-22s %d\n", "relationships:", stats.Edges)
			fmt.Printf("  %-22s %d\n", "facts:", stats.Facts)
			fmt.Printf("  %-22s %d\n", "summaries:", stats.SummaryNodes)
			fmt.Printf("  %-22s %d\n", "learnings:", stats.Learnings)
			fmt.Printf("  %-22s %d\n", "pending extractions:", stats.PendingExtractions)
		},
	}
}

func memorySearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over events and learnings",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openMemoryStore()
			defer store.Close()

			vec, err := embed.NewLocalEmbedder().Embed(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "embed failed: %v\n", err)
				os.Exit(1)
			}

			events, err := store.SearchEvents(vec, "", limit, 0.3)
			if err != nil {
				fmt.Fprintf(os.Stderr, "search failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Events (%d):\n", len(events))
			for _, se := range events {
				fmt.Printf("  [%.2f] %s  %s\n", se.Similarity,
					se.Event.Timestamp.Format("2006-01-02"), truncate(se.Event.Content, 100))
			}

			learnings, err := store.SearchLearnings(vec, limit, 0.3)
			if err != nil {
				fmt.Fprintf(os.Stderr, "search failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Learnings (%d):\n", len(learnings))
			for _, l := range learnings {
				fmt.Printf("  [%.2f] %s\n", l.RelevanceScore, truncate(l.Content, 100))
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "max results per category")
	return cmd
}

func memoryEntitiesCmd() *cobra.Command {
	var entityType string
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List known entities",
		Run: func(cmd *cobra.Command, args []string) {
			store := openMemoryStore()
			defer store.Close()
			list, err := store.ListEntities(entityType, 50)
			if err != nil {
				fmt.Fprintf(os.Stderr, "list failed: %v\n", err)
				os.Exit(1)
			}
			for _, e := range list {
				fmt.Printf("  %-24s %-10s events=%d last_seen=%s\n",
					e.Name, e.EntityType, e.EventCount, e.LastSeen.Format("2006-01-02"))
			}
		},
	}
	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	return cmd
}

func memoryEntityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entity <name>",
		Short: "Show one entity with its facts and relationships",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openMemoryStore()
			defer store.Close()

			e, err := store.FindEntityByName(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "lookup failed: %v\n", err)
				os.Exit(1)
			}
			if e == nil {
				fmt.Printf("no entity named %q\n", args[0])
				os.Exit(1)
			}

			fmt.Printf("%s (%s)\n", e.Name, e.EntityType)
			if e.Description != "" {
				fmt.Printf("  %s\n", e.Description)
			}
			if len(e.Aliases) > 0 {
				fmt.Printf("  aliases: %v\n", e.Aliases)
			}

			facts, _ := store.GetFactsForEntity(e.ID, 20)
			for _, f := range facts {
				fmt.Printf("  fact: %s %s\n", f.Predicate, f.ObjectText)
			}
			edges, _ := store.GetEdgesForEntity(e.ID, 20)
			for _, edge := range edges {
				fmt.Printf("  edge: %s (strength %.2f)\n", edge.Relation, edge.Strength)
			}
		},
	}
}

func memoryForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <name>",
		Short: "Delete an entity and its facts and relationships",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := openMemoryStore()
			defer store.Close()

			e, err := store.FindEntityByName(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "lookup failed: %v\n", err)
				os.Exit(1)
			}
			if e == nil {
				fmt.Printf("no entity named %q\n", args[0])
				os.Exit(1)
			}
			if err := store.DeleteEntity(e.ID); err != nil {
				fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("forgot %q\n", e.Name)
		},
	}
}

func memoryDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check database integrity and reclaim space",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "config error: %v\n", err)
				os.Exit(1)
			}
			checkMemoryDB(cfg.MemoryDBPath())

			store, err := memory.Open(cfg.MemoryDBPath())
			if err != nil {
				fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()
			if err := store.Vacuum(); err != nil {
				fmt.Fprintf(os.Stderr, "vacuum failed: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("vacuum complete")
		},
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
