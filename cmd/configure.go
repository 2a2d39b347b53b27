package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/nanoroom/internal/config"
)

func configureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Read and update configuration values",
	}
	cmd.AddCommand(configGetCmd(), configSetCmd(), configAppendCmd(), configRemoveCmd(), configListCmd())
	return cmd
}

func loadForConfigure() (*config.Config, string) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	return cfg, cfgPath
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print one config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := loadForConfigure()
			v, err := cfg.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%v\n", v)
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set one config value and save",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath := loadForConfigure()
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Save(cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], args[1])
			return nil
		},
	}
}

func configAppendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "append <path> <value>",
		Short: "Append a value to a list setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath := loadForConfigure()
			if err := cfg.Append(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Save(cfgPath); err != nil {
				return err
			}
			fmt.Printf("appended %s to %s\n", args[1], args[0])
			return nil
		},
	}
}

func configRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <path> <value>",
		Short: "Remove a value from a list setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath := loadForConfigure()
			if err := cfg.Remove(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Save(cfgPath); err != nil {
				return err
			}
			fmt.Printf("removed %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

func configListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all updatable config paths with current values",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, _ := loadForConfigure()
			for _, path := range config.KnownPaths() {
				v, err := cfg.Get(path)
				if err != nil {
					continue
				}
				fmt.Printf("%-40s %v\n", path, v)
			}
		},
	}
}
