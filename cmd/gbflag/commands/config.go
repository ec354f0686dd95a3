package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/growthbook-openfeature-go/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage gbflag connection profiles.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Create a configuration file at ~/.growthbook/config.yaml

Example:
  gbflag config init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.InitConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		configPath, _ := cli.GetConfigPath()
		fmt.Printf("Configuration file created at: %s\n", configPath)
		fmt.Println("\nEdit the file to set your API host and client key.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured profiles",
	Long: `Display the configured profiles. Keys are masked.

Example:
  gbflag config show`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Printf("Default Profile: %s\n\n", cfg.DefaultProfile)
		fmt.Println("Profiles:")
		for _, name := range cfg.ProfileNames() {
			p := cfg.Profiles[name]
			fmt.Printf("  %s:\n", name)
			fmt.Printf("    api_host: %s\n", p.APIHost)
			fmt.Printf("    client_key: %s\n", mask(p.ClientKey))
			if p.DecryptionKey != "" {
				fmt.Printf("    decryption_key: %s\n", mask(p.DecryptionKey))
			}
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <profile> <api-host> <client-key> [decryption-key]",
	Short: "Create or replace a profile",
	Long: `Store connection settings under a profile name.

Example:
  gbflag config set prod https://cdn.growthbook.io sdk-abc123`,
	Args: cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		p := cli.Profile{APIHost: args[1], ClientKey: args[2]}
		if len(args) == 4 {
			p.DecryptionKey = args[3]
		}
		cfg.Profiles[args[0]] = p
		if cfg.DefaultProfile == "" {
			cfg.DefaultProfile = args[0]
		}

		if err := cli.SaveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("Successfully saved profile %s\n", args[0])
		return nil
	},
}

func mask(s string) string {
	if len(s) > 4 {
		return s[:4] + "***"
	}
	return "***"
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
