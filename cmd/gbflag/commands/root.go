package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	apiHost       string
	clientKey     string
	decryptionKey string
	profile       string
	format        string
	quiet         bool
	verbose       bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "gbflag",
	Short: "Evaluate GrowthBook feature flags through OpenFeature",
	Long: `gbflag evaluates GrowthBook feature flags with the OpenFeature provider,
exactly as an application using the provider would see them.

Examples:
  gbflag eval new-checkout --type bool --targeting-key user-123
  gbflag eval button-color --default blue --attr country=US --format json
  gbflag eval max-items --type int --fixtures features.yaml
  gbflag config init`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiHost, "api-host", "", "GrowthBook API host")
	rootCmd.PersistentFlags().StringVar(&clientKey, "client-key", "", "SDK connection client key")
	rootCmd.PersistentFlags().StringVar(&decryptionKey, "decryption-key", "", "Decryption key for encrypted payloads")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "Profile from ~/.growthbook/config.yaml")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}
