package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"instaclean/pkg/config"
	"instaclean/pkg/ui"
)

const defaultConfigPath = "instaclean.yaml"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage InstaClean configuration files.

Configuration is loaded from, in order of priority:
  - Command line flags
  - Environment variables (INSTACLEAN_*, PORT)
  - .env files
  - Configuration file
  - Default values`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write every option with its default value to 'instaclean.yaml', or to
the path given with --config. An existing file is never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration from every source and check value ranges.
Warnings are printed for settings that work but are probably unintended.`,
	Args: cobra.NoArgs,
	RunE: runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configFile
	if path == "" {
		path = defaultConfigPath
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	ui.PrintSuccess("Configuration file created: " + path)
	fmt.Fprintln(ui.Output, "\nNext steps:")
	fmt.Fprintln(ui.Output, "1. Adjust pacing and limits in the file")
	fmt.Fprintln(ui.Output, "2. Run 'instaclean config validate' to check it")
	fmt.Fprintln(ui.Output, "3. Start the service with 'instaclean serve'")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}

	ui.PrintHighlight("Current Configuration")
	fmt.Fprintln(ui.Output)
	fmt.Fprint(ui.Output, string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		ui.PrintInfo("Validating configuration", configFile)
	}

	cfg, err := config.Load(configFile, globalFlags())
	if err != nil {
		return err
	}

	warnings := configWarnings(cfg)
	if len(warnings) > 0 {
		ui.PrintWarning("Configuration warnings:")
		for _, w := range warnings {
			fmt.Fprintf(ui.Output, "  - %s\n", w)
		}
		fmt.Fprintln(ui.Output)
	}

	ui.PrintSuccess("Configuration is valid")

	fmt.Fprintln(ui.Output, "\nConfiguration summary:")
	fmt.Fprintf(ui.Output, "  Listen address: %s\n", cfg.Server.Address())
	fmt.Fprintf(ui.Output, "  Cancel delay: %s to %s\n", cfg.Batch.CancelDelayMin, cfg.Batch.CancelDelayMax)
	fmt.Fprintf(ui.Output, "  Max items: %d (lookups: %d)\n", cfg.Batch.MaxItems, cfg.Batch.MaxLookupItems)
	fmt.Fprintf(ui.Output, "  Rate limit: %d requests/minute\n", cfg.RateLimit.RequestsPerMinute)
	fmt.Fprintf(ui.Output, "  Log level: %s\n", cfg.Logging.Level)
	return nil
}

// configWarnings flags settings that pass validation but risk account
// restrictions or confuse browsers
func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if cfg.Batch.CancelDelayMin < 3*time.Second {
		warnings = append(warnings, "cancel_delay_min below 3s makes rate limiting likely")
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		warnings = append(warnings, "client-side rate limiting is disabled")
	}
	if len(cfg.Server.AllowedOrigins) > 0 && !cfg.Server.SecureCookies {
		warnings = append(warnings, "cross-origin access without secure cookies")
	}
	return warnings
}
