package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"productsync/pkg/auth"
	"productsync/pkg/config"
)

const defaultConfigPath = ".productsync.yaml"

const configHeader = `# productsync configuration
#
# Every value can also be set with a PRODUCTSYNC_ environment variable, for
# example PRODUCTSYNC_APP_ID, PRODUCTSYNC_APP_SECRET, PRODUCTSYNC_APP_TOKEN and
# PRODUCTSYNC_TABLE_ID. Prefer 'productsync auth set' over putting the app
# secret in this file.

`

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage productsync configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables
  - .env file
  - Configuration file
  - Default values (lowest priority)`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file with the default values",
	Long: `Create a configuration file holding every option at its default value.

The file is created as '.productsync.yaml' in the current directory unless a
different path is given with --config. Existing files are never overwritten.`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after merging all sources, including stored
credentials. The app secret is masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
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
	}

	data, err := defaultConfigYAML()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to create configuration file: %w", err)
	}

	printer.PrintSuccess("Configuration file created: " + path)
	out := printer.Writer()
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Set app_token and table_id in the file")
	fmt.Fprintln(out, "2. Store the app credentials with 'productsync auth set'")
	fmt.Fprintln(out, "3. Check the result with 'productsync config validate'")
	return nil
}

func defaultConfigYAML() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(config.DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return buf.Bytes(), nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}
	resolveCredentials(cfg, log)

	display := maskedConfig(cfg)
	data, err := yaml.Marshal(display)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	printer.PrintHighlight("Current Configuration")
	fmt.Fprint(printer.Writer(), string(data))
	return nil
}

// maskedConfig returns a copy safe to print
func maskedConfig(cfg *config.Config) config.Config {
	display := *cfg
	if display.Bitable.AppSecret != "" {
		display.Bitable.AppSecret = auth.Sanitize(&auth.AppCredential{AppSecret: cfg.Bitable.AppSecret}).AppSecret
	}
	return display
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}
	printer.PrintSuccess("Configuration is valid")

	resolveCredentials(cfg, log)
	if err := cfg.ValidateBitable(); err != nil {
		printer.PrintWarning("Table sync is not configured", err)
		return nil
	}
	printer.PrintInfo("Table", cfg.Bitable.AppToken+"/"+cfg.Bitable.TableID)
	return nil
}
