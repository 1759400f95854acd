package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"productsync/pkg/auth"
	"productsync/pkg/bitable"
	"productsync/pkg/config"
	"productsync/pkg/logger"
	"productsync/pkg/ui"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	appToken   string
	tableID    string
	noColor    bool
	quiet      bool

	printer = ui.NewPrinter(os.Stdout)
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "productsync",
	Short: "Scrape product pages and sync their images into a Bitable table",
	Long: `productsync reads product ids from a Bitable table, opens each product page in a
browser, extracts the description and image URLs and writes them back to the
table record.

Configuration is read from flags, PRODUCTSYNC_* environment variables, a .env
file and .productsync.yaml, in that order of precedence.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			printer.SetColor(false)
		}
		printer.SetQuiet(quiet)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// The context is cancelled on the first interrupt.
func Execute() {
	ctx, stop := signalContext()
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		printer.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .productsync.yaml or ~/.config/productsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&appToken, "app-token", "", "base app token")
	rootCmd.PersistentFlags().StringVar(&tableID, "table-id", "", "table id inside the base")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`productsync {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads configuration with the global flags merged over extra
// and initializes the global logger from it
func loadConfig(extra map[string]interface{}) (*config.Config, logger.Logger, error) {
	flags := map[string]interface{}{
		"app-token": appToken,
		"table-id":  tableID,
		"log-level": logLevel,
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.WithField("version", version).Debug("productsync starting")
	return cfg, log, nil
}

// resolveCredentials fills a missing app id or secret from the credential
// store. It is not an error to find nothing; ValidateBitable reports that.
func resolveCredentials(cfg *config.Config, log logger.Logger) {
	if cfg.Bitable.AppID != "" && cfg.Bitable.AppSecret != "" {
		return
	}

	manager, err := auth.NewManager()
	if err != nil {
		log.WithError(err).Warn("credential store unavailable")
		return
	}
	if err := manager.Fill(&cfg.Bitable); err != nil {
		if !errors.Is(err, auth.ErrCredentialsNotFound) {
			log.WithError(err).Warn("failed to read stored credentials")
		}
		return
	}
	log.WithField("app_id", cfg.Bitable.AppID).Debug("using stored app credentials")
}

// tableClient builds a client for the configured table, failing when the
// table identity is incomplete
func tableClient(cfg *config.Config, log logger.Logger) (*bitable.Client, bitable.TableRef, error) {
	resolveCredentials(cfg, log)
	if err := cfg.ValidateBitable(); err != nil {
		return nil, bitable.TableRef{}, fmt.Errorf("table is not configured: %w", err)
	}
	return bitable.NewClient(cfg.Bitable, log), tableRef(cfg), nil
}

func tableRef(cfg *config.Config) bitable.TableRef {
	return bitable.TableRef{AppToken: cfg.Bitable.AppToken, TableID: cfg.Bitable.TableID}
}

// signalContext is cancelled on the first interrupt
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
