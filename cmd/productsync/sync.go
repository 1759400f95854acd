package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"productsync/internal/browser"
	"productsync/internal/downloader"
	"productsync/pkg/bitable"
	"productsync/pkg/checkpoint"
	"productsync/pkg/config"
	"productsync/pkg/logger"
	"productsync/pkg/models"
	"productsync/pkg/pipeline"
	"productsync/pkg/ui"
)

var (
	// Sync command flags
	resumeRun      bool
	itemLimit      int
	showReport     bool
	batchSize      int
	pacing         time.Duration
	headless       bool
	downloadImages bool
	downloadFolder string
	journalName    string
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fill empty image fields of the configured table",
	Long: `Query the table for records whose images field is empty, scrape each product
page and write the description and image URLs back to the record.

Every finished item is written to a run journal. An interrupted run can be
continued with --resume, which skips the products that already succeeded.`,
	Example: `  # Sync every pending record
  productsync sync

  # Try the first five pending records with a visible browser
  productsync sync --limit 5 --headless=false

  # Continue an interrupted run and keep local copies of the images
  productsync sync --resume --download

  # Print the journal of the last run
  productsync sync --report`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&resumeRun, "resume", false, "skip products that succeeded in the previous run")
	syncCmd.Flags().IntVar(&itemLimit, "limit", 0, "process at most this many items (0 = all)")
	syncCmd.Flags().BoolVar(&showReport, "report", false, "print the journal of the last run and exit")
	syncCmd.Flags().StringVar(&journalName, "journal", "", "journal name (default: derived from the table)")
	addRunFlags(syncCmd)
}

// addRunFlags registers the flags shared by every command that drives the pipeline
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "items per batch")
	cmd.Flags().DurationVar(&pacing, "pacing", 3*time.Second, "pause after every item")
	cmd.Flags().BoolVar(&headless, "headless", true, "run the browser without a window")
	cmd.Flags().BoolVar(&downloadImages, "download", false, "also save images and text locally")
	cmd.Flags().StringVar(&downloadFolder, "download-folder", "", "folder for local copies")
}

func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := map[string]interface{}{
		"batch-size":      batchSize,
		"download-folder": downloadFolder,
	}
	if cmd.Flags().Changed("pacing") {
		flags["pacing"] = pacing
	}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = headless
	}
	if cmd.Flags().Changed("download") {
		flags["download"] = downloadImages
	}
	return flags
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(runFlags(cmd))
	if err != nil {
		return err
	}

	client, table, err := tableClient(cfg, log)
	if err != nil {
		return err
	}

	name := journalName
	if name == "" {
		name = table.String()
	}
	journal, err := checkpoint.NewManager(name, log)
	if err != nil {
		return err
	}

	if showReport {
		return printJournal(journal)
	}

	ctx := cmd.Context()

	items, err := pipeline.PendingWorkItems(ctx, client, table, cfg.Pipeline)
	if err != nil {
		if len(items) == 0 {
			return fmt.Errorf("failed to query pending records: %w", err)
		}
		log.WithError(err).Warn("record query stopped early, continuing with what was fetched")
	}
	printer.PrintInfo("Pending records", fmt.Sprintf("%d", len(items)))

	if resumeRun {
		previous, err := journal.Load()
		if err != nil {
			return err
		}
		var done int
		items, done = checkpoint.Pending(previous, items)
		if done > 0 {
			printer.PrintInfo("Already synced", fmt.Sprintf("%d", done))
		}
	}

	if itemLimit > 0 && len(items) > itemLimit {
		items = items[:itemLimit]
	}
	if len(items) == 0 {
		printer.PrintSuccess("Nothing to sync")
		return nil
	}

	p, cleanup, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	p.SetSyncTarget(client, table)
	if _, err := journal.Start(p.RunID(), table.String(), resumeRun); err != nil {
		return err
	}
	p.SetRecorder(journal)

	report, err := runWithProgress(ctx, p, items)
	if errors.Is(err, context.Canceled) {
		printer.PrintWarning("Interrupted", "rerun with --resume to continue")
		return nil
	}
	if err != nil {
		return err
	}
	printer.PrintInfo("Journal", journal.Path())
	return reportError(report)
}

// newPipeline opens the browser and wires the scraper and optional artifact
// store. cleanup closes the browser.
func newPipeline(cfg *config.Config, log logger.Logger) (*pipeline.Pipeline, func(), error) {
	session, err := browser.Open(browser.OptionsFromConfig(cfg.Browser), log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("failed to close browser")
		}
	}

	p := pipeline.New(cfg.Pipeline, browser.NewProductScraper(session, cfg.Browser, log), log)

	if cfg.Download.Enabled {
		artifacts, err := downloader.FromConfig(cfg, log)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		p.SetArtifactStore(artifacts)
		printer.PrintInfo("Saving images to", cfg.Download.Folder)
	}
	return p, cleanup, nil
}

func runWithProgress(ctx context.Context, p *pipeline.Pipeline, items []models.WorkItem) (*models.Report, error) {
	progress := ui.NewRunProgress(printer, len(items))
	p.SetObserver(progress.Observe)

	printer.PrintBanner()
	printer.PrintHighlight(fmt.Sprintf("[run %s]", p.RunID()))
	report, err := p.Run(ctx, items)
	progress.Complete(report)
	return report, err
}

// reportError turns a run where nothing succeeded into a non-zero exit
func reportError(report *models.Report) error {
	if report == nil || len(report.Results) == 0 || report.Success > 0 {
		return nil
	}
	return fmt.Errorf("none of %d products succeeded", len(report.Results))
}

func printJournal(journal *checkpoint.Manager) error {
	j, err := journal.Load()
	if err != nil {
		return err
	}
	if j == nil {
		printer.PrintWarning("No journal found", journal.Path())
		return nil
	}

	printer.PrintInfo("Run", j.RunID)
	printer.PrintInfo("Table", j.Table)
	printer.PrintInfo("Updated", j.UpdatedAt.Format(time.RFC3339))
	printer.PrintInfo("Totals", fmt.Sprintf("success %d, failed %d, error %d, sync failures %d",
		j.Totals.Success, j.Totals.Failed, j.Totals.Errored, j.Totals.SyncFailures))

	ids := make([]string, 0, len(j.Results))
	for id, e := range j.Results {
		if e.Status != models.StatusSuccess || e.SyncError != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := printer.Writer()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, id := range ids {
		fmt.Fprintf(out, "\n%s\n", printer.Yellow(id))
		if err := enc.Encode(j.Results[id]); err != nil {
			return err
		}
	}
	return nil
}

var _ pipeline.TableWriter = (*bitable.Client)(nil)
