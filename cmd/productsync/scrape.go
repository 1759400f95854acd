package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"productsync/pkg/models"
	"productsync/pkg/pipeline"
)

var (
	// Scrape command flags
	idsFile    string
	itemsFile  string
	noSync     bool
	reportFile string
)

// scrapeCmd represents the scrape command
var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape an explicit list of products",
	Long: `Scrape the products named in a file instead of querying the table.

--items reads a JSON array of {"product_id", "record_id"} objects. --ids reads
one product id per line; record ids are then looked up in the table when one is
configured. Without a table, products are only scraped (and saved locally with
--download).`,
	Example: `  # Scrape and sync a prepared work list
  productsync scrape --items work.json

  # Scrape ids only, keep local copies, write the report
  productsync scrape --ids ids.txt --no-sync --download --out report.json`,
	Args: cobra.NoArgs,
	RunE: runScrape,
}

func init() {
	rootCmd.AddCommand(scrapeCmd)

	scrapeCmd.Flags().StringVar(&idsFile, "ids", "", "file with one product id per line")
	scrapeCmd.Flags().StringVar(&itemsFile, "items", "", "JSON file with product_id/record_id pairs")
	scrapeCmd.Flags().BoolVar(&noSync, "no-sync", false, "do not write results to the table")
	scrapeCmd.Flags().StringVarP(&reportFile, "out", "o", "", "write the run report as JSON to this file")
	scrapeCmd.MarkFlagsMutuallyExclusive("ids", "items")
	scrapeCmd.MarkFlagsOneRequired("ids", "items")
	addRunFlags(scrapeCmd)
}

func runScrape(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(runFlags(cmd))
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	resolveCredentials(cfg, log)
	syncing := !noSync && cfg.Bitable.Configured()
	client, table, err := tableClient(cfg, log)
	if syncing && err != nil {
		return err
	}

	var items []models.WorkItem
	switch {
	case itemsFile != "":
		f, err := os.Open(itemsFile)
		if err != nil {
			return err
		}
		var skipped int
		items, skipped, err = pipeline.LoadWorkItems(f)
		f.Close()
		if err != nil {
			return err
		}
		if skipped > 0 {
			printer.PrintWarning("Skipped malformed entries", skipped)
		}

	default:
		var recordIDs map[string]string
		if syncing {
			records, err := client.ListAll(ctx, table, cfg.Bitable.PageSize)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}
			recordIDs = pipeline.RecordIndex(records, cfg.Pipeline.ProductIDField)
		}

		f, err := os.Open(idsFile)
		if err != nil {
			return err
		}
		items, err = pipeline.ReadIDList(f, recordIDs)
		f.Close()
		if err != nil {
			return err
		}
	}

	if len(items) == 0 {
		printer.PrintWarning("No products to scrape")
		return nil
	}
	printer.PrintInfo("Products", fmt.Sprintf("%d", len(items)))

	p, cleanup, err := newPipeline(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if syncing {
		p.SetSyncTarget(client, table)
	} else {
		printer.PrintInfo("Table sync", "off")
	}

	report, err := runWithProgress(ctx, p, items)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if reportFile != "" {
		if werr := writeReport(reportFile, report); werr != nil {
			return werr
		}
		printer.PrintInfo("Report", reportFile)
	}
	if err != nil {
		printer.PrintWarning("Interrupted", "the report covers the products finished so far")
		return nil
	}
	return reportError(report)
}

func writeReport(path string, report *models.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
