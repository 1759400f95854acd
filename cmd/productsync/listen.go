package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"productsync/internal/browser"
	"productsync/pkg/pipeline"
)

var (
	// Listen command flags
	scrolls    int
	listenDry  bool
	listenHead bool
)

// listenCmd represents the listen command
var listenCmd = &cobra.Command{
	Use:   "listen <url>",
	Short: "Capture item_list responses from a page into the table",
	Long: `Open a page, scroll it to trigger item_list requests and decode the product
anchors found in their responses. Each decoded anchor becomes a new table record
with the fields extra_json, item_index and timestamp.

With --dry-run, or when no table is configured, the anchors are only logged.`,
	Example: `  # Capture three screens worth of items from a creator page
  productsync listen https://www.tiktok.com/@store --scrolls 3

  # Just look at what would be written
  productsync listen https://www.tiktok.com/@store --dry-run --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().IntVar(&scrolls, "scrolls", 5, "number of times to scroll down")
	listenCmd.Flags().BoolVar(&listenDry, "dry-run", false, "log decoded items instead of creating records")
	listenCmd.Flags().BoolVar(&listenHead, "headless", true, "run the browser without a window")
}

func runListen(cmd *cobra.Command, args []string) error {
	flags := map[string]interface{}{}
	if cmd.Flags().Changed("headless") {
		flags["headless"] = listenHead
	}
	cfg, log, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	var creator pipeline.RecordCreator
	resolveCredentials(cfg, log)
	if !listenDry && cfg.Bitable.Configured() {
		client, _, err := tableClient(cfg, log)
		if err != nil {
			return err
		}
		creator = client
	} else {
		printer.PrintInfo("Table sync", "off")
	}
	sink := pipeline.NewItemSink(creator, tableRef(cfg), log)

	session, err := browser.Open(browser.OptionsFromConfig(cfg.Browser), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("failed to close browser")
		}
	}()

	listener := browser.NewListener(ctx, browser.ItemListFilter, func(ctx context.Context, url string, body []byte) error {
		return sink.Consume(ctx, body)
	}, log)

	printer.PrintHighlight("[listening on " + args[0] + "]")
	captureErr := listener.Capture(ctx, session, args[0], scrolls, cfg.Browser.NavigationTimeout)

	matched, failed := listener.Stats()
	printer.PrintInfo("Responses", fmt.Sprintf("%d matched, %d failed", matched, failed))
	printer.PrintInfo("Items", fmt.Sprintf("%d decoded, %d without anchors", len(sink.Items()), sink.Skipped()))
	out := printer.Writer()
	for _, product := range sink.Products() {
		fmt.Fprintf(out, "%s  %s  %s\n",
			printer.Cyan(product.ExternalID),
			product.Title,
			printer.Dim(fmt.Sprintf("%d images", len(product.Images))))
	}
	if creator != nil {
		printer.PrintInfo("Records created", fmt.Sprintf("%d", sink.Created()))
	}
	return captureErr
}
