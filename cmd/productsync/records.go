package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"productsync/pkg/bitable"
	"productsync/pkg/config"
)

var (
	// Records command flags
	viewID      string
	listAll     bool
	pageToken   string
	asJSON      bool
	emptyField  string
	forceDelete bool
)

// recordsCmd represents the records command
var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and maintain table records",
}

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List table records",
	Example: `  # First page of the table
  productsync records list

  # Every record visible in a view, as JSON
  productsync records list --view vewXXXX --all --json`,
	Args: cobra.NoArgs,
	RunE: runRecordsList,
}

var recordsQueryEmptyCmd = &cobra.Command{
	Use:   "query-empty",
	Short: "List records whose images field is empty",
	Long: `List the records a sync run would pick up: those whose images field (or the
field given with --field) is empty.`,
	Args: cobra.NoArgs,
	RunE: runRecordsQueryEmpty,
}

var recordsDeleteCmd = &cobra.Command{
	Use:   "delete <record_id>...",
	Short: "Delete records",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRecordsDelete,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsQueryEmptyCmd)
	recordsCmd.AddCommand(recordsDeleteCmd)

	recordsCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print records as JSON")
	recordsListCmd.Flags().StringVar(&viewID, "view", "", "only records visible in this view (default: configured view)")
	recordsListCmd.Flags().BoolVar(&listAll, "all", false, "follow page tokens to the end")
	recordsListCmd.Flags().StringVar(&pageToken, "page-token", "", "continue from this page token")
	recordsQueryEmptyCmd.Flags().StringVar(&emptyField, "field", "", "field to test (default: configured images field)")
	recordsDeleteCmd.Flags().BoolVarP(&forceDelete, "yes", "y", false, "do not ask for confirmation")
}

func runRecordsList(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}
	client, table, err := tableClient(cfg, log)
	if err != nil {
		return err
	}

	view := viewID
	if view == "" {
		view = cfg.Bitable.ViewID
	}

	var (
		records []bitable.Record
		next    string
	)
	token := pageToken
	for {
		page, err := client.ListView(cmd.Context(), table, view, cfg.Bitable.PageSize, token)
		if err != nil {
			if len(records) > 0 {
				_ = printRecords(records, cfg)
			}
			return err
		}
		records = append(records, page.Items...)
		if !listAll || !page.HasMore || page.PageToken == "" || page.PageToken == token {
			if page.HasMore && !listAll {
				next = page.PageToken
			}
			break
		}
		token = page.PageToken
	}

	if err := printRecords(records, cfg); err != nil {
		return err
	}
	if next != "" && !asJSON {
		printer.PrintInfo("Next page token", next)
	}
	return nil
}

func runRecordsQueryEmpty(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}
	client, table, err := tableClient(cfg, log)
	if err != nil {
		return err
	}

	field := emptyField
	if field == "" {
		field = cfg.Pipeline.ImagesField
	}

	records, err := client.Query(cmd.Context(), table, bitable.And(bitable.IsEmpty(field)), true)
	if err != nil && len(records) == 0 {
		return err
	}
	if perr := printRecords(records, cfg); perr != nil {
		return perr
	}
	if !asJSON {
		printer.PrintInfo(fmt.Sprintf("Records with empty %s", field), fmt.Sprintf("%d", len(records)))
	}
	return err
}

func runRecordsDelete(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return err
	}
	client, table, err := tableClient(cfg, log)
	if err != nil {
		return err
	}

	if !forceDelete && !confirm(fmt.Sprintf("Delete %d record(s) from %s?", len(args), table)) {
		return nil
	}

	var failed int
	for _, id := range args {
		if _, err := client.Delete(cmd.Context(), table, id); err != nil {
			printer.PrintError("Failed to delete "+id, err)
			failed++
			continue
		}
		printer.PrintSuccess("Deleted " + id)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletes failed", failed, len(args))
	}
	return nil
}

func printRecords(records []bitable.Record, cfg *config.Config) error {
	if asJSON {
		enc := json.NewEncoder(printer.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	out := printer.Writer()
	for _, rec := range records {
		images := rec.Text(cfg.Pipeline.ImagesField)
		count := 0
		if images != "" {
			count = len(strings.Split(images, ";"))
		}
		fmt.Fprintf(out, "%s  %s  %s\n",
			printer.Cyan(rec.ID()),
			printer.Yellow(rec.Text(cfg.Pipeline.ProductIDField)),
			printer.Dim(fmt.Sprintf("%d images", count)))
	}
	return nil
}
