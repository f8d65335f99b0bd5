package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/pinflow/internal/cli"
	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/service"
	"github.com/Veraticus/pinflow/internal/sheets"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export confirmed sales",
	}
	cmd.AddCommand(exportConversionsCmd())
	return cmd
}

func exportConversionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversions",
		Short: "Append unexported sales to the Google Ads conversions sheet",
		Long: `Append every sale that carries a Google click id (gclid, gbraid or wbraid)
and has not been exported yet to the configured Google Sheet, in the
offline conversion import layout. Exported sales are marked so they are
never uploaded twice.

Authenticate first with 'pinflow auth sheets' or configure a service account.`,
		RunE: runExportConversions,
	}

	cmd.Flags().Int("batch", 0, "sales per batch (default: sheets.batch_size)")

	return cmd
}

func runExportConversions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	batch := cfg.Sheets.BatchSize
	if flag, _ := cmd.Flags().GetInt("batch"); flag > 0 {
		batch = flag
	}

	store, err := initStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	writer, err := sheets.NewWriter(ctx, cfg.Sheets, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to connect to Google Sheets: %w", err)
	}

	out := cmd.OutOrStdout()
	bar := newExportBar(out)
	exported, err := exportSales(ctx, store, writer, batch, bar, time.Now)
	_ = bar.Finish()
	if err != nil {
		err = fmt.Errorf("export stopped after %d sales: %w", exported, err)
		if common.IsRetryable(err) || errors.Is(err, common.ErrMaxRetries) {
			return common.NewUserError("Google Sheets is not accepting writes right now; run the export again later", err)
		}
		return err
	}

	if exported == 0 {
		_, _ = fmt.Fprintln(out, cli.FormatInfo("No new conversions to export"))
		return nil
	}
	common.LogInfo(slog.Default(), "Conversion export finished", common.Fields{
		"sales":          exported,
		"spreadsheet_id": cfg.Sheets.SpreadsheetID,
		"sheet":          cfg.Sheets.SheetName,
	})
	_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Exported %d conversions to %q", exported, cfg.Sheets.SheetName)))
	return nil
}

// exportSales drains unexported sales in batches. A batch is marked exported
// only after the sheet accepted it.
func exportSales(ctx context.Context, store service.Storage, exporter service.ConversionExporter, batch int, bar *progressbar.ProgressBar, now func() time.Time) (int, error) {
	total := 0
	for {
		sales, err := store.GetUnexportedSales(ctx, batch)
		if err != nil {
			return total, err
		}
		if len(sales) == 0 {
			return total, nil
		}

		if err := exporter.ExportConversions(ctx, sales); err != nil {
			return total, err
		}

		ids := make([]int64, len(sales))
		for i, s := range sales {
			ids[i] = s.ID
		}
		if err := store.MarkSalesExported(ctx, ids, now().UTC()); err != nil {
			return total, fmt.Errorf("sheet updated but sales not marked: %w", err)
		}

		total += len(sales)
		_ = bar.Add(len(sales))
	}
}

func newExportBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("[cyan][bold]Exporting conversions...[reset]"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprintln(w)
		}),
	)
}
