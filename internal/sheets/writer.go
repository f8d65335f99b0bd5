package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Veraticus/pinflow/internal/common"
	"github.com/Veraticus/pinflow/internal/model"
	"github.com/Veraticus/pinflow/internal/service"
)

// Writer appends conversions to a Google Sheets tab that Google Ads imports on a schedule.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	loc     *time.Location
	config  Config
}

var _ service.ConversionExporter = (*Writer)(nil)

// NewWriter creates a conversion writer authenticated per config.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sheets config: %w", err)
	}

	srv, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return newWriter(config, srv, logger)
}

func newWriter(config Config, srv *sheets.Service, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(config.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: time zone %q: %v", common.ErrInvalidConfig, config.TimeZone, err)
	}
	return &Writer{
		service: srv,
		logger:  logger,
		loc:     loc,
		config:  config,
	}, nil
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		jsonKey, err := os.ReadFile(config.ServiceAccountPath)
		if err != nil {
			return nil, fmt.Errorf("unable to read service account key file: %w", err)
		}

		jwtConfig, err := google.JWTConfigFromJSON(jsonKey, sheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse service account key: %w", err)
		}
		tokenSource = jwtConfig.TokenSource(ctx)
	} else {
		client := oauthConfig(config.ClientID, config.ClientSecret, "")
		tokenSource = client.TokenSource(ctx, &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		})
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}
	return srv, nil
}

// ExportConversions appends one import row per sale with a click id.
// The parameters and header rows are written first when the tab is empty.
func (w *Writer) ExportConversions(ctx context.Context, sales []model.Sale) error {
	rows := conversionRows(sales, w.config, w.loc)
	if len(rows) == 0 {
		w.logger.Debug("No attributable conversions to export", "sales", len(sales))
		return nil
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Logger:       w.logger,
	}

	if err := common.WithRetry(ctx, func() error {
		return classify(w.ensureHeader(ctx))
	}, retryOpts); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := 0; i < len(rows); i += w.config.BatchSize {
		end := min(i+w.config.BatchSize, len(rows))
		batch := rows[i:end]

		if err := common.WithRetry(ctx, func() error {
			return classify(w.appendRows(ctx, batch))
		}, retryOpts); err != nil {
			return fmt.Errorf("failed to append conversions %d-%d: %w", i+1, end, err)
		}
		w.logger.Debug("Appended conversion batch", "start", i+1, "rows", len(batch))
	}

	w.logger.Info("Exported conversions",
		"spreadsheet_id", w.config.SpreadsheetID,
		"sheet", w.config.SheetName,
		"rows", len(rows))
	return nil
}

func (w *Writer) ensureHeader(ctx context.Context) error {
	existing, err := w.service.Spreadsheets.Values.Get(w.config.SpreadsheetID, w.cellRange("A1:A2")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to read sheet %s: %w", w.config.SheetName, err)
	}
	if len(existing.Values) > 0 {
		return nil
	}

	header := &sheets.ValueRange{
		Values: [][]any{parametersRow(w.config.TimeZone), headerRow},
	}
	_, err = w.service.Spreadsheets.Values.Update(w.config.SpreadsheetID, w.cellRange("A1"), header).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("unable to write header: %w", err)
	}
	w.logger.Info("Initialized conversion sheet", "sheet", w.config.SheetName)
	return nil
}

func (w *Writer) appendRows(ctx context.Context, rows [][]any) error {
	_, err := w.service.Spreadsheets.Values.Append(w.config.SpreadsheetID, w.cellRange("A:G"), &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (w *Writer) cellRange(cells string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(w.config.SheetName, "'", "''"), cells)
}

// classify marks client errors other than throttling as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", common.ErrRateLimit, err)
	case apiErr.Code >= 400 && apiErr.Code < 500:
		return &common.RetryableError{Err: err, Retryable: false}
	default:
		return err
	}
}
