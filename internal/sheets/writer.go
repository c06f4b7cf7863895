package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/comptaflow/ledgercast/internal/common"
	"github.com/comptaflow/ledgercast/internal/service"
)

// Writer implements the ReportWriter interface for Google Sheets.
type Writer struct {
	service *sheets.Service
	logger  *slog.Logger
	config  Config
}

// NewWriter creates a new Google Sheets report writer.
func NewWriter(ctx context.Context, config Config, logger *slog.Logger) (*Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	service, err := createSheetsService(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Writer{
		config:  config,
		service: service,
		logger:  logger,
	}, nil
}

// Write renders a forecast table into the configured spreadsheet. Each run
// replaces the previous contents of the Forecast, Methods and Rejections tabs.
func (w *Writer) Write(ctx context.Context, table *service.ForecastTable) error {
	if table == nil {
		return fmt.Errorf("forecast table is nil")
	}

	w.logger.Info("starting forecast export",
		"run_id", table.Run.ID,
		"accounts", len(table.Forecasts),
		"start", table.Start.String(),
		"horizon", table.Horizon)

	spreadsheetID, sheetIDs, err := w.ensureSpreadsheet(ctx)
	if err != nil {
		return fmt.Errorf("failed to get spreadsheet: %w", err)
	}

	retryOpts := service.RetryOptions{
		MaxAttempts:  w.config.RetryAttempts,
		InitialDelay: w.config.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	tabs := []struct {
		title  string
		values [][]any
	}{
		{sheetForecast, forecastGrid(table)},
		{sheetMethods, methodRows(table)},
		{sheetRejections, rejectionRows(table)},
	}

	for _, tab := range tabs {
		err = common.WithRetry(ctx, func() error {
			if clearErr := w.clearTab(ctx, spreadsheetID, tab.title); clearErr != nil {
				return classifyError(clearErr)
			}
			return classifyError(w.writeTab(ctx, spreadsheetID, tab.title, tab.values))
		}, retryOpts)
		if err != nil {
			return fmt.Errorf("failed to write %s tab: %w", tab.title, err)
		}
	}

	if w.config.EnableFormatting {
		err = common.WithRetry(ctx, func() error {
			return classifyError(w.applyFormatting(ctx, spreadsheetID, sheetIDs, table))
		}, retryOpts)
		if err != nil {
			// Formatting failures don't invalidate the exported data.
			w.logger.Warn("failed to apply formatting", "error", err)
		}
	}

	w.logger.Info("forecast export completed",
		"spreadsheet_id", spreadsheetID,
		"accounts", len(table.Forecasts))

	return nil
}

// classifyError maps Google API failures onto the retry taxonomy: rate
// limits wait out the full backoff delay, server errors retry normally and
// any other API error fails fast instead of burning attempts.
func classifyError(err error) error {
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
	case apiErr.Code >= http.StatusInternalServerError:
		return &common.RetryableError{Err: err, Retryable: true}
	}
	return &common.RetryableError{Err: err, Retryable: false}
}

// createSheetsService creates a Google Sheets API service.
func createSheetsService(ctx context.Context, config Config) (*sheets.Service, error) {
	var tokenSource oauth2.TokenSource

	if config.ServiceAccountPath != "" {
		// Use service account authentication
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
		// Use OAuth2 authentication
		oauthConfig := &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{sheets.SpreadsheetsScope},
		}

		token := &oauth2.Token{
			RefreshToken: config.RefreshToken,
			TokenType:    "Bearer",
		}

		tokenSource = oauthConfig.TokenSource(ctx, token)
	}

	httpClient := oauth2.NewClient(ctx, tokenSource)
	srv, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("unable to create sheets service: %w", err)
	}

	return srv, nil
}

// ensureSpreadsheet resolves the target spreadsheet and guarantees that all
// report tabs exist, returning the sheet ID of each tab by title.
func (w *Writer) ensureSpreadsheet(ctx context.Context) (string, map[string]int64, error) {
	if w.config.SpreadsheetID != "" {
		spreadsheet, err := w.service.Spreadsheets.Get(w.config.SpreadsheetID).Context(ctx).Do()
		if err != nil {
			return "", nil, fmt.Errorf("unable to access spreadsheet %s: %w", w.config.SpreadsheetID, err)
		}

		ids := sheetIDsByTitle(spreadsheet)
		var requests []*sheets.Request
		for _, title := range sheetTitles {
			if _, ok := ids[title]; !ok {
				requests = append(requests, &sheets.Request{
					AddSheet: &sheets.AddSheetRequest{
						Properties: &sheets.SheetProperties{Title: title},
					},
				})
			}
		}

		if len(requests) > 0 {
			resp, err := w.service.Spreadsheets.BatchUpdate(w.config.SpreadsheetID,
				&sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
			if err != nil {
				return "", nil, fmt.Errorf("unable to add report tabs: %w", err)
			}
			for _, reply := range resp.Replies {
				if reply.AddSheet != nil {
					ids[reply.AddSheet.Properties.Title] = reply.AddSheet.Properties.SheetId
				}
			}
		}

		return w.config.SpreadsheetID, ids, nil
	}

	// Create a new spreadsheet with all report tabs
	tabs := make([]*sheets.Sheet, 0, len(sheetTitles))
	for _, title := range sheetTitles {
		tabs = append(tabs, &sheets.Sheet{
			Properties: &sheets.SheetProperties{Title: title},
		})
	}

	spreadsheet := &sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title:    w.config.SpreadsheetName,
			TimeZone: w.config.TimeZone,
		},
		Sheets: tabs,
	}

	created, err := w.service.Spreadsheets.Create(spreadsheet).Context(ctx).Do()
	if err != nil {
		return "", nil, fmt.Errorf("unable to create spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet",
		"id", created.SpreadsheetId,
		"url", created.SpreadsheetUrl)

	return created.SpreadsheetId, sheetIDsByTitle(created), nil
}

func sheetIDsByTitle(spreadsheet *sheets.Spreadsheet) map[string]int64 {
	ids := make(map[string]int64, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			ids[sheet.Properties.Title] = sheet.Properties.SheetId
		}
	}
	return ids
}

// clearTab clears all data from one tab.
func (w *Writer) clearTab(ctx context.Context, spreadsheetID, title string) error {
	rangeStr := fmt.Sprintf("'%s'", title)
	_, err := w.service.Spreadsheets.Values.Clear(spreadsheetID, rangeStr, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

// writeTab writes the values of one tab in batches to avoid API limits.
func (w *Writer) writeTab(ctx context.Context, spreadsheetID, title string, values [][]any) error {
	for i := 0; i < len(values); i += w.config.BatchSize {
		end := i + w.config.BatchSize
		if end > len(values) {
			end = len(values)
		}

		valueRange := &sheets.ValueRange{Values: values[i:end]}
		rangeStr := fmt.Sprintf("'%s'!A%d", title, i+1)
		_, err := w.service.Spreadsheets.Values.Update(spreadsheetID, rangeStr, valueRange).
			ValueInputOption("USER_ENTERED").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("failed to write batch starting at row %d: %w", i+1, err)
		}

		w.logger.Debug("wrote batch", "tab", title, "start_row", i+1, "rows", end-i)
	}

	return nil
}

// applyFormatting styles the report tabs: bold frozen headers, a euro number
// format on forecast values, and auto-sized columns.
func (w *Writer) applyFormatting(ctx context.Context, spreadsheetID string, sheetIDs map[string]int64, table *service.ForecastTable) error {
	var requests []*sheets.Request

	if id, ok := sheetIDs[sheetForecast]; ok {
		columns := int64(len(table.Forecasts) + 1)
		requests = append(requests,
			// Bold header row
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:        id,
						StartRowIndex:  0,
						EndRowIndex:    1,
						EndColumnIndex: columns,
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat: &sheets.TextFormat{Bold: true},
						},
					},
					Fields: "userEnteredFormat.textFormat",
				},
			},
			// Euro format for forecast values
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:          id,
						StartRowIndex:    1,
						EndRowIndex:      int64(table.Horizon + 1),
						StartColumnIndex: 1,
						EndColumnIndex:   columns,
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							NumberFormat: &sheets.NumberFormat{
								Type:    "CURRENCY",
								Pattern: "#,##0.00\" €\"",
							},
						},
					},
					Fields: "userEnteredFormat.numberFormat",
				},
			},
			// Freeze the month column and header row
			&sheets.Request{
				UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
					Properties: &sheets.SheetProperties{
						SheetId: id,
						GridProperties: &sheets.GridProperties{
							FrozenRowCount:    1,
							FrozenColumnCount: 1,
						},
					},
					Fields: "gridProperties.frozenRowCount,gridProperties.frozenColumnCount",
				},
			},
			&sheets.Request{
				AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
					Dimensions: &sheets.DimensionRange{
						SheetId:    id,
						Dimension:  "COLUMNS",
						StartIndex: 0,
						EndIndex:   columns,
					},
				},
			},
		)
	}

	if id, ok := sheetIDs[sheetRejections]; ok {
		requests = append(requests,
			&sheets.Request{
				RepeatCell: &sheets.RepeatCellRequest{
					Range: &sheets.GridRange{
						SheetId:        id,
						StartRowIndex:  0,
						EndRowIndex:    1,
						EndColumnIndex: 4,
					},
					Cell: &sheets.CellData{
						UserEnteredFormat: &sheets.CellFormat{
							TextFormat: &sheets.TextFormat{Bold: true},
						},
					},
					Fields: "userEnteredFormat.textFormat",
				},
			},
			&sheets.Request{
				AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
					Dimensions: &sheets.DimensionRange{
						SheetId:    id,
						Dimension:  "COLUMNS",
						StartIndex: 0,
						EndIndex:   4,
					},
				},
			},
		)
	}

	if id, ok := sheetIDs[sheetMethods]; ok {
		requests = append(requests, &sheets.Request{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    id,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   10,
				},
			},
		})
	}

	if len(requests) == 0 {
		return nil
	}

	batchUpdate := &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}
	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, batchUpdate).Context(ctx).Do()
	return err
}
