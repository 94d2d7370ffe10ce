package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"planalloc/internal/core"
	ports "planalloc/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const DefaultSheetName = "Allocations"

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ ports.ResultExporter = (*Client)(nil)

// Config selects the target spreadsheet and the service account used to reach it.
// CredentialsJSON wins over CredentialsFile; with neither set the
// GOOGLE_APPLICATION_CREDENTIALS file is used.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string) *Client {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = DefaultSheetName
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	credentialsJSON := []byte(strings.TrimSpace(cfg.CredentialsJSON))
	file := strings.TrimSpace(cfg.CredentialsFile)
	if file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case len(credentialsJSON) > 0:
		slog.InfoContext(ctx, "Using inline JSON credentials")
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON, GOOGLE_CREDENTIALS_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created successfully")
	return service, nil
}

// ExportExecution replaces the rows of exec in the sheet: earlier rows of the
// same execution id are cleared, then the current rows are appended.
func (c *Client) ExportExecution(ctx context.Context, exec core.AllocationExecution) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if exec.ExecutionID == "" {
		return "", errors.New("execution id is empty")
	}

	idRange := fmt.Sprintf("%s!A:A", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, idRange).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", idRange, err)
	}

	if len(resp.Values) == 0 {
		header := &gsheet.ValueRange{Values: [][]any{toRow(ports.Header)}}
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, fmt.Sprintf("%s!A1", c.sheetName), header).
			ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("write header in sheet %s: %w", c.sheetName, err)
		}
	}

	if stale := matchingRows(resp.Values, exec.ExecutionID); len(stale) > 0 {
		clear := &gsheet.BatchClearValuesRequest{Ranges: rowRanges(c.sheetName, stale)}
		if _, err := c.svc.Spreadsheets.Values.BatchClear(c.spreadsheetID, clear).Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("clear previous rows of %s: %w", exec.ExecutionID, err)
		}
		slog.DebugContext(ctx, "Cleared previous export rows", "execution_id", exec.ExecutionID, "rows", len(stale))
	}

	rows := ports.Rows(exec)
	if len(rows) == 0 {
		return "", nil
	}
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = toRow(r)
	}
	appendRange := fmt.Sprintf("%s!A:%s", c.sheetName, columnName(len(ports.Header)))
	out, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, appendRange, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append rows to sheet %s: %w", c.sheetName, err)
	}
	if out.Updates != nil {
		return out.Updates.UpdatedRange, nil
	}
	return appendRange, nil
}
