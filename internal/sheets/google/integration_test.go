//go:build integration

package google

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

// Integration tests require real Google Sheets credentials
// Run with: go test -tags=integration ./internal/sheets/google

func TestIntegration_ExportExecution(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	spreadsheetID := os.Getenv("GOOGLE_SPREADSHEET_ID")
	if spreadsheetID == "" {
		t.Skip("GOOGLE_SPREADSHEET_ID not set, skipping integration test")
	}

	ctx := context.Background()
	client, err := New(ctx, Config{
		SpreadsheetID:   spreadsheetID,
		SheetName:       os.Getenv("GOOGLE_SHEET_NAME"),
		CredentialsJSON: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	exec := testExecution(uuid.NewString(), 600, 400)
	for i := 0; i < 2; i++ {
		ref, err := client.ExportExecution(ctx, exec)
		if err != nil {
			t.Fatalf("export attempt %d: %v", i+1, err)
		}
		t.Logf("Exported %s to %s", exec.ExecutionID, ref)
	}
}
