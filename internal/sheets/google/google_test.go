package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"planalloc/internal/core"
)

// fakeSheet serves the handful of Sheets endpoints the exporter uses.
type fakeSheet struct {
	mu   sync.Mutex
	rows [][]string
}

var rowRange = regexp.MustCompile(`![A-Z]+(\d+):[A-Z]+(\d+)$`)

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		values := make([][]string, len(f.rows))
		for i, row := range f.rows {
			if len(row) > 0 && row[0] != "" {
				values[i] = []string{row[0]}
			} else {
				values[i] = []string{}
			}
		}
		writeJSON(w, map[string]any{"values": values})

	case r.Method == http.MethodPut && strings.Contains(path, "/values/"):
		var vr struct{ Values [][]string }
		_ = json.NewDecoder(r.Body).Decode(&vr)
		if len(f.rows) == 0 {
			f.rows = append(f.rows, nil)
		}
		f.rows[0] = vr.Values[0]
		writeJSON(w, map[string]any{})

	case r.Method == http.MethodPost && strings.HasSuffix(path, "values:batchClear"):
		var req struct{ Ranges []string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		for _, rng := range req.Ranges {
			m := rowRange.FindStringSubmatch(rng)
			from, _ := strconv.Atoi(m[1])
			to, _ := strconv.Atoi(m[2])
			for i := from; i <= to; i++ {
				f.rows[i-1] = nil
			}
		}
		writeJSON(w, map[string]any{})

	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		var vr struct{ Values [][]string }
		_ = json.NewDecoder(r.Body).Decode(&vr)
		start := len(f.rows) + 1
		f.rows = append(f.rows, vr.Values...)
		writeJSON(w, map[string]any{"updates": map[string]any{
			"updatedRange": fmt.Sprintf("Allocations!A%d:Q%d", start, len(f.rows)),
		}})

	default:
		http.Error(w, "unexpected "+r.Method+" "+path, http.StatusNotFound)
	}
}

func (f *fakeSheet) liveRows() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, r := range f.rows {
		if len(r) > 0 {
			out = append(out, r)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T) (*Client, *fakeSheet) {
	t.Helper()
	sheet := &fakeSheet{}
	srv := httptest.NewServer(sheet)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return NewWithService(svc, "sheet-id", ""), sheet
}

func testExecution(id string, amounts ...int64) core.AllocationExecution {
	step := core.ExecutionStep{
		EventID: "EV-RENT", EventName: "Rent", StepNo: 1, StepName: "Rent",
		FromSubjectID: "OVERHEAD", FromDepartmentID: "HQ", DriverType: core.DriverFixed,
	}
	for i, a := range amounts {
		step.SourceAmount += a
		step.Details = append(step.Details, core.AllocationDetail{
			ToDepartmentID: fmt.Sprintf("D%d", i+1), ToSubjectID: "ALLOC", DriverType: core.DriverFixed,
			Ratio: decimal.NewFromFloat(0.5), AllocatedAmount: a,
		})
	}
	return core.AllocationExecution{
		ExecutionID: id, PlanEventID: "PE", PlanVersionID: "V1",
		Status: core.ExecutionSuccess, ExecutedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Steps: []core.ExecutionStep{step},
	}
}

func TestExportExecutionWritesHeaderAndRows(t *testing.T) {
	c, sheet := newTestClient(t)

	ref, err := c.ExportExecution(context.Background(), testExecution("x-1", 600, 400))
	if err != nil {
		t.Fatalf("ExportExecution: %v", err)
	}
	if ref != "Allocations!A2:Q3" {
		t.Errorf("ref = %q", ref)
	}
	rows := sheet.liveRows()
	if len(rows) != 3 {
		t.Fatalf("live rows = %d, want 3", len(rows))
	}
	if rows[0][0] != "execution_id" {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][16] != "6.00" || rows[2][16] != "4.00" {
		t.Errorf("amounts = %q, %q", rows[1][16], rows[2][16])
	}
}

func TestExportExecutionReplacesPreviousRows(t *testing.T) {
	c, sheet := newTestClient(t)
	ctx := context.Background()

	for _, exec := range []core.AllocationExecution{
		testExecution("x-1", 600, 400),
		testExecution("x-2", 1),
		testExecution("x-1", 600, 400),
	} {
		if _, err := c.ExportExecution(ctx, exec); err != nil {
			t.Fatalf("ExportExecution(%s): %v", exec.ExecutionID, err)
		}
	}

	count := map[string]int{}
	for _, r := range sheet.liveRows()[1:] {
		count[r[0]]++
	}
	if count["x-1"] != 2 || count["x-2"] != 1 {
		t.Errorf("rows per execution = %v", count)
	}
}

func TestExportExecutionWithoutService(t *testing.T) {
	c := &Client{}
	if _, err := c.ExportExecution(context.Background(), testExecution("x", 1)); err == nil {
		t.Fatal("expected error without service")
	}
}

func TestNewRequiresSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}
