package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"
)

type fakeSheetsAPI struct {
	mu       sync.Mutex
	titles   []string
	values   map[string][][]string
	requests []string
	bodies   []string
	failures int
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.bodies = append(f.bodies, string(body))
	w.Header().Set("Content-Type", "application/json")

	if f.failures > 0 {
		f.failures--
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded for quota metric 'Write requests'","status":"RESOURCE_EXHAUSTED"}}`)
		return
	}

	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(path, "/spreadsheets/sheet-id"):
		type props struct {
			Title string `json:"title"`
		}
		type sheet struct {
			Properties props `json:"properties"`
		}
		out := struct {
			Sheets []sheet `json:"sheets"`
		}{}
		for _, title := range f.titles {
			out.Sheets = append(out.Sheets, sheet{Properties: props{Title: title}})
		}
		_ = json.NewEncoder(w).Encode(out)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/spreadsheets/sheet-id:batchUpdate"):
		var req struct {
			Requests []struct {
				AddSheet struct {
					Properties struct {
						Title string `json:"title"`
					} `json:"properties"`
				} `json:"addSheet"`
			} `json:"requests"`
		}
		_ = json.Unmarshal(body, &req)
		for _, item := range req.Requests {
			f.titles = append(f.titles, item.AddSheet.Properties.Title)
		}
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		name := sheetFromRange(path[strings.Index(path, "/values/")+len("/values/"):])
		out := map[string]any{"range": name, "majorDimension": "ROWS", "values": f.values[name]}
		_ = json.NewEncoder(w).Encode(out)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		name := sheetFromRange(strings.TrimSuffix(path[strings.Index(path, "/values/")+len("/values/"):], ":append"))
		var req struct {
			Values [][]string `json:"values"`
		}
		_ = json.Unmarshal(body, &req)
		f.values[name] = append(f.values[name], req.Values...)
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/values:batchUpdate"):
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":clear"):
		name := sheetFromRange(strings.TrimSuffix(path[strings.Index(path, "/values/")+len("/values/"):], ":clear"))
		delete(f.values, name)
		_, _ = io.WriteString(w, `{}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":404,"message":"not found"}}`)
	}
}

func sheetFromRange(rng string) string {
	if idx := strings.Index(rng, "!"); idx >= 0 {
		rng = rng[:idx]
	}
	return strings.ReplaceAll(strings.Trim(rng, "'"), "''", "'")
}

func newFakeSheets(t *testing.T, api *fakeSheetsAPI, sleeps *[]time.Duration) *SheetsWorkbook {
	t.Helper()
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)
	sleeper := func(_ context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	wb, err := OpenSheetsWithOptions(context.Background(), "sheet-id",
		[]SheetsOption{WithSheetsSleeper(sleeper)},
		option.WithEndpoint(server.URL+"/"),
		option.WithHTTPClient(server.Client()),
	)
	if err != nil {
		t.Fatalf("OpenSheetsWithOptions: %v", err)
	}
	return wb
}

func TestSheetsTableCreatesMissingWorksheet(t *testing.T) {
	api := &fakeSheetsAPI{titles: []string{"기사"}, values: map[string][][]string{}}
	var sleeps []time.Duration
	wb := newFakeSheets(t, api, &sleeps)
	ctx := context.Background()

	if _, err := wb.Table(ctx, "기사"); err != nil {
		t.Fatalf("Table existing: %v", err)
	}
	if _, err := wb.Table(ctx, "결과"); err != nil {
		t.Fatalf("Table missing: %v", err)
	}
	names, err := wb.Tables(ctx)
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"기사", "결과"}) {
		t.Fatalf("unexpected worksheets %v", names)
	}

	adds := 0
	for _, req := range api.requests {
		if strings.HasSuffix(req, ":batchUpdate") {
			adds++
		}
	}
	if adds != 1 {
		t.Fatalf("expected exactly one addSheet request, got %d (%v)", adds, api.requests)
	}
}

func TestSheetsAppendValuesUpdateClear(t *testing.T) {
	api := &fakeSheetsAPI{titles: []string{"It's"}, values: map[string][][]string{}}
	var sleeps []time.Duration
	wb := newFakeSheets(t, api, &sleeps)
	ctx := context.Background()

	table, err := wb.Table(ctx, "It's")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if err := table.Append(ctx, [][]string{{"경쟁사", "제목"}, {"Acme", "news"}}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	values, err := table.Values(ctx)
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if !reflect.DeepEqual(values, [][]string{{"경쟁사", "제목"}, {"Acme", "news"}}) {
		t.Fatalf("unexpected values %v", values)
	}

	if err := table.Update(ctx, []CellUpdate{{Row: 2, Col: 3, Value: "DONE"}}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	last := api.bodies[len(api.bodies)-1]
	if !strings.Contains(last, `"valueInputOption":"RAW"`) || !strings.Contains(last, `'It''s'!C2`) {
		t.Fatalf("unexpected batch update body %s", last)
	}

	if err := table.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	values, err = table.Values(ctx)
	if err != nil {
		t.Fatalf("Values after clear: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected cleared worksheet, got %v", values)
	}
	if len(sleeps) != 0 {
		t.Fatalf("unexpected backoff sleeps %v", sleeps)
	}
}

func TestSheetsRetriesQuotaErrors(t *testing.T) {
	api := &fakeSheetsAPI{titles: []string{"s"}, values: map[string][][]string{}}
	var sleeps []time.Duration
	wb := newFakeSheets(t, api, &sleeps)
	ctx := context.Background()

	table, err := wb.Table(ctx, "s")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	api.mu.Lock()
	api.failures = 2
	api.mu.Unlock()
	if err := table.Append(ctx, [][]string{{"x"}}); err != nil {
		t.Fatalf("Append after quota errors: %v", err)
	}
	if !reflect.DeepEqual(sleeps, []time.Duration{2 * time.Second, 4 * time.Second}) {
		t.Fatalf("unexpected backoff sleeps %v", sleeps)
	}
}

func TestSheetsDoesNotRetryNotFound(t *testing.T) {
	api := &fakeSheetsAPI{titles: []string{"s"}, values: map[string][][]string{}}
	var sleeps []time.Duration
	wb := newFakeSheets(t, api, &sleeps)
	wb.spreadsheetID = "missing"
	if _, err := wb.Tables(context.Background()); err == nil {
		t.Fatal("expected error for unknown spreadsheet")
	}
	if len(sleeps) != 0 {
		t.Fatalf("404 must not be retried, slept %v", sleeps)
	}
}

func TestOpenSheetsRequiresIdentifiers(t *testing.T) {
	if _, err := OpenSheets(context.Background(), "", "creds.json"); err == nil {
		t.Fatal("expected error without spreadsheet id")
	}
	if _, err := OpenSheets(context.Background(), "id", " "); err == nil {
		t.Fatal("expected error without credentials file")
	}
}
