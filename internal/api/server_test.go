package api

import (
	"encoding/csv"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/storage"
)

func seedCalibration() *models.Calibration {
	baseline := make(models.Baseline)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if wd == time.Tuesday {
			continue
		}
		baseline[wd] = models.DayBaseline{Weekday: wd, Amount: 50000, Samples: 6}
	}
	baseline[time.Saturday] = models.DayBaseline{Weekday: time.Saturday, Amount: 74934, Samples: 6}

	return &models.Calibration{
		ID:        "cal-1",
		CreatedAt: time.Date(2025, time.July, 30, 0, 0, 0, 0, time.UTC),
		Baseline:  baseline,
		Shares:    models.GarageShares{"Millennium": 0.6, "Lakeside": 0.4},
		Multipliers: models.MultiplierTable{
			models.Lollapalooza: {Category: models.Lollapalooza, Validated: 1.67, Conservative: 1.402, Samples: 8},
		},
	}
}

func newTestServer(t *testing.T, seed bool) *Server {
	t.Helper()
	store, err := storage.New(":memory:", 5)
	if err != nil {
		t.Fatalf("storage.New failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if seed {
		if err := store.SaveCalibration(seedCalibration()); err != nil {
			t.Fatalf("SaveCalibration failed: %v", err)
		}
	}

	day := models.Date(2025, time.August, 2)
	events, err := calendar.New([]models.Event{
		{Name: "Lollapalooza", Category: models.Lollapalooza, Start: day, End: day},
	})
	if err != nil {
		t.Fatalf("calendar.New failed: %v", err)
	}

	return NewServer(Deps{
		Store:    store,
		Events:   events,
		Options:  forecast.DefaultOptions(),
		SaveRuns: true,
	})
}

func do(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(t, true)

	tests := []struct {
		name       string
		path       string
		statusCode int
	}{
		{"Ping", "/ping", http.StatusOK},
		{"Latest calibration", "/v1/calibration", http.StatusOK},
		{"Calibration by id", "/v1/calibrations/cal-1", http.StatusOK},
		{"Unknown calibration", "/v1/calibrations/nope", http.StatusNotFound},
		{"Forecast", "/v1/forecast?start=2025-08-01&days=3", http.StatusOK},
		{"Conservative forecast", "/v1/forecast?start=2025-08-01&days=3&mode=conservative", http.StatusOK},
		{"Bad start", "/v1/forecast?start=08/01/2025", http.StatusBadRequest},
		{"Bad days", "/v1/forecast?start=2025-08-01&days=week", http.StatusBadRequest},
		{"Zero days", "/v1/forecast?start=2025-08-01&days=0", http.StatusBadRequest},
		{"Too many days", "/v1/forecast?start=2025-08-01&days=400", http.StatusBadRequest},
		{"Bad mode", "/v1/forecast?start=2025-08-01&mode=optimistic", http.StatusBadRequest},
		{"Missing baseline", "/v1/forecast?start=2025-08-04&days=2", http.StatusUnprocessableEntity},
		{"Unknown run", "/v1/forecasts/nope", http.StatusNotFound},
		{"Invalid route", "/invalid", http.StatusNotFound},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rr := do(s, test.path)
			if rr.Code != test.statusCode {
				t.Errorf("Expected status %d, got %d: %s", test.statusCode, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestServer_NoCalibration(t *testing.T) {
	s := newTestServer(t, false)

	if rr := do(s, "/v1/calibration"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without calibration, got %d", rr.Code)
	}
	if rr := do(s, "/v1/forecast?start=2025-08-01"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 forecasting without calibration, got %d", rr.Code)
	}
}

func TestServer_ForecastBody(t *testing.T) {
	s := newTestServer(t, true)

	rr := do(s, "/v1/forecast?start=2025-08-02&days=1")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var run models.ForecastRun
	if err := json.NewDecoder(rr.Body).Decode(&run); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(run.Rows) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(run.Rows))
	}
	row := run.Rows[0]
	if math.Abs(row.PredictedTotal-74934*1.67) > 1e-6 {
		t.Errorf("Expected %.2f, got %.2f", 74934*1.67, row.PredictedTotal)
	}
	if row.EventCategory == nil || *row.EventCategory != models.Lollapalooza {
		t.Errorf("Expected Lollapalooza category, got %v", row.EventCategory)
	}

	// the run was persisted and is listed
	rr = do(s, "/v1/forecasts")
	var summaries []storage.RunSummary
	if err := json.NewDecoder(rr.Body).Decode(&summaries); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(summaries) != 1 || summaries[0].ID != run.ID {
		t.Fatalf("Expected stored run %s, got %+v", run.ID, summaries)
	}
	if rr := do(s, "/v1/forecasts/"+run.ID); rr.Code != http.StatusOK {
		t.Errorf("Expected stored run to be retrievable, got %d", rr.Code)
	}
}

func TestServer_ForecastCSV(t *testing.T) {
	s := newTestServer(t, true)

	rr := do(s, "/v1/forecast?start=2025-08-01&days=2&format=csv")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}

	records, err := csv.NewReader(strings.NewReader(rr.Body.String())).ReadAll()
	if err != nil {
		t.Fatalf("csv parse failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header and 2 rows, got %d", len(records))
	}
	header := records[0]
	if header[len(header)-2] != "Lakeside_revenue" || header[len(header)-1] != "Millennium_revenue" {
		t.Errorf("Unexpected garage columns: %v", header)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&models.ConfigurationError{Reason: "x"}, http.StatusBadRequest},
		{&models.MissingBaselineError{Weekday: time.Tuesday}, http.StatusUnprocessableEntity},
		{storage.ErrNotFound, http.StatusNotFound},
		{json.Unmarshal([]byte("{"), &struct{}{}), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
