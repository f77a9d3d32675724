package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pv/sensorhub-go/internal/ingest"
	"github.com/pv/sensorhub-go/internal/storage"
	"github.com/pv/sensorhub-go/internal/storage/memstore"
)

func newTestServer(t *testing.T) (*httptest.Server, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	hub := NewHub(store, time.Second)
	svc := &ingest.Service{Store: store, Hub: hub}
	srv := httptest.NewServer(NewServer(store, svc, hub).mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	return resp
}

func TestRootLiveness(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /: got status %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "Sensor Data API is running." {
		t.Fatalf("unexpected body: %q", body)
	}

	resp404, err := http.Get(srv.URL + "/no-such-page")
	if err != nil {
		t.Fatalf("GET /no-such-page failed: %v", err)
	}
	defer resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path: got status %d, want 404", resp404.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
}

func TestPostSensorData(t *testing.T) {
	srv, store := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/sensor_data",
		`{"temperature": 25.5, "moisture_level": 60, "motor_status": true, "rain_data": false}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}

	var reply struct {
		Message string          `json:"message"`
		Data    storage.Reading `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reply.Message != "Sensor data saved successfully!" {
		t.Fatalf("unexpected message: %q", reply.Message)
	}
	if reply.Data.ID == "" {
		t.Fatalf("expected assigned ID in response")
	}
	if reply.Data.Temperature != 25.5 || !reply.Data.MotorStatus || reply.Data.RainDetected {
		t.Fatalf("unexpected saved data: %#v", reply.Data)
	}
	if store.Count() != 1 {
		t.Fatalf("expected 1 stored reading, got %d", store.Count())
	}
}

func TestPostSensorDataInvalid(t *testing.T) {
	srv, store := newTestServer(t)

	cases := []string{
		`{"temperature": 25.5, "moisture_level": 60, "motor_status": true}`, // rain_data отсутствует
		`{"moisture_level": 60, "motor_status": true, "rain_data": false}`,
		`{not json`,
	}
	for _, body := range cases {
		resp := postJSON(t, srv.URL+"/api/sensor_data", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %q: got status %d, want 400", body, resp.StatusCode)
		}
		var reply map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		resp.Body.Close()
		if reply["message"] != "Invalid sensor data format" {
			t.Fatalf("unexpected message: %q", reply["message"])
		}
	}
	if store.Count() != 0 {
		t.Fatalf("invalid payloads must not be stored, got %d records", store.Count())
	}
}

// Явный false в полях — валидное значение, а не отсутствие поля.
func TestPostSensorDataExplicitFalse(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/sensor_data",
		`{"temperature": 0, "moisture_level": 0, "motor_status": false, "rain_data": false}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("got status %d, want 201", resp.StatusCode)
	}
}

func TestGetSensorData(t *testing.T) {
	srv, store := newTestServer(t)

	// Пустое хранилище: пустой массив, а не null.
	resp, err := http.Get(srv.URL + "/api/sensor_data")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	if !bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		t.Fatalf("expected JSON array, got %q", raw)
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := store.Insert(context.Background(), storage.Reading{
			Temperature: float64(20 + i),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("Insert returned error: %v", err)
		}
	}

	resp, err = http.Get(srv.URL + "/api/sensor_data")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	var readings []storage.Reading
	if err := json.NewDecoder(resp.Body).Decode(&readings); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}
	if readings[0].Temperature != 22 {
		t.Fatalf("expected newest reading first, got temperature %v", readings[0].Temperature)
	}
	for i := 1; i < len(readings); i++ {
		if readings[i].Timestamp.After(readings[i-1].Timestamp) {
			t.Fatalf("readings not sorted newest-first at %d", i)
		}
	}
}

func TestGetLatest(t *testing.T) {
	srv, store := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/sensor_data/latest")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("empty store: got status %d, want 404", resp.StatusCode)
	}

	saved, err := store.Insert(context.Background(), storage.Reading{Temperature: 19})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	resp, err = http.Get(srv.URL + "/api/sensor_data/latest")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got status %d, want 200", resp.StatusCode)
	}
	var latest storage.Reading
	if err := json.NewDecoder(resp.Body).Decode(&latest); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if latest.ID != saved.ID {
		t.Fatalf("got reading %q, want %q", latest.ID, saved.ID)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/sensor_data", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("got status %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/sensor_data", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("got status %d, want 405", resp.StatusCode)
	}
}
