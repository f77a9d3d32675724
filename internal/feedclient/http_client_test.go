package feedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pv/sensorhub-go/internal/ingest"
)

func sampleRaw() ingest.RawReading {
	temp := 22.5
	moisture := 48.0
	motor := true
	rain := false
	return ingest.RawReading{
		Temperature:   &temp,
		MoistureLevel: &moisture,
		MotorStatus:   &motor,
		RainDetected:  &rain,
	}
}

func TestHTTPClientSend(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := &HTTPClient{BaseURL: srv.URL}
	if err := client.Send(context.Background(), sampleRaw()); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if gotPath != "/api/sensor_data" {
		t.Fatalf("got path %q, want /api/sensor_data", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("got Content-Type %q, want application/json", gotContentType)
	}

	var decoded ingest.RawReading
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode request body: %v", err)
	}
	if decoded.Temperature == nil || *decoded.Temperature != 22.5 {
		t.Fatalf("unexpected temperature in body: %s", gotBody)
	}
	if decoded.RainDetected == nil || *decoded.RainDetected {
		t.Fatalf("expected rain_data=false in body: %s", gotBody)
	}
}

func TestHTTPClientSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message": "Invalid sensor data format"}`))
	}))
	defer srv.Close()

	client := &HTTPClient{BaseURL: srv.URL}
	err := client.Send(context.Background(), sampleRaw())
	if err == nil {
		t.Fatalf("expected error on 400 response")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status in error, got %v", err)
	}
}

func TestHTTPClientSendNoBaseURL(t *testing.T) {
	client := &HTTPClient{}
	if err := client.Send(context.Background(), sampleRaw()); err == nil {
		t.Fatalf("expected error on empty BaseURL")
	}
}

func TestStdoutClient(t *testing.T) {
	var buf bytes.Buffer
	client := &StdoutClient{Writer: &buf}
	if err := client.Send(context.Background(), sampleRaw()); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "temp=22.5") || !strings.Contains(out, "rain=false") {
		t.Fatalf("unexpected output: %q", out)
	}

	raw := sampleRaw()
	raw.MotorStatus = nil
	buf.Reset()
	if err := client.Send(context.Background(), raw); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "motor=<unset>") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
