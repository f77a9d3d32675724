package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/pv/sensorhub-go/internal/storage"
	"github.com/pv/sensorhub-go/internal/storage/memstore"
)

func fullRaw() RawReading {
	temp := 24.5
	moisture := 61.0
	motor := false
	rain := false
	return RawReading{
		Temperature:   &temp,
		MoistureLevel: &moisture,
		MotorStatus:   &motor,
		RainDetected:  &rain,
	}
}

func TestValidateMissingFields(t *testing.T) {
	cases := []struct {
		field string
		strip func(*RawReading)
	}{
		{"temperature", func(r *RawReading) { r.Temperature = nil }},
		{"moisture_level", func(r *RawReading) { r.MoistureLevel = nil }},
		{"motor_status", func(r *RawReading) { r.MotorStatus = nil }},
		{"rain_data", func(r *RawReading) { r.RainDetected = nil }},
	}
	for _, c := range cases {
		raw := fullRaw()
		c.strip(&raw)
		_, err := Validate(raw)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("missing %s: expected ValidationError, got %v", c.field, err)
		}
		if verr.Field != c.field {
			t.Fatalf("expected field %q in error, got %q", c.field, verr.Field)
		}
	}
}

// Явный false и 0 — валидные значения, а не отсутствующие поля.
func TestValidateAcceptsZeroValues(t *testing.T) {
	temp := 0.0
	moisture := 0.0
	motor := false
	rain := false
	raw := RawReading{
		Temperature:   &temp,
		MoistureLevel: &moisture,
		MotorStatus:   &motor,
		RainDetected:  &rain,
	}
	r, err := Validate(raw)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if r.Temperature != 0 || r.MoistureLevel != 0 || r.MotorStatus || r.RainDetected {
		t.Fatalf("unexpected reading: %#v", r)
	}
}

type countingNotifier struct {
	calls int
	last  storage.Reading
}

func (n *countingNotifier) NotifyNewReading(r storage.Reading) {
	n.calls++
	n.last = r
}

type failingStore struct{}

func (failingStore) Insert(ctx context.Context, r storage.Reading) (storage.Reading, error) {
	return storage.Reading{}, errors.New("disk is full")
}

func (failingStore) Latest(ctx context.Context) (storage.Reading, error) {
	return storage.Reading{}, storage.ErrNoReadings
}

func (failingStore) History(ctx context.Context) ([]storage.Reading, error) {
	return nil, errors.New("disk is full")
}

func TestIngestValid(t *testing.T) {
	store := memstore.New()
	notifier := &countingNotifier{}
	svc := &Service{Store: store, Hub: notifier}

	saved, err := svc.Ingest(context.Background(), fullRaw())
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	if saved.ID == "" {
		t.Fatalf("expected assigned ID")
	}
	if store.Count() != 1 {
		t.Fatalf("expected 1 stored reading, got %d", store.Count())
	}
	if notifier.calls != 1 {
		t.Fatalf("expected 1 notification, got %d", notifier.calls)
	}
	if notifier.last.ID != saved.ID {
		t.Fatalf("notifier got reading %q, want %q", notifier.last.ID, saved.ID)
	}
}

func TestIngestInvalidPayload(t *testing.T) {
	store := memstore.New()
	notifier := &countingNotifier{}
	svc := &Service{Store: store, Hub: notifier}

	raw := fullRaw()
	raw.Temperature = nil
	_, err := svc.Ingest(context.Background(), raw)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if store.Count() != 0 {
		t.Fatalf("invalid payload must not be stored, got %d records", store.Count())
	}
	if notifier.calls != 0 {
		t.Fatalf("invalid payload must not be broadcast, got %d calls", notifier.calls)
	}
}

func TestIngestStoreFailure(t *testing.T) {
	notifier := &countingNotifier{}
	svc := &Service{Store: failingStore{}, Hub: notifier}

	_, err := svc.Ingest(context.Background(), fullRaw())
	if err == nil {
		t.Fatalf("expected error from failing store")
	}
	if notifier.calls != 0 {
		t.Fatalf("failed save must not be broadcast, got %d calls", notifier.calls)
	}
}

func TestIngestWithoutHub(t *testing.T) {
	svc := &Service{Store: memstore.New()}
	if _, err := svc.Ingest(context.Background(), fullRaw()); err != nil {
		t.Fatalf("Ingest without hub returned error: %v", err)
	}
}
