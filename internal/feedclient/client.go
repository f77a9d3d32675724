package feedclient

import (
	"context"
	"fmt"
	"io"

	"github.com/pv/sensorhub-go/internal/ingest"
)

// Client отправляет показания в приёмный API хаба.
type Client interface {
	Send(ctx context.Context, raw ingest.RawReading) error
}

// StdoutClient — заглушка, печатающая показания в writer.
type StdoutClient struct {
	Writer io.Writer
}

func (c *StdoutClient) Send(_ context.Context, raw ingest.RawReading) error {
	if c.Writer == nil {
		return fmt.Errorf("stdout client: writer is not set")
	}
	_, err := fmt.Fprintf(c.Writer, "READING temp=%v moisture=%v motor=%v rain=%v\n",
		deref(raw.Temperature), deref(raw.MoistureLevel), deref(raw.MotorStatus), deref(raw.RainDetected))
	return err
}

func deref[T any](p *T) any {
	if p == nil {
		return "<unset>"
	}
	return *p
}
