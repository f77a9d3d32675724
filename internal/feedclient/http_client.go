package feedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pv/sensorhub-go/internal/ingest"
)

// HTTPClient отправляет показания в hub API (POST /api/sensor_data).
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
	Logger  *log.Logger

	mu            sync.Mutex
	totalDuration time.Duration
	totalCalls    int64
}

// Send переводит показание в POST-запрос приёмного API.
func (c *HTTPClient) Send(ctx context.Context, raw ingest.RawReading) error {
	if c == nil {
		return fmt.Errorf("http client: nil receiver")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("http client: BaseURL is empty")
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint, err := joinURL(c.BaseURL, "/api/sensor_data")
	if err != nil {
		return err
	}
	body, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("http client: marshal reading: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http client: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Printf("hub error: %v (elapsed %s)", err, time.Since(start))
		}
		return fmt.Errorf("http client: do request: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	if c.Logger != nil {
		c.mu.Lock()
		c.totalDuration += elapsed
		c.totalCalls++
		avg := time.Duration(int64(c.totalDuration) / c.totalCalls)
		c.Logger.Printf("hub POST %s -> %s (%s, avg %s over %d calls)",
			endpoint, resp.Status, elapsed, avg, c.totalCalls)
		c.mu.Unlock()
	}

	if resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if c.Logger != nil {
			c.Logger.Printf("hub error body: %s", strings.TrimSpace(string(errBody)))
		}
		return fmt.Errorf("http client: ingest failed: status=%s body=%s", resp.Status, strings.TrimSpace(string(errBody)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func joinURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("http client: parse base URL: %w", err)
	}
	joined, err := url.JoinPath(u.String(), path)
	if err != nil {
		return "", fmt.Errorf("http client: join path: %w", err)
	}
	return joined, nil
}
