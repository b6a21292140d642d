package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sweeney/ward-monitor/internal/mqtt"
	"github.com/sweeney/ward-monitor/internal/reading"
)

// MQTTSender publishes readings through an MQTT publisher.
type MQTTSender struct {
	Publisher mqtt.Publisher
}

// Send publishes r.
func (s MQTTSender) Send(_ context.Context, r reading.Reading) error {
	return s.Publisher.Publish(r)
}

// HTTPSender posts readings to the ingestion endpoint.
type HTTPSender struct {
	URL    string
	Client *http.Client
}

// NewHTTPSender creates a sender for url with a 6 second timeout.
func NewHTTPSender(url string) *HTTPSender {
	return &HTTPSender{URL: url, Client: &http.Client{Timeout: 6 * time.Second}}
}

// Send posts r as JSON. Any non-2xx status is an error.
func (s *HTTPSender) Send(ctx context.Context, r reading.Reading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post reading: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
