// Package mqtt connects ward-monitor to an MQTT broker: it subscribes to
// the telemetry topic for ingestion, publishes readings for the simulator
// and publishes daemon lifecycle events. Real and fake clients share the
// same interfaces so callers can be tested without a broker.
package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/ingest"
	"github.com/sweeney/ward-monitor/internal/reading"
)

// TopicReadings is the MQTT topic telemetry readings arrive on.
const TopicReadings = "ward/telemetry/readings"

// TopicSystem is the MQTT topic for daemon lifecycle events.
const TopicSystem = "ward/monitor/system"

// Publisher publishes readings and system events.
type Publisher interface {
	// Publish sends a reading to the readings topic.
	// Returns error if publishing fails (should not crash the process).
	Publish(r reading.Reading) error

	// PublishSystem sends a lifecycle event to the system topic.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// Handler receives the raw payload of one message.
type Handler func(payload []byte)

// Subscriber delivers messages from a topic to a Handler.
type Subscriber interface {
	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(topic string, h Handler) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a lifecycle event (e.g. startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// FormatPayload creates the JSON payload for a reading. It is the same
// document the HTTP ingestion endpoint accepts.
func FormatPayload(r reading.Reading) ([]byte, error) {
	return json.Marshal(r)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// Ingester is the part of the ingestion service a subscription feeds.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (reading.Reading, error)
}

// IngestHandler returns a Handler that passes every payload to ing.
// Rejections are logged and never stop the subscription.
func IngestHandler(ctx context.Context, ing Ingester, logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(payload []byte) {
		if _, err := ing.Ingest(ctx, payload); err != nil {
			logger.Warn("mqtt reading rejected",
				zap.String("reason", ingest.Reason(err)),
				zap.Int("bytes", len(payload)),
				zap.Error(err))
		}
	}
}
