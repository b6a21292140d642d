package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string          `json:"event,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartTime     string          `json:"start_time"`
	Timestamp     string          `json:"timestamp"`
	LastAccepted  string          `json:"last_accepted,omitempty"`
	LastDevice    string          `json:"last_device,omitempty"`
	MQTT          MQTTStatus      `json:"mqtt"`
	Kafka         *KafkaStatus    `json:"kafka,omitempty"`
	Counts        CountsJSON      `json:"ingest_counts"`
	Recent        []RejectionJSON `json:"recent_rejections,omitempty"`
	Config        ConfigJSON      `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// KafkaStatus reports Kafka consumer state.
type KafkaStatus struct {
	Connected bool   `json:"connected"`
	Topic     string `json:"topic"`
}

// CountsJSON is the JSON representation of ingestion counts.
type CountsJSON struct {
	Accepted       int `json:"accepted"`
	EmptyPayload   int `json:"empty_payload"`
	MalformedInput int `json:"malformed_input"`
	StorageFailure int `json:"storage_failure"`
}

// RejectionJSON is one entry of the recent rejection list.
type RejectionJSON struct {
	Time    string `json:"time"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	StorageMode string `json:"storage_mode"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		LastDevice:    snap.LastDevice,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Accepted:       snap.Counts.Accepted,
			EmptyPayload:   snap.Counts.EmptyPayload,
			MalformedInput: snap.Counts.MalformedInput,
			StorageFailure: snap.Counts.StorageFailure,
		},
		Config: ConfigJSON{
			StorageMode: snap.Config.StorageMode,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if !snap.LastAccepted.IsZero() {
		inner.LastAccepted = snap.LastAccepted.UTC().Format(time.RFC3339)
	}
	if snap.Config.KafkaTopic != "" {
		inner.Kafka = &KafkaStatus{Connected: snap.KafkaConnected, Topic: snap.Config.KafkaTopic}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint, including the
// recent rejections.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	for _, r := range snap.Recent {
		inner.Recent = append(inner.Recent, RejectionJSON{
			Time:    r.Time.UTC().Format(time.RFC3339),
			Reason:  r.Reason,
			Message: r.Message,
		})
	}

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
