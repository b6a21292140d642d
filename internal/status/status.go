// Package status provides a thread-safe view of ingestion activity for the
// ward-monitor daemon. It is read by HTTP handlers and lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/ward-monitor/internal/ingest"
	"github.com/sweeney/ward-monitor/internal/reading"
)

// DefaultRecentRejections is how many rejection messages a Tracker keeps.
const DefaultRecentRejections = 20

// Config contains daemon configuration for display.
type Config struct {
	StorageMode string
	Broker      string
	KafkaTopic  string // empty when the Kafka consumer is disabled
	HTTPAddr    string
}

// Counts tallies ingestion outcomes.
type Counts struct {
	Accepted       int
	EmptyPayload   int
	MalformedInput int
	StorageFailure int
}

// Rejection is one rejected payload.
type Rejection struct {
	Time    time.Time
	Reason  string
	Message string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Counts         Counts
	LastAccepted   time.Time // zero until the first reading
	LastDevice     string
	Recent         []Rejection // oldest first
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	KafkaConnected bool
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex. It implements
// ingest.Listener and ingest.RejectListener.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	recent int
	now    func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		recent: DefaultRecentRejections,
		now:    time.Now,
	}
}

var (
	_ ingest.Listener       = (*Tracker)(nil)
	_ ingest.RejectListener = (*Tracker)(nil)
)

// Accepted records an accepted reading.
func (t *Tracker) Accepted(r reading.Reading) {
	t.mu.Lock()
	t.snap.Counts.Accepted++
	t.snap.LastAccepted = t.now()
	t.snap.LastDevice = r.DeviceID
	t.mu.Unlock()
}

// Rejected records a rejected payload and keeps its message in the recent
// ring.
func (t *Tracker) Rejected(reason string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch reason {
	case ingest.ReasonEmptyPayload:
		t.snap.Counts.EmptyPayload++
	case ingest.ReasonMalformedInput:
		t.snap.Counts.MalformedInput++
	default:
		t.snap.Counts.StorageFailure++
	}

	recent := append(t.snap.Recent, Rejection{Time: t.now(), Reason: reason, Message: msg})
	if len(recent) > t.recent {
		recent = append([]Rejection(nil), recent[len(recent)-t.recent:]...)
	}
	t.snap.Recent = recent
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetKafkaConnected sets the Kafka consumer status.
func (t *Tracker) SetKafkaConnected(connected bool) {
	t.mu.Lock()
	t.snap.KafkaConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Recent = append([]Rejection(nil), t.snap.Recent...)
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
