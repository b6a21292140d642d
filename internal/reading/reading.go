// Package reading defines the canonical telemetry reading shared by every
// ingestion source, storage backend and read path.
// This package has NO I/O; time is always passed in by the caller.
package reading

import "time"

// Energy holds the electrical measurements of one sample.
type Energy struct {
	Instant *float64 `json:"instant"`
	Total   *float64 `json:"total"`
	Peak    *float64 `json:"peak"`
}

// Reading is one sensor sample. A nil numeric field means "no value";
// it is never the same thing as zero.
type Reading struct {
	DeviceID    string     `json:"device_id,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	Temperature *float64   `json:"temperature"`
	Humidity    *float64   `json:"humidity"`
	Oxygen      *float64   `json:"oxygen"`
	CO2         *int64     `json:"co2"`
	Energy      Energy     `json:"energy"`
}

// StampReceived returns a copy of r with ReceivedAt set to now (UTC, second
// precision) unless it is already present.
func (r Reading) StampReceived(now time.Time) Reading {
	if r.ReceivedAt != nil {
		return r
	}
	t := now.UTC().Truncate(time.Second)
	r.ReceivedAt = &t
	return r
}

// Float returns a pointer to v. Handy for building readings in code.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }
