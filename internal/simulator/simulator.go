// Package simulator produces plausible ward sensor readings and sends them
// to ward-monitor over MQTT or HTTP.
package simulator

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/reading"
)

// DefaultDeviceID identifies simulated readings.
const DefaultDeviceID = "simulator-001"

// DefaultInterval is the pause between sends.
const DefaultInterval = 5 * time.Second

// Sender delivers one reading.
type Sender interface {
	Send(ctx context.Context, r reading.Reading) error
}

// Generate returns one reading stamped with now.
func Generate(rng *rand.Rand, deviceID string, now time.Time) reading.Reading {
	temperature := round(uniform(rng, 20, 28)+uniform(rng, -0.4, 0.4), 1)
	humidity := math.Round(uniform(rng, 30, 70) + uniform(rng, -1, 1))
	oxygen := math.Round(uniform(rng, 88, 99))
	co2 := int64(math.Max(350, rng.NormFloat64()*350+800))

	instant := round(uniform(rng, 0.2, 3.5), 2)
	total := round(uniform(rng, 0.5, 10), 2)
	peak := round(math.Max(instant, uniform(rng, 1.0, 3.8)), 2)

	return reading.Reading{
		DeviceID:    deviceID,
		Timestamp:   now.UTC(),
		Temperature: &temperature,
		Humidity:    &humidity,
		Oxygen:      &oxygen,
		CO2:         &co2,
		Energy: reading.Energy{
			Instant: &instant,
			Total:   &total,
			Peak:    &peak,
		},
	}
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Run sends readings from DefaultDeviceID through s. See Runner.Run.
func Run(ctx context.Context, s Sender, interval time.Duration, once bool) error {
	r := &Runner{Sender: s, Interval: interval}
	return r.Run(ctx, once)
}

// Runner sends generated readings on a fixed interval.
type Runner struct {
	Sender   Sender
	DeviceID string
	Interval time.Duration
	Rand     *rand.Rand
	Now      func() time.Time
	Logger   *zap.Logger
}

// Run sends one reading immediately and then one per interval until ctx
// is cancelled. With once set it returns after the first send, reporting
// its error. Send failures in continuous mode are logged and do not stop
// the loop.
func (r *Runner) Run(ctx context.Context, once bool) error {
	r.defaults()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		rd := Generate(r.Rand, r.DeviceID, r.Now())
		err := r.Sender.Send(ctx, rd)
		if once {
			return err
		}
		if err != nil {
			r.Logger.Warn("simulator send failed", zap.Error(err))
		} else {
			r.Logger.Info("simulator sent reading",
				zap.String("device_id", rd.DeviceID),
				zap.Time("timestamp", rd.Timestamp))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Runner) defaults() {
	if r.DeviceID == "" {
		r.DeviceID = DefaultDeviceID
	}
	if r.Interval <= 0 {
		r.Interval = DefaultInterval
	}
	if r.Rand == nil {
		r.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
}
