package reading

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotObject is returned by Decode when the input is valid JSON but not an
// object.
var ErrNotObject = errors.New("payload is not a JSON object")

// deviceKeys are accepted names for the device identifier, in order.
var deviceKeys = []string{"device_id", "sensor_id", "device"}

// Decode parses raw as a JSON object, keeping numbers as json.Number so no
// precision is lost before coercion.
func Decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode json: trailing data after value")
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return fields, nil
}

// FromMap converts a decoded record into a Reading. Missing or non-numeric
// fields become nil. The returned bool reports whether a usable timestamp
// was found; when it is false, Timestamp is the zero time and the caller
// decides what to assign.
func FromMap(fields map[string]any) (Reading, bool) {
	r := Reading{
		DeviceID:    deviceID(fields),
		Temperature: toFloat(fields["temperature"]),
		Humidity:    toFloat(fields["humidity"]),
		Oxygen:      toFloat(fields["oxygen"]),
		CO2:         toInt(fields["co2"]),
	}

	if energy, ok := fields["energy"].(map[string]any); ok {
		r.Energy = Energy{
			Instant: toFloat(energy["instant"]),
			Total:   toFloat(energy["total"]),
			Peak:    toFloat(energy["peak"]),
		}
	}

	if t, ok := ParseTimestamp(fields["received_at"]); ok {
		t = t.Truncate(time.Second)
		r.ReceivedAt = &t
	}

	ts, ok := ParseTimestamp(TimestampCandidate(fields))
	if ok {
		r.Timestamp = ts
	}
	return r, ok
}

func deviceID(fields map[string]any) string {
	for _, k := range deviceKeys {
		switch v := fields[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func toFloat(v any) *float64 {
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toInt(v any) *int64 {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return &i
		}
	}
	f := toFloat(v)
	if f == nil {
		return nil
	}
	rounded := math.Round(*f)
	if rounded > math.MaxInt64 || rounded < math.MinInt64 {
		return nil
	}
	i := int64(rounded)
	return &i
}
