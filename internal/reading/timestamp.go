package reading

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// TimestampKeys are the field names a record may carry its sample time
// under, in order of preference.
var TimestampKeys = []string{"timestamp", "time", "ts"}

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// Any epoch value above it is treated as milliseconds.
const epochMillisThreshold = 1e12

// maxEpochMillis is 9999-12-31T23:59:59.999Z. Later instants are rejected so
// every stored timestamp keeps a four-digit year.
const maxEpochMillis = 253402300799999

// fallbackLayouts are tried after ISO-8601 fails. All are parsed as UTC.
var fallbackLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"02 Jan 2006 15:04:05",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006",
}

// TimestampCandidate returns the first non-null value stored under one of
// TimestampKeys, or nil.
func TimestampCandidate(fields map[string]any) any {
	for _, k := range TimestampKeys {
		if v, ok := fields[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// ParseTimestamp interprets raw as an instant. It accepts epoch seconds or
// milliseconds (numbers or numeric strings), ISO-8601 with or without a zone
// marker, and a handful of common textual layouts. The result is UTC.
// Empty, zero, boolean and unparsable values report false.
func ParseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil, bool:
		return time.Time{}, false
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpoch(f)
	case float64:
		return fromEpoch(v)
	case float32:
		return fromEpoch(float64(v))
	case int:
		return fromEpoch(float64(v))
	case int64:
		return fromEpoch(float64(v))
	case string:
		return parseTimestampString(v)
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v.UTC(), true
	}
	return time.Time{}, false
}

func parseTimestampString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(f)
	}
	if t, err := iso8601.ParseString(s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func fromEpoch(f float64) (time.Time, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return time.Time{}, false
	}
	if f > epochMillisThreshold {
		if f > maxEpochMillis {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(f)).UTC(), true
	}
	if f*1000 > maxEpochMillis {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC(), true
}
