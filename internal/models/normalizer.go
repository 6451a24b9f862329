package models

import (
	"strings"
	"time"
)

// SupportedTimestampFormats lists formats we attempt to parse
var SupportedTimestampFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123,
	time.UnixDate,
}

// ParseTimestamp attempts to parse a timestamp string into time.Time.
// An empty string yields the zero time.
func ParseTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, nil
	}

	for _, format := range SupportedTimestampFormats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// SensorIDFromTopic extracts the sensor segment from an MQTT topic such
// as "stockease/sensors/SENSOR_01/weight" given the subscription pattern
// "stockease/sensors/+/weight". It returns "" when the topic does not match.
func SensorIDFromTopic(pattern, topic string) string {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")
	if len(p) != len(t) {
		return ""
	}

	id := ""
	for i := range p {
		switch p[i] {
		case "+":
			if id == "" {
				id = t[i]
			}
		case t[i]:
		default:
			return ""
		}
	}
	return strings.TrimSpace(id)
}
